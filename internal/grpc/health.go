package grpc

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the name reported through grpc.health.v1 next to the
// overall ("") status.
const ServiceName = "storefront.cart"

type Pinger interface {
	Ping(ctx context.Context) error
}

// NewServer builds the gRPC server with tracing, reflection and the standard
// health service registered.
func NewServer() (*gogrpc.Server, *health.Server) {
	srv := gogrpc.NewServer(
		gogrpc.StatsHandler(otelgrpc.NewServerHandler()),
	)

	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)
	reflection.Register(srv)

	return srv, healthSrv
}

// HealthReporter keeps the health status in line with the cart store.
type HealthReporter struct {
	health   *health.Server
	store    Pinger
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger
}

func NewHealthReporter(h *health.Server, store Pinger, interval time.Duration, log *slog.Logger) *HealthReporter {
	if log == nil {
		log = slog.Default()
	}
	timeout := interval / 2
	if timeout <= 0 || timeout > 5*time.Second {
		timeout = 5 * time.Second
	}
	return &HealthReporter{
		health:   h,
		store:    store,
		interval: interval,
		timeout:  timeout,
		log:      log,
	}
}

// Run checks once right away, then every interval until ctx is done.
func (r *HealthReporter) Run(ctx context.Context) {
	r.check(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.check(ctx)
		}
	}
}

func (r *HealthReporter) check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := r.store.Ping(ctx); err != nil {
		r.log.WarnContext(ctx, "store ping failed", slog.Any("error", err))
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}

	r.health.SetServingStatus("", status)
	r.health.SetServingStatus(ServiceName, status)
	return status
}
