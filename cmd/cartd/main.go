package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/go_cart/storefront-cart/internal/catalog"
	"github.com/fjod/go_cart/storefront-cart/internal/config"
	cartgrpc "github.com/fjod/go_cart/storefront-cart/internal/grpc"
	h "github.com/fjod/go_cart/storefront-cart/internal/http"
	"github.com/fjod/go_cart/storefront-cart/internal/logger"
	"github.com/fjod/go_cart/storefront-cart/internal/notify"
	"github.com/fjod/go_cart/storefront-cart/internal/poller"
	"github.com/fjod/go_cart/storefront-cart/internal/service"
	"github.com/fjod/go_cart/storefront-cart/internal/store"
	"github.com/fjod/go_cart/storefront-cart/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

const serviceName = "storefront-cart"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, cfg.LogLevel, cfg.LogFormat).With(slog.String("service", serviceName))
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("cart service failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("error shutting down tracer provider", slog.Any("error", err))
		}
	}()

	kv, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer kv.Close()

	cat, err := openCatalog(cfg)
	if err != nil {
		return err
	}

	notifiers := notify.Multi{notify.NewLogNotifier(log)}
	if cfg.KafkaEnabled() {
		kn := notify.NewKafkaNotifier(notify.NewKafkaWriter(cfg.KafkaBrokers, cfg.NotificationsTopic, log), log)
		defer kn.Close()
		notifiers = append(notifiers, kn)
	}

	registry := service.NewRegistry(cfg.CartKey, cfg.SessionIdleTTL, service.Deps{
		Store:          kv,
		Catalog:        cat,
		Notifier:       notifiers,
		Logger:         log,
		PersistTimeout: cfg.PersistTimeout,
		LoadTimeout:    cfg.RequestTimeout,
	})
	defer registry.Close()

	if cfg.KafkaEnabled() {
		p := poller.NewPoller(registry, poller.NewKafkaReader(cfg.KafkaBrokers, cfg.CheckoutTopic, cfg.KafkaGroupID), log)
		defer p.Close()
		go p.Run(ctx)
		log.Info("checkout poller started", slog.String("topic", cfg.CheckoutTopic))
	}

	// gRPC health
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	grpcServer, healthSrv := cartgrpc.NewServer()
	go cartgrpc.NewHealthReporter(healthSrv, kv, cfg.HealthInterval, log).Run(ctx)
	go func() {
		log.Info("gRPC health listening", slog.String("port", cfg.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("gRPC server error", slog.Any("error", err))
		}
	}()

	// HTTP API
	cartHandler := h.NewCartHandler(registry, cfg.RequestTimeout, log)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      h.NewRouter(cartHandler, cfg.RequestTimeout),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("cart API starting", slog.String("port", cfg.HTTPPort), slog.String("store", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		stop()
		grpcServer.GracefulStop()
		return fmt.Errorf("server error: %w", err)
	}
	stop()

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", slog.Any("error", err))
	}
	healthSrv.Shutdown()
	grpcServer.GracefulStop()

	log.Info("server exited")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.KVStore, error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		log.Info("connected to redis", slog.String("addr", cfg.RedisAddr))
		return store.NewRedisStore(client, cfg.CartTTL), nil

	case config.BackendMongo:
		db, err := store.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, err
		}
		s := store.NewMongoStore(db)
		if err := s.CreateIndexes(ctx, cfg.CartTTL); err != nil {
			s.Close()
			return nil, err
		}
		log.Info("connected to mongodb", slog.String("db", cfg.MongoDBName))
		return s, nil

	case config.BackendPostgres, config.BackendSQLite:
		driver, dsn := store.DriverPostgres, cfg.PostgresDSN
		if cfg.StoreBackend == config.BackendSQLite {
			driver, dsn = store.DriverSQLite, cfg.SQLitePath
		}
		s, err := store.OpenSQLStore(driver, dsn)
		if err != nil {
			return nil, err
		}
		if err := s.RunMigrations(cfg.MigrationsPath); err != nil {
			s.Close()
			return nil, err
		}
		log.Info("sql store ready", slog.String("driver", driver))
		return s, nil

	default:
		log.Warn("using in-memory store, carts are lost on restart")
		return store.NewMemoryStore(), nil
	}
}

func openCatalog(cfg *config.Config) (catalog.Client, error) {
	if cfg.CatalogURL != "" {
		return catalog.NewHTTPClient(cfg.CatalogURL, catalog.HTTPClientOptions{
			Timeout:     cfg.CatalogTimeout,
			MaxFailures: cfg.BreakerMaxFailures,
			OpenTimeout: cfg.BreakerOpenTimeout,
		}), nil
	}

	mem := catalog.NewMemoryCatalog()
	if cfg.CatalogSeedFile != "" {
		if err := mem.LoadSeedFile(cfg.CatalogSeedFile); err != nil {
			return nil, err
		}
	}
	return mem, nil
}
