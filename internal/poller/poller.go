package poller

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/fjod/go_cart/storefront-cart/internal/service"
	"github.com/segmentio/kafka-go"
)

const readErrorBackoff = time.Second

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// CheckoutEvent is the part of a checkout-outbox record the cart cares about.
type CheckoutEvent struct {
	CheckoutID string `json:"checkout_id"`
	UserID     string `json:"user_id"`
}

// Poller empties a shopper's cart once their checkout completes.
type Poller struct {
	registry *service.Registry
	reader   messageReader
	log      *slog.Logger
}

func NewPoller(registry *service.Registry, reader messageReader, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	return &Poller{registry: registry, reader: reader, log: log.With(slog.String("component", "poller"))}
}

func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
}

func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		p.pollOnce(ctx)
	}
}

func (p *Poller) Close() error {
	return p.reader.Close()
}

func (p *Poller) pollOnce(ctx context.Context) {
	m, err := p.reader.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.log.ErrorContext(ctx, "error reading message", slog.Any("error", err))
		select {
		case <-ctx.Done():
		case <-time.After(readErrorBackoff):
		}
		return
	}

	if err := p.handle(ctx, m.Value); err != nil {
		p.log.WarnContext(ctx, "skipping checkout event",
			slog.Int64("offset", m.Offset),
			slog.Any("error", err))
	}
}

var errMissingUser = errors.New("missing or invalid user_id")

func (p *Poller) handle(ctx context.Context, value []byte) error {
	var event CheckoutEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return err
	}
	if event.UserID == "" {
		return errMissingUser
	}

	m, err := p.registry.Get(ctx, event.UserID)
	if err != nil {
		return err
	}

	res := m.Clear(ctx)
	p.log.InfoContext(ctx, "cart cleared after checkout",
		slog.String("session_id", event.UserID),
		slog.String("checkout_id", event.CheckoutID),
		slog.String("outcome", res.Outcome.String()))
	return nil
}
