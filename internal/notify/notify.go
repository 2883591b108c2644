package notify

import (
	"context"
	"log/slog"
	"time"
)

type Kind string

const (
	KindOutOfStock   Kind = "out_of_stock"
	KindAddFailed    Kind = "add_failed"
	KindRemoveFailed Kind = "remove_failed"
	KindUpdateFailed Kind = "update_failed"
)

// Fixed user-facing messages. They never carry the underlying cause.
const (
	MsgOutOfStock   = "Requested amount is out of stock"
	MsgAddFailed    = "Could not add product to cart"
	MsgRemoveFailed = "Could not remove product from cart"
	MsgUpdateFailed = "Could not update product amount"
)

var messages = map[Kind]string{
	KindOutOfStock:   MsgOutOfStock,
	KindAddFailed:    MsgAddFailed,
	KindRemoveFailed: MsgRemoveFailed,
	KindUpdateFailed: MsgUpdateFailed,
}

// Message returns the fixed text for kind.
func Message(kind Kind) string {
	return messages[kind]
}

type Notification struct {
	SessionID string    `json:"session_id"`
	ProductID int64     `json:"product_id"`
	Kind      Kind      `json:"kind"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

func New(sessionID string, productID int64, kind Kind) Notification {
	return Notification{
		SessionID: sessionID,
		ProductID: productID,
		Kind:      kind,
		Message:   Message(kind),
		At:        time.Now().UTC(),
	}
}

// Notifier delivers notifications to the shopper. Delivery problems are the
// notifier's own concern and never reach the caller.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Notify(ctx context.Context, n Notification) {
	l.log.InfoContext(ctx, "cart notification",
		slog.String("session_id", n.SessionID),
		slog.Int64("product_id", n.ProductID),
		slog.String("kind", string(n.Kind)),
		slog.String("message", n.Message),
	)
}

// Multi fans a notification out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, notifier := range m {
		notifier.Notify(ctx, n)
	}
}
