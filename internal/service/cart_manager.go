package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fjod/go_cart/storefront-cart/internal/catalog"
	"github.com/fjod/go_cart/storefront-cart/internal/domain"
	"github.com/fjod/go_cart/storefront-cart/internal/notify"
	"github.com/fjod/go_cart/storefront-cart/internal/store"
)

var ErrItemNotFound = errors.New("item not found in cart")

type Outcome int

const (
	OutcomeUpdated Outcome = iota
	OutcomeUnchanged
	OutcomeNotFound
	OutcomeOutOfStock
	OutcomeUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUpdated:
		return "updated"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeOutOfStock:
		return "out_of_stock"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is what every cart operation returns. Cart is always the cart as it
// stands after the call. Message and Kind are set only when a notification
// was sent; Err keeps the cause for logs.
type Result struct {
	Outcome Outcome
	Cart    domain.Cart
	Kind    notify.Kind
	Message string
	Err     error
}

func (r Result) OK() bool {
	return r.Outcome == OutcomeUpdated || r.Outcome == OutcomeUnchanged
}

type Deps struct {
	Store          store.KVStore
	Catalog        catalog.Client
	Notifier       notify.Notifier
	Logger         *slog.Logger
	PersistTimeout time.Duration
	LoadTimeout    time.Duration // bounds the shared first load in Registry.Get
}

// CartManager owns one shopper's cart. Mutations are serialized: the lock is
// held across the catalog lookup and the store write.
type CartManager struct {
	mu        sync.Mutex
	sessionID string
	key       string
	cart      domain.Cart

	store          store.KVStore
	catalog        catalog.Client
	notifier       notify.Notifier
	log            *slog.Logger
	persistTimeout time.Duration

	lastUsed atomic.Int64
}

func NewCartManager(sessionID, key string, deps Deps) *CartManager {
	timeout := deps.PersistTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &CartManager{
		sessionID:      sessionID,
		key:            key,
		cart:           domain.Cart{},
		store:          deps.Store,
		catalog:        deps.Catalog,
		notifier:       deps.Notifier,
		log:            logger.With(slog.String("session_id", sessionID)),
		persistTimeout: timeout,
	}
	m.touch()
	return m
}

// Load replaces the in-memory cart with the persisted one. A missing or
// malformed value loads as an empty cart; only store failures are returned.
func (m *CartManager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch()

	raw, err := m.store.Get(ctx, m.key)
	if errors.Is(err, store.ErrNotFound) {
		m.cart = domain.Cart{}
		return nil
	}
	if err != nil {
		return fmt.Errorf("load cart %s: %w", m.key, err)
	}

	cart, err := domain.DecodeCart(raw)
	if err != nil {
		m.log.WarnContext(ctx, "discarding persisted cart", slog.String("key", m.key), slog.Any("error", err))
		m.cart = domain.Cart{}
		return nil
	}

	m.cart = cart
	return nil
}

func (m *CartManager) Key() string {
	return m.key
}

// Products returns a copy of the current cart.
func (m *CartManager) Products() domain.Cart {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch()
	return m.cart.Clone()
}

// AddProduct increments a present product by one, or inserts a new one with
// amount 1, as long as the catalog has stock for it.
func (m *CartManager) AddProduct(ctx context.Context, productID int64) Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch()

	stock, err := m.catalog.GetStock(ctx, productID)
	if err != nil {
		return m.fail(ctx, productID, lookupOutcome(err), notify.KindAddFailed, err)
	}

	idx := m.cart.Find(productID)
	current := 0
	if idx >= 0 {
		current = m.cart[idx].Amount
	}
	if current+1 > stock.Amount {
		return m.fail(ctx, productID, OutcomeOutOfStock, notify.KindOutOfStock, nil)
	}

	next := m.cart.Clone()
	if idx >= 0 {
		next[idx].Amount++
		return m.commit(ctx, next)
	}

	product, err := m.catalog.GetProduct(ctx, productID)
	if err != nil {
		return m.fail(ctx, productID, lookupOutcome(err), notify.KindAddFailed, err)
	}
	product.ID = productID
	product.Amount = 1

	return m.commit(ctx, append(next, product))
}

func (m *CartManager) RemoveProduct(ctx context.Context, productID int64) Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch()

	idx := m.cart.Find(productID)
	if idx < 0 {
		return m.fail(ctx, productID, OutcomeNotFound, notify.KindRemoveFailed, ErrItemNotFound)
	}

	next := make(domain.Cart, 0, len(m.cart)-1)
	next = append(next, m.cart[:idx]...)
	next = append(next, m.cart[idx+1:]...)

	return m.commit(ctx, next)
}

// UpdateProductAmount overwrites the amount of a product already in the cart.
// Amounts below 1 are ignored.
func (m *CartManager) UpdateProductAmount(ctx context.Context, productID int64, amount int) Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch()

	if amount < 1 {
		return Result{Outcome: OutcomeUnchanged, Cart: m.cart.Clone()}
	}

	stock, err := m.catalog.GetStock(ctx, productID)
	if err != nil {
		return m.fail(ctx, productID, lookupOutcome(err), notify.KindUpdateFailed, err)
	}
	if amount > stock.Amount {
		return m.fail(ctx, productID, OutcomeOutOfStock, notify.KindOutOfStock, nil)
	}

	idx := m.cart.Find(productID)
	if idx < 0 {
		return m.fail(ctx, productID, OutcomeNotFound, notify.KindUpdateFailed, ErrItemNotFound)
	}

	next := m.cart.Clone()
	next[idx].Amount = amount

	return m.commit(ctx, next)
}

// Clear empties the cart.
func (m *CartManager) Clear(ctx context.Context) Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch()

	return m.commit(ctx, domain.Cart{})
}

func (m *CartManager) commit(ctx context.Context, next domain.Cart) Result {
	m.cart = next
	m.persist(ctx)
	return Result{Outcome: OutcomeUpdated, Cart: next.Clone()}
}

// persist writes the whole cart. A failed write is logged and the in-memory
// cart stays authoritative; the next successful write catches the store up.
func (m *CartManager) persist(ctx context.Context) {
	value, err := m.cart.Encode()
	if err != nil {
		m.log.ErrorContext(ctx, "encode cart failed", slog.Any("error", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.persistTimeout)
	defer cancel()

	if err := m.store.Set(ctx, m.key, value); err != nil {
		m.log.ErrorContext(ctx, "persist cart failed", slog.String("key", m.key), slog.Any("error", err))
	}
}

func (m *CartManager) fail(ctx context.Context, productID int64, outcome Outcome, kind notify.Kind, cause error) Result {
	n := notify.New(m.sessionID, productID, kind)
	m.notifier.Notify(ctx, n)

	if cause != nil {
		m.log.DebugContext(ctx, "cart operation rejected",
			slog.Int64("product_id", productID),
			slog.String("outcome", outcome.String()),
			slog.Any("error", cause),
		)
	}

	return Result{
		Outcome: outcome,
		Cart:    m.cart.Clone(),
		Kind:    kind,
		Message: n.Message,
		Err:     cause,
	}
}

func (m *CartManager) touch() {
	m.lastUsed.Store(time.Now().UnixNano())
}

func (m *CartManager) idleSince() time.Time {
	return time.Unix(0, m.lastUsed.Load())
}

func lookupOutcome(err error) Outcome {
	if errors.Is(err, catalog.ErrProductNotFound) {
		return OutcomeNotFound
	}
	return OutcomeUnavailable
}
