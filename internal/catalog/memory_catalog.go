package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/fjod/go_cart/storefront-cart/internal/domain"
)

// MemoryCatalog serves products and stock from memory. It backs local runs
// without a catalog service and the tests.
type MemoryCatalog struct {
	mu       sync.RWMutex
	products map[int64]domain.Product
	stock    map[int64]int
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		products: make(map[int64]domain.Product),
		stock:    make(map[int64]int),
	}
}

type seedFile struct {
	Products []domain.Product `json:"products"`
	Stock    []domain.Stock   `json:"stock"`
}

// LoadSeedFile reads {"products": [...], "stock": [...]} into the catalog.
func (m *MemoryCatalog) LoadSeedFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read catalog seed: %w", err)
	}

	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse catalog seed: %w", err)
	}

	for _, p := range seed.Products {
		m.SetProduct(p)
	}
	for _, s := range seed.Stock {
		m.SetStock(s.ID, s.Amount)
	}
	return nil
}

func (m *MemoryCatalog) SetProduct(p domain.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p.Amount = 0
	m.products[p.ID] = p
}

func (m *MemoryCatalog) SetStock(productID int64, amount int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stock[productID] = amount
}

func (m *MemoryCatalog) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[id]
	if !ok {
		return domain.Product{}, ErrProductNotFound
	}
	return p, nil
}

func (m *MemoryCatalog) GetStock(ctx context.Context, id int64) (domain.Stock, error) {
	if err := ctx.Err(); err != nil {
		return domain.Stock{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	amount, ok := m.stock[id]
	if !ok {
		return domain.Stock{}, ErrProductNotFound
	}
	return domain.Stock{ID: id, Amount: amount}, nil
}
