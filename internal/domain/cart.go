package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedCart = errors.New("malformed cart data")

// Product is a cart line. Amount is the quantity currently in the cart.
type Product struct {
	ID     int64   `json:"id"`
	Title  string  `json:"title"`
	Price  float64 `json:"price"`
	Image  string  `json:"image"`
	Amount int     `json:"amount"`
}

// Stock is the maximum purchasable quantity reported by the catalog.
type Stock struct {
	ID     int64 `json:"id"`
	Amount int   `json:"amount"`
}

// Cart is ordered and unique by product ID.
type Cart []Product

// Find returns the index of the product with the given id, or -1.
func (c Cart) Find(productID int64) int {
	for i, p := range c {
		if p.ID == productID {
			return i
		}
	}
	return -1
}

// Clone returns a copy that shares no backing array with c.
func (c Cart) Clone() Cart {
	out := make(Cart, len(c))
	copy(out, c)
	return out
}

// Encode serializes the cart as a JSON array. An empty cart encodes as [].
func (c Cart) Encode() (string, error) {
	if c == nil {
		c = Cart{}
	}
	data, err := json.Marshal([]Product(c))
	if err != nil {
		return "", fmt.Errorf("marshal cart failed: %w", err)
	}
	return string(data), nil
}

// Validate checks the cart invariants that do not depend on stock.
func (c Cart) Validate() error {
	seen := make(map[int64]struct{}, len(c))
	for i, p := range c {
		if p.ID <= 0 {
			return fmt.Errorf("%w: item %d has invalid id %d", ErrMalformedCart, i, p.ID)
		}
		if p.Amount < 1 {
			return fmt.Errorf("%w: product %d has amount %d", ErrMalformedCart, p.ID, p.Amount)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("%w: duplicate product %d", ErrMalformedCart, p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

// DecodeCart parses and validates a persisted cart. Anything that is not a
// JSON array of valid products returns ErrMalformedCart.
func DecodeCart(raw string) (Cart, error) {
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: expected json array", ErrMalformedCart)
	}

	var items []Product
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCart, err)
	}

	cart := Cart(items)
	if err := cart.Validate(); err != nil {
		return nil, err
	}
	if cart == nil {
		cart = Cart{}
	}
	return cart, nil
}
