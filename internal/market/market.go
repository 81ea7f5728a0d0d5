// Package market stores free-text marketplace listings. Records are not
// validated beyond requiring a name and there is no transaction or payment
// logic; the service only lets farmers post and browse.
package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/krishimitra/pdr-api/internal/store"
)

// Collection is the store collection listings live in.
const Collection = "listings"

// ErrMissingName rejects listings without a product name.
var ErrMissingName = errors.New("listing needs a product name")

// Listing is one marketplace record.
type Listing struct {
	ID          string  `json:"id,omitempty"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Description string  `json:"description,omitempty"`
	Seller      string  `json:"seller,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

type Market struct {
	store store.Store
	clock func() time.Time
}

func New(st store.Store) *Market {
	return &Market{store: st, clock: func() time.Time { return time.Now().UTC() }}
}

// Create stores a listing and returns it with its generated id.
func (m *Market) Create(ctx context.Context, l Listing) (Listing, error) {
	if l.Name == "" {
		return Listing{}, ErrMissingName
	}
	l.CreatedAt = m.clock().Format(time.RFC3339Nano)
	doc := map[string]any{
		"name":        l.Name,
		"price":       l.Price,
		"description": l.Description,
		"seller":      l.Seller,
		"created_at":  l.CreatedAt,
	}
	id, err := m.store.Add(ctx, Collection, doc)
	if err != nil {
		return Listing{}, fmt.Errorf("failed to store listing: %w", err)
	}
	l.ID = id
	return l, nil
}

// List returns listings newest first.
func (m *Market) List(ctx context.Context, limit int) ([]Listing, error) {
	if limit <= 0 {
		limit = 50
	}
	docs, err := m.store.Query(ctx, Collection, "created_at", true, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query listings: %w", err)
	}
	out := make([]Listing, 0, len(docs))
	for _, doc := range docs {
		l := Listing{
			Name:        asString(doc["name"]),
			Description: asString(doc["description"]),
			Seller:      asString(doc["seller"]),
			CreatedAt:   asString(doc["created_at"]),
		}
		if p, ok := doc["price"].(float64); ok {
			l.Price = p
		}
		out = append(out, l)
	}
	return out, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
