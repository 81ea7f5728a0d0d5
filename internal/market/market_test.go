package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krishimitra/pdr-api/internal/store"
)

func TestCreateAndList(t *testing.T) {
	m := New(store.NewMemoryStore())
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	for i, name := range []string{"Organic Fertilizer", "Tomato Seeds", "Copper Fungicide"} {
		ts := base.Add(time.Duration(i) * time.Hour)
		m.clock = func() time.Time { return ts }
		created, err := m.Create(ctx, Listing{
			Name:   name,
			Price:  float64(100 * (i + 1)),
			Seller: "farmer_default",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.NotEmpty(t, created.CreatedAt)
	}

	listings, err := m.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, listings, 2)
	assert.Equal(t, "Copper Fungicide", listings[0].Name)
	assert.Equal(t, float64(300), listings[0].Price)
	assert.Equal(t, "Tomato Seeds", listings[1].Name)
}

func TestCreateRequiresName(t *testing.T) {
	m := New(store.NewMemoryStore())
	_, err := m.Create(context.Background(), Listing{Price: 10})
	assert.ErrorIs(t, err, ErrMissingName)
}
