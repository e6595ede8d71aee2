package cache

import (
	"context"
	"testing"
	"time"

	"github.com/katecvn/backoffice/internal/domain/allocation"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleLots() []allocation.Lot {
	return []allocation.Lot{
		{ID: "lot-1", Code: "L001", CurrentQuantity: decimal.NewFromInt(10)},
		{ID: "lot-2", Code: "L002", CurrentQuantity: decimal.RequireFromString("2.5")},
	}
}

func TestInMemoryLotStore_SetGet(t *testing.T) {
	s := NewInMemoryLotStore(time.Hour)
	defer s.Close()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "p-1", "u-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "p-1", "u-1", sampleLots(), time.Minute))

	lots, ok, err := s.Get(ctx, "p-1", "u-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, lots, 2)
	assert.Equal(t, "lot-1", lots[0].ID)
}

func TestInMemoryLotStore_ReturnsCopies(t *testing.T) {
	s := NewInMemoryLotStore(time.Hour)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "p-1", "u-1", sampleLots(), time.Minute))

	lots, _, _ := s.Get(ctx, "p-1", "u-1")
	lots[0].ID = "mutated"

	again, _, _ := s.Get(ctx, "p-1", "u-1")
	assert.Equal(t, "lot-1", again[0].ID)
}

func TestInMemoryLotStore_Expiry(t *testing.T) {
	s := NewInMemoryLotStore(time.Hour)
	defer s.Close()
	ctx := context.Background()

	now := time.Now()
	s.now = func() time.Time { return now }
	require.NoError(t, s.Set(ctx, "p-1", "u-1", sampleLots(), time.Minute))

	s.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, ok, err := s.Get(ctx, "p-1", "u-1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1, s.Size())
	s.cleanup()
	assert.Equal(t, 0, s.Size())
}

func TestInMemoryLotStore_Delete(t *testing.T) {
	s := NewInMemoryLotStore(time.Hour)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "p-1", "u-1", sampleLots(), time.Minute))
	require.NoError(t, s.Delete(ctx, "p-1"))

	_, ok, _ := s.Get(ctx, "p-1", "u-1")
	assert.False(t, ok)
}

func TestInMemoryLotStore_ScopesAreIsolated(t *testing.T) {
	s := NewInMemoryLotStore(time.Hour)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "p-1", "u-1", sampleLots(), time.Minute))
	require.NoError(t, s.Set(ctx, "p-1", "u-2", sampleLots()[:1], time.Minute))

	_, ok, err := s.Get(ctx, "p-1", "u-3")
	require.NoError(t, err)
	assert.False(t, ok)

	lots, ok, _ := s.Get(ctx, "p-1", "u-2")
	require.True(t, ok)
	assert.Len(t, lots, 1)
	assert.Equal(t, 2, s.Size())

	require.NoError(t, s.Delete(ctx, "p-1"))
	_, ok, _ = s.Get(ctx, "p-1", "u-1")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "p-1", "u-2")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Size())
}

func TestInMemoryLotStore_CloseIsIdempotent(t *testing.T) {
	s := NewInMemoryLotStore(10 * time.Millisecond)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
