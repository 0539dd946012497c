package staging

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agamariel/printdesk/internal/logging"
	"github.com/agamariel/printdesk/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPendingEdit() *models.PendingUpdate {
	price := decimal.NewFromInt(30)
	return &models.PendingUpdate{
		ID:           uuid.New(),
		OrderID:      uuid.New(),
		Kind:         models.PendingUpdateEdit,
		NewPrice:     &price,
		RefundAmount: decimal.NewFromInt(20),
		CreatedAt:    time.Date(2025, 4, 2, 8, 0, 0, 0, time.UTC),
	}
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("absent order update", func(t *testing.T) {
		got, err := store.LoadOrderUpdate(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("order update survives round trip", func(t *testing.T) {
		update := newPendingEdit()
		require.NoError(t, store.SaveOrderUpdate(ctx, update))

		got, err := store.LoadOrderUpdate(ctx, update.OrderID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, update.ID, got.ID)
		assert.True(t, got.RefundAmount.Equal(update.RefundAmount))

		require.NoError(t, store.ClearOrderUpdate(ctx, update.OrderID))
		got, err = store.LoadOrderUpdate(ctx, update.OrderID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("newer update replaces older", func(t *testing.T) {
		first := newPendingEdit()
		second := newPendingEdit()
		second.OrderID = first.OrderID
		require.NoError(t, store.SaveOrderUpdate(ctx, first))
		require.NoError(t, store.SaveOrderUpdate(ctx, second))

		got, err := store.LoadOrderUpdate(ctx, first.OrderID)
		require.NoError(t, err)
		assert.Equal(t, second.ID, got.ID)
	})

	t.Run("project update", func(t *testing.T) {
		member := newPendingEdit()
		member.Kind = models.PendingUpdateCancel
		update := &models.ProjectPendingUpdate{
			ID:          uuid.New(),
			ProjectID:   "proj-" + uuid.NewString(),
			Orders:      []models.PendingUpdate{*member},
			TotalRefund: member.RefundAmount,
		}
		require.NoError(t, store.SaveProjectUpdate(ctx, update))

		got, err := store.LoadProjectUpdate(ctx, update.ProjectID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Len(t, got.Orders, 1)

		require.NoError(t, store.ClearProjectUpdate(ctx, update.ProjectID))
		got, err = store.LoadProjectUpdate(ctx, update.ProjectID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "staging.db")

	store, err := NewSQLiteStore(ctx, path, logging.Discard())
	require.NoError(t, err)
	defer store.Close()

	exerciseStore(t, store)

	t.Run("malformed payload", func(t *testing.T) {
		orderID := uuid.New()
		require.NoError(t, store.PutRaw(ctx, orderKey(orderID), []byte(`{"id":`)))

		got, err := store.LoadOrderUpdate(ctx, orderID)
		assert.Nil(t, got)
		assert.ErrorIs(t, err, models.ErrMalformedPendingUpdate)
	})

	t.Run("survives reopen", func(t *testing.T) {
		update := newPendingEdit()
		require.NoError(t, store.SaveOrderUpdate(ctx, update))
		require.NoError(t, store.Close())

		reopened, err := NewSQLiteStore(ctx, path, logging.Discard())
		require.NoError(t, err)
		defer reopened.Close()

		got, err := reopened.LoadOrderUpdate(ctx, update.OrderID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, update.ID, got.ID)
	})
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping redis staging tests")
	}

	store := NewRedisStore(RedisConfig{Addr: addr}, time.Minute, logging.Discard())
	defer store.Close()
	require.NoError(t, store.Ping(context.Background()))

	exerciseStore(t, store)
}
