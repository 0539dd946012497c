package storage

import (
	"context"
	"testing"
	"time"

	"github.com/agamariel/printdesk/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryOrderStorage_UpdateRejectsStaleWrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	order := &models.Order{
		UserID:        uuid.New(),
		Status:        models.OrderStatusSubmitted,
		PaymentStatus: models.PaymentStatusOnHold,
		Price:         decimal.NewFromInt(30),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, store.Orders.Create(ctx, order))

	first, err := store.Orders.GetByID(ctx, order.ID)
	require.NoError(t, err)
	second, err := store.Orders.GetByID(ctx, order.ID)
	require.NoError(t, err)

	first.Status = models.OrderStatusInQueue
	first.UpdatedAt = now.Add(time.Second)
	require.NoError(t, store.Orders.Update(ctx, first, now))

	second.Status = models.OrderStatusOnHold
	second.UpdatedAt = now.Add(2 * time.Second)
	assert.ErrorIs(t, store.Orders.Update(ctx, second, now), ErrConcurrentUpdate)

	got, err := store.Orders.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusInQueue, got.Status)
}

func TestMemoryOrderStorage_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	order := &models.Order{UserID: uuid.New(), Price: decimal.NewFromInt(5)}
	require.NoError(t, store.Orders.Create(ctx, order))

	got, err := store.Orders.GetByID(ctx, order.ID)
	require.NoError(t, err)
	got.Price = decimal.NewFromInt(500)

	again, err := store.Orders.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, again.Price.Equal(decimal.NewFromInt(5)))
}

func TestMemoryConversationStorage_AppendMessage(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	conv := &models.Conversation{
		OrderID:    uuid.New(),
		CustomerID: uuid.New(),
		Status:     models.ConversationOpen,
		CreatedAt:  base,
		UpdatedAt:  base,
	}
	require.NoError(t, store.Conversations.Create(ctx, conv))

	dup := &models.Conversation{OrderID: conv.OrderID, CustomerID: conv.CustomerID}
	assert.ErrorIs(t, store.Conversations.Create(ctx, dup), ErrConversationExists)

	require.NoError(t, store.Conversations.SetTyping(ctx, conv.ID, models.RoleStaff, base))

	msg := &models.Message{
		ConversationID: conv.ID,
		SenderRole:     models.RoleStaff,
		Body:           "Your print is ready",
		CreatedAt:      base.Add(time.Second),
	}
	require.NoError(t, store.Conversations.AppendMessage(ctx, msg))

	got, err := store.Conversations.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Nil(t, got.TypingRole, "sender's typing flag must be cleared")
	require.NotNil(t, got.StaffLastReadAt)
	assert.True(t, got.StaffLastReadAt.Equal(msg.CreatedAt))
	assert.True(t, got.UpdatedAt.Equal(msg.CreatedAt))

	counts, err := store.Conversations.UnreadCounts(ctx, models.RoleCustomer, []uuid.UUID{conv.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, counts[conv.ID])

	require.NoError(t, store.Conversations.SetLastRead(ctx, conv.ID, models.RoleCustomer, base.Add(2*time.Second)))
	// более ранняя отметка не откатывает прочтение
	require.NoError(t, store.Conversations.SetLastRead(ctx, conv.ID, models.RoleCustomer, base))

	counts, err = store.Conversations.UnreadCounts(ctx, models.RoleCustomer, []uuid.UUID{conv.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, counts[conv.ID])
}

func TestMemoryConversationStorage_ClearTypingOwnerOnly(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	conv := &models.Conversation{OrderID: uuid.New(), CustomerID: uuid.New(), Status: models.ConversationOpen}
	require.NoError(t, store.Conversations.Create(ctx, conv))
	require.NoError(t, store.Conversations.SetTyping(ctx, conv.ID, models.RoleCustomer, now))

	require.NoError(t, store.Conversations.ClearTyping(ctx, conv.ID, models.RoleStaff))
	got, err := store.Conversations.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got.TypingRole)
	assert.Equal(t, models.RoleCustomer, *got.TypingRole)

	require.NoError(t, store.Conversations.ClearTyping(ctx, conv.ID, models.RoleCustomer))
	got, err = store.Conversations.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Nil(t, got.TypingRole)
}

func TestMemoryLedgerStorage(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	userID := uuid.New()
	now := time.Now().UTC()

	refund := &models.LedgerEntry{
		UserID: userID, Reference: "refund:1", Kind: models.LedgerKindRefund,
		Amount: decimal.NewFromInt(50), CreatedAt: now,
	}
	require.NoError(t, store.Ledger.Append(ctx, refund))
	assert.ErrorIs(t, store.Ledger.Append(ctx, &models.LedgerEntry{
		UserID: userID, Reference: "refund:1", Kind: models.LedgerKindRefund, Amount: decimal.NewFromInt(50),
	}), ErrLedgerEntryExists)

	assert.ErrorIs(t, store.Ledger.Append(ctx, &models.LedgerEntry{
		UserID: userID, Reference: "payment:a", Kind: models.LedgerKindDebit, Amount: decimal.NewFromInt(-60),
	}), ErrInsufficientBalance)

	require.NoError(t, store.Ledger.Append(ctx, &models.LedgerEntry{
		UserID: userID, Reference: "payment:b", Kind: models.LedgerKindDebit, Amount: decimal.NewFromInt(-20),
		CreatedAt: now.Add(time.Second),
	}))

	totals, err := store.Ledger.Totals(ctx, userID)
	require.NoError(t, err)
	assert.True(t, totals.Current.Equal(decimal.NewFromInt(30)), "current = %s", totals.Current)
	assert.True(t, totals.Refunded.Equal(decimal.NewFromInt(50)))
	assert.True(t, totals.Spent.Equal(decimal.NewFromInt(20)))

	entries, err := store.Ledger.ListByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "payment:b", entries[0].Reference)
}
