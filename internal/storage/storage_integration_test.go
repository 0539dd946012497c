//go:build integration
// +build integration

package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/agamariel/printdesk/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

func getTestDBPool(t *testing.T) *pgxpool.Pool {
	dbURI := os.Getenv("DATABASE_URI")
	if dbURI == "" {
		t.Skip("DATABASE_URI not set, skipping integration tests")
	}

	pool, err := pgxpool.New(context.Background(), dbURI)
	if err != nil {
		t.Fatalf("Unable to connect to database: %v", err)
	}

	return pool
}

func TestPostgresUserStorage_Create(t *testing.T) {
	pool := getTestDBPool(t)
	defer pool.Close()

	storage := NewPostgresUserStorage(pool)
	ctx := context.Background()

	t.Run("successful create", func(t *testing.T) {
		user := &models.User{
			ID:           uuid.New(),
			Login:        "test_" + uuid.New().String() + "@example.com",
			PasswordHash: "hashed_password",
			Role:         models.RoleStaff,
		}

		err := storage.Create(ctx, user)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		// Проверяем, что пользователь создан
		retrieved, err := storage.GetByLogin(ctx, user.Login)
		if err != nil {
			t.Fatalf("GetByLogin() error = %v", err)
		}

		if retrieved.ID != user.ID || retrieved.Role != models.RoleStaff {
			t.Errorf("retrieved = %v/%s, want %v/staff", retrieved.ID, retrieved.Role, user.ID)
		}
	})

	t.Run("duplicate login", func(t *testing.T) {
		login := "duplicate_" + uuid.New().String() + "@example.com"

		user1 := &models.User{
			ID:           uuid.New(),
			Login:        login,
			PasswordHash: "hash1",
		}

		err := storage.Create(ctx, user1)
		if err != nil {
			t.Fatalf("First Create() error = %v", err)
		}

		user2 := &models.User{
			ID:           uuid.New(),
			Login:        login,
			PasswordHash: "hash2",
		}

		err = storage.Create(ctx, user2)
		if err != ErrLoginExists {
			t.Errorf("Expected ErrLoginExists, got %v", err)
		}
	})
}

func TestPostgresUserStorage_GetByLogin(t *testing.T) {
	pool := getTestDBPool(t)
	defer pool.Close()

	storage := NewPostgresUserStorage(pool)
	ctx := context.Background()

	// Создаем тестового пользователя
	user := &models.User{
		ID:           uuid.New(),
		Login:        "getbylogin_" + uuid.New().String() + "@example.com",
		PasswordHash: "hashed_password",
	}

	err := storage.Create(ctx, user)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	t.Run("existing user", func(t *testing.T) {
		retrieved, err := storage.GetByLogin(ctx, user.Login)
		if err != nil {
			t.Fatalf("GetByLogin() error = %v", err)
		}

		if retrieved.ID != user.ID {
			t.Errorf("ID mismatch: got %v, want %v", retrieved.ID, user.ID)
		}
	})

	t.Run("non-existing user", func(t *testing.T) {
		_, err := storage.GetByLogin(ctx, "nonexistent@example.com")
		if err != ErrUserNotFound {
			t.Errorf("Expected ErrUserNotFound, got %v", err)
		}
	})
}

func TestPostgresUserStorage_GetByID(t *testing.T) {
	pool := getTestDBPool(t)
	defer pool.Close()

	storage := NewPostgresUserStorage(pool)
	ctx := context.Background()

	user := &models.User{
		ID:           uuid.New(),
		Login:        "getbyid_" + uuid.New().String() + "@example.com",
		PasswordHash: "hashed_password",
	}

	err := storage.Create(ctx, user)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	t.Run("existing user", func(t *testing.T) {
		retrieved, err := storage.GetByID(ctx, user.ID)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}

		if retrieved.Login != user.Login {
			t.Errorf("Login mismatch: got %v, want %v", retrieved.Login, user.Login)
		}
	})

	t.Run("non-existing user", func(t *testing.T) {
		_, err := storage.GetByID(ctx, uuid.New())
		if err != ErrUserNotFound {
			t.Errorf("Expected ErrUserNotFound, got %v", err)
		}
	})
}

func TestPostgresLedgerStorage_Append(t *testing.T) {
	pool := getTestDBPool(t)
	defer pool.Close()

	users := NewPostgresUserStorage(pool)
	ledger := NewPostgresLedgerStorage(pool)
	ctx := context.Background()

	user := &models.User{
		ID:           uuid.New(),
		Login:        "ledger_" + uuid.New().String() + "@example.com",
		PasswordHash: "hashed_password",
	}
	if err := users.Create(ctx, user); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	credit := &models.LedgerEntry{
		UserID:    user.ID,
		Reference: "refund:" + uuid.New().String(),
		Kind:      models.LedgerKindRefund,
		Amount:    decimal.NewFromInt(100),
		CreatedAt: time.Now().UTC(),
	}

	t.Run("credit", func(t *testing.T) {
		if err := ledger.Append(ctx, credit); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	})

	t.Run("duplicate reference", func(t *testing.T) {
		dup := *credit
		dup.ID = uuid.Nil
		if err := ledger.Append(ctx, &dup); err != ErrLedgerEntryExists {
			t.Errorf("Expected ErrLedgerEntryExists, got %v", err)
		}
	})

	t.Run("insufficient balance", func(t *testing.T) {
		debit := &models.LedgerEntry{
			UserID:    user.ID,
			Reference: "payment:" + uuid.New().String(),
			Kind:      models.LedgerKindDebit,
			Amount:    decimal.NewFromInt(-150),
			CreatedAt: time.Now().UTC(),
		}
		if err := ledger.Append(ctx, debit); err != ErrInsufficientBalance {
			t.Errorf("Expected ErrInsufficientBalance, got %v", err)
		}
	})

	t.Run("totals", func(t *testing.T) {
		totals, err := ledger.Totals(ctx, user.ID)
		if err != nil {
			t.Fatalf("Totals() error = %v", err)
		}
		if !totals.Current.Equal(decimal.NewFromInt(100)) {
			t.Errorf("Current = %v, want 100", totals.Current)
		}
	})
}

func TestPostgresOrderStorage_Update(t *testing.T) {
	pool := getTestDBPool(t)
	defer pool.Close()

	users := NewPostgresUserStorage(pool)
	orders := NewPostgresOrderStorage(pool)
	ctx := context.Background()

	user := &models.User{
		ID:           uuid.New(),
		Login:        "orders_" + uuid.New().String() + "@example.com",
		PasswordHash: "hashed_password",
	}
	if err := users.Create(ctx, user); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	order := &models.Order{
		UserID:        user.ID,
		Status:        models.OrderStatusSubmitted,
		PaymentStatus: models.PaymentStatusOnHold,
		Price:         decimal.NewFromInt(40),
		PaidAmount:    decimal.Zero,
		Parameters:    []byte(`{"material":"pla"}`),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := orders.Create(ctx, order); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	stored, err := orders.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}

	prev := stored.UpdatedAt
	stored.Status = models.OrderStatusInQueue
	stored.UpdatedAt = now.Add(time.Second)
	if err := orders.Update(ctx, stored, prev); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	t.Run("stale write rejected", func(t *testing.T) {
		stale := stored.Clone()
		stale.Status = models.OrderStatusPrinting
		stale.UpdatedAt = now.Add(2 * time.Second)
		if err := orders.Update(ctx, stale, prev); err != ErrConcurrentUpdate {
			t.Errorf("Expected ErrConcurrentUpdate, got %v", err)
		}
	})
	t.Run("settlement state round trip", func(t *testing.T) {
		current, err := orders.GetByID(ctx, order.ID)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if len(current.Transactions) != 0 {
			t.Fatalf("Transactions = %v, want empty", current.Transactions)
		}

		price := decimal.NewFromInt(30)
		next := current.Clone()
		next.PendingPrice = &price
		next.PendingParameters = []byte(`{"material":"petg"}`)
		next.Transactions = []string{"txn-1"}
		next.UpdatedAt = current.UpdatedAt.Add(time.Second)
		if err := orders.Update(ctx, next, current.UpdatedAt); err != nil {
			t.Fatalf("Update() error = %v", err)
		}

		got, err := orders.GetByID(ctx, order.ID)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if got.PendingPrice == nil || !got.PendingPrice.Equal(price) {
			t.Errorf("PendingPrice = %v, want 30", got.PendingPrice)
		}
		if !got.HasTransaction("txn-1") {
			t.Errorf("Transactions = %v, want [txn-1]", got.Transactions)
		}
	})
}
