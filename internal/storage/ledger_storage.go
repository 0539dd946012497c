package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/agamariel/printdesk/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrLedgerEntryExists запись с таким ключом идемпотентности уже есть.
	ErrLedgerEntryExists   = errors.New("ledger entry already exists")
	ErrLedgerEntryNotFound = fmt.Errorf("ledger entry %w", models.ErrNotFound)
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// PostgresLedgerStorage журнал движений по балансу в PostgreSQL.
type PostgresLedgerStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresLedgerStorage создаёт новый экземпляр.
func NewPostgresLedgerStorage(pool *pgxpool.Pool) *PostgresLedgerStorage {
	return &PostgresLedgerStorage{pool: pool}
}

// Append добавляет запись. Списание проверяет достаточность средств
// под блокировкой строки пользователя.
func (s *PostgresLedgerStorage) Append(ctx context.Context, entry *models.LedgerEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if entry.Amount.IsNegative() {
		if err := checkBalanceTx(ctx, tx, entry.UserID, entry.Amount.Neg()); err != nil {
			return err
		}
	}

	if err := s.insertTx(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit ledger entry: %w", err)
	}
	return nil
}

func checkBalanceTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to lock user: %w", err)
	}

	var current decimal.Decimal
	err = tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE user_id = $1`, userID).Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to check balance: %w", err)
	}

	if current.LessThan(amount) {
		return ErrInsufficientBalance
	}
	return nil
}

func (s *PostgresLedgerStorage) insertTx(ctx context.Context, tx pgx.Tx, entry *models.LedgerEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	query := `
		INSERT INTO ledger_entries (id, user_id, order_id, reference, kind, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := tx.Exec(ctx, query, entry.ID, entry.UserID, entry.OrderID, entry.Reference, entry.Kind, entry.Amount, entry.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return ErrLedgerEntryExists
		}
		return fmt.Errorf("failed to create ledger entry: %w", err)
	}

	return nil
}

// GetByReference возвращает запись по ключу идемпотентности.
func (s *PostgresLedgerStorage) GetByReference(ctx context.Context, reference string) (*models.LedgerEntry, error) {
	query := `
		SELECT id, user_id, order_id, reference, kind, amount, created_at
		FROM ledger_entries
		WHERE reference = $1
	`

	var e models.LedgerEntry
	err := s.pool.QueryRow(ctx, query, reference).Scan(&e.ID, &e.UserID, &e.OrderID, &e.Reference, &e.Kind, &e.Amount, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLedgerEntryNotFound
		}
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return &e, nil
}

// ListByUser возвращает записи пользователя, новые первыми.
func (s *PostgresLedgerStorage) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.LedgerEntry, error) {
	query := `
		SELECT id, user_id, order_id, reference, kind, amount, created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.OrderID, &e.Reference, &e.Kind, &e.Amount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, &e)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("rows error: %w", rows.Err())
	}

	return entries, nil
}

// Totals считает текущий баланс, сумму возвратов и сумму оплат с баланса.
func (s *PostgresLedgerStorage) Totals(ctx context.Context, userID uuid.UUID) (*models.BalanceResponse, error) {
	query := `
		SELECT
			COALESCE(SUM(amount), 0),
			COALESCE(SUM(amount) FILTER (WHERE kind = 'refund'), 0),
			COALESCE(-SUM(amount) FILTER (WHERE kind = 'debit'), 0)
		FROM ledger_entries
		WHERE user_id = $1
	`

	var totals models.BalanceResponse
	if err := s.pool.QueryRow(ctx, query, userID).Scan(&totals.Current, &totals.Refunded, &totals.Spent); err != nil {
		return nil, fmt.Errorf("failed to sum ledger: %w", err)
	}
	return &totals, nil
}
