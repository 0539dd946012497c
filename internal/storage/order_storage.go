package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agamariel/printdesk/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrOrderNotFound      = fmt.Errorf("order %w", models.ErrNotFound)
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrConcurrentUpdate возвращается, если запись изменили между чтением и записью.
	ErrConcurrentUpdate = errors.New("record was modified concurrently")
)

const orderColumns = `
	id, user_id, project_id, status, prior_status, payment_status, price, paid_amount,
	parameters, shipping_method, shipping_address, tracking_code,
	refund_method, refund_amount, refund_reason, refund_details,
	pending_update_id, pending_price, pending_parameters, settled_update_id, refunding_since,
	transactions, created_at, updated_at
`

// PostgresOrderStorage реализует хранилище заказов для PostgreSQL.
type PostgresOrderStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresOrderStorage создаёт новый экземпляр PostgresOrderStorage.
func NewPostgresOrderStorage(pool *pgxpool.Pool) *PostgresOrderStorage {
	return &PostgresOrderStorage{pool: pool}
}

// Create создаёт новый заказ.
func (s *PostgresOrderStorage) Create(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}

	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`

	_, err := s.pool.Exec(ctx, query,
		order.ID,
		order.UserID,
		order.ProjectID,
		order.Status,
		order.PriorStatus,
		order.PaymentStatus,
		order.Price,
		order.PaidAmount,
		jsonOrNil(order.Parameters),
		order.ShippingMethod,
		jsonOrNil(order.ShippingAddress),
		order.TrackingCode,
		order.RefundMethod,
		order.RefundAmount,
		order.RefundReason,
		jsonOrNil(order.RefundDetails),
		order.PendingUpdateID,
		order.PendingPrice,
		jsonOrNil(order.PendingParameters),
		order.SettledUpdateID,
		order.RefundingSince,
		transactionsOrEmpty(order.Transactions),
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return ErrOrderAlreadyExists
		}
		return fmt.Errorf("failed to create order: %w", err)
	}

	return nil
}

// GetByID возвращает заказ по идентификатору.
func (s *PostgresOrderStorage) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return scanOrder(s.pool.QueryRow(ctx, query, id))
}

// ListByUser возвращает заказы пользователя (новые первыми).
func (s *PostgresOrderStorage) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`
	return s.queryOrders(ctx, query, userID)
}

// ListAll возвращает все заказы (для сотрудников).
func (s *PostgresOrderStorage) ListAll(ctx context.Context) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC`
	return s.queryOrders(ctx, query)
}

// ListByProject возвращает все заказы проекта.
func (s *PostgresOrderStorage) ListByProject(ctx context.Context, projectID string) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE project_id = $1 ORDER BY created_at ASC`
	return s.queryOrders(ctx, query, projectID)
}

// ListStaleRefunds возвращает заказы, ожидающие внешнего подтверждения возврата дольше порога.
func (s *PostgresOrderStorage) ListStaleRefunds(ctx context.Context, before time.Time) ([]*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE payment_status = 'refunding' AND refunding_since IS NOT NULL AND refunding_since < $1
		ORDER BY refunding_since ASC
	`
	return s.queryOrders(ctx, query, before)
}

// Update записывает изменённый заказ одной командой.
// prevUpdatedAt защищает от потерянных обновлений: запись применяется,
// только если заказ не менялся с момента чтения.
func (s *PostgresOrderStorage) Update(ctx context.Context, order *models.Order, prevUpdatedAt time.Time) error {
	query := `
		UPDATE orders
		SET status = $2, prior_status = $3, payment_status = $4, price = $5, paid_amount = $6,
			parameters = $7, shipping_method = $8, shipping_address = $9, tracking_code = $10,
			refund_method = $11, refund_amount = $12, refund_reason = $13, refund_details = $14,
			pending_update_id = $15, pending_price = $16, pending_parameters = $17,
			settled_update_id = $18, refunding_since = $19, transactions = $20, updated_at = $21
		WHERE id = $1 AND updated_at = $22
	`

	result, err := s.pool.Exec(ctx, query,
		order.ID,
		order.Status,
		order.PriorStatus,
		order.PaymentStatus,
		order.Price,
		order.PaidAmount,
		jsonOrNil(order.Parameters),
		order.ShippingMethod,
		jsonOrNil(order.ShippingAddress),
		order.TrackingCode,
		order.RefundMethod,
		order.RefundAmount,
		order.RefundReason,
		jsonOrNil(order.RefundDetails),
		order.PendingUpdateID,
		order.PendingPrice,
		jsonOrNil(order.PendingParameters),
		order.SettledUpdateID,
		order.RefundingSince,
		transactionsOrEmpty(order.Transactions),
		order.UpdatedAt,
		prevUpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}

	if result.RowsAffected() == 0 {
		if _, gErr := s.GetByID(ctx, order.ID); errors.Is(gErr, ErrOrderNotFound) {
			return ErrOrderNotFound
		}
		return ErrConcurrentUpdate
	}

	return nil
}

func (s *PostgresOrderStorage) queryOrders(ctx context.Context, query string, args ...any) ([]*models.Order, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("rows error: %w", rows.Err())
	}

	return orders, nil
}

// scanOrder помогает читать заказ из строки результата.
func scanOrder(row pgx.Row) (*models.Order, error) {
	var (
		order                                             models.Order
		parameters, address, refundDetails, pendingParams []byte
	)

	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.ProjectID,
		&order.Status,
		&order.PriorStatus,
		&order.PaymentStatus,
		&order.Price,
		&order.PaidAmount,
		&parameters,
		&order.ShippingMethod,
		&address,
		&order.TrackingCode,
		&order.RefundMethod,
		&order.RefundAmount,
		&order.RefundReason,
		&refundDetails,
		&order.PendingUpdateID,
		&order.PendingPrice,
		&pendingParams,
		&order.SettledUpdateID,
		&order.RefundingSince,
		&order.Transactions,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}

	order.Parameters = parameters
	order.ShippingAddress = address
	order.RefundDetails = refundDetails
	if len(pendingParams) > 0 {
		order.PendingParameters = pendingParams
	}

	return &order, nil
}

// jsonOrNil передаёт пустой JSON как NULL.
func jsonOrNil(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// transactionsOrEmpty передаёт пустой список как '{}', столбец NOT NULL.
func transactionsOrEmpty(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
