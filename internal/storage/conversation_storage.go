package storage

import (
	"context"
	"encoding/json"
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
	ErrConversationNotFound = fmt.Errorf("conversation %w", models.ErrNotFound)
	ErrConversationExists   = errors.New("conversation already exists for order")
)

const conversationColumns = `
	id, order_id, customer_id, project_id, subject, status,
	customer_last_read_at, staff_last_read_at, typing_role, typing_at, created_at, updated_at
`

// PostgresConversationStorage хранит обращения и сообщения в PostgreSQL.
type PostgresConversationStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresConversationStorage создаёт новый экземпляр.
func NewPostgresConversationStorage(pool *pgxpool.Pool) *PostgresConversationStorage {
	return &PostgresConversationStorage{pool: pool}
}

// Create создаёт обращение. На заказ допускается одно обращение.
func (s *PostgresConversationStorage) Create(ctx context.Context, c *models.Conversation) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}

	query := `
		INSERT INTO conversations (` + conversationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.pool.Exec(ctx, query,
		c.ID, c.OrderID, c.CustomerID, c.ProjectID, c.Subject, c.Status,
		c.CustomerLastReadAt, c.StaffLastReadAt, c.TypingRole, c.TypingAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return ErrConversationExists
		}
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// GetByID возвращает обращение по идентификатору.
func (s *PostgresConversationStorage) GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	return scanConversation(s.pool.QueryRow(ctx, query, id))
}

// GetByOrderID возвращает обращение по заказу.
func (s *PostgresConversationStorage) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE order_id = $1`
	return scanConversation(s.pool.QueryRow(ctx, query, orderID))
}

// List возвращает обращения клиента или все обращения, если customerID не задан.
func (s *PostgresConversationStorage) List(ctx context.Context, customerID *uuid.UUID) ([]*models.Conversation, error) {
	if customerID != nil {
		query := `SELECT ` + conversationColumns + ` FROM conversations WHERE customer_id = $1 ORDER BY updated_at DESC`
		return s.queryConversations(ctx, query, *customerID)
	}
	query := `SELECT ` + conversationColumns + ` FROM conversations ORDER BY updated_at DESC`
	return s.queryConversations(ctx, query)
}

// ListOpenForTerminalOrders возвращает незакрытые обращения по завершённым заказам.
func (s *PostgresConversationStorage) ListOpenForTerminalOrders(ctx context.Context) ([]*models.Conversation, error) {
	query := `
		SELECT c.id, c.order_id, c.customer_id, c.project_id, c.subject, c.status,
			c.customer_last_read_at, c.staff_last_read_at, c.typing_role, c.typing_at, c.created_at, c.updated_at
		FROM conversations c
		JOIN orders o ON o.id = c.order_id
		WHERE c.status <> 'closed' AND o.status IN ('delivered', 'suspended')
	`
	return s.queryConversations(ctx, query)
}

// SetLastRead сдвигает отметку прочтения роли вперёд. Более ранняя отметка игнорируется.
func (s *PostgresConversationStorage) SetLastRead(ctx context.Context, id uuid.UUID, role models.Role, at time.Time) error {
	column, err := readColumn(role)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE conversations
		SET %[1]s = GREATEST(COALESCE(%[1]s, $2), $2)
		WHERE id = $1
	`, column)

	return s.execOne(ctx, query, id, at)
}

// SetTyping выставляет сигнал «печатает». Последняя запись выигрывает.
func (s *PostgresConversationStorage) SetTyping(ctx context.Context, id uuid.UUID, role models.Role, at time.Time) error {
	query := `UPDATE conversations SET typing_role = $2, typing_at = $3 WHERE id = $1`
	return s.execOne(ctx, query, id, role, at)
}

// ClearTyping сбрасывает сигнал, только если он принадлежит роли.
func (s *PostgresConversationStorage) ClearTyping(ctx context.Context, id uuid.UUID, role models.Role) error {
	query := `UPDATE conversations SET typing_role = NULL, typing_at = NULL WHERE id = $1 AND typing_role = $2`
	_, err := s.pool.Exec(ctx, query, id, role)
	if err != nil {
		return fmt.Errorf("failed to clear typing: %w", err)
	}
	return nil
}

// SetStatus меняет статус, если текущий статус равен from.
func (s *PostgresConversationStorage) SetStatus(ctx context.Context, id uuid.UUID, from, to models.ConversationStatus, at time.Time) error {
	query := `UPDATE conversations SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	result, err := s.pool.Exec(ctx, query, id, from, to, at)
	if err != nil {
		return fmt.Errorf("failed to update conversation status: %w", err)
	}
	if result.RowsAffected() == 0 {
		if _, gErr := s.GetByID(ctx, id); errors.Is(gErr, ErrConversationNotFound) {
			return ErrConversationNotFound
		}
		return ErrConcurrentUpdate
	}
	return nil
}

// AppendMessage добавляет сообщение и в той же транзакции обновляет обращение:
// время изменения, отметку прочтения отправителя и его сигнал «печатает».
func (s *PostgresConversationStorage) AppendMessage(ctx context.Context, m *models.Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}

	attachments, err := json.Marshal(nonNilStrings(m.Attachments))
	if err != nil {
		return fmt.Errorf("failed to encode attachments: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO messages (id, conversation_id, sender_role, sender_id, body, attachments, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := tx.Exec(ctx, insert, m.ID, m.ConversationID, m.SenderRole, m.SenderID, m.Body, string(attachments), m.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" { // foreign_key_violation
			return ErrConversationNotFound
		}
		return fmt.Errorf("failed to insert message: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE conversations SET updated_at = $2 WHERE id = $1`, m.ConversationID, m.CreatedAt); err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}

	if column, err := readColumn(m.SenderRole); err == nil {
		update := fmt.Sprintf(`
			UPDATE conversations
			SET %[1]s = GREATEST(COALESCE(%[1]s, $2), $2)
			WHERE id = $1
		`, column)
		if _, err := tx.Exec(ctx, update, m.ConversationID, m.CreatedAt); err != nil {
			return fmt.Errorf("failed to advance read marker: %w", err)
		}
		clearTyping := `UPDATE conversations SET typing_role = NULL, typing_at = NULL WHERE id = $1 AND typing_role = $2`
		if _, err := tx.Exec(ctx, clearTyping, m.ConversationID, m.SenderRole); err != nil {
			return fmt.Errorf("failed to clear typing: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}
	return nil
}

// ListMessages возвращает сообщения обращения в порядке создания.
func (s *PostgresConversationStorage) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*models.Message, error) {
	query := `
		SELECT id, conversation_id, sender_role, sender_id, body, attachments, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		var (
			m           models.Message
			attachments []byte
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderRole, &m.SenderID, &m.Body, &attachments, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if len(attachments) > 0 {
			if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
				return nil, fmt.Errorf("failed to decode attachments: %w", err)
			}
		}
		messages = append(messages, &m)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("rows error: %w", rows.Err())
	}
	return messages, nil
}

// UnreadCounts считает непрочитанные сообщения противоположной стороны для каждого обращения.
func (s *PostgresConversationStorage) UnreadCounts(ctx context.Context, reader models.Role, ids []uuid.UUID) (map[uuid.UUID]int, error) {
	column, err := readColumn(reader)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT c.id, COUNT(m.id)
		FROM conversations c
		LEFT JOIN messages m
			ON m.conversation_id = c.id
			AND m.sender_role = $2
			AND (c.%s IS NULL OR m.created_at > c.%s)
		WHERE c.id = ANY($1::uuid[])
		GROUP BY c.id
	`, column, column)

	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}

	rows, err := s.pool.Query(ctx, query, raw, reader.Opposite())
	if err != nil {
		return nil, fmt.Errorf("failed to count unread: %w", err)
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int, len(ids))
	for rows.Next() {
		var (
			id    uuid.UUID
			count int
		)
		if err := rows.Scan(&id, &count); err != nil {
			return nil, fmt.Errorf("failed to scan unread count: %w", err)
		}
		counts[id] = count
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("rows error: %w", rows.Err())
	}
	return counts, nil
}

func (s *PostgresConversationStorage) execOne(ctx context.Context, query string, args ...any) error {
	result, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (s *PostgresConversationStorage) queryConversations(ctx context.Context, query string, args ...any) ([]*models.Conversation, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var out []*models.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("rows error: %w", rows.Err())
	}
	return out, nil
}

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var c models.Conversation
	err := row.Scan(
		&c.ID, &c.OrderID, &c.CustomerID, &c.ProjectID, &c.Subject, &c.Status,
		&c.CustomerLastReadAt, &c.StaffLastReadAt, &c.TypingRole, &c.TypingAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	return &c, nil
}

func readColumn(role models.Role) (string, error) {
	switch role {
	case models.RoleCustomer:
		return "customer_last_read_at", nil
	case models.RoleStaff:
		return "staff_last_read_at", nil
	}
	return "", fmt.Errorf("role %q has no read marker", role)
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
