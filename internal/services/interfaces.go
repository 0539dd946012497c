package services

import (
	"context"
	"time"

	"github.com/agamariel/printdesk/internal/models"
	"github.com/google/uuid"
)

// OrderStorage определяет интерфейс для работы с заказами.
type OrderStorage interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Order, error)
	ListAll(ctx context.Context) ([]*models.Order, error)
	ListByProject(ctx context.Context, projectID string) ([]*models.Order, error)
	ListStaleRefunds(ctx context.Context, before time.Time) ([]*models.Order, error)
	Update(ctx context.Context, order *models.Order, prevUpdatedAt time.Time) error
}

// UserStorage определяет интерфейс для работы с пользователями.
type UserStorage interface {
	Create(ctx context.Context, user *models.User) error
	GetByLogin(ctx context.Context, login string) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// LedgerStorage определяет интерфейс журнала баланса.
type LedgerStorage interface {
	Append(ctx context.Context, entry *models.LedgerEntry) error
	GetByReference(ctx context.Context, reference string) (*models.LedgerEntry, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.LedgerEntry, error)
	Totals(ctx context.Context, userID uuid.UUID) (*models.BalanceResponse, error)
}

// ConversationStorage определяет интерфейс для обращений и сообщений.
// Изменения выполняются точечными операциями над отдельными полями.
type ConversationStorage interface {
	Create(ctx context.Context, c *models.Conversation) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Conversation, error)
	List(ctx context.Context, customerID *uuid.UUID) ([]*models.Conversation, error)
	ListOpenForTerminalOrders(ctx context.Context) ([]*models.Conversation, error)
	SetLastRead(ctx context.Context, id uuid.UUID, role models.Role, at time.Time) error
	SetTyping(ctx context.Context, id uuid.UUID, role models.Role, at time.Time) error
	ClearTyping(ctx context.Context, id uuid.UUID, role models.Role) error
	SetStatus(ctx context.Context, id uuid.UUID, from, to models.ConversationStatus, at time.Time) error
	AppendMessage(ctx context.Context, m *models.Message) error
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*models.Message, error)
	UnreadCounts(ctx context.Context, reader models.Role, ids []uuid.UUID) (map[uuid.UUID]int, error)
}

// ConversationCloser закрывает обращение заказа, дошедшего до конечного статуса.
type ConversationCloser interface {
	CloseForOrder(ctx context.Context, orderID uuid.UUID) error
}
