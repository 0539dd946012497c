package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TypingStaleAfter окно, после которого сигнал «печатает» считается устаревшим.
const TypingStaleAfter = 3 * time.Second

// Role роль участника переписки.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleSystem   Role = "system"
)

// Valid сообщает, известна ли роль.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleStaff, RoleSystem:
		return true
	}
	return false
}

// Opposite возвращает противоположную сторону переписки.
func (r Role) Opposite() Role {
	switch r {
	case RoleCustomer:
		return RoleStaff
	case RoleStaff:
		return RoleCustomer
	}
	return RoleSystem
}

// ConversationStatus статус обращения в поддержку.
type ConversationStatus string

const (
	ConversationOpen       ConversationStatus = "open"
	ConversationInProgress ConversationStatus = "in_progress"
	ConversationResolved   ConversationStatus = "resolved"
	ConversationClosed     ConversationStatus = "closed"
)

func (s ConversationStatus) rank() int {
	switch s {
	case ConversationOpen:
		return 0
	case ConversationInProgress:
		return 1
	case ConversationResolved:
		return 2
	case ConversationClosed:
		return 3
	}
	return -1
}

// Valid сообщает, известен ли статус.
func (s ConversationStatus) Valid() bool {
	return s.rank() >= 0
}

// Label возвращает название статуса для интерфейса.
func (s ConversationStatus) Label() string {
	switch s {
	case ConversationOpen:
		return "Open"
	case ConversationInProgress:
		return "In progress"
	case ConversationResolved:
		return "Resolved"
	case ConversationClosed:
		return "Closed"
	}
	return "Unknown"
}

// ValidateConversationTransition разрешает только движение вперёд: open → in_progress → resolved → closed.
func ValidateConversationTransition(from, to ConversationStatus) error {
	if !to.Valid() {
		return &TransitionError{Entity: "conversation status", From: string(from), To: string(to), Reason: "unknown status"}
	}
	if from == to {
		return nil
	}
	if from == ConversationClosed {
		return &TransitionError{Entity: "conversation status", From: string(from), To: string(to), Reason: "conversation is closed"}
	}
	if to.rank() < from.rank() {
		return &TransitionError{Entity: "conversation status", From: string(from), To: string(to), Reason: "status can only move forward"}
	}
	return nil
}

// Conversation обращение в поддержку, привязанное к заказу.
type Conversation struct {
	ID                 uuid.UUID          `db:"id"`
	OrderID            uuid.UUID          `db:"order_id"`
	CustomerID         uuid.UUID          `db:"customer_id"`
	ProjectID          *string            `db:"project_id"`
	Subject            string             `db:"subject"`
	Status             ConversationStatus `db:"status"`
	CustomerLastReadAt *time.Time         `db:"customer_last_read_at"`
	StaffLastReadAt    *time.Time         `db:"staff_last_read_at"`
	TypingRole         *Role              `db:"typing_role"`
	TypingAt           *time.Time         `db:"typing_at"`
	CreatedAt          time.Time          `db:"created_at"`
	UpdatedAt          time.Time          `db:"updated_at"`
}

// LastReadAt возвращает отметку прочтения для роли.
func (c *Conversation) LastReadAt(role Role) *time.Time {
	switch role {
	case RoleCustomer:
		return c.CustomerLastReadAt
	case RoleStaff:
		return c.StaffLastReadAt
	}
	return nil
}

// SetLastReadAt выставляет отметку прочтения для роли.
func (c *Conversation) SetLastReadAt(role Role, at time.Time) {
	switch role {
	case RoleCustomer:
		c.CustomerLastReadAt = &at
	case RoleStaff:
		c.StaffLastReadAt = &at
	}
}

// TypingBy сообщает, печатает ли указанная роль на момент now.
// Сигнал старше TypingStaleAfter считается ложным, даже если его не сбросили.
func (c *Conversation) TypingBy(role Role, now time.Time) bool {
	return IsTyping(c.TypingRole, c.TypingAt, role, now)
}

// IsTyping общая проверка сигнала «печатает».
func IsTyping(typingRole *Role, typingAt *time.Time, role Role, now time.Time) bool {
	if typingRole == nil || typingAt == nil || *typingRole != role {
		return false
	}
	return now.Sub(*typingAt) < TypingStaleAfter
}

// Clone возвращает независимую копию.
func (c *Conversation) Clone() *Conversation {
	out := *c
	if c.ProjectID != nil {
		v := *c.ProjectID
		out.ProjectID = &v
	}
	if c.CustomerLastReadAt != nil {
		v := *c.CustomerLastReadAt
		out.CustomerLastReadAt = &v
	}
	if c.StaffLastReadAt != nil {
		v := *c.StaffLastReadAt
		out.StaffLastReadAt = &v
	}
	if c.TypingRole != nil {
		v := *c.TypingRole
		out.TypingRole = &v
	}
	if c.TypingAt != nil {
		v := *c.TypingAt
		out.TypingAt = &v
	}
	return &out
}

// Message сообщение в обращении. Не изменяется после создания.
type Message struct {
	ID             uuid.UUID  `db:"id"`
	ConversationID uuid.UUID  `db:"conversation_id"`
	SenderRole     Role       `db:"sender_role"`
	SenderID       *uuid.UUID `db:"sender_id"`
	Body           string     `db:"body"`
	Attachments    []string   `db:"attachments"`
	CreatedAt      time.Time  `db:"created_at"`
}

// ReadBy сообщает, прочитано ли сообщение противоположной стороной.
func (m *Message) ReadBy(c *Conversation) bool {
	if m.SenderRole == RoleSystem {
		return true
	}
	marker := c.LastReadAt(m.SenderRole.Opposite())
	return marker != nil && !m.CreatedAt.After(*marker)
}

// UnreadFor считает непрочитанные сообщения для читателя:
// сообщения противоположной стороны новее его последней отметки прочтения.
func UnreadFor(c *Conversation, messages []*Message, reader Role) int {
	marker := c.LastReadAt(reader)
	opposite := reader.Opposite()
	count := 0
	for _, m := range messages {
		if m.SenderRole != opposite {
			continue
		}
		if marker == nil || m.CreatedAt.After(*marker) {
			count++
		}
	}
	return count
}

// CreateConversationRequest DTO для открытия обращения.
type CreateConversationRequest struct {
	OrderID     uuid.UUID `json:"order_id"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	Attachments []string  `json:"attachments,omitempty"`
}

// PostMessageRequest DTO для отправки сообщения.
type PostMessageRequest struct {
	Body        string   `json:"body"`
	Attachments []string `json:"attachments,omitempty"`
}

// Validate проверяет сообщение.
func (r *PostMessageRequest) Validate() error {
	if r.Body == "" && len(r.Attachments) == 0 {
		return fmt.Errorf("message body is empty")
	}
	return nil
}

// TypingRequest DTO для сигнала «печатает».
type TypingRequest struct {
	Typing bool `json:"typing"`
}

// ConversationStatusRequest DTO для смены статуса обращения.
type ConversationStatusRequest struct {
	Status ConversationStatus `json:"status"`
}

// ConversationView представление обращения для конкретного читателя.
type ConversationView struct {
	ID          uuid.UUID          `json:"id"`
	OrderID     uuid.UUID          `json:"order_id"`
	CustomerID  uuid.UUID          `json:"customer_id"`
	ProjectID   *string            `json:"project_id,omitempty"`
	Subject     string             `json:"subject"`
	Status      ConversationStatus `json:"status"`
	UnreadCount int                `json:"unread_count"`
	Typing      bool               `json:"typing"`
	TypingRole  *Role              `json:"typing_role,omitempty"`
	TypingAt    *time.Time         `json:"typing_at,omitempty"`
	LastReadAt  *time.Time         `json:"last_read_at,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// NewConversationView строит представление для читателя на момент now.
func NewConversationView(c *Conversation, reader Role, unread int, now time.Time) ConversationView {
	return ConversationView{
		ID:          c.ID,
		OrderID:     c.OrderID,
		CustomerID:  c.CustomerID,
		ProjectID:   c.ProjectID,
		Subject:     c.Subject,
		Status:      c.Status,
		UnreadCount: unread,
		Typing:      c.TypingBy(reader.Opposite(), now),
		TypingRole:  c.TypingRole,
		TypingAt:    c.TypingAt,
		LastReadAt:  c.LastReadAt(reader),
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

// MessageView представление сообщения для API.
type MessageView struct {
	ID             uuid.UUID  `json:"id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	SenderRole     Role       `json:"sender_role"`
	SenderID       *uuid.UUID `json:"sender_id,omitempty"`
	Body           string     `json:"body"`
	Attachments    []string   `json:"attachments,omitempty"`
	Read           bool       `json:"read"`
	CreatedAt      time.Time  `json:"created_at"`
}

// NewMessageView строит представление сообщения.
func NewMessageView(m *Message, c *Conversation) MessageView {
	return MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderRole:     m.SenderRole,
		SenderID:       m.SenderID,
		Body:           m.Body,
		Attachments:    m.Attachments,
		Read:           m.ReadBy(c),
		CreatedAt:      m.CreatedAt,
	}
}

// ConversationListResponse снимок списка обращений.
type ConversationListResponse struct {
	ServerTime    time.Time          `json:"server_time"`
	Conversations []ConversationView `json:"conversations"`
}

// MessageListResponse снимок сообщений обращения.
type MessageListResponse struct {
	ServerTime   time.Time        `json:"server_time"`
	Conversation ConversationView `json:"conversation"`
	Messages     []MessageView    `json:"messages"`
}

// OrderListResponse снимок списка заказов.
type OrderListResponse struct {
	ServerTime time.Time        `json:"server_time"`
	Orders     []*OrderResponse `json:"orders"`
}
