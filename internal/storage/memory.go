package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agamariel/printdesk/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memoryDB общее состояние хранилищ в памяти под одним мьютексом.
type memoryDB struct {
	mu            sync.Mutex
	users         map[uuid.UUID]*models.User
	orders        map[uuid.UUID]*models.Order
	conversations map[uuid.UUID]*models.Conversation
	messages      map[uuid.UUID][]*models.Message
	ledger        []*models.LedgerEntry
}

// MemoryStore набор хранилищ в памяти. Используется без DATABASE_URI и в тестах.
type MemoryStore struct {
	Users         *MemoryUserStorage
	Orders        *MemoryOrderStorage
	Conversations *MemoryConversationStorage
	Ledger        *MemoryLedgerStorage
}

// NewMemoryStore создаёт пустое хранилище в памяти.
func NewMemoryStore() *MemoryStore {
	db := &memoryDB{
		users:         make(map[uuid.UUID]*models.User),
		orders:        make(map[uuid.UUID]*models.Order),
		conversations: make(map[uuid.UUID]*models.Conversation),
		messages:      make(map[uuid.UUID][]*models.Message),
	}
	return &MemoryStore{
		Users:         &MemoryUserStorage{db: db},
		Orders:        &MemoryOrderStorage{db: db},
		Conversations: &MemoryConversationStorage{db: db},
		Ledger:        &MemoryLedgerStorage{db: db},
	}
}

// MemoryUserStorage пользователи в памяти.
type MemoryUserStorage struct {
	db *memoryDB
}

func (s *MemoryUserStorage) Create(_ context.Context, user *models.User) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for _, u := range s.db.users {
		if u.Login == user.Login {
			return ErrLoginExists
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.Role == "" {
		user.Role = models.RoleCustomer
	}
	now := time.Now().UTC()
	user.CreatedAt, user.UpdatedAt = now, now

	stored := *user
	s.db.users[user.ID] = &stored
	return nil
}

func (s *MemoryUserStorage) GetByLogin(_ context.Context, login string) (*models.User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for _, u := range s.db.users {
		if u.Login == login {
			out := *u
			return &out, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *MemoryUserStorage) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	u, ok := s.db.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	out := *u
	return &out, nil
}

// MemoryOrderStorage заказы в памяти.
type MemoryOrderStorage struct {
	db *memoryDB
}

func (s *MemoryOrderStorage) Create(_ context.Context, order *models.Order) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if _, ok := s.db.orders[order.ID]; ok {
		return ErrOrderAlreadyExists
	}
	s.db.orders[order.ID] = order.Clone()
	return nil
}

func (s *MemoryOrderStorage) GetByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	o, ok := s.db.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (s *MemoryOrderStorage) ListByUser(_ context.Context, userID uuid.UUID) ([]*models.Order, error) {
	return s.filter(func(o *models.Order) bool { return o.UserID == userID }, true), nil
}

func (s *MemoryOrderStorage) ListAll(_ context.Context) ([]*models.Order, error) {
	return s.filter(func(*models.Order) bool { return true }, true), nil
}

func (s *MemoryOrderStorage) ListByProject(_ context.Context, projectID string) ([]*models.Order, error) {
	return s.filter(func(o *models.Order) bool {
		return o.ProjectID != nil && *o.ProjectID == projectID
	}, false), nil
}

func (s *MemoryOrderStorage) ListStaleRefunds(_ context.Context, before time.Time) ([]*models.Order, error) {
	return s.filter(func(o *models.Order) bool {
		return o.PaymentStatus == models.PaymentStatusRefunding &&
			o.RefundingSince != nil && o.RefundingSince.Before(before)
	}, false), nil
}

func (s *MemoryOrderStorage) Update(_ context.Context, order *models.Order, prevUpdatedAt time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	current, ok := s.db.orders[order.ID]
	if !ok {
		return ErrOrderNotFound
	}
	if !current.UpdatedAt.Equal(prevUpdatedAt) {
		return ErrConcurrentUpdate
	}
	s.db.orders[order.ID] = order.Clone()
	return nil
}

func (s *MemoryOrderStorage) filter(keep func(*models.Order) bool, newestFirst bool) []*models.Order {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var out []*models.Order
	for _, o := range s.db.orders {
		if keep(o) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// MemoryConversationStorage обращения и сообщения в памяти.
type MemoryConversationStorage struct {
	db *memoryDB
}

func (s *MemoryConversationStorage) Create(_ context.Context, c *models.Conversation) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for _, existing := range s.db.conversations {
		if existing.OrderID == c.OrderID {
			return ErrConversationExists
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	s.db.conversations[c.ID] = c.Clone()
	return nil
}

func (s *MemoryConversationStorage) GetByID(_ context.Context, id uuid.UUID) (*models.Conversation, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	c, ok := s.db.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return c.Clone(), nil
}

func (s *MemoryConversationStorage) GetByOrderID(_ context.Context, orderID uuid.UUID) (*models.Conversation, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for _, c := range s.db.conversations {
		if c.OrderID == orderID {
			return c.Clone(), nil
		}
	}
	return nil, ErrConversationNotFound
}

func (s *MemoryConversationStorage) List(_ context.Context, customerID *uuid.UUID) ([]*models.Conversation, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var out []*models.Conversation
	for _, c := range s.db.conversations {
		if customerID == nil || c.CustomerID == *customerID {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryConversationStorage) ListOpenForTerminalOrders(_ context.Context) ([]*models.Conversation, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var out []*models.Conversation
	for _, c := range s.db.conversations {
		if c.Status == models.ConversationClosed {
			continue
		}
		if o, ok := s.db.orders[c.OrderID]; ok && o.Status.Terminal() {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

func (s *MemoryConversationStorage) SetLastRead(_ context.Context, id uuid.UUID, role models.Role, at time.Time) error {
	if _, err := readColumn(role); err != nil {
		return err
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	c, ok := s.db.conversations[id]
	if !ok {
		return ErrConversationNotFound
	}
	advanceRead(c, role, at)
	return nil
}

func (s *MemoryConversationStorage) SetTyping(_ context.Context, id uuid.UUID, role models.Role, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	c, ok := s.db.conversations[id]
	if !ok {
		return ErrConversationNotFound
	}
	c.TypingRole = &role
	c.TypingAt = &at
	return nil
}

func (s *MemoryConversationStorage) ClearTyping(_ context.Context, id uuid.UUID, role models.Role) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	c, ok := s.db.conversations[id]
	if !ok {
		return nil
	}
	if c.TypingRole != nil && *c.TypingRole == role {
		c.TypingRole = nil
		c.TypingAt = nil
	}
	return nil
}

func (s *MemoryConversationStorage) SetStatus(_ context.Context, id uuid.UUID, from, to models.ConversationStatus, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	c, ok := s.db.conversations[id]
	if !ok {
		return ErrConversationNotFound
	}
	if c.Status != from {
		return ErrConcurrentUpdate
	}
	c.Status = to
	c.UpdatedAt = at
	return nil
}

func (s *MemoryConversationStorage) AppendMessage(_ context.Context, m *models.Message) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	c, ok := s.db.conversations[m.ConversationID]
	if !ok {
		return ErrConversationNotFound
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}

	stored := *m
	stored.Attachments = append([]string(nil), m.Attachments...)
	s.db.messages[m.ConversationID] = append(s.db.messages[m.ConversationID], &stored)

	c.UpdatedAt = m.CreatedAt
	if _, err := readColumn(m.SenderRole); err == nil {
		advanceRead(c, m.SenderRole, m.CreatedAt)
		if c.TypingRole != nil && *c.TypingRole == m.SenderRole {
			c.TypingRole = nil
			c.TypingAt = nil
		}
	}
	return nil
}

func (s *MemoryConversationStorage) ListMessages(_ context.Context, conversationID uuid.UUID) ([]*models.Message, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	stored := s.db.messages[conversationID]
	out := make([]*models.Message, 0, len(stored))
	for _, m := range stored {
		cp := *m
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryConversationStorage) UnreadCounts(_ context.Context, reader models.Role, ids []uuid.UUID) (map[uuid.UUID]int, error) {
	if _, err := readColumn(reader); err != nil {
		return nil, err
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	counts := make(map[uuid.UUID]int, len(ids))
	for _, id := range ids {
		c, ok := s.db.conversations[id]
		if !ok {
			continue
		}
		counts[id] = models.UnreadFor(c, s.db.messages[id], reader)
	}
	return counts, nil
}

func advanceRead(c *models.Conversation, role models.Role, at time.Time) {
	current := c.LastReadAt(role)
	if current != nil && !at.After(*current) {
		return
	}
	c.SetLastReadAt(role, at)
}

// MemoryLedgerStorage журнал баланса в памяти.
type MemoryLedgerStorage struct {
	db *memoryDB
}

func (s *MemoryLedgerStorage) Append(_ context.Context, entry *models.LedgerEntry) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for _, e := range s.db.ledger {
		if e.Reference == entry.Reference {
			return ErrLedgerEntryExists
		}
	}

	if entry.Amount.IsNegative() {
		current := decimal.Zero
		for _, e := range s.db.ledger {
			if e.UserID == entry.UserID {
				current = current.Add(e.Amount)
			}
		}
		if current.LessThan(entry.Amount.Neg()) {
			return ErrInsufficientBalance
		}
	}

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	stored := *entry
	s.db.ledger = append(s.db.ledger, &stored)
	return nil
}

func (s *MemoryLedgerStorage) GetByReference(_ context.Context, reference string) (*models.LedgerEntry, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for _, e := range s.db.ledger {
		if e.Reference == reference {
			out := *e
			return &out, nil
		}
	}
	return nil, ErrLedgerEntryNotFound
}

func (s *MemoryLedgerStorage) ListByUser(_ context.Context, userID uuid.UUID) ([]*models.LedgerEntry, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var out []*models.LedgerEntry
	for _, e := range s.db.ledger {
		if e.UserID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryLedgerStorage) Totals(_ context.Context, userID uuid.UUID) (*models.BalanceResponse, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	totals := &models.BalanceResponse{Current: decimal.Zero, Refunded: decimal.Zero, Spent: decimal.Zero}
	for _, e := range s.db.ledger {
		if e.UserID != userID {
			continue
		}
		totals.Current = totals.Current.Add(e.Amount)
		switch e.Kind {
		case models.LedgerKindRefund:
			totals.Refunded = totals.Refunded.Add(e.Amount)
		case models.LedgerKindDebit:
			totals.Spent = totals.Spent.Sub(e.Amount)
		}
	}
	return totals, nil
}
