// Package reconcile синхронизирует клиентское состояние с сервером опросом:
// каждый снимок заменяет локальное состояние целиком, а непрочитанные и
// «печатает» выводятся заново из последнего применённого снимка.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agamariel/printdesk/internal/logging"
	"github.com/agamariel/printdesk/internal/metrics"
	"github.com/agamariel/printdesk/internal/models"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPollInterval      = 2 * time.Second
	DefaultOrderPollInterval = 10 * time.Second
)

// ErrNoOpenConversation действие требует открытого обращения.
var ErrNoOpenConversation = errors.New("no conversation is open")

// Source серверная сторона протокола.
type Source interface {
	ListConversations(ctx context.Context) (*models.ConversationListResponse, error)
	ListOrders(ctx context.Context) (*models.OrderListResponse, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID) (*models.MessageListResponse, error)
	PostMessage(ctx context.Context, conversationID uuid.UUID, body string) (*models.MessageView, error)
	MarkRead(ctx context.Context, conversationID uuid.UUID) error
	SetTyping(ctx context.Context, conversationID uuid.UUID, typing bool) error
}

// Options параметры Reconciler.
type Options struct {
	Role              models.Role
	PollInterval      time.Duration
	OrderPollInterval time.Duration
	TypingHeartbeat   time.Duration
	TypingIdle        time.Duration
	// OnChange вызывается после каждого применённого снимка или локального изменения.
	OnChange func(View)
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Reconciler опрашивает Source и поддерживает локальный View.
type Reconciler struct {
	source       Source
	role         models.Role
	pollInterval time.Duration
	orderPoll    time.Duration
	heartbeat    time.Duration
	idle         time.Duration
	onChange     func(View)
	metrics      *metrics.Metrics
	logger       *slog.Logger
	now          func() time.Time

	mu sync.Mutex
	// issued растёт при каждом запросе; снимок применяется, только если
	// его номер больше номера последнего применённого снимка того же потока.
	issued       uint64
	convApplied  uint64
	orderApplied uint64
	msgApplied   uint64

	serverTime    time.Time
	conversations []models.ConversationView
	orders        []*models.OrderResponse

	openID   uuid.UUID
	isOpen   bool
	snapshot *models.MessageListResponse
	pending  []LocalMessage
	typing   *Typing
}

// New создаёт Reconciler.
func New(source Source, opts Options) *Reconciler {
	if opts.Role == "" {
		opts.Role = models.RoleCustomer
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.OrderPollInterval <= 0 {
		opts.OrderPollInterval = DefaultOrderPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New("printdesk_client")
	}
	return &Reconciler{
		source:       source,
		role:         opts.Role,
		pollInterval: opts.PollInterval,
		orderPoll:    opts.OrderPollInterval,
		heartbeat:    opts.TypingHeartbeat,
		idle:         opts.TypingIdle,
		onChange:     opts.OnChange,
		metrics:      opts.Metrics,
		logger:       opts.Logger.With("component", "reconcile"),
		now:          time.Now,
	}
}

// Run опрашивает сервер до отмены ctx: обращения каждые PollInterval,
// заказы каждые OrderPollInterval. Ошибки отдельных опросов только логируются.
func (r *Reconciler) Run(ctx context.Context) error {
	r.tickLogged(ctx)
	r.ordersLogged(ctx)

	convTicker := time.NewTicker(r.pollInterval)
	defer convTicker.Stop()
	orderTicker := time.NewTicker(r.orderPoll)
	defer orderTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Close()
			return nil
		case <-convTicker.C:
			r.tickLogged(ctx)
		case <-orderTicker.C:
			r.ordersLogged(ctx)
		}
	}
}

func (r *Reconciler) tickLogged(ctx context.Context) {
	if err := r.Tick(ctx); err != nil && ctx.Err() == nil {
		r.logger.Warn("poll failed", "error", err)
	}
}

func (r *Reconciler) ordersLogged(ctx context.Context) {
	if err := r.TickOrders(ctx); err != nil && ctx.Err() == nil {
		r.logger.Warn("order poll failed", "error", err)
	}
}

// Tick один цикл опроса обращений: список и, если открыто обращение, его сообщения.
// Запросы идут параллельно; сбой одного не мешает применить другой.
func (r *Reconciler) Tick(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error {
		return r.pullConversations(ctx)
	})
	if id, ok := r.opened(); ok {
		g.Go(func() error {
			return r.pullMessages(ctx, id)
		})
	}
	return g.Wait()
}

// TickOrders один цикл опроса заказов.
func (r *Reconciler) TickOrders(ctx context.Context) error {
	seq := r.issue()
	resp, err := r.source.ListOrders(ctx)
	if err != nil {
		return fmt.Errorf("list orders: %w", err)
	}

	r.mu.Lock()
	if !r.accept(seq, &r.orderApplied, "orders") {
		r.mu.Unlock()
		return nil
	}
	r.orders = resp.Orders
	view := r.viewLocked()
	r.mu.Unlock()

	r.emit(view)
	return nil
}

// Open открывает обращение и сразу загружает его сообщения.
func (r *Reconciler) Open(ctx context.Context, conversationID uuid.UUID) error {
	prev := r.swapOpen(conversationID, true)
	if prev != nil {
		prev.Stop(ctx)
	}
	return r.pullMessages(ctx, conversationID)
}

// Close закрывает открытое обращение и снимает сигнал набора.
func (r *Reconciler) Close() {
	prev := r.swapOpen(uuid.Nil, false)
	if prev != nil {
		prev.Stop(context.Background())
	}
	r.emit(r.View())
}

func (r *Reconciler) swapOpen(id uuid.UUID, open bool) *Typing {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.typing
	r.openID = id
	r.isOpen = open
	r.snapshot = nil
	r.pending = nil
	r.typing = nil
	// ответы по прежнему обращению, ещё находящиеся в пути, отбрасываются
	r.issued++
	r.msgApplied = r.issued
	if open {
		r.typing = NewTyping(func(ctx context.Context, typing bool) error {
			return r.source.SetTyping(ctx, id, typing)
		}, r.heartbeat, r.idle, r.logger)
	}
	return prev
}

// Keystroke передаёт нажатие клавиши в дебаунсер открытого обращения.
func (r *Reconciler) Keystroke(ctx context.Context) {
	r.mu.Lock()
	t := r.typing
	r.mu.Unlock()
	if t != nil {
		t.Keystroke(ctx)
	}
}

// Send отправляет сообщение в открытое обращение. Сообщение сразу появляется
// в View как Pending и остаётся там, пока его не вернёт очередной снимок.
func (r *Reconciler) Send(ctx context.Context, body string) (*models.MessageView, error) {
	r.mu.Lock()
	if !r.isOpen {
		r.mu.Unlock()
		return nil, ErrNoOpenConversation
	}
	convID := r.openID
	localID := uuid.New()
	r.pending = append(r.pending, LocalMessage{
		MessageView: models.MessageView{
			ID:             localID,
			ConversationID: convID,
			SenderRole:     r.role,
			Body:           body,
			CreatedAt:      r.now().UTC(),
		},
		Pending: true,
	})
	t := r.typing
	view := r.viewLocked()
	r.mu.Unlock()
	r.emit(view)

	if t != nil {
		t.Stop(ctx)
	}

	msg, err := r.source.PostMessage(ctx, convID, body)

	r.mu.Lock()
	for i := range r.pending {
		if r.pending[i].ID != localID {
			continue
		}
		if err != nil {
			r.pending[i].Failed = true
		} else {
			r.pending[i].MessageView = *msg
		}
		break
	}
	if err == nil {
		// снимок с этим сообщением мог прийти раньше ответа
		r.prunePending()
	}
	view = r.viewLocked()
	r.mu.Unlock()
	r.emit(view)

	if err != nil {
		return nil, fmt.Errorf("post message: %w", err)
	}
	return msg, nil
}

// View возвращает текущий снимок.
func (r *Reconciler) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

func (r *Reconciler) pullConversations(ctx context.Context) error {
	seq := r.issue()
	resp, err := r.source.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}

	r.mu.Lock()
	if !r.accept(seq, &r.convApplied, "conversations") {
		r.mu.Unlock()
		return nil
	}
	r.serverTime = resp.ServerTime
	r.conversations = resp.Conversations
	view := r.viewLocked()
	r.mu.Unlock()

	r.emit(view)
	return nil
}

func (r *Reconciler) pullMessages(ctx context.Context, id uuid.UUID) error {
	seq := r.issue()
	resp, err := r.source.ListMessages(ctx, id)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}

	r.mu.Lock()
	if !r.isOpen || r.openID != id || !r.accept(seq, &r.msgApplied, "messages") {
		r.mu.Unlock()
		return nil
	}
	r.snapshot = resp
	r.prunePending()
	unread := unreadMessages(resp.Messages, r.role)
	view := r.viewLocked()
	r.mu.Unlock()
	r.emit(view)

	if unread == 0 {
		return nil
	}
	if err := r.source.MarkRead(ctx, id); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	r.markReadLocally(id)
	return nil
}

// markReadLocally отражает успешный markRead до следующего снимка.
func (r *Reconciler) markReadLocally(id uuid.UUID) {
	r.mu.Lock()
	if r.snapshot != nil && r.openID == id {
		for i := range r.snapshot.Messages {
			if r.snapshot.Messages[i].SenderRole == r.role.Opposite() {
				r.snapshot.Messages[i].Read = true
			}
		}
		r.snapshot.Conversation.UnreadCount = 0
	}
	for i := range r.conversations {
		if r.conversations[i].ID == id {
			r.conversations[i].UnreadCount = 0
		}
	}
	view := r.viewLocked()
	r.mu.Unlock()
	r.emit(view)
}

// prunePending убирает подтверждённые сообщения, уже вошедшие в снимок. Вызывается под мьютексом.
func (r *Reconciler) prunePending() {
	if r.snapshot == nil || len(r.pending) == 0 {
		return
	}
	seen := make(map[uuid.UUID]struct{}, len(r.snapshot.Messages))
	for _, m := range r.snapshot.Messages {
		seen[m.ID] = struct{}{}
	}
	kept := r.pending[:0]
	for _, p := range r.pending {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		kept = append(kept, p)
	}
	r.pending = kept
}

func (r *Reconciler) issue() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issued++
	return r.issued
}

// accept вызывается под мьютексом.
func (r *Reconciler) accept(seq uint64, applied *uint64, stream string) bool {
	if seq <= *applied {
		r.metrics.SnapshotsDiscarded.WithLabelValues(stream).Inc()
		r.logger.Debug("discarding out-of-order snapshot", "stream", stream, "seq", seq, "applied", *applied)
		return false
	}
	*applied = seq
	r.metrics.SnapshotsApplied.WithLabelValues(stream).Inc()
	return true
}

func (r *Reconciler) opened() (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openID, r.isOpen
}

// viewLocked строит View из последних снимков. Вызывается под мьютексом.
func (r *Reconciler) viewLocked() View {
	v := View{
		ServerTime:    r.serverTime,
		Conversations: make([]ConversationState, 0, len(r.conversations)),
		Orders:        r.orders,
	}
	for _, c := range r.conversations {
		state := deriveConversation(c, r.role, r.serverTime)
		v.TotalUnread += state.Unread
		v.Conversations = append(v.Conversations, state)
	}

	if r.isOpen && r.snapshot != nil {
		open := &OpenConversation{
			Conversation: deriveConversation(r.snapshot.Conversation, r.role, r.snapshot.ServerTime),
			Messages:     make([]LocalMessage, 0, len(r.snapshot.Messages)+len(r.pending)),
		}
		open.Conversation.Unread = unreadMessages(r.snapshot.Messages, r.role)
		for _, m := range r.snapshot.Messages {
			open.Messages = append(open.Messages, LocalMessage{MessageView: m})
		}
		open.Messages = append(open.Messages, r.pending...)
		v.Open = open
	}
	return v
}

func (r *Reconciler) emit(v View) {
	if r.onChange != nil {
		r.onChange(v)
	}
}
