package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agamariel/printdesk/internal/metrics"
	"github.com/agamariel/printdesk/internal/models"
	"github.com/agamariel/printdesk/internal/notify"
	"github.com/agamariel/printdesk/internal/payment"
	"github.com/agamariel/printdesk/internal/staging"
	"github.com/agamariel/printdesk/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mu       sync.Mutex
	err      error
	failFor  map[uuid.UUID]bool
	refunds  []payment.Refund
	redirect string
}

func (g *fakeGateway) CreateRedirect(_ context.Context, order *models.Order) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	return g.redirect + order.ID.String(), nil
}

func (g *fakeGateway) RequestRefund(_ context.Context, refund payment.Refund) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	if g.failFor[refund.OrderID] {
		return errors.New("gateway rejected refund")
	}
	g.refunds = append(g.refunds, refund)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	err    error
	events []notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, event notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Name)
	}
	return out
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	store    *storage.MemoryStore
	staged   *staging.MemoryStore
	gateway  *fakeGateway
	notifier *recordingNotifier
	metrics  *metrics.Metrics
	orders   *OrderServiceImpl
	projects *ProjectServiceImpl
	convs    *ConversationServiceImpl

	mu  sync.Mutex
	now time.Time

	customer models.Viewer
	staff    models.Viewer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		store:    storage.NewMemoryStore(),
		staged:   staging.NewMemoryStore(),
		gateway:  &fakeGateway{redirect: "https://pay.example/checkout/"},
		notifier: &recordingNotifier{},
		metrics:  metrics.New("test"),
		now:      time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		customer: models.Viewer{UserID: uuid.New(), Role: models.RoleCustomer},
		staff:    models.Viewer{UserID: uuid.New(), Role: models.RoleStaff},
	}

	f.convs = NewConversationService(f.store.Conversations, f.store.Orders, f.notifier, f.metrics, nil, f.clock)
	f.orders = NewOrderService(OrderServiceDeps{
		Orders:        f.store.Orders,
		Ledger:        f.store.Ledger,
		Staging:       f.staged,
		Gateway:       f.gateway,
		Notifier:      f.notifier,
		Conversations: f.convs,
		Metrics:       f.metrics,
		Now:           f.clock,
	})
	f.projects = NewProjectService(f.store.Orders, f.orders, f.staged, nil)
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// submit создаёт заказ клиента с оплатой через шлюз.
func (f *fixture) submit(price int64, projectID string) *models.Order {
	f.t.Helper()
	req := &models.SubmitOrderRequest{
		Price:          decimal.NewFromInt(price),
		Parameters:     []byte(`{"material":"PLA","infill":20}`),
		ShippingMethod: "courier",
	}
	if projectID != "" {
		req.ProjectID = &projectID
	}
	resp, err := f.orders.SubmitOrder(f.ctx, f.customer.UserID, req)
	require.NoError(f.t, err)
	f.advance(time.Second)
	return f.get(resp.Order.ID)
}

// submitPaid создаёт заказ и подтверждает полную оплату.
func (f *fixture) submitPaid(price int64, projectID string) *models.Order {
	f.t.Helper()
	order := f.submit(price, projectID)
	_, err := f.orders.OnPaymentConfirmed(f.ctx, &models.PaymentConfirmation{
		OrderID:       order.ID,
		TransactionID: "capture-" + order.ID.String(),
		Amount:        decimal.NewFromInt(price),
	})
	require.NoError(f.t, err)
	f.advance(time.Second)
	return f.get(order.ID)
}

func (f *fixture) get(id uuid.UUID) *models.Order {
	f.t.Helper()
	order, err := f.store.Orders.GetByID(f.ctx, id)
	require.NoError(f.t, err)
	return order
}

func (f *fixture) balance() decimal.Decimal {
	f.t.Helper()
	totals, err := f.store.Ledger.Totals(f.ctx, f.customer.UserID)
	require.NoError(f.t, err)
	return totals.Current
}

var errBoom = errors.New("boom")
