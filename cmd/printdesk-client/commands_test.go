package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/agamariel/printdesk/internal/client"
	"github.com/agamariel/printdesk/internal/config"
	"github.com/agamariel/printdesk/internal/logging"
	"github.com/agamariel/printdesk/internal/models"
	"github.com/agamariel/printdesk/internal/reconcile"
	"github.com/agamariel/printdesk/internal/staging"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(t *testing.T, h http.HandlerFunc) (*runner, *bytes.Buffer) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	store, err := staging.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "staging.db"), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	out := &bytes.Buffer{}
	return &runner{
		cfg:    &config.ClientConfig{Role: string(models.RoleCustomer)},
		api:    client.New(srv.URL, "tok", time.Second, logging.Discard()),
		staged: store,
		out:    out,
		logger: logging.Discard(),
	}, out
}

func TestRunner_EditStagesThenSettleSendsStagedCopy(t *testing.T) {
	orderID := uuid.New()
	newPrice := decimal.NewFromInt(70)
	pending := &models.PendingUpdate{
		ID:           uuid.New(),
		OrderID:      orderID,
		Kind:         models.PendingUpdateEdit,
		NewPrice:     &newPrice,
		RefundAmount: decimal.NewFromInt(30),
		CreatedAt:    time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	var settled models.SettleRequest

	r, out := newTestRunner(t, func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/api/orders/" + orderID.String() + "/edit":
			_ = json.NewEncoder(w).Encode(models.EditResponse{
				Order:         &models.OrderResponse{ID: orderID},
				RefundAmount:  pending.RefundAmount,
				PendingUpdate: pending,
			})
		case "/api/orders/" + orderID.String() + "/settle":
			require.NoError(t, json.NewDecoder(req.Body).Decode(&settled))
			_ = json.NewEncoder(w).Encode(models.Receipt{
				OrderID:       orderID,
				UpdateID:      pending.ID,
				Method:        settled.Method,
				Amount:        pending.RefundAmount,
				PaymentStatus: models.PaymentStatusRefunded,
			})
		default:
			t.Errorf("unexpected path %s", req.URL.Path)
		}
	})
	ctx := context.Background()

	require.NoError(t, r.run(ctx, []string{"edit", orderID.String(), "70"}))
	assert.Contains(t, out.String(), "refund of 30.00 staged")

	staged, err := r.staged.LoadOrderUpdate(ctx, orderID)
	require.NoError(t, err)
	require.NotNil(t, staged)
	assert.Equal(t, pending.ID, staged.ID)

	require.NoError(t, r.run(ctx, []string{"settle", orderID.String(), "credit"}))
	assert.Equal(t, models.RefundMethodCredit, settled.Method)

	sent, err := models.DecodePendingUpdate(settled.PendingUpdate)
	require.NoError(t, err)
	require.NotNil(t, sent)
	assert.Equal(t, pending.ID, sent.ID)

	staged, err = r.staged.LoadOrderUpdate(ctx, orderID)
	require.NoError(t, err)
	assert.Nil(t, staged, "staged copy must be cleared after settlement")
}

func TestRunner_SettleProjectKeepsStagedCopyOnPartialFailure(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	update := &models.ProjectPendingUpdate{
		ID:        uuid.New(),
		ProjectID: "chess",
		Orders: []models.PendingUpdate{
			{ID: uuid.New(), OrderID: a, Kind: models.PendingUpdateCancel, RefundAmount: decimal.NewFromInt(30)},
			{ID: uuid.New(), OrderID: b, Kind: models.PendingUpdateCancel, RefundAmount: decimal.NewFromInt(20)},
		},
		TotalRefund: decimal.NewFromInt(50),
	}
	partial := true

	r, out := newTestRunner(t, func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/api/projects/chess/cancel":
			_ = json.NewEncoder(w).Encode(update)
		case "/api/projects/chess/settle":
			if partial {
				w.WriteHeader(http.StatusMultiStatus)
				_, _ = w.Write([]byte(`{"project_id":"chess","settled":1,"failed":1,"total":2,` +
					`"failures":[{"order_id":"` + b.String() + `","error":"gateway down"}],` +
					`"message":"1 of 2 succeeded, retry failed ones"}`))
				return
			}
			_, _ = w.Write([]byte(`{"project_id":"chess","settled":2,"failed":0,"total":2}`))
		}
	})
	ctx := context.Background()

	require.NoError(t, r.run(ctx, []string{"cancel-project", "chess"}))
	assert.Contains(t, out.String(), "refund of 50.00 staged")

	require.NoError(t, r.run(ctx, []string{"settle-project", "chess", "original"}))
	assert.Contains(t, out.String(), "1 of 2 succeeded, retry failed ones")
	kept, err := r.staged.LoadProjectUpdate(ctx, "chess")
	require.NoError(t, err)
	require.NotNil(t, kept)

	partial = false
	require.NoError(t, r.run(ctx, []string{"settle-project", "chess", "original"}))
	kept, err = r.staged.LoadProjectUpdate(ctx, "chess")
	require.NoError(t, err)
	assert.Nil(t, kept)
}

func TestRunner_SettleRejectsMalformedLocalCopy(t *testing.T) {
	orderID := uuid.New()
	r, _ := newTestRunner(t, func(w http.ResponseWriter, req *http.Request) {
		t.Errorf("server must not be called, got %s", req.URL.Path)
	})
	ctx := context.Background()

	store := r.staged.(*staging.SQLiteStore)
	require.NoError(t, store.PutRaw(ctx, "pendingOrderUpdate:"+orderID.String(), []byte(`{"kind":"edit"`)))

	err := r.run(ctx, []string{"settle", orderID.String(), "credit"})
	assert.ErrorIs(t, err, models.ErrMalformedPendingUpdate)
}

func TestRunner_Usage(t *testing.T) {
	r, _ := newTestRunner(t, func(http.ResponseWriter, *http.Request) {})
	ctx := context.Background()

	assert.ErrorIs(t, r.run(ctx, nil), errUsage)
	assert.ErrorIs(t, r.run(ctx, []string{"bogus"}), errUsage)
	assert.ErrorIs(t, r.run(ctx, []string{"settle", uuid.NewString()}), errUsage)
	assert.Error(t, r.run(ctx, []string{"settle", uuid.NewString(), "cash"}))
}

func TestRender(t *testing.T) {
	convID := uuid.New()
	view := reconcile.View{
		Conversations: []reconcile.ConversationState{{
			ConversationView: models.ConversationView{ID: convID, Status: models.ConversationOpen},
			Unread:           1,
			PeerTyping:       true,
		}},
		TotalUnread: 1,
		Open: &reconcile.OpenConversation{
			Conversation: reconcile.ConversationState{ConversationView: models.ConversationView{ID: convID, Status: models.ConversationOpen}},
			Messages: []reconcile.LocalMessage{
				{MessageView: models.MessageView{SenderRole: models.RoleStaff, Body: "Yes"}},
				{MessageView: models.MessageView{SenderRole: models.RoleCustomer, Body: "thanks"}, Pending: true},
			},
		},
	}

	text := render(view)
	assert.Contains(t, text, "conversations: 1, unread: 1, orders: 0")
	assert.Contains(t, text, convID.String()+" [Open] unread=1 typing...")
	assert.Contains(t, text, "staff: Yes")
	assert.Contains(t, text, "customer: thanks (sending)")
}
