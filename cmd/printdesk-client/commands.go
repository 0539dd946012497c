package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/agamariel/printdesk/internal/client"
	"github.com/agamariel/printdesk/internal/config"
	"github.com/agamariel/printdesk/internal/models"
	"github.com/agamariel/printdesk/internal/reconcile"
	"github.com/agamariel/printdesk/internal/staging"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const usage = `usage: printdesk-client [flags] <command> [args]

commands:
  watch [conversation-id]                         poll conversations and orders
  say <conversation-id> <message>                 send a message
  edit <order-id> <new-price> [parameters-json]   request an edit
  cancel <order-id>                               request cancellation
  cancel-project <project-id>                     cancel every order of a project
  settle <order-id> <credit|original|bank> [bank-details-json]
  settle-project <project-id> <credit|original|bank> [bank-details-json]`

var errUsage = errors.New(usage)

// runner выполняет команды клиента.
type runner struct {
	cfg    *config.ClientConfig
	api    *client.Client
	staged staging.Store
	out    io.Writer
	logger *slog.Logger
}

func (r *runner) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "watch":
		return r.watch(ctx, rest)
	case "say":
		return r.say(ctx, rest)
	case "edit":
		return r.edit(ctx, rest)
	case "cancel":
		return r.cancel(ctx, rest)
	case "cancel-project":
		return r.cancelProject(ctx, rest)
	case "settle":
		return r.settle(ctx, rest)
	case "settle-project":
		return r.settleProject(ctx, rest)
	}
	return fmt.Errorf("unknown command %q\n%w", cmd, errUsage)
}

func (r *runner) reconciler(onChange func(reconcile.View)) *reconcile.Reconciler {
	return reconcile.New(r.api, reconcile.Options{
		Role:              models.Role(r.cfg.Role),
		PollInterval:      r.cfg.PollInterval,
		OrderPollInterval: r.cfg.OrderPollInterval,
		OnChange:          onChange,
		Logger:            r.logger,
	})
}

func (r *runner) watch(ctx context.Context, args []string) error {
	var last string
	rec := r.reconciler(func(v reconcile.View) {
		text := render(v)
		if text != last {
			last = text
			fmt.Fprintln(r.out, text)
		}
	})

	if len(args) > 0 {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid conversation id: %w", err)
		}
		if err := rec.Open(ctx, id); err != nil {
			return err
		}
	}
	return rec.Run(ctx)
}

func (r *runner) say(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid conversation id: %w", err)
	}
	rec := r.reconciler(nil)
	if err := rec.Open(ctx, id); err != nil {
		return err
	}
	defer rec.Close()

	msg, err := rec.Send(ctx, strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "sent %s at %s\n", msg.ID, msg.CreatedAt.Format(time.RFC3339))
	return nil
}

func (r *runner) edit(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	orderID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid order id: %w", err)
	}
	price, err := decimal.NewFromString(args[1])
	if err != nil {
		return fmt.Errorf("invalid price: %w", err)
	}
	req := models.EditRequest{NewPrice: price}
	if len(args) > 2 {
		req.Parameters = json.RawMessage(args[2])
	}

	resp, err := r.api.RequestEdit(ctx, orderID, req)
	if err != nil {
		return err
	}
	if resp.PendingUpdate != nil {
		if err := r.staged.SaveOrderUpdate(ctx, resp.PendingUpdate); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "refund of %s staged for order %s; choose a method with: settle %s <method>\n",
			resp.RefundAmount.StringFixed(2), orderID, orderID)
		return nil
	}
	fmt.Fprintf(r.out, "edit applied: price %s, payment %s\n", resp.Order.Price.StringFixed(2), resp.Order.PaymentStatus)
	return nil
}

func (r *runner) cancel(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errUsage
	}
	orderID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid order id: %w", err)
	}

	resp, err := r.api.RequestCancellation(ctx, orderID)
	if err != nil {
		return err
	}
	if resp.PendingUpdate == nil {
		fmt.Fprintf(r.out, "order %s cancelled, nothing to refund\n", orderID)
		return nil
	}
	if err := r.staged.SaveOrderUpdate(ctx, resp.PendingUpdate); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "order %s cancelled; refund of %s staged\n", orderID, resp.RefundAmount.StringFixed(2))
	return nil
}

func (r *runner) cancelProject(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errUsage
	}
	update, err := r.api.CancelProject(ctx, args[0])
	if err != nil {
		return err
	}
	if err := r.staged.SaveProjectUpdate(ctx, update); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "project %s cancelled: %d orders, refund of %s staged\n",
		update.ProjectID, len(update.Orders), update.TotalRefund.StringFixed(2))
	return nil
}

func parseSettleArgs(args []string) (models.SettleRequest, error) {
	if len(args) < 2 {
		return models.SettleRequest{}, errUsage
	}
	req := models.SettleRequest{Method: models.RefundMethod(args[1])}
	if !req.Method.Valid() {
		return models.SettleRequest{}, fmt.Errorf("unknown refund method %q", args[1])
	}
	if len(args) > 2 {
		req.BankDetails = json.RawMessage(args[2])
	}
	return req, nil
}

func (r *runner) settle(ctx context.Context, args []string) error {
	req, err := parseSettleArgs(args)
	if err != nil {
		return err
	}
	orderID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid order id: %w", err)
	}

	// повреждённая локальная запись считается ошибкой; без записи сервер берёт свою копию
	pending, err := r.staged.LoadOrderUpdate(ctx, orderID)
	if err != nil {
		return err
	}
	if pending != nil {
		raw, err := json.Marshal(pending)
		if err != nil {
			return fmt.Errorf("encode staged update: %w", err)
		}
		req.PendingUpdate = raw
	} else {
		r.logger.Warn("no local staged update, server copy will be used", "order_id", orderID)
	}

	receipt, err := r.api.SettleRefund(ctx, orderID, req)
	if err != nil {
		return err
	}
	if err := r.staged.ClearOrderUpdate(ctx, orderID); err != nil {
		r.logger.Warn("failed to clear staged update", "order_id", orderID, "error", err)
	}

	if receipt.AlreadySettled {
		fmt.Fprintf(r.out, "order %s was already settled (%s, %s)\n", orderID, receipt.Method, receipt.Amount.StringFixed(2))
		return nil
	}
	fmt.Fprintf(r.out, "refund of %s via %s: payment %s\n", receipt.Amount.StringFixed(2), receipt.Method, receipt.PaymentStatus)
	return nil
}

func (r *runner) settleProject(ctx context.Context, args []string) error {
	req, err := parseSettleArgs(args)
	if err != nil {
		return err
	}
	projectID := args[0]

	pending, err := r.staged.LoadProjectUpdate(ctx, projectID)
	if err != nil {
		return err
	}
	if pending != nil {
		raw, err := json.Marshal(pending)
		if err != nil {
			return fmt.Errorf("encode staged update: %w", err)
		}
		req.PendingUpdate = raw
	}

	result, err := r.api.SettleProject(ctx, projectID, req)
	if err != nil {
		return err
	}
	if result.Partial() {
		// копия остаётся для повтора
		fmt.Fprintf(r.out, "%s\n", result.Message)
		for _, f := range result.Failures {
			fmt.Fprintf(r.out, "  order %s: %s\n", f.OrderID, f.Error)
		}
		return nil
	}
	if err := r.staged.ClearProjectUpdate(ctx, projectID); err != nil {
		r.logger.Warn("failed to clear staged project update", "project_id", projectID, "error", err)
	}
	fmt.Fprintf(r.out, "project %s settled: %d of %d orders\n", projectID, result.Settled, result.Total)
	return nil
}

// render выводит View в текстовом виде.
func render(v reconcile.View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "conversations: %d, unread: %d, orders: %d", len(v.Conversations), v.TotalUnread, len(v.Orders))
	for _, c := range v.Conversations {
		fmt.Fprintf(&b, "\n  %s [%s] unread=%d", c.ID, c.Status.Label(), c.Unread)
		if c.PeerTyping {
			b.WriteString(" typing...")
		}
	}
	for _, o := range v.Orders {
		fmt.Fprintf(&b, "\n  order %s %s / %s %s", o.ID, o.StatusLabel, o.PaymentLabel, o.Price.StringFixed(2))
	}
	if v.Open != nil {
		fmt.Fprintf(&b, "\n--- conversation %s [%s] ---", v.Open.Conversation.ID, v.Open.Conversation.Status.Label())
		for _, m := range v.Open.Messages {
			fmt.Fprintf(&b, "\n  %s: %s", m.SenderRole, m.Body)
			switch {
			case m.Failed:
				b.WriteString(" (failed)")
			case m.Pending:
				b.WriteString(" (sending)")
			}
		}
		if v.Open.Conversation.PeerTyping {
			b.WriteString("\n  peer is typing...")
		}
	}
	return b.String()
}
