package models

import (
	"errors"
	"testing"
	"time"
)

func statusPtr(s OrderStatus) *OrderStatus {
	return &s
}

func TestValidateStatusTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    OrderStatus
		prior   *OrderStatus
		to      OrderStatus
		wantErr bool
	}{
		{"submitted to in_queue", OrderStatusSubmitted, nil, OrderStatusInQueue, false},
		{"in_queue to printing", OrderStatusInQueue, nil, OrderStatusPrinting, false},
		{"printing to finished", OrderStatusPrinting, nil, OrderStatusFinished, false},
		{"finished to delivered", OrderStatusFinished, nil, OrderStatusDelivered, false},
		{"skip a step", OrderStatusSubmitted, nil, OrderStatusPrinting, true},
		{"backwards", OrderStatusPrinting, nil, OrderStatusInQueue, true},
		{"delivered to printing", OrderStatusDelivered, nil, OrderStatusPrinting, true},
		{"delivered to suspended", OrderStatusDelivered, nil, OrderStatusSuspended, true},
		{"delivered to refund_requested", OrderStatusDelivered, nil, OrderStatusRefundRequested, false},
		{"suspended to anything", OrderStatusSuspended, nil, OrderStatusInQueue, true},
		{"suspended to refund_requested", OrderStatusSuspended, nil, OrderStatusRefundRequested, true},
		{"printing to on_hold", OrderStatusPrinting, nil, OrderStatusOnHold, false},
		{"printing to suspended", OrderStatusPrinting, nil, OrderStatusSuspended, false},
		{"on_hold back to prior", OrderStatusOnHold, statusPtr(OrderStatusPrinting), OrderStatusPrinting, false},
		{"on_hold to other status", OrderStatusOnHold, statusPtr(OrderStatusPrinting), OrderStatusFinished, true},
		{"refund_requested back to delivered", OrderStatusRefundRequested, statusPtr(OrderStatusDelivered), OrderStatusDelivered, false},
		{"refund_requested to suspended", OrderStatusRefundRequested, statusPtr(OrderStatusDelivered), OrderStatusSuspended, false},
		{"refund_requested to on_hold", OrderStatusRefundRequested, statusPtr(OrderStatusPrinting), OrderStatusOnHold, true},
		{"same status", OrderStatusPrinting, nil, OrderStatusPrinting, false},
		{"unknown status", OrderStatusPrinting, nil, OrderStatus("melted"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := &Order{Status: tt.from, PriorStatus: tt.prior}
			err := ValidateStatusTransition(order, tt.to)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateStatusTransition() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("error %v does not match ErrInvalidTransition", err)
			}
		})
	}
}

func TestValidatePaymentTransition(t *testing.T) {
	tests := []struct {
		name    string
		status  OrderStatus
		from    PaymentStatus
		to      PaymentStatus
		wantErr bool
	}{
		{"capture", OrderStatusSubmitted, PaymentStatusOnHold, PaymentStatusPaid, false},
		{"capture on suspended order", OrderStatusSuspended, PaymentStatusOnHold, PaymentStatusPaid, true},
		{"paid to refunding", OrderStatusSuspended, PaymentStatusPaid, PaymentStatusRefunding, false},
		{"on_hold to refunding", OrderStatusOnHold, PaymentStatusOnHold, PaymentStatusRefunding, false},
		{"refunding to refunded", OrderStatusSuspended, PaymentStatusRefunding, PaymentStatusRefunded, false},
		{"paid to refunded jump", OrderStatusPrinting, PaymentStatusPaid, PaymentStatusRefunded, true},
		{"on_hold to refunded jump", OrderStatusOnHold, PaymentStatusOnHold, PaymentStatusRefunded, true},
		{"refunded to refunding", OrderStatusSuspended, PaymentStatusRefunded, PaymentStatusRefunding, true},
		{"refunded to paid", OrderStatusPrinting, PaymentStatusRefunded, PaymentStatusPaid, true},
		{"paid to on_hold for edit", OrderStatusOnHold, PaymentStatusPaid, PaymentStatusOnHold, false},
		{"refunding to on_hold", OrderStatusOnHold, PaymentStatusRefunding, PaymentStatusOnHold, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePaymentTransition(tt.status, tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidatePaymentTransition() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStatusLabelsExhaustive(t *testing.T) {
	for _, s := range AllOrderStatuses() {
		if !s.Valid() {
			t.Errorf("status %q reported invalid", s)
		}
		if s.Label() == "Unknown" {
			t.Errorf("status %q has no label", s)
		}
	}
	for _, s := range AllPaymentStatuses() {
		if s.Label() == "Unknown" {
			t.Errorf("payment status %q has no label", s)
		}
	}
}

func TestCheckConsistency(t *testing.T) {
	if err := CheckConsistency(&Order{Status: OrderStatusSuspended, PaymentStatus: PaymentStatusPaid}); err == nil {
		t.Error("expected suspended+paid to be rejected")
	}
	if err := CheckConsistency(&Order{Status: OrderStatusSuspended, PaymentStatus: PaymentStatusRefunding}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateConversationTransition(t *testing.T) {
	tests := []struct {
		from    ConversationStatus
		to      ConversationStatus
		wantErr bool
	}{
		{ConversationOpen, ConversationInProgress, false},
		{ConversationInProgress, ConversationResolved, false},
		{ConversationResolved, ConversationClosed, false},
		{ConversationOpen, ConversationClosed, false},
		{ConversationResolved, ConversationOpen, true},
		{ConversationClosed, ConversationOpen, true},
		{ConversationClosed, ConversationClosed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := ValidateConversationTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTypingStaleness(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	role := RoleCustomer
	c := &Conversation{TypingRole: &role, TypingAt: &start}

	if !c.TypingBy(RoleCustomer, start.Add(time.Second)) {
		t.Error("expected fresh typing flag to be true")
	}
	if c.TypingBy(RoleStaff, start.Add(time.Second)) {
		t.Error("typing belongs to the customer only")
	}
	if c.TypingBy(RoleCustomer, start.Add(TypingStaleAfter)) {
		t.Error("flag must be stale at T + window")
	}
}

func TestUnreadFor(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	read := base.Add(2 * time.Second)
	c := &Conversation{StaffLastReadAt: &read}
	messages := []*Message{
		{SenderRole: RoleCustomer, CreatedAt: base.Add(time.Second)},
		{SenderRole: RoleCustomer, CreatedAt: base.Add(3 * time.Second)},
		{SenderRole: RoleStaff, CreatedAt: base.Add(4 * time.Second)},
		{SenderRole: RoleSystem, CreatedAt: base.Add(5 * time.Second)},
		{SenderRole: RoleCustomer, CreatedAt: base.Add(6 * time.Second)},
	}

	if got := UnreadFor(c, messages, RoleStaff); got != 2 {
		t.Errorf("staff unread = %d, want 2", got)
	}
	if got := UnreadFor(c, messages, RoleCustomer); got != 1 {
		t.Errorf("customer unread = %d, want 1", got)
	}
	if !messages[0].ReadBy(c) {
		t.Error("first message should be read by staff")
	}
	if messages[1].ReadBy(c) {
		t.Error("second message should be unread")
	}
}
