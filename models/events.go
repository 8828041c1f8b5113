package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types published after a callback reaches a terminal state.
const (
	EventOrderConfirmed = "order_confirmed"
	EventPaymentFailed  = "payment_failed"
)

// OrderEvent is published downstream (notifications, inventory) when a
// callback resolves. Replayed marks a confirmation for an order that was
// already committed by an earlier callback.
type OrderEvent struct {
	Type          string          `json:"type"` // "order_confirmed" | "payment_failed"
	TransactionID string          `json:"transaction_id"`
	OrderID       string          `json:"order_id,omitempty"`
	Gateway       string          `json:"gateway"`
	Email         string          `json:"email,omitempty"`
	Items         []OrderItem     `json:"items,omitempty"`
	Total         decimal.Decimal `json:"total"`
	Replayed      bool            `json:"replayed,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}
