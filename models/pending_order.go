package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PendingOrder is the order payload staged at checkout. It is a claim to be
// verified against the gateway, never the commit authority. Owner is the
// authenticated user that staged it; only that user may restage, sign,
// initiate or abandon it.
type PendingOrder struct {
	TransactionID    string          `json:"transaction_id"`
	Customer         Customer        `json:"customer" validate:"required"`
	Items            []OrderItem     `json:"items" validate:"required,min=1,dive"`
	Total            decimal.Decimal `json:"total"`
	PaymentMethod    string          `json:"payment_method,omitempty"`
	GatewayReference string          `json:"gateway_reference,omitempty"`
	Owner            string          `json:"owner"`
	CreatedLocally   time.Time       `json:"created_locally"`
}

// ItemsTotal is the sum of price x quantity over all items.
func (p *PendingOrder) ItemsTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range p.Items {
		sum = sum.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return sum
}

// OwnedBy reports whether owner may modify the staged entry.
func (p *PendingOrder) OwnedBy(owner string) bool {
	return owner != "" && p.Owner == owner
}
