package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// OrderStatus is the fulfillment state of a committed order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "Pending"
	OrderStatusShipped   OrderStatus = "Shipped"
	OrderStatusDelivered OrderStatus = "Delivered"
)

// Payment methods recorded on committed orders.
const (
	PaymentMethodEsewa  = "esewa"
	PaymentMethodKhalti = "khalti"
)

// Customer identifies who placed the order.
type Customer struct {
	Name  string `json:"name" bson:"name" validate:"required"`
	Email string `json:"email" bson:"email" validate:"required,email"`
}

// OrderItem is a single catalog line captured at checkout time.
type OrderItem struct {
	ProductID string          `json:"product_id" validate:"required"`
	Name      string          `json:"name" validate:"required"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
	Stock     int             `json:"stock"`
}

// Order is a committed order. Customer, Items, Total, TransactionID and
// PaymentMethod never change after creation; only Status moves forward.
type Order struct {
	ID               uuid.UUID                      `gorm:"type:uuid;primaryKey" json:"id"`
	TransactionID    string                         `gorm:"type:varchar(128);uniqueIndex;not null" json:"transaction_id"`
	Customer         Customer                       `gorm:"embedded;embeddedPrefix:customer_" json:"customer"`
	Items            datatypes.JSONSlice[OrderItem] `gorm:"type:jsonb;not null" json:"items"`
	Total            decimal.Decimal                `gorm:"type:numeric(12,2);not null" json:"total"`
	PaymentMethod    string                         `gorm:"type:varchar(20);not null" json:"payment_method"`
	GatewayReference *string                        `gorm:"type:varchar(128);uniqueIndex" json:"gateway_reference,omitempty"`
	GatewayPayload   datatypes.JSON                 `gorm:"type:jsonb" json:"-"`
	Status           OrderStatus                    `gorm:"type:varchar(20);not null;index" json:"status"`
	ShippedAt        *time.Time                     `json:"shipped_at,omitempty"`
	DeliveredAt      *time.Time                     `json:"delivered_at,omitempty"`
	CreatedAt        time.Time                      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time                      `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate assigns the store-side identity and the initial status.
func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Status == "" {
		o.Status = OrderStatusPending
	}
	return nil
}

// CanTransitionTo reports whether fulfillment may move the order to next.
// Transitions only go forward: Pending -> Shipped -> Delivered.
func (o *Order) CanTransitionTo(next OrderStatus) bool {
	switch o.Status {
	case OrderStatusPending:
		return next == OrderStatusShipped
	case OrderStatusShipped:
		return next == OrderStatusDelivered
	default:
		return false
	}
}
