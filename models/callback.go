package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GatewayKind names the payment gateway a callback came from.
type GatewayKind string

const (
	GatewayEsewa  GatewayKind = "esewa"
	GatewayKhalti GatewayKind = "khalti"
)

// Valid reports whether k is a supported gateway.
func (k GatewayKind) Valid() bool {
	return k == GatewayEsewa || k == GatewayKhalti
}

// CallbackParams are the raw query or body parameters a gateway redirect carried.
type CallbackParams map[string]string

// ReconcileState is the state of a single callback reconciliation.
type ReconcileState string

const (
	StateVerifying ReconcileState = "Verifying"
	StateVerified  ReconcileState = "Verified"
	StateFailed    ReconcileState = "Failed"
	StateDuplicate ReconcileState = "Duplicate"
)

// Terminal reports whether no further transition can leave s.
func (s ReconcileState) Terminal() bool {
	return s == StateVerified || s == StateFailed || s == StateDuplicate
}

// ReconcileResult is what a caller learns about a processed callback.
// Order is set for Verified and Duplicate; Reason is set for Failed.
type ReconcileResult struct {
	State         ReconcileState `json:"state"`
	TransactionID string         `json:"transaction_id,omitempty"`
	Order         *Order         `json:"order,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Kind          string         `json:"kind,omitempty"`
	GatewayStatus string         `json:"gateway_status,omitempty"`
}

// CallbackAttempt is the audit row written for every processed callback.
type CallbackAttempt struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Gateway       string         `gorm:"type:varchar(20);not null;index" json:"gateway"`
	TransactionID string         `gorm:"type:varchar(128);index" json:"transaction_id"`
	State         string         `gorm:"type:varchar(20);not null" json:"state"`
	Reason        string         `gorm:"type:text" json:"reason,omitempty"`
	GatewayStatus string         `gorm:"type:varchar(32)" json:"gateway_status,omitempty"`
	Payload       datatypes.JSON `gorm:"type:jsonb" json:"payload,omitempty"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// TableName pins the audit table name.
func (CallbackAttempt) TableName() string {
	return "payment_callbacks"
}

func (a *CallbackAttempt) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
