// Package staging holds checkout-time order payloads until their payment
// callback resolves. Entries are claims to be verified, never commit authority.
package staging

import (
	"context"
	"errors"
	"time"

	"checkout-service/models"
)

var (
	// ErrNotFound is returned when no staged entry exists (or it expired).
	ErrNotFound = errors.New("staged order not found")
	// ErrOwnerMismatch is returned by Put when a live entry for the
	// transaction belongs to a different owner.
	ErrOwnerMismatch = errors.New("staged order belongs to another owner")
)

// DefaultTTL bounds how long an unresolved checkout stays staged.
const DefaultTTL = 30 * time.Minute

// Store is the pending-order staging area keyed by transaction ID. Put
// writes only when no live entry exists or the existing entry has the same
// Owner as order.
type Store interface {
	Put(ctx context.Context, txID string, order *models.PendingOrder) error
	Get(ctx context.Context, txID string) (*models.PendingOrder, error)
	Clear(ctx context.Context, txID string) error
}

func stagingKey(txID string) string {
	return "checkout:pending:" + txID
}
