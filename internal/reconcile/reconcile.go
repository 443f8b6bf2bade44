package reconcile

import (
	"time"

	"ordersync/internal/order"
)

// Delta is a partial order update, typically carried by a push event that
// only includes the fields that changed.
type Delta struct {
	OrderID       string        `json:"orderId"`
	Version       int64         `json:"version"`
	Status        *order.Status `json:"status,omitempty"`
	DriverID      *string       `json:"driverId,omitempty"`
	PaymentStatus *string       `json:"paymentStatus,omitempty"`
	UpdatedAt     *time.Time    `json:"updatedAt,omitempty"`
}

// Supersedes decides whether incoming may replace stored. This is the single
// merge rule shared by the REST path and the push path: an update whose
// version does not advance the stored record is stale and must be discarded,
// regardless of which source delivered it or when it arrived.
//
// Equal versions occur when the REST confirmation and the push event for the
// same server mutation both land. The one that clears a pending optimistic
// flag, or carries a strictly later server timestamp, wins; otherwise the
// duplicate is dropped and the stored state is already correct.
func Supersedes(stored, incoming *order.Order) bool {
	if incoming == nil {
		return false
	}
	if stored == nil {
		return true
	}

	// Terminal orders only accept updates that keep the outcome. The server
	// may still bump version for e.g. a payment settlement on a delivered
	// order, but a status change out of a terminal state is never applied.
	if order.IsTerminal(stored.Status) && incoming.Status != stored.Status {
		return false
	}

	if incoming.Version != stored.Version {
		return incoming.Version > stored.Version
	}

	if stored.PendingAction && !incoming.PendingAction {
		return true
	}
	if incoming.UpdatedAt.After(stored.UpdatedAt) {
		return true
	}
	return false
}

// Hydrate merges a partial delta over a full stored order and returns the
// merged full order. Deltas are never applied blindly to the store; fields
// the delta omits keep their stored values. The result represents confirmed
// server state, so any pending optimistic flag is cleared.
func Hydrate(base *order.Order, d Delta) *order.Order {
	merged := base.Clone()
	merged.Version = d.Version
	merged.PendingAction = false

	if d.Status != nil {
		merged.Status = *d.Status
	}
	if d.DriverID != nil {
		id := *d.DriverID
		merged.DriverID = &id
	}
	if d.PaymentStatus != nil {
		merged.Payment.Status = *d.PaymentStatus
	}
	if d.UpdatedAt != nil {
		merged.UpdatedAt = *d.UpdatedAt
	}

	return merged
}
