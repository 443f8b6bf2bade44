package notify

import (
	"context"

	"ordersync/internal/logger"
	"ordersync/internal/order"
	"ordersync/internal/store"

	"go.uber.org/zap"
)

// Alert is what the presentation layer receives on every accepted status
// change. How it is rendered (banner, sound, haptic) is not this package's
// business.
type Alert struct {
	OrderID        string       `json:"orderId"`
	PreviousStatus order.Status `json:"previousStatus"`
	NewStatus      order.Status `json:"newStatus"`
}

// Sink consumes alerts. Implemented by the UI layer.
type Sink interface {
	Notify(alert Alert)
}

// SinkFunc adapts a plain function into a Sink.
type SinkFunc func(alert Alert)

func (f SinkFunc) Notify(alert Alert) { f(alert) }

// Bridge subscribes to store change events and forwards status changes to a
// sink. It consumes change events only; it knows nothing about the network
// paths that produced them.
type Bridge struct {
	store *store.Store
	sink  Sink
}

func NewBridge(st *store.Store, sink Sink) *Bridge {
	return &Bridge{store: st, sink: sink}
}

// Run forwards events until ctx is cancelled. Only actual status changes
// become alerts; version bumps and flag clears stay quiet. Rollbacks do
// alert: the operator saw the optimistic status and must see it revert.
func (b *Bridge) Run(ctx context.Context) {
	events, cancel := b.store.Subscribe(64)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.handle(ev)
		}
	}
}

func (b *Bridge) handle(ev store.ChangeEvent) {
	var prev order.Status
	if ev.Previous != nil {
		prev = ev.Previous.Status
	}
	if ev.Current == nil || prev == ev.Current.Status {
		return
	}

	logger.L().Debug("order status alert",
		zap.String("order_id", ev.OrderID),
		zap.String("from", string(prev)),
		zap.String("to", string(ev.Current.Status)),
	)
	b.sink.Notify(Alert{
		OrderID:        ev.OrderID,
		PreviousStatus: prev,
		NewStatus:      ev.Current.Status,
	})
}
