package store

import (
	"sort"
	"sync"

	"ordersync/internal/logger"
	"ordersync/internal/metrics"
	"ordersync/internal/order"
	"ordersync/internal/reconcile"

	"go.uber.org/zap"
)

// Source identifies which path delivered an update.
type Source string

const (
	SourceOptimistic Source = "optimistic"
	SourceREST       Source = "rest"
	SourcePush       Source = "push"
	SourceRefetch    Source = "refetch"
	SourceRollback   Source = "rollback"
)

// ChangeEvent is emitted on every accepted mutation. Previous is nil for a
// newly seen order. Both orders are private copies of the subscriber.
type ChangeEvent struct {
	OrderID  string
	Previous *order.Order
	Current  *order.Order
	Source   Source
}

// Patch is the shape of an optimistic local mutation.
type Patch struct {
	Status   *order.Status
	DriverID *string
}

type subscriber struct {
	id int
	ch chan ChangeEvent
}

// Store is the canonical in-memory order table. Every update from every
// source funnels through it under one mutex, which makes it the single
// serialization point; ordering between sources is decided by the version
// rule in the reconcile package, never by arrival order.
type Store struct {
	mu     sync.RWMutex
	orders map[string]*order.Order

	subMu   sync.Mutex
	subs    []subscriber
	nextSub int

	Applied metrics.Counter
	Stale   metrics.Counter
}

func New() *Store {
	return &Store{
		orders: make(map[string]*order.Order),
	}
}

// Get returns a copy of the stored order, if any.
func (s *Store) Get(id string) (*order.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// List returns copies of all stored orders, newest first.
func (s *Store) List() []*order.Order {
	s.mu.RLock()
	out := make([]*order.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Upsert replaces the stored order iff the incoming one supersedes it by
// version. Stale updates are discarded silently; that is the expected fate
// of duplicated or reordered deliveries, not an error. Returns whether the
// update was applied.
func (s *Store) Upsert(o *order.Order, source Source) bool {
	if o == nil || o.ID == "" {
		return false
	}

	s.mu.Lock()
	stored := s.orders[o.ID]
	if !reconcile.Supersedes(stored, o) {
		s.mu.Unlock()
		s.Stale.Inc()
		logger.L().Debug("discarded stale update",
			zap.String("order_id", o.ID),
			zap.String("source", string(source)),
			zap.Int64("incoming_version", o.Version),
		)
		return false
	}

	prev := stored.Clone()
	cur := o.Clone()
	s.orders[o.ID] = cur
	s.mu.Unlock()

	s.Applied.Inc()
	s.notify(ChangeEvent{OrderID: o.ID, Previous: prev, Current: cur.Clone(), Source: source})
	return true
}

// ApplyOptimistic merges patch into the stored order, marks it pending and
// returns the pre-mutation snapshot the caller needs for Rollback.
func (s *Store) ApplyOptimistic(id string, patch Patch) (*order.Order, error) {
	s.mu.Lock()
	stored, ok := s.orders[id]
	if !ok {
		s.mu.Unlock()
		return nil, order.ErrOrderNotFound
	}
	if order.IsTerminal(stored.Status) {
		s.mu.Unlock()
		return nil, order.ErrFinalState
	}

	snapshot := stored.Clone()

	mutated := stored.Clone()
	mutated.PendingAction = true
	if patch.Status != nil {
		mutated.Status = *patch.Status
	}
	if patch.DriverID != nil {
		driverID := *patch.DriverID
		mutated.DriverID = &driverID
	}
	s.orders[id] = mutated
	cur := mutated.Clone()
	s.mu.Unlock()

	s.notify(ChangeEvent{OrderID: id, Previous: snapshot.Clone(), Current: cur, Source: SourceOptimistic})
	return snapshot, nil
}

// Rollback undoes a failed optimistic mutation. The snapshot is restored
// only while the stored version still matches it; if a higher-version update
// landed while the request was in flight, that update is the truth and only
// the pending flag is cleared. Blindly restoring the snapshot here would
// undo a legitimate push event.
func (s *Store) Rollback(id string, snapshot *order.Order) {
	if snapshot == nil {
		return
	}

	s.mu.Lock()
	stored, ok := s.orders[id]
	if !ok {
		s.mu.Unlock()
		return
	}

	prev := stored.Clone()

	var cur *order.Order
	if stored.Version == snapshot.Version {
		restored := snapshot.Clone()
		restored.PendingAction = false
		s.orders[id] = restored
		cur = restored.Clone()
	} else if stored.PendingAction {
		cleared := stored.Clone()
		cleared.PendingAction = false
		s.orders[id] = cleared
		cur = cleared.Clone()
	} else {
		// Nothing to undo: a newer confirmed state already replaced the
		// optimistic one.
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.notify(ChangeEvent{OrderID: id, Previous: prev, Current: cur, Source: SourceRollback})
}

// Subscribe registers a change listener. Delivery is non-blocking: events
// for a subscriber whose buffer is full are dropped rather than stalling
// the store. The returned cancel func closes the channel.
func (s *Store) Subscribe(buffer int) (<-chan ChangeEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan ChangeEvent, buffer)
	s.subs = append(s.subs, subscriber{id: id, ch: ch})
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				close(sub.ch)
				break
			}
		}
		s.subMu.Unlock()
	}
	return ch, cancel
}

func (s *Store) notify(ev ChangeEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, sub := range s.subs {
		select {
		case sub.ch <- ev:
		default:
		}
	}
}
