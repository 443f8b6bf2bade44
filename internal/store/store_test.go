package store

import (
	"math/rand"
	"testing"
	"time"

	"ordersync/internal/order"

	"github.com/stretchr/testify/assert"
)

func serverOrder(id string, version int64, status order.Status) *order.Order {
	return &order.Order{
		ID:        id,
		Status:    status,
		Version:   version,
		CreatedAt: time.Unix(1000, 0),
		UpdatedAt: time.Unix(1000+version, 0),
	}
}

func TestUpsert(t *testing.T) {
	t.Run("New order is stored", func(t *testing.T) {
		s := New()
		assert.True(t, s.Upsert(serverOrder("o1", 1, order.StatusPending), SourcePush))

		got, ok := s.Get("o1")
		assert.True(t, ok)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, order.StatusPending, got.Status)
	})

	t.Run("Stale update discarded silently", func(t *testing.T) {
		s := New()
		s.Upsert(serverOrder("o1", 5, order.StatusReadyForPickup), SourcePush)

		assert.False(t, s.Upsert(serverOrder("o1", 3, order.StatusPreparing), SourcePush))

		got, _ := s.Get("o1")
		assert.Equal(t, int64(5), got.Version)
		assert.Equal(t, order.StatusReadyForPickup, got.Status)
		assert.Equal(t, uint64(1), s.Stale.Load())
	})

	t.Run("Idempotent re-application", func(t *testing.T) {
		s := New()
		confirmed := serverOrder("o1", 4, order.StatusPreparing)

		s.Upsert(confirmed, SourceREST)
		first, _ := s.Get("o1")

		s.Upsert(confirmed, SourcePush)
		second, _ := s.Get("o1")

		assert.Equal(t, first, second)
	})

	t.Run("Stored order is isolated from the caller's copy", func(t *testing.T) {
		s := New()
		in := serverOrder("o1", 1, order.StatusPending)
		s.Upsert(in, SourcePush)

		in.Status = order.StatusDelivered
		got, _ := s.Get("o1")
		assert.Equal(t, order.StatusPending, got.Status)

		// Mutating what Get handed out must not touch the store either.
		got.Status = order.StatusDelivered
		again, _ := s.Get("o1")
		assert.Equal(t, order.StatusPending, again.Status)
	})

	t.Run("Version monotonicity under interleaving", func(t *testing.T) {
		// Deliver the same batch of versioned updates in random order; the
		// final state must always be the one with the maximum version.
		updates := []*order.Order{
			serverOrder("o1", 1, order.StatusPending),
			serverOrder("o1", 2, order.StatusPreparing),
			serverOrder("o1", 3, order.StatusReadyForPickup),
			serverOrder("o1", 4, order.StatusAssignedToDriver),
			serverOrder("o1", 5, order.StatusPickedUpByDriver),
		}

		rnd := rand.New(rand.NewSource(7))
		for trial := 0; trial < 20; trial++ {
			s := New()
			shuffled := append([]*order.Order(nil), updates...)
			rnd.Shuffle(len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			})
			// Duplicate a couple of deliveries for good measure.
			shuffled = append(shuffled, shuffled[0], shuffled[len(shuffled)/2])

			for _, u := range shuffled {
				s.Upsert(u, SourcePush)
			}

			got, _ := s.Get("o1")
			assert.Equal(t, int64(5), got.Version)
			assert.Equal(t, order.StatusPickedUpByDriver, got.Status)
		}
	})
}

func TestList(t *testing.T) {
	s := New()
	a := serverOrder("a", 1, order.StatusPending)
	a.CreatedAt = time.Unix(100, 0)
	b := serverOrder("b", 1, order.StatusPending)
	b.CreatedAt = time.Unix(200, 0)
	s.Upsert(a, SourcePush)
	s.Upsert(b, SourcePush)

	got := s.List()
	assert.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
}

func TestApplyOptimistic(t *testing.T) {
	t.Run("Marks pending and returns pre-mutation snapshot", func(t *testing.T) {
		s := New()
		s.Upsert(serverOrder("o1", 3, order.StatusPreparing), SourceREST)

		next := order.StatusReadyForPickup
		snapshot, err := s.ApplyOptimistic("o1", Patch{Status: &next})
		assert.NoError(t, err)
		assert.Equal(t, order.StatusPreparing, snapshot.Status)
		assert.Equal(t, int64(3), snapshot.Version)
		assert.False(t, snapshot.PendingAction)

		got, _ := s.Get("o1")
		assert.Equal(t, order.StatusReadyForPickup, got.Status)
		assert.True(t, got.PendingAction)
		// Optimistic writes never invent a server version.
		assert.Equal(t, int64(3), got.Version)
	})

	t.Run("Driver patch", func(t *testing.T) {
		s := New()
		s.Upsert(serverOrder("o1", 3, order.StatusReadyForPickup), SourceREST)

		next := order.StatusAssignedToDriver
		driver := "drv-1"
		_, err := s.ApplyOptimistic("o1", Patch{Status: &next, DriverID: &driver})
		assert.NoError(t, err)

		got, _ := s.Get("o1")
		assert.Equal(t, "drv-1", *got.DriverID)
	})

	t.Run("Unknown order", func(t *testing.T) {
		s := New()
		_, err := s.ApplyOptimistic("missing", Patch{})
		assert.ErrorIs(t, err, order.ErrOrderNotFound)
	})

	t.Run("Terminal order refuses mutation", func(t *testing.T) {
		s := New()
		s.Upsert(serverOrder("o1", 9, order.StatusDelivered), SourceREST)

		next := order.StatusPending
		_, err := s.ApplyOptimistic("o1", Patch{Status: &next})
		assert.ErrorIs(t, err, order.ErrFinalState)
	})
}

func TestRollback(t *testing.T) {
	t.Run("Restores snapshot when nothing newer arrived", func(t *testing.T) {
		s := New()
		s.Upsert(serverOrder("o1", 3, order.StatusPreparing), SourceREST)

		next := order.StatusReadyForPickup
		snapshot, _ := s.ApplyOptimistic("o1", Patch{Status: &next})

		s.Rollback("o1", snapshot)

		got, _ := s.Get("o1")
		assert.Equal(t, order.StatusPreparing, got.Status)
		assert.Equal(t, int64(3), got.Version)
		assert.False(t, got.PendingAction)
	})

	t.Run("Rollback safety: push during flight wins over rollback", func(t *testing.T) {
		s := New()
		s.Upsert(serverOrder("o1", 3, order.StatusPreparing), SourceREST)

		next := order.StatusReadyForPickup
		snapshot, _ := s.ApplyOptimistic("o1", Patch{Status: &next})

		// A higher-version push event lands while the REST call is in flight.
		s.Upsert(serverOrder("o1", 4, order.StatusReadyForPickup), SourcePush)

		// The REST call then fails and the gateway rolls back.
		s.Rollback("o1", snapshot)

		got, _ := s.Get("o1")
		assert.Equal(t, order.StatusReadyForPickup, got.Status)
		assert.Equal(t, int64(4), got.Version)
		assert.False(t, got.PendingAction)
	})

	t.Run("No pending flag and newer version means no-op", func(t *testing.T) {
		s := New()
		s.Upsert(serverOrder("o1", 3, order.StatusPreparing), SourceREST)
		snapshot, _ := s.Get("o1")

		s.Upsert(serverOrder("o1", 5, order.StatusReadyForPickup), SourcePush)

		events, cancel := s.Subscribe(4)
		defer cancel()

		s.Rollback("o1", snapshot)

		got, _ := s.Get("o1")
		assert.Equal(t, int64(5), got.Version)
		select {
		case ev := <-events:
			t.Fatalf("unexpected event: %+v", ev)
		default:
		}
	})

	t.Run("Nil snapshot and unknown order are no-ops", func(t *testing.T) {
		s := New()
		assert.NotPanics(t, func() {
			s.Rollback("o1", nil)
			s.Rollback("missing", serverOrder("missing", 1, order.StatusPending))
		})
	})
}

func TestSubscribe(t *testing.T) {
	t.Run("Events carry previous and current", func(t *testing.T) {
		s := New()
		events, cancel := s.Subscribe(8)
		defer cancel()

		s.Upsert(serverOrder("o1", 1, order.StatusPending), SourcePush)
		s.Upsert(serverOrder("o1", 2, order.StatusPreparing), SourceREST)

		ev := <-events
		assert.Nil(t, ev.Previous)
		assert.Equal(t, order.StatusPending, ev.Current.Status)
		assert.Equal(t, SourcePush, ev.Source)

		ev = <-events
		assert.Equal(t, order.StatusPending, ev.Previous.Status)
		assert.Equal(t, order.StatusPreparing, ev.Current.Status)
		assert.Equal(t, SourceREST, ev.Source)
	})

	t.Run("Stale updates emit nothing", func(t *testing.T) {
		s := New()
		s.Upsert(serverOrder("o1", 5, order.StatusReadyForPickup), SourcePush)

		events, cancel := s.Subscribe(4)
		defer cancel()

		s.Upsert(serverOrder("o1", 2, order.StatusPending), SourcePush)

		select {
		case ev := <-events:
			t.Fatalf("unexpected event: %+v", ev)
		default:
		}
	})

	t.Run("Full subscriber buffer drops instead of blocking", func(t *testing.T) {
		s := New()
		_, cancel := s.Subscribe(1)
		defer cancel()

		done := make(chan struct{})
		go func() {
			for i := 1; i <= 10; i++ {
				s.Upsert(serverOrder("o1", int64(i), order.StatusPending), SourcePush)
			}
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("store blocked on a slow subscriber")
		}
	})

	t.Run("Cancel closes the channel", func(t *testing.T) {
		s := New()
		events, cancel := s.Subscribe(1)
		cancel()

		_, open := <-events
		assert.False(t, open)
	})
}

// The end-to-end scenario from the design discussion: optimistic tap, push
// event overtaking the REST confirmation, late REST response with the same
// version. No flicker back to preparing at any point.
func TestOptimisticPushRestInterleaving(t *testing.T) {
	s := New()
	s.Upsert(serverOrder("o1", 3, order.StatusPreparing), SourceREST)

	events, cancel := s.Subscribe(16)
	defer cancel()

	// (1) Operator taps "ready for pickup".
	next := order.StatusReadyForPickup
	_, err := s.ApplyOptimistic("o1", Patch{Status: &next})
	assert.NoError(t, err)

	// (2) Push event for version 4 arrives before the REST response.
	s.Upsert(serverOrder("o1", 4, order.StatusReadyForPickup), SourcePush)

	// (3) The REST response arrives late, same version 4.
	s.Upsert(serverOrder("o1", 4, order.StatusReadyForPickup), SourceREST)

	got, _ := s.Get("o1")
	assert.Equal(t, int64(4), got.Version)
	assert.Equal(t, order.StatusReadyForPickup, got.Status)
	assert.False(t, got.PendingAction)

	// No event in the stream ever showed preparing again after the tap.
	drained := false
	for !drained {
		select {
		case ev := <-events:
			assert.Equal(t, order.StatusReadyForPickup, ev.Current.Status)
		default:
			drained = true
		}
	}
}
