package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"ordersync/internal/logger"
	"ordersync/internal/metrics"
	"ordersync/internal/order"
	"ordersync/internal/reconcile"
	"ordersync/internal/store"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Connection states.
const (
	StateDisconnected int32 = iota
	StateConnecting
	StateConnected
)

// Inbound event names from the order service.
const (
	EventNewOrder           = "new_order"
	EventOrderUpdated       = "order_updated"
	EventOrderStatusChanged = "order_status_changed"
	EventOrderCancelled     = "order_cancelled"
)

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// envelope is the wire shape of a push event. Full-payload events carry an
// order object; status events carry a flat delta.
type envelope struct {
	Type  string       `json:"type"`
	Order *order.Order `json:"order,omitempty"`
	reconcile.Delta
}

type joinFrame struct {
	Action string `json:"action"`
	Room   string `json:"room"`
}

// RefetchFunc pulls the authoritative open-order list. Called after every
// successful (re)join, because events sent while we were offline are gone.
type RefetchFunc func(ctx context.Context) ([]*order.Order, error)

// Channel maintains the push-event stream from the order service. It
// reconnects forever with capped exponential backoff, re-joins the
// restaurant room on every connect, and submits every decoded event to the
// store, where the version rule deals with duplicates and reordering. The
// channel itself deduplicates nothing.
type Channel struct {
	url          string
	restaurantID string
	store        *store.Store
	refetch      RefetchFunc
	dialer       *websocket.Dialer

	state      atomic.Int32
	Reconnects metrics.Counter
	Events     metrics.Counter

	mu   sync.Mutex
	conn *websocket.Conn
}

func New(wsURL, restaurantID string, st *store.Store, refetch RefetchFunc) *Channel {
	return &Channel{
		url:          wsURL,
		restaurantID: restaurantID,
		store:        st,
		refetch:      refetch,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// State returns the current connection state.
func (c *Channel) State() int32 {
	return c.state.Load()
}

// StateName returns the connection state for the connectivity indicator.
func (c *Channel) StateName() string {
	switch c.state.Load() {
	case StateConnected:
		return "connected"
	case StateConnecting:
		return "connecting"
	default:
		return "disconnected"
	}
}

// Run owns the connection until ctx is cancelled. Retries are unbounded;
// a dead socket is a connectivity condition, never a per-order error.
func (c *Channel) Run(ctx context.Context) {
	log := logger.L().With(zap.String("restaurant_id", c.restaurantID))

	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			c.state.Store(StateDisconnected)
			return
		}

		c.state.Store(StateConnecting)
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.state.Store(StateDisconnected)
			log.Warn("realtime dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = minBackoff

		c.setConn(conn)
		if err := c.join(conn); err != nil {
			log.Warn("room join failed", zap.Error(err))
			conn.Close()
			c.state.Store(StateDisconnected)
			continue
		}

		c.state.Store(StateConnected)
		c.Reconnects.Inc()
		log.Info("realtime channel connected")

		c.refetchOpenOrders(ctx, log)
		c.readLoop(ctx, conn, log)

		c.setConn(nil)
		conn.Close()
		c.state.Store(StateDisconnected)

		if ctx.Err() != nil {
			return
		}
		log.Warn("realtime channel disconnected, reconnecting", zap.Duration("retry_in", backoff))
		if !sleep(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

// Close tears down the current connection, unblocking the read loop.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Channel) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// join is idempotent server-side; resending it on every reconnect is safe.
func (c *Channel) join(conn *websocket.Conn) error {
	return conn.WriteJSON(joinFrame{Action: "join", Room: "restaurant:" + c.restaurantID})
}

// refetchOpenOrders reconciles the full authoritative list after a join.
// Anything stale in the response loses to the version check in the store.
func (c *Channel) refetchOpenOrders(ctx context.Context, log *zap.Logger) {
	if c.refetch == nil {
		return
	}
	orders, err := c.refetch(ctx)
	if err != nil {
		log.Warn("open order refetch failed", zap.Error(err))
		return
	}
	for _, o := range orders {
		c.store.Upsert(o, store.SourceRefetch)
	}
	log.Info("open orders refetched", zap.Int("count", len(orders)))
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn, log *zap.Logger) {
	// ReadMessage only unblocks on conn.Close, so watch ctx separately.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		c.Events.Inc()
		c.handleMessage(data, log)
	}
}

func (c *Channel) handleMessage(data []byte, log *zap.Logger) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn("undecodable realtime event", zap.Error(err))
		return
	}

	switch env.Type {
	case EventNewOrder, EventOrderUpdated:
		if env.Order == nil {
			log.Warn("full-payload event without order", zap.String("type", env.Type))
			return
		}
		c.store.Upsert(env.Order, store.SourcePush)

	case EventOrderStatusChanged, EventOrderCancelled:
		c.applyDelta(env.Delta, log)

	default:
		log.Debug("ignoring unknown realtime event", zap.String("type", env.Type))
	}
}

// applyDelta hydrates a partial delta into a full order before it touches
// the store. Applying the delta as a bare patch would clobber fields the
// event did not include.
func (c *Channel) applyDelta(d reconcile.Delta, log *zap.Logger) {
	if d.OrderID == "" {
		log.Warn("delta event without order id")
		return
	}

	base, ok := c.store.Get(d.OrderID)
	if !ok {
		// A delta for an order we never saw means the new_order event was
		// lost; the next refetch will recover it.
		log.Warn("delta for unknown order", zap.String("order_id", d.OrderID))
		return
	}

	c.store.Upsert(reconcile.Hydrate(base, d), store.SourcePush)
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
