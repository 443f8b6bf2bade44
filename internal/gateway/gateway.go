package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"ordersync/internal/authn"
	"ordersync/internal/logger"
	"ordersync/internal/order"
	"ordersync/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrTransient covers timeouts and connection failures. The optimistic
	// mutation has been rolled back; the same action can be retried.
	ErrTransient = errors.New("order service temporarily unavailable")
	// ErrRejected means the server refused the transition, e.g. because its
	// view of the order had already moved on. Not retryable as-is.
	ErrRejected = errors.New("order service rejected the request")
)

// Outbound request budget. Operator taps are low-volume; this only guards
// against a retry storm.
const (
	outboundRate  = rate.Limit(20)
	outboundBurst = 40
)

// Client drives legal, role-gated order mutations against the order
// service. Every mutation follows the optimistic protocol: guard check,
// optimistic write, REST call, then either the authoritative server order
// or a rollback.
type Client struct {
	baseURL    string
	httpClient *http.Client
	session    *authn.Session
	store      *store.Store
	limiter    *rate.Limiter
}

func New(baseURL string, session *authn.Session, st *store.Store, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		session:    session,
		store:      st,
		limiter:    rate.NewLimiter(outboundRate, outboundBurst),
	}
}

// RequestTransition moves an order to nextStatus on behalf of actor.
// Guard failures are detected locally and return before any network call.
func (c *Client) RequestTransition(ctx context.Context, id string, nextStatus order.Status, actor order.Actor) error {
	stored, ok := c.store.Get(id)
	if !ok {
		return order.ErrOrderNotFound
	}
	if err := order.CheckTransition(stored.Status, nextStatus, actor); err != nil {
		return err
	}

	snapshot, err := c.store.ApplyOptimistic(id, store.Patch{Status: &nextStatus})
	if err != nil {
		return err
	}

	serverOrder, err := c.send(ctx, http.MethodPatch, "/orders/"+id+"/status",
		map[string]string{"status": string(nextStatus)})
	if err != nil {
		c.store.Rollback(id, snapshot)
		return err
	}

	c.store.Upsert(serverOrder, store.SourceREST)
	return nil
}

// AssignDriver attaches a driver to an order that is ready for pickup.
func (c *Client) AssignDriver(ctx context.Context, orderID, driverID string, actor order.Actor) error {
	stored, ok := c.store.Get(orderID)
	if !ok {
		return order.ErrOrderNotFound
	}
	if err := order.CheckTransition(stored.Status, order.StatusAssignedToDriver, actor); err != nil {
		return err
	}
	if driverID == "" {
		return fmt.Errorf("%w: empty driver id", order.ErrInvalidTransition)
	}

	next := order.StatusAssignedToDriver
	snapshot, err := c.store.ApplyOptimistic(orderID, store.Patch{Status: &next, DriverID: &driverID})
	if err != nil {
		return err
	}

	serverOrder, err := c.send(ctx, http.MethodPatch, "/orders/"+orderID+"/driver",
		map[string]string{"driverId": driverID})
	if err != nil {
		c.store.Rollback(orderID, snapshot)
		return err
	}

	c.store.Upsert(serverOrder, store.SourceREST)
	return nil
}

// Cancel moves an order to the cancellation status owned by actor. Only
// legal before a driver is assigned.
func (c *Client) Cancel(ctx context.Context, orderID string, actor order.Actor) error {
	cancelStatus, ok := order.CancelStatusFor(actor)
	if !ok {
		return order.ErrActorNotAllowed
	}

	stored, found := c.store.Get(orderID)
	if !found {
		return order.ErrOrderNotFound
	}
	if err := order.CheckTransition(stored.Status, cancelStatus, actor); err != nil {
		return err
	}

	snapshot, err := c.store.ApplyOptimistic(orderID, store.Patch{Status: &cancelStatus})
	if err != nil {
		return err
	}

	serverOrder, err := c.send(ctx, http.MethodPost, "/orders/"+orderID+"/cancel",
		map[string]string{"reason": string(cancelStatus)})
	if err != nil {
		c.store.Rollback(orderID, snapshot)
		return err
	}

	c.store.Upsert(serverOrder, store.SourceREST)
	return nil
}

// FetchOpenOrders pulls the authoritative open-order list for a restaurant.
// Used on startup and after every realtime rejoin.
func (c *Client) FetchOpenOrders(ctx context.Context, restaurantID string) ([]*order.Order, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/restaurants/"+restaurantID+"/orders?open=true", nil)
	if err != nil {
		return nil, err
	}

	body, err := c.doAuthed(req, nil)
	if err != nil {
		return nil, err
	}

	var orders []*order.Order
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, fmt.Errorf("decoding open orders: %w", err)
	}
	return orders, nil
}

// send performs one mutating call and decodes the authoritative order the
// server responds with. Requests carry an idempotency key, and the body is
// always "set status to X" rather than "advance", so a retry after a
// timeout cannot double-apply.
func (c *Client) send(ctx context.Context, method, path string, payload map[string]string) (*order.Order, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	respBody, err := c.doAuthed(req, body)
	if err != nil {
		return nil, err
	}

	var serverOrder order.Order
	if err := json.Unmarshal(respBody, &serverOrder); err != nil {
		return nil, fmt.Errorf("decoding order response: %w", err)
	}
	return &serverOrder, nil
}

// doAuthed attaches the bearer token and idempotency key, executes the
// request, and retries exactly once after a single-flight token refresh on
// 401. The retry reuses the same idempotency key.
func (c *Client) doAuthed(req *http.Request, body []byte) ([]byte, error) {
	token, err := c.session.AccessToken()
	if err != nil {
		return nil, err
	}

	idempotencyKey := uuid.New().String()
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Idempotency-Key", idempotencyKey)

	respBody, status, err := c.execute(req, body)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		token, err = c.session.Refresh(req.Context())
		if err != nil {
			return nil, err
		}

		retry := req.Clone(req.Context())
		if body != nil {
			retry.Body = io.NopCloser(bytes.NewReader(body))
		}
		retry.Header.Set("Authorization", "Bearer "+token)
		retry.Header.Set("Idempotency-Key", idempotencyKey)

		respBody, status, err = c.execute(retry, body)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, authn.ErrSessionExpired
		}
	}

	switch {
	case status >= 200 && status < 300:
		return respBody, nil
	case status >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrTransient, status)
	default:
		logger.L().Warn("order service rejected request",
			zap.String("path", req.URL.Path),
			zap.Int("status", status),
		)
		return nil, fmt.Errorf("%w: status %d", ErrRejected, status)
	}
}

func (c *Client) execute(req *http.Request, body []byte) ([]byte, int, error) {
	if body != nil && req.Body == nil {
		req.Body = io.NopCloser(bytes.NewReader(body))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection errors both land here; either way the
		// action failed and the caller rolls back.
		return nil, 0, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return respBody, resp.StatusCode, nil
}
