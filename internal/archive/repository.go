package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"ordersync/internal/order"
)

// Repository persists delivered and cancelled orders. Orders are never
// deleted, only retained here once they leave the live table's working set.
type Repository interface {
	EnsureSchema(ctx context.Context) error
	SaveTerminal(ctx context.Context, o *order.Order) error
	GetByID(ctx context.Context, id string) (*order.Order, error)
	ListRecent(ctx context.Context, limit int) ([]*order.Order, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS archived_orders (
			id          TEXT PRIMARY KEY,
			status      TEXT NOT NULL,
			version     BIGINT NOT NULL,
			payload     JSONB NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL,
			archived_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// SaveTerminal is insert-once: a terminal order has exactly one outcome, so
// a duplicate archive attempt (reconnect replay, restart) is a no-op.
func (r *repository) SaveTerminal(ctx context.Context, o *order.Order) error {
	if !order.IsTerminal(o.Status) {
		return fmt.Errorf("order %s is not terminal (%s)", o.ID, o.Status)
	}

	payload, err := json.Marshal(o)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO archived_orders (id, status, version, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, o.ID, o.Status, o.Version, payload, o.CreatedAt)
	return err
}

func (r *repository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT payload FROM archived_orders WHERE id = $1
	`, id).Scan(&payload)

	if err == sql.ErrNoRows {
		return nil, order.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	var o order.Order
	if err := json.Unmarshal(payload, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *repository) ListRecent(ctx context.Context, limit int) ([]*order.Order, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT payload FROM archived_orders
		ORDER BY archived_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*order.Order
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var o order.Order
		if err := json.Unmarshal(payload, &o); err != nil {
			return nil, err
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

// retainTimeout bounds each archive write triggered from the event stream.
const retainTimeout = 5 * time.Second
