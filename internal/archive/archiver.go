package archive

import (
	"context"

	"ordersync/internal/logger"
	"ordersync/internal/order"
	"ordersync/internal/store"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const lookupCacheSize = 256

// Archiver watches the live store and writes every order that reaches a
// terminal state to the archive. Lookups of archived orders go through a
// small LRU so the history screen doesn't hammer the database.
type Archiver struct {
	store *store.Store
	repo  Repository
	cache *lru.Cache[string, *order.Order]
}

func NewArchiver(st *store.Store, repo Repository) (*Archiver, error) {
	cache, err := lru.New[string, *order.Order](lookupCacheSize)
	if err != nil {
		return nil, err
	}
	return &Archiver{store: st, repo: repo, cache: cache}, nil
}

// Run consumes store change events until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) {
	events, cancel := a.store.Subscribe(64)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			a.handle(ctx, ev)
		}
	}
}

func (a *Archiver) handle(ctx context.Context, ev store.ChangeEvent) {
	if ev.Current == nil || !order.IsTerminal(ev.Current.Status) {
		return
	}
	// Only the transition into a terminal state matters; later version
	// bumps on an already-terminal order are duplicate no-ops anyway, but
	// skipping them saves the round trip.
	if ev.Previous != nil && order.IsTerminal(ev.Previous.Status) {
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, retainTimeout)
	defer cancel()

	if err := a.repo.SaveTerminal(writeCtx, ev.Current); err != nil {
		logger.L().Error("failed to archive terminal order",
			zap.String("order_id", ev.OrderID),
			zap.Error(err),
		)
		return
	}
	a.cache.Add(ev.Current.ID, ev.Current)

	logger.L().Info("order archived",
		zap.String("order_id", ev.OrderID),
		zap.String("status", string(ev.Current.Status)),
	)
}

// Lookup fetches an archived order, read-through cached.
func (a *Archiver) Lookup(ctx context.Context, id string) (*order.Order, error) {
	if o, ok := a.cache.Get(id); ok {
		return o.Clone(), nil
	}

	o, err := a.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	a.cache.Add(id, o)
	return o.Clone(), nil
}
