package transport

import (
	"context"

	"ordersync/internal/order"
)

type ctxKey string

const actorKey ctxKey = "actor"

// WithActor stores the acting role in the context (set by middleware).
func WithActor(ctx context.Context, actor order.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFrom retrieves the acting role safely.
func ActorFrom(ctx context.Context) (order.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(order.Actor)
	return actor, ok
}
