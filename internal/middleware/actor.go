package middleware

import (
	"net/http"

	"ordersync/internal/order"
	"ordersync/internal/transport"
)

// ActorMiddleware resolves the acting role from the X-Actor-Role header.
// The local API serves the restaurant dashboard, so a missing header means
// restaurant staff; an unknown role is rejected outright.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := order.ActorRestaurant

		switch raw := r.Header.Get("X-Actor-Role"); raw {
		case "":
		case string(order.ActorRestaurant), string(order.ActorDriver),
			string(order.ActorAdmin), string(order.ActorCustomer):
			role = order.Actor(raw)
		default:
			http.Error(w, "unknown actor role", http.StatusBadRequest)
			return
		}

		next.ServeHTTP(w, r.WithContext(transport.WithActor(r.Context(), role)))
	})
}
