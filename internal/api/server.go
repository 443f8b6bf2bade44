package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"ordersync/internal/archive"
	"ordersync/internal/authn"
	"ordersync/internal/drivers"
	"ordersync/internal/gateway"
	"ordersync/internal/logger"
	"ordersync/internal/middleware"
	"ordersync/internal/order"
	"ordersync/internal/realtime"
	"ordersync/internal/store"
	"ordersync/internal/transport"
)

// Server is the local HTTP surface the dashboard UI talks to. It reads from
// the store and pushes mutations through the action gateway; it never talks
// to the order service directly.
type Server struct {
	store        *store.Store
	gateway      *gateway.Client
	channel      *realtime.Channel
	directory    *drivers.Directory
	archiver     *archive.Archiver
	restaurantID string
}

func NewServer(st *store.Store, gw *gateway.Client, ch *realtime.Channel,
	dir *drivers.Directory, arch *archive.Archiver, restaurantID string) *Server {
	return &Server{
		store:        st,
		gateway:      gw,
		channel:      ch,
		directory:    dir,
		archiver:     arch,
		restaurantID: restaurantID,
	}
}

// Routes builds the full handler chain.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /orders", s.handleListOrders)
	mux.HandleFunc("GET /orders/{id}", s.handleGetOrder)
	mux.HandleFunc("POST /orders/{id}/transition", s.handleTransition)
	mux.HandleFunc("POST /orders/{id}/driver", s.handleAssignDriver)
	mux.HandleFunc("POST /orders/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /drivers/available", s.handleAvailableDrivers)
	mux.HandleFunc("GET /realtime/status", s.handleRealtimeStatus)
	mux.HandleFunc("GET /archive/orders/{id}", s.handleArchivedOrder)

	var h http.Handler = mux
	h = middleware.ActorMiddleware(h)
	h = middleware.RateLimitMiddleware(h)
	h = logger.LoggingMiddleware(h)
	h = logger.RequestIDMiddleware(h)
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.List())
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := s.store.Get(r.PathValue("id"))
	if !ok {
		writeError(w, order.ErrOrderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status order.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Status == "" {
		http.Error(w, "missing status", http.StatusBadRequest)
		return
	}

	actor, _ := transport.ActorFrom(r.Context())
	err := s.gateway.RequestTransition(r.Context(), r.PathValue("id"), body.Status, actor)
	if err != nil {
		writeError(w, err)
		return
	}

	o, _ := s.store.Get(r.PathValue("id"))
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleAssignDriver(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DriverID string `json:"driverId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DriverID == "" {
		http.Error(w, "missing driverId", http.StatusBadRequest)
		return
	}

	actor, _ := transport.ActorFrom(r.Context())
	if err := s.gateway.AssignDriver(r.Context(), r.PathValue("id"), body.DriverID, actor); err != nil {
		writeError(w, err)
		return
	}

	o, _ := s.store.Get(r.PathValue("id"))
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	actor, _ := transport.ActorFrom(r.Context())
	if err := s.gateway.Cancel(r.Context(), r.PathValue("id"), actor); err != nil {
		writeError(w, err)
		return
	}

	o, _ := s.store.Get(r.PathValue("id"))
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleAvailableDrivers(w http.ResponseWriter, r *http.Request) {
	list, err := s.directory.Available(r.Context(), s.restaurantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleRealtimeStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":      s.channel.StateName(),
		"reconnects": s.channel.Reconnects.Load(),
		"events":     s.channel.Events.Load(),
		"applied":    s.store.Applied.Load(),
		"stale":      s.store.Stale.Load(),
	})
}

func (s *Server) handleArchivedOrder(w http.ResponseWriter, r *http.Request) {
	if s.archiver == nil {
		http.Error(w, "archive disabled", http.StatusNotFound)
		return
	}
	o, err := s.archiver.Lookup(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the engine's error taxonomy onto HTTP statuses. Guard
// failures are the caller's mistake; transient upstream failures invite a
// retry; an expired session is fatal for every endpoint at once.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, order.ErrActorNotAllowed):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, order.ErrInvalidTransition), errors.Is(err, order.ErrFinalState):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, authn.ErrSessionExpired):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, gateway.ErrTransient):
		http.Error(w, err.Error(), http.StatusBadGateway)
	case errors.Is(err, gateway.ErrRejected):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
