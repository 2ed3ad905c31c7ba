package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xelth-com/taskchat-sync/internal/buildinfo"
	"github.com/xelth-com/taskchat-sync/internal/middleware"
	syncengine "github.com/xelth-com/taskchat-sync/internal/sync"
	"github.com/xelth-com/taskchat-sync/internal/websocket"
)

// RouteReporter exposes the connection manager state; nil when no routes are configured
type RouteReporter interface {
	CurrentRoute() string
	RouteStatuses() []syncengine.RouteStatus
	RouteHistory() []syncengine.RouteSwitch
}

// Router wraps the mux router and the sync engine
type Router struct {
	*mux.Router
	engine *syncengine.Engine
	routes RouteReporter
	hub    *websocket.Hub
}

// NewRouter creates a new HTTP router with all routes.
// Everything but /health requires a token signed with secret.
func NewRouter(engine *syncengine.Engine, hub *websocket.Hub, routes RouteReporter, secret string) *Router {
	r := &Router{
		Router: mux.NewRouter(),
		engine: engine,
		routes: routes,
		hub:    hub,
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	auth := middleware.Auth(secret)

	// Report stream
	if hub != nil {
		r.Handle("/ws", auth(http.HandlerFunc(r.serveWs))).Methods("GET")
	}

	// API routes
	api := r.PathPrefix("/api").Subrouter()
	api.Use(mux.MiddlewareFunc(auth))
	api.HandleFunc("/status", r.getStatus).Methods("GET")

	NewSyncHandler(engine, routes).RegisterRoutes(api)

	return r
}

// healthCheck returns the health status of the daemon
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	online := r.engine.Status(req.Context()).IsOnline
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"online":      online,
		"build_time":  buildinfo.BuildTime,
		"commit_hash": buildinfo.CommitHash,
		"start_time":  buildinfo.StartTime,
	})
}

// getStatus returns the current status
func (r *Router) getStatus(w http.ResponseWriter, req *http.Request) {
	resp := map[string]interface{}{
		"status":     "running",
		"version":    buildinfo.Version(),
		"start_time": buildinfo.StartTime,
	}
	if r.hub != nil {
		resp["ws_clients"] = r.hub.ClientCount()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (r *Router) serveWs(w http.ResponseWriter, req *http.Request) {
	websocket.ServeWs(r.hub, w, req)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
