package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	syncengine "github.com/xelth-com/taskchat-sync/internal/sync"
)

// SyncHandler handles synchronization requests
type SyncHandler struct {
	engine *syncengine.Engine
	routes RouteReporter
}

// NewSyncHandler creates a new sync handler. routes may be nil.
func NewSyncHandler(engine *syncengine.Engine, routes RouteReporter) *SyncHandler {
	return &SyncHandler{
		engine: engine,
		routes: routes,
	}
}

// RegisterRoutes registers sync routes below r (mounted at /api)
func (sh *SyncHandler) RegisterRoutes(r *mux.Router) {
	// Sync control endpoints
	r.HandleFunc("/sync/status", sh.GetSyncStatus).Methods("GET")
	r.HandleFunc("/sync/full", sh.TriggerFullSync).Methods("POST")
	r.HandleFunc("/sync/routes", sh.GetRoutes).Methods("GET")

	// Dead letters
	r.HandleFunc("/sync/deadletters", sh.ListDeadLetters).Methods("GET")
	r.HandleFunc("/sync/{entity}/{scope}/deadletters/{local_id}/requeue", sh.Requeue).Methods("POST")

	// Scope sync
	r.HandleFunc("/sync/{entity}/{scope}/run", sh.RunScope).Methods("POST")
}

func scopeFromVars(r *http.Request) syncengine.Scope {
	vars := mux.Vars(r)
	return syncengine.NewScope(syncengine.EntityType(vars["entity"]), vars["scope"])
}

// GetSyncStatus returns the current sync status
func (sh *SyncHandler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, sh.engine.Status(r.Context()))
}

// TriggerFullSync triggers a cycle for every registered scope without waiting
func (sh *SyncHandler) TriggerFullSync(w http.ResponseWriter, r *http.Request) {
	tasks := sh.engine.RequestFullSync()

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"message": "Full sync triggered",
		"status":  "processing",
		"scopes":  len(tasks),
	})
}

// GetRoutes returns the connection manager state
func (sh *SyncHandler) GetRoutes(w http.ResponseWriter, r *http.Request) {
	if sh.routes == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"current": "direct",
			"routes":  []syncengine.RouteStatus{},
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"current": sh.routes.CurrentRoute(),
		"routes":  sh.routes.RouteStatuses(),
		"history": sh.routes.RouteHistory(),
	})
}

// RunScope runs one cycle for a scope and returns its report
func (sh *SyncHandler) RunScope(w http.ResponseWriter, r *http.Request) {
	scope := scopeFromVars(r)

	report, err := sh.engine.SyncNow(r.Context(), scope)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]interface{}{"report": report})
	case errors.Is(err, syncengine.ErrUnknownScope):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, syncengine.ErrOffline):
		respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"report": report,
			"error":  err.Error(),
		})
	case report != nil:
		// Partial cycle: the report still lists what was committed
		respondJSON(w, http.StatusBadGateway, map[string]interface{}{
			"report": report,
			"error":  err.Error(),
		})
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// ListDeadLetters returns dead-lettered records across all scopes
func (sh *SyncHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	dls, err := sh.engine.DeadLetters(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if dls == nil {
		dls = []syncengine.DeadLetter{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":        len(dls),
		"dead_letters": dls,
	})
}

// Requeue makes a dead-lettered record eligible for push again
func (sh *SyncHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	scope := scopeFromVars(r)
	localID := mux.Vars(r)["local_id"]

	err := sh.engine.Requeue(r.Context(), scope, localID)
	switch {
	case err == nil:
		respondJSON(w, http.StatusAccepted, map[string]string{
			"message":  "Record requeued",
			"local_id": localID,
		})
	case errors.Is(err, syncengine.ErrUnknownScope), errors.Is(err, syncengine.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, syncengine.ErrNotPending):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
