package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/stratusworks/fsmux"
	"github.com/stratusworks/fsmux/stats"
)

// Handler serves the statistics API over a running multiplexer: live
// counter snapshots, byte-counter resets, and the backend close used by the
// drain flow.
type Handler struct {
	mux *fsmux.Mux
	log *slog.Logger
}

// NewHandler creates the statistics handler for mux.
func NewHandler(mux *fsmux.Mux, log *slog.Logger) *Handler {
	return &Handler{
		mux: mux,
		log: log,
	}
}

func (h *Handler) registry() *stats.Registry {
	return h.mux.Stats()
}

// HandleStats returns a point-in-time snapshot of every backend type's I/O
// counters, ordered by scheme.
//
// URL format: GET /api/v1/stats
//
// Response: JSON containing:
//   - backends: list of per-scheme counter snapshots
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	snapshots := h.registry().Snapshot()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"backends": snapshots,
	})
}

// HandleReset zeroes the byte counters of every registered backend type.
// Operation counters survive the reset so per-job byte accounting does not
// disturb long-running op totals.
//
// URL format: POST /api/v1/reset
//
// Response: JSON containing:
//   - message: human-readable confirmation
//   - schemes: the backend types whose byte counters were reset
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	reg := h.registry()

	schemes := make([]string, 0)
	for _, s := range reg.Snapshot() {
		schemes = append(schemes, s.Scheme)
	}
	reg.ResetAll()

	h.log.Info("Byte counters reset", "schemes", schemes)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "byte counters reset",
		"schemes": schemes,
	})
}

// CloseBackends closes every cached backend handle. Called by the server at
// the end of a drain window.
func (h *Handler) CloseBackends() error {
	if err := h.mux.CloseAll(); err != nil {
		h.log.Error("Failed to close cached backends", "err", err)
		return err
	}
	return nil
}
