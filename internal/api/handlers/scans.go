package handlers

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/eargollo/imgdup/internal/scan"
)

// ScansHandler handles scan-related API endpoints.
type ScansHandler struct {
	DB      *sql.DB
	Manager *scan.Manager
}

// Create handles POST /api/scans: triggers a manual scan.
func (h *ScansHandler) Create(w http.ResponseWriter, r *http.Request) {
	if len(h.Manager.Config().Roots) == 0 {
		writeError(w, http.StatusBadRequest, "NO_SCAN_PATHS", "No scan paths are configured")
		return
	}
	// The scan outlives the request.
	active, err := h.Manager.Start(context.Background(), "manual")
	if err != nil {
		if errors.Is(err, scan.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "SCAN_ALREADY_RUNNING", "A scan is already in progress")
			return
		}
		slog.Error("scans: start", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start scan")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":           active.ID,
		"status":       "running",
		"started_at":   active.StartedAt.UTC().Format(time.RFC3339),
		"triggered_by": active.TriggeredBy,
	})
}

// Cancel handles DELETE /api/scans/current.
func (h *ScansHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Manager.Cancel()
	if err != nil {
		if errors.Is(err, scan.ErrNoActiveScan) {
			writeError(w, http.StatusNotFound, "NO_ACTIVE_SCAN", "No scan is currently running")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         snap.ID,
		"status":     "cancelling",
		"started_at": snap.StartedAt.UTC().Format(time.RFC3339),
	})
}

// List handles GET /api/scans: returns scan history newest first.
func (h *ScansHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	items, err := scan.ListHistory(r.Context(), h.DB, limit, offset)
	if err != nil {
		slog.Error("scans list", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if items == nil {
		items = []scan.HistoryEntry{}
	}

	var total int
	if err := h.DB.QueryRowContext(r.Context(), `SELECT COUNT(*) FROM scan_history`).Scan(&total); err != nil {
		slog.Error("scans list: count", "error", err)
	}

	writeJSON(w, http.StatusOK, ListResponse[scan.HistoryEntry]{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}
