package handlers

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/eargollo/imgdup/internal/scan"
)

// StatsHandler handles GET /api/stats.
type StatsHandler struct {
	DB      *sql.DB
	Manager *scan.Manager
}

type statsResponse struct {
	// Distances summarises nearest-neighbour distances of the latest scan
	// and is the main aid for picking a threshold.
	Distances *scan.DistanceStats `json:"distances"`
	Threshold *uint64             `json:"threshold"`
	Totals    statsTotals         `json:"totals"`
}

type statsTotals struct {
	DeletedFiles      int64 `json:"deleted_files"`
	ReclaimedBytes    int64 `json:"reclaimed_bytes"`
	DeletedFiles30d   int64 `json:"deleted_files_30d"`
	ReclaimedBytes30d int64 `json:"reclaimed_bytes_30d"`
}

// ServeHTTP handles GET /api/stats.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var resp statsResponse
	if res, err := h.Manager.Latest(); err == nil {
		stats, threshold := res.Stats, res.Threshold
		resp.Distances = &stats
		resp.Threshold = &threshold
	}

	since := time.Now().Add(-30 * 24 * time.Hour).Unix()
	err := h.DB.QueryRowContext(r.Context(), `
		SELECT COUNT(*),
		       COALESCE(SUM(file_size), 0),
		       COALESCE(SUM(CASE WHEN deleted_at >= ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN deleted_at >= ? THEN file_size ELSE 0 END), 0)
		FROM deletion_log`, since, since,
	).Scan(&resp.Totals.DeletedFiles, &resp.Totals.ReclaimedBytes,
		&resp.Totals.DeletedFiles30d, &resp.Totals.ReclaimedBytes30d)
	if err != nil {
		slog.Error("stats: query deletion log", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
