package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eargollo/imgdup/internal/scan"
	"github.com/eargollo/imgdup/internal/trash"
)

// TrashHandler handles trash API endpoints.
type TrashHandler struct {
	Trash   *trash.Manager
	Manager *scan.Manager
	// RetentionDays returns how long a newly trashed file is kept.
	RetentionDays func() int
}

type trashRequest struct {
	Path string `json:"path"`
}

type trashedItem struct {
	TrashID      int64  `json:"trash_id"`
	OriginalPath string `json:"original_path"`
	GroupID      int    `json:"group_id"`
	ExpiresAt    string `json:"expires_at"`
}

// Move handles POST /api/trash. The path must belong to a duplicate group of
// the latest scan, and another member of that group must still exist so a
// copy of the image is always kept.
func (h *TrashHandler) Move(w http.ResponseWriter, r *http.Request) {
	var body trashRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Path == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "path is required")
		return
	}
	res, ok := latestResult(w, h.Manager)
	if !ok {
		return
	}
	g, ok := res.GroupOf(body.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_IN_GROUP", "path is not in a duplicate group of the latest scan")
		return
	}
	if _, err := os.Stat(body.Path); errors.Is(err, os.ErrNotExist) {
		writeError(w, http.StatusConflict, "FILE_MISSING", "file no longer exists")
		return
	}

	keeper := false
	for _, p := range g.Paths {
		if p == body.Path {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			keeper = true
			break
		}
	}
	if !keeper {
		writeError(w, http.StatusConflict, "NO_KEEPER", "At least one file must be kept in the group")
		return
	}

	days := 30
	if h.RetentionDays != nil {
		days = h.RetentionDays()
	}
	id, err := h.Trash.MoveToTrash(r.Context(), body.Path, days)
	if err != nil {
		slog.Error("trash: move", "path", body.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to move file to trash: "+err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, trashedItem{
		TrashID:      id,
		OriginalPath: body.Path,
		GroupID:      g.ID,
		ExpiresAt:    time.Now().Add(time.Duration(days) * 24 * time.Hour).UTC().Format(time.RFC3339),
	})
}

// List handles GET /api/trash.
func (h *TrashHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	items, err := h.Trash.List(r.Context())
	if err != nil {
		slog.Error("trash: list", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[trash.Item]{
		Items:  page(items, limit, offset),
		Total:  len(items),
		Limit:  limit,
		Offset: offset,
	})
}

// Restore handles POST /api/trash/{id}/restore.
func (h *TrashHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid trash ID")
		return
	}

	err = h.Trash.Restore(r.Context(), id)
	var conflict *trash.ErrRestoreConflict
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": "restored"})
	case errors.Is(err, trash.ErrNotTrashed):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, "RESTORE_CONFLICT", err.Error())
	default:
		slog.Error("trash: restore", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

// PurgeAll handles DELETE /api/trash.
func (h *TrashHandler) PurgeAll(w http.ResponseWriter, r *http.Request) {
	count, freed, err := h.Trash.PurgeAll(r.Context())
	if err != nil {
		slog.Error("trash: purge", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"files_purged": count,
		"bytes_freed":  freed,
	})
}
