package handlers

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/eargollo/imgdup/internal/media"
	"github.com/eargollo/imgdup/internal/scan"
)

// RecordsHandler serves per-image data of the latest scan. Only paths that
// the scan analysed are served, so the endpoints cannot be used to read
// arbitrary files.
type RecordsHandler struct {
	Manager *scan.Manager
	// ThumbSize bounds thumbnails rendered on demand when the scan kept none.
	ThumbSize int
}

type recordError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

type recordInfo struct {
	Path     string     `json:"path"`
	Filename string     `json:"filename"`
	Size     int64      `json:"size"`
	Decoded  bool       `json:"decoded"`
	Error    string     `json:"error,omitempty"`
	GroupID  int        `json:"group_id,omitempty"`
	Meta     media.Meta `json:"meta"`
}

// record resolves the ?path= query parameter against the latest result.
func (h *RecordsHandler) record(w http.ResponseWriter, r *http.Request) (*scan.Result, *scan.Record, bool) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "MISSING_PATH", "path is required")
		return nil, nil, false
	}
	res, ok := latestResult(w, h.Manager)
	if !ok {
		return nil, nil, false
	}
	rec, ok := res.Record(path)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "path is not part of the latest scan")
		return nil, nil, false
	}
	return res, rec, true
}

// Errors handles GET /api/records/errors: the files that could not be decoded.
func (h *RecordsHandler) Errors(w http.ResponseWriter, r *http.Request) {
	res, ok := latestResult(w, h.Manager)
	if !ok {
		return
	}
	limit, offset := parsePagination(r)

	items := []recordError{}
	for _, rec := range scan.Failed(res.Records) {
		msg := "no histogram"
		if rec.Err != nil {
			msg = rec.Err.Error()
		}
		items = append(items, recordError{Path: rec.Path, Error: msg})
	}
	writeJSON(w, http.StatusOK, ListResponse[recordError]{
		Items:  page(items, limit, offset),
		Total:  len(items),
		Limit:  limit,
		Offset: offset,
	})
}

// Info handles GET /api/records/info?path=.
func (h *RecordsHandler) Info(w http.ResponseWriter, r *http.Request) {
	res, rec, ok := h.record(w, r)
	if !ok {
		return
	}
	info := recordInfo{
		Path:     rec.Path,
		Filename: filepath.Base(rec.Path),
		Decoded:  rec.OK(),
		Meta:     rec.Meta,
	}
	if rec.Err != nil {
		info.Error = rec.Err.Error()
	}
	if g, ok := res.GroupOf(rec.Path); ok {
		info.GroupID = g.ID
	}
	if st, err := os.Stat(rec.Path); err == nil {
		info.Size = st.Size()
	}
	writeJSON(w, http.StatusOK, info)
}

// Thumbnail handles GET /api/thumbnail?path=. It serves the JPEG rendered
// during analysis, or renders one when the scan ran with thumbnails off.
func (h *RecordsHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	_, rec, ok := h.record(w, r)
	if !ok {
		return
	}
	if !rec.OK() {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "image could not be decoded")
		return
	}

	thumb := rec.Thumbnail
	if len(thumb) == 0 {
		size := h.ThumbSize
		if size <= 0 {
			size = 100
		}
		img, err := media.Open(rec.Path)
		if err == nil {
			thumb, err = media.Thumbnail(img, size, size)
		}
		if err != nil {
			slog.Error("thumbnail: generate", "path", rec.Path, "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "thumbnail generation failed")
			return
		}
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(thumb) //nolint:errcheck
}

// Preview handles GET /api/preview?path=: serves the original file.
func (h *RecordsHandler) Preview(w http.ResponseWriter, r *http.Request) {
	_, rec, ok := h.record(w, r)
	if !ok {
		return
	}
	if _, err := os.Stat(rec.Path); err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "file no longer exists")
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeFile(w, r, rec.Path)
}
