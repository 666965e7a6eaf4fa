package handlers

import (
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/eargollo/imgdup/internal/media"
	"github.com/eargollo/imgdup/internal/scan"
)

// GroupsHandler handles duplicate-group API endpoints. Groups live in the
// latest in-memory scan result; they are not persisted.
type GroupsHandler struct {
	Manager *scan.Manager
}

type groupItem struct {
	ID           int      `json:"id"`
	FileCount    int      `json:"file_count"`
	Paths        []string `json:"paths"`
	ThumbnailURL string   `json:"thumbnail_url"`
}

type memberItem struct {
	Path         string     `json:"path"`
	Size         int64      `json:"size"`
	Missing      bool       `json:"missing"`
	Meta         media.Meta `json:"meta"`
	ThumbnailURL string     `json:"thumbnail_url"`
}

type groupDetail struct {
	groupItem
	Members []memberItem    `json:"members"`
	Pairs   []scan.PairDiff `json:"pairs"`
}

func thumbnailURL(path string) string {
	return "/api/thumbnail?path=" + url.QueryEscape(path)
}

func newGroupItem(g scan.DuplicateGroup) groupItem {
	return groupItem{
		ID:           g.ID,
		FileCount:    len(g.Paths),
		Paths:        g.Paths,
		ThumbnailURL: thumbnailURL(g.Paths[0]),
	}
}

// List handles GET /api/groups. min_size filters out smaller groups.
func (h *GroupsHandler) List(w http.ResponseWriter, r *http.Request) {
	res, ok := latestResult(w, h.Manager)
	if !ok {
		return
	}
	limit, offset := parsePagination(r)
	minSize := 2
	if v := r.URL.Query().Get("min_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > minSize {
			minSize = n
		}
	}

	items := []groupItem{}
	for _, g := range res.Groups {
		if len(g.Paths) >= minSize {
			items = append(items, newGroupItem(g))
		}
	}

	writeJSON(w, http.StatusOK, ListResponse[groupItem]{
		Items:  page(items, limit, offset),
		Total:  len(items),
		Limit:  limit,
		Offset: offset,
	})
}

// Get handles GET /api/groups/{id}. Members are stat'ed so a client can see
// which files were moved or deleted since the scan.
func (h *GroupsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid group ID")
		return
	}
	res, ok := latestResult(w, h.Manager)
	if !ok {
		return
	}
	g, ok := res.Group(id)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Group not found")
		return
	}

	d := groupDetail{groupItem: newGroupItem(g), Pairs: []scan.PairDiff{}}
	members := make(map[string]bool, len(g.Paths))
	for _, p := range g.Paths {
		members[p] = true
		m := memberItem{Path: p, ThumbnailURL: thumbnailURL(p)}
		if rec, ok := res.Record(p); ok {
			m.Meta = rec.Meta
		}
		if info, err := os.Stat(p); err == nil {
			m.Size = info.Size()
		} else {
			m.Missing = true
		}
		d.Members = append(d.Members, m)
	}
	for _, p := range res.Pairs {
		if members[p.A] && members[p.B] {
			d.Pairs = append(d.Pairs, p)
		}
	}

	writeJSON(w, http.StatusOK, d)
}
