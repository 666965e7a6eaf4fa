package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/eargollo/imgdup/internal/config"
	"github.com/eargollo/imgdup/internal/scan"
	"github.com/eargollo/imgdup/internal/scheduler"
)

// ConfigHandler handles GET/PATCH /api/config. Changes apply to the next
// scan and are not written back to the config file.
type ConfigHandler struct {
	Cfg     *config.Config
	Manager *scan.Manager
	Sched   *scheduler.Scheduler
	// ScanJob is installed on the scheduler when the schedule changes.
	ScanJob func()
	mu      sync.Mutex // guards Cfg mutations
}

// ConfigPatch describes the fields that can be updated at runtime.
// Only supplied (non-nil) fields are applied.
type ConfigPatch struct {
	ScanPaths          []string `json:"scan_paths"`
	ExcludePaths       []string `json:"exclude_paths"`
	Threshold          *uint64  `json:"threshold"`
	Workers            *int     `json:"workers"`
	EXIF               *bool    `json:"exif"`
	Schedule           *string  `json:"schedule"`
	TrashRetentionDays *int     `json:"trash_retention_days"`
}

// Get handles GET /api/config.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	writeJSON(w, http.StatusOK, h.Cfg)
}

// RetentionDays returns the current trash retention.
func (h *ConfigHandler) RetentionDays() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Cfg.TrashRetentionDays
}

// Apply validates patch, applies each non-nil field to h.Cfg and propagates
// the result to the scan manager and the scheduler. Nothing is applied when
// validation fails.
func (h *ConfigHandler) Apply(patch ConfigPatch) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := *h.Cfg
	if patch.ScanPaths != nil {
		next.ScanPaths = patch.ScanPaths
	}
	if patch.ExcludePaths != nil {
		next.ExcludePaths = patch.ExcludePaths
	}
	if patch.Threshold != nil {
		next.Threshold = *patch.Threshold
	}
	if patch.Workers != nil {
		next.Workers = *patch.Workers
	}
	if patch.EXIF != nil {
		next.EXIF = *patch.EXIF
	}
	if patch.TrashRetentionDays != nil {
		v := *patch.TrashRetentionDays
		if v < 1 || v > 365 {
			return fmt.Errorf("trash_retention_days must be between 1 and 365")
		}
		next.TrashRetentionDays = v
	}
	if err := next.Validate(); err != nil {
		return err
	}

	if patch.Schedule != nil && h.Sched != nil {
		if err := h.Sched.Set(scheduler.JobScan, *patch.Schedule, h.ScanJob); err != nil {
			return err
		}
		next.Schedule = *patch.Schedule
	}

	*h.Cfg = next
	if h.Manager != nil {
		h.Manager.UpdateConfig(h.Cfg.ScanConfig())
	}
	return nil
}

// Update handles PATCH /api/config.
func (h *ConfigHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch ConfigPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body")
		return
	}

	if err := h.Apply(patch); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_CONFIG", err.Error())
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	writeJSON(w, http.StatusOK, h.Cfg)
}
