package handlers

import (
	"net/http"
	"time"

	"github.com/eargollo/imgdup/internal/scan"
	"github.com/eargollo/imgdup/internal/scheduler"
)

// StatusHandler handles GET /api/status.
type StatusHandler struct {
	Manager *scan.Manager
	Sched   *scheduler.Scheduler
	Version string
}

type statusResponse struct {
	Version    string          `json:"version"`
	ActiveScan *activeScanInfo `json:"active_scan"`
	Schedule   scheduleInfo    `json:"schedule"`
	LastResult *lastResultInfo `json:"last_result"`
}

type activeScanInfo struct {
	ID          int64         `json:"id"`
	StartedAt   time.Time     `json:"started_at"`
	TriggeredBy string        `json:"triggered_by"`
	Progress    scan.Snapshot `json:"progress"`
}

type scheduleInfo struct {
	Cron      string     `json:"cron"`
	NextRunAt *time.Time `json:"next_run_at"`
}

type lastResultInfo struct {
	ID            int64              `json:"id"`
	FinishedAt    time.Time          `json:"finished_at"`
	Threshold     uint64             `json:"threshold"`
	Records       int                `json:"records"`
	DecodeErrors  int                `json:"decode_errors"`
	PairsCompared int64              `json:"pairs_compared"`
	Groups        int                `json:"duplicate_groups"`
	Stats         scan.DistanceStats `json:"distance_stats"`
}

// ServeHTTP returns the system status as JSON.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version:    h.Version,
		ActiveScan: h.activeScan(),
		LastResult: h.lastResult(),
	}
	if h.Sched != nil {
		resp.Schedule = scheduleInfo{
			Cron:      h.Sched.Expr(scheduler.JobScan),
			NextRunAt: h.Sched.Next(scheduler.JobScan),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *StatusHandler) activeScan() *activeScanInfo {
	a := h.Manager.ActiveScan()
	if a == nil {
		return nil
	}
	return &activeScanInfo{
		ID:          a.ID,
		StartedAt:   a.StartedAt.UTC(),
		TriggeredBy: a.TriggeredBy,
		Progress:    a.Progress.Snapshot(),
	}
}

func (h *StatusHandler) lastResult() *lastResultInfo {
	res, err := h.Manager.Latest()
	if err != nil {
		return nil
	}
	return &lastResultInfo{
		ID:            res.ID,
		FinishedAt:    res.FinishedAt.UTC(),
		Threshold:     res.Threshold,
		Records:       len(res.Records),
		DecodeErrors:  len(scan.Failed(res.Records)),
		PairsCompared: res.Compared,
		Groups:        len(res.Groups),
		Stats:         res.Stats,
	}
}
