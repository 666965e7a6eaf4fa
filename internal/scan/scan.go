package scan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eargollo/imgdup/internal/histogram"
	"github.com/eargollo/imgdup/internal/media"
	"github.com/eargollo/imgdup/internal/parallel"
)

// Config holds the parameters of one scan.
type Config struct {
	Roots      []string
	Excludes   []string
	Extensions []string
	// Workers sizes the pool used for decoding and comparison.
	// Zero means one per CPU.
	Workers   int
	Threshold uint64
	// ThumbWidth/ThumbHeight bound record thumbnails; zero disables them.
	ThumbWidth  int
	ThumbHeight int
	EXIF        bool
}

// DefaultConfig returns sensible defaults. Threshold is left at zero, which
// only groups images with identical histograms.
func DefaultConfig() Config {
	return Config{
		Extensions:  media.DefaultExtensions,
		Workers:     parallel.DefaultWorkers(),
		ThumbWidth:  100,
		ThumbHeight: 100,
	}
}

// Result is everything one scan produced. It is immutable once returned and
// is discarded when the next scan replaces it.
type Result struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt time.Time
	Threshold  uint64
	Records    []Record
	*GroupResult

	byPath  map[string]int
	groupOf map[string]int
}

// Record returns the record for path.
func (r *Result) Record(path string) (*Record, bool) {
	i, ok := r.byPath[path]
	if !ok {
		return nil, false
	}
	return &r.Records[i], true
}

// GroupOf returns the duplicate group path belongs to, if any.
func (r *Result) GroupOf(path string) (DuplicateGroup, bool) {
	id, ok := r.groupOf[path]
	if !ok {
		return DuplicateGroup{}, false
	}
	return r.Group(id)
}

// Group returns the duplicate group with the given ID.
func (r *Result) Group(id int) (DuplicateGroup, bool) {
	if id < 1 || id > len(r.Groups) {
		return DuplicateGroup{}, false
	}
	return r.Groups[id-1], true
}

// Scanner runs the full pipeline: discovery, analysis, grouping.
type Scanner struct {
	db  *sql.DB
	cfg Config
}

// New creates a Scanner. db may be nil, in which case no history is kept.
func New(db *sql.DB, cfg Config) *Scanner {
	return &Scanner{db: db, cfg: cfg}
}

// Run executes a scan. progress may be nil. When the Scanner has a database
// a scan_history row is written for the run; its ID is Result.ID.
func (s *Scanner) Run(ctx context.Context, triggeredBy string, progress *Progress) (*Result, error) {
	startedAt := time.Now()
	var scanID int64
	if s.db != nil {
		id, err := insertScanRecord(s.db, startedAt, triggeredBy, s.cfg.Threshold)
		if err != nil {
			return nil, fmt.Errorf("create scan record: %w", err)
		}
		scanID = id
	}
	return s.execute(ctx, scanID, triggeredBy, startedAt, progress)
}

// execute runs the pipeline for an already-created scan record.
func (s *Scanner) execute(ctx context.Context, scanID int64, triggeredBy string, startedAt time.Time, progress *Progress) (*Result, error) {
	if progress == nil {
		progress = &Progress{}
	}
	slog.Info("scan started", "id", scanID, "triggered_by", triggeredBy,
		"roots", s.cfg.Roots, "threshold", s.cfg.Threshold)

	res, runErr := s.runPipeline(ctx, progress)

	status := "completed"
	switch {
	case errors.Is(runErr, context.Canceled) || (runErr == nil && ctx.Err() != nil):
		status = "cancelled"
	case runErr != nil:
		status = "failed"
	}

	finishedAt := time.Now()
	if s.db != nil {
		if err := finaliseScanRecord(s.db, scanID, status, startedAt, finishedAt, progress, runErr); err != nil {
			slog.Error("finalise scan record", "id", scanID, "error", err)
		}
	}
	slog.Info("scan finished", "id", scanID, "status", status,
		"files", progress.FilesDiscovered.Load(),
		"decode_errors", progress.DecodeErrors.Load(),
		"groups", progress.Groups.Load(),
		"duration", finishedAt.Sub(startedAt).Round(time.Millisecond))

	if runErr != nil {
		return nil, runErr
	}
	res.ID = scanID
	res.StartedAt = startedAt
	res.FinishedAt = finishedAt
	return res, nil
}

// runPipeline wires the stages on one worker pool scoped to this run.
func (s *Scanner) runPipeline(ctx context.Context, progress *Progress) (*Result, error) {
	workers := s.cfg.Workers
	if workers == 0 {
		workers = parallel.DefaultWorkers()
	}
	pool, err := parallel.NewPool(workers)
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	progress.SetPhase(PhaseDiscovering)
	paths, err := FindCandidates(ctx, s.cfg.Roots, s.cfg.Excludes, s.cfg.Extensions, workers)
	if err != nil {
		return nil, fmt.Errorf("find candidates: %w", err)
	}
	progress.FilesDiscovered.Store(int64(len(paths)))

	progress.SetPhase(PhaseAnalyzing)
	records, err := AnalyzeWith(ctx, pool, paths, progress, histogram.Options{
		ThumbWidth:  s.cfg.ThumbWidth,
		ThumbHeight: s.cfg.ThumbHeight,
		EXIF:        s.cfg.EXIF,
	})
	if err != nil {
		return nil, err
	}
	failed := Failed(records)
	progress.DecodeErrors.Store(int64(len(failed)))
	for _, r := range failed {
		slog.Warn("image skipped", "path", r.Path, "error", r.Err)
	}

	progress.SetPhase(PhaseGrouping)
	groups, err := groupWith(ctx, pool, records, s.cfg.Threshold, progress)
	if err != nil {
		return nil, err
	}
	progress.Groups.Store(int64(len(groups.Groups)))
	progress.SetPhase(PhaseDone)

	res := &Result{
		Threshold:   s.cfg.Threshold,
		Records:     records,
		GroupResult: groups,
		byPath:      make(map[string]int, len(records)),
		groupOf:     make(map[string]int),
	}
	for i, r := range records {
		res.byPath[r.Path] = i
	}
	for _, g := range groups.Groups {
		for _, p := range g.Paths {
			res.groupOf[p] = g.ID
		}
	}
	return res, nil
}

// ── DB helpers ────────────────────────────────────────────────────────────────

func insertScanRecord(db *sql.DB, startedAt time.Time, triggeredBy string, threshold uint64) (int64, error) {
	now := startedAt.Unix()
	res, err := db.Exec(`
		INSERT INTO scan_history
			(started_at, status, triggered_by, threshold, created_at)
		VALUES (?, 'running', ?, ?, ?)`,
		now, triggeredBy, int64(threshold), now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func finaliseScanRecord(db *sql.DB, scanID int64, status string, startedAt, finishedAt time.Time, p *Progress, runErr error) error {
	var errMsg sql.NullString
	if runErr != nil {
		errMsg = sql.NullString{String: runErr.Error(), Valid: true}
	}
	_, err := db.Exec(`
		UPDATE scan_history
		SET status           = ?,
		    finished_at      = ?,
		    duration_ms      = ?,
		    files_discovered = ?,
		    files_analyzed   = ?,
		    decode_errors    = ?,
		    pairs_compared   = ?,
		    duplicate_groups = ?,
		    error            = ?
		WHERE id = ?`,
		status, finishedAt.Unix(), finishedAt.Sub(startedAt).Milliseconds(),
		p.FilesDiscovered.Load(),
		p.FilesAnalyzed.Load(),
		p.DecodeErrors.Load(),
		p.PairsCompared.Load(),
		p.Groups.Load(),
		errMsg,
		scanID)
	return err
}

// HistoryEntry is one row of scan_history.
type HistoryEntry struct {
	ID              int64      `json:"id"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	Status          string     `json:"status"`
	TriggeredBy     string     `json:"triggered_by"`
	Threshold       uint64     `json:"threshold"`
	FilesDiscovered int64      `json:"files_discovered"`
	FilesAnalyzed   int64      `json:"files_analyzed"`
	DecodeErrors    int64      `json:"decode_errors"`
	PairsCompared   int64      `json:"pairs_compared"`
	DuplicateGroups int64      `json:"duplicate_groups"`
	DurationMs      *int64     `json:"duration_ms,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// ListHistory returns scan history newest first.
func ListHistory(ctx context.Context, db *sql.DB, limit, offset int) ([]HistoryEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, status, triggered_by, threshold,
		       files_discovered, files_analyzed, decode_errors, pairs_compared,
		       duplicate_groups, duration_ms, error
		FROM scan_history
		ORDER BY started_at DESC, id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query scan history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			e          HistoryEntry
			startedAt  int64
			threshold  int64
			finishedAt sql.NullInt64
			duration   sql.NullInt64
			errMsg     sql.NullString
		)
		if err := rows.Scan(&e.ID, &startedAt, &finishedAt, &e.Status, &e.TriggeredBy, &threshold,
			&e.FilesDiscovered, &e.FilesAnalyzed, &e.DecodeErrors, &e.PairsCompared,
			&e.DuplicateGroups, &duration, &errMsg); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.StartedAt = time.Unix(startedAt, 0).UTC()
		e.Threshold = uint64(threshold)
		if finishedAt.Valid {
			t := time.Unix(finishedAt.Int64, 0).UTC()
			e.FinishedAt = &t
		}
		if duration.Valid {
			d := duration.Int64
			e.DurationMs = &d
		}
		e.Error = errMsg.String
		out = append(out, e)
	}
	return out, rows.Err()
}
