package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/eargollo/imgdup/internal/config"
	"github.com/eargollo/imgdup/internal/histogram"
	"github.com/eargollo/imgdup/internal/parallel"
	"github.com/eargollo/imgdup/internal/scan"
)

// scanReport is the -json output of the scan command.
type scanReport struct {
	Threshold uint64                `json:"threshold"`
	Files     int                   `json:"files"`
	Compared  int64                 `json:"pairs_compared"`
	Groups    []scan.DuplicateGroup `json:"groups"`
	Pairs     []scan.PairDiff       `json:"pairs"`
	Errors    []decodeFailure       `json:"errors"`
	Stats     scan.DistanceStats    `json:"distance_stats"`
}

type decodeFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// barSink renders analysis progress as a terminal progress bar. The bar is
// created on the first event, once the total is known.
type barSink struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

func (s *barSink) Report(ev scan.ProgressEvent) {
	if s.bar == nil {
		s.bar = progressbar.NewOptions(ev.Total,
			progressbar.OptionSetWriter(s.w),
			progressbar.OptionSetDescription("analyzing"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}
	_ = s.bar.Set(ev.Completed)
	if ev.Done {
		_ = s.bar.Finish()
	}
}

// runScan is the one-shot scan command: discover, analyze with a progress
// bar on stderr, group, and print the groups to stdout. Nothing is stored.
func runScan(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	fs.SetOutput(stderr)
	threshold := fs.Uint64("threshold", cfg.Threshold, "retain pairs whose histogram distance is below this value")
	workers := fs.Int("workers", cfg.Workers, "decode and compare workers (0 = one per CPU)")
	asJSON := fs.Bool("json", false, "print a JSON report instead of text")
	quiet := fs.Bool("quiet", false, "do not draw a progress bar")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sc := cfg.ScanConfig()
	sc.Threshold = *threshold
	sc.Workers = *workers
	if fs.NArg() > 0 {
		sc.Roots = fs.Args()
	}
	if len(sc.Roots) == 0 {
		return errors.New("no roots to scan: pass them as arguments or set scan_paths")
	}
	if sc.Workers == 0 {
		sc.Workers = parallel.DefaultWorkers()
	}

	pool, err := parallel.NewPool(sc.Workers)
	if err != nil {
		return err
	}
	defer pool.Close()

	paths, err := scan.FindCandidates(ctx, sc.Roots, sc.Excludes, sc.Extensions, sc.Workers)
	if err != nil {
		return fmt.Errorf("find candidates: %w", err)
	}
	slog.Info("candidates found", "files", len(paths), "roots", sc.Roots)

	var sink scan.ProgressSink
	if !*quiet {
		sink = &barSink{w: stderr}
	}
	// Thumbnails have no consumer on the command line.
	records, err := scan.AnalyzeWith(ctx, pool, paths, sink, histogram.Options{EXIF: sc.EXIF})
	if err != nil {
		return err
	}

	res, err := scan.Group(ctx, pool, records, sc.Threshold)
	if err != nil {
		return err
	}

	report := scanReport{
		Threshold: sc.Threshold,
		Files:     len(records),
		Compared:  res.Compared,
		Groups:    res.Groups,
		Pairs:     res.Pairs,
		Errors:    []decodeFailure{},
		Stats:     res.Stats,
	}
	if report.Groups == nil {
		report.Groups = []scan.DuplicateGroup{}
	}
	if report.Pairs == nil {
		report.Pairs = []scan.PairDiff{}
	}
	for _, r := range scan.Failed(records) {
		report.Errors = append(report.Errors, decodeFailure{Path: r.Path, Error: r.Err.Error()})
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return printReport(stdout, report)
}

func printReport(w io.Writer, r scanReport) error {
	ew := &errWriter{w: w}
	for _, g := range r.Groups {
		ew.printf("group %d (%d images)\n", g.ID, len(g.Paths))
		for _, p := range g.Paths {
			ew.printf("  %s\n", p)
		}
	}
	if len(r.Errors) > 0 {
		ew.printf("could not decode %d file(s):\n", len(r.Errors))
		for _, e := range r.Errors {
			ew.printf("  %s: %s\n", e.Path, e.Error)
		}
	}
	ew.printf("%d files, %d pairs compared, %d duplicate groups at threshold %d\n",
		r.Files, r.Compared, len(r.Groups), r.Threshold)
	if r.Stats.Samples > 0 {
		ew.printf("nearest-neighbour distance: min %.0f, median %.0f, mean %.1f, stddev %.1f\n",
			r.Stats.Min, r.Stats.Median, r.Stats.Mean, r.Stats.StdDev)
	}
	return ew.err
}

// errWriter keeps the first write error so printReport can check once.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
