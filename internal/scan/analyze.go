package scan

import (
	"context"
	"log/slog"

	"github.com/eargollo/imgdup/internal/histogram"
	"github.com/eargollo/imgdup/internal/media"
	"github.com/eargollo/imgdup/internal/parallel"
)

// Record is the outcome of analysing one file. Path identifies it; exactly
// one of Histogram and Err is set. A Record is written once by the worker
// that produced it and is read-only afterwards.
type Record struct {
	Path      string
	Histogram histogram.Histogram
	Err       error
	Thumbnail []byte
	Meta      media.Meta
}

// OK reports whether the file decoded and can take part in grouping.
func (r *Record) OK() bool { return r.Err == nil && r.Histogram != nil }

// Analyze decodes every path on a pool of workers goroutines and returns one
// Record per path, in the order of paths. Decode failures are carried on the
// records and never stop the batch. workers <= 0 is rejected before any work
// starts.
func Analyze(ctx context.Context, paths []string, workers int, sink ProgressSink, opts histogram.Options) ([]Record, error) {
	pool, err := parallel.NewPool(workers)
	if err != nil {
		return nil, err
	}
	defer pool.Close()
	return AnalyzeWith(ctx, pool, paths, sink, opts)
}

// AnalyzeWith is Analyze on an existing pool. sink may be nil. After each
// record the sink gets the running count; after the last one it gets a Done
// event. If ctx is cancelled the partial result is dropped and ctx.Err()
// returned; no Done event is sent in that case.
func AnalyzeWith(ctx context.Context, pool *parallel.Pool, paths []string, sink ProgressSink, opts histogram.Options) ([]Record, error) {
	if sink == nil {
		sink = SinkFunc(func(ProgressEvent) {})
	}

	it := parallel.IMap(ctx, pool, paths, func(path string) Record {
		return analyzeOne(path, opts)
	})
	defer it.Close()

	total := len(paths)
	records := make([]Record, 0, total)
	for rec, ok := it.Next(); ok; rec, ok = it.Next() {
		records = append(records, rec)
		sink.Report(ProgressEvent{Completed: len(records), Total: total})
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	sink.Report(ProgressEvent{Completed: len(records), Total: total, Done: true})
	return records, nil
}

func analyzeOne(path string, opts histogram.Options) Record {
	rec := Record{Path: path}
	d, err := histogram.Decode(path, opts)
	if err != nil {
		slog.Debug("analyze: decode failed", "path", path, "error", err)
		rec.Err = err
		return rec
	}
	rec.Histogram = d.Histogram
	rec.Thumbnail = d.Thumbnail
	rec.Meta = d.Meta
	return rec
}

// Failed returns the records that could not be decoded.
func Failed(records []Record) []Record {
	var out []Record
	for _, r := range records {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}
