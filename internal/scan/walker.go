package scan

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/eargollo/imgdup/internal/media"
)

// dirQueue is an unbounded, concurrency-safe queue of directory paths.
// It tracks a pending counter so that walk knows when all work is done.
//
// Termination protocol:
//   - Push increments pending BEFORE enqueuing (caller must own the increment).
//   - Done decrements pending AFTER all children of a directory have been
//     pushed. When pending reaches 0, Done closes the queue and broadcasts.
type dirQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []string
	head    int // index of the next item to pop; avoids O(n) re-slicing
	pending atomic.Int64
	closed  bool
}

func newDirQueue() *dirQueue {
	q := &dirQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a directory. Must be called after incrementing pending.
func (q *dirQueue) Push(dir string) {
	q.mu.Lock()
	q.items = append(q.items, dir)
	q.mu.Unlock()
	q.cond.Signal()
}

// Pop blocks until an item is available or the queue is closed.
// Returns ("", false) when the queue is closed and empty.
func (q *dirQueue) Pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.head >= len(q.items) && !q.closed {
		q.cond.Wait()
	}
	if q.head >= len(q.items) {
		return "", false
	}
	item := q.items[q.head]
	q.items[q.head] = ""
	q.head++
	if q.head >= 1000 && q.head >= len(q.items)/2 {
		q.items = append(q.items[:0], q.items[q.head:]...)
		q.head = 0
	}
	return item, true
}

// Done must be called once per directory after all its child-directories have
// been pushed. Decrements pending; if pending reaches 0, closes the queue.
func (q *dirQueue) Done() {
	if q.pending.Add(-1) == 0 {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		q.cond.Broadcast()
	}
}

// Close wakes every blocked Pop so workers can exit on cancellation.
func (q *dirQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// walkFilter decides which files of a walk are reported.
type walkFilter struct {
	excludes   map[string]struct{}
	extensions map[string]bool
}

func (f walkFilter) excluded(path string) bool {
	_, ok := f.excludes[path]
	return ok
}

// walk traverses root using numWorkers goroutines and calls emit for every
// regular file whose extension passes the filter. Symlinks are not followed.
// Unreadable directories are logged and skipped.
func walk(ctx context.Context, root string, filter walkFilter, numWorkers int, emit func(string)) {
	q := newDirQueue()
	q.pending.Add(1)
	q.Push(root)

	stop := context.AfterFunc(ctx, q.Close)
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			walkerWorker(ctx, q, filter, emit)
		}()
	}
	wg.Wait()
}

// walkerWorker pops directories from q, enqueues sub-directories
// (incrementing pending first), emits matching files, then calls q.Done().
func walkerWorker(ctx context.Context, q *dirQueue, filter walkFilter, emit func(string)) {
	for {
		if ctx.Err() != nil {
			return
		}

		dir, ok := q.Pop()
		if !ok {
			return
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			slog.Warn("walk: read dir", "path", dir, "error", err)
			q.Done()
			continue
		}

		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())
			if filter.excluded(path) {
				continue
			}

			if entry.IsDir() {
				// Increment BEFORE pushing so pending is never zero prematurely.
				q.pending.Add(1)
				q.Push(path)
				continue
			}

			if entry.Type()&fs.ModeSymlink != 0 || !entry.Type().IsRegular() {
				continue
			}
			if !media.HasExtension(path, filter.extensions) {
				continue
			}
			emit(path)
		}

		q.Done()
	}
}

// FindCandidates lists the image files under roots: regular files whose
// extension is in extensions, minus anything in excludes. Roots are walked
// concurrently, each with workersPerRoot goroutines. The result holds absolute
// paths, without duplicates, sorted lexically.
func FindCandidates(ctx context.Context, roots, excludes, extensions []string, workersPerRoot int) ([]string, error) {
	filter := walkFilter{
		excludes:   make(map[string]struct{}, len(excludes)),
		extensions: media.ExtensionSet(extensions),
	}
	for _, p := range excludes {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		filter.excludes[p] = struct{}{}
	}
	workersPerRoot = max(workersPerRoot, 1)

	var (
		mu    sync.Mutex
		found = make(map[string]struct{})
	)
	emit := func(p string) {
		mu.Lock()
		found[p] = struct{}{}
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, root := range roots {
		g.Go(func() error {
			abs, err := filepath.Abs(root)
			if err != nil {
				return fmt.Errorf("resolve root %q: %w", root, err)
			}
			info, err := os.Stat(abs)
			if err != nil {
				return fmt.Errorf("stat root %q: %w", root, err)
			}
			if !info.IsDir() {
				if info.Mode().IsRegular() && media.HasExtension(abs, filter.extensions) {
					emit(abs)
				}
				return nil
			}
			walk(gctx, abs, filter, workersPerRoot, emit)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(found))
	for p := range found {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}
