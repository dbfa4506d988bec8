// Package mirror keeps a destination tree in step with a source tree: one
// full copy up front, then incremental updates driven by change
// notifications.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/schaermu/depmirror/internal/compare"
	"github.com/schaermu/depmirror/internal/errs"
	"github.com/schaermu/depmirror/internal/fsutil"
	"github.com/schaermu/depmirror/internal/pathfmt"
)

// State is the lifecycle position of an engine
type State int32

const (
	Idle State = iota
	InitialCopying
	Watching
	Stopped
)

// String returns a human-readable name for the state
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case InitialCopying:
		return "initial-copying"
	case Watching:
		return "watching"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DefaultParallelism is the number of batch entries applied at once
const DefaultParallelism = 4

// Options tunes an engine. The zero value is usable.
type Options struct {
	// Parallelism bounds concurrent applies within one batch
	Parallelism int
	// Paths controls path abbreviation in log lines
	Paths pathfmt.Options
	// Comparator decides whether an update can be skipped
	Comparator *compare.Comparator
}

// Engine mirrors a single job
type Engine struct {
	job        Job
	logger     *slog.Logger
	comparator *compare.Comparator
	paths      pathfmt.Options
	parallel   int

	state  atomic.Int32
	synced atomic.Bool

	// apply is swapped in tests
	apply func(ev Event) error
}

// New creates an engine for job
func New(job Job, logger *slog.Logger, opts Options) *Engine {
	e := &Engine{
		job:        job,
		logger:     logger.With("dep", job.Name()),
		comparator: opts.Comparator,
		paths:      opts.Paths,
		parallel:   opts.Parallelism,
	}
	if e.comparator == nil {
		e.comparator = compare.New()
	}
	if e.parallel <= 0 {
		e.parallel = DefaultParallelism
	}
	e.apply = e.applyEvent
	return e
}

// Job returns the job the engine mirrors
func (e *Engine) Job() Job {
	return e.job
}

// State returns the current lifecycle state
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

func (e *Engine) diff(a, b string) string {
	return pathfmt.Diff(a, b, e.paths)
}

// Run performs the initial sync and, when the job asks for it, watches the
// source until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.InitialSync(ctx); err != nil {
		return err
	}
	if !e.job.Watch() {
		e.setState(Stopped)
		return nil
	}

	n, err := NewFSNotifier(e.job.SourceRoot(), e.job.Filter().Accept, e.logger)
	if err != nil {
		e.setState(Stopped)
		e.logger.Error("failed to subscribe to changes", "src", e.job.SourceRoot(), "error", err)
		return err
	}
	return e.Watch(ctx, n)
}

// InitialSync replaces the destination with a filtered copy of the source.
// A failure part way through leaves the partial copy in place.
func (e *Engine) InitialSync(ctx context.Context) error {
	src, dest := e.job.SourceRoot(), e.job.DestinationRoot()

	e.setState(InitialCopying)
	defer e.setState(Idle)

	if err := ctx.Err(); err != nil {
		return err
	}

	kind, err := fsutil.Probe(src)
	if err != nil {
		return e.classify(err, errs.KindSourceMissing, "initial sync", src)
	}
	if kind == fsutil.Absent {
		err := errs.New(errs.KindSourceMissing, "initial sync", src).
			With("dep", e.job.Name()).
			With("dest", dest)
		e.logger.Error("source does not exist", "src", src)
		return err
	}

	e.logger.Debug("exclude patterns", "patterns", e.job.Filter().Patterns())
	e.logger.Info("copying", "paths", e.diff(src, dest))

	if err := os.RemoveAll(dest); err != nil {
		return e.classify(err, errs.KindDestinationWrite, "initial sync", dest)
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return e.classify(err, errs.KindDestinationWrite, "initial sync", dest)
	}
	if err := fsutil.CopyTree(src, dest, e.job.Filter().Accept); err != nil {
		return e.classify(err, errs.KindDestinationWrite, "initial sync", dest)
	}

	e.synced.Store(true)
	e.logger.Info("Copied", "paths", e.diff(src, dest))
	return nil
}

func (e *Engine) classify(err error, kind errs.Kind, op, path string) error {
	wrapped := errs.Wrap(err, kind, op, path).
		With("dep", e.job.Name()).
		With("src", e.job.SourceRoot()).
		With("dest", e.job.DestinationRoot())
	e.logger.Error("initial sync failed", "src", e.job.SourceRoot(), "dest", e.job.DestinationRoot(), "error", err)
	return wrapped
}

// Watch applies change events from n to the destination until ctx is done
// or n closes its event channel. Watch takes ownership of n and closes it
// on return. A subscription error is logged and ends the watch; it is also
// returned so callers can tell it apart from a clean stop.
func (e *Engine) Watch(ctx context.Context, n Notifier) error {
	defer func() {
		_ = n.Close()
		e.setState(Stopped)
	}()

	if !e.job.Watch() {
		return errs.New(errs.KindInvalidInput, "watch", e.job.SourceRoot()).With("reason", "job does not watch")
	}
	if !e.synced.Load() {
		return errs.New(errs.KindInvalidInput, "watch", e.job.SourceRoot()).With("reason", "initial sync has not succeeded")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.setState(Watching)
	e.logger.Info("watching", "src", e.job.SourceRoot())

	batches := make(chan []Event)
	c := newCoalescer(e.job.SourceRoot(), e.job.Debounce())
	go c.run(ctx, n.Events(), batches)

	subErrs := n.Errors()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("stopped watching", "src", e.job.SourceRoot())
			return nil

		case batch, ok := <-batches:
			if !ok {
				e.logger.Info("stopped watching", "src", e.job.SourceRoot())
				return nil
			}
			e.applyBatch(ctx, batch)

		case err, ok := <-subErrs:
			if !ok {
				subErrs = nil
				continue
			}
			if !errs.IsKind(err, errs.KindSubscription) {
				err = errs.Wrap(err, errs.KindSubscription, "watch", e.job.SourceRoot())
			}
			e.logger.Error("change subscription failed", "src", e.job.SourceRoot(), "error", err)
			return err
		}
	}
}

// applyBatch applies every entry of batch and waits for all of them. Entry
// failures are logged and never reported back to the loop.
func (e *Engine) applyBatch(ctx context.Context, batch []Event) {
	var g errgroup.Group
	g.SetLimit(e.parallel)
	for _, ev := range batch {
		ev := ev
		g.Go(func() error {
			e.applyWithRetry(ctx, ev)
			return nil
		})
	}
	_ = g.Wait()
}

// applyWithRetry runs apply for ev, retrying after the job's delay while the
// retry budget lasts. It reports whether the entry was eventually applied.
func (e *Engine) applyWithRetry(ctx context.Context, ev Event) bool {
	budget := e.job.RetryLimit()
	for attempt := 1; ; attempt++ {
		err := e.apply(ev)
		if err == nil {
			return true
		}
		if budget <= 0 {
			e.logger.Error("failed to apply change",
				"path", ev.Path,
				"kind", ev.Kind.String(),
				"attempts", attempt,
				"error", err)
			return false
		}
		budget--

		e.logger.Warn("apply failed, retrying",
			"path", ev.Path,
			"attempt", attempt,
			"retry_in", e.job.RetryDelay(),
			"error", err)

		t := time.NewTimer(e.job.RetryDelay())
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			e.logger.Warn("abandoned retry on shutdown", "path", ev.Path)
			return false
		}
	}
}

// applyEvent brings the destination counterpart of ev.Path in line with the
// source: copied when it exists and differs, removed when it does not.
func (e *Engine) applyEvent(ev Event) error {
	src, dest := e.job.SourceRoot(), e.job.DestinationRoot()

	rel, err := filepath.Rel(src, filepath.Clean(ev.Path))
	if err != nil {
		e.logger.Debug("skipped, not below source", "path", ev.Path)
		return nil
	}
	if rel == "." {
		e.logger.Debug("skipped, source root", "path", ev.Path)
		return nil
	}
	if !e.job.Filter().Accept(ev.Path) {
		return nil
	}

	from := filepath.Join(src, rel)
	to := filepath.Join(dest, rel)

	kind, err := fsutil.Probe(from)
	if err != nil {
		return errs.Wrap(err, errs.KindDestinationWrite, "probe", from)
	}

	if kind == fsutil.Absent {
		existed, err := fsutil.ProbeLink(to)
		if err != nil {
			return errs.Wrap(err, errs.KindDestinationWrite, "probe", to)
		}
		if err := os.RemoveAll(to); err != nil {
			return errs.Wrap(err, errs.KindDestinationWrite, "remove", to).With("dep", e.job.Name())
		}
		if existed != fsutil.Absent {
			e.logger.Info("Removed", "path", to)
		}
		return nil
	}

	if kind == fsutil.File && e.sameContent(from, to) {
		e.logger.Info("skipped, same content", "paths", e.diff(from, to))
		return nil
	}

	if err := fsutil.CopyTree(from, to, e.job.Filter().Accept); err != nil {
		// The source may vanish while being copied; the matching remove
		// event follows.
		if errors.Is(err, os.ErrNotExist) {
			if gone, _ := fsutil.Probe(from); gone == fsutil.Absent {
				e.logger.Debug("source vanished during copy", "path", from)
				return nil
			}
		}
		return errs.Wrap(err, errs.KindDestinationWrite, "copy", to).
			With("dep", e.job.Name()).
			With("src", from)
	}
	e.logger.Info("Updated", "paths", e.diff(from, to))
	return nil
}

// sameContent reports whether dest already holds src's bytes. A comparison
// that cannot be completed counts as a difference.
func (e *Engine) sameContent(src, dest string) bool {
	kind, err := fsutil.Probe(dest)
	if err != nil || kind != fsutil.File {
		return false
	}
	equal, err := e.comparator.Equal(src, dest)
	if err != nil {
		e.logger.Debug("comparison failed, copying",
			"error", errs.Wrap(err, errs.KindCompareRead, "compare", dest))
		return false
	}
	return equal
}
