package mirror

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/schaermu/depmirror/internal/errs"
	"github.com/schaermu/depmirror/internal/filter"
)

const (
	// DefaultRetryLimit is the number of extra attempts per watch entry
	DefaultRetryLimit = 3
	// DefaultRetryDelay is the pause before an entry is retried
	DefaultRetryDelay = 100 * time.Millisecond
	// DefaultDebounce is the quiet window that closes a batch of events
	DefaultDebounce = 100 * time.Millisecond
)

// JobConfig holds the inputs for one mirrored dependency
type JobConfig struct {
	Name            string
	SourceRoot      string
	DestinationRoot string
	// Exclude holds patterns as accepted by filter.Parse
	Exclude    []string
	Watch bool
	// RetryLimit is the number of retries per watch entry after the first
	// attempt. Nil means DefaultRetryLimit; zero disables retrying.
	RetryLimit *int
	RetryDelay time.Duration
	Debounce   time.Duration
}

// Job is a validated, immutable mirror job
type Job struct {
	name       string
	src        string
	dest       string
	filter     *filter.Filter
	watch      bool
	retryLimit int
	retryDelay time.Duration
	debounce   time.Duration
}

// NewJob validates cfg, resolves both roots to absolute paths and compiles
// the exclusion patterns. Zero durations and a nil retry limit fall back to
// the defaults.
func NewJob(cfg JobConfig, logger *slog.Logger) (Job, error) {
	if cfg.SourceRoot == "" {
		return Job{}, errs.New(errs.KindInvalidInput, "new job", "").With("reason", "source root is required")
	}
	if cfg.DestinationRoot == "" {
		return Job{}, errs.New(errs.KindInvalidInput, "new job", "").With("reason", "destination root is required")
	}

	src, err := filepath.Abs(cfg.SourceRoot)
	if err != nil {
		return Job{}, fmt.Errorf("failed to resolve %s: %w", cfg.SourceRoot, err)
	}
	dest, err := filepath.Abs(cfg.DestinationRoot)
	if err != nil {
		return Job{}, fmt.Errorf("failed to resolve %s: %w", cfg.DestinationRoot, err)
	}
	if src == dest {
		return Job{}, errs.New(errs.KindInvalidInput, "new job", src).With("reason", "source and destination are the same")
	}

	if cfg.RetryLimit != nil && *cfg.RetryLimit < 0 {
		return Job{}, errs.New(errs.KindInvalidInput, "new job", src).With("reason", "retry limit must not be negative")
	}

	f, err := filter.FromStrings(src, cfg.Exclude, logger)
	if err != nil {
		return Job{}, errs.Wrap(err, errs.KindInvalidInput, "new job", src)
	}

	name := cfg.Name
	if name == "" {
		name = filepath.Base(src)
	}

	job := Job{
		name:       name,
		src:        src,
		dest:       dest,
		filter:     f,
		watch:      cfg.Watch,
		retryLimit: DefaultRetryLimit,
		retryDelay: cfg.RetryDelay,
		debounce:   cfg.Debounce,
	}
	if cfg.RetryLimit != nil {
		job.retryLimit = *cfg.RetryLimit
	}
	if job.retryDelay <= 0 {
		job.retryDelay = DefaultRetryDelay
	}
	if job.debounce <= 0 {
		job.debounce = DefaultDebounce
	}
	return job, nil
}

// Name returns the dependency name used in log lines
func (j Job) Name() string { return j.name }

// SourceRoot returns the absolute source root
func (j Job) SourceRoot() string { return j.src }

// DestinationRoot returns the absolute destination root
func (j Job) DestinationRoot() string { return j.dest }

// Filter returns the job's path filter
func (j Job) Filter() *filter.Filter { return j.filter }

// Watch reports whether the job keeps mirroring after the initial copy
func (j Job) Watch() bool { return j.watch }

// RetryLimit returns the per-entry retry budget
func (j Job) RetryLimit() int { return j.retryLimit }

// RetryDelay returns the pause between attempts
func (j Job) RetryDelay() time.Duration { return j.retryDelay }

// Debounce returns the coalescing quiet window
func (j Job) Debounce() time.Duration { return j.debounce }
