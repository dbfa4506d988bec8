// Package quick links a package with "npm link" without letting npm touch
// its dependencies: node_modules, the lockfile and the dependency sections
// of package.json are moved aside for the duration of the link and always
// put back afterwards.
package quick

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/schaermu/depmirror/internal/errs"
	"github.com/schaermu/depmirror/internal/manifest"
	"github.com/schaermu/depmirror/internal/npm"
	"github.com/schaermu/depmirror/internal/txn"
)

// Options tunes a quick link run
type Options struct {
	// StripKeys are removed from package.json while linking
	StripKeys []string
	// Halt stops a multi-directory run at the first failure
	Halt bool
	// Force passes --force to npm link
	Force bool
}

// Runner performs quick links
type Runner struct {
	mutator *txn.Mutator
	npm     npm.Client
	logger  *slog.Logger
	opts    Options
}

// NewRunner creates a runner
func NewRunner(mutator *txn.Mutator, client npm.Client, logger *slog.Logger, opts Options) *Runner {
	return &Runner{
		mutator: mutator,
		npm:     client,
		logger:  logger,
		opts:    opts,
	}
}

// Link quick-links the package in dir. Every backup taken is restored before
// Link returns, whether or not npm succeeded.
func (r *Runner) Link(ctx context.Context, dir string) (err error) {
	r.logger.Info("running quick link", "dir", dir)

	group := r.mutator.Group()
	defer func() {
		r.logger.Debug("restoring backups", "dir", dir, "records", group.Len())
		ok, rerr := group.RestoreAll(false)
		if rerr == nil && !ok {
			rerr = errs.New(errs.KindRestore, "quick link", dir).With("reason", "some backups could not be restored")
		}
		if rerr != nil {
			err = errors.Join(err, rerr)
		}
		if err != nil {
			r.logger.Error("quick link failed", "dir", dir, "error", err)
			return
		}
		r.logger.Info("quick link succeeded", "dir", dir)
	}()

	for _, name := range []string{"node_modules", "package-lock.json"} {
		rec, err := r.mutator.Backup(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		group.Push(rec)
	}

	rec, err := manifest.Strip(r.mutator, filepath.Join(dir, manifest.FileName), r.opts.StripKeys, txn.ModifyOptions{})
	if err != nil {
		return err
	}
	group.Push(rec)

	code, err := r.npm.Link(ctx, dir, r.opts.Force)
	if err != nil {
		return errs.Wrap(err, errs.KindUnknown, "npm link", dir).With("exit_code", strconv.Itoa(code))
	}
	return nil
}

// Run quick-links every directory in order, reporting progress. Without
// Halt all directories are attempted and the failures are returned
// together.
func (r *Runner) Run(ctx context.Context, dirs []string) error {
	total := len(dirs)
	var failures []error
	for i, dir := range dirs {
		if total > 1 {
			r.logger.Info(fmt.Sprintf("[%d/%d] %s", i+1, total, dir))
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.Link(ctx, dir); err != nil {
			if r.opts.Halt {
				return err
			}
			failures = append(failures, err)
		}
	}

	if len(failures) > 0 {
		r.logger.Error(fmt.Sprintf("Failed %d/%d dirs", len(failures), total))
		return fmt.Errorf("failed %d/%d dirs: %w", len(failures), total, errors.Join(failures...))
	}
	return nil
}
