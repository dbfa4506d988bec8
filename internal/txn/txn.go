// Package txn backs up files and directories by renaming them aside, so a
// sequence of mutations can be rolled back as a unit.
package txn

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/schaermu/depmirror/internal/errs"
	"github.com/schaermu/depmirror/internal/fsutil"
	"github.com/schaermu/depmirror/internal/pathfmt"
)

// BackupSuffix is appended to a path's name to form its backup path
const BackupSuffix = "-backup"

// Record describes one rename-aside backup
type Record struct {
	Original string
	Backup   string
	WasDir   bool
	Existed  bool

	mu       sync.Mutex
	restored bool
}

func (r *Record) isRestored() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restored
}

// Mutator performs backups and restores
type Mutator struct {
	logger *slog.Logger
}

// New creates a mutator
func New(logger *slog.Logger) *Mutator {
	return &Mutator{logger: logger}
}

// Backup renames path to path+BackupSuffix. When path does not exist the
// returned record has Existed=false and nothing is touched. An existing
// backup under that name is replaced.
func (m *Mutator) Backup(path string) (*Record, error) {
	kind, err := fsutil.ProbeLink(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if kind == fsutil.Absent {
		m.logger.Info("nothing to back up", "path", path)
		return &Record{Original: path}, nil
	}

	// Stat follows links so a linked directory is restored with directory removal.
	if followed, err := fsutil.Probe(path); err == nil && followed == fsutil.Dir {
		kind = fsutil.Dir
	}

	backup := path + BackupSuffix
	stale, err := fsutil.ProbeLink(backup)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", backup, err)
	}
	if stale != fsutil.Absent {
		m.logger.Warn("overwriting existing backup", "path", backup)
		if err := os.RemoveAll(backup); err != nil {
			return nil, fmt.Errorf("failed to remove stale backup %s: %w", backup, err)
		}
	}

	if err := os.Rename(path, backup); err != nil {
		return nil, fmt.Errorf("failed to back up %s: %w", path, err)
	}
	m.logger.Info("backed up", "paths", pathfmt.Diff(path, backup, pathfmt.Options{}))

	return &Record{
		Original: path,
		Backup:   backup,
		WasDir:   kind == fsutil.Dir,
		Existed:  true,
	}, nil
}

// Restore moves the backup of r back into place, first removing whatever
// now occupies the original path. It returns true when nothing needed
// restoring. On failure it returns the error if halt is set; otherwise the
// failure is logged and false is returned.
func (m *Mutator) Restore(r *Record, halt bool) (bool, error) {
	if r == nil || !r.Existed {
		return true, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.restored {
		return true, nil
	}

	if err := m.restore(r); err != nil {
		err = errs.Wrap(err, errs.KindRestore, "restore", r.Original).With("backup", r.Backup)
		if halt {
			return false, err
		}
		m.logger.Error("failed to restore", "backup", r.Backup, "path", r.Original, "error", err)
		return false, nil
	}
	r.restored = true
	return true, nil
}

func (m *Mutator) restore(r *Record) error {
	occupant, err := fsutil.ProbeLink(r.Original)
	if err != nil {
		return err
	}
	if occupant != fsutil.Absent {
		if r.WasDir {
			err = os.RemoveAll(r.Original)
		} else {
			err = os.Remove(r.Original)
		}
		if err != nil {
			return fmt.Errorf("failed to remove %s: %w", r.Original, err)
		}
		m.logger.Info("removed", "path", r.Original)
	}

	if err := os.Rename(r.Backup, r.Original); err != nil {
		return err
	}
	m.logger.Info("restored", "paths", pathfmt.Diff(r.Backup, r.Original, pathfmt.Options{}))
	return nil
}

// Group collects records so they can be restored together
type Group struct {
	m       *Mutator
	mu      sync.Mutex
	records []*Record
}

// Group starts an empty rollback group
func (m *Mutator) Group() *Group {
	return &Group{m: m}
}

// Push appends r to the group. A nil record is accepted as a no-op marker.
func (g *Group) Push(r *Record) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records = append(g.records, r)
}

// Len returns the number of pushed records
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.records)
}

// RestoreAll restores every record, continuing past failures, and reports
// whether all of them succeeded. With halt set the individual errors are
// returned joined once every record has been attempted.
func (g *Group) RestoreAll(halt bool) (bool, error) {
	g.mu.Lock()
	records := make([]*Record, len(g.records))
	copy(records, g.records)
	g.mu.Unlock()

	ok := true
	var failures []error
	for _, r := range records {
		restored, err := g.m.Restore(r, halt)
		if err != nil {
			failures = append(failures, err)
		}
		ok = ok && restored
	}
	return ok, errors.Join(failures...)
}
