package txn

import (
	"fmt"
	"os"

	"github.com/schaermu/depmirror/internal/fsutil"
)

// ModifyOptions tunes ModifyFile
type ModifyOptions struct {
	// NoBackup writes in place without keeping a restorable copy
	NoBackup bool
}

// ModifyFile rewrites the file at path with the result of mutate applied to
// its current content. The original is backed up first unless
// opts.NoBackup is set, and restored again if mutate or the write fails.
// A missing file is not created: the call logs a warning and returns a nil
// record.
func (m *Mutator) ModifyFile(path string, mutate func(old []byte) ([]byte, error), opts ModifyOptions) (*Record, error) {
	kind, err := fsutil.Probe(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if kind == fsutil.Absent {
		m.logger.Warn("skipping modification of missing file", "path", path)
		return nil, nil
	}
	if kind == fsutil.Dir {
		return nil, fmt.Errorf("cannot modify %s: is a directory", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	old, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var rec *Record
	if !opts.NoBackup {
		rec, err = m.Backup(path)
		if err != nil {
			return nil, err
		}
	}

	rollback := func(cause error) error {
		// Restore logs its own failures
		_, _ = m.Restore(rec, false)
		return cause
	}

	data, err := mutate(old)
	if err != nil {
		return nil, rollback(fmt.Errorf("failed to compute new content for %s: %w", path, err))
	}
	if err := os.WriteFile(path, data, info.Mode().Perm()); err != nil {
		return nil, rollback(fmt.Errorf("failed to write %s: %w", path, err))
	}

	m.logger.Info("modified", "path", path)
	return rec, nil
}
