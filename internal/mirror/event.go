package mirror

import (
	"path/filepath"
)

// EventKind is what the notifier reported for a path
type EventKind int

const (
	Unknown EventKind = iota
	Created
	Modified
	Removed
)

// String returns a human-readable name for the kind
func (k EventKind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is a single change notification for an absolute path below the
// source root.
type Event struct {
	Path string
	Kind EventKind
}

// Coalesce merges events by their path relative to root. When a path occurs
// more than once only the last occurrence is kept, at the position where the
// path was first seen. Paths that cannot be made relative to root are keyed
// by their cleaned absolute form.
func Coalesce(events []Event, root string) []Event {
	if len(events) == 0 {
		return nil
	}

	index := make(map[string]int, len(events))
	batch := make([]Event, 0, len(events))
	for _, ev := range events {
		key := relKey(root, ev.Path)
		if i, ok := index[key]; ok {
			batch[i] = ev
			continue
		}
		index[key] = len(batch)
		batch = append(batch, ev)
	}
	return batch
}

func relKey(root, path string) string {
	rel, err := filepath.Rel(root, filepath.Clean(path))
	if err != nil {
		return filepath.Clean(path)
	}
	return filepath.ToSlash(rel)
}
