package mirror

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/schaermu/depmirror/internal/errs"
)

// Notifier delivers change events for a source tree. Both channels are
// closed after Close returns.
type Notifier interface {
	Events() <-chan Event
	Errors() <-chan error
	Close() error
}

// FSNotifier watches a directory tree recursively with fsnotify. Newly
// created directories are added to the watch as they appear; directories
// rejected by accept are never watched.
type FSNotifier struct {
	watcher *fsnotify.Watcher
	root    string
	target  string
	accept  func(string) bool
	logger  *slog.Logger

	// watched holds the directories added to watcher. Only the loop
	// goroutine touches it once the constructor returns.
	watched map[string]struct{}

	events chan Event
	errors chan error
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewFSNotifier starts watching root. accept may be nil.
func NewFSNotifier(root string, accept func(string) bool, logger *slog.Logger) (*FSNotifier, error) {
	root = filepath.Clean(root)
	// A linked source root is watched at its target; events are reported
	// under root again.
	target, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindSubscription, "watch", root)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errs.Wrap(err, errs.KindSubscription, "watch", root)
	}

	n := &FSNotifier{
		watcher: w,
		root:    root,
		target:  target,
		accept:  accept,
		logger:  logger,
		watched: make(map[string]struct{}),
		events:  make(chan Event, 256),
		errors:  make(chan error, 16),
		done:    make(chan struct{}),
	}

	if err := n.addTree(n.target, false); err != nil {
		_ = w.Close()
		return nil, errs.Wrap(err, errs.KindSubscription, "watch", root)
	}

	n.wg.Add(1)
	go n.loop()
	return n, nil
}

// Events returns the event channel
func (n *FSNotifier) Events() <-chan Event { return n.events }

// Errors returns the subscription error channel
func (n *FSNotifier) Errors() <-chan error { return n.errors }

// Close stops the watch and closes both channels
func (n *FSNotifier) Close() error {
	var err error
	n.once.Do(func() {
		close(n.done)
		err = n.watcher.Close()
		n.wg.Wait()
		close(n.events)
		close(n.errors)
	})
	return err
}

func (n *FSNotifier) loop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.done:
			return
		case ev, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			n.handle(ev)
		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			select {
			case n.errors <- errs.Wrap(err, errs.KindSubscription, "watch", n.root):
			case <-n.done:
				return
			}
		}
	}
}

func (n *FSNotifier) handle(ev fsnotify.Event) {
	// a watch dropped by the backend can report without a name
	if ev.Name == "" {
		return
	}
	kind := kindOf(ev.Op)
	n.emit(Event{Path: n.external(ev.Name), Kind: kind})

	if kind == Removed {
		n.unwatch(ev.Name)
		return
	}
	if kind != Created {
		return
	}
	// Entries created inside a new directory before its watch was added
	// would otherwise go unnoticed, so they are reported as created too.
	if err := n.addTree(ev.Name, true); err != nil && !errors.Is(err, fs.ErrNotExist) {
		n.logger.Warn("failed to watch new directory", "path", ev.Name, "error", err)
	}
}

// addTree adds a watch on every accepted directory under dir. With emit set
// each entry found below dir is also reported as created.
func (n *FSNotifier) addTree(dir string, emit bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			// vanished between listing and visiting
			return nil
		}
		if n.accept != nil && path != n.target && !n.accept(n.external(path)) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if emit && path != dir {
			n.emit(Event{Path: n.external(path), Kind: Created})
		}
		if !d.IsDir() {
			return nil
		}
		if err := n.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		n.watched[path] = struct{}{}
		return nil
	})
}

// unwatch drops the watches on dir and every directory below it. A renamed
// directory keeps its inode, so its new path only gets a working watch once
// the old one is gone.
func (n *FSNotifier) unwatch(dir string) {
	if _, ok := n.watched[dir]; !ok {
		return
	}
	prefix := dir + string(filepath.Separator)
	for path := range n.watched {
		if path != dir && !strings.HasPrefix(path, prefix) {
			continue
		}
		delete(n.watched, path)
		// a deleted directory has lost its watch already
		_ = n.watcher.Remove(path)
	}
}

// external maps a path below the watched directory back under root
func (n *FSNotifier) external(path string) string {
	if n.target == n.root {
		return path
	}
	rel, err := filepath.Rel(n.target, path)
	if err != nil {
		return path
	}
	return filepath.Join(n.root, rel)
}

func (n *FSNotifier) emit(ev Event) {
	select {
	case n.events <- ev:
	case <-n.done:
	}
}

func kindOf(op fsnotify.Op) EventKind {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return Removed
	case op.Has(fsnotify.Create):
		return Created
	case op.Has(fsnotify.Write):
		return Modified
	default:
		return Unknown
	}
}
