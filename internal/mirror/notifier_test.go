package mirror

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/depmirror/internal/filter"
	"github.com/schaermu/depmirror/internal/testutil"
)

// waitForEvent reads events until one for path arrives
func waitForEvent(t *testing.T, n *FSNotifier, path string) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-n.Events():
			require.True(t, ok, "event channel closed")
			if ev.Path == path {
				return ev
			}
		case err := <-n.Errors():
			t.Fatalf("unexpected watch error: %v", err)
		case <-deadline:
			t.Fatalf("timed out waiting for event on %s", path)
		}
	}
}

func TestFSNotifierReportsChanges(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{"sub/a.txt": "x"})

	n, err := NewFSNotifier(root, nil, testutil.QuietLogger())
	require.NoError(t, err)
	defer func() {
		_ = n.Close()
	}()

	created := filepath.Join(root, "b.txt")
	require.NoError(t, os.WriteFile(created, []byte("y"), 0644))
	waitForEvent(t, n, created)

	nested := filepath.Join(root, "sub", "a.txt")
	require.NoError(t, os.Remove(nested))
	ev := waitForEvent(t, n, nested)
	assert.Equal(t, Removed, ev.Kind)
}

func TestFSNotifierWatchesNewDirectories(t *testing.T) {
	root := t.TempDir()

	n, err := NewFSNotifier(root, nil, testutil.QuietLogger())
	require.NoError(t, err)
	defer func() {
		_ = n.Close()
	}()

	dir := filepath.Join(root, "lib")
	require.NoError(t, os.Mkdir(dir, 0755))
	waitForEvent(t, n, dir)

	inside := filepath.Join(dir, "x.js")
	require.NoError(t, os.WriteFile(inside, []byte("1"), 0644))
	waitForEvent(t, n, inside)
}

func TestFSNotifierSkipsExcludedDirectories(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{"node_modules/dep/index.js": "", "a.txt": ""})
	f, err := filter.FromStrings(root, filter.DefaultPatterns, nil)
	require.NoError(t, err)

	n, err := NewFSNotifier(root, f.Accept, testutil.QuietLogger())
	require.NoError(t, err)
	defer func() {
		_ = n.Close()
	}()

	for _, watched := range n.watcher.WatchList() {
		assert.False(t, strings.Contains(watched, "node_modules"), "watching %s", watched)
	}
}

func TestFSNotifierReportsUnderLinkedRoot(t *testing.T) {
	target := t.TempDir()
	root := filepath.Join(t.TempDir(), "linked")
	require.NoError(t, os.Symlink(target, root))

	n, err := NewFSNotifier(root, nil, testutil.QuietLogger())
	require.NoError(t, err)
	defer func() {
		_ = n.Close()
	}()

	require.NoError(t, os.WriteFile(filepath.Join(target, "a.txt"), []byte("x"), 0644))
	waitForEvent(t, n, filepath.Join(root, "a.txt"))
}

func TestFSNotifierMissingRoot(t *testing.T) {
	_, err := NewFSNotifier(filepath.Join(t.TempDir(), "missing"), nil, testutil.QuietLogger())
	assert.Error(t, err)
}

func TestFSNotifierCloseClosesChannels(t *testing.T) {
	n, err := NewFSNotifier(t.TempDir(), nil, testutil.QuietLogger())
	require.NoError(t, err)
	require.NoError(t, n.Close())
	require.NoError(t, n.Close())

	_, ok := <-n.Events()
	assert.False(t, ok)
	_, ok = <-n.Errors()
	assert.False(t, ok)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Created, kindOf(fsnotify.Create))
	assert.Equal(t, Modified, kindOf(fsnotify.Write))
	assert.Equal(t, Removed, kindOf(fsnotify.Remove))
	assert.Equal(t, Removed, kindOf(fsnotify.Rename))
	assert.Equal(t, Removed, kindOf(fsnotify.Create|fsnotify.Remove))
	assert.Equal(t, Unknown, kindOf(fsnotify.Chmod))
}

func TestFSNotifierFollowsRenamedDirectory(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{"sub/deep/a.txt": "x"})

	n, err := NewFSNotifier(root, nil, testutil.QuietLogger())
	require.NoError(t, err)
	defer func() {
		_ = n.Close()
	}()

	renamed := filepath.Join(root, "sub2")
	require.NoError(t, os.Rename(filepath.Join(root, "sub"), renamed))
	waitForEvent(t, n, renamed)

	// the rename has been fully handled once a later event arrives
	marker := filepath.Join(root, "marker")
	require.NoError(t, os.WriteFile(marker, []byte("m"), 0644))
	waitForEvent(t, n, marker)

	inside := filepath.Join(renamed, "c.txt")
	require.NoError(t, os.WriteFile(inside, []byte("y"), 0644))
	waitForEvent(t, n, inside)

	nested := filepath.Join(renamed, "deep", "b.txt")
	require.NoError(t, os.WriteFile(nested, []byte("z"), 0644))
	waitForEvent(t, n, nested)

	assert.NotContains(t, n.watcher.WatchList(), filepath.Join(n.target, "sub"))
}
