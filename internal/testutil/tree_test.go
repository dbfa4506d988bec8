package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadTree(t *testing.T) {
	root := t.TempDir()
	WriteTree(t, root, map[string]string{
		"a.txt":     "x",
		"sub/b.txt": "y",
		"empty/":    "",
	})

	info, err := os.Stat(filepath.Join(root, "empty"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	assert.Equal(t, map[string]string{"a.txt": "x", "sub/b.txt": "y"}, ReadTree(t, root))
}

func TestReadTreeMissingRoot(t *testing.T) {
	assert.Empty(t, ReadTree(t, filepath.Join(t.TempDir(), "missing")))
}

func TestLogger(t *testing.T) {
	logger, buf := Logger()
	logger.Debug("hello", "k", "v")
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "k=v")
}
