package npm

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/depmirror/internal/testutil"
)

// fakeNPM writes a shell script standing in for npm
func fakeNPM(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "npm")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755))
	return path
}

func TestPrefix(t *testing.T) {
	bin := fakeNPM(t, `echo "  /usr/local  "`)
	prefix, err := NewShellClient(bin, testutil.QuietLogger()).Prefix(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/usr/local", prefix)
}

func TestPrefixEmpty(t *testing.T) {
	bin := fakeNPM(t, `echo ""`)
	_, err := NewShellClient(bin, testutil.QuietLogger()).Prefix(context.Background())
	assert.Error(t, err)
}

func TestPrefixFailure(t *testing.T) {
	bin := fakeNPM(t, `exit 1`)
	_, err := NewShellClient(bin, testutil.QuietLogger()).Prefix(context.Background())
	assert.Error(t, err)
}

func TestLink(t *testing.T) {
	bin := fakeNPM(t, `echo "$(pwd) $*"`)
	dir := t.TempDir()
	logger, logs := testutil.Logger()

	var stdout bytes.Buffer
	c := NewShellClient(bin, logger).WithOutput(&stdout, &stdout)
	code, err := c.Link(context.Background(), dir, true, "../lib")
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	assert.Contains(t, stdout.String(), "link --force ../lib")
	assert.Contains(t, stdout.String(), filepath.Base(dir))
	assert.Contains(t, logs.String(), "$ npm link --force ../lib")
	assert.Contains(t, logs.String(), "npm link succeeded")
}

func TestLinkFailureReportsExitCode(t *testing.T) {
	bin := fakeNPM(t, `exit 7`)
	logger, logs := testutil.Logger()

	var out bytes.Buffer
	code, err := NewShellClient(bin, logger).WithOutput(&out, &out).Link(context.Background(), t.TempDir(), false)
	require.Error(t, err)
	assert.Equal(t, 7, code)
	assert.Contains(t, logs.String(), "exit_code=7")
}

func TestLinkMissingBinary(t *testing.T) {
	var out bytes.Buffer
	c := NewShellClient(filepath.Join(t.TempDir(), "no-npm"), testutil.QuietLogger()).WithOutput(&out, &out)
	code, err := c.Link(context.Background(), t.TempDir(), false)
	require.Error(t, err)
	assert.Equal(t, -1, code)
}

func TestDefaultBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		assert.Equal(t, "npm.cmd", DefaultBinary())
	} else {
		assert.Equal(t, "npm", DefaultBinary())
	}
}
