package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/depmirror/internal/errs"
	"github.com/schaermu/depmirror/internal/testutil"
	"github.com/schaermu/depmirror/internal/txn"
)

const pkgJSON = `{
  "name": "@scope/tool",
  "version": "1.2.3",
  "scripts": {
    "test": "go test ./..."
  },
  "bin": "cli.js",
  "dependencies": {
    "left-pad": "^1.0.0"
  },
  "license": "MIT"
}
`

func TestRead(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteTree(t, dir, map[string]string{FileName: pkgJSON})

	m, err := Read(dir)
	require.NoError(t, err)
	assert.Equal(t, "@scope/tool", m.Name)
	assert.Equal(t, "1.2.3", m.Version)
	assert.Equal(t, map[string]string{"tool": "cli.js"}, m.Bin)
}

func TestReadBinObject(t *testing.T) {
	m, err := Parse([]byte(`{"name":"x","bin":{"a":"bin/a.js","b":"bin/b.js"}}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "bin/a.js", "b": "bin/b.js"}, m.Bin)
}

func TestReadErrors(t *testing.T) {
	_, err := Read(t.TempDir())
	assert.True(t, errs.IsKind(err, errs.KindManifest))

	dir := t.TempDir()
	testutil.WriteTree(t, dir, map[string]string{FileName: "{not json"})
	_, err = Read(dir)
	assert.True(t, errs.IsKind(err, errs.KindManifest))

	_, err = Parse([]byte(`["array"]`))
	assert.Error(t, err)
}

func TestRemoveKeysKeepsOrder(t *testing.T) {
	out, err := RemoveKeys([]byte(pkgJSON), []string{"scripts", "dependencies", "devDependencies"})
	require.NoError(t, err)

	m, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, "@scope/tool", m.Name)

	s := string(out)
	assert.NotContains(t, s, "scripts")
	assert.NotContains(t, s, "left-pad")
	assert.Less(t, strings.Index(s, `"name"`), strings.Index(s, `"version"`))
	assert.Less(t, strings.Index(s, `"version"`), strings.Index(s, `"bin"`))
	assert.Less(t, strings.Index(s, `"bin"`), strings.Index(s, `"license"`))
}

func TestRemoveKeysLiteralDots(t *testing.T) {
	out, err := RemoveKeys([]byte(`{"a.b":1,"a":{"b":2}}`), []string{"a.b"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":{"b":2}}`, string(out))
}

func TestRemoveKeysInvalid(t *testing.T) {
	_, err := RemoveKeys([]byte("{"), []string{"x"})
	assert.Error(t, err)
}

func TestStripRestores(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(pkgJSON), 0644))
	m := txn.New(testutil.QuietLogger())

	rec, err := Strip(m, path, []string{"dependencies"}, txn.ModifyOptions{})
	require.NoError(t, err)
	require.NotNil(t, rec)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "left-pad")

	ok, err := m.Restore(rec, true)
	require.NoError(t, err)
	assert.True(t, ok)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, pkgJSON, string(data))
}

func TestStripInvalidJSONRollsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0644))

	_, err := Strip(txn.New(testutil.QuietLogger()), path, []string{"scripts"}, txn.ModifyOptions{})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindManifest))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{broken", string(data))
}

func TestWrite(t *testing.T) {
	m := txn.New(testutil.QuietLogger())

	t.Run("raw", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), FileName)
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))

		_, err := Write(m, path, Raw(`{"name":"raw"}`), txn.ModifyOptions{NoBackup: true})
		require.NoError(t, err)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, `{"name":"raw"}`, string(data))
	})

	t.Run("object", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), FileName)
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))

		_, err := Write(m, path, Object(map[string]any{"name": "obj", "private": true}), txn.ModifyOptions{NoBackup: true})
		require.NoError(t, err)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "{\n  \"name\": \"obj\",\n  \"private\": true\n}\n", string(data))
	})

	t.Run("missing manifest is not created", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), FileName)
		rec, err := Write(m, path, Raw("{}"), txn.ModifyOptions{})
		require.NoError(t, err)
		assert.Nil(t, rec)
		_, err = os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	})
}
