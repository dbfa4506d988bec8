// Package manifest reads and rewrites package.json files. Rewrites keep the
// remaining keys in their original order and formatting.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/schaermu/depmirror/internal/errs"
	"github.com/schaermu/depmirror/internal/txn"
)

// FileName is the manifest file inside a package directory
const FileName = "package.json"

// Manifest holds the package.json fields depmirror reads
type Manifest struct {
	Name    string
	Version string
	// Bin maps command names to scripts relative to the package
	Bin map[string]string
}

// Read parses the manifest in dir
func Read(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindManifest, "read manifest", path)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindManifest, "read manifest", path)
	}
	return m, nil
}

// Parse extracts the manifest fields from package.json content
func Parse(data []byte) (*Manifest, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid JSON")
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return nil, fmt.Errorf("manifest is not a JSON object")
	}

	m := &Manifest{
		Name:    doc.Get("name").String(),
		Version: doc.Get("version").String(),
		Bin:     map[string]string{},
	}

	bin := doc.Get("bin")
	switch {
	case bin.Type == gjson.String:
		// a single script is installed under the package name
		m.Bin[binName(m.Name)] = bin.String()
	case bin.IsObject():
		bin.ForEach(func(key, value gjson.Result) bool {
			m.Bin[key.String()] = value.String()
			return true
		})
	}
	return m, nil
}

// binName strips the scope from a scoped package name
func binName(name string) string {
	return name[strings.LastIndex(name, "/")+1:]
}

// RemoveKeys deletes the given top-level keys from data. Keys that are not
// present are ignored.
func RemoveKeys(data []byte, keys []string) ([]byte, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid JSON")
	}
	out := data
	for _, key := range keys {
		path := escapeKey(key)
		if !gjson.GetBytes(out, path).Exists() {
			continue
		}
		var err error
		out, err = sjson.DeleteBytes(out, path)
		if err != nil {
			return nil, fmt.Errorf("failed to remove %q: %w", key, err)
		}
	}
	return out, nil
}

// escapeKey turns a literal key into a gjson path
func escapeKey(key string) string {
	escaped := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		switch key[i] {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%':
			escaped = append(escaped, '\\')
		}
		escaped = append(escaped, key[i])
	}
	return string(escaped)
}

// Content is what a manifest is rewritten with
type Content interface {
	bytes() ([]byte, error)
}

type rawContent string

func (r rawContent) bytes() ([]byte, error) {
	return []byte(r), nil
}

type objectContent map[string]any

func (o objectContent) bytes() ([]byte, error) {
	data, err := json.MarshalIndent(map[string]any(o), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Raw is content written verbatim
func Raw(text string) Content {
	return rawContent(text)
}

// Object is content written as indented JSON with a trailing newline
func Object(fields map[string]any) Content {
	return objectContent(fields)
}

// Write replaces the manifest at path with c through m, backing it up
// unless opts.NoBackup is set. A missing manifest is skipped with a warning
// and yields a nil record.
func Write(m *txn.Mutator, path string, c Content, opts txn.ModifyOptions) (*txn.Record, error) {
	rec, err := m.ModifyFile(path, func([]byte) ([]byte, error) {
		return c.bytes()
	}, opts)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindManifest, "write manifest", path)
	}
	return rec, nil
}

// Strip removes keys from the manifest at path through m, backing it up
// unless opts.NoBackup is set.
func Strip(m *txn.Mutator, path string, keys []string, opts txn.ModifyOptions) (*txn.Record, error) {
	rec, err := m.ModifyFile(path, func(old []byte) ([]byte, error) {
		return RemoveKeys(old, keys)
	}, opts)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindManifest, "strip manifest", path)
	}
	return rec, nil
}
