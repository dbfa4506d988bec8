// Package binlink exposes a package's executables in the .bin directory of
// the project's modules directory, the way npm does on install.
package binlink

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/schaermu/depmirror/internal/errs"
	"github.com/schaermu/depmirror/internal/manifest"
	"github.com/schaermu/depmirror/internal/pathfmt"
)

// Installer links the executables declared by a manifest
type Installer interface {
	Install(m *manifest.Manifest) ([]string, error)
}

// Linker creates symbolic links in <modules>/.bin pointing at the scripts of
// the package mirrored to <modules>/<name>. On Windows a .cmd shim is written
// next to each link.
type Linker struct {
	// Modules is the absolute modules directory of the project
	Modules string
	// Windows adds .cmd shims
	Windows bool

	logger *slog.Logger
}

// New creates a linker for the modules directory at modules
func New(modules string, logger *slog.Logger) *Linker {
	return &Linker{
		Modules: modules,
		Windows: runtime.GOOS == "windows",
		logger:  logger,
	}
}

// Dir returns the directory links are created in
func (l *Linker) Dir() string {
	return filepath.Join(l.Modules, ".bin")
}

// Install replaces the links for every executable of m and returns the
// created link paths in name order. Names that are not plain file names are
// skipped with a warning.
func (l *Linker) Install(m *manifest.Manifest) ([]string, error) {
	if len(m.Bin) == 0 {
		return nil, nil
	}

	dir := l.Dir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errs.Wrap(err, errs.KindDestinationWrite, "link bin", dir)
	}

	keys := make([]string, 0, len(m.Bin))
	for k := range m.Bin {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var links []string
	for _, key := range keys {
		if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
			l.logger.Warn("skipping bin with unusable name", "dep", m.Name, "bin", key)
			continue
		}
		link := filepath.Join(dir, key)
		target := filepath.Join(l.Modules, filepath.FromSlash(m.Name), filepath.FromSlash(m.Bin[key]))

		if err := l.link(link, target); err != nil {
			return links, errs.Wrap(err, errs.KindDestinationWrite, "link bin", link).
				With("dep", m.Name).
				With("target", target)
		}
		l.logger.Info("Linked", "paths", pathfmt.Diff(link, target, pathfmt.Options{}))
		links = append(links, link)
	}
	return links, nil
}

func (l *Linker) link(link, target string) error {
	for _, stale := range []string{link, link + ".cmd"} {
		if err := os.RemoveAll(stale); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", stale, err)
		}
	}
	if err := os.Symlink(target, link); err != nil {
		return err
	}
	if !l.Windows {
		return nil
	}

	rel, err := filepath.Rel(filepath.Dir(link), target)
	if err != nil {
		return err
	}
	rel = strings.ReplaceAll(filepath.ToSlash(rel), "/", `\`)
	shim := fmt.Sprintf("@node \"%%~dp0%s\" %%*\r\n", rel)
	return os.WriteFile(link+".cmd", []byte(shim), 0644)
}
