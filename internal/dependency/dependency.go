// Package dependency maps dependency arguments to the directories they are
// mirrored from and into.
package dependency

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/schaermu/depmirror/internal/errs"
	"github.com/schaermu/depmirror/internal/manifest"
)

// IsRelative reports whether dep names a local directory rather than an
// installed package. Scoped names such as "@scope/pkg" are packages.
func IsRelative(dep string) bool {
	return strings.ContainsAny(dep, `/\.`) && !strings.HasPrefix(dep, "@")
}

// Location is where a dependency is mirrored from and to
type Location struct {
	// Name is the package name, used as directory below the modules dir
	Name        string
	Source      string
	Destination string
	// Manifest is the package.json of a relative dependency, nil otherwise
	Manifest *manifest.Manifest
}

// Resolver resolves dependency arguments for one project
type Resolver struct {
	// Cwd is the project directory
	Cwd string
	// Prefix is the package manager's global install prefix
	Prefix string
	// ModulesDir is the project-relative directory packages live in
	ModulesDir string
	// Windows selects the Windows global package layout
	Windows bool
}

// NewResolver creates a resolver for the current platform
func NewResolver(cwd, prefix, modulesDir string) *Resolver {
	return &Resolver{
		Cwd:        cwd,
		Prefix:     prefix,
		ModulesDir: modulesDir,
		Windows:    runtime.GOOS == "windows",
	}
}

// GlobalDir returns the directory globally installed packages live in
func (r *Resolver) GlobalDir() string {
	if r.Windows {
		return filepath.Join(r.Prefix, "node_modules")
	}
	return filepath.Join(r.Prefix, "lib", "node_modules")
}

// Resolve maps dep to its source and destination. A relative dependency is
// a directory whose package.json supplies the name; anything else is a
// globally installed package of that name.
func (r *Resolver) Resolve(dep string) (Location, error) {
	if dep == "" {
		return Location{}, errs.New(errs.KindInvalidInput, "resolve", "").With("reason", "empty dependency")
	}
	modules := filepath.Join(r.Cwd, r.ModulesDir)

	if IsRelative(dep) {
		src := dep
		if !filepath.IsAbs(src) {
			src = filepath.Join(r.Cwd, src)
		}
		m, err := manifest.Read(src)
		if err != nil {
			return Location{}, err
		}
		if m.Name == "" {
			return Location{}, errs.New(errs.KindManifest, "resolve", src).With("reason", "package.json has no name")
		}
		return Location{
			Name:        m.Name,
			Source:      src,
			Destination: filepath.Join(modules, filepath.FromSlash(m.Name)),
			Manifest:    m,
		}, nil
	}

	if r.Prefix == "" {
		return Location{}, errs.New(errs.KindInvalidInput, "resolve", dep).With("reason", "install prefix is unknown")
	}
	return Location{
		Name:        dep,
		Source:      filepath.Join(r.GlobalDir(), filepath.FromSlash(dep)),
		Destination: filepath.Join(modules, filepath.FromSlash(dep)),
	}, nil
}

// ListDirs returns the immediate subdirectories of dir, sorted. Links to
// directories count as directories.
func ListDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var dirs []string
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		info, err := os.Stat(path)
		if err != nil {
			// dangling link
			continue
		}
		if info.IsDir() {
			dirs = append(dirs, path)
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}
