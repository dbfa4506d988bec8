// Package fsutil holds the filesystem primitives shared by the mirror engine
// and the transactional mutator: explicit existence probing and
// symlink-dereferencing tree copies.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Kind is the result of probing a path
type Kind int

const (
	Absent Kind = iota
	File
	Dir
)

// String returns a human-readable name for the kind
func (k Kind) String() string {
	switch k {
	case File:
		return "file"
	case Dir:
		return "dir"
	default:
		return "absent"
	}
}

// Probe reports whether path is absent, a file or a directory, following
// symbolic links. A dangling link probes as Absent.
func Probe(path string) (Kind, error) {
	return probe(os.Stat, path)
}

// ProbeLink is like Probe but does not follow a final symbolic link; a link
// itself probes as File.
func ProbeLink(path string) (Kind, error) {
	return probe(os.Lstat, path)
}

func probe(stat func(string) (fs.FileInfo, error), path string) (Kind, error) {
	info, err := stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Absent, nil
		}
		return Absent, err
	}
	if info.IsDir() {
		return Dir, nil
	}
	return File, nil
}

var copyBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 32*1024)
		return &b
	},
}

// CopyFile copies src to dst with an atomic write: the content lands in a
// temporary file next to dst which is then renamed over it. Symbolic links
// in src are followed.
func CopyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return err
	}

	// A directory in the way of a file has to go first; rename cannot replace it.
	if kind, err := ProbeLink(dst); err != nil {
		return err
	} else if kind == Dir {
		if err := os.RemoveAll(dst); err != nil {
			return err
		}
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".depmirror-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	bufPtr := copyBufPool.Get().(*[]byte)
	defer copyBufPool.Put(bufPtr)

	if _, err := io.CopyBuffer(tmpFile, srcFile, *bufPtr); err != nil {
		_ = tmpFile.Close()
		return err
	}

	// Owner write is kept so the next sync can replace the file.
	if err := tmpFile.Chmod(srcInfo.Mode().Perm() | 0200); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, dst)
}

// CopyTree recursively copies src to dst, dereferencing symbolic links.
// accept is consulted with every source path (src included) and rejected
// paths are skipped along with everything below them. A nil accept copies
// everything. Existing entries of dst are overwritten; entries of dst that
// are not in src are left alone.
func CopyTree(src, dst string, accept func(path string) bool) error {
	return copyTree(src, dst, accept, map[string]bool{})
}

func copyTree(src, dst string, accept func(string) bool, ancestors map[string]bool) error {
	if accept != nil && !accept(src) {
		return nil
	}

	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		if !info.Mode().IsRegular() {
			// sockets, devices and pipes have no content to mirror
			return nil
		}
		if err := CopyFile(src, dst); err != nil {
			return fmt.Errorf("copy %s: %w", src, err)
		}
		return nil
	}

	resolved, err := filepath.EvalSymlinks(src)
	if err != nil {
		return err
	}
	if ancestors[resolved] {
		return fmt.Errorf("symlink cycle at %s", src)
	}
	ancestors[resolved] = true
	defer delete(ancestors, resolved)

	if kind, err := ProbeLink(dst); err != nil {
		return err
	} else if kind == File {
		if err := os.Remove(dst); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(dst, info.Mode().Perm()|0700); err != nil {
		return fmt.Errorf("create directory %s: %w", dst, err)
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		name := entry.Name()
		if err := copyTree(filepath.Join(src, name), filepath.Join(dst, name), accept, ancestors); err != nil {
			return err
		}
	}
	return nil
}
