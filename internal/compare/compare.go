package compare

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
)

// ChunkSize is the number of bytes read from each file per step
const ChunkSize = 8 * 1024

// File is the subset of *os.File the comparator needs
type File interface {
	io.Reader
	io.Closer
	Stat() (fs.FileInfo, error)
}

// Opener opens files for comparison
type Opener interface {
	Open(name string) (File, error)
}

type osOpener struct{}

func (osOpener) Open(name string) (File, error) {
	return os.Open(name)
}

// Comparator decides byte-for-byte equality of two files without holding
// either one in memory.
type Comparator struct {
	opener Opener
	bufs   sync.Pool
}

// New returns a comparator reading from the local filesystem
func New() *Comparator {
	return NewWithOpener(osOpener{})
}

// NewWithOpener returns a comparator reading through opener
func NewWithOpener(opener Opener) *Comparator {
	c := &Comparator{opener: opener}
	c.bufs.New = func() any {
		b := make([]byte, 2*ChunkSize)
		return &b
	}
	return c
}

// Equal reports whether the files at a and b have identical content. Files
// of different sizes are unequal without any content being read.
func (c *Comparator) Equal(a, b string) (bool, error) {
	fa, err := c.opener.Open(a)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", a, err)
	}
	defer func() {
		_ = fa.Close()
	}()

	fb, err := c.opener.Open(b)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", b, err)
	}
	defer func() {
		_ = fb.Close()
	}()

	sa, err := fa.Stat()
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", a, err)
	}
	sb, err := fb.Stat()
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", b, err)
	}
	if sa.Size() != sb.Size() {
		return false, nil
	}

	bufPtr := c.bufs.Get().(*[]byte)
	defer c.bufs.Put(bufPtr)
	bufA := (*bufPtr)[:ChunkSize]
	bufB := (*bufPtr)[ChunkSize : 2*ChunkSize]

	for {
		na, errA := io.ReadFull(fa, bufA)
		nb, errB := io.ReadFull(fb, bufB)
		if errA != nil && errA != io.EOF && errA != io.ErrUnexpectedEOF {
			return false, fmt.Errorf("read %s: %w", a, errA)
		}
		if errB != nil && errB != io.EOF && errB != io.ErrUnexpectedEOF {
			return false, fmt.Errorf("read %s: %w", b, errB)
		}
		if na != nb || !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		// A short read means both files hit EOF at the same offset.
		if errA != nil || errB != nil {
			return errA != nil && errB != nil, nil
		}
	}
}
