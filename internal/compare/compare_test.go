package compare

import (
	"bytes"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingOpener wraps opened files so reads can be counted
type countingOpener struct {
	reads atomic.Int64
}

type countingFile struct {
	*os.File
	reads *atomic.Int64
}

func (f *countingFile) Read(p []byte) (int, error) {
	f.reads.Add(1)
	return f.File.Read(p)
}

func (o *countingOpener) Open(name string) (File, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return &countingFile{File: f, reads: &o.reads}, nil
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestEqual(t *testing.T) {
	dir := t.TempDir()
	big := bytes.Repeat([]byte("0123456789abcdef"), 3*ChunkSize/16+7)

	flip := func(data []byte, at int) []byte {
		out := append([]byte(nil), data...)
		out[at] ^= 0xff
		return out
	}

	tests := []struct {
		name string
		a, b []byte
		want bool
	}{
		{name: "both empty", a: nil, b: nil, want: true},
		{name: "identical small", a: []byte("hello"), b: []byte("hello"), want: true},
		{name: "identical multi chunk", a: big, b: big, want: true},
		{name: "first byte differs", a: big, b: flip(big, 0), want: false},
		{name: "last byte differs", a: big, b: flip(big, len(big)-1), want: false},
		{name: "differs at chunk boundary", a: big, b: flip(big, ChunkSize), want: false},
		{name: "differs in second chunk", a: big, b: flip(big, ChunkSize+123), want: false},
	}

	c := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := writeFile(t, dir, tt.name+"-a", tt.a)
			b := writeFile(t, dir, tt.name+"-b", tt.b)

			got, err := c.Equal(a, b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEqualDifferentSizesReadsNothing(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a", bytes.Repeat([]byte("x"), 4*ChunkSize))
	b := writeFile(t, dir, "b", bytes.Repeat([]byte("x"), 4*ChunkSize+1))

	opener := &countingOpener{}
	got, err := NewWithOpener(opener).Equal(a, b)
	require.NoError(t, err)
	assert.False(t, got)
	assert.Zero(t, opener.reads.Load())
}

func TestEqualStopsAtFirstDifferentChunk(t *testing.T) {
	dir := t.TempDir()
	data := bytes.Repeat([]byte("x"), 8*ChunkSize)
	other := append([]byte(nil), data...)
	other[0] = 'y'
	a := writeFile(t, dir, "a", data)
	b := writeFile(t, dir, "b", other)

	opener := &countingOpener{}
	got, err := NewWithOpener(opener).Equal(a, b)
	require.NoError(t, err)
	assert.False(t, got)
	assert.LessOrEqual(t, opener.reads.Load(), int64(4), "only the first chunk of each file should be read")
}

func TestEqualMissingFile(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a", []byte("x"))

	_, err := New().Equal(a, filepath.Join(dir, "missing"))
	assert.Error(t, err)
	_, err = New().Equal(filepath.Join(dir, "missing"), a)
	assert.Error(t, err)
}
