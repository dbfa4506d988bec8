package filter

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		regex   bool
		wantErr bool
	}{
		{in: "node_modules"},
		{in: `/\.git/`, regex: true},
		{in: "/", regex: false},
		{in: "//", regex: true},
		{in: "/(/", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := Parse(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.regex, p.isRegex())
			assert.Equal(t, tt.in, p.String())
		})
	}
}

func TestPatternMatch(t *testing.T) {
	lit := Literal("Coverage")
	assert.True(t, lit.Match("coverage/lcov.info"))
	assert.True(t, lit.Match("src/COVERAGE.md"))
	assert.False(t, lit.Match("src/index.js"))

	re, err := Regex(`(^|/)\.`)
	require.NoError(t, err)
	assert.True(t, re.Match(".env"))
	assert.True(t, re.Match("lib/.cache/x"))
	assert.False(t, re.Match("lib/a.b"))
}

func TestAccept(t *testing.T) {
	root := filepath.FromSlash("/work/pkg")
	f, err := FromStrings(root, DefaultPatterns, nil)
	require.NoError(t, err)

	tests := []struct {
		path string
		want bool
	}{
		{path: root, want: true},
		{path: root + string(filepath.Separator), want: true},
		{path: filepath.Join(root, "index.js"), want: true},
		{path: filepath.Join(root, "lib", "a.js"), want: true},
		{path: filepath.Join(root, "node_modules", "dep"), want: false},
		{path: filepath.Join(root, ".git"), want: false},
		{path: filepath.Join(root, "lib", ".hidden"), want: false},
		{path: filepath.Join(root, "coverage", "lcov.info"), want: false},
		{path: filepath.FromSlash("/work/other/index.js"), want: false},
		{path: filepath.FromSlash("/work"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Accept(tt.path))
		})
	}
}

func TestAcceptRootEvenWhenMatching(t *testing.T) {
	root := filepath.FromSlash("/work/.hidden/node_modules/pkg")
	f, err := FromStrings(root, DefaultPatterns, nil)
	require.NoError(t, err)

	assert.True(t, f.Accept(root))
	assert.True(t, f.Accept(filepath.Join(root, "index.js")), "patterns apply below the root only")
}

func TestAcceptIgnoresPatternOrder(t *testing.T) {
	root := filepath.FromSlash("/work/pkg")
	paths := []string{
		filepath.Join(root, "docs", "readme.md"),
		filepath.Join(root, "test", "fixtures", "a.json"),
		filepath.Join(root, "src", "main.js"),
	}
	forward, err := FromStrings(root, []string{"docs", `/fixtures/`}, nil)
	require.NoError(t, err)
	backward, err := FromStrings(root, []string{`/fixtures/`, "docs"}, nil)
	require.NoError(t, err)

	for _, p := range paths {
		assert.Equal(t, forward.Accept(p), backward.Accept(p), p)
	}
	assert.False(t, forward.Accept(paths[0]))
	assert.False(t, forward.Accept(paths[1]))
	assert.True(t, forward.Accept(paths[2]))
}

func TestPatternsReturnsCopy(t *testing.T) {
	f := New("/root", []Pattern{Literal("a")}, nil)
	ps := f.Patterns()
	ps[0] = Literal("b")
	assert.Equal(t, "a", f.Patterns()[0].String())
}
