package filter

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultPatterns excludes version control, dependency caches, coverage
// output and dot-prefixed entries.
var DefaultPatterns = []string{
	"node_modules",
	".git",
	"coverage",
	`/(^|/)\./`,
}

// Pattern is a single exclusion rule, either a literal substring or a
// regular expression. Both match case-insensitively against the
// slash-separated path relative to the source root.
type Pattern struct {
	raw     string
	literal string
	re      *regexp.Regexp
}

// Literal returns a pattern matching any relative path containing s
func Literal(s string) Pattern {
	return Pattern{raw: s, literal: strings.ToLower(filepath.ToSlash(s))}
}

// Regex compiles expr into a case-insensitive pattern
func Regex(expr string) (Pattern, error) {
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("invalid exclude pattern %q: %w", expr, err)
	}
	return Pattern{raw: "/" + expr + "/", re: re}, nil
}

// Parse turns a pattern as written in config or on the command line into a
// Pattern. "/expr/" is a regular expression, anything else a literal.
func Parse(s string) (Pattern, error) {
	if len(s) >= 2 && strings.HasPrefix(s, "/") && strings.HasSuffix(s, "/") {
		return Regex(s[1 : len(s)-1])
	}
	if s == "" {
		return Pattern{}, fmt.Errorf("empty exclude pattern")
	}
	return Literal(s), nil
}

func (p Pattern) isRegex() bool {
	return p.re != nil
}

// String returns the pattern as it was written
func (p Pattern) String() string {
	return p.raw
}

// Match reports whether rel, a slash-separated relative path, matches
func (p Pattern) Match(rel string) bool {
	if p.re != nil {
		return p.re.MatchString(rel)
	}
	return strings.Contains(strings.ToLower(rel), p.literal)
}

// Filter decides whether a path below a source root takes part in mirroring
type Filter struct {
	root     string
	patterns []Pattern
	logger   *slog.Logger
}

// New builds a filter for root. logger may be nil.
func New(root string, patterns []Pattern, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ps := make([]Pattern, len(patterns))
	copy(ps, patterns)
	return &Filter{
		root:     filepath.Clean(root),
		patterns: ps,
		logger:   logger,
	}
}

// FromStrings parses patterns and builds a filter for root
func FromStrings(root string, patterns []string, logger *slog.Logger) (*Filter, error) {
	parsed := make([]Pattern, 0, len(patterns))
	for _, s := range patterns {
		p, err := Parse(s)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, p)
	}
	return New(root, parsed, logger), nil
}

// Patterns returns a copy of the exclusion patterns in evaluation order
func (f *Filter) Patterns() []Pattern {
	ps := make([]Pattern, len(f.patterns))
	copy(ps, f.patterns)
	return ps
}

// Accept reports whether path should be mirrored. The root itself is always
// accepted; paths outside the root never are.
func (f *Filter) Accept(path string) bool {
	rel, err := filepath.Rel(f.root, filepath.Clean(path))
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return false
	}
	for _, p := range f.patterns {
		if p.Match(rel) {
			f.logger.Debug("skipped", "path", rel, "pattern", p.String())
			return false
		}
	}
	return true
}
