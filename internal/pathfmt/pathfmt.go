// Package pathfmt renders pairs of paths compactly for log lines.
//
// Diff("/home/me/pkg/lib/a.js", "/home/me/app/node_modules/pkg/lib/a.js")
// keeps the shared head and tail once and shows only what differs:
//
//	/home/me/{->app/node_modules/}pkg/lib/a.js
package pathfmt

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"
)

const (
	// DefaultWidth bounds each rendered segment when Options.Width is zero
	DefaultWidth = 50
	// DefaultRatio is the share of a shortened string kept from its start
	DefaultRatio = 0.37
	// fallbackColumns is used when stdout is not a terminal
	fallbackColumns = 80
)

// Options controls Diff rendering
type Options struct {
	// Arrow separates the differing parts, "->" by default
	Arrow string
	// Width is the maximum length of each segment
	Width int
	// Join replaces the elided middle of a shortened segment
	Join string
}

func (o Options) withDefaults() Options {
	if o.Arrow == "" {
		o.Arrow = "->"
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Join == "" {
		o.Join = "…" + string(filepath.Separator) + "…"
	}
	return o
}

// Diff renders a and b as common{aRest->bRest}common with every segment
// shortened to opts.Width.
func Diff(a, b string, opts Options) string {
	opts = opts.withDefaults()
	ra, rb := []rune(a), []rune(b)

	head := commonPrefix(ra, rb)
	ra, rb = ra[head:], rb[head:]
	tail := commonSuffix(ra, rb)

	left := string([]rune(a)[:head])
	right := string(ra[len(ra)-tail:])
	ra, rb = ra[:len(ra)-tail], rb[:len(rb)-tail]

	short := func(s string) string {
		return Short(s, opts.Width, DefaultRatio, opts.Join)
	}

	return strings.Join([]string{short(left), "{", short(string(ra)), opts.Arrow, short(string(rb)), "}", short(right)}, "")
}

func commonPrefix(a, b []rune) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func commonSuffix(a, b []rune) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[len(a)-1-i] == b[len(b)-1-i] {
		i++
	}
	return i
}

// Short returns s unchanged when it fits in width runes; otherwise the
// middle is replaced by join, keeping ratio of width from the start and
// the rest from the end.
func Short(s string, width int, ratio float64, join string) string {
	r := []rune(s)
	if width <= 0 || len(r) <= width {
		return s
	}
	leftLen := int(math.Round(float64(width) * ratio))
	rightLen := width - leftLen
	return string(r[:leftLen]) + join + string(r[len(r)-rightLen:])
}

// Clock formats t as hours and minutes for log lines
func Clock(t time.Time) string {
	return t.Format("15:04")
}

// Columns returns the width of the terminal attached to stdout, or 80 when
// stdout is not a terminal.
func Columns() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return fallbackColumns
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return fallbackColumns
	}
	return w
}

// ForTerminal returns options whose segment width fits two paths on one
// terminal line.
func ForTerminal() Options {
	return Options{Width: max(Columns()/2, 20)}
}
