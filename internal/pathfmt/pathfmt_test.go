package pathfmt

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestDiff(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		opts Options
		want string
	}{
		{
			name: "shared head and tail",
			a:    "/home/me/pkg/lib/a.js",
			b:    "/home/me/app/node_modules/pkg/lib/a.js",
			want: "/home/me/{->app/node_modules/}pkg/lib/a.js",
		},
		{
			name: "backup suffix",
			a:    "/p/package.json",
			b:    "/p/package.json-backup",
			want: "/p/package.json{->-backup}",
		},
		{
			name: "identical",
			a:    "/same",
			b:    "/same",
			want: "/same{->}",
		},
		{
			name: "custom arrow",
			a:    "a/x",
			b:    "b/x",
			opts: Options{Arrow: " => "},
			want: "{a => b}/x",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Diff(tt.a, tt.b, tt.opts))
		})
	}
}

func TestDiffShortensLongSegments(t *testing.T) {
	head := "/" + strings.Repeat("h", 80) + "/"
	got := Diff(head+"src/a", head+"dst/a", Options{Width: 10, Join: "~"})
	assert.Equal(t, "/hhh~hhhhh/{src->dst}/a", got)
}

func TestShort(t *testing.T) {
	assert.Equal(t, "short", Short("short", 10, DefaultRatio, "…"))
	assert.Equal(t, "abcdefghij", Short("abcdefghij", 10, DefaultRatio, "…"))
	assert.Equal(t, "abcd…tuvwxy", Short("abcdefghijklmnopqrstuvwxy", 10, DefaultRatio, "…"))
	assert.Equal(t, "unlimited", Short("unlimited", 0, DefaultRatio, "…"))

	got := Short(strings.Repeat("é", 30), 10, 0.5, "…")
	assert.Equal(t, 11, utf8.RuneCountInString(got))
}

func TestClock(t *testing.T) {
	assert.Equal(t, "09:05", Clock(time.Date(2024, 1, 2, 9, 5, 59, 0, time.UTC)))
}

func TestForTerminal(t *testing.T) {
	assert.GreaterOrEqual(t, Columns(), 1)
	assert.GreaterOrEqual(t, ForTerminal().Width, 20)
}
