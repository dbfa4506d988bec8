//go:build integration

package cli

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

const (
	defaultTimeout = 2 * time.Minute
	pollInterval   = 50 * time.Millisecond
	shimLogName    = "npm.log"
)

// npmShim stands in for npm. It appends one line per invocation to the shim
// log, answers "config get prefix" with $SHIM_PREFIX and keeps a copy of the
// package.json it was linked with.
const npmShim = `#!/bin/sh
echo "$(pwd) $*" >> "$SHIM_DIR/` + shimLogName + `"
case "$1" in
config)
  echo "$SHIM_PREFIX"
  ;;
link)
  cp package.json "$SHIM_DIR/linked-$(basename "$(pwd)").json"
  ;;
esac
`

// Harness runs the depmirror binary against a scratch project
type Harness struct {
	t       *testing.T
	binary  string
	shimDir string
	prefix  string
	Project string
}

// NewHarness builds the binary and prepares an empty project directory
func NewHarness(ctx context.Context, t *testing.T) *Harness {
	t.Helper()
	root := t.TempDir()
	h := &Harness{
		t:       t,
		binary:  filepath.Join(root, "depmirror"),
		shimDir: filepath.Join(root, "shim"),
		prefix:  filepath.Join(root, "prefix"),
		Project: filepath.Join(root, "project"),
	}

	projectRoot, err := findProjectRoot()
	if err != nil {
		t.Fatalf("get project root: %v", err)
	}

	t.Logf("Building %s", h.binary)
	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binary, "./cmd/depmirror")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: t, prefix: "[build] "}
	if err := cmd.Run(); err != nil {
		t.Fatalf("go build: %v", err)
	}

	for _, dir := range []string{h.shimDir, h.Project, filepath.Join(h.prefix, "lib", "node_modules")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(h.shimDir, "npm"), []byte(npmShim), 0755); err != nil {
		t.Fatal(err)
	}
	return h
}

// GlobalDir returns the directory the npm shim reports global packages in
func (h *Harness) GlobalDir() string {
	return filepath.Join(h.prefix, "lib", "node_modules")
}

func (h *Harness) command(ctx context.Context, args ...string) *exec.Cmd {
	args = append([]string{"--cwd", h.Project, "--log-level", "debug"}, args...)
	cmd := exec.CommandContext(ctx, h.binary, args...)
	cmd.Env = append(os.Environ(),
		"PATH="+h.shimDir+string(os.PathListSeparator)+os.Getenv("PATH"),
		"SHIM_DIR="+h.shimDir,
		"SHIM_PREFIX="+h.prefix,
	)
	return cmd
}

// Run executes depmirror to completion and returns its output and exit code
func (h *Harness) Run(ctx context.Context, args ...string) (string, int) {
	h.t.Helper()
	cmd := h.command(ctx, args...)
	var out bytes.Buffer
	cmd.Stdout = io.MultiWriter(&out, &testWriter{t: h.t, prefix: "[depmirror] "})
	cmd.Stderr = cmd.Stdout

	err := cmd.Run()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return out.String(), exitErr.ExitCode()
		}
		h.t.Fatalf("run depmirror: %v", err)
	}
	return out.String(), 0
}

// MustRun executes depmirror and fails the test on a non-zero exit
func (h *Harness) MustRun(ctx context.Context, args ...string) string {
	h.t.Helper()
	out, code := h.Run(ctx, args...)
	if code != 0 {
		h.t.Fatalf("depmirror %v exited with %d\n%s", args, code, out)
	}
	return out
}

// Process is a depmirror invocation running in the background
type Process struct {
	h       *Harness
	cmd     *exec.Cmd
	mu      sync.Mutex
	out     bytes.Buffer
	exited  chan struct{}
	waitErr error
}

// Start launches depmirror without waiting for it
func (h *Harness) Start(ctx context.Context, args ...string) *Process {
	h.t.Helper()
	p := &Process{h: h, cmd: h.command(ctx, args...), exited: make(chan struct{})}

	pipe, err := p.cmd.StdoutPipe()
	if err != nil {
		h.t.Fatal(err)
	}
	p.cmd.Stderr = p.cmd.Stdout
	if err := p.cmd.Start(); err != nil {
		h.t.Fatalf("start depmirror: %v", err)
	}

	go func() {
		scanner := bufio.NewScanner(pipe)
		for scanner.Scan() {
			line := scanner.Text()
			h.t.Log("[depmirror] " + line)
			p.mu.Lock()
			p.out.WriteString(line + "\n")
			p.mu.Unlock()
		}
		p.waitErr = p.cmd.Wait()
		close(p.exited)
	}()

	h.t.Cleanup(func() {
		_ = p.cmd.Process.Kill()
		<-p.exited
	})
	return p
}

// Output returns everything the process logged so far
func (p *Process) Output() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.String()
}

// WaitForOutput blocks until the process logged a line containing s
func (p *Process) WaitForOutput(ctx context.Context, s string) {
	p.h.t.Helper()
	p.h.WaitFor(ctx, "output "+s, func() bool {
		return strings.Contains(p.Output(), s)
	})
}

// Stop interrupts the process and returns its exit error
func (p *Process) Stop(ctx context.Context) error {
	p.h.t.Helper()
	if err := p.cmd.Process.Signal(syscall.SIGINT); err != nil {
		return fmt.Errorf("signal: %w", err)
	}
	select {
	case <-p.exited:
		return p.waitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitFor polls cond until it holds or ctx expires
func (h *Harness) WaitFor(ctx context.Context, what string, cond func() bool) {
	h.t.Helper()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for !cond() {
		select {
		case <-ctx.Done():
			h.t.Fatalf("timed out waiting for %s", what)
		case <-ticker.C:
		}
	}
}

// ShimLog returns the npm invocations recorded so far, one per line
func (h *Harness) ShimLog() []string {
	h.t.Helper()
	data, err := os.ReadFile(filepath.Join(h.shimDir, shimLogName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		h.t.Fatal(err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

// LinkedManifest returns the package.json npm saw while linking dir
func (h *Harness) LinkedManifest(dir string) string {
	h.t.Helper()
	data, err := os.ReadFile(filepath.Join(h.shimDir, "linked-"+filepath.Base(dir)+".json"))
	if err != nil {
		h.t.Fatalf("npm link was not run in %s: %v", dir, err)
	}
	return string(data)
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)

// findProjectRoot walks up the directory tree from the current file to find go.mod
func findProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to get caller information")
	}

	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}
