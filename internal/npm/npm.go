// Package npm runs the package manager for the few operations depmirror
// delegates to it.
package npm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Client provides package manager operations
type Client interface {
	// Prefix returns the global install prefix
	Prefix(ctx context.Context) (string, error)
	// Link runs "npm link" in dir and returns the process exit status
	Link(ctx context.Context, dir string, force bool, args ...string) (int, error)
}

// ShellClient implements Client by shelling out to the npm command
type ShellClient struct {
	bin    string
	logger *slog.Logger
	stdout io.Writer
	stderr io.Writer
}

// DefaultBinary returns the npm executable name for the current platform
func DefaultBinary() string {
	if runtime.GOOS == "windows" {
		return "npm.cmd"
	}
	return "npm"
}

// NewShellClient creates a client running bin, or the platform's npm when
// bin is empty. Output of linked commands goes to the process's stdio.
func NewShellClient(bin string, logger *slog.Logger) *ShellClient {
	if bin == "" {
		bin = DefaultBinary()
	}
	return &ShellClient{
		bin:    bin,
		logger: logger,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// WithOutput redirects the output of linked commands
func (c *ShellClient) WithOutput(stdout, stderr io.Writer) *ShellClient {
	c.stdout = stdout
	c.stderr = stderr
	return c
}

// Prefix runs "npm config get prefix"
func (c *ShellClient) Prefix(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, c.bin, "config", "get", "prefix")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("npm config get prefix failed: %w", err)
	}
	prefix := strings.TrimSpace(string(output))
	if prefix == "" {
		return "", fmt.Errorf("npm config get prefix returned an empty prefix")
	}
	return prefix, nil
}

// Link runs "npm link [--force] args..." with dir as working directory
func (c *ShellClient) Link(ctx context.Context, dir string, force bool, args ...string) (int, error) {
	argv := []string{"link"}
	if force {
		argv = append(argv, "--force")
	}
	argv = append(argv, args...)

	c.logger.Info("$ npm "+strings.Join(argv, " "), "dir", dir)

	cmd := exec.CommandContext(ctx, c.bin, argv...)
	cmd.Dir = dir
	cmd.Stdout = c.stdout
	cmd.Stderr = c.stderr

	if err := cmd.Run(); err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		c.logger.Error("npm link failed", "dir", dir, "exit_code", code)
		return code, fmt.Errorf("npm link in %s failed: %w", dir, err)
	}

	c.logger.Info("npm link succeeded", "dir", dir)
	return 0, nil
}
