// Package cmdexec wraps external command execution behind an interface so the
// command sequences issued by the daemon can be asserted in tests without the
// underlying tools installed.
package cmdexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner executes an external command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExitError reports a command that started but exited non-zero. Stderr is
// carried as diagnostic context only; callers decide success from the error
// value, never from output text.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s: exit status %d", e.Command, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// ErrToolNotFound indicates the requested binary is not installed on the host.
var ErrToolNotFound = errors.New("cmdexec: tool not found")

// ExecRunner runs commands via os/exec with a per-command timeout.
type ExecRunner struct {
	Timeout time.Duration
}

// NewRunner returns an ExecRunner. A zero timeout means commands run until the
// request context is done.
func NewRunner(timeout time.Duration) *ExecRunner {
	return &ExecRunner{Timeout: timeout}
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}

	if errors.Is(err, exec.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.String(), &ExitError{
			Command:  name + " " + strings.Join(args, " "),
			ExitCode: exitErr.ExitCode(),
			Stderr:   stderr.String(),
		}
	}
	return stdout.String(), fmt.Errorf("cmdexec: run %s: %w", name, err)
}

// Have reports whether a binary resolves on PATH. Used by the capability
// probe; operational code relies on Run errors instead.
func Have(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

var _ Runner = (*ExecRunner)(nil)
