package cmdexec

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesStdout(t *testing.T) {
	r := NewRunner(5 * time.Second)
	out, err := r.Run(context.Background(), "echo", "hello")
	if err != nil {
		t.Fatalf("run echo: %v", err)
	}
	if strings.TrimSpace(out) != "hello" {
		t.Fatalf("unexpected stdout %q", out)
	}
}

func TestRunNonZeroExitReturnsExitError(t *testing.T) {
	r := NewRunner(5 * time.Second)
	_, err := r.Run(context.Background(), "false")
	if err == nil {
		t.Fatalf("expected error from false")
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %T: %v", err, err)
	}
	if exitErr.ExitCode == 0 {
		t.Fatalf("expected non-zero exit code")
	}
}

func TestRunMissingToolIsClassified(t *testing.T) {
	r := NewRunner(time.Second)
	_, err := r.Run(context.Background(), "definitely-not-a-real-tool-xyz")
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}
