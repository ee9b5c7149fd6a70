package backup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	done  chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	f.mu.Unlock()
	if f.done != nil {
		close(f.done)
	}
	return "", nil
}

func testTrigger(t *testing.T, runner *fakeRunner) *Trigger {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(runner, logger, t.TempDir(), time.Minute)
}

func TestStartDirectoryBackup(t *testing.T) {
	runner := &fakeRunner{done: make(chan struct{})}
	trigger := testTrigger(t, runner)

	job, err := trigger.Start(Request{Type: TypeDirectory, Source: "/var/www/site"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if job.ID == "" {
		t.Fatalf("job id missing")
	}
	if !strings.HasSuffix(job.Destination, ".tar.gz") {
		t.Fatalf("unexpected destination %q", job.Destination)
	}

	select {
	case <-runner.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("backup command never ran")
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.calls) != 1 || !strings.HasPrefix(runner.calls[0], "tar -czf") {
		t.Fatalf("unexpected calls %v", runner.calls)
	}
	if !strings.Contains(runner.calls[0], "-C /var/www site") {
		t.Fatalf("tar should archive relative to parent: %v", runner.calls)
	}
}

func TestStartDatabaseBackups(t *testing.T) {
	for typ, tool := range map[string]string{TypeMySQL: "mysqldump", TypePostgres: "pg_dump"} {
		runner := &fakeRunner{done: make(chan struct{})}
		trigger := testTrigger(t, runner)

		job, err := trigger.Start(Request{Type: typ, Source: "appdb"})
		if err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
		if !strings.HasSuffix(job.Destination, ".sql") {
			t.Fatalf("%s: unexpected destination %q", typ, job.Destination)
		}

		select {
		case <-runner.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("%s command never ran", tool)
		}

		runner.mu.Lock()
		if !strings.HasPrefix(runner.calls[0], tool+" ") || !strings.HasSuffix(runner.calls[0], " appdb") {
			t.Fatalf("%s: unexpected call %v", typ, runner.calls)
		}
		runner.mu.Unlock()
	}
}

func TestStartRejectsInvalidType(t *testing.T) {
	runner := &fakeRunner{}
	trigger := testTrigger(t, runner)

	_, err := trigger.Start(Request{Type: "floppy", Source: "/data"})
	if !errors.Is(err, ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.calls) != 0 {
		t.Fatalf("no command should run: %v", runner.calls)
	}
}

func TestStartRejectsEmptySource(t *testing.T) {
	trigger := testTrigger(t, &fakeRunner{})
	if _, err := trigger.Start(Request{Type: TypeDirectory}); err == nil {
		t.Fatalf("expected error for empty source")
	}
	if _, err := trigger.Start(Request{Type: TypeMySQL}); err == nil {
		t.Fatalf("expected error for empty database")
	}
}
