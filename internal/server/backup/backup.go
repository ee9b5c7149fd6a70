// Package backup triggers archive and database dump jobs. Jobs are
// fire-and-forget: the handler gets an id immediately and the command runs
// detached from the request; no job record is kept.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vpsdash/vpsd/internal/shared/cmdexec"
)

// Backup types.
const (
	TypeDirectory = "directory"
	TypeMySQL     = "mysql"
	TypePostgres  = "postgres"
)

// ErrInvalidType indicates an unsupported backup type.
var ErrInvalidType = errors.New("backup: invalid type")

// Request describes one backup trigger.
type Request struct {
	Type   string `json:"type"`
	Source string `json:"source"`
	Name   string `json:"name"`
}

// Job echoes what was started. Nothing else is retained.
type Job struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	StartedAt   time.Time `json:"started_at"`
}

// Trigger validates the request and launches the backup command in the
// background. The returned Job is the only record of the work.
type Trigger struct {
	Runner  cmdexec.Runner
	Logger  *slog.Logger
	Dir     string
	Timeout time.Duration
}

// New constructs a Trigger writing archives under dir.
func New(runner cmdexec.Runner, logger *slog.Logger, dir string, timeout time.Duration) *Trigger {
	return &Trigger{
		Runner:  runner,
		Logger:  logger.With("component", "backup"),
		Dir:     filepath.Clean(dir),
		Timeout: timeout,
	}
}

// Start validates the request, launches the command detached from the request
// context, and returns immediately.
func (t *Trigger) Start(req Request) (*Job, error) {
	name, args, dest, err := t.plan(req)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(t.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("backup: ensure backup dir: %w", err)
	}

	job := &Job{
		ID:          uuid.NewString(),
		Type:        req.Type,
		Source:      req.Source,
		Destination: dest,
		StartedAt:   time.Now().UTC(),
	}

	go func() {
		ctx := context.Background()
		var cancel context.CancelFunc
		if t.Timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, t.Timeout)
			defer cancel()
		}
		if _, err := t.Runner.Run(ctx, name, args...); err != nil {
			t.Logger.Error("backup failed", "job", job.ID, "type", req.Type, "error", err)
			return
		}
		t.Logger.Info("backup finished", "job", job.ID, "dest", dest)
	}()

	return job, nil
}

func (t *Trigger) plan(req Request) (string, []string, string, error) {
	stamp := time.Now().UTC().Format("20060102-150405")
	label := strings.TrimSpace(req.Name)

	switch req.Type {
	case TypeDirectory:
		src := filepath.Clean(strings.TrimSpace(req.Source))
		if src == "" || src == "." {
			return "", nil, "", fmt.Errorf("backup: source directory required")
		}
		if label == "" {
			label = filepath.Base(src)
		}
		dest := filepath.Join(t.Dir, fmt.Sprintf("%s-%s.tar.gz", label, stamp))
		args := []string{"-czf", dest, "-C", filepath.Dir(src), filepath.Base(src)}
		return "tar", args, dest, nil

	case TypeMySQL:
		db := strings.TrimSpace(req.Source)
		if db == "" {
			return "", nil, "", fmt.Errorf("backup: database name required")
		}
		if label == "" {
			label = db
		}
		dest := filepath.Join(t.Dir, fmt.Sprintf("%s-%s.sql", label, stamp))
		return "mysqldump", []string{"--result-file", dest, db}, dest, nil

	case TypePostgres:
		db := strings.TrimSpace(req.Source)
		if db == "" {
			return "", nil, "", fmt.Errorf("backup: database name required")
		}
		if label == "" {
			label = db
		}
		dest := filepath.Join(t.Dir, fmt.Sprintf("%s-%s.sql", label, stamp))
		return "pg_dump", []string{"--file", dest, db}, dest, nil

	default:
		return "", nil, "", fmt.Errorf("%w: %s", ErrInvalidType, req.Type)
	}
}
