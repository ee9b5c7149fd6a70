// Package databases probes for MySQL and PostgreSQL clients and enumerates
// the schemas they can reach. A missing client is reported as unavailable,
// never as a request failure.
package databases

import (
	"context"
	"errors"
	"strings"

	"github.com/vpsdash/vpsd/internal/shared/cmdexec"
)

// Server reports one database engine's availability and schemas.
type Server struct {
	Engine    string   `json:"engine"`
	Available bool     `json:"available"`
	Databases []string `json:"databases,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Status is the combined probe result.
type Status struct {
	MySQL    Server `json:"mysql"`
	Postgres Server `json:"postgres"`
}

// Probe enumerates schemas on both engines.
func Probe(ctx context.Context, runner cmdexec.Runner) Status {
	return Status{
		MySQL:    probeMySQL(ctx, runner),
		Postgres: probePostgres(ctx, runner),
	}
}

func probeMySQL(ctx context.Context, runner cmdexec.Runner) Server {
	srv := Server{Engine: "mysql"}
	out, err := runner.Run(ctx, "mysql", "-N", "-e", "SHOW DATABASES")
	if err != nil {
		if !errors.Is(err, cmdexec.ErrToolNotFound) {
			srv.Error = err.Error()
		}
		return srv
	}
	srv.Available = true
	for _, line := range strings.Split(out, "\n") {
		name := strings.TrimSpace(line)
		if name == "" {
			continue
		}
		srv.Databases = append(srv.Databases, name)
	}
	return srv
}

func probePostgres(ctx context.Context, runner cmdexec.Runner) Server {
	srv := Server{Engine: "postgres"}
	out, err := runner.Run(ctx, "psql", "-Atl")
	if err != nil {
		if !errors.Is(err, cmdexec.ErrToolNotFound) {
			srv.Error = err.Error()
		}
		return srv
	}
	srv.Available = true
	for _, line := range strings.Split(out, "\n") {
		// psql -Atl rows are pipe-separated; the first column is the name.
		name, _, ok := strings.Cut(line, "|")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		srv.Databases = append(srv.Databases, name)
	}
	return srv
}
