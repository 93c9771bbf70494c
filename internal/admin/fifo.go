// Package admin reads administrative commands from a named pipe and runs
// them against the game server
package admin

import (
	"context"
	"log/slog"
	"strings"
)

// Issuer is recorded as the issuer of bans made through the pipe
const Issuer = "fifo"

// Runner executes admin console commands
type Runner interface {
	Admin(ctx context.Context, issuer, line string) (string, error)
}

// Fifo reads commands, one per line, from a named pipe. Replies go to the
// log.
type Fifo struct {
	path   string
	runner Runner
	logger *slog.Logger
}

// NewFifo creates a command reader for the pipe at path. The pipe is
// created on Run if missing.
func NewFifo(path string, runner Runner, logger *slog.Logger) *Fifo {
	return &Fifo{
		path:   path,
		runner: runner,
		logger: logger.With(slog.String("component", "admin-fifo"), slog.String("path", path)),
	}
}

// Path returns the pipe location
func (f *Fifo) Path() string {
	return f.path
}

func (f *Fifo) handle(ctx context.Context, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	out, err := f.runner.Admin(ctx, Issuer, line)
	if err != nil {
		f.logger.Error("admin command failed", slog.String("command", line), slog.String("error", err.Error()))
		return
	}
	f.logger.Info("admin command", slog.String("command", line), slog.String("output", out))
}
