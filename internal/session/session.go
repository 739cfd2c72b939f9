// Package session threads the mutable state a replay run needs through
// every component explicitly: configuration, logger, hash tracker, and
// abort flag all live on one value rather than as package globals.
package session

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/cvcsreplay/cvcsreplay/internal/config"
	"github.com/cvcsreplay/cvcsreplay/internal/model"
)

// Stats accumulates per-run counters for the end-of-run summary report.
type Stats struct {
	ChangesetsProcessed int
	CommitsByBranch     map[string]int
	NoOpsSkipped        int
	Warnings            int
}

func newStats() Stats {
	return Stats{CommitsByBranch: make(map[string]int)}
}

// RecordCommit increments the per-branch commit counter.
func (s *Stats) RecordCommit(branch string) {
	s.CommitsByBranch[branch]++
}

// Session bundles configuration, logger, hash tracker, and abort flag,
// passed by reference to every component.
type Session struct {
	Config *config.Config
	Log    *logrus.Logger
	Hashes model.HashTracker
	Stats  Stats

	abort bool
}

// New builds a Session from a validated Config. Log output defaults to
// os.Stderr when cfg.LogPath is empty.
func New(cfg *config.Config) (*Session, error) {
	var out io.Writer = os.Stderr
	if cfg.LogPath != "" {
		f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log path %s: %w", cfg.LogPath, err)
		}
		out = f
	}
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	return &Session{
		Config: cfg,
		Log:    log,
		Hashes: make(model.HashTracker),
		Stats:  newStats(),
	}, nil
}

// Abort reports whether run-level cancellation has been requested.
func (s *Session) Abort() bool { return s.abort }

// SetAbort sets the run-level cancellation flag; it is checked
// cooperatively between changesets, never preempting an in-flight
// plumbing call.
func (s *Session) SetAbort(v bool) { s.abort = v }
