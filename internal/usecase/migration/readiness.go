package migration

import (
	"context"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

type readinessState int

const (
	statePolling readinessState = iota
	stateReady
	stateTimedOut
)

// readiness is the bounded poll over a destination's readiness probe.
// Ready and TimedOut are terminal.
type readiness struct {
	attempt     int
	maxAttempts int
	state       readinessState
}

// observe records one probe outcome and returns the new state.
func (r *readiness) observe(ready bool) readinessState {
	if r.state != statePolling {
		return r.state
	}
	r.attempt++
	switch {
	case ready:
		r.state = stateReady
	case r.attempt >= r.maxAttempts:
		r.state = stateTimedOut
	}
	return r.state
}

// waitReady probes the destination with pg_isready until it accepts
// connections or the attempt bound is reached.
func (s *Service) waitReady(ctx context.Context, containerID string, p plan) error {
	log := zerowrap.FromCtx(ctx)
	r := readiness{maxAttempts: s.config.ReadyMaxAttempts}

	for {
		switch r.observe(s.probeReady(ctx, containerID, p)) {
		case stateReady:
			log.Info().Int("attempts", r.attempt).Msg("destination ready")
			return nil
		case stateTimedOut:
			return &domain.TimeoutError{
				Op:    "readiness poll",
				After: time.Duration(r.attempt) * s.config.ReadyInterval,
			}
		}
		if err := sleep(ctx, s.config.ReadyInterval); err != nil {
			return err
		}
	}
}

// probeReady uses TCP so the temporary server the image runs during initdb,
// which only listens on the socket, is not mistaken for the real one.
func (s *Service) probeReady(ctx context.Context, containerID string, p plan) bool {
	cmd := []string{"pg_isready", "-h", "127.0.0.1", "-U", p.username, "-d", p.dest.Name}
	result, err := s.runtime.ExecInContainer(ctx, containerID, cmd, nil)
	if err != nil {
		log := zerowrap.FromCtx(ctx)
		log.Debug().Err(err).Msg("readiness probe failed")
		return false
	}
	return result.ExitCode == 0
}
