package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/slipway-dev/slipway/internal/config"
	"github.com/slipway-dev/slipway/internal/log"
)

// Supervisor owns the registry of live workers and the start/stop/status
// surface callers use. It never restarts a terminated worker; a finished
// session is a fact, and re-running it takes a fresh StartSession.
type Supervisor struct {
	cfg    config.EngineConfig
	st     Store
	bus    Bus
	logger *log.Logger
	reg    *Registry
}

// New builds a Supervisor and runs boot reconciliation: any session or task
// persisted as running is stale (no worker can exist yet) and is rewritten to
// failed before the supervisor accepts its first start.
func New(cfg config.EngineConfig, st Store, b Bus, logger *log.Logger) (*Supervisor, error) {
	sessions, tasks, err := st.RecoverStale(time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("reconciling stale sessions: %w", err)
	}
	if sessions > 0 || tasks > 0 {
		if lerr := logger.Append(log.LogEvent{
			Event:    log.EventReconcileCompleted,
			Sessions: sessions,
			Tasks:    tasks,
		}); lerr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to log reconciliation: %v\n", lerr)
		}
	}

	return &Supervisor{
		cfg:    cfg,
		st:     st,
		bus:    b,
		logger: logger,
		reg:    NewRegistry(),
	}, nil
}

// StartSession spawns a worker for the session. At most one worker per
// session exists at a time; a duplicate start returns AlreadyStartedError
// carrying the live handle. Registration happens before the worker goroutine
// runs, so two racing starts resolve to exactly one winner.
func (s *Supervisor) StartSession(sessionID string, opts StartOptions) (*Worker, error) {
	w := newWorker(sessionID, s.cfg, opts, s.st, s.bus, s.logger, s.reg)
	if existing, ok := s.reg.Register(w); !ok {
		return nil, &AlreadyStartedError{SessionID: sessionID, Handle: existing}
	}
	go w.run()
	return w, nil
}

// StopSession requests a graceful stop of the session's worker. It returns
// immediately; ErrNotRunning if no worker is live.
func (s *Supervisor) StopSession(sessionID string) error {
	w := s.reg.Lookup(sessionID)
	if w == nil {
		return ErrNotRunning
	}
	w.Stop()
	return nil
}

// Status reports the lifecycle state of the session's worker, or
// StateNotRunning when none is live. A worker caught mid-teardown (state
// already terminated, registry entry not yet removed) also reads as not
// running. Never blocks.
func (s *Supervisor) Status(sessionID string) string {
	w := s.reg.Lookup(sessionID)
	if w == nil {
		return StateNotRunning
	}
	if st := w.Status(); st != StateTerminated {
		return st
	}
	return StateNotRunning
}

// ListRunning returns the session IDs with a live worker, in no particular
// order.
func (s *Supervisor) ListRunning() []string {
	return s.reg.List()
}

// CountRunning returns the number of live workers.
func (s *Supervisor) CountRunning() int {
	return s.reg.Count()
}

// Shutdown stops every live worker and waits for all of them to tear down,
// or for ctx to expire.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, id := range s.reg.List() {
		w := s.reg.Lookup(id)
		if w == nil {
			continue
		}
		w.Stop()
		g.Go(func() error {
			select {
			case <-w.Done():
				return nil
			case <-ctx.Done():
				return fmt.Errorf("waiting for session %s: %w", w.SessionID(), ctx.Err())
			}
		})
	}
	return g.Wait()
}
