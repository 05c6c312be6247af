package engine

import (
	"errors"
	"fmt"
)

// ErrNotRunning is returned by stop and status operations for a session that
// has no live worker. A finished session is not an error state; re-running it
// takes a new StartSession call.
var ErrNotRunning = errors.New("session not running")

// AlreadyStartedError reports that a live worker already exists for the
// session. It carries the existing handle so the caller can attach to it
// instead of treating the duplicate start as a fault.
type AlreadyStartedError struct {
	SessionID string
	Handle    *Worker
}

func (e *AlreadyStartedError) Error() string {
	return fmt.Sprintf("session %s already started", e.SessionID)
}
