package engine

import (
	"time"

	"github.com/slipway-dev/slipway/internal/bus"
	"github.com/slipway-dev/slipway/internal/store"
)

// Store is the persistence surface the engine depends on. *store.Store
// satisfies it; tests substitute fakes.
type Store interface {
	GetSession(id string) (*store.Session, error)
	GetTask(id string) (*store.Task, error)
	GetProject(id string) (*store.Project, error)
	MarkStarted(sessionID string) error
	MarkCompleted(sessionID string, exitCode int) error
	SetTaskStatus(taskID, status string) error
	AppendMessage(sessionID, role, content string, metadata map[string]interface{}) error
	RecoverStale(now time.Time) (sessions, tasks int, err error)
}

// Bus is the event publishing surface the engine depends on. *bus.Bus
// satisfies it.
type Bus interface {
	Publish(topic string, ev bus.Event)
}
