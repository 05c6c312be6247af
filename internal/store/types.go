// Package store provides SQLite-backed persistence for slipway sessions.
package store

import "time"

// Session status values. A session is the authoritative record of one
// subprocess run; "running" is meaningful only while a live worker holds it.
const (
	StatusIdle      = "idle"
	StatusStarting  = "starting"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Project represents a working directory the CLI runs in.
type Project struct {
	ID        string
	Name      string
	Path      string
	CreatedAt time.Time
}

// Task is one unit of work a session executes.
type Task struct {
	ID          string
	ProjectID   string
	Title       string
	Description string
	Status      string // pending, running, completed, failed
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Session represents one subprocess run against a task.
type Session struct {
	ID         string
	TaskID     string
	Status     string
	StartedAt  *time.Time
	FinishedAt *time.Time
	ExitCode   *int
	CreatedAt  time.Time
}

// Message is an append-only transcript entry within a session.
type Message struct {
	ID        int
	SessionID string
	Role      string // user, assistant, tool
	Content   string
	Metadata  map[string]interface{}
	CreatedAt time.Time
}
