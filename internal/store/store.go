package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store provides SQLite-backed persistence for projects, tasks, sessions,
// and session messages.
type Store struct {
	db *sql.DB
}

// NewStore opens the SQLite database at dbPath and creates tables if they
// don't exist.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		path TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (project_id) REFERENCES projects(id)
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at DATETIME,
		finished_at DATETIME,
		exit_code INTEGER,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (task_id) REFERENCES tasks(id)
	);

	CREATE TABLE IF NOT EXISTS session_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateProject creates a project rooted at path.
func (s *Store) CreateProject(name, path string) (*Project, error) {
	id := uuid.New().String()
	now := time.Now()

	_, err := s.db.Exec(
		`INSERT INTO projects (id, name, path, created_at) VALUES (?, ?, ?, ?)`,
		id, name, path, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}

	return &Project{ID: id, Name: name, Path: path, CreatedAt: now}, nil
}

// GetProject retrieves a project by ID. Returns nil, nil when not found.
func (s *Store) GetProject(id string) (*Project, error) {
	row := s.db.QueryRow(
		`SELECT id, name, path, created_at FROM projects WHERE id = ?`, id,
	)

	var p Project
	err := row.Scan(&p.ID, &p.Name, &p.Path, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}

	return &p, nil
}

// FindProjectByPath retrieves the most recently created project rooted at
// path. Returns nil, nil when none exists.
func (s *Store) FindProjectByPath(path string) (*Project, error) {
	row := s.db.QueryRow(
		`SELECT id, name, path, created_at FROM projects
		 WHERE path = ? ORDER BY created_at DESC LIMIT 1`, path,
	)

	var p Project
	err := row.Scan(&p.ID, &p.Name, &p.Path, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}

	return &p, nil
}

// CreateTask creates a pending task under a project.
func (s *Store) CreateTask(projectID, title, description string) (*Task, error) {
	id := uuid.New().String()
	now := time.Now()

	_, err := s.db.Exec(
		`INSERT INTO tasks (id, project_id, title, description, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'pending', ?, ?)`,
		id, projectID, title, description, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	return &Task{
		ID:          id,
		ProjectID:   projectID,
		Title:       title,
		Description: description,
		Status:      "pending",
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// GetTask retrieves a task by ID. Returns nil, nil when not found.
func (s *Store) GetTask(id string) (*Task, error) {
	row := s.db.QueryRow(
		`SELECT id, project_id, title, description, status, created_at, updated_at
		 FROM tasks WHERE id = ?`, id,
	)

	var t Task
	err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	return &t, nil
}

// SetTaskStatus updates a task's status.
func (s *Store) SetTaskStatus(taskID, status string) error {
	_, err := s.db.Exec(
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now(), taskID,
	)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

// CreateSession creates an idle session for the given task.
func (s *Store) CreateSession(taskID string) (*Session, error) {
	id := uuid.New().String()
	now := time.Now()

	_, err := s.db.Exec(
		`INSERT INTO sessions (id, task_id, status, created_at) VALUES (?, ?, ?, ?)`,
		id, taskID, StatusIdle, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	return &Session{ID: id, TaskID: taskID, Status: StatusIdle, CreatedAt: now}, nil
}

// GetSession retrieves a session by ID. Returns nil, nil when not found.
func (s *Store) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(
		`SELECT id, task_id, status, started_at, finished_at, exit_code, created_at
		 FROM sessions WHERE id = ?`, id,
	)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*Session, error) {
	var sess Session
	var startedAt, finishedAt sql.NullTime
	var exitCode sql.NullInt64

	err := row.Scan(&sess.ID, &sess.TaskID, &sess.Status, &startedAt, &finishedAt, &exitCode, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	if startedAt.Valid {
		sess.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		sess.FinishedAt = &finishedAt.Time
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		sess.ExitCode = &code
	}

	return &sess, nil
}

// MarkStarted transitions a session to running and stamps started_at.
func (s *Store) MarkStarted(sessionID string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET status = ?, started_at = ? WHERE id = ?`,
		StatusRunning, time.Now(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("mark session started: %w", err)
	}
	return nil
}

// MarkCompleted transitions a session to a terminal state: completed when
// exitCode is zero, failed otherwise. Stamps finished_at and exit_code.
func (s *Store) MarkCompleted(sessionID string, exitCode int) error {
	status := StatusCompleted
	if exitCode != 0 {
		status = StatusFailed
	}

	_, err := s.db.Exec(
		`UPDATE sessions SET status = ?, finished_at = ?, exit_code = ? WHERE id = ?`,
		status, time.Now(), exitCode, sessionID,
	)
	if err != nil {
		return fmt.Errorf("mark session completed: %w", err)
	}
	return nil
}

// AppendMessage adds a transcript message to the session. metadata may be
// nil; it is stored as a JSON object.
func (s *Store) AppendMessage(sessionID, role, content string, metadata map[string]interface{}) error {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal message metadata: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO session_messages (session_id, role, content, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sessionID, role, content, string(data), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	return nil
}

// Messages retrieves all messages for a session in insertion order.
func (s *Store) Messages(sessionID string) ([]Message, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, role, content, metadata, created_at
		 FROM session_messages
		 WHERE session_id = ?
		 ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []Message
	for rows.Next() {
		var msg Message
		var metadata string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &metadata, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := json.Unmarshal([]byte(metadata), &msg.Metadata); err != nil {
			return nil, fmt.Errorf("parse message metadata: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return messages, nil
}

// ListSessions returns the most recent sessions, newest first.
func (s *Store) ListSessions(limit int) ([]Session, error) {
	rows, err := s.db.Query(
		`SELECT id, task_id, status, started_at, finished_at, exit_code, created_at
		 FROM sessions
		 ORDER BY created_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var startedAt, finishedAt sql.NullTime
		var exitCode sql.NullInt64
		if err := rows.Scan(&sess.ID, &sess.TaskID, &sess.Status, &startedAt, &finishedAt, &exitCode, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if startedAt.Valid {
			sess.StartedAt = &startedAt.Time
		}
		if finishedAt.Valid {
			sess.FinishedAt = &finishedAt.Time
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			sess.ExitCode = &code
		}
		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return sessions, nil
}

// RecoverStale rewrites sessions and tasks left in "running" by a previous
// process instance. No worker can exist before the engine starts, so any
// running record at boot is stale by construction. Returns the number of
// sessions and tasks corrected.
func (s *Store) RecoverStale(now time.Time) (sessions int, tasks int, err error) {
	res, err := s.db.Exec(
		`UPDATE sessions SET status = ?, exit_code = -1, finished_at = ? WHERE status = ?`,
		StatusFailed, now, StatusRunning,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("recover stale sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	sessions = int(n)

	res, err = s.db.Exec(
		`UPDATE tasks SET status = ?, updated_at = ? WHERE status = ?`,
		StatusFailed, now, StatusRunning,
	)
	if err != nil {
		return sessions, 0, fmt.Errorf("recover stale tasks: %w", err)
	}
	n, _ = res.RowsAffected()
	tasks = int(n)

	return sessions, tasks, nil
}
