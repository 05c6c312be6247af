package engine

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/slipway-dev/slipway/internal/bus"
	"github.com/slipway-dev/slipway/internal/config"
	"github.com/slipway-dev/slipway/internal/log"
	"github.com/slipway-dev/slipway/internal/store"
	"github.com/slipway-dev/slipway/internal/testutil"
)

// fakeStore is an in-memory Store whose append operation can be made to
// fail, which a live worker must treat as fatal.
type fakeStore struct {
	mu        sync.Mutex
	session   store.Session
	task      store.Task
	project   store.Project
	appendErr error
	messages  []string
}

func newFakeStore(projectPath string) *fakeStore {
	now := time.Now().UTC()
	return &fakeStore{
		session: store.Session{ID: "sess-1", TaskID: "task-1", Status: store.StatusIdle, CreatedAt: now},
		task:    store.Task{ID: "task-1", ProjectID: "proj-1", Title: "t", Status: "pending", CreatedAt: now},
		project: store.Project{ID: "proj-1", Name: "p", Path: projectPath, CreatedAt: now},
	}
}

func (f *fakeStore) GetSession(id string) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != f.session.ID {
		return nil, nil
	}
	s := f.session
	return &s, nil
}

func (f *fakeStore) GetTask(id string) (*store.Task, error) {
	t := f.task
	return &t, nil
}

func (f *fakeStore) GetProject(id string) (*store.Project, error) {
	p := f.project
	return &p, nil
}

func (f *fakeStore) MarkStarted(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session.Status = store.StatusRunning
	return nil
}

func (f *fakeStore) MarkCompleted(sessionID string, exitCode int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if exitCode == 0 {
		f.session.Status = store.StatusCompleted
	} else {
		f.session.Status = store.StatusFailed
	}
	now := time.Now().UTC()
	f.session.FinishedAt = &now
	f.session.ExitCode = &exitCode
	return nil
}

func (f *fakeStore) SetTaskStatus(taskID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.task.Status = status
	return nil
}

func (f *fakeStore) AppendMessage(sessionID, role, content string, metadata map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.messages = append(f.messages, content)
	return nil
}

func (f *fakeStore) RecoverStale(now time.Time) (int, int, error) {
	return 0, 0, nil
}

func (f *fakeStore) snapshot() store.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

func TestPersistenceFailureIsFatal(t *testing.T) {
	fs := newFakeStore(t.TempDir())
	fs.appendErr = errors.New("disk full")

	dir := t.TempDir()
	logger, err := log.NewLogger(dir)
	if err != nil {
		t.Fatalf("creating logger: %v", err)
	}
	b := bus.New(0)
	ch, cancel := b.Subscribe("sess-1")
	defer cancel()

	// Emits a persistable message, then lingers so only the fatal
	// persistence error can end the worker.
	script := testutil.Script(t, `
echo '{"type":"assistant","message":{"content":"doomed"}}'
exec sleep 10`)

	reg := NewRegistry()
	w := newWorker("sess-1", config.DefaultConfig().Engine, scriptOpts(script), fs, b, logger, reg)
	if _, ok := reg.Register(w); !ok {
		t.Fatal("register failed")
	}
	go w.run()
	waitDone(t, w)

	sess := fs.snapshot()
	if sess.Status != store.StatusFailed {
		t.Errorf("session status = %q, want %q", sess.Status, store.StatusFailed)
	}
	if sess.ExitCode == nil || *sess.ExitCode != -1 {
		t.Errorf("exit code = %v, want -1 from teardown self-healing", sess.ExitCode)
	}
	if sess.FinishedAt == nil {
		t.Error("finished_at should be set")
	}

	failed := waitEvent(t, ch, bus.EventSessionFailed)
	if failed.Reason != "error" {
		t.Errorf("failed reason = %q, want %q", failed.Reason, "error")
	}
	term := waitEvent(t, ch, bus.EventSessionTerminated)
	if term.Reason != "error" {
		t.Errorf("terminated reason = %q, want %q", term.Reason, "error")
	}
	if reg.Lookup("sess-1") != nil {
		t.Error("worker should be unregistered after teardown")
	}
}

func TestToolUsePersistedWithMetadata(t *testing.T) {
	fs := newFakeStore(t.TempDir())

	logger, err := log.NewLogger(t.TempDir())
	if err != nil {
		t.Fatalf("creating logger: %v", err)
	}
	b := bus.New(0)
	ch, cancel := b.Subscribe("sess-1")
	defer cancel()

	script := testutil.Script(t,
		`echo '{"type":"tool_use","name":"Bash","input":{"command":"ls"}}'`)

	reg := NewRegistry()
	w := newWorker("sess-1", config.DefaultConfig().Engine, scriptOpts(script), fs, b, logger, reg)
	reg.Register(w)
	go w.run()
	waitDone(t, w)

	fs.mu.Lock()
	msgs := append([]string(nil), fs.messages...)
	fs.mu.Unlock()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0] != "Tool: Bash" {
		t.Errorf("tool message content = %q, want %q", msgs[0], "Tool: Bash")
	}

	ev := waitEvent(t, ch, bus.EventToolUse)
	if ev.Content != "Bash" {
		t.Errorf("tool_use event content = %q, want %q", ev.Content, "Bash")
	}
	if len(ev.Raw) == 0 {
		t.Error("tool_use event should carry the raw line")
	}
}

func TestEphemeralEventsPublishedNotPersisted(t *testing.T) {
	fs := newFakeStore(t.TempDir())

	logger, err := log.NewLogger(t.TempDir())
	if err != nil {
		t.Fatalf("creating logger: %v", err)
	}
	b := bus.New(0)
	ch, cancel := b.Subscribe("sess-1")
	defer cancel()

	script := testutil.Script(t, `
echo '{"type":"content_block_delta","delta":{"text":"chunk"}}'
echo '{"type":"message_stop"}'`)

	reg := NewRegistry()
	w := newWorker("sess-1", config.DefaultConfig().Engine, scriptOpts(script), fs, b, logger, reg)
	reg.Register(w)
	go w.run()
	waitDone(t, w)

	fs.mu.Lock()
	count := len(fs.messages)
	fs.mu.Unlock()
	if count != 0 {
		t.Errorf("ephemeral events persisted %d messages, want 0", count)
	}

	waitEvent(t, ch, "content_block_delta")
	waitEvent(t, ch, "message_stop")
}

func TestUnknownAndTypelessEvents(t *testing.T) {
	fs := newFakeStore(t.TempDir())

	logger, err := log.NewLogger(t.TempDir())
	if err != nil {
		t.Fatalf("creating logger: %v", err)
	}
	b := bus.New(0)
	ch, cancel := b.Subscribe("sess-1")
	defer cancel()

	// An upstream type this code has never seen, and an object with no type
	// field at all.
	script := testutil.Script(t, `
echo '{"type":"future_thing","payload":7}'
echo '{"no_type":true}'`)

	reg := NewRegistry()
	w := newWorker("sess-1", config.DefaultConfig().Engine, scriptOpts(script), fs, b, logger, reg)
	reg.Register(w)
	go w.run()
	waitDone(t, w)

	fs.mu.Lock()
	persisted := len(fs.messages)
	fs.mu.Unlock()
	if persisted != 0 {
		t.Errorf("persisted %d messages, want 0", persisted)
	}

	var unknown []bus.Event
	var stray []bus.Event
	deadline := time.After(10 * time.Second)
collect:
	for {
		select {
		case ev := <-ch:
			switch ev.Type {
			case bus.EventUnknown:
				unknown = append(unknown, ev)
			case bus.EventSessionStarted, bus.EventSessionCompleted:
			case bus.EventSessionTerminated:
				break collect
			default:
				stray = append(stray, ev)
			}
		case <-deadline:
			t.Fatal("timed out waiting for session_terminated")
		}
	}

	if len(unknown) != 1 {
		t.Fatalf("got %d unknown_event publications, want 1", len(unknown))
	}
	if string(unknown[0].Raw) != `{"type":"future_thing","payload":7}` {
		t.Errorf("unknown_event raw = %s, want the original line", unknown[0].Raw)
	}
	// The typeless object must produce nothing at all.
	if len(stray) != 0 {
		types := make([]string, len(stray))
		for i, ev := range stray {
			types[i] = ev.Type
		}
		t.Errorf("unexpected publications: %v", types)
	}
}

func TestLogFailureDoesNotFailSession(t *testing.T) {
	fs := newFakeStore(t.TempDir())

	dir := t.TempDir()
	logger, err := log.NewLogger(dir)
	if err != nil {
		t.Fatalf("creating logger: %v", err)
	}
	// Occupy the log path with a directory so every append fails.
	if err := os.Mkdir(filepath.Join(dir, ".slipway", "log.jsonl"), 0755); err != nil {
		t.Fatalf("blocking log path: %v", err)
	}

	b := bus.New(0)
	script := testutil.Script(t,
		`echo '{"type":"assistant","message":{"content":"still fine"}}'`)

	reg := NewRegistry()
	w := newWorker("sess-1", config.DefaultConfig().Engine, scriptOpts(script), fs, b, logger, reg)
	reg.Register(w)
	go w.run()
	waitDone(t, w)

	sess := fs.snapshot()
	if sess.Status != store.StatusCompleted {
		t.Errorf("session status = %q, want %q", sess.Status, store.StatusCompleted)
	}
	if sess.ExitCode == nil || *sess.ExitCode != 0 {
		t.Errorf("exit code = %v, want 0", sess.ExitCode)
	}

	fs.mu.Lock()
	msgs := append([]string(nil), fs.messages...)
	fs.mu.Unlock()
	if len(msgs) != 1 || msgs[0] != "still fine" {
		t.Errorf("persisted messages = %v, want [still fine]", msgs)
	}
}
