package log

import (
	"testing"
	"time"
)

func TestAppendAndReadAll(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	events := []LogEvent{
		{Event: EventSessionStarted, SessionID: "s1", TaskID: "t1"},
		{Event: EventMessagePersisted, SessionID: "s1", Role: "assistant"},
		{Event: EventSessionCompleted, SessionID: "s1", ExitCode: 0},
	}
	for _, ev := range events {
		if err := logger.Append(ev); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := logger.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != len(events) {
		t.Fatalf("got %d events, want %d", len(got), len(events))
	}
	for i, ev := range got {
		if ev.Event != events[i].Event {
			t.Errorf("event %d = %q, want %q", i, ev.Event, events[i].Event)
		}
		if ev.SessionID != "s1" {
			t.Errorf("event %d session = %q, want s1", i, ev.SessionID)
		}
	}
}

func TestAppendSetsTimestamp(t *testing.T) {
	logger, err := NewLogger(t.TempDir())
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	before := time.Now().UTC().Add(-time.Second)
	if err := logger.Append(LogEvent{Event: EventReconcileCompleted, Sessions: 2, Tasks: 1}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := logger.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].Time.Before(before) {
		t.Errorf("timestamp %v not set to current time", got[0].Time)
	}
	if got[0].Sessions != 2 || got[0].Tasks != 1 {
		t.Errorf("counts = %d/%d, want 2/1", got[0].Sessions, got[0].Tasks)
	}
}

func TestReadAllMissingFile(t *testing.T) {
	logger, err := NewLogger(t.TempDir())
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	got, err := logger.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll on missing file: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d events from missing file, want 0", len(got))
	}
}
