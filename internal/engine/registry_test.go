package engine

import (
	"sync"
	"testing"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	w := &Worker{sessionID: "s1"}

	got, ok := reg.Register(w)
	if !ok {
		t.Fatal("first register should succeed")
	}
	if got != w {
		t.Error("register should return the inserted worker")
	}

	if found := reg.Lookup("s1"); found != w {
		t.Error("lookup should return the registered worker")
	}
	if found := reg.Lookup("missing"); found != nil {
		t.Error("lookup of unknown session should return nil")
	}
}

func TestRegistryDuplicateReturnsExisting(t *testing.T) {
	reg := NewRegistry()
	first := &Worker{sessionID: "s1"}
	second := &Worker{sessionID: "s1"}

	reg.Register(first)
	got, ok := reg.Register(second)
	if ok {
		t.Fatal("duplicate register should not succeed")
	}
	if got != first {
		t.Error("duplicate register should return the existing worker")
	}
	if reg.Count() != 1 {
		t.Errorf("Count() = %d, want 1", reg.Count())
	}
}

func TestRegistryUnregister(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Worker{sessionID: "s1"})

	reg.Unregister("s1")
	if reg.Lookup("s1") != nil {
		t.Error("worker should be gone after unregister")
	}

	// Unregistering an absent session is a no-op.
	reg.Unregister("s1")
	reg.Unregister("never-existed")
}

func TestRegistryConcurrentRegister(t *testing.T) {
	reg := NewRegistry()

	const attempts = 50
	var wg sync.WaitGroup
	wins := make(chan *Worker, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := &Worker{sessionID: "contested"}
			if _, ok := reg.Register(w); ok {
				wins <- w
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []*Worker
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("got %d winning registrations, want exactly 1", len(winners))
	}
	if reg.Lookup("contested") != winners[0] {
		t.Error("registry should hold the winning worker")
	}
}

func TestRegistryList(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Worker{sessionID: "a"})
	reg.Register(&Worker{sessionID: "b"})

	ids := reg.List()
	if len(ids) != 2 {
		t.Fatalf("List() returned %d ids, want 2", len(ids))
	}
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("List() = %v, want both a and b", ids)
	}
}
