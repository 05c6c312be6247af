// Package bus provides in-process pub/sub fan-out of session events.
// Topics are session IDs; delivery is fire-and-forget with no replay for
// subscribers that attach late.
package bus

import (
	"encoding/json"
	"sync"
)

// Event is one published session event. Fields beyond Type and SessionID are
// populated per event type; Raw carries the originating subprocess line when
// there is one.
type Event struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Role      string          `json:"role,omitempty"`
	Content   string          `json:"content,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	ExitCode  int             `json:"exit_code,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// Published event types. Subprocess stream events (assistant deltas, tool
// results, unknown upstream types) pass through with their own type strings.
const (
	EventSessionStarted    = "session_started"
	EventSessionCompleted  = "session_completed"
	EventSessionFailed     = "session_failed"
	EventSessionTerminated = "session_terminated"
	EventMessage           = "message"
	EventToolUse           = "tool_use"
	EventUnknown           = "unknown_event"
)

const defaultBufferSize = 256

type subscriber struct {
	ch chan Event
}

// Bus fans events out to per-topic subscribers. A subscriber that cannot
// keep up has events dropped rather than blocking the publisher.
type Bus struct {
	mu     sync.Mutex
	buffer int
	subs   map[string][]*subscriber
}

// New creates a Bus with the given per-subscriber buffer capacity.
// bufferSize <= 0 selects the default.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Bus{
		buffer: bufferSize,
		subs:   make(map[string][]*subscriber),
	}
}

// Subscribe attaches to a topic and returns the delivery channel plus a
// cancel function. Events published while attached arrive in publish order;
// nothing published earlier is replayed. Cancel closes the channel and is
// safe to call more than once.
func (b *Bus) Subscribe(topic string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, b.buffer)}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			subs := b.subs[topic]
			for i, candidate := range subs {
				if candidate == sub {
					b.subs[topic] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
			b.mu.Unlock()
			close(sub.ch)
		})
	}

	return sub.ch, cancel
}

// Publish delivers the event to every current subscriber of the topic.
// Subscribers with a full buffer miss the event; publishing never blocks.
// Sends happen under the lock so a concurrent cancel cannot close a channel
// mid-delivery.
func (b *Bus) Publish(topic string, event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs[topic] {
		select {
		case sub.ch <- event:
		default:
			// Slow receiver; drop to keep the worker loop moving.
		}
	}
}
