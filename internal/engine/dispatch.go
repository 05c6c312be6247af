package engine

import (
	"encoding/json"
	"fmt"

	"github.com/slipway-dev/slipway/internal/bus"
	"github.com/slipway-dev/slipway/internal/log"
	"github.com/slipway-dev/slipway/internal/stream"
)

// dispatch applies one parsed stream event: persist what is durable, publish
// what subscribers care about. A persistence failure is returned to the
// caller, which treats it as fatal for the session; dropping messages
// silently would leave the transcript lying about what happened.
func (w *Worker) dispatch(ev stream.Event) error {
	switch ev.Type {
	case "":
		// Undecodable or typeless lines were already screened out by the
		// parser; anything left without a type carries nothing actionable.
		return nil

	case stream.TypeSystem:
		if id := stream.SessionID(ev.Raw); id != "" {
			w.setResumeID(id)
		}
		w.publish(bus.Event{Type: ev.Type, SessionID: w.sessionID, Raw: ev.Raw})
		return nil

	case stream.TypeAssistant, stream.TypeUser:
		text := stream.ExtractText(ev.Raw)
		if text != "" {
			if err := w.st.AppendMessage(w.sessionID, ev.Type, text, nil); err != nil {
				return fmt.Errorf("persisting %s message: %w", ev.Type, err)
			}
			w.logEvent(log.LogEvent{
				Event:     log.EventMessagePersisted,
				SessionID: w.sessionID,
				Role:      ev.Type,
			})
		}
		w.publish(bus.Event{
			Type:      bus.EventMessage,
			SessionID: w.sessionID,
			Role:      ev.Type,
			Content:   text,
			Raw:       ev.Raw,
		})
		return nil

	case stream.TypeToolUse:
		name := stream.ToolName(ev.Raw)
		var meta map[string]interface{}
		if err := json.Unmarshal(ev.Raw, &meta); err != nil {
			meta = nil
		}
		if err := w.st.AppendMessage(w.sessionID, "tool", "Tool: "+name, meta); err != nil {
			return fmt.Errorf("persisting tool use: %w", err)
		}
		w.logEvent(log.LogEvent{
			Event:     log.EventMessagePersisted,
			SessionID: w.sessionID,
			Role:      "tool",
		})
		w.publish(bus.Event{
			Type:      bus.EventToolUse,
			SessionID: w.sessionID,
			Content:   name,
			Raw:       ev.Raw,
		})
		return nil

	case stream.TypeToolResult,
		stream.TypeContentBlockStart,
		stream.TypeContentBlockDelta,
		stream.TypeContentBlockStop,
		stream.TypeMessageStart,
		stream.TypeMessageStop:
		// Ephemeral protocol traffic: forwarded live, never persisted.
		w.publish(bus.Event{Type: ev.Type, SessionID: w.sessionID, Raw: ev.Raw})
		return nil

	default:
		w.publish(bus.Event{Type: bus.EventUnknown, SessionID: w.sessionID, Raw: ev.Raw})
		return nil
	}
}

func (w *Worker) publish(ev bus.Event) {
	w.bus.Publish(w.sessionID, ev)
}
