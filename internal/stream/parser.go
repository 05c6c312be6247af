// Package stream decodes the NDJSON event stream produced by the Claude CLI
// with --output-format stream-json. Each line is one JSON object discriminated
// by a "type" field; anything else on the stream is diagnostic noise.
package stream

import (
	"encoding/json"
	"strings"
)

// Event is one decoded object from the stream. Raw always holds the full
// original JSON for republishing; Type is empty when the object carries no
// "type" field.
type Event struct {
	Type string
	Raw  json.RawMessage
}

// Known event types emitted by the CLI. Unlisted types are forwarded as-is;
// new upstream types must never be treated as errors.
const (
	TypeSystem            = "system"
	TypeAssistant         = "assistant"
	TypeUser              = "user"
	TypeToolUse           = "tool_use"
	TypeToolResult        = "tool_result"
	TypeContentBlockStart = "content_block_start"
	TypeContentBlockDelta = "content_block_delta"
	TypeContentBlockStop  = "content_block_stop"
	TypeMessageStart      = "message_start"
	TypeMessageStop       = "message_stop"
)

// ProcessChunk splits carry+chunk on newlines and decodes every complete
// line. The final segment (empty when the input ends on a newline) becomes
// the returned carry unconditionally, so a logical input split across any
// number of calls decodes to the same event sequence as a single call.
// Blank and undecodable lines are skipped without error.
func ProcessChunk(carry string, chunk []byte) (string, []Event) {
	buf := carry + string(chunk)
	segments := strings.Split(buf, "\n")
	newCarry := segments[len(segments)-1]

	var events []Event
	for _, line := range segments[:len(segments)-1] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(line), &probe); err != nil {
			// Non-protocol output (warnings, stray prints); drop the line.
			continue
		}

		events = append(events, Event{
			Type: probe.Type,
			Raw:  json.RawMessage(line),
		})
	}

	return newCarry, events
}

// contentBlock is the subset of a content block needed for text extraction.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// envelope covers the shapes content arrives in: a top-level content field
// (string or block array) or the same nested one level under "message".
type envelope struct {
	Content json.RawMessage `json:"content"`
	Message json.RawMessage `json:"message"`
}

// ExtractText pulls the human-readable text out of an assistant or user
// event. A plain string content is returned verbatim; a block array yields
// the text blocks joined by newlines (tool_use and unknown block kinds
// contribute nothing). Content nested under a "message" wrapper is unwrapped
// once. Returns "" when nothing is extractable.
func ExtractText(raw json.RawMessage) string {
	return extractText(raw, true)
}

func extractText(raw json.RawMessage, recurse bool) string {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ""
	}

	if len(env.Content) > 0 {
		if text, ok := decodeContent(env.Content); ok {
			return text
		}
	}

	if recurse && len(env.Message) > 0 {
		return extractText(env.Message, false)
	}

	return ""
}

// decodeContent interprets a content field as either a plain string or a
// sequence of content blocks.
func decodeContent(content json.RawMessage) (string, bool) {
	var plain string
	if err := json.Unmarshal(content, &plain); err == nil {
		return plain, true
	}

	var blocks []contentBlock
	if err := json.Unmarshal(content, &blocks); err != nil {
		return "", false
	}

	var parts []string
	for _, b := range blocks {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n"), true
}

// SessionID returns the remote session identifier carried by an event, or ""
// when absent. The CLI stamps session_id on its system init event; the value
// is what --resume expects on a later invocation.
func SessionID(raw json.RawMessage) string {
	var probe struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.SessionID
}

// ToolName returns the tool named by a tool_use event: the top-level name
// field when present, otherwise the first tool_use content block's name.
func ToolName(raw json.RawMessage) string {
	var probe struct {
		Name    string `json:"name"`
		Content []struct {
			Type string `json:"type"`
			Name string `json:"name"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	if probe.Name != "" {
		return probe.Name
	}
	for _, b := range probe.Content {
		if b.Type == "tool_use" && b.Name != "" {
			return b.Name
		}
	}
	return ""
}
