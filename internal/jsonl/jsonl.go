// Package jsonl streams a session transcript file line by line into a
// typed event sequence, never raising on malformed input.
package jsonl

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
	"time"
)

// EventType tags the kind of line decoded from a transcript.
type EventType string

const (
	EventUser       EventType = "user"
	EventAssistant  EventType = "assistant"
	EventToolUse    EventType = "tool_use"
	EventToolResult EventType = "tool_result"
	EventSummary    EventType = "summary"
	EventSystem     EventType = "system"
	EventSkipped    EventType = "skipped"
)

// ContentBlock is one element of an assistant message's content list.
type ContentBlock struct {
	Type      string // "text" or "tool_use"
	Text      string
	ToolUseID string
	ToolName  string
	Input     map[string]any
}

// Event is one decoded transcript line.
type Event struct {
	Type      EventType
	UUID      string
	Timestamp time.Time
	HasTime   bool

	// user
	Body string

	// assistant
	Content []ContentBlock

	// standalone tool_use
	ToolUseID string
	ToolName  string
	Input     map[string]any

	// tool_result
	ResultText string
	IsError    bool

	// summary
	Summary string

	// skipped
	SkipReason string

	// Raw preserves the fully decoded line for fields not otherwise
	// surfaced (role, extra metadata, etc.).
	Raw map[string]any
}

type rawLine struct {
	Type      string          `json:"type"`
	UUID      string          `json:"uuid"`
	Timestamp string          `json:"timestamp"`
	Message   json.RawMessage `json:"message"`
	Content   json.RawMessage `json:"content"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     map[string]any  `json:"input"`
	ToolUseID string          `json:"toolUseId"`
	IsError   bool            `json:"isError"`
	Summary   string          `json:"summary"`
}

type rawMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type rawBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text"`
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// Stream decodes r line by line and returns a channel of events. The
// channel closes when r is exhausted; the stream is single-pass and not
// restartable. Empty lines and lines that fail to decode yield a
// skipped event instead of terminating the stream.
func Stream(r io.Reader) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			out <- parseLine(scanner.Bytes())
		}
	}()
	return out
}

// Drain consumes Stream(r) into a slice, for callers that need the whole
// event sequence at once (the sync engine's per-session pass).
func Drain(r io.Reader) []Event {
	var events []Event
	for e := range Stream(r) {
		events = append(events, e)
	}
	return events
}

func parseLine(line []byte) Event {
	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" {
		return Event{Type: EventSkipped, SkipReason: "empty line"}
	}

	var raw rawLine
	var generic map[string]any
	if err := json.Unmarshal(line, &raw); err != nil {
		return Event{Type: EventSkipped, SkipReason: "invalid json: " + err.Error()}
	}
	_ = json.Unmarshal(line, &generic)

	ts, hasTime := parseTimestamp(raw.Timestamp)

	switch EventType(raw.Type) {
	case EventUser:
		return Event{
			Type: EventUser, UUID: raw.UUID, Timestamp: ts, HasTime: hasTime,
			Body: extractBody(raw.Message, raw.Content), Raw: generic,
		}
	case EventAssistant:
		blocks, body := extractAssistant(raw.Message)
		return Event{
			Type: EventAssistant, UUID: raw.UUID, Timestamp: ts, HasTime: hasTime,
			Content: blocks, Body: body, Raw: generic,
		}
	case EventToolUse:
		return Event{
			Type: EventToolUse, UUID: raw.UUID, Timestamp: ts, HasTime: hasTime,
			ToolUseID: raw.ID, ToolName: raw.Name, Input: raw.Input, Raw: generic,
		}
	case EventToolResult:
		return Event{
			Type: EventToolResult, UUID: raw.UUID, Timestamp: ts, HasTime: hasTime,
			ToolUseID: raw.ToolUseID, ResultText: extractResultText(raw.Content), IsError: raw.IsError, Raw: generic,
		}
	case EventSummary:
		return Event{Type: EventSummary, UUID: raw.UUID, Timestamp: ts, HasTime: hasTime, Summary: raw.Summary, Raw: generic}
	case EventSystem:
		return Event{Type: EventSystem, UUID: raw.UUID, Timestamp: ts, HasTime: hasTime, Body: extractBody(raw.Message, raw.Content), Raw: generic}
	default:
		return Event{Type: EventSkipped, SkipReason: "unknown event type " + raw.Type, Raw: generic}
	}
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// extractBody reads a plain string body from either a nested message
// object's content field or a top-level content field.
func extractBody(message, content json.RawMessage) string {
	if len(message) > 0 {
		var m rawMessage
		if err := json.Unmarshal(message, &m); err == nil {
			if s := stringOrBlocks(m.Content); s != "" {
				return s
			}
		}
	}
	return stringOrBlocks(content)
}

func stringOrBlocks(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []rawBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

func extractAssistant(message json.RawMessage) ([]ContentBlock, string) {
	if len(message) == 0 {
		return nil, ""
	}
	var m rawMessage
	if err := json.Unmarshal(message, &m); err != nil {
		return nil, ""
	}
	var blocks []rawBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nil, stringOrBlocks(m.Content)
	}

	var out []ContentBlock
	var textParts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text != "" {
				textParts = append(textParts, b.Text)
			}
			out = append(out, ContentBlock{Type: "text", Text: b.Text})
		case "tool_use":
			out = append(out, ContentBlock{Type: "tool_use", ToolUseID: b.ID, ToolName: b.Name, Input: b.Input})
		}
	}
	return out, strings.Join(textParts, "\n")
}

func extractResultText(content json.RawMessage) string {
	return stringOrBlocks(content)
}
