package sync

import (
	"strconv"
	"time"

	"github.com/kepler-labs/transcriptvault/internal/jsonl"
	"github.com/kepler-labs/transcriptvault/internal/model"
)

// derivedEvents is the result of walking one session's event sequence: the
// ordered messages and tool uses it yields, plus the instants its events
// span.
type derivedEvents struct {
	messages []model.Message
	toolUses []model.ToolUse

	first   time.Time
	last    time.Time
	hasSpan bool
}

func (d derivedEvents) firstTimestamp() time.Time { return d.first }
func (d derivedEvents) lastTimestamp() time.Time  { return d.last }

// deriveFromEvents walks events once, turning user and assistant turns
// into Messages and tool_use/tool_result pairs into completed ToolUses.
// Malformed or out-of-order tool results (referencing an id never seen as
// a pending use) are dropped rather than raised, matching the parser's
// own tolerance for malformed input.
func deriveFromEvents(sessionID string, events []jsonl.Event) (derivedEvents, error) {
	var d derivedEvents
	pending := make(map[string]int) // tool use id -> index into d.toolUses
	seq := 0

	nextID := func(prefix string) string {
		seq++
		return prefix + "-" + sessionID + "-" + strconv.Itoa(seq)
	}

	observe := func(e jsonl.Event) {
		if !e.HasTime {
			return
		}
		if !d.hasSpan {
			d.first, d.last, d.hasSpan = e.Timestamp, e.Timestamp, true
			return
		}
		if e.Timestamp.Before(d.first) {
			d.first = e.Timestamp
		}
		if e.Timestamp.After(d.last) {
			d.last = e.Timestamp
		}
	}

	for _, e := range events {
		observe(e)

		switch e.Type {
		case jsonl.EventUser:
			m, err := model.NewMessage(eventID(e, nextID("msg")), sessionID, model.RoleUser, e.Body, e.Timestamp, nil)
			if err != nil {
				continue
			}
			d.messages = append(d.messages, m)

		case jsonl.EventAssistant:
			var toolIDs []string
			for _, block := range e.Content {
				if block.Type != "tool_use" {
					continue
				}
				id := block.ToolUseID
				if id == "" {
					id = nextID("tool")
				}
				t, err := model.NewToolUse(id, sessionID, block.ToolName, block.Input, e.Timestamp)
				if err != nil {
					continue
				}
				d.toolUses = append(d.toolUses, t)
				pending[id] = len(d.toolUses) - 1
				toolIDs = append(toolIDs, id)
			}
			m, err := model.NewMessage(eventID(e, nextID("msg")), sessionID, model.RoleAssistant, e.Body, e.Timestamp, toolIDs)
			if err != nil {
				continue
			}
			d.messages = append(d.messages, m)

		case jsonl.EventToolUse:
			id := e.ToolUseID
			if id == "" {
				id = nextID("tool")
			}
			t, err := model.NewToolUse(id, sessionID, e.ToolName, e.Input, e.Timestamp)
			if err != nil {
				continue
			}
			d.toolUses = append(d.toolUses, t)
			pending[id] = len(d.toolUses) - 1

		case jsonl.EventToolResult:
			idx, ok := pending[e.ToolUseID]
			if !ok {
				continue
			}
			d.toolUses[idx] = d.toolUses[idx].WithResult(e.ResultText, e.IsError)

		case jsonl.EventSummary, jsonl.EventSystem, jsonl.EventSkipped:
			// ignored in this core
		}
	}

	return d, nil
}

// eventID prefers the transcript's own uuid so re-extraction of an
// unchanged file reproduces identical ids; it falls back to a
// session-scoped synthetic id when the line carries none.
func eventID(e jsonl.Event, fallback string) string {
	if e.UUID != "" {
		return e.UUID
	}
	return fallback
}
