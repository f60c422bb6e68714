package jsonl

import (
	"strings"
	"testing"
)

func TestDrainParsesCoreEventTypes(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"user","uuid":"u1","timestamp":"2026-01-01T00:00:00Z","message":{"role":"user","content":"Run ls"}}`,
		`{"type":"assistant","uuid":"a1","timestamp":"2026-01-01T00:00:01Z","message":{"role":"assistant","content":[{"type":"text","text":"Running"},{"type":"tool_use","id":"T1","name":"Bash","input":{"command":"ls"}}]}}`,
		`{"type":"tool_result","uuid":"r1","timestamp":"2026-01-01T00:00:02Z","toolUseId":"T1","content":"a\nb","isError":false}`,
		``,
		`not json`,
		`{"type":"mystery"}`,
	}, "\n")

	events := Drain(strings.NewReader(input))
	if len(events) != 6 {
		t.Fatalf("expected 6 events, got %d", len(events))
	}

	if events[0].Type != EventUser || events[0].Body != "Run ls" {
		t.Fatalf("unexpected user event: %+v", events[0])
	}

	assistant := events[1]
	if assistant.Type != EventAssistant || assistant.Body != "Running" {
		t.Fatalf("unexpected assistant event: %+v", assistant)
	}
	if len(assistant.Content) != 2 || assistant.Content[1].ToolUseID != "T1" || assistant.Content[1].ToolName != "Bash" {
		t.Fatalf("unexpected assistant content blocks: %+v", assistant.Content)
	}

	result := events[2]
	if result.Type != EventToolResult || result.ToolUseID != "T1" || result.ResultText != "a\nb" || result.IsError {
		t.Fatalf("unexpected tool result event: %+v", result)
	}

	if events[3].Type != EventSkipped || events[3].SkipReason != "empty line" {
		t.Fatalf("expected skipped empty line, got %+v", events[3])
	}
	if events[4].Type != EventSkipped {
		t.Fatalf("expected skipped invalid json, got %+v", events[4])
	}
	if events[5].Type != EventSkipped {
		t.Fatalf("expected skipped unknown type, got %+v", events[5])
	}
}

func TestStreamNeverBlocksOnMalformedLines(t *testing.T) {
	input := "{bad json\n{\"type\":\"user\",\"message\":{\"role\":\"user\",\"content\":\"hi\"}}\n"
	count := 0
	for e := range Stream(strings.NewReader(input)) {
		count++
		if count == 1 && e.Type != EventSkipped {
			t.Fatalf("expected first line skipped, got %+v", e)
		}
	}
	if count != 2 {
		t.Fatalf("expected 2 events, got %d", count)
	}
}
