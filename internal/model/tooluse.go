package model

import "time"

// ToolUseStatus tracks the lifecycle of an assistant-invoked tool.
type ToolUseStatus string

const (
	ToolUsePending ToolUseStatus = "pending"
	ToolUseSuccess ToolUseStatus = "success"
	ToolUseError   ToolUseStatus = "error"
)

// ToolUse is an assistant-invoked tool with structured input and an
// eventual result. It is created pending and completed once a matching
// result event arrives.
type ToolUse struct {
	id         string
	sessionID  string
	toolName   string
	input      map[string]any
	occurredAt time.Time
	status     ToolUseStatus
	result     *string
}

// NewToolUse constructs a pending ToolUse from an assistant content block.
func NewToolUse(id, sessionID, toolName string, input map[string]any, occurredAt time.Time) (ToolUse, error) {
	if id == "" {
		return ToolUse{}, errInvariant("tool_use: empty id")
	}
	if sessionID == "" {
		return ToolUse{}, errInvariant("tool_use: empty session id")
	}
	return ToolUse{
		id:         id,
		sessionID:  sessionID,
		toolName:   toolName,
		input:      cloneInput(input),
		occurredAt: occurredAt,
		status:     ToolUsePending,
	}, nil
}

func (t ToolUse) ID() string            { return t.id }
func (t ToolUse) SessionID() string     { return t.sessionID }
func (t ToolUse) ToolName() string      { return t.toolName }
func (t ToolUse) OccurredAt() time.Time { return t.occurredAt }
func (t ToolUse) Status() ToolUseStatus { return t.status }

// Input returns a defensive copy of the structured tool input.
func (t ToolUse) Input() map[string]any {
	return cloneInput(t.input)
}

// Result returns the tool's result text, or nil if it is still pending.
func (t ToolUse) Result() *string {
	if t.result == nil {
		return nil
	}
	v := *t.result
	return &v
}

// WithResult completes a pending ToolUse with a terminal status and result
// body. isError selects between success and error.
func (t ToolUse) WithResult(result string, isError bool) ToolUse {
	t.result = &result
	if isError {
		t.status = ToolUseError
	} else {
		t.status = ToolUseSuccess
	}
	return t
}

func cloneInput(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
