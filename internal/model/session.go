package model

import (
	"time"
)

// Session identifies a single conversation transcript.
type Session struct {
	id           string
	projectPath  ProjectPath
	startedAt    time.Time
	endedAt      *time.Time
	messageCount int
	summary      *string
}

// NewSession constructs a Session in its initial, just-discovered form.
// Rejects an empty id, which would collide with every other session.
func NewSession(id string, projectPath ProjectPath, startedAt time.Time) (Session, error) {
	if id == "" {
		return Session{}, errInvariant("session: empty id")
	}
	return Session{
		id:          id,
		projectPath: projectPath,
		startedAt:   startedAt,
	}, nil
}

func (s Session) ID() string             { return s.id }
func (s Session) ProjectPath() ProjectPath { return s.projectPath }
func (s Session) ProjectName() string    { return s.projectPath.Name() }
func (s Session) StartedAt() time.Time   { return s.startedAt }
func (s Session) MessageCount() int      { return s.messageCount }

// EndedAt returns a defensive copy of the end instant, or nil if the
// session has no recorded end.
func (s Session) EndedAt() *time.Time {
	if s.endedAt == nil {
		return nil
	}
	t := *s.endedAt
	return &t
}

// Summary returns the session summary, or nil if none has been set.
func (s Session) Summary() *string {
	if s.summary == nil {
		return nil
	}
	v := *s.summary
	return &v
}

// WithEndedAt returns a copy of s with the end instant set, widened to
// cover t if t is later than any already-recorded end.
func (s Session) WithEndedAt(t time.Time) Session {
	if s.endedAt == nil || t.After(*s.endedAt) {
		s.endedAt = &t
	}
	return s
}

// WithMessageCount returns a copy of s with its cached message count set.
func (s Session) WithMessageCount(n int) Session {
	s.messageCount = n
	return s
}

// WithSummary returns a copy of s with the summary set. The summary is
// written once by an external extractor; the engine does not decide when.
func (s Session) WithSummary(summary string) Session {
	s.summary = &summary
	return s
}
