package model

import "time"

// ExtractionStatus tracks the lifecycle of a session's extraction.
type ExtractionStatus string

const (
	ExtractionPending    ExtractionStatus = "pending"
	ExtractionInProgress ExtractionStatus = "in_progress"
	ExtractionComplete   ExtractionStatus = "complete"
	ExtractionError      ExtractionStatus = "error"
)

// ExtractionState is the per-file record of whether and how completely a
// session has been ingested. The (mtime, size) pair is the change-detection
// key for incremental sync.
type ExtractionState struct {
	id                string
	sessionPath       string
	status            ExtractionStatus
	startedAt         time.Time
	completedAt       *time.Time
	messagesExtracted int
	errorMessage      *string
	lastMTime         *time.Time
	lastSize          *int64
}

// NewExtractionState constructs a pending ExtractionState carrying the
// file metadata observed at discovery time.
func NewExtractionState(id, sessionPath string, startedAt time.Time, mtime time.Time, size int64) (ExtractionState, error) {
	if id == "" {
		return ExtractionState{}, errInvariant("extraction_state: empty id")
	}
	if sessionPath == "" {
		return ExtractionState{}, errInvariant("extraction_state: empty session path")
	}
	return ExtractionState{
		id:          id,
		sessionPath: sessionPath,
		status:      ExtractionPending,
		startedAt:   startedAt,
		lastMTime:   &mtime,
		lastSize:    &size,
	}, nil
}

func (s ExtractionState) ID() string                 { return s.id }
func (s ExtractionState) SessionPath() string         { return s.sessionPath }
func (s ExtractionState) Status() ExtractionStatus    { return s.status }
func (s ExtractionState) StartedAt() time.Time        { return s.startedAt }
func (s ExtractionState) MessagesExtracted() int      { return s.messagesExtracted }

func (s ExtractionState) CompletedAt() *time.Time {
	if s.completedAt == nil {
		return nil
	}
	t := *s.completedAt
	return &t
}

func (s ExtractionState) ErrorMessage() *string {
	if s.errorMessage == nil {
		return nil
	}
	v := *s.errorMessage
	return &v
}

func (s ExtractionState) LastMTime() *time.Time {
	if s.lastMTime == nil {
		return nil
	}
	t := *s.lastMTime
	return &t
}

func (s ExtractionState) LastSize() *int64 {
	if s.lastSize == nil {
		return nil
	}
	v := *s.lastSize
	return &v
}

// WithInProgress transitions a pending state to in_progress.
func (s ExtractionState) WithInProgress() ExtractionState {
	s.status = ExtractionInProgress
	return s
}

// WithIncrementMessages adds n to the running messages-extracted count.
func (s ExtractionState) WithIncrementMessages(n int) ExtractionState {
	s.messagesExtracted += n
	return s
}

// WithComplete transitions an in-progress state to complete, rejecting a
// completedAt earlier than startedAt.
func (s ExtractionState) WithComplete(completedAt time.Time) (ExtractionState, error) {
	if completedAt.Before(s.startedAt) {
		return ExtractionState{}, errInvariant("extraction_state: completedAt before startedAt")
	}
	s.status = ExtractionComplete
	s.completedAt = &completedAt
	return s, nil
}

// WithError transitions a state to error with a message.
func (s ExtractionState) WithError(message string) ExtractionState {
	s.status = ExtractionError
	s.errorMessage = &message
	return s
}
