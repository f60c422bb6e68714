// Package enginerr defines the semantic error categories shared across the
// extraction and storage engine. Categories are compared with errors.Is,
// never by string matching.
package enginerr

import "fmt"

// Category names a semantic error kind. Categories are not tied to a single
// Go type: any error in the engine may be wrapped with one.
type Category string

const (
	SourceInaccessible Category = "SOURCE_INACCESSIBLE"
	InvalidJSON        Category = "INVALID_JSON"
	DBLocked           Category = "DB_LOCKED"
	DBConnectionFailed Category = "DB_CONNECTION_FAILED"
	FTS5Unavailable    Category = "FTS5_UNAVAILABLE"
	InvalidExportFile  Category = "INVALID_EXPORT_FILE"
	InvariantViolation Category = "INVARIANT_VIOLATION"
)

// Error wraps an underlying error with a semantic category.
type Error struct {
	Category Category
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, enginerr.SourceInaccessible)-style comparisons
// by matching on Category via a sentinel wrapper.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Category == t.Category
}

// New constructs an Error with the given category and message, with no
// wrapped cause.
func New(category Category, message string) *Error {
	return &Error{Category: category, Message: message}
}

// Wrap constructs an Error with the given category and message, wrapping
// the supplied cause.
func Wrap(category Category, message string, err error) *Error {
	return &Error{Category: category, Message: message, Err: err}
}

// Sentinel returns a zero-cause Error usable as an errors.Is target, e.g.
// errors.Is(err, enginerr.Sentinel(enginerr.DBLocked)).
func Sentinel(category Category) *Error {
	return &Error{Category: category}
}
