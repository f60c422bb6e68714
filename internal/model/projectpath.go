// Package model defines the immutable value types extracted from and
// persisted for session transcripts: Session, Message, ToolUse, Entity,
// Link, ExtractionState, and ProjectPath.
package model

import (
	"path"
	"strings"
)

// ProjectPath carries both the filesystem-safe encoded form (the on-disk
// directory name) and the decoded form of a project path. The decoded form
// is authoritative; the encoded form is only a lookup key. Discovered
// paths are decoded by replacing every hyphen with a slash, so a path
// component that contains a literal hyphen does not round-trip exactly.
type ProjectPath struct {
	encoded string
	decoded string
}

// NewProjectPath constructs a ProjectPath from its two known forms.
func NewProjectPath(encoded, decoded string) ProjectPath {
	return ProjectPath{encoded: encoded, decoded: decoded}
}

// Encoded returns the filesystem-safe directory-name form.
func (p ProjectPath) Encoded() string { return p.encoded }

// Decoded returns the authoritative decoded form.
func (p ProjectPath) Decoded() string { return p.decoded }

// Name returns the derived project name: the last path component of the
// decoded form.
func (p ProjectPath) Name() string {
	clean := strings.TrimRight(p.decoded, "/")
	if clean == "" {
		return p.decoded
	}
	return path.Base(clean)
}
