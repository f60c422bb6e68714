package model

import (
	"strings"
	"time"
)

// EntityType is the semantic category of an extracted Entity.
type EntityType string

const (
	EntityConcept  EntityType = "concept"
	EntityFile     EntityType = "file"
	EntityDecision EntityType = "decision"
	EntityTerm     EntityType = "term"
)

func (t EntityType) valid() bool {
	switch t {
	case EntityConcept, EntityFile, EntityDecision, EntityTerm:
		return true
	}
	return false
}

// Entity is an extracted fact — concept, file, decision, or term —
// linkable to sessions and to other entities. Its integer id is assigned
// at persist time; its logical identity is the pair (type, case-folded
// name), deduplicated globally across projects.
type Entity struct {
	id         int64
	typ        EntityType
	name       string
	metadata   map[string]any
	confidence float64
	createdAt  time.Time
}

// NewEntity constructs an Entity, rejecting an empty name, an unknown
// type, an out-of-range confidence, or a decision entity whose metadata
// lacks non-empty subject/decision fields.
func NewEntity(typ EntityType, name string, metadata map[string]any, confidence float64, createdAt time.Time) (Entity, error) {
	if name == "" {
		return Entity{}, errInvariant("entity: empty name")
	}
	if !typ.valid() {
		return Entity{}, errInvariant("entity: unknown type " + string(typ))
	}
	if confidence < 0 || confidence > 1 {
		return Entity{}, errInvariant("entity: confidence out of range")
	}
	if typ == EntityDecision {
		subject, _ := metadata["subject"].(string)
		decision, _ := metadata["decision"].(string)
		if subject == "" || decision == "" {
			return Entity{}, errInvariant("entity: decision requires non-empty subject and decision metadata")
		}
	}
	return Entity{
		typ:        typ,
		name:       name,
		metadata:   cloneInput(metadata),
		confidence: confidence,
		createdAt:  createdAt,
	}, nil
}

func (e Entity) ID() int64           { return e.id }
func (e Entity) Type() EntityType    { return e.typ }
func (e Entity) Name() string        { return e.name }
func (e Entity) Confidence() float64 { return e.confidence }
func (e Entity) CreatedAt() time.Time { return e.createdAt }

// Metadata returns a defensive copy of the type-specific metadata object.
func (e Entity) Metadata() map[string]any {
	return cloneInput(e.metadata)
}

// NameKey returns the case-folded name used, together with Type, as this
// entity's logical identity for deduplication.
func (e Entity) NameKey() string {
	return strings.ToLower(e.name)
}

// WithID returns a copy of e carrying the integer id assigned at persist
// time.
func (e Entity) WithID(id int64) Entity {
	e.id = id
	return e
}

// WithConfidence returns a copy of e whose confidence is raised to the
// maximum of its current value and other, matching the dedup-collision
// policy of component C.
func (e Entity) WithConfidence(other float64) Entity {
	if other > e.confidence {
		e.confidence = other
	}
	return e
}
