package model

import "time"

// LinkKind identifies which side of a heterogeneous Link an id refers to.
type LinkKind string

const (
	LinkKindSession LinkKind = "session"
	LinkKindMessage LinkKind = "message"
	LinkKindTopic   LinkKind = "topic"
)

func (k LinkKind) valid() bool {
	switch k {
	case LinkKindSession, LinkKindMessage, LinkKindTopic:
		return true
	}
	return false
}

// Relationship is the edge label of a heterogeneous Link.
type Relationship string

const (
	RelationMentions  Relationship = "mentions"
	RelationRelatedTo Relationship = "related_to"
	RelationContinues Relationship = "continues"
)

func (r Relationship) valid() bool {
	switch r {
	case RelationMentions, RelationRelatedTo, RelationContinues:
		return true
	}
	return false
}

// Link is a typed, weighted edge between two heterogeneous items (session,
// message, or topic), unique by (source kind, source id, target kind,
// target id, relationship).
type Link struct {
	sourceKind   LinkKind
	sourceID     string
	targetKind   LinkKind
	targetID     string
	relationship Relationship
	weight       float64
	createdAt    time.Time
}

// NewLink constructs a Link, clamping weight into [0,1] and rejecting a
// kind or relationship outside their enumerations.
func NewLink(sourceKind LinkKind, sourceID string, targetKind LinkKind, targetID string, relationship Relationship, weight float64, createdAt time.Time) (Link, error) {
	if !sourceKind.valid() || !targetKind.valid() {
		return Link{}, errInvariant("link: unknown kind")
	}
	if !relationship.valid() {
		return Link{}, errInvariant("link: unknown relationship " + string(relationship))
	}
	if sourceID == "" || targetID == "" {
		return Link{}, errInvariant("link: empty endpoint id")
	}
	return Link{
		sourceKind:   sourceKind,
		sourceID:     sourceID,
		targetKind:   targetKind,
		targetID:     targetID,
		relationship: relationship,
		weight:       clampWeight(weight),
		createdAt:    createdAt,
	}, nil
}

func (l Link) SourceKind() LinkKind     { return l.sourceKind }
func (l Link) SourceID() string         { return l.sourceID }
func (l Link) TargetKind() LinkKind     { return l.targetKind }
func (l Link) TargetID() string         { return l.targetID }
func (l Link) Relationship() Relationship { return l.relationship }
func (l Link) Weight() float64          { return l.weight }
func (l Link) CreatedAt() time.Time     { return l.createdAt }

// EntityRelationship is the edge label of an EntityLink.
type EntityRelationship string

const (
	EntityRelationRelated     EntityRelationship = "related"
	EntityRelationImplies     EntityRelationship = "implies"
	EntityRelationContradicts EntityRelationship = "contradicts"
)

func (r EntityRelationship) valid() bool {
	switch r {
	case EntityRelationRelated, EntityRelationImplies, EntityRelationContradicts:
		return true
	}
	return false
}

// EntityLink is a typed, weighted edge between two entity ids.
type EntityLink struct {
	sourceID     int64
	targetID     int64
	relationship EntityRelationship
	weight       float64
	createdAt    time.Time
}

// NewEntityLink constructs an EntityLink, clamping weight into [0,1].
func NewEntityLink(sourceID, targetID int64, relationship EntityRelationship, weight float64, createdAt time.Time) (EntityLink, error) {
	if !relationship.valid() {
		return EntityLink{}, errInvariant("entity_link: unknown relationship " + string(relationship))
	}
	if sourceID == 0 || targetID == 0 {
		return EntityLink{}, errInvariant("entity_link: empty endpoint id")
	}
	return EntityLink{
		sourceID:     sourceID,
		targetID:     targetID,
		relationship: relationship,
		weight:       clampWeight(weight),
		createdAt:    createdAt,
	}, nil
}

func (l EntityLink) SourceID() int64               { return l.sourceID }
func (l EntityLink) TargetID() int64               { return l.targetID }
func (l EntityLink) Relationship() EntityRelationship { return l.relationship }
func (l EntityLink) Weight() float64               { return l.weight }
func (l EntityLink) CreatedAt() time.Time          { return l.createdAt }

// SessionEntity is the frequency-weighted edge between a session and an
// entity it mentions. Frequency sums across repeated linking operations.
type SessionEntity struct {
	sessionID string
	entityID  int64
	frequency int
}

// NewSessionEntity constructs a SessionEntity link with the given initial
// frequency (minimum 1).
func NewSessionEntity(sessionID string, entityID int64, frequency int) (SessionEntity, error) {
	if sessionID == "" {
		return SessionEntity{}, errInvariant("session_entity: empty session id")
	}
	if entityID == 0 {
		return SessionEntity{}, errInvariant("session_entity: empty entity id")
	}
	if frequency < 1 {
		frequency = 1
	}
	return SessionEntity{sessionID: sessionID, entityID: entityID, frequency: frequency}, nil
}

func (s SessionEntity) SessionID() string { return s.sessionID }
func (s SessionEntity) EntityID() int64   { return s.entityID }
func (s SessionEntity) Frequency() int    { return s.frequency }

func clampWeight(w float64) float64 {
	if w < 0 {
		return 0
	}
	if w > 1 {
		return 1
	}
	return w
}
