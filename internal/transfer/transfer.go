// Package transfer serialises the full store to a single JSON document
// and restores one back into a fresh or existing store.
package transfer

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/kepler-labs/transcriptvault/internal/enginerr"
	. "github.com/kepler-labs/transcriptvault/internal/logging"
	"github.com/kepler-labs/transcriptvault/internal/model"
	"github.com/kepler-labs/transcriptvault/internal/repository"
)

const documentVersion = "1.0"

// Document is the full export/import wire format.
type Document struct {
	Version          string             `json:"version"`
	ExportedAt       string             `json:"exportedAt"`
	Stats            Stats              `json:"stats"`
	Sessions         []SessionDTO       `json:"sessions"`
	Messages         []MessageDTO       `json:"messages"`
	ToolUses         []ToolUseDTO       `json:"toolUses"`
	Entities         []EntityDTO        `json:"entities"`
	Links            []LinkDTO          `json:"links"`
	SessionEntities  []SessionEntityDTO `json:"sessionEntities"`
	EntityLinks      []EntityLinkDTO    `json:"entityLinks"`
	ExtractionStates []ExtractionDTO    `json:"extractionStates"`
}

// Stats counts each array in a Document.
type Stats struct {
	Sessions         int `json:"sessions"`
	Messages         int `json:"messages"`
	ToolUses         int `json:"toolUses"`
	Entities         int `json:"entities"`
	Links            int `json:"links"`
	SessionEntities  int `json:"sessionEntities"`
	EntityLinks      int `json:"entityLinks"`
	ExtractionStates int `json:"extractionStates"`
}

type SessionDTO struct {
	ID                 string  `json:"id"`
	ProjectPathEncoded string  `json:"projectPathEncoded"`
	ProjectPathDecoded string  `json:"projectPathDecoded"`
	StartedAt          string  `json:"startedAt"`
	EndedAt            *string `json:"endedAt,omitempty"`
	MessageCount       int     `json:"messageCount"`
	Summary            *string `json:"summary,omitempty"`
}

type MessageDTO struct {
	ID         string   `json:"id"`
	SessionID  string   `json:"sessionId"`
	Role       string   `json:"role"`
	Body       string   `json:"body"`
	OccurredAt string   `json:"occurredAt"`
	ToolUseIDs []string `json:"toolUseIds,omitempty"`
}

type ToolUseDTO struct {
	ID         string  `json:"id"`
	SessionID  string  `json:"sessionId"`
	ToolName   string  `json:"toolName"`
	Input      any     `json:"input"`
	OccurredAt string  `json:"occurredAt"`
	Status     string  `json:"status"`
	Result     *string `json:"result,omitempty"`
}

type EntityDTO struct {
	ID         int64  `json:"id"`
	Type       string `json:"type"`
	Name       string `json:"name"`
	Metadata   any    `json:"metadata"`
	Confidence float64 `json:"confidence"`
	CreatedAt  string `json:"createdAt"`
}

type LinkDTO struct {
	SourceKind   string  `json:"sourceKind"`
	SourceID     string  `json:"sourceId"`
	TargetKind   string  `json:"targetKind"`
	TargetID     string  `json:"targetId"`
	Relationship string  `json:"relationship"`
	Weight       float64 `json:"weight"`
	CreatedAt    string  `json:"createdAt"`
}

type SessionEntityDTO struct {
	SessionID string `json:"sessionId"`
	EntityID  int64  `json:"entityId"`
	Frequency int    `json:"frequency"`
}

type EntityLinkDTO struct {
	SourceID     int64   `json:"sourceId"`
	TargetID     int64   `json:"targetId"`
	Relationship string  `json:"relationship"`
	Weight       float64 `json:"weight"`
	CreatedAt    string  `json:"createdAt"`
}

type ExtractionDTO struct {
	ID                string  `json:"id"`
	SessionPath       string  `json:"sessionPath"`
	Status            string  `json:"status"`
	StartedAt         string  `json:"startedAt"`
	CompletedAt       *string `json:"completedAt,omitempty"`
	MessagesExtracted int     `json:"messagesExtracted"`
	ErrorMessage      *string `json:"errorMessage,omitempty"`
	LastMTime         *string `json:"lastMtime,omitempty"`
	LastSize          *int64  `json:"lastSize,omitempty"`
}

// Export builds a Document over the full contents of repos, at instant
// exportedAt.
func Export(repos *repository.Repositories, exportedAt time.Time) (Document, error) {
	sessions, err := repos.Sessions.ListAll()
	if err != nil {
		return Document{}, fmt.Errorf("export sessions: %w", err)
	}
	messages, err := repos.Messages.ListAll()
	if err != nil {
		return Document{}, fmt.Errorf("export messages: %w", err)
	}
	toolUses, err := repos.ToolUses.ListAll()
	if err != nil {
		return Document{}, fmt.Errorf("export tool uses: %w", err)
	}
	entities, err := repos.Entities.ListAll()
	if err != nil {
		return Document{}, fmt.Errorf("export entities: %w", err)
	}
	links, err := repos.Links.ListAll()
	if err != nil {
		return Document{}, fmt.Errorf("export links: %w", err)
	}
	sessionEntities, err := repos.SessionEntities.ListAll()
	if err != nil {
		return Document{}, fmt.Errorf("export session entities: %w", err)
	}
	entityLinks, err := repos.EntityLinks.ListAll()
	if err != nil {
		return Document{}, fmt.Errorf("export entity links: %w", err)
	}
	states, err := repos.ExtractionStates.ListAll()
	if err != nil {
		return Document{}, fmt.Errorf("export extraction states: %w", err)
	}

	doc := Document{
		Version:          documentVersion,
		ExportedAt:       exportedAt.Format(time.RFC3339),
		Sessions:         toSessionDTOs(sessions),
		Messages:         toMessageDTOs(messages),
		ToolUses:         toToolUseDTOs(toolUses),
		Entities:         toEntityDTOs(entities),
		Links:            toLinkDTOs(links),
		SessionEntities:  toSessionEntityDTOs(sessionEntities),
		EntityLinks:      toEntityLinkDTOs(entityLinks),
		ExtractionStates: toExtractionDTOs(states),
	}
	doc.Stats = Stats{
		Sessions:         len(doc.Sessions),
		Messages:         len(doc.Messages),
		ToolUses:         len(doc.ToolUses),
		Entities:         len(doc.Entities),
		Links:            len(doc.Links),
		SessionEntities:  len(doc.SessionEntities),
		EntityLinks:      len(doc.EntityLinks),
		ExtractionStates: len(doc.ExtractionStates),
	}
	return doc, nil
}

// ExportToFile writes Export's document to path as indented JSON.
func ExportToFile(repos *repository.Repositories, path string, exportedAt time.Time) (Stats, error) {
	doc, err := Export(repos, exportedAt)
	if err != nil {
		return Stats{}, err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Stats{}, fmt.Errorf("marshal export document: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Stats{}, fmt.Errorf("write export file: %w", err)
	}
	L_info("transfer: exported store", "path", path, "sessions", doc.Stats.Sessions)
	return doc.Stats, nil
}

func toSessionDTOs(in []model.Session) []SessionDTO {
	out := make([]SessionDTO, 0, len(in))
	for _, s := range in {
		dto := SessionDTO{
			ID:                 s.ID(),
			ProjectPathEncoded: s.ProjectPath().Encoded(),
			ProjectPathDecoded: s.ProjectPath().Decoded(),
			StartedAt:          s.StartedAt().Format(time.RFC3339),
			MessageCount:       s.MessageCount(),
		}
		if ended := s.EndedAt(); ended != nil {
			v := ended.Format(time.RFC3339)
			dto.EndedAt = &v
		}
		dto.Summary = s.Summary()
		out = append(out, dto)
	}
	return out
}

func toMessageDTOs(in []model.Message) []MessageDTO {
	out := make([]MessageDTO, 0, len(in))
	for _, m := range in {
		out = append(out, MessageDTO{
			ID:         m.ID(),
			SessionID:  m.SessionID(),
			Role:       string(m.Role()),
			Body:       m.Body(),
			OccurredAt: m.OccurredAt().Format(time.RFC3339),
			ToolUseIDs: m.ToolUseIDs(),
		})
	}
	return out
}

func toToolUseDTOs(in []model.ToolUse) []ToolUseDTO {
	out := make([]ToolUseDTO, 0, len(in))
	for _, t := range in {
		out = append(out, ToolUseDTO{
			ID:         t.ID(),
			SessionID:  t.SessionID(),
			ToolName:   t.ToolName(),
			Input:      t.Input(),
			OccurredAt: t.OccurredAt().Format(time.RFC3339),
			Status:     string(t.Status()),
			Result:     t.Result(),
		})
	}
	return out
}

func toEntityDTOs(in []model.Entity) []EntityDTO {
	out := make([]EntityDTO, 0, len(in))
	for _, e := range in {
		out = append(out, EntityDTO{
			ID:         e.ID(),
			Type:       string(e.Type()),
			Name:       e.Name(),
			Metadata:   e.Metadata(),
			Confidence: e.Confidence(),
			CreatedAt:  e.CreatedAt().Format(time.RFC3339),
		})
	}
	return out
}

func toLinkDTOs(in []model.Link) []LinkDTO {
	out := make([]LinkDTO, 0, len(in))
	for _, l := range in {
		out = append(out, LinkDTO{
			SourceKind:   string(l.SourceKind()),
			SourceID:     l.SourceID(),
			TargetKind:   string(l.TargetKind()),
			TargetID:     l.TargetID(),
			Relationship: string(l.Relationship()),
			Weight:       l.Weight(),
			CreatedAt:    l.CreatedAt().Format(time.RFC3339),
		})
	}
	return out
}

func toSessionEntityDTOs(in []model.SessionEntity) []SessionEntityDTO {
	out := make([]SessionEntityDTO, 0, len(in))
	for _, se := range in {
		out = append(out, SessionEntityDTO{SessionID: se.SessionID(), EntityID: se.EntityID(), Frequency: se.Frequency()})
	}
	return out
}

func toEntityLinkDTOs(in []model.EntityLink) []EntityLinkDTO {
	out := make([]EntityLinkDTO, 0, len(in))
	for _, l := range in {
		out = append(out, EntityLinkDTO{
			SourceID:     l.SourceID(),
			TargetID:     l.TargetID(),
			Relationship: string(l.Relationship()),
			Weight:       l.Weight(),
			CreatedAt:    l.CreatedAt().Format(time.RFC3339),
		})
	}
	return out
}

func toExtractionDTOs(in []model.ExtractionState) []ExtractionDTO {
	out := make([]ExtractionDTO, 0, len(in))
	for _, st := range in {
		dto := ExtractionDTO{
			ID:                st.ID(),
			SessionPath:       st.SessionPath(),
			Status:            string(st.Status()),
			StartedAt:         st.StartedAt().Format(time.RFC3339),
			MessagesExtracted: st.MessagesExtracted(),
			ErrorMessage:      st.ErrorMessage(),
		}
		if c := st.CompletedAt(); c != nil {
			v := c.Format(time.RFC3339)
			dto.CompletedAt = &v
		}
		if m := st.LastMTime(); m != nil {
			v := m.Format(time.RFC3339)
			dto.LastMTime = &v
		}
		if sz := st.LastSize(); sz != nil {
			v := *sz
			dto.LastSize = &v
		}
		out = append(out, dto)
	}
	return out
}

// validationError wraps a reason into InvalidExportFile.
func validationError(reason string) error {
	return enginerr.New(enginerr.InvalidExportFile, reason)
}
