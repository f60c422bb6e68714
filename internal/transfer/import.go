package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/kepler-labs/transcriptvault/internal/enginerr"
	. "github.com/kepler-labs/transcriptvault/internal/logging"
	"github.com/kepler-labs/transcriptvault/internal/model"
	"github.com/kepler-labs/transcriptvault/internal/repository"
)

// clearTables lists the data tables truncated by a clearing import, in the
// order required to satisfy foreign keys once they are re-enabled.
var clearTables = []string{
	"session_entities",
	"entity_links",
	"links",
	"messages",
	"sessions_fts",
	"tool_uses",
	"sessions",
	"entities",
	"extraction_state",
	"topics",
}

// ImportOptions controls how Import applies a Document to a store.
type ImportOptions struct {
	// ClearExisting truncates every data table before restoring the
	// document's rows. Without it, import is additive and idempotent.
	ClearExisting bool
}

// ImportFromFile validates that path exists and is readable, then restores
// it into repos per opts. A missing or unreadable file is raised as
// InvalidExportFile rather than a bare os error.
func ImportFromFile(ctx context.Context, repos *repository.Repositories, path string, opts ImportOptions) (Stats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Stats{}, enginerr.Wrap(enginerr.InvalidExportFile, "read export file", err)
	}
	return ImportFromBytes(ctx, repos, data, opts)
}

// ImportFromBytes validates data as an export document and restores it
// into repos per opts. The returned Stats counts the document rows
// processed per table; a row skipped by ignore-on-conflict is counted too.
func ImportFromBytes(ctx context.Context, repos *repository.Repositories, data []byte, opts ImportOptions) (Stats, error) {
	if err := validateDocumentShape(data); err != nil {
		return Stats{}, err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Stats{}, validationError("malformed export document: " + err.Error())
	}

	if opts.ClearExisting {
		if err := clearStore(repos); err != nil {
			return Stats{}, fmt.Errorf("clear existing store: %w", err)
		}
	}

	var stats Stats
	err := repos.WithTx(ctx, func(tx *repository.Repositories) error {
		for _, dto := range doc.Sessions {
			s, err := fromSessionDTO(dto)
			if err != nil {
				return fmt.Errorf("rehydrate session %s: %w", dto.ID, err)
			}
			if err := tx.Sessions.Insert(s); err != nil {
				return err
			}
			stats.Sessions++
		}
		for _, dto := range doc.Messages {
			m, err := fromMessageDTO(dto)
			if err != nil {
				return fmt.Errorf("rehydrate message %s: %w", dto.ID, err)
			}
			if err := tx.Messages.Insert(m); err != nil {
				return err
			}
			stats.Messages++
		}
		for _, dto := range doc.ToolUses {
			t, err := fromToolUseDTO(dto)
			if err != nil {
				return fmt.Errorf("rehydrate tool use %s: %w", dto.ID, err)
			}
			if err := tx.ToolUses.Insert(t); err != nil {
				return err
			}
			stats.ToolUses++
		}
		for _, dto := range doc.Entities {
			e, err := fromEntityDTO(dto)
			if err != nil {
				return fmt.Errorf("rehydrate entity %d: %w", dto.ID, err)
			}
			if err := tx.Entities.InsertWithID(dto.ID, e); err != nil {
				return err
			}
			stats.Entities++
		}
		for _, dto := range doc.Links {
			l, err := fromLinkDTO(dto)
			if err != nil {
				return fmt.Errorf("rehydrate link: %w", err)
			}
			if err := tx.Links.InsertIgnore(l); err != nil {
				return err
			}
			stats.Links++
		}
		for _, dto := range doc.SessionEntities {
			se, err := model.NewSessionEntity(dto.SessionID, dto.EntityID, dto.Frequency)
			if err != nil {
				return fmt.Errorf("rehydrate session entity: %w", err)
			}
			if err := tx.SessionEntities.InsertIgnore(se); err != nil {
				return err
			}
			stats.SessionEntities++
		}
		for _, dto := range doc.EntityLinks {
			el, err := fromEntityLinkDTO(dto)
			if err != nil {
				return fmt.Errorf("rehydrate entity link: %w", err)
			}
			if err := tx.EntityLinks.Insert(el); err != nil {
				return err
			}
			stats.EntityLinks++
		}
		for _, dto := range doc.ExtractionStates {
			st, err := fromExtractionDTO(dto)
			if err != nil {
				return fmt.Errorf("rehydrate extraction state %s: %w", dto.ID, err)
			}
			if err := tx.ExtractionStates.InsertIgnore(st); err != nil {
				return err
			}
			stats.ExtractionStates++
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("import document: %w", err)
	}

	L_info("transfer: imported store", "sessions", stats.Sessions, "messages", stats.Messages, "clearExisting", opts.ClearExisting)
	return stats, nil
}

// clearStore truncates every data table in dependency order, with foreign
// keys disabled around the pass so child rows don't block parent deletes.
func clearStore(repos *repository.Repositories) error {
	if err := repos.Exec("PRAGMA foreign_keys = OFF"); err != nil {
		return err
	}
	for _, table := range clearTables {
		if err := repos.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}
	return repos.Exec("PRAGMA foreign_keys = ON")
}

// validateDocumentShape checks the minimal structural contract an export
// document must satisfy before any field is trusted: a string version, a
// stats object, and array-typed collections. The first failing reason is
// raised as InvalidExportFile.
func validateDocumentShape(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return validationError("not a JSON object: " + err.Error())
	}

	var version string
	if err := requireField(raw, "version", &version); err != nil {
		return err
	}

	var stats json.RawMessage
	if v, ok := raw["stats"]; ok {
		stats = v
	} else {
		return validationError("missing stats field")
	}
	var statsObj map[string]json.RawMessage
	if err := json.Unmarshal(stats, &statsObj); err != nil {
		return validationError("stats field is not an object")
	}

	for _, field := range []string{"sessions", "messages", "toolUses", "entities", "links"} {
		v, ok := raw[field]
		if !ok {
			return validationError("missing " + field + " field")
		}
		var arr []json.RawMessage
		if err := json.Unmarshal(v, &arr); err != nil {
			return validationError(field + " field is not an array")
		}
	}

	return nil
}

func requireField(raw map[string]json.RawMessage, name string, dest *string) error {
	v, ok := raw[name]
	if !ok {
		return validationError("missing " + name + " field")
	}
	if err := json.Unmarshal(v, dest); err != nil {
		return validationError(name + " field is not a string")
	}
	return nil
}

func fromSessionDTO(dto SessionDTO) (model.Session, error) {
	started, err := time.Parse(time.RFC3339, dto.StartedAt)
	if err != nil {
		return model.Session{}, fmt.Errorf("parse startedAt: %w", err)
	}
	s, err := model.NewSession(dto.ID, model.NewProjectPath(dto.ProjectPathEncoded, dto.ProjectPathDecoded), started)
	if err != nil {
		return model.Session{}, err
	}
	s = s.WithMessageCount(dto.MessageCount)
	if dto.EndedAt != nil {
		ended, err := time.Parse(time.RFC3339, *dto.EndedAt)
		if err != nil {
			return model.Session{}, fmt.Errorf("parse endedAt: %w", err)
		}
		s = s.WithEndedAt(ended)
	}
	if dto.Summary != nil {
		s = s.WithSummary(*dto.Summary)
	}
	return s, nil
}

func fromMessageDTO(dto MessageDTO) (model.Message, error) {
	occurred, err := time.Parse(time.RFC3339, dto.OccurredAt)
	if err != nil {
		return model.Message{}, fmt.Errorf("parse occurredAt: %w", err)
	}
	return model.NewMessage(dto.ID, dto.SessionID, model.Role(dto.Role), dto.Body, occurred, dto.ToolUseIDs)
}

func fromToolUseDTO(dto ToolUseDTO) (model.ToolUse, error) {
	occurred, err := time.Parse(time.RFC3339, dto.OccurredAt)
	if err != nil {
		return model.ToolUse{}, fmt.Errorf("parse occurredAt: %w", err)
	}
	input, _ := dto.Input.(map[string]any)
	t, err := model.NewToolUse(dto.ID, dto.SessionID, dto.ToolName, input, occurred)
	if err != nil {
		return model.ToolUse{}, err
	}
	if dto.Result != nil {
		t = t.WithResult(*dto.Result, model.ToolUseStatus(dto.Status) == model.ToolUseError)
	}
	return t, nil
}

func fromEntityDTO(dto EntityDTO) (model.Entity, error) {
	created, err := time.Parse(time.RFC3339, dto.CreatedAt)
	if err != nil {
		return model.Entity{}, fmt.Errorf("parse createdAt: %w", err)
	}
	metadata, _ := dto.Metadata.(map[string]any)
	return model.NewEntity(model.EntityType(dto.Type), dto.Name, metadata, dto.Confidence, created)
}

func fromLinkDTO(dto LinkDTO) (model.Link, error) {
	created, err := time.Parse(time.RFC3339, dto.CreatedAt)
	if err != nil {
		return model.Link{}, fmt.Errorf("parse createdAt: %w", err)
	}
	return model.NewLink(model.LinkKind(dto.SourceKind), dto.SourceID, model.LinkKind(dto.TargetKind), dto.TargetID,
		model.Relationship(dto.Relationship), dto.Weight, created)
}

func fromEntityLinkDTO(dto EntityLinkDTO) (model.EntityLink, error) {
	created, err := time.Parse(time.RFC3339, dto.CreatedAt)
	if err != nil {
		return model.EntityLink{}, fmt.Errorf("parse createdAt: %w", err)
	}
	return model.NewEntityLink(dto.SourceID, dto.TargetID, model.EntityRelationship(dto.Relationship), dto.Weight, created)
}

func fromExtractionDTO(dto ExtractionDTO) (model.ExtractionState, error) {
	started, err := time.Parse(time.RFC3339, dto.StartedAt)
	if err != nil {
		return model.ExtractionState{}, fmt.Errorf("parse startedAt: %w", err)
	}
	mtime := started
	if dto.LastMTime != nil {
		mtime, err = time.Parse(time.RFC3339, *dto.LastMTime)
		if err != nil {
			return model.ExtractionState{}, fmt.Errorf("parse lastMtime: %w", err)
		}
	}
	var size int64
	if dto.LastSize != nil {
		size = *dto.LastSize
	}
	st, err := model.NewExtractionState(dto.ID, dto.SessionPath, started, mtime, size)
	if err != nil {
		return model.ExtractionState{}, err
	}

	switch model.ExtractionStatus(dto.Status) {
	case model.ExtractionInProgress:
		st = st.WithInProgress()
		st = st.WithIncrementMessages(dto.MessagesExtracted)
	case model.ExtractionComplete:
		st = st.WithInProgress()
		st = st.WithIncrementMessages(dto.MessagesExtracted)
		if dto.CompletedAt != nil {
			completed, err := time.Parse(time.RFC3339, *dto.CompletedAt)
			if err != nil {
				return model.ExtractionState{}, fmt.Errorf("parse completedAt: %w", err)
			}
			st, err = st.WithComplete(completed)
			if err != nil {
				return model.ExtractionState{}, err
			}
		}
	case model.ExtractionError:
		st = st.WithIncrementMessages(dto.MessagesExtracted)
		if dto.ErrorMessage != nil {
			st = st.WithError(*dto.ErrorMessage)
		}
	}
	return st, nil
}
