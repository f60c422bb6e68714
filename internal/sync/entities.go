package sync

import (
	"context"
	"fmt"
	"time"

	. "github.com/kepler-labs/transcriptvault/internal/logging"
	"github.com/kepler-labs/transcriptvault/internal/extract"
	"github.com/kepler-labs/transcriptvault/internal/model"
	"github.com/kepler-labs/transcriptvault/internal/patterns"
	"github.com/kepler-labs/transcriptvault/internal/repository"
)

// graphEntity pairs an extracted Entity with how strongly this session
// mentions it, and whether it belongs on the session's topic links.
type graphEntity struct {
	entity    model.Entity
	frequency int
	isTopic   bool
}

// deriveGraphEntities runs the pattern extractor (component F) over d's
// tool uses unconditionally, then, if provider is configured, builds and
// runs the LLM extraction prompt (component G) over d's messages. A
// provider failure is logged and skipped rather than raised: LLM
// enrichment is additive, unlike the pattern-derived facts.
func deriveGraphEntities(ctx context.Context, sessionID string, d derivedEvents, provider extract.ExtractionProvider, limits extract.Limits, at time.Time) ([]graphEntity, string, error) {
	var out []graphEntity

	paths := patterns.FilePaths(d.toolUses)
	fileEntities, err := patterns.FilePathsToEntities(paths, at)
	if err != nil {
		return nil, "", fmt.Errorf("derive file entities: %w", err)
	}
	for _, e := range fileEntities {
		out = append(out, graphEntity{entity: e, frequency: 1})
	}

	mods := patterns.Modifications(d.toolUses)
	modEntities, err := patterns.ModificationsToEntities(mods)
	if err != nil {
		return nil, "", fmt.Errorf("derive modification entities: %w", err)
	}
	for _, e := range modEntities {
		out = append(out, graphEntity{entity: e, frequency: 1})
	}

	var summary string
	if provider != nil && len(d.messages) > 0 {
		prompt := extract.BuildPrompt(d.messages, limits)
		raw, err := provider.Complete(ctx, prompt)
		if err != nil {
			L_warn("sync: llm extraction failed, skipping enrichment", "session", sessionID, "error", err)
		} else {
			result := extract.ParseResponse(raw, at)
			summary = result.Summary
			for _, e := range result.Entities {
				out = append(out, graphEntity{entity: e, frequency: 1, isTopic: e.Type() == model.EntityConcept})
			}
		}
	}

	return out, summary, nil
}

// persistGraphEntities upserts each derived entity, links it to the
// session by frequency, and for topic (concept) entities additionally
// writes a session-to-topic heterogeneous link. Runs inside tx's
// transaction.
func persistGraphEntities(tx *repository.Repositories, sessionID string, entities []graphEntity, at time.Time) error {
	for _, g := range entities {
		stored, err := tx.Entities.Upsert(g.entity)
		if err != nil {
			return fmt.Errorf("upsert entity: %w", err)
		}

		se, err := model.NewSessionEntity(sessionID, stored.ID(), g.frequency)
		if err != nil {
			return fmt.Errorf("build session entity link: %w", err)
		}
		if err := tx.SessionEntities.Insert(se); err != nil {
			return fmt.Errorf("insert session entity link: %w", err)
		}

		if !g.isTopic {
			continue
		}
		link, err := model.NewLink(model.LinkKindSession, sessionID, model.LinkKindTopic,
			fmt.Sprintf("%d", stored.ID()), model.RelationMentions, stored.Confidence(), at)
		if err != nil {
			return fmt.Errorf("build session topic link: %w", err)
		}
		if err := tx.Links.Insert(link); err != nil {
			return fmt.Errorf("insert session topic link: %w", err)
		}
	}
	return nil
}
