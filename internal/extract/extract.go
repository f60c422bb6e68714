// Package extract builds the prompt for second-tier LLM enrichment and
// parses its structured response into entities and a summary. The LLM
// call itself is the caller's responsibility, reached through the
// ExtractionProvider interface.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kepler-labs/transcriptvault/internal/model"
)

// ExtractionProvider performs the actual LLM call. Implementations are
// supplied by the collaborator that owns network access and credentials;
// this package never dials out itself.
type ExtractionProvider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Limits bounds how many topics, terms, and decisions the prompt asks
// for. Zero values fall back to the spec's defaults (5/3/3); out-of-range
// values clamp into the documented bounds (1-5 topics, 0-3 terms/decisions)
// so a misconfigured value cannot ask for zero topics or a negative count.
type Limits struct {
	MaxTopics    int
	MaxTerms     int
	MaxDecisions int
}

func (l Limits) clamped() Limits {
	topics, terms, decisions := l.MaxTopics, l.MaxTerms, l.MaxDecisions
	if topics == 0 {
		topics = 5
	}
	if topics < 1 {
		topics = 1
	}
	if topics > 5 {
		topics = 5
	}
	if terms == 0 {
		terms = 3
	}
	if decisions == 0 {
		decisions = 3
	}
	if terms < 0 {
		terms = 0
	}
	if terms > 3 {
		terms = 3
	}
	if decisions < 0 {
		decisions = 0
	}
	if decisions > 3 {
		decisions = 3
	}
	return Limits{MaxTopics: topics, MaxTerms: terms, MaxDecisions: decisions}
}

// Result is the outcome of parsing an extraction response.
type Result struct {
	Entities []model.Entity
	Summary  string
}

// BuildPrompt labels each message [USER]/[ASSISTANT] and instructs the
// model to produce topics, terms, decisions, and a short summary within
// the configured limits, fixing the expected JSON schema.
func BuildPrompt(messages []model.Message, limits Limits) string {
	l := limits.clamped()

	var transcript strings.Builder
	for _, m := range messages {
		label := "[USER]"
		if m.Role() == model.RoleAssistant {
			label = "[ASSISTANT]"
		}
		fmt.Fprintf(&transcript, "%s %s\n", label, m.Body())
	}

	var b strings.Builder
	b.WriteString("Review the following conversation and extract structured knowledge.\n\n")
	b.WriteString(transcript.String())
	fmt.Fprintf(&b, "\nRespond with exactly one JSON object, no surrounding prose:\n")
	fmt.Fprintf(&b, "{\n")
	fmt.Fprintf(&b, "  \"topics\": [{\"name\": string, \"confidence\": number}],  // %d-%d items\n", 1, l.MaxTopics)
	fmt.Fprintf(&b, "  \"terms\": [{\"name\": string, \"definition\": string, \"confidence\": number}],  // 0-%d items\n", l.MaxTerms)
	fmt.Fprintf(&b, "  \"decisions\": [{\"subject\": string, \"decision\": string, \"rejected\": [string], \"rationale\": string, \"confidence\": number}],  // 0-%d items\n", l.MaxDecisions)
	fmt.Fprintf(&b, "  \"summary\": string  // 1-2 sentences\n")
	fmt.Fprintf(&b, "}\n")
	return b.String()
}

type rawTopic struct {
	Name       string   `json:"name"`
	Confidence *float64 `json:"confidence"`
}

type rawTerm struct {
	Name       string   `json:"name"`
	Definition string   `json:"definition"`
	Confidence *float64 `json:"confidence"`
}

type rawDecision struct {
	Subject    string   `json:"subject"`
	Decision   string   `json:"decision"`
	Rejected   []string `json:"rejected"`
	Rationale  string   `json:"rationale"`
	Confidence *float64 `json:"confidence"`
}

type rawResponse struct {
	Topics    []rawTopic    `json:"topics"`
	Terms     []rawTerm     `json:"terms"`
	Decisions []rawDecision `json:"decisions"`
	Summary   string        `json:"summary"`
}

// ParseResponse strips an optional surrounding code fence, decodes the
// JSON object, and adapts its contents into entities at, defaulting
// confidence to 0.5 and clamping it into [0,1]. A response that fails to
// decode yields an empty Result, not an error.
func ParseResponse(raw string, at time.Time) Result {
	body := stripCodeFence(raw)

	var parsed rawResponse
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return Result{}
	}

	var entities []model.Entity

	for _, t := range parsed.Topics {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			continue
		}
		e, err := model.NewEntity(model.EntityConcept, name, nil, confidenceOf(t.Confidence), at)
		if err != nil {
			continue
		}
		entities = append(entities, e)
	}

	for _, t := range parsed.Terms {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			continue
		}
		var metadata map[string]any
		if t.Definition != "" {
			metadata = map[string]any{"definition": t.Definition}
		}
		e, err := model.NewEntity(model.EntityTerm, name, metadata, confidenceOf(t.Confidence), at)
		if err != nil {
			continue
		}
		entities = append(entities, e)
	}

	for _, d := range parsed.Decisions {
		subject := strings.TrimSpace(d.Subject)
		decision := strings.TrimSpace(d.Decision)
		if subject == "" || decision == "" {
			continue
		}
		metadata := map[string]any{
			"subject":  subject,
			"decision": decision,
			"rejected": d.Rejected,
		}
		if d.Rationale != "" {
			metadata["rationale"] = d.Rationale
		}
		e, err := model.NewEntity(model.EntityDecision, subject, metadata, confidenceOf(d.Confidence), at)
		if err != nil {
			continue
		}
		entities = append(entities, e)
	}

	return Result{Entities: entities, Summary: parsed.Summary}
}

func confidenceOf(c *float64) float64 {
	if c == nil {
		return 0.5
	}
	v := *c
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return s
	}
	lines = lines[1:]
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
