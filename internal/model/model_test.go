package model

import (
	"errors"
	"testing"
	"time"
)

func TestNewSessionRejectsEmptyID(t *testing.T) {
	if _, err := NewSession("", NewProjectPath("a", "/a"), time.Now()); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestSessionWithEndedAtWidensOnly(t *testing.T) {
	start := time.Now()
	s, err := NewSession("s1", NewProjectPath("enc", "/home/me/proj"), start)
	if err != nil {
		t.Fatal(err)
	}
	first := start.Add(time.Hour)
	s = s.WithEndedAt(first)
	if !s.EndedAt().Equal(first) {
		t.Fatalf("expected ended at %v, got %v", first, s.EndedAt())
	}
	earlier := start.Add(time.Minute)
	s = s.WithEndedAt(earlier)
	if !s.EndedAt().Equal(first) {
		t.Fatalf("expected ended at to stay %v, got %v", first, s.EndedAt())
	}
}

func TestProjectPathName(t *testing.T) {
	p := NewProjectPath("-home-me-proj", "/home/me/proj")
	if p.Name() != "proj" {
		t.Fatalf("expected proj, got %q", p.Name())
	}
}

func TestNewMessageRejectsInvalidRole(t *testing.T) {
	_, err := NewMessage("m1", "s1", Role("bogus"), "hi", time.Now(), nil)
	if err == nil {
		t.Fatal("expected error for invalid role")
	}
	if !errors.Is(err, err) {
		t.Fatal("sanity")
	}
}

func TestMessageToolUseIDsDefensiveCopy(t *testing.T) {
	m, err := NewMessage("m1", "s1", RoleAssistant, "hi", time.Now(), []string{"t1", "t2"})
	if err != nil {
		t.Fatal(err)
	}
	ids := m.ToolUseIDs()
	ids[0] = "mutated"
	if m.ToolUseIDs()[0] != "t1" {
		t.Fatal("mutation leaked into Message")
	}
}

func TestToolUseLifecycle(t *testing.T) {
	tu, err := NewToolUse("t1", "s1", "Bash", map[string]any{"command": "ls"}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if tu.Status() != ToolUsePending {
		t.Fatalf("expected pending, got %s", tu.Status())
	}
	tu = tu.WithResult("a\nb", false)
	if tu.Status() != ToolUseSuccess {
		t.Fatalf("expected success, got %s", tu.Status())
	}
	if tu.Result() == nil || *tu.Result() != "a\nb" {
		t.Fatalf("unexpected result %v", tu.Result())
	}
}

func TestToolUseInputDefensiveCopy(t *testing.T) {
	tu, err := NewToolUse("t1", "s1", "Read", map[string]any{"file_path": "/a"}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	in := tu.Input()
	in["file_path"] = "mutated"
	if tu.Input()["file_path"] != "/a" {
		t.Fatal("mutation leaked into ToolUse")
	}
}

func TestNewEntityRejectsOutOfRangeConfidence(t *testing.T) {
	if _, err := NewEntity(EntityConcept, "foo", nil, 1.5, time.Now()); err == nil {
		t.Fatal("expected error for confidence > 1")
	}
	if _, err := NewEntity(EntityConcept, "foo", nil, -0.1, time.Now()); err == nil {
		t.Fatal("expected error for confidence < 0")
	}
}

func TestNewEntityDecisionRequiresMetadata(t *testing.T) {
	if _, err := NewEntity(EntityDecision, "use postgres", nil, 0.9, time.Now()); err == nil {
		t.Fatal("expected error for decision missing metadata")
	}
	meta := map[string]any{"subject": "database", "decision": "use postgres"}
	e, err := NewEntity(EntityDecision, "use postgres", meta, 0.9, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Metadata()["subject"] != "database" {
		t.Fatal("metadata not retained")
	}
}

func TestEntityNameKeyCaseFolds(t *testing.T) {
	e, err := NewEntity(EntityConcept, "FTS5 Indexing", nil, 1, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if e.NameKey() != "fts5 indexing" {
		t.Fatalf("unexpected name key %q", e.NameKey())
	}
}

func TestEntityWithConfidenceTakesMax(t *testing.T) {
	e, err := NewEntity(EntityConcept, "foo", nil, 0.4, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	e = e.WithConfidence(0.2)
	if e.Confidence() != 0.4 {
		t.Fatalf("expected max 0.4, got %v", e.Confidence())
	}
	e = e.WithConfidence(0.9)
	if e.Confidence() != 0.9 {
		t.Fatalf("expected max 0.9, got %v", e.Confidence())
	}
}

func TestNewLinkClampsWeight(t *testing.T) {
	l, err := NewLink(LinkKindSession, "s1", LinkKindTopic, "t1", RelationMentions, 2.0, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if l.Weight() != 1 {
		t.Fatalf("expected clamp to 1, got %v", l.Weight())
	}
}

func TestNewLinkRejectsUnknownRelationship(t *testing.T) {
	if _, err := NewLink(LinkKindSession, "s1", LinkKindTopic, "t1", Relationship("bogus"), 0.5, time.Now()); err == nil {
		t.Fatal("expected error for unknown relationship")
	}
}

func TestExtractionStateLifecycle(t *testing.T) {
	start := time.Now()
	st, err := NewExtractionState("id1", "/path/s1.jsonl", start, start, 100)
	if err != nil {
		t.Fatal(err)
	}
	st = st.WithInProgress().WithIncrementMessages(3)
	if st.Status() != ExtractionInProgress || st.MessagesExtracted() != 3 {
		t.Fatalf("unexpected state %+v", st)
	}
	completed := start.Add(time.Second)
	st, err = st.WithComplete(completed)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status() != ExtractionComplete || st.CompletedAt() == nil || st.CompletedAt().Before(st.StartedAt()) {
		t.Fatalf("unexpected complete state %+v", st)
	}
}

func TestExtractionStateCompleteRejectsEarlierTime(t *testing.T) {
	start := time.Now()
	st, err := NewExtractionState("id1", "/path/s1.jsonl", start, start, 100)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.WithComplete(start.Add(-time.Second)); err == nil {
		t.Fatal("expected error for completedAt before startedAt")
	}
}

func TestNewSessionEntityFloorsFrequency(t *testing.T) {
	se, err := NewSessionEntity("s1", 5, 0)
	if err != nil {
		t.Fatal(err)
	}
	if se.Frequency() != 1 {
		t.Fatalf("expected frequency floored to 1, got %d", se.Frequency())
	}
}
