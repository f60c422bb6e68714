package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kepler-labs/transcriptvault/internal/control"
	"github.com/kepler-labs/transcriptvault/internal/model"
	"github.com/kepler-labs/transcriptvault/internal/repository"
	"github.com/kepler-labs/transcriptvault/internal/source"
	"github.com/kepler-labs/transcriptvault/internal/store"
)

// fakeExtractionProvider returns a fixed JSON response, so tests can
// exercise the LLM enrichment path without a real network client.
type fakeExtractionProvider struct {
	response string
}

func (f fakeExtractionProvider) Complete(ctx context.Context, prompt string) (string, error) {
	return f.response, nil
}

// fakeSource returns a fixed set of session files without touching disk
// layout conventions, so tests can point it at arbitrary fixture paths.
type fakeSource struct {
	files []source.SessionFile
}

func (f fakeSource) Discover(root string) ([]source.SessionFile, error) {
	return f.files, nil
}

func newTestEngine(t *testing.T) (*repository.Repositories, *repository.Repositories) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	repos := repository.New(db)
	return repos, repos
}

func writeFixture(t *testing.T, dir, name, contents string) source.SessionFile {
	t.Helper()
	path := filepath.Join(dir, name+".jsonl")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat fixture: %v", err)
	}
	return source.SessionFile{
		SessionID:   name,
		Path:        path,
		ProjectPath: model.NewProjectPath("-home-dev-proj", "/home/dev/proj"),
		ModTime:     info.ModTime(),
		Size:        info.Size(),
	}
}

const twoTurnTranscript = `{"type":"user","uuid":"u1","timestamp":"2026-01-01T00:00:00Z","message":{"role":"user","content":"hello"}}
{"type":"assistant","uuid":"a1","timestamp":"2026-01-01T00:00:01Z","message":{"role":"assistant","content":[{"type":"text","text":"hi there"},{"type":"tool_use","id":"tool1","name":"Read","input":{"file_path":"/tmp/x.go"}}]}}
{"type":"tool_result","uuid":"r1","timestamp":"2026-01-01T00:00:02Z","toolUseId":"tool1","content":"file contents","isError":false}
`

func TestSyncFreshSingleSessionProcessesOnce(t *testing.T) {
	control.SetTestCheckpointPath(filepath.Join(t.TempDir(), "checkpoint.json"))
	dir := t.TempDir()
	repos, _ := newTestEngine(t)
	sf := writeFixture(t, dir, "session-1", twoTurnTranscript)

	engine := New(repos, fakeSource{files: []source.SessionFile{sf}}, nil)
	result, err := engine.Sync(dir, Options{})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got errors: %+v", result.Errors)
	}
	if result.SessionsProcessed != 1 {
		t.Fatalf("expected 1 session processed, got %d", result.SessionsProcessed)
	}
	if result.MessagesInserted != 2 {
		t.Fatalf("expected 2 messages inserted, got %d", result.MessagesInserted)
	}
	if result.ToolUsesInserted != 1 {
		t.Fatalf("expected 1 tool use inserted, got %d", result.ToolUsesInserted)
	}

	stored, err := repos.Sessions.GetByID("session-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if stored == nil {
		t.Fatal("expected session to be persisted")
	}
	if stored.MessageCount() != 2 {
		t.Fatalf("expected message count 2, got %d", stored.MessageCount())
	}

	toolUses, err := repos.ToolUses.ListBySession("session-1")
	if err != nil {
		t.Fatalf("list tool uses: %v", err)
	}
	if len(toolUses) != 1 || toolUses[0].Status() != model.ToolUseSuccess {
		t.Fatalf("expected one successful tool use, got %+v", toolUses)
	}
}

func TestSyncDerivesAndPersistsGraphEntities(t *testing.T) {
	control.SetTestCheckpointPath(filepath.Join(t.TempDir(), "checkpoint.json"))
	dir := t.TempDir()
	repos, _ := newTestEngine(t)
	sf := writeFixture(t, dir, "session-1", twoTurnTranscript)

	provider := fakeExtractionProvider{response: `{
		"topics": [{"name": "Go testing", "confidence": 0.8}],
		"terms": [],
		"decisions": [],
		"summary": "Discussed Go testing."
	}`}
	engine := New(repos, fakeSource{files: []source.SessionFile{sf}}, provider)
	result, err := engine.Sync(dir, Options{})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got errors: %+v", result.Errors)
	}

	entities, err := repos.Entities.ListBySession("session-1")
	if err != nil {
		t.Fatalf("list entities by session: %v", err)
	}
	var sawFile, sawTopic bool
	for _, e := range entities {
		if e.Type() == model.EntityFile && e.Name() == "/tmp/x.go" {
			sawFile = true
		}
		if e.Type() == model.EntityConcept && e.Name() == "Go testing" {
			sawTopic = true
		}
	}
	if !sawFile {
		t.Fatalf("expected a pattern-derived file entity, got %+v", entities)
	}
	if !sawTopic {
		t.Fatalf("expected an llm-derived concept entity, got %+v", entities)
	}

	links, err := repos.Links.ListBySource(model.LinkKindSession, "session-1")
	if err != nil {
		t.Fatalf("list links by source: %v", err)
	}
	foundTopicLink := false
	for _, l := range links {
		if l.TargetKind() == model.LinkKindTopic && l.Relationship() == model.RelationMentions {
			foundTopicLink = true
		}
	}
	if !foundTopicLink {
		t.Fatalf("expected a session-to-topic link, got %+v", links)
	}

	stored, err := repos.Sessions.GetByID("session-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if stored == nil || stored.Summary() == nil || *stored.Summary() != "Discussed Go testing." {
		t.Fatalf("expected llm-derived summary to be persisted, got %+v", stored)
	}
}

func TestSyncToleratesExtractionProviderFailure(t *testing.T) {
	control.SetTestCheckpointPath(filepath.Join(t.TempDir(), "checkpoint.json"))
	dir := t.TempDir()
	repos, _ := newTestEngine(t)
	sf := writeFixture(t, dir, "session-1", twoTurnTranscript)

	engine := New(repos, fakeSource{files: []source.SessionFile{sf}}, failingProvider{})
	result, err := engine.Sync(dir, Options{})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !result.Success || result.SessionsProcessed != 1 {
		t.Fatalf("expected sync to succeed despite llm failure, got %+v", result)
	}

	entities, err := repos.Entities.ListBySession("session-1")
	if err != nil {
		t.Fatalf("list entities by session: %v", err)
	}
	if len(entities) == 0 {
		t.Fatalf("expected pattern-derived entities to still persist, got none")
	}
}

type failingProvider struct{}

func (failingProvider) Complete(ctx context.Context, prompt string) (string, error) {
	return "", errFakeProvider
}

var errFakeProvider = errFake("fake provider failure")

type errFake string

func (e errFake) Error() string { return string(e) }

func TestSyncSkipsUnchangedSessionOnRerun(t *testing.T) {
	control.SetTestCheckpointPath(filepath.Join(t.TempDir(), "checkpoint.json"))
	dir := t.TempDir()
	repos, _ := newTestEngine(t)
	sf := writeFixture(t, dir, "session-1", twoTurnTranscript)
	engine := New(repos, fakeSource{files: []source.SessionFile{sf}}, nil)

	if _, err := engine.Sync(dir, Options{}); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	result, err := engine.Sync(dir, Options{})
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if result.SessionsProcessed != 0 || result.SessionsSkipped != 1 {
		t.Fatalf("expected the unchanged session to be skipped, got %+v", result)
	}
}

func TestSyncForceReprocessesUnchangedSession(t *testing.T) {
	control.SetTestCheckpointPath(filepath.Join(t.TempDir(), "checkpoint.json"))
	dir := t.TempDir()
	repos, _ := newTestEngine(t)
	sf := writeFixture(t, dir, "session-1", twoTurnTranscript)
	engine := New(repos, fakeSource{files: []source.SessionFile{sf}}, nil)

	if _, err := engine.Sync(dir, Options{}); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	result, err := engine.Sync(dir, Options{Force: true})
	if err != nil {
		t.Fatalf("forced sync: %v", err)
	}
	if result.SessionsProcessed != 1 {
		t.Fatalf("expected forced re-sync to process the session again, got %+v", result)
	}
}

func TestSyncSessionFilterNarrowsCandidates(t *testing.T) {
	control.SetTestCheckpointPath(filepath.Join(t.TempDir(), "checkpoint.json"))
	dir := t.TempDir()
	repos, _ := newTestEngine(t)
	a := writeFixture(t, dir, "session-a", twoTurnTranscript)
	b := writeFixture(t, dir, "session-b", twoTurnTranscript)
	engine := New(repos, fakeSource{files: []source.SessionFile{a, b}}, nil)

	result, err := engine.Sync(dir, Options{SessionFilter: "session-a"})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.SessionsProcessed != 1 {
		t.Fatalf("expected only the filtered session to process, got %+v", result)
	}
	if got, err := repos.Sessions.GetByID("session-b"); err != nil || got != nil {
		t.Fatalf("expected session-b to remain unpersisted, got %+v (err %v)", got, err)
	}
}
