package repository

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kepler-labs/transcriptvault/internal/model"
	"github.com/kepler-labs/transcriptvault/internal/store"
)

func newTestRepos(t *testing.T) *Repositories {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "repository_test.db")
	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
		os.Remove(dbPath)
	})
	return New(db)
}

func TestSessionInsertAndGet(t *testing.T) {
	repos := newTestRepos(t)
	start := time.Now().Truncate(time.Second)

	s, err := model.NewSession("s1", model.NewProjectPath("-home-me-proj", "/home/me/proj"), start)
	if err != nil {
		t.Fatal(err)
	}
	if err := repos.Sessions.Insert(s); err != nil {
		t.Fatal(err)
	}
	if err := repos.Sessions.Insert(s); err != nil {
		t.Fatalf("duplicate insert should be ignored, not error: %v", err)
	}

	got, err := repos.Sessions.GetByID("s1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID() != "s1" || got.ProjectName() != "proj" {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestMessageBatchInsertIgnoresDuplicates(t *testing.T) {
	repos := newTestRepos(t)
	start := time.Now().Truncate(time.Second)
	s, _ := model.NewSession("s1", model.NewProjectPath("enc", "/a"), start)
	if err := repos.Sessions.Insert(s); err != nil {
		t.Fatal(err)
	}

	m, err := model.NewMessage("m1", "s1", model.RoleUser, "hello", start, nil)
	if err != nil {
		t.Fatal(err)
	}
	result := repos.Messages.BatchInsert([]model.Message{m, m})
	if result.Inserted != 1 || result.Skipped != 1 || len(result.Errors) != 0 {
		t.Fatalf("unexpected batch result: %+v", result)
	}

	msgs, err := repos.Messages.ListBySession("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected ignore-on-conflict to leave one row, got %d", len(msgs))
	}
}

func TestToolUseBatchInsertIgnoresDuplicates(t *testing.T) {
	repos := newTestRepos(t)
	start := time.Now().Truncate(time.Second)
	s, _ := model.NewSession("s1", model.NewProjectPath("enc", "/a"), start)
	if err := repos.Sessions.Insert(s); err != nil {
		t.Fatal(err)
	}

	tu, err := model.NewToolUse("t1", "s1", "Bash", map[string]any{"command": "ls"}, start)
	if err != nil {
		t.Fatal(err)
	}
	result := repos.ToolUses.BatchInsert([]model.ToolUse{tu, tu})
	if result.Inserted != 1 || result.Skipped != 1 || len(result.Errors) != 0 {
		t.Fatalf("unexpected batch result: %+v", result)
	}
}

func TestToolUseLifecyclePersisted(t *testing.T) {
	repos := newTestRepos(t)
	start := time.Now().Truncate(time.Second)
	s, _ := model.NewSession("s1", model.NewProjectPath("enc", "/a"), start)
	if err := repos.Sessions.Insert(s); err != nil {
		t.Fatal(err)
	}

	tu, err := model.NewToolUse("t1", "s1", "Bash", map[string]any{"command": "ls"}, start)
	if err != nil {
		t.Fatal(err)
	}
	tu = tu.WithResult("a\nb", false)
	if err := repos.ToolUses.Insert(tu); err != nil {
		t.Fatal(err)
	}

	got, err := repos.ToolUses.GetByID("t1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Status() != model.ToolUseSuccess || got.Result() == nil || *got.Result() != "a\nb" {
		t.Fatalf("unexpected tool use: %+v", got)
	}
	if got.Input()["command"] != "ls" {
		t.Fatalf("input not round-tripped: %+v", got.Input())
	}
}

func TestEntityUpsertTakesMaxConfidenceAndKeepsID(t *testing.T) {
	repos := newTestRepos(t)
	now := time.Now().Truncate(time.Second)

	e1, _ := model.NewEntity(model.EntityConcept, "FTS5 Indexing", nil, 0.4, now)
	first, err := repos.Entities.Upsert(e1)
	if err != nil {
		t.Fatal(err)
	}

	e2, _ := model.NewEntity(model.EntityConcept, "fts5 indexing", map[string]any{"note": "x"}, 0.9, now)
	second, err := repos.Entities.Upsert(e2)
	if err != nil {
		t.Fatal(err)
	}

	if second.ID() != first.ID() {
		t.Fatalf("expected stable id across collision, got %d then %d", first.ID(), second.ID())
	}
	if second.Confidence() != 0.9 {
		t.Fatalf("expected max confidence 0.9, got %v", second.Confidence())
	}
	if second.Metadata()["note"] != "x" {
		t.Fatalf("expected non-empty metadata to win, got %+v", second.Metadata())
	}
}

func TestSessionEntityFrequencySums(t *testing.T) {
	repos := newTestRepos(t)
	now := time.Now().Truncate(time.Second)
	s, _ := model.NewSession("s1", model.NewProjectPath("enc", "/a"), now)
	if err := repos.Sessions.Insert(s); err != nil {
		t.Fatal(err)
	}
	e, _ := model.NewEntity(model.EntityFile, "main.go", nil, 1, now)
	entity, err := repos.Entities.Upsert(e)
	if err != nil {
		t.Fatal(err)
	}

	se1, _ := model.NewSessionEntity("s1", entity.ID(), 2)
	se2, _ := model.NewSessionEntity("s1", entity.ID(), 3)
	if err := repos.SessionEntities.Insert(se1); err != nil {
		t.Fatal(err)
	}
	if err := repos.SessionEntities.Insert(se2); err != nil {
		t.Fatal(err)
	}

	entities, err := repos.Entities.ListBySession("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entities) != 1 {
		t.Fatalf("expected 1 linked entity, got %d", len(entities))
	}

	freq, err := repos.SessionEntities.Frequency("s1", entity.ID())
	if err != nil {
		t.Fatal(err)
	}
	if freq != 5 {
		t.Fatalf("expected summed frequency 5, got %d", freq)
	}
}

func TestEntityLinkTraversalClampsCyclesAndAttenuatesWeight(t *testing.T) {
	repos := newTestRepos(t)
	now := time.Now().Truncate(time.Second)

	a, err := repos.Entities.Upsert(mustEntity(t, "A", now))
	if err != nil {
		t.Fatal(err)
	}
	b, err := repos.Entities.Upsert(mustEntity(t, "B", now))
	if err != nil {
		t.Fatal(err)
	}
	c, err := repos.Entities.Upsert(mustEntity(t, "C", now))
	if err != nil {
		t.Fatal(err)
	}

	mustLink(t, repos, a.ID(), b.ID(), 0.5, now)
	mustLink(t, repos, b.ID(), c.ID(), 0.5, now)
	mustLink(t, repos, c.ID(), a.ID(), 0.5, now)

	results, err := repos.EntityLinks.Traverse(a.ID(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 reachable targets (B, C), got %d: %+v", len(results), results)
	}
	for _, r := range results {
		if r.TargetID == a.ID() {
			t.Fatalf("cycle back to seed leaked into results: %+v", r)
		}
	}
}

func mustEntity(t *testing.T, name string, now time.Time) model.Entity {
	t.Helper()
	e, err := model.NewEntity(model.EntityConcept, name, nil, 1, now)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func mustLink(t *testing.T, repos *Repositories, source, target int64, weight float64, now time.Time) {
	t.Helper()
	l, err := model.NewEntityLink(source, target, model.EntityRelationRelated, weight, now)
	if err != nil {
		t.Fatal(err)
	}
	if err := repos.EntityLinks.Insert(l); err != nil {
		t.Fatal(err)
	}
}
