package transfer

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/kepler-labs/transcriptvault/internal/enginerr"
	"github.com/kepler-labs/transcriptvault/internal/model"
	"github.com/kepler-labs/transcriptvault/internal/repository"
	"github.com/kepler-labs/transcriptvault/internal/store"
)

func newTestRepos(t *testing.T) *repository.Repositories {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return repository.New(db)
}

func seedSession(t *testing.T, repos *repository.Repositories, id string) model.Session {
	t.Helper()
	s, err := model.NewSession(id, model.NewProjectPath("-home-dev-proj", "/home/dev/proj"), time.Now())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	s = s.WithMessageCount(1)
	if err := repos.Sessions.Insert(s); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	m, err := model.NewMessage("msg-1", id, model.RoleUser, "hello", time.Now(), nil)
	if err != nil {
		t.Fatalf("new message: %v", err)
	}
	if err := repos.Messages.Insert(m); err != nil {
		t.Fatalf("insert message: %v", err)
	}
	e, err := repos.Entities.Upsert(mustEntity(t))
	if err != nil {
		t.Fatalf("upsert entity: %v", err)
	}
	se, err := model.NewSessionEntity(id, e.ID(), 1)
	if err != nil {
		t.Fatalf("new session entity: %v", err)
	}
	if err := repos.SessionEntities.Insert(se); err != nil {
		t.Fatalf("insert session entity: %v", err)
	}
	return s
}

func mustEntity(t *testing.T) model.Entity {
	t.Helper()
	e, err := model.NewEntity(model.EntityConcept, "widgets", map[string]any{}, 0.8, time.Now())
	if err != nil {
		t.Fatalf("new entity: %v", err)
	}
	return e
}

func TestExportThenImportRoundTripsWithoutClearing(t *testing.T) {
	src := newTestRepos(t)
	seedSession(t, src, "s1")

	doc, err := Export(src, time.Now())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if doc.Stats.Sessions != 1 || doc.Stats.Messages != 1 || doc.Stats.Entities != 1 || doc.Stats.SessionEntities != 1 {
		t.Fatalf("unexpected export stats: %+v", doc.Stats)
	}

	data, err := marshalDoc(doc)
	if err != nil {
		t.Fatalf("marshal doc: %v", err)
	}

	dst := newTestRepos(t)
	stats, err := ImportFromBytes(context.Background(), dst, data, ImportOptions{})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if stats.Sessions != 1 || stats.Messages != 1 || stats.Entities != 1 || stats.SessionEntities != 1 {
		t.Fatalf("unexpected import stats: %+v", stats)
	}

	got, err := dst.Sessions.GetByID("s1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got == nil {
		t.Fatal("expected imported session to exist")
	}

	// Re-importing the same document must be idempotent: every write uses
	// ignore-on-conflict semantics, so counts of surviving rows don't double.
	if _, err := ImportFromBytes(context.Background(), dst, data, ImportOptions{}); err != nil {
		t.Fatalf("second import: %v", err)
	}
	sessions, err := dst.Sessions.ListAll()
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected re-import to stay idempotent, got %d sessions", len(sessions))
	}
}

func TestImportWithClearExistingReplacesPriorContent(t *testing.T) {
	src := newTestRepos(t)
	seedSession(t, src, "s1")
	doc, err := Export(src, time.Now())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := marshalDoc(doc)
	if err != nil {
		t.Fatalf("marshal doc: %v", err)
	}

	dst := newTestRepos(t)
	seedSession(t, dst, "stale")

	if _, err := ImportFromBytes(context.Background(), dst, data, ImportOptions{ClearExisting: true}); err != nil {
		t.Fatalf("import with clear: %v", err)
	}

	stale, err := dst.Sessions.GetByID("stale")
	if err != nil {
		t.Fatalf("get stale session: %v", err)
	}
	if stale != nil {
		t.Fatal("expected clearing import to remove the pre-existing session")
	}
	restored, err := dst.Sessions.GetByID("s1")
	if err != nil {
		t.Fatalf("get restored session: %v", err)
	}
	if restored == nil {
		t.Fatal("expected the exported session to be restored")
	}
}

func TestImportFromFileRestoresDocument(t *testing.T) {
	src := newTestRepos(t)
	seedSession(t, src, "s1")
	path := filepath.Join(t.TempDir(), "export.json")
	if _, err := ExportToFile(src, path, time.Now()); err != nil {
		t.Fatalf("export to file: %v", err)
	}

	dst := newTestRepos(t)
	stats, err := ImportFromFile(context.Background(), dst, path, ImportOptions{})
	if err != nil {
		t.Fatalf("import from file: %v", err)
	}
	if stats.Sessions != 1 {
		t.Fatalf("unexpected import stats: %+v", stats)
	}
	got, err := dst.Sessions.GetByID("s1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got == nil {
		t.Fatal("expected imported session to exist")
	}
}

func TestImportFromFileMissingPathRaisesInvalidExportFile(t *testing.T) {
	dst := newTestRepos(t)
	missing := filepath.Join(t.TempDir(), "does-not-exist.json")
	_, err := ImportFromFile(context.Background(), dst, missing, ImportOptions{})
	assertInvalidExportFile(t, err)
}

func TestImportFromFileUnreadablePathRaisesInvalidExportFile(t *testing.T) {
	dst := newTestRepos(t)
	dir := t.TempDir()
	_, err := ImportFromFile(context.Background(), dst, dir, ImportOptions{})
	assertInvalidExportFile(t, err)
}

func TestImportRejectsMissingVersion(t *testing.T) {
	dst := newTestRepos(t)
	_, err := ImportFromBytes(context.Background(), dst, []byte(`{"stats":{},"sessions":[],"messages":[],"toolUses":[],"entities":[],"links":[]}`), ImportOptions{})
	assertInvalidExportFile(t, err)
}

func TestImportRejectsNonArraySessions(t *testing.T) {
	dst := newTestRepos(t)
	body := `{"version":"1.0","stats":{},"sessions":{},"messages":[],"toolUses":[],"entities":[],"links":[]}`
	_, err := ImportFromBytes(context.Background(), dst, []byte(body), ImportOptions{})
	assertInvalidExportFile(t, err)
}

func TestImportRejectsNonObjectStats(t *testing.T) {
	dst := newTestRepos(t)
	body := `{"version":"1.0","stats":[],"sessions":[],"messages":[],"toolUses":[],"entities":[],"links":[]}`
	_, err := ImportFromBytes(context.Background(), dst, []byte(body), ImportOptions{})
	assertInvalidExportFile(t, err)
}

func assertInvalidExportFile(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errorsIsInvalidExportFile(err) {
		t.Fatalf("expected InvalidExportFile category, got: %v", err)
	}
}

func errorsIsInvalidExportFile(err error) bool {
	for err != nil {
		if ee, ok := err.(*enginerr.Error); ok {
			return ee.Category == enginerr.InvalidExportFile
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func marshalDoc(doc Document) ([]byte, error) {
	return json.Marshal(doc)
}
