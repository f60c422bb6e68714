package recovery

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/kepler-labs/transcriptvault/internal/config"
	"github.com/kepler-labs/transcriptvault/internal/model"
	"github.com/kepler-labs/transcriptvault/internal/repository"
	"github.com/kepler-labs/transcriptvault/internal/source"
	"github.com/kepler-labs/transcriptvault/internal/store"
	"github.com/kepler-labs/transcriptvault/internal/sync"
)

type fakeSource struct {
	files []source.SessionFile
}

func (f fakeSource) Discover(root string) ([]source.SessionFile, error) {
	return f.files, nil
}

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

func sessionFile(id, path string) source.SessionFile {
	return source.SessionFile{
		SessionID:   id,
		Path:        path,
		ProjectPath: model.NewProjectPath("-home-dev-proj", "/home/dev/proj"),
		ModTime:     time.Now(),
		Size:        10,
	}
}

func TestGetPendingCountCountsMissingAndIncomplete(t *testing.T) {
	repos := newTestRepos(t)
	complete, err := model.NewExtractionState("s1", "/root/s1.jsonl", time.Now(), time.Now(), 10)
	if err != nil {
		t.Fatalf("new state: %v", err)
	}
	complete = complete.WithInProgress()
	complete, err = complete.WithComplete(time.Now())
	if err != nil {
		t.Fatalf("complete state: %v", err)
	}
	if err := repos.ExtractionStates.Save(complete); err != nil {
		t.Fatalf("save state: %v", err)
	}

	files := []source.SessionFile{
		sessionFile("s1", "/root/s1.jsonl"), // complete, not pending
		sessionFile("s2", "/root/s2.jsonl"), // no state at all, pending
	}
	src := fakeSource{files: files}
	engine := New(repos, src, nil, config.RecoveryConfig{RecoveryOnStartup: true}, "/root")

	count, err := engine.GetPendingCount()
	if err != nil {
		t.Fatalf("get pending count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 pending session, got %d", count)
	}
}

func TestRecoverSkipsWhenDisabledAndNotDryRun(t *testing.T) {
	repos := newTestRepos(t)
	src := fakeSource{}
	engine := New(repos, src, nil, config.RecoveryConfig{RecoveryOnStartup: false}, "/root")

	result, err := engine.Recover(Options{})
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if !result.Skipped {
		t.Fatal("expected recovery to be skipped")
	}
}

func TestRecoverDryRunReportsPendingWithoutSyncing(t *testing.T) {
	repos := newTestRepos(t)
	src := fakeSource{files: []source.SessionFile{sessionFile("s1", "/root/s1.jsonl")}}
	engine := New(repos, src, nil, config.RecoveryConfig{RecoveryOnStartup: false}, "/root")

	result, err := engine.Recover(Options{DryRun: true})
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if result.Skipped {
		t.Fatal("dry run should not be skipped even when recovery-on-startup is disabled")
	}
	if len(result.PendingSessionPaths) != 1 || result.PendingSessionPaths[0] != "/root/s1.jsonl" {
		t.Fatalf("unexpected pending paths: %+v", result.PendingSessionPaths)
	}
	if result.Processed != 0 {
		t.Fatalf("dry run must not process any session, got %d", result.Processed)
	}
}

func TestRecoverProcessesPendingSessionsThroughSyncEngine(t *testing.T) {
	repos := newTestRepos(t)
	sf := sessionFile("s1", filepath.Join(t.TempDir(), "s1.jsonl"))
	src := fakeSource{files: []source.SessionFile{sf}}
	syncEngine := sync.New(repos, src, nil)
	engine := New(repos, src, syncEngine, config.RecoveryConfig{RecoveryOnStartup: true}, "/root")

	result, err := engine.Recover(Options{})
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	// The fixture file doesn't exist on disk, so sync will fail to open it;
	// recovery must record the per-session error rather than abort.
	if result.Processed != 0 || len(result.Errors) != 1 {
		t.Fatalf("expected one recorded per-session error, got %+v", result)
	}
}

func TestRecoverHonorsMaxSessions(t *testing.T) {
	repos := newTestRepos(t)
	files := []source.SessionFile{
		sessionFile("s1", "/root/s1.jsonl"),
		sessionFile("s2", "/root/s2.jsonl"),
		sessionFile("s3", "/root/s3.jsonl"),
	}
	src := fakeSource{files: files}
	syncEngine := sync.New(repos, src, nil)
	engine := New(repos, src, syncEngine, config.RecoveryConfig{RecoveryOnStartup: true}, "/root")

	result, err := engine.Recover(Options{MaxSessions: 2})
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if result.Processed+len(result.Errors) != 2 {
		t.Fatalf("expected recovery to touch exactly 2 of 3 pending sessions, got processed=%d errors=%d",
			result.Processed, len(result.Errors))
	}
}
