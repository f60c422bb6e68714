package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/kepler-labs/transcriptvault/internal/model"
	"github.com/kepler-labs/transcriptvault/internal/repository"
)

func TestReadStatsCountsCoreTables(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "stats_test.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()

	repos := repository.New(db)
	s, err := model.NewSession("s1", model.NewProjectPath("enc", "/a"), time.Now())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := repos.Sessions.Insert(s); err != nil {
		t.Fatalf("insert session: %v", err)
	}

	stats, err := ReadStats(db)
	if err != nil {
		t.Fatalf("read stats: %v", err)
	}
	if stats.Sessions != 1 {
		t.Fatalf("expected 1 session, got %+v", stats)
	}
	if stats.Messages != 0 || stats.ToolUses != 0 || stats.Entities != 0 {
		t.Fatalf("expected empty remaining tables, got %+v", stats)
	}
}
