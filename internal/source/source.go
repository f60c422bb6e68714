// Package source enumerates session transcript files on disk.
package source

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kepler-labs/transcriptvault/internal/model"
)

// SessionFile is one discovered session transcript.
type SessionFile struct {
	SessionID   string
	Path        string
	ProjectPath model.ProjectPath
	ModTime     time.Time
	Size        int64
}

// Source discovers session files under a root directory. Exposed as an
// interface so the sync engine can be driven by an in-memory fake in tests.
type Source interface {
	Discover(root string) ([]SessionFile, error)
}

// FileSource walks the filesystem, matching
// "<root>/<encoded-project>/<session-id>.jsonl" and
// "<root>/<encoded-project>/<session-id>/subagents/<sub-id>.jsonl".
type FileSource struct{}

// NewFileSource constructs the default filesystem-backed Source.
func NewFileSource() *FileSource { return &FileSource{} }

// Discover returns every session file found under root, in no particular
// order; filtering and sorting belong to the sync engine.
func (FileSource) Discover(root string) ([]SessionFile, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var out []SessionFile
	for _, projectEntry := range entries {
		if !projectEntry.IsDir() {
			continue
		}
		encoded := projectEntry.Name()
		projectDir := filepath.Join(root, encoded)
		projectPath := model.NewProjectPath(encoded, DecodeProjectPath(encoded))

		sessionEntries, err := os.ReadDir(projectDir)
		if err != nil {
			continue
		}
		for _, sessionEntry := range sessionEntries {
			name := sessionEntry.Name()
			if !sessionEntry.IsDir() && strings.HasSuffix(name, ".jsonl") {
				full := filepath.Join(projectDir, name)
				if sf, ok := sessionFileFor(full, projectPath); ok {
					out = append(out, sf)
				}
				continue
			}
			if sessionEntry.IsDir() {
				subDir := filepath.Join(projectDir, name, "subagents")
				subEntries, err := os.ReadDir(subDir)
				if err != nil {
					continue
				}
				for _, subEntry := range subEntries {
					subName := subEntry.Name()
					if subEntry.IsDir() || !strings.HasSuffix(subName, ".jsonl") {
						continue
					}
					full := filepath.Join(subDir, subName)
					if sf, ok := sessionFileFor(full, projectPath); ok {
						out = append(out, sf)
					}
				}
			}
		}
	}
	return out, nil
}

func sessionFileFor(path string, projectPath model.ProjectPath) (SessionFile, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return SessionFile{}, false
	}
	base := filepath.Base(path)
	id := strings.TrimSuffix(base, ".jsonl")
	return SessionFile{
		SessionID:   id,
		Path:        path,
		ProjectPath: projectPath,
		ModTime:     info.ModTime(),
		Size:        info.Size(),
	}, true
}

// DecodeProjectPath converts a filesystem-safe encoded directory name back
// into its decoded form by replacing path-separator stand-ins with "/".
// This mirrors the on-disk convention used by the host application's own
// session directories (a leading "-" for the root, "-" between
// components); it is a best-effort inverse, acceptable here because
// discovery only needs a readable decoded path, not a perfect round-trip.
func DecodeProjectPath(encoded string) string {
	if encoded == "" {
		return "/"
	}
	decoded := strings.ReplaceAll(encoded, "-", "/")
	if !strings.HasPrefix(decoded, "/") {
		decoded = "/" + decoded
	}
	return decoded
}
