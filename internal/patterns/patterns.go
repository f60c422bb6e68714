// Package patterns derives file-touch and tool-usage facts from a
// session's tool uses with pure functions, no I/O.
package patterns

import (
	"strings"
	"time"

	"github.com/kepler-labs/transcriptvault/internal/model"
)

var filePathTools = map[string]bool{
	"Read": true, "Write": true, "Edit": true, "NotebookEdit": true,
}

var searchPathTools = map[string]bool{
	"Glob": true, "Grep": true,
}

var modifyingTools = map[string]bool{
	"Write": true, "Edit": true, "NotebookEdit": true,
}

// Modification is one successful file-modifying tool invocation.
type Modification struct {
	Path      string
	Operation string
	Instant   model.ToolUse
}

// ToolStat counts one tool's invocation outcomes.
type ToolStat struct {
	Count        int
	SuccessCount int
	ErrorCount   int
}

// FilePaths returns the union of file paths a tool-use sequence touched:
// input.file_path for Read/Write/Edit/NotebookEdit, input.path for
// Glob/Grep, and each non-empty result line of a successful Glob.
func FilePaths(toolUses []model.ToolUse) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		out = append(out, p)
	}

	for _, tu := range toolUses {
		input := tu.Input()
		switch {
		case filePathTools[tu.ToolName()]:
			if p, ok := input["file_path"].(string); ok {
				add(p)
			}
		case searchPathTools[tu.ToolName()]:
			if p, ok := input["path"].(string); ok {
				add(p)
			}
		}
		if tu.ToolName() == "Glob" && tu.Status() == model.ToolUseSuccess && tu.Result() != nil {
			for _, line := range strings.Split(*tu.Result(), "\n") {
				line = strings.TrimSpace(line)
				if line != "" {
					add(line)
				}
			}
		}
	}
	return out
}

// Modifications returns one entry per successful Write/Edit/NotebookEdit
// invocation that names a file_path.
func Modifications(toolUses []model.ToolUse) []Modification {
	var out []Modification
	for _, tu := range toolUses {
		if !modifyingTools[tu.ToolName()] || tu.Status() != model.ToolUseSuccess {
			continue
		}
		path, ok := tu.Input()["file_path"].(string)
		if !ok || path == "" {
			continue
		}
		out = append(out, Modification{
			Path:      path,
			Operation: strings.ToLower(tu.ToolName()),
			Instant:   tu,
		})
	}
	return out
}

// ToolStats summarises invocation counts per tool name.
func ToolStats(toolUses []model.ToolUse) map[string]ToolStat {
	stats := make(map[string]ToolStat)
	for _, tu := range toolUses {
		s := stats[tu.ToolName()]
		s.Count++
		switch tu.Status() {
		case model.ToolUseSuccess:
			s.SuccessCount++
		case model.ToolUseError:
			s.ErrorCount++
		}
		stats[tu.ToolName()] = s
	}
	return stats
}

// FilePathsToEntities adapts a set of touched file paths into file
// entities at confidence 1.0, stamped with at.
func FilePathsToEntities(paths []string, at time.Time) ([]model.Entity, error) {
	var out []model.Entity
	for _, p := range paths {
		e, err := model.NewEntity(model.EntityFile, p, nil, 1.0, at)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// ModificationsToEntities adapts modifications into file entities carrying
// the operation in metadata, at confidence 1.0.
func ModificationsToEntities(mods []Modification) ([]model.Entity, error) {
	var out []model.Entity
	for _, m := range mods {
		e, err := model.NewEntity(model.EntityFile, m.Path, map[string]any{"operation": m.Operation}, 1.0, m.Instant.OccurredAt())
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
