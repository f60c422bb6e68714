// Package config loads and persists transcriptvault's on-disk configuration.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/kepler-labs/transcriptvault/internal/logging"
	"github.com/kepler-labs/transcriptvault/internal/paths"
)

// ConfigBackupCount is the number of backup versions to keep
const ConfigBackupCount = 5

// LoadResult contains the loaded config and metadata about where it came from
type LoadResult struct {
	Config     *Config
	SourcePath string // Path to config.json that was found/created
	Created    bool   // True if no config file existed and defaults were written
}

// isMinimalJSON checks if JSON content is essentially empty (just {} or whitespace)
func isMinimalJSON(data []byte) bool {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return true
	}
	return len(m) == 0
}

// Config is the merged transcriptvault configuration.
type Config struct {
	Store      StoreConfig      `json:"store"`
	Sync       SyncConfig       `json:"sync"`
	Recovery   RecoveryConfig   `json:"recovery"`
	Extraction ExtractionConfig `json:"extraction"`
}

// StoreConfig configures the on-disk relational store.
type StoreConfig struct {
	Path string `json:"path"` // SQLite database file (default: ~/.transcriptvault/store.db)
}

// SyncConfig configures the session source and sync driver defaults.
type SyncConfig struct {
	SessionRoot    string `json:"sessionRoot"`    // Root directory containing per-project session directories
	CheckpointPath string `json:"checkpointPath"` // On-disk checkpoint file (default: ~/.transcriptvault/sync-checkpoint.json)
}

// RecoveryConfig controls the startup recovery pass (component I).
type RecoveryConfig struct {
	RecoveryOnStartup bool `json:"recoveryOnStartup"` // Run recovery automatically when the process starts (default: true)
	MaxSessions       int  `json:"maxSessions"`       // Cap on sessions recovered per pass (0 = unbounded)
}

// ExtractionConfig controls the LLM extraction contract (component G).
// The LLM call itself is external; this only tunes prompt assembly.
type ExtractionConfig struct {
	MaxTopics    int `json:"maxTopics"`    // Upper bound on topics requested per session (default: 5)
	MaxTerms     int `json:"maxTerms"`     // Upper bound on terms requested per session (default: 3)
	MaxDecisions int `json:"maxDecisions"` // Upper bound on decisions requested per session (default: 3)
}

// Load reads configuration from config.json, writing defaults on first run.
//
// Bootstrap mode (first run):
//   - If no config.json exists OR it's empty, write one seeded with defaults.
//
// Normal mode (subsequent runs):
//   - Load config.json, selectively merging onto defaults so that fields
//     absent from the file keep their default value.
func Load() (*LoadResult, error) {
	localPath := "config.json"
	globalPath, err := paths.DefaultConfigPath()
	if err != nil {
		return nil, fmt.Errorf("resolve default config path: %w", err)
	}

	var cfgPath string
	var data []byte
	var exists bool

	if d, err := os.ReadFile(localPath); err == nil {
		absPath, _ := filepath.Abs(localPath)
		cfgPath, data, exists = absPath, d, true
		logging.L_debug("config: found local config.json", "path", absPath, "size", len(data))
	} else if d, err := os.ReadFile(globalPath); err == nil {
		cfgPath, data, exists = globalPath, d, true
		logging.L_debug("config: found global config.json", "path", globalPath, "size", len(data))
	}

	needsBootstrap := !exists || isMinimalJSON(data)

	cfg := defaultConfig()

	if needsBootstrap {
		if cfgPath == "" {
			cfgPath, _ = filepath.Abs(localPath)
		}
		if err := WriteConfigWithBackup(cfgPath, cfg); err != nil {
			logging.L_error("config: failed to write default config", "path", cfgPath, "error", err)
		} else {
			logging.L_info("config: wrote defaults", "path", cfgPath)
		}
		return &LoadResult{Config: cfg, SourcePath: cfgPath, Created: true}, nil
	}

	if err := mergeJSONConfig(cfg, data); err != nil {
		logging.L_error("config: failed to parse config.json", "path", cfgPath, "error", err)
		return nil, err
	}
	logging.L_debug("config: loaded", "path", cfgPath, "storePath", cfg.Store.Path)

	return &LoadResult{Config: cfg, SourcePath: cfgPath, Created: false}, nil
}

func defaultConfig() *Config {
	storePath, _ := paths.DefaultStorePath()
	checkpointPath, _ := paths.DefaultCheckpointPath()

	return &Config{
		Store: StoreConfig{
			Path: storePath,
		},
		Sync: SyncConfig{
			SessionRoot:    "",
			CheckpointPath: checkpointPath,
		},
		Recovery: RecoveryConfig{
			RecoveryOnStartup: true,
			MaxSessions:       0,
		},
		Extraction: ExtractionConfig{
			MaxTopics:    5,
			MaxTerms:     3,
			MaxDecisions: 3,
		},
	}
}

// rotateBackups rotates config backup files.
// Keeps up to ConfigBackupCount versions:
//   - .bak.4 gets deleted (oldest)
//   - .bak.3 → .bak.4
//   - .bak.2 → .bak.3
//   - .bak.1 → .bak.2
//   - .bak → .bak.1
func rotateBackups(configPath string) {
	if ConfigBackupCount <= 1 {
		return
	}

	backupBase := configPath + ".bak"
	maxIndex := ConfigBackupCount - 1

	oldestPath := fmt.Sprintf("%s.%d", backupBase, maxIndex)
	if err := os.Remove(oldestPath); err != nil && !os.IsNotExist(err) {
		logging.L_trace("config: failed to remove oldest backup", "path", oldestPath, "error", err)
	}

	for i := maxIndex - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", backupBase, i)
		dst := fmt.Sprintf("%s.%d", backupBase, i+1)
		if err := os.Rename(src, dst); err != nil && !os.IsNotExist(err) {
			logging.L_trace("config: failed to rotate backup", "src", src, "dst", dst, "error", err)
		}
	}

	if err := os.Rename(backupBase, backupBase+".1"); err != nil && !os.IsNotExist(err) {
		logging.L_trace("config: failed to rotate .bak to .bak.1", "error", err)
	}
}

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return err
	}

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return err
	}
	defer dstFile.Close()

	_, err = io.Copy(dstFile, srcFile)
	return err
}

// WriteConfigWithBackup writes the config to the specified path with backup rotation.
// 1. Rotates existing backups
// 2. Copies current config to .bak
// 3. Writes new config atomically
func WriteConfigWithBackup(path string, cfg *Config) error {
	rotateBackups(path)

	if _, err := os.Stat(path); err == nil {
		backupPath := path + ".bak"
		if err := copyFile(path, backupPath); err != nil {
			logging.L_warn("config: failed to create backup", "path", backupPath, "error", err)
		} else {
			logging.L_trace("config: created backup", "path", backupPath)
		}
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')

	if err := paths.EnsureParentDir(path); err != nil {
		return fmt.Errorf("ensure config dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename config: %w", err)
	}

	logging.L_info("config: written", "path", path, "size", len(data))
	return nil
}

// mergeJSONConfig deep-merges JSON data into an existing config.
// Only fields actually present in the JSON override the existing config.
// This prevents partial configs from wiping out defaults for unspecified fields.
func mergeJSONConfig(dst *Config, jsonData []byte) error {
	var rawMap map[string]interface{}
	if err := json.Unmarshal(jsonData, &rawMap); err != nil {
		return fmt.Errorf("parse JSON: %w", err)
	}

	specifiedJSON, err := json.Marshal(rawMap)
	if err != nil {
		return fmt.Errorf("re-marshal specified fields: %w", err)
	}

	var src Config
	if err := json.Unmarshal(specifiedJSON, &src); err != nil {
		return fmt.Errorf("parse to config: %w", err)
	}

	return mergeConfigSelective(dst, &src, rawMap)
}

// mergeConfigSelective merges src into dst, but only for top-level fields
// that were present in the raw JSON map. This prevents zero-value structs
// from overwriting defaults.
func mergeConfigSelective(dst, src *Config, rawMap map[string]interface{}) error {
	if _, ok := rawMap["store"]; ok {
		if err := mergo.Merge(&dst.Store, src.Store, mergo.WithOverride); err != nil {
			return err
		}
	}
	if _, ok := rawMap["sync"]; ok {
		if err := mergo.Merge(&dst.Sync, src.Sync, mergo.WithOverride); err != nil {
			return err
		}
	}
	if _, ok := rawMap["recovery"]; ok {
		if err := mergo.Merge(&dst.Recovery, src.Recovery, mergo.WithOverride); err != nil {
			return err
		}
	}
	if _, ok := rawMap["extraction"]; ok {
		if err := mergo.Merge(&dst.Extraction, src.Extraction, mergo.WithOverride); err != nil {
			return err
		}
	}
	return nil
}
