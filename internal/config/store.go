package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"scad-studio/internal/domain"
)

// Store defines persistence operations for app settings.
type Store interface {
	Load() (domain.Settings, error)
	Save(domain.Settings) error
}

// JSONStore persists settings in a single JSON file on disk.
type JSONStore struct {
	path string
}

// NewJSONStore creates a JSON-backed settings store.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Load reads settings from disk or returns defaults when missing.
func (s *JSONStore) Load() (domain.Settings, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultSettings(), nil
		}

		return domain.Settings{}, err
	}

	var cfg domain.Settings
	if err := json.Unmarshal(data, &cfg); err != nil {
		return domain.Settings{}, err
	}

	return applyFallbacks(cfg), nil
}

// Save writes settings as indented JSON and creates parent directories.
func (s *JSONStore) Save(cfg domain.Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0o644)
}

// applyFallbacks fills zero-valued fields from defaults so settings files
// written by older versions keep working.
func applyFallbacks(cfg domain.Settings) domain.Settings {
	def := DefaultSettings()
	if cfg.CompilerPath == "" {
		cfg.CompilerPath = def.CompilerPath
	}
	if cfg.ModelsDir == "" {
		cfg.ModelsDir = def.ModelsDir
	}
	if cfg.LibrariesDir == "" {
		cfg.LibrariesDir = def.LibrariesDir
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if cfg.RenderTimeoutSeconds <= 0 {
		cfg.RenderTimeoutSeconds = def.RenderTimeoutSeconds
	}
	if cfg.ViewerTargetSpan <= 0 {
		cfg.ViewerTargetSpan = def.ViewerTargetSpan
	}
	return cfg
}
