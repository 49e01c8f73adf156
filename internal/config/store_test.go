package config

import (
	"os"
	"path/filepath"
	"testing"

	"scad-studio/internal/domain"
)

// TestDefaultSettings verifies baseline defaults are present.
func TestDefaultSettings(t *testing.T) {
	cfg := DefaultSettings()
	if cfg.CompilerPath == "" {
		t.Fatal("expected non-empty compiler path")
	}
	if cfg.ModelsDir == "" {
		t.Fatal("expected non-empty models dir")
	}
	if cfg.LibrariesDir == "" {
		t.Fatal("expected non-empty libraries dir")
	}
	if cfg.RenderTimeoutSeconds <= 0 {
		t.Fatalf("render timeout = %d, want > 0", cfg.RenderTimeoutSeconds)
	}
	if cfg.ViewerTargetSpan <= 0 {
		t.Fatalf("target span = %v, want > 0", cfg.ViewerTargetSpan)
	}
}

// TestJSONStoreLoadMissingReturnsDefaults checks first-run behavior.
func TestJSONStoreLoadMissingReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "settings.json")
	store := NewJSONStore(path)

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.ListenAddr != ":5000" {
		t.Fatalf("listen addr = %q, want :5000", got.ListenAddr)
	}
}

// TestJSONStoreSaveAndLoadRoundTrip checks persisted settings fidelity.
func TestJSONStoreSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.json")
	store := NewJSONStore(path)
	want := domain.Settings{
		CompilerPath:         "/opt/openscad/bin/openscad",
		ModelsDir:            "/var/lib/scad-studio/models",
		LibrariesDir:         "/var/lib/scad-studio/libraries",
		ListenAddr:           ":8080",
		RenderTimeoutSeconds: 30,
		ViewerTargetSpan:     12,
	}

	if err := store.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != want {
		t.Fatalf("settings = %+v, want %+v", got, want)
	}
}

// TestJSONStoreLoadFillsMissingFields checks upgrade from partial files.
func TestJSONStoreLoadFillsMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(`{"compilerPath":"/bin/openscad"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	store := NewJSONStore(path)
	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.CompilerPath != "/bin/openscad" {
		t.Fatalf("compiler path = %q", got.CompilerPath)
	}
	if got.ModelsDir == "" || got.RenderTimeoutSeconds <= 0 {
		t.Fatalf("expected fallback fields, got %+v", got)
	}
}

// TestJSONStoreLoadInvalidJSON checks parse error handling.
func TestJSONStoreLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("{not-json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	store := NewJSONStore(path)
	if _, err := store.Load(); err == nil {
		t.Fatal("expected json parse error")
	}
}
