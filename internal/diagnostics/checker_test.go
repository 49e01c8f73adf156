package diagnostics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"scad-studio/internal/domain"
)

// TestCheckerRunAllPass validates the happy-path diagnostics report.
func TestCheckerRunAllPass(t *testing.T) {
	root := t.TempDir()
	checker := NewCheckerForTests(
		func(name string) (string, error) { return "/usr/bin/" + name, nil },
		os.Stat,
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(domain.Settings{
		CompilerPath: "openscad",
		ModelsDir:    filepath.Join(root, "models"),
		LibrariesDir: filepath.Join(root, "libraries"),
	})

	if report.HasFailures {
		t.Fatalf("expected no failures, got %+v", report.Items)
	}
}

// TestCheckerRunMissingCompilerAndPaths validates failure reporting.
func TestCheckerRunMissingCompilerAndPaths(t *testing.T) {
	checker := NewCheckerForTests(
		func(string) (string, error) { return "", errors.New("not found") },
		os.Stat,
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(domain.Settings{
		CompilerPath: "openscad",
		ModelsDir:    "",
		LibrariesDir: "",
	})

	if !report.HasFailures {
		t.Fatal("expected failures")
	}

	assertStatusByID(t, report, "compiler", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "models_dir", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "libraries_dir", domain.DiagnosticStatusFail)
}

// TestCheckerExplicitCompilerPath validates stat-based resolution.
func TestCheckerExplicitCompilerPath(t *testing.T) {
	root := t.TempDir()
	compiler := filepath.Join(root, "openscad")
	if err := os.WriteFile(compiler, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write compiler stub: %v", err)
	}

	checker := NewCheckerForTests(
		func(string) (string, error) { return "", errors.New("lookPath must not be used for explicit paths") },
		os.Stat,
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(domain.Settings{
		CompilerPath: compiler,
		ModelsDir:    filepath.Join(root, "models"),
		LibrariesDir: filepath.Join(root, "libraries"),
	})

	assertStatusByID(t, report, "compiler", domain.DiagnosticStatusPass)
}

// TestCheckerExplicitCompilerPathMissing validates the not-found message.
func TestCheckerExplicitCompilerPathMissing(t *testing.T) {
	root := t.TempDir()
	checker := NewCheckerForTests(
		func(name string) (string, error) { return "/usr/bin/" + name, nil },
		os.Stat,
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(domain.Settings{
		CompilerPath: filepath.Join(root, "no-such-openscad"),
		ModelsDir:    filepath.Join(root, "models"),
		LibrariesDir: filepath.Join(root, "libraries"),
	})

	assertStatusByID(t, report, "compiler", domain.DiagnosticStatusFail)
}

// TestCheckerUnwritableDirFails validates the write probe.
func TestCheckerUnwritableDirFails(t *testing.T) {
	root := t.TempDir()
	checker := NewCheckerForTests(
		func(name string) (string, error) { return "/usr/bin/" + name, nil },
		os.Stat,
		os.MkdirAll,
		func(string, string) (*os.File, error) { return nil, errors.New("read-only filesystem") },
		os.Remove,
	)

	report := checker.Run(domain.Settings{
		CompilerPath: "openscad",
		ModelsDir:    filepath.Join(root, "models"),
		LibrariesDir: filepath.Join(root, "libraries"),
	})

	assertStatusByID(t, report, "models_dir", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "libraries_dir", domain.DiagnosticStatusFail)
}

// assertStatusByID checks status for one diagnostic item by ID.
func assertStatusByID(t *testing.T, report domain.DiagnosticReport, id string, want domain.DiagnosticStatus) {
	t.Helper()
	for _, item := range report.Items {
		if item.ID == id {
			if item.Status != want {
				t.Fatalf("item %s: got %s, want %s", id, item.Status, want)
			}
			return
		}
	}
	t.Fatalf("diagnostic item not found: %s", id)
}
