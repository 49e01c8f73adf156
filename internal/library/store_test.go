package library

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// newTestStore creates a store in a per-test temp dir.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "libraries"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store
}

// TestSaveAndList verifies upload plus snapshot ordering.
func TestSaveAndList(t *testing.T) {
	store := newTestStore(t)

	if err := store.Save("gears.scad", strings.NewReader("module gear() {}")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save("bolts.scad", strings.NewReader("module bolt() {}")); err != nil {
		t.Fatalf("save: %v", err)
	}

	got := store.List()
	if len(got) != 2 || got[0] != "bolts.scad" || got[1] != "gears.scad" {
		t.Fatalf("list = %v", got)
	}
}

// TestSaveRejectsInvalidNames verifies extension and traversal checks.
func TestSaveRejectsInvalidNames(t *testing.T) {
	store := newTestStore(t)

	for _, name := range []string{
		"",
		"notes.txt",
		"../escape.scad",
		"sub/dir.scad",
		"..",
	} {
		if err := store.Save(name, strings.NewReader("x")); err == nil {
			t.Fatalf("expected rejection for %q", name)
		}
	}

	if got := store.List(); len(got) != 0 {
		t.Fatalf("list = %v, want empty", got)
	}
}

// TestStageCopiesAllLibraries verifies staging into a render dir.
func TestStageCopiesAllLibraries(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save("gears.scad", strings.NewReader("module gear() {}")); err != nil {
		t.Fatalf("save: %v", err)
	}

	dst := t.TempDir()
	staged, err := store.Stage(dst)
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if len(staged) != 1 {
		t.Fatalf("staged = %v", staged)
	}

	data, err := os.ReadFile(filepath.Join(dst, "gears.scad"))
	if err != nil {
		t.Fatalf("read staged copy: %v", err)
	}
	if string(data) != "module gear() {}" {
		t.Fatalf("staged content = %q", data)
	}
}

// TestWatchRefreshesSnapshot verifies out-of-band file drops are noticed.
func TestWatchRefreshesSnapshot(t *testing.T) {
	store := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- store.Watch(ctx) }()

	// Give the watcher time to register before dropping the file.
	time.Sleep(50 * time.Millisecond)
	path := filepath.Join(store.Dir(), "dropped.scad")
	if err := os.WriteFile(path, []byte("cube(1);"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(store.List()) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := store.List(); len(got) != 1 || got[0] != "dropped.scad" {
		t.Fatalf("list = %v, want [dropped.scad]", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watch returned: %v", err)
	}
}

// TestInstallDownloadsCatalogLibrary verifies the catalog download flow
// against a local HTTP server.
func TestInstallDownloadsCatalogLibrary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("module thread() {}"))
	}))
	defer srv.Close()

	store := newTestStore(t)

	// Point one catalog entry at the local server for the test.
	original := catalog[0].URL
	catalog[0].URL = srv.URL
	defer func() { catalog[0].URL = original }()

	if err := store.Install(context.Background(), catalog[0].ID); err != nil {
		t.Fatalf("install: %v", err)
	}

	got := store.List()
	if len(got) != 1 || got[0] != catalog[0].FileName {
		t.Fatalf("list = %v", got)
	}
}

// TestInstallUnknownIDFails verifies catalog lookup errors.
func TestInstallUnknownIDFails(t *testing.T) {
	store := newTestStore(t)
	if err := store.Install(context.Background(), "no-such-library"); err == nil {
		t.Fatal("expected error")
	}
}

// TestCatalogMarksInstalled verifies installed annotation.
func TestCatalogMarksInstalled(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save(catalog[0].FileName, strings.NewReader("x")); err != nil {
		t.Fatalf("save: %v", err)
	}

	options := store.Catalog()
	if !strings.Contains(options[0].Description, "(installed)") {
		t.Fatalf("description = %q", options[0].Description)
	}
	for _, option := range options[1:] {
		if strings.Contains(option.Description, "(installed)") {
			t.Fatalf("unexpected installed mark: %+v", option)
		}
	}
}
