// Package library manages uploaded include files and makes them visible to
// the compiler's working directory at invocation time.
package library

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Ext is the only accepted library file extension.
const Ext = ".scad"

// Store keeps uploaded libraries in a single directory and maintains an
// in-memory snapshot of their names so staging never races with uploads.
type Store struct {
	dir string

	mu    sync.RWMutex
	names []string
}

// NewStore creates the libraries directory and loads the initial snapshot.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create libraries dir: %w", err)
	}

	s := &Store{dir: dir}
	if err := s.refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the libraries directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save stores one uploaded library file. Only bare *.scad names are
// accepted; anything that could escape the libraries dir is rejected.
func (s *Store) Save(name string, r io.Reader) error {
	if err := validateName(name); err != nil {
		return err
	}

	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create library file: %w", err)
	}

	_, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil {
		_ = os.Remove(path)
		return fmt.Errorf("write library file: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(path)
		return fmt.Errorf("close library file: %w", closeErr)
	}

	return s.refresh()
}

// List returns the current library names, sorted.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.names...)
}

// Stage copies every library into dstDir so relative includes resolve next
// to a render's input file. Returns the staged copy paths; the caller owns
// their cleanup.
func (s *Store) Stage(dstDir string) ([]string, error) {
	staged := make([]string, 0, len(s.List()))
	for _, name := range s.List() {
		src := filepath.Join(s.dir, name)
		dst := filepath.Join(dstDir, name)
		if err := copyFile(src, dst); err != nil {
			return staged, fmt.Errorf("stage library %s: %w", name, err)
		}
		staged = append(staged, dst)
	}
	return staged, nil
}

// Watch keeps the snapshot current when library files change out of band,
// e.g. dropped into the directory by hand. Blocks until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch libraries dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Ext(event.Name), Ext) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := s.refresh(); err != nil {
				log.Printf("refresh library snapshot: %v", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("library watcher: %v", err)
		}
	}
}

// refresh rebuilds the name snapshot from the directory contents.
func (s *Store) refresh() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read libraries dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), Ext) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	s.mu.Lock()
	s.names = names
	s.mu.Unlock()
	return nil
}

// validateName enforces bare *.scad filenames.
func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("library name is empty")
	}
	if !strings.EqualFold(filepath.Ext(name), Ext) {
		return fmt.Errorf("only %s files are allowed: %s", Ext, name)
	}
	if name != filepath.Base(name) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid library name: %s", name)
	}
	return nil
}

// copyFile duplicates src at dst with default permissions.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	_, copyErr := io.Copy(out, in)
	closeErr := out.Close()
	if copyErr != nil {
		return copyErr
	}
	return closeErr
}
