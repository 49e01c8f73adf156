package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"scad-studio/internal/domain"
)

// downloadTimeout bounds one catalog library download.
const downloadTimeout = 5 * time.Minute

var catalog = []domain.LibraryOption{
	{
		ID:          "polyround",
		Name:        "Round-Anything polyround",
		FileName:    "polyround.scad",
		URL:         "https://raw.githubusercontent.com/Irev-Dev/Round-Anything/master/polyround.scad",
		SizeLabel:   "~20 KB",
		Description: "Radii and fillets for 2D polygon outlines.",
	},
	{
		ID:          "threads",
		Name:        "threads-scad",
		FileName:    "threads.scad",
		URL:         "https://raw.githubusercontent.com/rcolyer/threads-scad/master/threads.scad",
		SizeLabel:   "~25 KB",
		Description: "Printable screw threads, nuts, and bolts.",
	},
	{
		ID:          "smooth-prim",
		Name:        "smooth-prim",
		FileName:    "smooth_prim.scad",
		URL:         "https://raw.githubusercontent.com/rcolyer/smooth-prim/master/smooth_prim.scad",
		SizeLabel:   "~10 KB",
		Description: "Primitives with rounded edges and corners.",
	},
}

// Catalog lists downloadable community libraries, marking the ones already
// present in the store.
func (s *Store) Catalog() []domain.LibraryOption {
	installed := make(map[string]bool)
	for _, name := range s.List() {
		installed[name] = true
	}

	options := make([]domain.LibraryOption, len(catalog))
	copy(options, catalog)
	for i := range options {
		if installed[options[i].FileName] {
			options[i].Description += " (installed)"
		}
	}
	return options
}

// Install downloads one catalog library into the store.
func (s *Store) Install(ctx context.Context, id string) error {
	var option domain.LibraryOption
	found := false
	for _, candidate := range catalog {
		if candidate.ID == id {
			option = candidate
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("unknown catalog library: %s", id)
	}

	if err := downloadURLToFile(ctx, filepath.Join(s.dir, option.FileName), option.URL); err != nil {
		return fmt.Errorf("install library %s: %w", option.ID, err)
	}
	return s.refresh()
}

// downloadURLToFile fetches a URL into a temp file and moves it into place
// so a failed download never leaves a truncated library behind.
func downloadURLToFile(ctx context.Context, destinationPath, sourceURL string) error {
	tmpPath := destinationPath + ".download"
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale temp file: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "scad-studio")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected HTTP status: %s", resp.Status)
	}

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}

	_, copyErr := io.Copy(file, resp.Body)
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write destination file: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close destination file: %w", closeErr)
	}

	if err := os.Remove(destinationPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("remove old destination file: %w", err)
	}
	if err := os.Rename(tmpPath, destinationPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("move downloaded file into place: %w", err)
	}

	return nil
}
