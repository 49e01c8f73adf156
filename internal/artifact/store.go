// Package artifact owns the ephemeral on-disk area for per-render input and
// output files, plus the registry that resolves artifact refs for delivery.
package artifact

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"scad-studio/internal/domain"
)

// ErrNotFound is returned when a ref does not resolve to stored bytes.
var ErrNotFound = errors.New("artifact not found")

// Handle is one allocated render workspace. The input file belongs to the
// compiler invocation; the output file belongs to this store once committed.
type Handle struct {
	Ref        string
	Dir        string
	InputPath  string
	OutputPath string
	Kind       domain.OutputKind
}

// Store keeps per-render directories under a single root and records
// committed outputs in a SQLite registry. Refs are meaningless outside the
// store instance that issued them.
type Store struct {
	root string
	db   *sql.DB
}

// NewStore creates the models root and opens the registry database.
func NewStore(root string) (*Store, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "scad-studio-models")
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create models root: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(root, "artifacts.db"))
	if err != nil {
		return nil, fmt.Errorf("open artifact registry: %w", err)
	}

	store := &Store{root: root, db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init artifact registry schema: %w", err)
	}

	return store, nil
}

// initSchema creates the registry table.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS artifacts (
		ref TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		kind TEXT NOT NULL,
		size INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Root returns the models root directory.
func (s *Store) Root() string {
	return s.root
}

// Allocate creates a uniquely named render directory and pre-computes the
// input and output paths inside it. Nothing is registered until Commit.
func (s *Store) Allocate(kind domain.OutputKind) (Handle, error) {
	if !kind.Valid() {
		return Handle{}, fmt.Errorf("unsupported output kind: %q", kind)
	}

	ref := uuid.NewString()
	dir := filepath.Join(s.root, ref)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Handle{}, fmt.Errorf("create render dir: %w", err)
	}

	return Handle{
		Ref:        ref,
		Dir:        dir,
		InputPath:  filepath.Join(dir, ref+".scad"),
		OutputPath: filepath.Join(dir, ref+kind.Extension()),
		Kind:       kind,
	}, nil
}

// Commit registers the handle's output file and makes the ref resolvable.
// The output must exist and be non-empty.
func (s *Store) Commit(h Handle) (domain.Artifact, error) {
	info, err := os.Stat(h.OutputPath)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("stat output file: %w", err)
	}
	if info.Size() == 0 {
		return domain.Artifact{}, fmt.Errorf("output file is empty: %s", h.OutputPath)
	}

	_, err = s.db.Exec(
		`INSERT INTO artifacts (ref, path, kind, size) VALUES (?, ?, ?, ?)`,
		h.Ref, h.OutputPath, string(h.Kind), info.Size(),
	)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("register artifact: %w", err)
	}

	return domain.Artifact{Ref: h.Ref, Kind: h.Kind, Size: info.Size()}, nil
}

// Discard removes an allocated render directory that never got committed.
func (s *Store) Discard(h Handle) error {
	if h.Dir == "" {
		return nil
	}
	return os.RemoveAll(h.Dir)
}

// Open resolves a ref to a readable stream plus metadata. Unknown refs,
// evicted rows, and registry entries whose file is gone all map to
// ErrNotFound so callers never serve partial bytes.
func (s *Store) Open(ref string) (io.ReadCloser, domain.Artifact, error) {
	var path, kind string
	var size int64
	err := s.db.QueryRow(
		`SELECT path, kind, size FROM artifacts WHERE ref = ?`, ref,
	).Scan(&path, &kind, &size)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Artifact{}, ErrNotFound
	}
	if err != nil {
		return nil, domain.Artifact{}, fmt.Errorf("query artifact registry: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.Artifact{}, ErrNotFound
		}
		return nil, domain.Artifact{}, fmt.Errorf("open artifact file: %w", err)
	}

	meta := domain.Artifact{Ref: ref, Kind: domain.OutputKind(kind), Size: size}
	return f, meta, nil
}

// Sweep evicts artifacts older than maxAge, removing both their registry
// rows and their render directories. Returns the number of evicted refs.
func (s *Store) Sweep(maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	rows, err := s.db.Query(
		`SELECT ref FROM artifacts WHERE created_at < ?`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("query expired artifacts: %w", err)
	}

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			rows.Close()
			return 0, err
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, ref := range refs {
		if err := os.RemoveAll(filepath.Join(s.root, ref)); err != nil {
			return 0, fmt.Errorf("remove render dir %s: %w", ref, err)
		}
		if _, err := s.db.Exec(`DELETE FROM artifacts WHERE ref = ?`, ref); err != nil {
			return 0, fmt.Errorf("delete registry row %s: %w", ref, err)
		}
	}

	return len(refs), nil
}

// Close closes the registry database.
func (s *Store) Close() error {
	return s.db.Close()
}
