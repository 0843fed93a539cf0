// Package history keeps a local SQLite ledger of release builds.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const DefaultPath = "~/.smartim-build/history.db"

var ErrNotFound = errors.New("no release recorded")

// Release is one packaged release.
type Release struct {
	ID        string    `json:"id" yaml:"id"`
	PluginID  string    `json:"plugin_id" yaml:"plugin_id"`
	Version   string    `json:"version" yaml:"version"`
	Artifact  string    `json:"artifact" yaml:"artifact"`
	SHA256    string    `json:"sha256" yaml:"sha256"`
	Size      int64     `json:"size" yaml:"size"`
	Signed    bool      `json:"signed" yaml:"signed"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Store is the release ledger.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the ledger at p. "~/" expands to the home directory.
func Open(p string) (*Store, error) {
	resolved, err := resolvePath(p)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaV1); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db, path: resolved}, nil
}

func resolvePath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		p = DefaultPath
	}
	if strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home dir: %w", err)
		}
		p = filepath.Join(home, p[2:])
	}
	return filepath.Clean(p), nil
}

// Path returns the resolved database file.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores r, filling in ID and CreatedAt when empty.
func (s *Store) Record(ctx context.Context, r Release) (Release, error) {
	if r.PluginID == "" || r.Version == "" {
		return r, errors.New("plugin id and version are required")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.CreatedAt = r.CreatedAt.UTC().Truncate(time.Microsecond)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO releases (release_id, plugin_id, version, artifact, sha256, size, signed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.PluginID, r.Version, r.Artifact, r.SHA256, r.Size, r.Signed, r.CreatedAt.Format(timeLayout))
	if err != nil {
		return r, fmt.Errorf("failed to record release %s: %w", r.Version, err)
	}
	return r, nil
}

// MarkSigned flags a recorded release as signed.
func (s *Store) MarkSigned(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE releases SET signed = 1 WHERE release_id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w with id %s", ErrNotFound, id)
	}
	return nil
}

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// List returns up to limit releases, newest first. A limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Release, error) {
	query := `
		SELECT release_id, plugin_id, version, artifact, sha256, size, signed, created_at
		FROM releases
		ORDER BY created_at DESC, rowid DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Release
	for rows.Next() {
		r, err := scanRelease(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Latest returns the newest release of a plugin.
func (s *Store) Latest(ctx context.Context, pluginID string) (Release, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT release_id, plugin_id, version, artifact, sha256, size, signed, created_at
		FROM releases
		WHERE plugin_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, pluginID)

	r, err := scanRelease(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("%w for %s", ErrNotFound, pluginID)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRelease(sc scanner) (Release, error) {
	var (
		r       Release
		created string
	)
	if err := sc.Scan(&r.ID, &r.PluginID, &r.Version, &r.Artifact, &r.SHA256, &r.Size, &r.Signed, &created); err != nil {
		return r, err
	}
	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return r, fmt.Errorf("bad created_at %q: %w", created, err)
	}
	r.CreatedAt = t
	return r, nil
}
