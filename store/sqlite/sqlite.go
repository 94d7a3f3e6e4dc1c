// Package sqlite implements store.Store using SQLite.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/previewlabs/previewd/pkg/eventbus"
	"github.com/previewlabs/previewd/pkg/overlay"
	"github.com/previewlabs/previewd/pkg/store"
)

// Store persists views, edits, and events in a SQLite database.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read/write performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	// Event inserts race view updates during every boot; wait for the
	// writer lock instead of failing with SQLITE_BUSY and losing events.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS views (
			id          TEXT PRIMARY KEY,
			repo        TEXT NOT NULL,
			branch      TEXT NOT NULL DEFAULT '',
			engine      TEXT NOT NULL DEFAULT 'sandbox',
			phase       TEXT NOT NULL DEFAULT 'idle',
			preview_url TEXT NOT NULL DEFAULT '',
			error       TEXT NOT NULL DEFAULT '',
			created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
			updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS pending_edits (
			view_id    TEXT NOT NULL,
			path       TEXT NOT NULL,
			content    TEXT NOT NULL DEFAULT '',
			reverted   INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (view_id, path),
			FOREIGN KEY (view_id) REFERENCES views(id)
		);

		CREATE TABLE IF NOT EXISTS view_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			view_id    TEXT NOT NULL,
			type       TEXT NOT NULL,
			data       TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (view_id) REFERENCES views(id)
		);

		CREATE INDEX IF NOT EXISTS idx_view_events_view_id
			ON view_events(view_id);
	`)
	return err
}

// CreateView inserts a new view record.
func (s *Store) CreateView(v *store.View) error {
	_, err := s.db.Exec(`
		INSERT INTO views (id, repo, branch, engine, phase, preview_url, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.Repo, v.Branch, string(v.Engine), v.Phase, v.PreviewURL, v.Error, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting view: %w", err)
	}
	return nil
}

// GetView returns the view with the given ID.
func (s *Store) GetView(id string) (*store.View, error) {
	row := s.db.QueryRow(`
		SELECT id, repo, branch, engine, phase, preview_url, error, created_at, updated_at
		FROM views WHERE id = ?`, id)
	return scanView(row)
}

// ListViews returns all views, newest first.
func (s *Store) ListViews() ([]*store.View, error) {
	rows, err := s.db.Query(`
		SELECT id, repo, branch, engine, phase, preview_url, error, created_at, updated_at
		FROM views ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing views: %w", err)
	}
	defer rows.Close()

	var views []*store.View
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

// UpdateView persists the mutable fields of a view and bumps updated_at.
func (s *Store) UpdateView(v *store.View) error {
	v.UpdatedAt = time.Now().UTC()
	_, err := s.db.Exec(`
		UPDATE views SET branch = ?, phase = ?, preview_url = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		v.Branch, v.Phase, v.PreviewURL, v.Error, v.UpdatedAt, v.ID,
	)
	if err != nil {
		return fmt.Errorf("updating view: %w", err)
	}
	return nil
}

// UpsertEdit inserts or replaces a pending edit for a view.
func (s *Store) UpsertEdit(viewID string, e overlay.PendingEdit) error {
	_, err := s.db.Exec(`
		INSERT INTO pending_edits (view_id, path, content, reverted, updated_at)
		VALUES (?, ?, ?, ?, datetime('now'))
		ON CONFLICT (view_id, path) DO UPDATE SET
			content = excluded.content,
			reverted = excluded.reverted,
			updated_at = excluded.updated_at`,
		viewID, e.Path, e.Content, boolToInt(e.Reverted),
	)
	if err != nil {
		return fmt.Errorf("upserting edit: %w", err)
	}
	return nil
}

// PendingEdits returns all pending edits for a view in path order.
func (s *Store) PendingEdits(viewID string) ([]overlay.PendingEdit, error) {
	rows, err := s.db.Query(`
		SELECT path, content, reverted FROM pending_edits
		WHERE view_id = ? ORDER BY path`, viewID)
	if err != nil {
		return nil, fmt.Errorf("listing edits: %w", err)
	}
	defer rows.Close()

	var edits []overlay.PendingEdit
	for rows.Next() {
		var e overlay.PendingEdit
		var reverted int
		if err := rows.Scan(&e.Path, &e.Content, &reverted); err != nil {
			return nil, fmt.Errorf("scanning edit: %w", err)
		}
		e.Reverted = reverted != 0
		edits = append(edits, e)
	}
	return edits, rows.Err()
}

// AddEvent appends an event to a view's history and fills in its ID.
func (s *Store) AddEvent(e *eventbus.Event) error {
	res, err := s.db.Exec(`
		INSERT INTO view_events (view_id, type, data, created_at)
		VALUES (?, ?, ?, ?)`,
		e.ViewID, e.Type, e.Data, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

// EventsForView returns a view's events with ID greater than afterID.
func (s *Store) EventsForView(viewID string, afterID int64) ([]*eventbus.Event, error) {
	rows, err := s.db.Query(`
		SELECT id, view_id, type, data, created_at FROM view_events
		WHERE view_id = ? AND id > ? ORDER BY id`, viewID, afterID)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var events []*eventbus.Event
	for rows.Next() {
		var e eventbus.Event
		if err := rows.Scan(&e.ID, &e.ViewID, &e.Type, &e.Data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanView(row scannable) (*store.View, error) {
	var v store.View
	var engine string
	if err := row.Scan(&v.ID, &v.Repo, &v.Branch, &engine, &v.Phase, &v.PreviewURL, &v.Error, &v.CreatedAt, &v.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("view not found")
		}
		return nil, fmt.Errorf("scanning view: %w", err)
	}
	v.Engine = store.Engine(engine)
	return &v, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
