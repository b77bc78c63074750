package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps SQLite database operations
type DB struct {
	db *sql.DB
}

// Open opens or creates a SQLite database
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL lets the refresh loop write while the UI reads
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	storage := &DB{db: db}

	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return storage, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// initSchema creates tables if they don't exist
func (d *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS client_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY,
		content TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		campus TEXT NOT NULL DEFAULT '',
		likes_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP,
		deleted_at TIMESTAMP,
		synced_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_campus ON messages(campus);
	CREATE INDEX IF NOT EXISTS idx_category ON messages(category);
	CREATE INDEX IF NOT EXISTS idx_created ON messages(created_at);
	CREATE INDEX IF NOT EXISTS idx_deleted ON messages(deleted_at);
	`

	_, err := d.db.Exec(schema)
	return err
}

// GetState returns a persisted client value and whether it exists
func (d *DB) GetState(key string) (string, bool, error) {
	var value string
	err := d.db.QueryRow("SELECT value FROM client_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetState writes several client values in one transaction
func (d *DB) SetState(values map[string]string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	for key, value := range values {
		_, err := tx.Exec(`
		INSERT INTO client_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, key, value, now)
		if err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}

	return tx.Commit()
}

// DeleteState removes several client values in one transaction
func (d *DB) DeleteState(keys ...string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, key := range keys {
		if _, err := tx.Exec("DELETE FROM client_state WHERE key = ?", key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}

	return tx.Commit()
}

// Upsert inserts or updates a mirrored message. A recorded deletion is never undone.
func (d *DB) Upsert(rec *MessageRecord) error {
	query := `
	INSERT INTO messages (
		id, content, category, campus, likes_count, created_at, deleted_at, synced_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		content = excluded.content,
		category = excluded.category,
		campus = CASE WHEN excluded.campus = '' THEN messages.campus ELSE excluded.campus END,
		likes_count = MAX(messages.likes_count, excluded.likes_count),
		created_at = excluded.created_at,
		deleted_at = COALESCE(messages.deleted_at, excluded.deleted_at),
		synced_at = excluded.synced_at
	`

	_, err := d.db.Exec(query,
		rec.ID, rec.Content, rec.Category, rec.Campus, rec.LikesCount,
		rec.CreatedAt, rec.DeletedAt, rec.SyncedAt,
	)
	return err
}

// Get retrieves a mirrored message by ID
func (d *DB) Get(id int64) (*MessageRecord, error) {
	rec := &MessageRecord{}
	query := `
	SELECT id, content, category, campus, likes_count, created_at, deleted_at, synced_at
	FROM messages
	WHERE id = ?
	`

	err := d.db.QueryRow(query, id).Scan(
		&rec.ID, &rec.Content, &rec.Category, &rec.Campus, &rec.LikesCount,
		&rec.CreatedAt, &rec.DeletedAt, &rec.SyncedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// List retrieves mirrored messages, newest first. An empty campus lists every campus.
func (d *DB) List(campus string, includeDeleted bool) ([]*MessageRecord, error) {
	query := `
	SELECT id, content, category, campus, likes_count, created_at, deleted_at, synced_at
	FROM messages
	WHERE 1 = 1
	`
	var args []any
	if campus != "" {
		query += " AND campus = ?"
		args = append(args, campus)
	}
	if !includeDeleted {
		query += " AND deleted_at IS NULL"
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*MessageRecord
	for rows.Next() {
		rec := &MessageRecord{}
		err := rows.Scan(
			&rec.ID, &rec.Content, &rec.Category, &rec.Campus, &rec.LikesCount,
			&rec.CreatedAt, &rec.DeletedAt, &rec.SyncedAt,
		)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	return recs, rows.Err()
}

// MarkDeleted records a moderation soft-delete locally
func (d *DB) MarkDeleted(id int64, at time.Time) error {
	_, err := d.db.Exec("UPDATE messages SET deleted_at = COALESCE(deleted_at, ?) WHERE id = ?", at, id)
	return err
}

// Count returns the number of active mirrored messages
func (d *DB) Count() (int, error) {
	var count int
	err := d.db.QueryRow("SELECT COUNT(*) FROM messages WHERE deleted_at IS NULL").Scan(&count)
	return count, err
}
