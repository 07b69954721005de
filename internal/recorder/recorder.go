// Package recorder archives decoded payloads and messages in SQLite so they
// can be listed through the HTTP API after the fact.
package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/skypro1111/acoustic-modem/internal/sink"

	_ "modernc.org/sqlite"
)

// Entry is one archived delivery
type Entry struct {
	ID int64 `json:"id"`
	sink.Delivery
}

// Recorder persists deliveries into SQLite, keeping at most retention rows
type Recorder struct {
	db        *sql.DB
	retention int

	mu     sync.Mutex
	writes uint64
	errors uint64
}

// NewRecorder opens (or creates) the SQLite database at path and ensures the
// schema exists. A retention of zero keeps every row.
func NewRecorder(path string, retention int) (*Recorder, error) {
	if path == "" {
		return nil, errors.New("recorder: empty path")
	}
	if retention < 0 {
		return nil, errors.New("recorder: retention must be >= 0")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("recorder: ensure dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("recorder: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("recorder: schema: %w", err)
	}
	return &Recorder{db: db, retention: retention}, nil
}

func initSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS decoded (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    stream_id INTEGER NOT NULL,
    label TEXT,
    kind TEXT NOT NULL,
    payload TEXT NOT NULL,
    message BLOB,
    text TEXT,
    unmodified INTEGER,
    snr_sum REAL,
    decoded_at INTEGER NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS decoded_kind ON decoded(kind, id)`)
	return err
}

// Close closes the underlying database.
func (r *Recorder) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Record inserts one delivery and trims the archive to the retention limit
func (r *Recorder) Record(ctx context.Context, d *sink.Delivery) error {
	if r == nil || r.db == nil || d == nil {
		return nil
	}

	err := r.insert(ctx, d)

	r.mu.Lock()
	if err != nil {
		r.errors++
	} else {
		r.writes++
	}
	r.mu.Unlock()

	return err
}

func (r *Recorder) insert(ctx context.Context, d *sink.Delivery) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO decoded (
    stream_id, label, kind, payload, message, text, unmodified, snr_sum, decoded_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(d.StreamID),
		d.Label,
		d.Kind,
		d.Payload,
		nullBlob(d.Message),
		d.Text,
		d.Unmodified,
		sink.Finite(d.SNRSum),
		d.DecodedAt.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("recorder: insert: %w", err)
	}

	if r.retention > 0 {
		_, err = r.db.ExecContext(ctx, `
DELETE FROM decoded WHERE id <= (
    SELECT id FROM decoded ORDER BY id DESC LIMIT 1 OFFSET ?
)`, r.retention)
		if err != nil {
			return fmt.Errorf("recorder: trim: %w", err)
		}
	}
	return nil
}

// nullBlob stores absent messages as NULL rather than an empty blob
func nullBlob(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// Recent returns up to limit entries, newest first. An empty kind matches
// payloads and messages alike.
func (r *Recorder) Recent(ctx context.Context, limit int, kind string) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `SELECT id, stream_id, label, kind, payload, message, text, unmodified, snr_sum, decoded_at
FROM decoded`
	args := []any{}
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recorder: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			streamID  int64
			label     sql.NullString
			text      sql.NullString
			decodedAt int64
		)
		if err := rows.Scan(&e.ID, &streamID, &label, &e.Kind, &e.Payload, &e.Message,
			&text, &e.Unmodified, &e.SNRSum, &decodedAt); err != nil {
			return nil, fmt.Errorf("recorder: scan: %w", err)
		}
		e.StreamID = uint32(streamID)
		e.Label = label.String
		e.Text = text.String
		e.DecodedAt = time.Unix(0, decodedAt).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recorder: rows: %w", err)
	}
	return out, nil
}

// Count returns the number of archived rows
func (r *Recorder) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM decoded").Scan(&n); err != nil {
		return 0, fmt.Errorf("recorder: count: %w", err)
	}
	return n, nil
}

// Stats reports write counters
type Stats struct {
	Writes    uint64 `json:"writes"`
	Errors    uint64 `json:"errors"`
	Retention int    `json:"retention"`
}

// Stats returns a snapshot of the write counters
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Writes: r.writes, Errors: r.errors, Retention: r.retention}
}
