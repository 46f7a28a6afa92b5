// internal/feedback/outbox.go
package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Outbox holds submissions that could not reach the store, in a local SQLite
// file, until the next flush.
type Outbox struct {
	db   *sql.DB
	path string
}

// OpenOutbox opens or creates the outbox file at path.
func OpenOutbox(path string) (*Outbox, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create outbox directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open outbox: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)

	o := &Outbox{db: db, path: path}
	if err := o.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return o, nil
}

func (o *Outbox) initialize() error {
	_, err := o.db.Exec(`
	CREATE TABLE IF NOT EXISTS pending_feedback (
		idempotency_key TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		queued_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("failed to create outbox table: %w", err)
	}
	return nil
}

// Enqueue stores f until the next flush. Enqueuing the same idempotency key
// twice keeps one copy.
func (o *Outbox) Enqueue(ctx context.Context, f *Feedback) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode feedback: %w", err)
	}
	_, err = o.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO pending_feedback (idempotency_key, payload, queued_at) VALUES (?, ?, ?)`,
		f.IdempotencyKey, string(payload), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to queue feedback: %w", err)
	}
	return nil
}

// Pending returns queued submissions, oldest first.
func (o *Outbox) Pending(ctx context.Context) ([]*Feedback, error) {
	rows, err := o.db.QueryContext(ctx, `SELECT payload FROM pending_feedback ORDER BY queued_at, idempotency_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to read outbox: %w", err)
	}
	defer rows.Close()

	var items []*Feedback
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		f := &Feedback{}
		if err := json.Unmarshal([]byte(payload), f); err != nil {
			return nil, fmt.Errorf("failed to decode queued feedback: %w", err)
		}
		items = append(items, f)
	}
	return items, rows.Err()
}

// Remove drops the queued submission with key.
func (o *Outbox) Remove(ctx context.Context, key string) error {
	if _, err := o.db.ExecContext(ctx, `DELETE FROM pending_feedback WHERE idempotency_key = ?`, key); err != nil {
		return fmt.Errorf("failed to remove queued feedback: %w", err)
	}
	return nil
}

// Len counts queued submissions.
func (o *Outbox) Len(ctx context.Context) (int, error) {
	var n int
	if err := o.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_feedback`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count outbox: %w", err)
	}
	return n, nil
}

// Close closes the outbox file.
func (o *Outbox) Close() error {
	return o.db.Close()
}
