// Package history keeps completed probe rounds in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one completed round as reported by a target.
type Record struct {
	TargetID    string
	Name        string
	At          time.Time
	Error       bool
	LatencyMS   float64
	JitterMS    float64
	LossPercent float64
}

// DB wraps sql.DB with the round history queries.
type DB struct {
	*sql.DB
}

// New opens (or creates) the history database at path and ensures the schema exists.
func New(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history open failed: %w", err)
	}
	// One writer: every target saves from its own goroutine.
	db.SetMaxOpenConns(1)

	h := &DB{db}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL"} {
		if _, err := h.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("history %s: %w", pragma, err)
		}
	}
	if err := h.InitSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return h, nil
}

// InitSchema creates the rounds table.
func (db *DB) InitSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS rounds (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        at_ms INTEGER NOT NULL,
        target_id TEXT NOT NULL,
        name TEXT NOT NULL,
        error BOOLEAN NOT NULL,
        latency_ms REAL,
        jitter_ms REAL,
        loss_percent REAL
    );

    CREATE INDEX IF NOT EXISTS idx_rounds_at ON rounds(at_ms);
    CREATE INDEX IF NOT EXISTS idx_rounds_target_at ON rounds(target_id, at_ms);
    `
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("schema creation failed: %w", err)
	}
	return nil
}

// Save appends a round. NaN metrics are stored as NULL.
func (db *DB) Save(ctx context.Context, rec Record) error {
	query := `
        INSERT INTO rounds (at_ms, target_id, name, error, latency_ms, jitter_ms, loss_percent)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `
	_, err := db.ExecContext(ctx, query,
		rec.At.UnixMilli(),
		rec.TargetID,
		rec.Name,
		rec.Error,
		nullable(rec.LatencyMS),
		nullable(rec.JitterMS),
		nullable(rec.LossPercent),
	)
	if err != nil {
		return fmt.Errorf("history save: %w", err)
	}
	return nil
}

// Recent returns up to limit rounds of a target, newest first.
func (db *DB) Recent(ctx context.Context, targetID string, limit int) ([]Record, error) {
	query := `
        SELECT at_ms, target_id, name, error, latency_ms, jitter_ms, loss_percent
        FROM rounds
        WHERE target_id = ?
        ORDER BY at_ms DESC, id DESC
        LIMIT ?
    `
	rows, err := db.QueryContext(ctx, query, targetID, limit)
	if err != nil {
		return nil, fmt.Errorf("history query: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r                     Record
			atMS                  int64
			latency, jitter, loss sql.NullFloat64
		)
		if err := rows.Scan(&atMS, &r.TargetID, &r.Name, &r.Error, &latency, &jitter, &loss); err != nil {
			return nil, fmt.Errorf("history scan: %w", err)
		}
		r.At = time.UnixMilli(atMS).UTC()
		r.LatencyMS = fromNullable(latency)
		r.JitterMS = fromNullable(jitter)
		r.LossPercent = fromNullable(loss)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Prune deletes rounds recorded before cutoff and returns how many were removed.
func (db *DB) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM rounds WHERE at_ms < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("history prune: %w", err)
	}
	return res.RowsAffected()
}

func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func fromNullable(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
