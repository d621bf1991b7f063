package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// Module families recorded in value_history.
const (
	FamilyInput  = "input"
	FamilyOutput = "output"
)

// Snapshot reasons.
const (
	ReasonShutdown = "shutdown"
	ReasonManual   = "manual"
)

// ErrNoSnapshot is returned when a node has no stored snapshot.
var ErrNoSnapshot = errors.New("history: no snapshot")

// Entry is one recorded value change.
type Entry struct {
	ID         int64
	Family     string
	ModuleID   string
	ModuleType string
	Value      int
	CreatedAt  time.Time
}

// Snapshot is a stored node document.
type Snapshot struct {
	ID        int64
	NodeID    string
	Document  json.RawMessage
	Reason    string
	CreatedAt time.Time
}

// Repository stores value history and snapshots in SQLite. The tables are
// created by the embedded migrations.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps an open connection.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// RecordValue inserts a value change. A zero CreatedAt is stamped with the
// current time.
func (r *Repository) RecordValue(ctx context.Context, e Entry) error {
	if e.ModuleID == "" {
		return fmt.Errorf("module id is required")
	}
	if e.Family != FamilyInput && e.Family != FamilyOutput {
		return fmt.Errorf("unknown module family %q", e.Family)
	}
	at := e.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO value_history (family, module_id, module_type, value, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.Family, e.ModuleID, e.ModuleType, e.Value, formatTimestamp(at),
	)
	if err != nil {
		return fmt.Errorf("inserting value history: %w", err)
	}
	return nil
}

// History returns the most recent value changes for a module, newest first.
// limit defaults to 50 and is capped at 200.
func (r *Repository) History(ctx context.Context, moduleID string, limit int) ([]Entry, error) {
	if moduleID == "" {
		return nil, fmt.Errorf("module id is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, family, module_id, module_type, value, created_at
		 FROM value_history
		 WHERE module_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		moduleID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying value history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e         Entry
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Family, &e.ModuleID, &e.ModuleType, &e.Value, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning value history: %w", err)
		}
		if e.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating value history: %w", err)
	}
	return entries, nil
}

// PruneHistory deletes value changes older than olderThan and returns the
// number of rows removed.
func (r *Repository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	result, err := r.db.ExecContext(ctx,
		"DELETE FROM value_history WHERE created_at < ?",
		formatTimestamp(time.Now().Add(-olderThan)),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting value history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// SaveSnapshot stores a node document. The document must be valid JSON.
func (r *Repository) SaveSnapshot(ctx context.Context, nodeID string, document []byte, reason string) error {
	if !json.Valid(document) {
		return fmt.Errorf("snapshot document is not valid JSON")
	}
	if reason == "" {
		reason = ReasonManual
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO node_snapshots (node_id, document, reason, created_at) VALUES (?, ?, ?, ?)",
		nodeID, string(document), reason, formatTimestamp(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("inserting snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the newest snapshot for nodeID, or ErrNoSnapshot.
func (r *Repository) LatestSnapshot(ctx context.Context, nodeID string) (Snapshot, error) {
	var (
		s         Snapshot
		document  string
		createdAt string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, node_id, document, reason, created_at
		 FROM node_snapshots
		 WHERE node_id = ?
		 ORDER BY id DESC
		 LIMIT 1`,
		nodeID,
	).Scan(&s.ID, &s.NodeID, &document, &s.Reason, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("%w for node %q", ErrNoSnapshot, nodeID)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("querying snapshot: %w", err)
	}

	s.Document = json.RawMessage(document)
	if s.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

// formatTimestamp renders t in the fixed-width UTC form used by the
// created_at columns, so string comparison orders correctly.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return t, nil
}
