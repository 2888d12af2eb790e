package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps transcripts in an SQLite database.
type SQLiteStore struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// OpenSQLite opens (and migrates) the database at path, creating parent
// directories. WAL mode is enabled for concurrent reads.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Pragmas below are per connection.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &SQLiteStore{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transcripts (
			branch_id TEXT PRIMARY KEY,
			name TEXT,
			model TEXT,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transcript_entries (
			branch_id TEXT NOT NULL REFERENCES transcripts(branch_id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			kind TEXT NOT NULL,
			text TEXT,
			name TEXT,
			call_id TEXT,
			arguments TEXT,
			data TEXT,
			error TEXT,
			PRIMARY KEY (branch_id, seq)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.conn.Exec(stmt); err != nil {
			return fmt.Errorf("migrate transcripts: %w", err)
		}
	}
	return nil
}

// Save replaces the stored transcript for t.BranchID.
func (s *SQLiteStore) Save(ctx context.Context, t Transcript) error {
	if t.BranchID == "" {
		return errors.New("transcript: branch id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	updated := t.Updated
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO transcripts (branch_id, name, model, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(branch_id) DO UPDATE SET name = excluded.name, model = excluded.model, updated_at = excluded.updated_at
	`, t.BranchID, t.Name, t.Model, updated.UnixNano()); err != nil {
		return fmt.Errorf("upsert transcript: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_entries WHERE branch_id = ?`, t.BranchID); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}

	for i, e := range t.Entries {
		var data sql.NullString
		if e.Data != nil {
			raw, err := json.Marshal(e.Data)
			if err != nil {
				return fmt.Errorf("marshal entry %d: %w", i, err)
			}
			data = sql.NullString{String: string(raw), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO transcript_entries (branch_id, seq, role, kind, text, name, call_id, arguments, data, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.BranchID, i, e.Role, e.Kind, e.Text, e.Name, e.CallID, e.Arguments, data, e.Error); err != nil {
			return fmt.Errorf("insert entry %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// Load reads a transcript; ErrNotFound if missing.
func (s *SQLiteStore) Load(ctx context.Context, branchID string) (*Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := Transcript{BranchID: branchID}
	var (
		name, model sql.NullString
		updated     int64
	)
	err := s.conn.QueryRowContext(ctx,
		`SELECT name, model, updated_at FROM transcripts WHERE branch_id = ?`, branchID,
	).Scan(&name, &model, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	t.Name, t.Model = name.String, model.String
	t.Updated = time.Unix(0, updated).UTC()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT role, kind, text, name, call_id, arguments, data, error
		FROM transcript_entries WHERE branch_id = ? ORDER BY seq
	`, branchID)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e Entry
		var text, ename, callID, args, data, eerr sql.NullString
		if err := rows.Scan(&e.Role, &e.Kind, &text, &ename, &callID, &args, &data, &eerr); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Text, e.Name, e.CallID, e.Arguments, e.Error = text.String, ename.String, callID.String, args.String, eerr.String
		if data.Valid {
			if err := json.Unmarshal([]byte(data.String), &e.Data); err != nil {
				return nil, fmt.Errorf("decode entry data: %w", err)
			}
		}
		t.Entries = append(t.Entries, e)
	}
	return &t, rows.Err()
}
