package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store manages deployment attempt history in SQLite
type Store struct {
	db *sql.DB
}

// NewStore creates a new history store
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for SQLite (single writer)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}

	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// initSchema creates the database tables and indexes
func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			target TEXT NOT NULL,
			branch TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			duration_ms INTEGER,
			error_message TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create attempts table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS steps (
			attempt_id INTEGER NOT NULL REFERENCES attempts(id),
			idx INTEGER NOT NULL,
			command TEXT NOT NULL,
			exit_code INTEGER NOT NULL,
			output TEXT,
			duration_ms INTEGER NOT NULL,
			PRIMARY KEY (attempt_id, idx)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create steps table: %w", err)
	}

	// Index for efficient per-target queries
	_, err = s.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_target_started
		ON attempts(target, started_at DESC)
	`)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// RecordAttempt records an attempt and its steps in one transaction,
// returning the new attempt ID.
func (s *Store) RecordAttempt(ctx context.Context, record *AttemptRecord) (int64, error) {
	startedAt := record.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	var completedAt *string
	if record.CompletedAt != nil {
		formatted := record.CompletedAt.UTC().Format(time.RFC3339)
		completedAt = &formatted
	} else if record.Status != "in_progress" {
		now := time.Now().UTC().Format(time.RFC3339)
		completedAt = &now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO attempts
		(target, branch, status, started_at, completed_at, duration_ms, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		record.Target,
		record.Branch,
		record.Status,
		startedAt.UTC().Format(time.RFC3339),
		completedAt,
		record.DurationMs,
		record.ErrorMessage,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert attempt record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	for _, step := range record.Steps {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO steps (attempt_id, idx, command, exit_code, output, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?)
		`, id, step.Index, step.Command, step.ExitCode, step.Output, step.DurationMs); err != nil {
			return 0, fmt.Errorf("failed to insert step record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit attempt record: %w", err)
	}

	return id, nil
}

// LatestAttempt returns the most recent attempt for a target,
// including its steps, or nil if none exists.
func (s *Store) LatestAttempt(ctx context.Context, targetName string) (*AttemptRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, target, branch, status, started_at, completed_at, duration_ms, error_message
		FROM attempts
		WHERE target = ?
		ORDER BY id DESC
		LIMIT 1
	`, targetName)

	record, err := scanAttemptRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest attempt: %w", err)
	}

	if err := s.loadSteps(ctx, record); err != nil {
		return nil, err
	}

	return record, nil
}

// AttemptHistory returns recent attempts for a target, newest first,
// without step details.
func (s *Store) AttemptHistory(ctx context.Context, targetName string, limit int) ([]AttemptRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, target, branch, status, started_at, completed_at, duration_ms, error_message
		FROM attempts
		WHERE target = ?
		ORDER BY id DESC
		LIMIT ?
	`, targetName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempt history: %w", err)
	}
	defer rows.Close()

	var records []AttemptRecord
	for rows.Next() {
		record, err := scanAttemptRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt record: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// AllTargetsStatus returns the latest attempt for each target.
func (s *Store) AllTargetsStatus(ctx context.Context) (map[string]*AttemptRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a1.id, a1.target, a1.branch, a1.status, a1.started_at,
		       a1.completed_at, a1.duration_ms, a1.error_message
		FROM attempts a1
		INNER JOIN (
			SELECT target, MAX(id) as max_id
			FROM attempts
			GROUP BY target
		) a2
		ON a1.id = a2.max_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query all targets status: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*AttemptRecord)
	for rows.Next() {
		record, err := scanAttemptRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt record: %w", err)
		}
		result[record.Target] = record
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return result, nil
}

// loadSteps attaches the ordered step records to an attempt.
func (s *Store) loadSteps(ctx context.Context, record *AttemptRecord) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, command, exit_code, output, duration_ms
		FROM steps
		WHERE attempt_id = ?
		ORDER BY idx ASC
	`, record.ID)
	if err != nil {
		return fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var step StepRecord
		var output sql.NullString
		if err := rows.Scan(&step.Index, &step.Command, &step.ExitCode, &output, &step.DurationMs); err != nil {
			return fmt.Errorf("failed to scan step record: %w", err)
		}
		step.Output = output.String
		record.Steps = append(record.Steps, step)
	}

	return rows.Err()
}

// scanner is an interface that both *sql.Row and *sql.Rows implement
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanAttemptRecord scans a database row into an AttemptRecord.
// Works with both *sql.Row and *sql.Rows
func scanAttemptRecord(s scanner) (*AttemptRecord, error) {
	var record AttemptRecord
	var startedAtStr string
	var completedAtStr sql.NullString

	err := s.Scan(
		&record.ID,
		&record.Target,
		&record.Branch,
		&record.Status,
		&startedAtStr,
		&completedAtStr,
		&record.DurationMs,
		&record.ErrorMessage,
	)

	if err != nil {
		return nil, err
	}

	startedAt, err := time.Parse(time.RFC3339, startedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at timestamp: %w", err)
	}
	record.StartedAt = startedAt

	if completedAtStr.Valid {
		completedAt, err := time.Parse(time.RFC3339, completedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse completed_at timestamp: %w", err)
		}
		record.CompletedAt = &completedAt
	}

	return &record, nil
}
