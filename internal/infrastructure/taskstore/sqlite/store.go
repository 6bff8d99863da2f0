package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kirillkom/taskchannel/internal/core/domain"
	"github.com/kirillkom/taskchannel/internal/infrastructure/resilience"
)

// Store is the durable record of in-flight tasks, scoped to the local
// profile. It survives a process restart but is not the source of truth
// for a live session; a stale record only causes a redundant
// resubscription attempt later.
type Store struct {
	db       *sql.DB
	executor *resilience.Executor
}

func New(db *sql.DB) *Store {
	return NewWithExecutor(db, nil)
}

func NewWithExecutor(db *sql.DB, executor *resilience.Executor) *Store {
	if executor == nil {
		executor = resilience.NewExecutor(resilience.Config{
			RetryMaxAttempts: 2,
			RetryDelay:       250 * time.Millisecond,
		})
	}
	return &Store{db: db, executor: executor}
}

// OpenDB opens the local database. Path may be ":memory:" in tests.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	const query = `
CREATE TABLE IF NOT EXISTS tracked_tasks (
	task_id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	file_name TEXT NOT NULL,
	sequence_index INTEGER NOT NULL,
	created_at_ms INTEGER NOT NULL
)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure tracked_tasks schema: %w", err)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, rec domain.TaskRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tracked_tasks (task_id, document_id, file_name, sequence_index, created_at_ms)
VALUES (?,?,?,?,?)
ON CONFLICT(task_id) DO UPDATE SET
	document_id = excluded.document_id,
	file_name = excluded.file_name,
	sequence_index = excluded.sequence_index,
	created_at_ms = excluded.created_at_ms
`, rec.TaskID, rec.DocumentID, rec.FileName, rec.SequenceIndex, rec.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("put task record: %w", err)
	}
	return nil
}

// Get returns nil when no record exists for the ID.
func (s *Store) Get(ctx context.Context, taskID string) (*domain.TaskRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT task_id, document_id, file_name, sequence_index, created_at_ms
FROM tracked_tasks
WHERE task_id = ?
`, taskID)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get task record: %w", err)
	}
	return &rec, nil
}

func (s *Store) GetAll(ctx context.Context) ([]domain.TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT task_id, document_id, file_name, sequence_index, created_at_ms
FROM tracked_tasks
`)
	if err != nil {
		return nil, fmt.Errorf("list task records: %w", err)
	}
	defer rows.Close()

	out := make([]domain.TaskRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task records: %w", err)
	}
	return out, nil
}

// Delete is idempotent and best-effort: a failed delete is retried once
// after a short fixed delay before giving up.
func (s *Store) Delete(ctx context.Context, taskID string) error {
	return s.executor.Execute(ctx, "taskstore.delete", func(ctx context.Context) error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM tracked_tasks WHERE task_id = ?`, taskID); err != nil {
			return fmt.Errorf("delete task record: %w", err)
		}
		return nil
	}, classifyStorageError)
}

// EnsurePresent backstops a missed initial Put. No-op when skip is true.
func (s *Store) EnsurePresent(ctx context.Context, rec domain.TaskRecord, skip bool) error {
	if skip {
		return nil
	}
	existing, err := s.Get(ctx, rec.TaskID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	return s.Put(ctx, rec)
}

func classifyStorageError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
}

type recordScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row recordScanner) (domain.TaskRecord, error) {
	var rec domain.TaskRecord
	var createdAtMs int64
	err := row.Scan(
		&rec.TaskID,
		&rec.DocumentID,
		&rec.FileName,
		&rec.SequenceIndex,
		&createdAtMs,
	)
	if err != nil {
		return domain.TaskRecord{}, err
	}
	rec.CreatedAt = time.UnixMilli(createdAtMs).UTC()
	return rec, nil
}
