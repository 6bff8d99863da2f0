package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/taskchannel/internal/core/domain"
	"github.com/kirillkom/taskchannel/internal/infrastructure/resilience"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts: 2,
		RetryDelay:       1 * time.Millisecond,
	})
	return NewWithExecutor(db, executor), mock, func() { db.Close() }
}

func TestPutUpsertsByTaskID(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	mock.ExpectExec("INSERT INTO tracked_tasks").
		WithArgs("job_1", "doc_1", "report.pdf", 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := domain.TaskRecord{
		TaskID:        "job_1",
		DocumentID:    "doc_1",
		FileName:      "report.pdf",
		SequenceIndex: 1,
		CreatedAt:     time.Now().UTC(),
	}
	if err := store.Put(context.Background(), rec); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetReturnsNilWhenAbsent(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	mock.ExpectQuery("FROM tracked_tasks").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"task_id", "document_id", "file_name", "sequence_index", "created_at_ms"}))

	rec, err := store.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record, got %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetRoundTripsRecord(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"task_id", "document_id", "file_name", "sequence_index", "created_at_ms"}).
		AddRow("job_1", "doc_1", "report.pdf", 2, created.UnixMilli())

	mock.ExpectQuery("FROM tracked_tasks").
		WithArgs("job_1").
		WillReturnRows(rows)

	rec, err := store.Get(context.Background(), "job_1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec == nil {
		t.Fatalf("expected record")
	}
	if rec.TaskID != "job_1" || rec.DocumentID != "doc_1" || rec.SequenceIndex != 2 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if !rec.CreatedAt.Equal(created) {
		t.Fatalf("expected created_at %v, got %v", created, rec.CreatedAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteRetriesOnceBeforeGivingUp(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	mock.ExpectExec("DELETE FROM tracked_tasks").
		WithArgs("job_1").
		WillReturnError(errors.New("database is locked"))
	mock.ExpectExec("DELETE FROM tracked_tasks").
		WithArgs("job_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Delete(context.Background(), "job_1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteGivesUpAfterSecondFailure(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	locked := errors.New("database is locked")
	mock.ExpectExec("DELETE FROM tracked_tasks").WithArgs("job_1").WillReturnError(locked)
	mock.ExpectExec("DELETE FROM tracked_tasks").WithArgs("job_1").WillReturnError(locked)

	if err := store.Delete(context.Background(), "job_1"); err == nil {
		t.Fatalf("expected error after retry exhaustion")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnsurePresentSkips(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	rec := domain.TaskRecord{TaskID: "job_1"}
	if err := store.EnsurePresent(context.Background(), rec, true); err != nil {
		t.Fatalf("EnsurePresent(skip) error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expected no queries, got: %v", err)
	}
}

func TestEnsurePresentWritesWhenAbsent(t *testing.T) {
	store, mock, closeFn := newMockStore(t)
	defer closeFn()

	mock.ExpectQuery("FROM tracked_tasks").
		WithArgs("job_1").
		WillReturnRows(sqlmock.NewRows([]string{"task_id", "document_id", "file_name", "sequence_index", "created_at_ms"}))
	mock.ExpectExec("INSERT INTO tracked_tasks").
		WithArgs("job_1", "doc_1", "a.pdf", 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := domain.TaskRecord{TaskID: "job_1", DocumentID: "doc_1", FileName: "a.pdf", SequenceIndex: 1, CreatedAt: time.Now()}
	if err := store.EnsurePresent(context.Background(), rec, false); err != nil {
		t.Fatalf("EnsurePresent() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
