package ports

import (
	"context"
	"time"

	"github.com/kirillkom/taskchannel/internal/core/domain"
)

// TaskStore is the durable, restart-surviving record of in-flight tasks.
// It is a recovery convenience, not the source of truth for a live session:
// implementations log and absorb their own failures where the contract says
// so, and callers never let a store error fail an upload in progress.
type TaskStore interface {
	// Put upserts by task ID. Idempotent.
	Put(ctx context.Context, rec domain.TaskRecord) error
	// Get returns the record, or nil when absent.
	Get(ctx context.Context, taskID string) (*domain.TaskRecord, error)
	GetAll(ctx context.Context) ([]domain.TaskRecord, error)
	// Delete removes the record. Idempotent; best-effort (retried once
	// internally, then given up).
	Delete(ctx context.Context, taskID string) error
	// EnsurePresent writes the record only if it is missing, as a backstop
	// against a missed initial Put. No-op when skip is true.
	EnsurePresent(ctx context.Context, rec domain.TaskRecord, skip bool) error
}

// TokenIssuer requests a fresh short-lived credential from the owning web
// session before each connection attempt.
type TokenIssuer interface {
	Issue(ctx context.Context) (domain.Credential, error)
}

// Conn is one established transport connection.
type Conn interface {
	// ReadMessage blocks until the next inbound frame or a close.
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

// Dialer opens and authenticates the transport.
type Dialer interface {
	Dial(ctx context.Context, cred domain.Credential) (Conn, error)
}

// ProgressSink receives every intermediate message for tasks the host
// application displays (a UI progress store in the original product).
type ProgressSink interface {
	Update(msg domain.ProgressMessage)
}

// Clock abstracts wall-clock time so the debounce window and idle deadline
// are testable without real timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
	// Sleep waits for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration)
}

type Timer interface {
	Reset(d time.Duration) bool
	Stop() bool
}
