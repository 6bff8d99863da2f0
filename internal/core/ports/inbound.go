package ports

import (
	"context"

	"github.com/kirillkom/taskchannel/internal/core/domain"
)

// TaskTracker is the public surface consumed by the upload flow.
type TaskTracker interface {
	// TrackTask persists the record, subscribes it on the shared channel
	// and returns a one-shot channel that delivers the terminal outcome.
	// Every tracked task resolves exactly once; channel-level failures
	// surface as a synthetic failed outcome rather than an error here.
	TrackTask(ctx context.Context, rec domain.TaskRecord) (<-chan domain.TaskOutcome, error)
	// State reports the connection state for diagnostics only.
	State() domain.ConnState
	Close()
}
