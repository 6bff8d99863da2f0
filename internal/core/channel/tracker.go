package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/taskchannel/internal/core/domain"
	"github.com/kirillkom/taskchannel/internal/core/ports"
	"github.com/kirillkom/taskchannel/internal/observability/metrics"
)

// Tracker is the public surface used by the upload flow. It composes the
// durable store, the connection manager, the subscription registry and the
// dispatcher behind two operations: track a task, query the connection
// state.
type Tracker struct {
	manager  *Manager
	store    ports.TaskStore
	sink     ports.ProgressSink
	terminal domain.TerminalFunc
	logger   *slog.Logger
}

type Deps struct {
	Issuer ports.TokenIssuer
	Dialer ports.Dialer
	Store  ports.TaskStore

	// Sink receives intermediate progress messages; optional.
	Sink ports.ProgressSink
	// Clock defaults to the system clock.
	Clock ports.Clock
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Metrics is optional.
	Metrics *metrics.ChannelMetrics
}

func New(cfg Config, deps Deps) (*Tracker, error) {
	if deps.Issuer == nil || deps.Dialer == nil || deps.Store == nil {
		return nil, fmt.Errorf("channel: issuer, dialer and store are required")
	}
	cfg = cfg.normalize()

	clock := deps.Clock
	if clock == nil {
		clock = SystemClock()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	manager := newManager(cfg, deps.Issuer, deps.Dialer, deps.Store, clock, logger, deps.Metrics)
	tracker := &Tracker{
		manager:  manager,
		store:    deps.Store,
		sink:     deps.Sink,
		terminal: cfg.Terminal,
		logger:   logger,
	}
	manager.restoreHandler = tracker.recoveryHandler
	return tracker, nil
}

// TrackTask persists the record, subscribes it on the shared channel and
// returns a one-shot channel carrying the terminal outcome. The task
// always resolves eventually: worker-reported success or failure, or a
// synthetic failure once reconnects are exhausted. Storage errors are
// absorbed; they never fail the upload in progress.
func (t *Tracker) TrackTask(ctx context.Context, rec domain.TaskRecord) (<-chan domain.TaskOutcome, error) {
	if rec.TaskID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "track task", errors.New("empty task id"))
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	if err := t.store.EnsurePresent(ctx, rec, false); err != nil {
		t.logger.Warn("persist_task_failed", "task_id", rec.TaskID, "error", err)
	}

	out := make(chan domain.TaskOutcome, 1)
	var once sync.Once
	handler := func(msg domain.ProgressMessage) {
		success, terminal := t.terminal(msg)
		if !terminal {
			if t.sink != nil {
				t.sink.Update(msg)
			}
			return
		}
		once.Do(func() {
			t.finishTask(rec, success, msg)
			outcome := domain.TaskOutcome{
				TaskID:        rec.TaskID,
				FileName:      rec.FileName,
				SequenceIndex: rec.SequenceIndex,
				Success:       success,
			}
			if !success {
				outcome.Err = outcomeError(rec.TaskID, msg)
			}
			out <- outcome
		})
	}

	if err := t.manager.Subscribe(ctx, rec.TaskID, handler); err != nil {
		// Credential failures and reconnect exhaustion reach the handler
		// as synthetic terminal messages; other transport failures are
		// owned by the reconnect loop. A closed channel owns neither, so
		// the task is resolved here with a synthetic failure. Either way
		// the outcome channel resolves.
		t.logger.Warn("subscribe_connect_failed", "task_id", rec.TaskID, "error", err)
		if domain.IsKind(err, domain.ErrChannelClosed) {
			handler(domain.ProgressMessage{
				TaskID:    rec.TaskID,
				State:     "FAILED",
				Error:     err.Error(),
				Synthetic: true,
			})
		}
	}
	return out, nil
}

func (t *Tracker) State() domain.ConnState {
	return t.manager.State()
}

func (t *Tracker) Close() {
	t.manager.Close()
}

// recoveryHandler serves records restored from the durable store after a
// reload: nobody awaits their outcome anymore, but progress still feeds
// the sink and terminal messages still clean up the stored record.
func (t *Tracker) recoveryHandler(rec domain.TaskRecord) Handler {
	var once sync.Once
	return func(msg domain.ProgressMessage) {
		success, terminal := t.terminal(msg)
		if !terminal {
			if t.sink != nil {
				t.sink.Update(msg)
			}
			return
		}
		once.Do(func() {
			t.finishTask(rec, success, msg)
		})
	}
}

func (t *Tracker) finishTask(rec domain.TaskRecord, success bool, msg domain.ProgressMessage) {
	t.manager.Unsubscribe(rec.TaskID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.store.Delete(ctx, rec.TaskID); err != nil {
		t.logger.Warn("delete_task_record_failed", "task_id", rec.TaskID, "error", err)
	}

	t.logger.Info("task_finished",
		"task_id", rec.TaskID,
		"file_name", rec.FileName,
		"success", success,
		"synthetic", msg.Synthetic,
	)
}

func outcomeError(taskID string, msg domain.ProgressMessage) error {
	reason := msg.Error
	if reason == "" {
		reason = msg.State
	}
	if reason == "" {
		reason = msg.Status
	}
	if msg.Synthetic {
		return domain.WrapError(domain.ErrChannelClosed, "track task", fmt.Errorf("task %s: %s", taskID, reason))
	}
	return fmt.Errorf("task %s failed: %s", taskID, reason)
}
