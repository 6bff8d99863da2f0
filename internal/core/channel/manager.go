package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/kirillkom/taskchannel/internal/core/domain"
	"github.com/kirillkom/taskchannel/internal/core/ports"
	"github.com/kirillkom/taskchannel/internal/observability/metrics"
)

type closeIntent int

const (
	intentNone closeIntent = iota
	intentIdle
	intentShutdown
)

// Manager owns the single shared connection: it establishes and
// authenticates it, tears it down on idle or shutdown, and reconnects with
// bounded fixed-delay retry on unexpected loss. At most one live or
// in-flight connection attempt exists at any time; concurrent callers
// await the same memoized attempt.
type Manager struct {
	cfg      Config
	issuer   ports.TokenIssuer
	dialer   ports.Dialer
	store    ports.TaskStore
	clock    ports.Clock
	logger   *slog.Logger
	metrics  *metrics.ChannelMetrics
	limiter  *rate.Limiter
	registry *Registry
	dispatch *Dispatcher

	// restoreHandler builds the handler attached to records recovered
	// from the durable store on (re)connect.
	restoreHandler func(rec domain.TaskRecord) Handler

	mu        sync.Mutex
	state     domain.ConnState
	conn      ports.Conn
	pending   *connectAttempt
	attempts  int
	idleTimer ports.Timer
	intent    closeIntent
}

type connectAttempt struct {
	done chan struct{}
	err  error
}

func newManager(cfg Config, issuer ports.TokenIssuer, dialer ports.Dialer, store ports.TaskStore, clock ports.Clock, logger *slog.Logger, m *metrics.ChannelMetrics) *Manager {
	mgr := &Manager{
		cfg:     cfg,
		issuer:  issuer,
		dialer:  dialer,
		store:   store,
		clock:   clock,
		logger:  logger,
		metrics: m,
		limiter: rate.NewLimiter(cfg.ConnectRate, cfg.ConnectBurst),
		state:   domain.StateClosed,
	}
	mgr.registry = NewRegistry(clock, cfg.DebounceWindow, mgr.debounceFlush)
	mgr.dispatch = NewDispatcher(mgr.registry, logger, m, cfg.Service)
	return mgr
}

func (m *Manager) State() domain.ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers the handler and makes sure a connection is live or
// being established. The returned error reports only this caller's connect
// attempt; channel-level failures are additionally broadcast to handlers.
func (m *Manager) Subscribe(ctx context.Context, taskID string, h Handler) error {
	m.registry.Subscribe(taskID, h)
	return m.ensureConnected(ctx)
}

// Unsubscribe stops dispatch for the ID. The shared connection stays up
// even when the active set becomes empty; only the idle deadline or
// shutdown tears it down.
func (m *Manager) Unsubscribe(taskID string) {
	m.registry.Unsubscribe(taskID)
}

// Close is the shutdown path (page unload in the original product). It is
// an intentional close: no reconnect is ever scheduled for it.
func (m *Manager) Close() {
	m.mu.Lock()
	m.intent = intentShutdown
	conn := m.conn
	if conn != nil {
		m.state = domain.StateClosing
	}
	m.stopIdleLocked()
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

func (m *Manager) ensureConnected(ctx context.Context) error {
	m.mu.Lock()
	if m.intent == intentShutdown {
		m.mu.Unlock()
		return domain.ErrChannelClosed
	}
	if m.state == domain.StateOpen {
		m.mu.Unlock()
		return nil
	}
	if m.pending != nil {
		attempt := m.pending
		m.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	attempt := &connectAttempt{done: make(chan struct{})}
	m.pending = attempt
	m.state = domain.StateConnecting
	m.mu.Unlock()

	return m.connect(attempt)
}

func (m *Manager) connect(attempt *connectAttempt) error {
	start := m.clock.Now()
	err := m.doConnect()

	m.mu.Lock()
	m.pending = nil
	if err != nil && m.state == domain.StateConnecting {
		m.state = domain.StateClosed
	}
	m.mu.Unlock()

	attempt.err = err
	close(attempt.done)

	if m.metrics != nil {
		m.metrics.ObserveConnect(m.cfg.Service, m.clock.Now().Sub(start), err)
	}
	if err != nil {
		m.onConnectFailure(err)
	}
	return err
}

func (m *Manager) doConnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HandshakeTimeout)
	defer cancel()

	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("connect rate limit: %w", err)
	}

	cred, err := m.issuer.Issue(ctx)
	if err != nil {
		return err
	}

	conn, err := m.dialer.Dial(ctx, cred)
	if err != nil {
		return fmt.Errorf("open transport: %w", err)
	}

	m.mu.Lock()
	if m.state == domain.StateOpen && m.conn != nil {
		// A duplicate handshake lost the race; keep the existing connection.
		m.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	if m.intent == intentShutdown {
		m.mu.Unlock()
		_ = conn.Close()
		return domain.ErrChannelClosed
	}
	m.conn = conn
	m.state = domain.StateOpen
	m.attempts = 0
	m.armIdleLocked()
	m.mu.Unlock()

	m.logger.Info("channel_open")
	go m.readLoop(conn)

	// The handshake deadline may be nearly spent after the rate wait,
	// token issue and dial; the restore read gets its own window so a
	// slow handshake cannot silently skip persisted tasks.
	restoreCtx, cancelRestore := context.WithTimeout(context.Background(), m.cfg.HandshakeTimeout)
	defer cancelRestore()
	m.restoreFromStore(restoreCtx)
	m.flushSubscriptions()
	m.clock.Sleep(restoreCtx, m.cfg.SettleDelay)
	return nil
}

func (m *Manager) readLoop(conn ports.Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.handleConnClosed(conn, err)
			return
		}
		m.touch()
		m.dispatch.Dispatch(data)
	}
}

func (m *Manager) handleConnClosed(conn ports.Conn, cause error) {
	m.mu.Lock()
	if m.conn != conn {
		// A discarded duplicate or an already-replaced connection.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.stopIdleLocked()
	m.state = domain.StateClosed
	intent := m.intent
	if intent == intentIdle {
		m.intent = intentNone
	}
	m.mu.Unlock()

	switch intent {
	case intentShutdown:
		m.logger.Info("channel_closed")
	case intentIdle:
		m.logger.Info("channel_closed_idle")
	default:
		m.logger.Warn("channel_closed_unexpectedly", "error", cause)
		m.maybeScheduleReconnect(cause)
	}
}

func (m *Manager) onConnectFailure(err error) {
	if domain.IsKind(err, domain.ErrCredential) {
		// No connection can be authenticated; every caller awaiting a
		// resolution gets a definite terminal failure right away.
		m.logger.Error("credential_failure", "error", err)
		m.failAllTasks(err)
		return
	}
	if domain.IsKind(err, domain.ErrChannelClosed) {
		return
	}
	m.logger.Warn("connect_failed", "error", err)
	m.maybeScheduleReconnect(err)
}

func (m *Manager) maybeScheduleReconnect(cause error) {
	m.mu.Lock()
	if m.intent != intentNone || m.pending != nil {
		m.mu.Unlock()
		return
	}
	if m.registry.Len() == 0 {
		m.mu.Unlock()
		return
	}
	m.attempts++
	attempts := m.attempts
	m.mu.Unlock()

	if attempts >= m.cfg.MaxReconnects {
		m.logger.Error("reconnect_exhausted", "attempts", attempts, "error", cause)
		m.failAllTasks(domain.WrapError(domain.ErrReconnectExhausted, "reconnect", cause))
		return
	}

	if m.metrics != nil {
		m.metrics.ReconnectScheduled()
	}
	m.logger.Info("reconnect_scheduled", "attempt", attempts, "delay_ms", m.cfg.ReconnectDelay.Milliseconds())
	m.clock.AfterFunc(m.cfg.ReconnectDelay, func() {
		_ = m.ensureConnected(context.Background())
	})
}

// failAllTasks delivers one synthetic terminal failure to every registered
// handler, then resets the attempt counter so a later subscribe starts
// fresh.
func (m *Manager) failAllTasks(cause error) {
	m.registry.Broadcast(func(taskID string) domain.ProgressMessage {
		return domain.ProgressMessage{
			TaskID:    taskID,
			State:     "FAILED",
			Error:     cause.Error(),
			Synthetic: true,
		}
	})
	m.mu.Lock()
	m.attempts = 0
	m.mu.Unlock()
}

func (m *Manager) restoreFromStore(ctx context.Context) {
	records, err := m.store.GetAll(ctx)
	if err != nil {
		m.logger.Warn("restore_read_failed", "error", err)
		return
	}
	for _, rec := range records {
		var h Handler
		if m.restoreHandler != nil {
			h = m.restoreHandler(rec)
		}
		if m.registry.Attach(rec.TaskID, h) {
			m.logger.Info("task_restored", "task_id", rec.TaskID, "file_name", rec.FileName)
		}
	}
}

// flushSubscriptions sends the full current ID set immediately, outside
// the debounce window; used right after a connection opens.
func (m *Manager) flushSubscriptions() {
	m.sendUpdate(m.registry.Snapshot())
}

func (m *Manager) debounceFlush(ids []string) {
	m.sendUpdate(ids)
}

func (m *Manager) sendUpdate(ids []string) {
	if m.metrics != nil {
		m.metrics.SetActiveSubscriptions(len(ids))
	}

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		// The flush that runs when the connection opens carries the set.
		m.logger.Debug("subscription_update_skipped", "task_ids", len(ids))
		return
	}

	update := domain.SubscriptionUpdate{Action: domain.ActionUpdate, TaskIDs: ids}
	if err := conn.WriteJSON(update); err != nil {
		m.logger.Warn("subscription_update_failed", "error", err)
		return
	}
	m.touch()
	m.logger.Debug("subscription_update_sent", "task_ids", len(ids))
}

// touch extends the idle lease; any send or receive counts as activity.
func (m *Manager) touch() {
	m.mu.Lock()
	if m.idleTimer != nil {
		m.idleTimer.Reset(m.cfg.IdleTimeout)
	}
	m.mu.Unlock()
}

func (m *Manager) armIdleLocked() {
	if m.idleTimer != nil {
		m.idleTimer.Reset(m.cfg.IdleTimeout)
		return
	}
	m.idleTimer = m.clock.AfterFunc(m.cfg.IdleTimeout, m.onIdle)
}

func (m *Manager) stopIdleLocked() {
	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer = nil
	}
}

// onIdle fires when the idle window elapses with no activity. Idle closes
// are intentional: they never trigger auto-reconnect, even with tasks
// still subscribed, since the server's inactivity policy likely matches.
func (m *Manager) onIdle() {
	m.mu.Lock()
	if m.conn == nil || m.intent != intentNone {
		m.mu.Unlock()
		return
	}
	if n := m.registry.Len(); n > 0 {
		m.logger.Warn("idle_close_with_active_tasks", "task_ids", n)
	} else {
		m.logger.Info("idle_close")
	}
	m.intent = intentIdle
	m.state = domain.StateClosing
	conn := m.conn
	m.mu.Unlock()

	_ = conn.Close()
}
