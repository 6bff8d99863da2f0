package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/taskchannel/internal/core/domain"
	"github.com/kirillkom/taskchannel/internal/core/ports"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) ports.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, deadline: c.now.Add(d), fn: fn, active: true}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Sleep(context.Context, time.Duration) {}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if t.active && !t.deadline.After(c.now) {
			t.active = false
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

func (c *fakeClock) createdTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

type fakeTimer struct {
	clock    *fakeClock
	deadline time.Time
	fn       func()
	active   bool
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := t.active
	t.deadline = t.clock.now.Add(d)
	t.active = true
	return was
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := t.active
	t.active = false
	return was
}

type fakeConn struct {
	mu        sync.Mutex
	writes    []domain.SubscriptionUpdate
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	select {
	case <-c.closed:
		return errors.New("write on closed connection")
	default:
	}
	if update, ok := v.(domain.SubscriptionUpdate); ok {
		c.mu.Lock()
		c.writes = append(c.writes, update)
		c.mu.Unlock()
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) updates() []domain.SubscriptionUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.SubscriptionUpdate, len(c.writes))
	copy(out, c.writes)
	return out
}

type fakeDialer struct {
	mu      sync.Mutex
	conns   []*fakeConn
	calls   int
	failAll bool
	delay   time.Duration
}

func (d *fakeDialer) Dial(context.Context, domain.Credential) (ports.Conn, error) {
	d.mu.Lock()
	d.calls++
	delay := d.delay
	failAll := d.failAll
	d.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if failAll {
		return nil, errors.New("dial refused")
	}

	conn := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) dialCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

type fakeIssuer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeIssuer) Issue(context.Context) (domain.Credential, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return domain.Credential{}, err
	}
	return domain.Credential{Token: "tok_test", WSURL: "wss://progress.test/ws", ExpiresIn: 600}, nil
}

func (f *fakeIssuer) issueCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStore struct {
	mu      sync.Mutex
	records map[string]domain.TaskRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]domain.TaskRecord)}
}

func (s *fakeStore) Put(_ context.Context, rec domain.TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.TaskID] = rec
	return nil
}

func (s *fakeStore) Get(_ context.Context, taskID string) (*domain.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[taskID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *fakeStore) GetAll(context.Context) ([]domain.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TaskRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out, nil
}

func (s *fakeStore) Delete(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, taskID)
	return nil
}

func (s *fakeStore) EnsurePresent(ctx context.Context, rec domain.TaskRecord, skip bool) error {
	if skip {
		return nil
	}
	s.mu.Lock()
	_, ok := s.records[rec.TaskID]
	s.mu.Unlock()
	if ok {
		return nil
	}
	return s.Put(ctx, rec)
}

func (s *fakeStore) has(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[taskID]
	return ok
}

type fakeSink struct {
	mu   sync.Mutex
	msgs []domain.ProgressMessage
}

func (s *fakeSink) Update(msg domain.ProgressMessage) {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
}

func (s *fakeSink) updates() []domain.ProgressMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ProgressMessage, len(s.msgs))
	copy(out, s.msgs)
	return out
}

func waitUntil(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
