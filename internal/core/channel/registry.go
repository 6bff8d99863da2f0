package channel

import (
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/taskchannel/internal/core/domain"
	"github.com/kirillkom/taskchannel/internal/core/ports"
)

// Handler receives every inbound message for one task ID.
type Handler func(msg domain.ProgressMessage)

// Registry is the sole owner of the taskID -> handler mapping and of the
// debounced outbound update scheduling. A burst of subscribe/unsubscribe
// calls within one window produces exactly one flush carrying the net
// active set.
type Registry struct {
	clock  ports.Clock
	window time.Duration
	flush  func(ids []string)

	mu       sync.Mutex
	handlers map[string]Handler
	timer    ports.Timer
	armed    bool
}

func NewRegistry(clock ports.Clock, window time.Duration, flush func(ids []string)) *Registry {
	return &Registry{
		clock:    clock,
		window:   window,
		flush:    flush,
		handlers: make(map[string]Handler),
	}
}

// Subscribe registers the handler, replacing any previous one for the same
// ID (latest registration wins), and schedules a debounced flush.
func (r *Registry) Subscribe(taskID string, h Handler) {
	r.mu.Lock()
	r.handlers[taskID] = h
	r.scheduleLocked()
	r.mu.Unlock()
}

// Attach adds the handler only when the ID is not already registered, and
// does not schedule a flush; the restore path flushes the full set itself.
// Reports whether the ID was newly added.
func (r *Registry) Attach(taskID string, h Handler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[taskID]; ok {
		return false
	}
	r.handlers[taskID] = h
	return true
}

// Unsubscribe removes the ID and schedules a flush so the server stops
// pushing for it. It never tears down the shared connection.
func (r *Registry) Unsubscribe(taskID string) {
	r.mu.Lock()
	if _, ok := r.handlers[taskID]; ok {
		delete(r.handlers, taskID)
		r.scheduleLocked()
	}
	r.mu.Unlock()
}

func (r *Registry) Handler(taskID string) (Handler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handlers[taskID]
	return h, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}

// Snapshot returns the active ID set, sorted for stable wire payloads.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []string {
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Broadcast invokes every registered handler once with the message built
// for its ID. Handlers run outside the registry lock so they may
// unsubscribe themselves.
func (r *Registry) Broadcast(build func(taskID string) domain.ProgressMessage) {
	r.mu.Lock()
	targets := make(map[string]Handler, len(r.handlers))
	for id, h := range r.handlers {
		targets[id] = h
	}
	r.mu.Unlock()

	for id, h := range targets {
		if h == nil {
			continue
		}
		h(build(id))
	}
}

func (r *Registry) scheduleLocked() {
	if r.armed {
		return
	}
	r.armed = true
	if r.timer != nil {
		r.timer.Reset(r.window)
		return
	}
	r.timer = r.clock.AfterFunc(r.window, r.fire)
}

func (r *Registry) fire() {
	r.mu.Lock()
	r.armed = false
	ids := r.snapshotLocked()
	r.mu.Unlock()
	if r.flush != nil {
		r.flush(ids)
	}
}
