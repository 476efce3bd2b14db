package engine

import (
	"sync"

	"github.com/google/uuid"
)

// Listener receives status events.
type Listener func(Event)

// LiveListener receives live query notifications.
type LiveListener func(Notification)

type entry[F any] struct {
	id uint64
	fn F
}

// Emitter fans status events and live notifications out to subscribers.
// Listeners run synchronously on a snapshot, so they may subscribe or
// unsubscribe while being called.
type Emitter struct {
	mu     sync.Mutex
	nextID uint64
	status map[Status][]entry[Listener]
	live   map[uuid.UUID][]entry[LiveListener]
}

// NewEmitter returns an emitter with no listeners.
func NewEmitter() *Emitter {
	return &Emitter{
		status: make(map[Status][]entry[Listener]),
		live:   make(map[uuid.UUID][]entry[LiveListener]),
	}
}

// Subscribe registers fn for events with the given status. The returned
// func removes it.
func (e *Emitter) Subscribe(status Status, fn Listener) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.status[status] = append(e.status[status], entry[Listener]{id: id, fn: fn})
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.status[status] = remove(e.status[status], id)
	}
}

// SubscribeLive registers fn for notifications of one live query.
func (e *Emitter) SubscribeLive(id uuid.UUID, fn LiveListener) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	lid := e.nextID
	e.live[id] = append(e.live[id], entry[LiveListener]{id: lid, fn: fn})
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if rest := remove(e.live[id], lid); len(rest) > 0 {
			e.live[id] = rest
		} else {
			delete(e.live, id)
		}
	}
}

// Emit calls every listener subscribed to ev.Status.
func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	snapshot := e.status[ev.Status]
	e.mu.Unlock()
	for _, l := range snapshot {
		l.fn(ev)
	}
}

// EmitLive calls every listener subscribed to n.ID.
func (e *Emitter) EmitLive(n Notification) {
	e.mu.Lock()
	snapshot := e.live[n.ID]
	e.mu.Unlock()
	for _, l := range snapshot {
		l.fn(n)
	}
}

// Listeners returns the number of listeners for status.
func (e *Emitter) Listeners(status Status) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.status[status])
}

// remove returns a new slice without id so snapshots held by Emit stay intact.
func remove[F any](entries []entry[F], id uint64) []entry[F] {
	out := make([]entry[F], 0, len(entries))
	for _, en := range entries {
		if en.id != id {
			out = append(out, en)
		}
	}
	return out
}
