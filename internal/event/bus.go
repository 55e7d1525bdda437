// Package event provides the publish/subscribe bus used for cross-subsystem
// notification. The bus is confined to the match goroutine, so no locking is
// performed; all dispatch is sequential.
package event

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
)

// ErrInvalidListener is returned by Subscribe when the callback is nil.
var ErrInvalidListener = errors.New("listener callback must not be nil")

// Data is the payload bag attached to a published event.
type Data map[string]any

// Event is what a listener receives: the payload merged with dispatch
// metadata.
type Event struct {
	Name string
	At   time.Time
	Data Data
}

// Listener handles one event occurrence. The returned value is collected by
// PublishAwaiting and ignored by Publish. A returned error (or a panic) is
// contained and logged; it never aborts the fan-out.
type Listener func(ctx context.Context, ev Event) (any, error)

// Handle is the opaque token returned by Subscribe, usable only for
// Unsubscribe.
type Handle struct {
	Event string
	ID    uint64
}

// Stats is a read-only snapshot of the bus counters.
type Stats struct {
	Total    uint64
	ByEvent  map[string]uint64
	Failures uint64
}

type registration struct {
	id       uint64
	priority int
	fn       Listener
}

// Bus is a priority-ordered publish/subscribe registry. Within one event
// name, listeners fire in descending priority order; equal priorities keep
// registration order.
type Bus struct {
	logger    runtime.Logger
	nextID    uint64
	listeners map[string][]registration
	total     uint64
	byEvent   map[string]uint64
	failures  uint64
}

// NewBus constructs an empty bus logging through the provided logger.
func NewBus(logger runtime.Logger) *Bus {
	return &Bus{
		logger:    logger,
		listeners: make(map[string][]registration),
		byEvent:   make(map[string]uint64),
	}
}

// Subscribe registers fn for name at the given priority and returns the
// removal handle. Higher priorities fire first.
func (b *Bus) Subscribe(name string, fn Listener, priority int) (Handle, error) {
	if fn == nil {
		return Handle{}, ErrInvalidListener
	}
	b.nextID++
	reg := registration{id: b.nextID, priority: priority, fn: fn}
	regs := append(b.listeners[name], reg)
	// Stable sort keeps registration order for equal priorities.
	sort.SliceStable(regs, func(i, j int) bool {
		return regs[i].priority > regs[j].priority
	})
	b.listeners[name] = regs
	return Handle{Event: name, ID: reg.id}, nil
}

// Unsubscribe removes the listener identified by h. Removing an unknown or
// already-removed handle returns false rather than failing.
func (b *Bus) Unsubscribe(h Handle) bool {
	regs := b.listeners[h.Event]
	for i, reg := range regs {
		if reg.id == h.ID {
			b.listeners[h.Event] = append(regs[:i:i], regs[i+1:]...)
			return true
		}
	}
	return false
}

// UnsubscribeAll clears every listener for name and returns how many were
// removed.
func (b *Bus) UnsubscribeAll(name string) int {
	count := len(b.listeners[name])
	delete(b.listeners, name)
	return count
}

// ListenerCount reports the number of live listeners for name. Debug-only;
// the registry itself is not exposed.
func (b *Bus) ListenerCount(name string) int {
	return len(b.listeners[name])
}

// Publish invokes every current listener for name in priority order,
// discarding results. Returns false when no listeners existed, true
// otherwise. Publish never suspends: listeners run with a background
// context and their errors are contained.
func (b *Bus) Publish(name string, data Data) bool {
	regs := b.snapshot(name)
	if len(regs) == 0 {
		return false
	}
	ev := b.makeEvent(name, data)
	b.count(name)
	for _, reg := range regs {
		if _, err := b.invoke(context.Background(), reg, ev); err != nil {
			b.listenerFailed(name, reg.id, err)
		}
	}
	return true
}

// PublishAwaiting invokes listeners for name in priority order, waiting for
// each listener's own work to complete before starting the next. It returns
// one result per listener in listener order; a failed listener contributes
// nil. This is the bus's only suspension point.
func (b *Bus) PublishAwaiting(ctx context.Context, name string, data Data) []any {
	regs := b.snapshot(name)
	if len(regs) == 0 {
		return nil
	}
	ev := b.makeEvent(name, data)
	b.count(name)
	results := make([]any, 0, len(regs))
	for _, reg := range regs {
		result, err := b.invoke(ctx, reg, ev)
		if err != nil {
			b.listenerFailed(name, reg.id, err)
			results = append(results, nil)
			continue
		}
		results = append(results, result)
	}
	return results
}

// Statistics returns a copy of the dispatch counters.
func (b *Bus) Statistics() Stats {
	byEvent := make(map[string]uint64, len(b.byEvent))
	for name, n := range b.byEvent {
		byEvent[name] = n
	}
	return Stats{Total: b.total, ByEvent: byEvent, Failures: b.failures}
}

// snapshot copies the listener list so listeners that subscribe or
// unsubscribe during dispatch do not disturb the in-flight fan-out.
func (b *Bus) snapshot(name string) []registration {
	regs := b.listeners[name]
	if len(regs) == 0 {
		return nil
	}
	return append([]registration(nil), regs...)
}

func (b *Bus) makeEvent(name string, data Data) Event {
	merged := make(Data, len(data)+2)
	for k, v := range data {
		merged[k] = v
	}
	at := time.Now()
	merged["event_name"] = name
	merged["dispatched_at"] = at.UnixMilli()
	return Event{Name: name, At: at, Data: merged}
}

func (b *Bus) count(name string) {
	b.total++
	b.byEvent[name]++
}

func (b *Bus) listenerFailed(name string, id uint64, err error) {
	b.failures++
	if b.logger != nil {
		b.logger.Warn("event: listener %d for %q failed: %v", id, name, err)
	}
}

// invoke runs one listener, converting a panic into an error so a broken
// subscriber cannot unwind through the bus.
func (b *Bus) invoke(ctx context.Context, reg registration, ev Event) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return reg.fn(ctx, ev)
}
