// Package events broadcasts diary and chat events to live consumers:
// the browser websocket feed and the MQTT bridge. Publishing never
// blocks and a nil *Bus accepts events silently, so producers need no
// guard checks.
package events

import (
	"sync"
	"time"
)

// Sources.
const (
	// SourceChat identifies events from the conversation loop.
	SourceChat = "chat"
	// SourceDiary identifies mood and period changes.
	SourceDiary = "diary"
)

// Kinds.
const (
	// KindRequestComplete ends a chat request.
	// Data: request_id, outcome, rounds, needs_refresh, elapsed_ms.
	KindRequestComplete = "request_complete"
	// KindToolDone follows every tool execution.
	// Data: request_id, tool, ok, duration_ms.
	KindToolDone = "tool_done"

	// KindMoodLogged, KindMoodUpdated and KindMoodDeleted carry
	// id, mood, intensity, date_key (id only for deletes).
	KindMoodLogged  = "mood_logged"
	KindMoodUpdated = "mood_updated"
	KindMoodDeleted = "mood_deleted"

	// KindPeriodTracked, KindPeriodUpdated and KindPeriodDeleted carry
	// id, start_date (id only for deletes).
	KindPeriodTracked = "period_tracked"
	KindPeriodUpdated = "period_updated"
	KindPeriodDeleted = "period_deleted"

	// KindRefresh tells clients persisted state changed.
	// Data: request_id.
	KindRefresh = "refresh"
)

// Event is a single published occurrence.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast bus. Subscribers read from buffered
// channels; a full subscriber misses events instead of stalling the
// publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[<-chan Event]chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[<-chan Event]chan Event)}
}

// Publish delivers e to every subscriber that has room.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit publishes an event stamped with the current time.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe registers a subscriber with a buffer of bufSize events.
// Callers must Unsubscribe when done.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = ch
	return ch
}

// Unsubscribe removes and closes a subscription. Unknown channels are
// ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	send, ok := b.subs[ch]
	if !ok {
		return
	}
	delete(b.subs, ch)
	close(send)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
