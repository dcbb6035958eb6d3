// Package events carries operational events from the research loop,
// the tool registry and the API to live subscribers such as the
// WebSocket stream and the MQTT forwarder. A nil *Bus accepts and
// discards everything, so publishers need no guard checks.
package events

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Publishing components.
const (
	SourceAgent    = "agent"
	SourceRegistry = "registry"
	SourceAPI      = "api"
)

// Event kinds. The comment on each lists its Data keys.
const (
	// request_id, conversation_id, model
	KindRequestStart = "request_start"
	// request_id, conversation_id, reason, confirmation
	KindGuardrail = "guardrail"
	// request_id, iter, model
	KindLLMCall = "llm_call"
	// request_id, iter, model, tokens_in, tokens_out, cost_usd, tool_calls
	KindLLMResponse = "llm_response"
	// request_id, tool, call_id
	KindToolCall = "tool_call"
	// request_id, tool, call_id, ok, duration_ms
	KindToolDone = "tool_done"
	// request_id, model, iterations, finish_reason, total_tokens_in,
	// total_tokens_out, elapsed_ms
	KindRequestComplete = "request_complete"

	// tools
	KindToolsChanged = "tools_changed"
	// conversation_id
	KindConversationDeleted = "conversation_deleted"
)

// Event is one published occurrence.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// RequestID returns the research request the event belongs to, or ""
// for events outside any request.
func (e Event) RequestID() string {
	id, _ := e.Data["request_id"].(string)
	return id
}

// Filter selects the events a subscriber receives. The zero Filter
// matches everything.
type Filter struct {
	// RequestID limits delivery to one research request.
	RequestID string
	// Kinds limits delivery to the listed kinds.
	Kinds []string
}

// Match reports whether e passes the filter.
func (f Filter) Match(e Event) bool {
	if f.RequestID != "" && e.RequestID() != f.RequestID {
		return false
	}
	return len(f.Kinds) == 0 || slices.Contains(f.Kinds, e.Kind)
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// Bus broadcasts events without blocking publishers. A subscriber whose
// buffer is full misses the event and the bus counts the drop.
type Bus struct {
	mu      sync.RWMutex
	subs    map[<-chan Event]*subscriber
	dropped atomic.Int64
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[<-chan Event]*subscriber)}
}

// Publish delivers e to every subscriber whose filter matches.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.filter.Match(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Emit publishes an event stamped with the current time.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe registers a subscriber with a bufSize buffer. Callers must
// Unsubscribe when done.
func (b *Bus) Subscribe(bufSize int, filter Filter) <-chan Event {
	sub := &subscriber{ch: make(chan Event, bufSize), filter: filter}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub.ch] = sub
	return sub.ch
}

// Unsubscribe removes the subscription and closes its channel. Unknown
// or already removed channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[ch]
	if !ok {
		return
	}
	delete(b.subs, ch)
	close(sub.ch)
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

// Dropped returns how many deliveries were skipped because a
// subscriber's buffer was full.
func (b *Bus) Dropped() int64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}
