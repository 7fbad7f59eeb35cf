// Package events carries operational events from the resolver, skills
// and history components to whoever is listening: the /v1/events
// WebSocket, the MQTT forwarder, the acquisition ledger. A nil *Bus is
// valid and discards everything, so publishers never need guards.
package events

import (
	"sync"
	"time"
)

// Sources.
const (
	SourceResource = "resource"
	SourceSkills   = "skills"
	SourceHistory  = "history"
)

// Kinds published by SourceResource.
const (
	// KindVariantSubstituted: the requested variant key is unknown and
	// the default was used. Data: requested, used.
	KindVariantSubstituted = "variant_substituted"
	// KindPathDiscrepancy: an acquisition reported a path other than the
	// one resolution predicted. Data: expected, actual.
	KindPathDiscrepancy = "path_discrepancy"
	// KindStatus: an artifact was resolved. Data: path, status, source.
	KindStatus = "status"
	// KindAcquireStart: a download began. Data: job_id, remote, target_dir.
	KindAcquireStart = "acquire_start"
	// KindAcquireProgress: download progress. Data: job_id, bytes, total.
	KindAcquireProgress = "acquire_progress"
	// KindAcquireDone: a download finished. Data: job_id, variant,
	// remote, target_dir, outcome, path, reason, bytes, elapsed_ms.
	KindAcquireDone = "acquire_done"
)

// Kinds published by SourceSkills and SourceHistory.
const (
	// KindSkillCall: a skill was invoked. Data: skill.
	KindSkillCall = "skill_call"
	// KindSkillDone: a skill returned. Data: skill, ok, duration_ms.
	KindSkillDone = "skill_done"
	// KindHistorySaved: history was persisted. Data: backend, entries.
	KindHistorySaved = "history_saved"
	// KindHistoryCleared: history was erased. Data: backend.
	KindHistoryCleared = "history_cleared"
)

// Event is a single published event.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast bus. A subscriber whose buffer is
// full misses events; publishers never wait.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recv maps the receive-only view handed to subscribers back to the
	// channel we own, so Unsubscribe can close it.
	recv map[<-chan Event]chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs: make(map[chan Event]struct{}),
		recv: make(map[<-chan Event]chan Event),
	}
}

// Publish delivers e to every subscriber with room for it.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit publishes an event stamped with the current time.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{
		Timestamp: time.Now(),
		Source:    source,
		Kind:      kind,
		Data:      data,
	})
}

// Subscribe returns a channel receiving published events. Callers must
// Unsubscribe when done. A nil bus returns a nil channel, which never
// delivers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	if b == nil {
		return nil
	}
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recv[ch] = ch
	return ch
}

// Unsubscribe removes the subscription and closes its channel. Repeated
// calls are no-ops.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	send, ok := b.recv[ch]
	if !ok {
		return
	}
	delete(b.subs, send)
	delete(b.recv, ch)
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
