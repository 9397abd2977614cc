// Package hub fans canonical events out to every connected viewer and
// tracks the last-known connectivity of each platform. It is the only
// component allowed to touch the subscriber set and the status map.
package hub

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/pacdouglas/live-xumbrega/internal/event"
	"github.com/pacdouglas/live-xumbrega/internal/history"
)

// queueSize bounds each subscriber's pending-event queue. A subscriber
// that falls this far behind is evicted rather than slowing the producers.
const queueSize = 200

// Subscriber is one viewer's bounded event queue. Obtain one with
// Subscribe and release it with Unsubscribe on every exit path.
type Subscriber struct {
	ch chan []byte
}

// Events returns the stream of serialized events. The channel is closed
// when the subscriber is evicted or the hub shuts down.
func (s *Subscriber) Events() <-chan []byte {
	return s.ch
}

// Hub owns the live subscriber set and the per-platform status map.
// Chat events are additionally appended to the history log.
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	status map[string]bool
	closed bool
	log    *history.Log
}

// New creates a hub. hist may be nil, in which case chat events are not
// persisted.
func New(hist *history.Log) *Hub {
	status := make(map[string]bool, len(event.Platforms))
	for _, p := range event.Platforms {
		status[p] = false
	}
	return &Hub{
		subs:   make(map[*Subscriber]struct{}),
		status: status,
		log:    hist,
	}
}

// Publish serializes ev once and enqueues it on every live subscriber.
// A subscriber whose queue is full is evicted; the producer never blocks.
// Chat events are appended to the history log before fan-out.
func (h *Hub) Publish(ev event.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[hub] marshal event: %v", err)
		return
	}

	if _, ok := ev.(event.Chat); ok && h.log != nil {
		if err := h.log.Append(data); err != nil {
			log.Printf("[hub] append history: %v", err)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.ch <- data:
		default:
			// Slow consumer: drop the subscriber, not the event stream.
			delete(h.subs, sub)
			close(sub.ch)
		}
	}
}

// SetStatus records the platform's connectivity and publishes the
// transition to all subscribers.
func (h *Hub) SetStatus(platform string, on bool) {
	h.mu.Lock()
	h.status[platform] = on
	h.mu.Unlock()

	h.Publish(event.Status{Platform: platform, On: on})
}

// StatusSnapshot returns the last-known connectivity of every platform in
// a fixed order, for sending to a freshly connected viewer.
func (h *Hub) StatusSnapshot() []event.Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	snapshot := make([]event.Status, 0, len(event.Platforms))
	for _, p := range event.Platforms {
		snapshot = append(snapshot, event.Status{Platform: p, On: h.status[p]})
	}
	return snapshot
}

// Subscribe adds a new bounded queue to the live set and returns its handle.
// After Close the returned subscriber's channel is already closed.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{ch: make(chan []byte, queueSize)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes sub from the live set. It is safe to call after the
// subscriber has already been evicted.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// Close evicts every subscriber and rejects new subscriptions. A stream
// handler blocked on its subscriber channel wakes up immediately, which is
// what lets the HTTP server's graceful shutdown actually finish.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// SubscriberCount reports the current number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
