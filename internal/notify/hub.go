package notify

import (
	"log/slog"
	"sync"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind starts losing events; the row remains the source of
// truth, so a dropped delta is recoverable by re-reading.
const subscriberBuffer = 16

// Subscription is one connected client's event feed.
type Subscription struct {
	// C delivers events for the subscribed owner.
	C <-chan *Event

	ownerID string
	ch      chan *Event
}

// Hub multiplexes task-state deltas to each owner's connected clients.
// Publishing never blocks and never fails the surrounding mutation.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Subscription]struct{}
	logger      *slog.Logger
	closed      bool
}

// NewHub creates a Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]map[*Subscription]struct{}),
		logger:      logger.With("component", "notify_hub"),
	}
}

// Subscribe registers a new feed for the owner. The caller must
// Unsubscribe when done.
func (h *Hub) Subscribe(ownerID string) *Subscription {
	ch := make(chan *Event, subscriberBuffer)
	sub := &Subscription{C: ch, ownerID: ownerID, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return sub
	}
	set, ok := h.subscribers[ownerID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subscribers[ownerID] = set
	}
	set[sub] = struct{}{}

	h.logger.Debug("subscriber added",
		"owner_id", ownerID,
		"subscriber_count", len(set))
	return sub
}

// Unsubscribe removes the feed and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subscribers[sub.ownerID]
	if !ok {
		return
	}
	if _, member := set[sub]; !member {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subscribers, sub.ownerID)
	}
	close(sub.ch)
}

// Publish delivers the event to every subscriber of the owner. Slow
// subscribers have the event dropped rather than blocking the publisher.
// Sends happen under the read lock: channels are only closed under the
// write lock, so a send can never hit a closed channel.
func (h *Hub) Publish(ownerID string, event *Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subscribers[ownerID] {
		select {
		case sub.ch <- event:
		default:
			h.logger.Warn("dropping event for slow subscriber",
				"owner_id", ownerID,
				"event_type", event.Type)
		}
	}
}

// SubscriberCount returns the number of feeds registered for the owner.
func (h *Hub) SubscriberCount(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[ownerID])
}

// Close shuts the hub down, closing every subscriber channel. Publish
// becomes a no-op afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ownerID, set := range h.subscribers {
		for sub := range set {
			close(sub.ch)
		}
		delete(h.subscribers, ownerID)
	}
}
