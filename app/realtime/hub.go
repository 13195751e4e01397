// Package realtime fans record-change events out to the viewers of a partition
package realtime

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amirphl/leadrelay/metrics"
	"github.com/amirphl/leadrelay/utils"
)

// Event is one record-change notification
type Event struct {
	Type            string    `json:"type"`
	PartitionID     uint      `json:"partitionId"`
	Payload         any       `json:"payload,omitempty"`
	OriginSessionID string    `json:"-"`
	SentAt          time.Time `json:"sentAt"`
}

// Publisher forwards events to every instance, including this one
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Subscription is one connected viewer
type Subscription struct {
	PartitionID uint
	SessionID   string

	events chan Event
	hub    *Hub
	closed atomic.Bool
}

// Events delivers the partition's events. The channel is closed on Unsubscribe.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close removes the subscription from its hub
func (s *Subscription) Close() {
	s.hub.Unsubscribe(s)
}

// Hub is the in-process registry of subscriptions keyed by partition
type Hub struct {
	mu         sync.RWMutex
	partitions map[uint]map[*Subscription]struct{}
	buffer     int
	publisher  Publisher
	logger     *log.Logger
}

// NewHub creates an empty registry. buffer is the per-subscriber queue length.
func NewHub(buffer int, logger *log.Logger) *Hub {
	if buffer <= 0 {
		buffer = utils.SubscriberBufferSize
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		partitions: make(map[uint]map[*Subscription]struct{}),
		buffer:     buffer,
		logger:     logger,
	}
}

// SetPublisher routes Broadcast through a shared pub/sub for multi-instance deployments
func (h *Hub) SetPublisher(p Publisher) {
	h.mu.Lock()
	h.publisher = p
	h.mu.Unlock()
}

// Subscribe registers a viewer of partitionID
func (h *Hub) Subscribe(partitionID uint, sessionID string) *Subscription {
	sub := &Subscription{
		PartitionID: partitionID,
		SessionID:   sessionID,
		events:      make(chan Event, h.buffer),
		hub:         h,
	}

	h.mu.Lock()
	subs, ok := h.partitions[partitionID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.partitions[partitionID] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()

	metrics.RealtimeSubscribers.Inc()
	return sub
}

// Unsubscribe removes sub and closes its channel. Calling it twice is safe.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil || !sub.closed.CompareAndSwap(false, true) {
		return
	}

	h.mu.Lock()
	if subs, ok := h.partitions[sub.PartitionID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.partitions, sub.PartitionID)
		}
	}
	close(sub.events)
	h.mu.Unlock()

	metrics.RealtimeSubscribers.Dec()
}

// Broadcast notifies every viewer of partitionID except originSessionID. With a
// publisher configured the event goes through it and comes back via Deliver.
func (h *Hub) Broadcast(partitionID uint, eventType string, payload any, originSessionID string) {
	evt := Event{
		Type:            eventType,
		PartitionID:     partitionID,
		Payload:         payload,
		OriginSessionID: originSessionID,
		SentAt:          utils.UTCNow(),
	}

	h.mu.RLock()
	publisher := h.publisher
	h.mu.RUnlock()

	if publisher != nil {
		err := publisher.Publish(context.Background(), evt)
		if err == nil {
			return
		}
		h.logger.Printf("realtime: publish failed, delivering locally partition_id=%d err=%v", partitionID, err)
	}
	h.Deliver(evt)
}

// Deliver hands evt to local subscribers and returns how many received it. A
// subscriber whose queue is full misses the event.
func (h *Hub) Deliver(evt Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sub := range h.partitions[evt.PartitionID] {
		if evt.OriginSessionID != "" && sub.SessionID == evt.OriginSessionID {
			continue
		}
		select {
		case sub.events <- evt:
			delivered++
		default:
			metrics.RealtimeDropped.Inc()
		}
	}
	return delivered
}

// SubscriberCount returns the number of viewers of partitionID
func (h *Hub) SubscriberCount(partitionID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.partitions[partitionID])
}

// CloseAll disconnects every subscriber
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var all []*Subscription
	for _, subs := range h.partitions {
		for sub := range subs {
			all = append(all, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range all {
		h.Unsubscribe(sub)
	}
}
