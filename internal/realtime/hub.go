// Package realtime delivers Account change events to approval watchers.
package realtime

import (
	"context"
	"sync"

	"marketgate.org/internal/identity"
)

const subscriberBuffer = 16

type subscriber struct {
	ch   chan identity.ChangeEvent
	once sync.Once
}

func (s *subscriber) close() { s.once.Do(func() { close(s.ch) }) }

// Hub fans out change events to subscribers keyed by Account id.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[int]*subscriber
	next int
}

var (
	_ identity.Feed      = (*Hub)(nil)
	_ identity.Publisher = (*Hub)(nil)
)

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]*subscriber)}
}

// Subscribe registers a subscriber for accountID. The channel is closed when ctx ends
// or when the hub drops its subscribers.
func (h *Hub) Subscribe(ctx context.Context, accountID string) (<-chan identity.ChangeEvent, error) {
	sub := &subscriber{ch: make(chan identity.ChangeEvent, subscriberBuffer)}

	h.mu.Lock()
	id := h.next
	h.next++
	if h.subs[accountID] == nil {
		h.subs[accountID] = make(map[int]*subscriber)
	}
	h.subs[accountID][id] = sub
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		if set := h.subs[accountID]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(h.subs, accountID)
			}
		}
		sub.close()
		h.mu.Unlock()
	}()

	return sub.ch, nil
}

// Publish delivers evt to subscribers of its Account. Slow subscribers miss the event.
func (h *Hub) Publish(_ context.Context, evt identity.ChangeEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs[evt.Account.ID] {
		select {
		case sub.ch <- evt:
		default:
		}
	}
	return nil
}

// DropAll closes every live subscription so watchers resubscribe.
func (h *Hub) DropAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for accountID, set := range h.subs {
		for _, sub := range set {
			sub.close()
		}
		delete(h.subs, accountID)
	}
}

// Subscribers reports the number of live subscriptions for accountID.
func (h *Hub) Subscribers(accountID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[accountID])
}
