package engine

import (
	"sync"

	"tempocal/storage"
)

// EventType discriminates cache change notifications.
type EventType string

const (
	// EventMonthLoaded fires when a fetch populates a month bucket.
	EventMonthLoaded EventType = "month-loaded"
	// EventItemCreated fires after a confirmed create is patched in.
	EventItemCreated EventType = "item-created"
	// EventItemUpdated fires after a confirmed update is patched in.
	EventItemUpdated EventType = "item-updated"
	// EventItemDeleted fires after a confirmed delete is patched in.
	EventItemDeleted EventType = "item-deleted"
	// EventReset fires when the whole cache is cleared (sign-out).
	EventReset EventType = "reset"
)

// Event describes one cache change. MonthKeys lists every bucket the change
// touched (an item moving months touches two); Item is set for item events.
type Event struct {
	Type      EventType
	MonthKeys []string
	Item      *storage.Item
}

const subscriberBuffer = 16

// subscribers fan cache change events out to registered channels. Sends are
// non-blocking: a subscriber that falls more than subscriberBuffer events
// behind misses events and should re-read the cache.
type subscribers struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func newSubscribers() *subscribers {
	return &subscribers{subs: make(map[int]chan Event)}
}

func (s *subscribers) subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.next
	s.next++
	ch := make(chan Event, subscriberBuffer)
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if ch, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (s *subscribers) publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *subscribers) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
