// Package lifecycle fans application foreground/background signals out to subscribers.
package lifecycle

import "sync"

type Event int

const (
	Foreground Event = iota + 1
	Background
)

func (e Event) String() string {
	switch e {
	case Foreground:
		return "foreground"
	case Background:
		return "background"
	default:
		return "unknown"
	}
}

// ParseEvent accepts "active"/"foreground"/"resumed" and "inactive"/"background"/"paused".
func ParseEvent(s string) (Event, bool) {
	switch s {
	case "active", "foreground", "resumed":
		return Foreground, true
	case "inactive", "background", "paused":
		return Background, true
	default:
		return 0, false
	}
}

// Hub delivers published events to every subscriber. A subscriber that is
// not keeping up misses events rather than blocking the publisher.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a function that ends the subscription.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, 1)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
