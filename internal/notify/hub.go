package notify

import (
	"sync"
	"time"

	"github.com/bryanchriswhite/SilentShot/internal/logger"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Kind of file an event announces.
type Kind string

const (
	KindRaw        Kind = "raw"
	KindCompressed Kind = "compressed"
)

// Event announces a file written to the destination folder.
type Event struct {
	Kind   Kind      `json:"kind"`
	Path   string    `json:"path"`
	Size   int64     `json:"size"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
	At     time.Time `json:"at"`
}

// DefaultRecent is how many events Recent keeps.
const DefaultRecent = 64

// Hub fans written-file events out to subscribers and remembers the most
// recent ones. Publishing never blocks; a subscriber that falls behind
// misses events.
type Hub struct {
	listeners []chan Event
	recent    *lru.Cache[string, Event]
	mu        sync.RWMutex
}

// NewHub creates a hub remembering the last size events.
func NewHub(size int) *Hub {
	if size <= 0 {
		size = DefaultRecent
	}
	recent, err := lru.New[string, Event](size)
	if err != nil {
		// only fails for size <= 0
		panic(err)
	}
	return &Hub{recent: recent}
}

// Publish records ev and delivers it to every subscriber with room.
func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	h.recent.Add(ev.Path, ev)

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.listeners {
		select {
		case ch <- ev:
		default:
			logger.WithComponent("notify").Debug().
				Str("path", ev.Path).
				Msg("Subscriber full, dropping event")
		}
	}
}

// Subscribe returns a channel receiving future events.
func (h *Hub) Subscribe() chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, 16)
	h.listeners = append(h.listeners, ch)
	return ch
}

// Unsubscribe removes and closes ch.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, listener := range h.listeners {
		if listener == ch {
			h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

// Recent returns the remembered events, newest first.
func (h *Hub) Recent() []Event {
	values := h.recent.Values()
	out := make([]Event, len(values))
	for i, ev := range values {
		out[len(values)-1-i] = ev
	}
	return out
}
