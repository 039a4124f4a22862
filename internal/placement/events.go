package placement

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/talgya/tilecity/internal/grid"
	"github.com/talgya/tilecity/internal/tiles"
)

const (
	maxEvents        = 1000
	subscriberBuffer = 64
)

// CellChange is a committed category change at one cell.
type CellChange struct {
	X        int            `json:"x"`
	Y        int            `json:"y"`
	Category tiles.Category `json:"category"`
}

// Event tells renderers which cells changed. Narrowed lists cells whose
// possibility set shrank, for preview highlighting.
type Event struct {
	Seq      uint64       `json:"seq"`
	Kind     string       `json:"kind"` // "place", "remove", "undo", "redo", "generate", "reset", "restore"
	Cells    []CellChange `json:"cells,omitempty"`
	Narrowed []grid.Point `json:"narrowed,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// Subscribe registers a listener for change events. Slow listeners miss
// events rather than stall placement.
func (c *Coordinator) Subscribe() (string, <-chan Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.New().String()
	ch := make(chan Event, subscriberBuffer)
	c.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (c *Coordinator) Unsubscribe(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ch, ok := c.subs[id]; ok {
		delete(c.subs, id)
		close(ch)
	}
}

// Subscribers returns the number of registered listeners.
func (c *Coordinator) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// RecentEvents returns up to n of the newest events, oldest first.
func (c *Coordinator) RecentEvents(n int) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := len(c.events) - n
	if start < 0 || n <= 0 {
		start = 0
	}
	return append([]Event(nil), c.events[start:]...)
}

// DrainEvents returns events recorded since the last drain, for persistence.
func (c *Coordinator) DrainEvents() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := append([]Event(nil), c.events[c.drained:]...)
	c.drained = len(c.events)
	return out
}

// emit records e and fans it out. Callers hold c.mu.
func (c *Coordinator) emit(e Event) {
	c.seq++
	e.Seq = c.seq

	c.events = append(c.events, e)
	if len(c.events) > maxEvents {
		trim := len(c.events) - maxEvents
		c.events = append([]Event(nil), c.events[trim:]...)
		c.drained -= trim
		if c.drained < 0 {
			c.drained = 0
		}
	}

	for id, ch := range c.subs {
		select {
		case ch <- e:
		default:
			slog.Debug("subscriber lagging, event dropped", "sub_id", id, "seq", e.Seq)
		}
	}
}
