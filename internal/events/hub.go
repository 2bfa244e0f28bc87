// Package events fans task lifecycle notifications out to live subscribers
// and keeps a short backlog for clients that reconnect.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Lifecycle event types.
const (
	TypeTaskEnqueued  = "task.enqueued"
	TypeTaskRouted    = "task.routed"
	TypeTaskCompleted = "task.completed"
)

type Event struct {
	ID   int64
	Type string
	At   time.Time
	Data json.RawMessage
}

// TaskEvent is the payload of every lifecycle event.
type TaskEvent struct {
	QueueID string `json:"queue_id,omitempty"`
	TaskID  string `json:"task_id"`
	Route   string `json:"route,omitempty"`
	Status  int    `json:"status,omitempty"`
	Source  string `json:"source,omitempty"`
}

// Hub is an in-memory broadcaster. Slow subscribers drop events rather than
// block publishers.
type Hub struct {
	mu      sync.Mutex
	lastID  int64
	backlog []Event
	limit   int
	subs    map[chan Event]struct{}
	now     func() time.Time
}

func NewHub(backlog int) *Hub {
	if backlog <= 0 {
		backlog = 100
	}
	return &Hub{
		limit: backlog,
		subs:  make(map[chan Event]struct{}),
		now:   time.Now,
	}
}

// Publish assigns the next id to an event of eventType and delivers it.
func (h *Hub) Publish(eventType string, data any) Event {
	payload := json.RawMessage(`{}`)
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	ev := Event{ID: h.lastID, Type: eventType, At: h.now().UTC(), Data: payload}

	h.backlog = append(h.backlog, ev)
	if over := len(h.backlog) - h.limit; over > 0 {
		h.backlog = append(h.backlog[:0:0], h.backlog[over:]...)
	}
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

// Subscribe registers a live subscriber. The returned func unregisters it
// and closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Since returns backlog events newer than lastID, oldest first.
func (h *Hub) Since(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, len(h.backlog))
	for _, ev := range h.backlog {
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}
