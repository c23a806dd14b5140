// internal/browser/humanoid/events.go
package humanoid

import (
	"sync"
	"time"
)

// EventType names a recorded interaction.
type EventType string

const (
	EventMove        EventType = "move"
	EventClick       EventType = "click"
	EventDoubleClick EventType = "double_click"
	EventRightClick  EventType = "right_click"
	EventDrag        EventType = "drag"
	EventTyping      EventType = "type"
	EventScroll      EventType = "scroll"
)

// Event is a diagnostic record of one high-level action.
type Event struct {
	Time    time.Time
	Type    EventType
	Target  Vector2D
	Text    string
	Pattern string
}

// EventLog is a bounded ring buffer keeping the most recent events.
type EventLog struct {
	mu   sync.Mutex
	buf  []Event
	next int
	full bool
}

// NewEventLog returns a log holding at most size events.
func NewEventLog(size int) *EventLog {
	if size <= 0 {
		size = 100
	}
	return &EventLog{buf: make([]Event, size)}
}

// Append records ev, overwriting the oldest entry when full.
func (l *EventLog) Append(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf[l.next] = ev
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.full = true
	}
}

// Events returns the recorded events, oldest first.
func (l *EventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.full {
		return append([]Event(nil), l.buf[:l.next]...)
	}
	out := make([]Event, 0, len(l.buf))
	out = append(out, l.buf[l.next:]...)
	return append(out, l.buf[:l.next]...)
}

// Len returns the number of retained events.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.full {
		return len(l.buf)
	}
	return l.next
}
