package logging

import (
	"strings"
	"sync"
	"time"
)

// EventRecord is one address lifecycle event kept in the event buffer.
type EventRecord struct {
	Seq       uint64    `json:"seq"`
	Time      time.Time `json:"time"`
	Type      string    `json:"type"` // "SLAAC-TRACK", "SLAAC-CONFIRM", "SLAAC-DROP"
	LeaseKey  string    `json:"lease"`
	Hostname  string    `json:"hostname"`
	Address   string    `json:"address"`
	Interface string    `json:"interface,omitempty"`
}

// EventBuffer is a fixed-size ring of recent events with fan-out to
// subscribers. It is safe for concurrent use.
type EventBuffer struct {
	mu    sync.RWMutex
	buf   []EventRecord
	size  int
	head  int // next write position
	count int
	seq   uint64

	subMu sync.RWMutex
	subs  map[*Subscription]struct{}
}

// Subscription receives events added after it was created.
type Subscription struct {
	C  chan EventRecord
	eb *EventBuffer
}

// Close unsubscribes. C is not closed, so a pending receive must be
// abandoned by the caller.
func (s *Subscription) Close() {
	s.eb.subMu.Lock()
	delete(s.eb.subs, s)
	s.eb.subMu.Unlock()
}

// NewEventBuffer creates an event buffer holding up to size records.
func NewEventBuffer(size int) *EventBuffer {
	if size < 1 {
		size = 1
	}
	return &EventBuffer{
		buf:  make([]EventRecord, size),
		size: size,
		subs: make(map[*Subscription]struct{}),
	}
}

// Add stores rec, overwriting the oldest record when full, and returns it
// with its sequence number set. Slow subscribers miss events.
func (eb *EventBuffer) Add(rec EventRecord) EventRecord {
	eb.mu.Lock()
	eb.seq++
	rec.Seq = eb.seq
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	eb.buf[eb.head] = rec
	eb.head = (eb.head + 1) % eb.size
	if eb.count < eb.size {
		eb.count++
	}
	eb.mu.Unlock()

	eb.subMu.RLock()
	for sub := range eb.subs {
		select {
		case sub.C <- rec:
		default:
		}
	}
	eb.subMu.RUnlock()
	return rec
}

// Subscribe returns a Subscription with a channel of bufSize (default 64).
func (eb *EventBuffer) Subscribe(bufSize int) *Subscription {
	if bufSize < 1 {
		bufSize = 64
	}
	sub := &Subscription{
		C:  make(chan EventRecord, bufSize),
		eb: eb,
	}
	eb.subMu.Lock()
	eb.subs[sub] = struct{}{}
	eb.subMu.Unlock()
	return sub
}

// EventFilter selects events. Empty fields match everything.
type EventFilter struct {
	Type     string // case-insensitive substring of Type
	Hostname string // exact, case-insensitive
	Address  string // exact
}

// IsEmpty reports whether no criteria are set.
func (f EventFilter) IsEmpty() bool {
	return f.Type == "" && f.Hostname == "" && f.Address == ""
}

// Match reports whether rec satisfies every set criterion.
func (f EventFilter) Match(rec EventRecord) bool { return f.matches(&rec) }

func (f EventFilter) matches(rec *EventRecord) bool {
	if f.Type != "" && !strings.Contains(strings.ToLower(rec.Type), strings.ToLower(f.Type)) {
		return false
	}
	if f.Hostname != "" && !strings.EqualFold(rec.Hostname, f.Hostname) {
		return false
	}
	if f.Address != "" && rec.Address != f.Address {
		return false
	}
	return true
}

// LatestFiltered returns up to n of the newest events matching f, newest
// first.
func (eb *EventBuffer) LatestFiltered(n int, f EventFilter) []EventRecord {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	var result []EventRecord
	for i := 0; i < eb.count && len(result) < n; i++ {
		idx := (eb.head - 1 - i + eb.size) % eb.size
		if f.matches(&eb.buf[idx]) {
			result = append(result, eb.buf[idx])
		}
	}
	return result
}

// Latest returns up to n of the newest events, newest first.
func (eb *EventBuffer) Latest(n int) []EventRecord {
	return eb.LatestFiltered(n, EventFilter{})
}
