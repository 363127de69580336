package apisec

import (
	"container/ring"
	"sync"
	"time"
)

// Correlation dimensions, in rule precedence order.
const (
	dimIP      = "ip"
	dimUser    = "user"
	dimSession = "session"
)

// eventLog holds the monitor's bounded event history: a ring buffer over
// everything observed plus per-dimension indexes sub-keyed by event type.
// Time-window filtering happens at read time; eviction (ring overflow,
// cleanup passes) only bounds memory and never causes false negatives.
type eventLog struct {
	mu      sync.RWMutex
	ring    *ring.Ring
	indexes map[string][]*SecurityEvent
	max     int
}

func newEventLog(max int) *eventLog {
	if max <= 0 {
		max = 10000
	}
	return &eventLog{
		ring:    ring.New(max),
		indexes: make(map[string][]*SecurityEvent),
		max:     max,
	}
}

func indexKey(dim, value string, t EventType) string {
	return dim + "|" + value + "|" + string(t)
}

// add appends the event to the ring (oldest evicted on overflow) and to
// the index of every correlation dimension present on it.
func (l *eventLog) add(ev *SecurityEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ring.Value = ev
	l.ring = l.ring.Next()

	for dim, value := range eventDimensions(ev) {
		key := indexKey(dim, value, ev.Type)
		idx := append(l.indexes[key], ev)
		if len(idx) > l.max {
			idx = idx[len(idx)-l.max:]
		}
		l.indexes[key] = idx
	}
}

func eventDimensions(ev *SecurityEvent) map[string]string {
	dims := make(map[string]string, 3)
	if ev.IP != "" {
		dims[dimIP] = ev.IP
	}
	if ev.UserID != "" {
		dims[dimUser] = ev.UserID
	}
	if ev.SessionID != "" {
		dims[dimSession] = ev.SessionID
	}
	return dims
}

// matching returns, oldest first, the indexed events for (dim, value)
// across the given event types with timestamp >= since that satisfy the
// condition predicate.
func (l *eventLog) matching(dim, value string, types []EventType, since time.Time, conditions map[string]string) []*SecurityEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*SecurityEvent
	for _, t := range types {
		for _, ev := range l.indexes[indexKey(dim, value, t)] {
			if ev.Timestamp.Before(since) {
				continue
			}
			if !matchesConditions(*ev, conditions) {
				continue
			}
			out = append(out, ev)
		}
	}
	// Types are indexed separately; restore global time order.
	sortEventsByTime(out)
	return out
}

// size reports how many events are currently indexed (not deduplicated
// across dimensions; used for statistics only).
func (l *eventLog) size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	l.ring.Do(func(v interface{}) {
		if v != nil {
			n++
		}
	})
	return n
}

// evictOlderThan drops indexed events with timestamps before cutoff.
// Entries are appended in time order, so each index is pruned by prefix.
func (l *eventLog) evictOlderThan(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := 0
	for key, idx := range l.indexes {
		first := 0
		for first < len(idx) && idx[first].Timestamp.Before(cutoff) {
			first++
		}
		if first == 0 {
			continue
		}
		evicted += first
		if first == len(idx) {
			delete(l.indexes, key)
			continue
		}
		l.indexes[key] = append([]*SecurityEvent(nil), idx[first:]...)
	}
	return evicted
}

func sortEventsByTime(events []*SecurityEvent) {
	// Insertion sort: slices are short (window-bounded) and mostly ordered.
	for i := 1; i < len(events); i++ {
		for j := i; j > 0 && events[j].Timestamp.Before(events[j-1].Timestamp); j-- {
			events[j], events[j-1] = events[j-1], events[j]
		}
	}
}
