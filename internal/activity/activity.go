// Package activity records the batch's externally observable history:
// one append-only entry per orchestrator transition, fanned out to live
// subscribers.
package activity

import (
	"sync"
	"time"
)

// Level classifies an entry.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Entry is one logged transition. AssetID is empty for batch-level
// events.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	AssetID   string    `json:"assetId,omitempty"`
}

// Log is an append-only event sequence with channel fan-out. Appends
// never block on subscribers: a subscriber that cannot keep up misses
// entries rather than stalling a transition.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	subs    map[chan Entry]struct{}
}

func NewLog() *Log {
	return &Log{subs: make(map[chan Entry]struct{})}
}

// Append records an entry and publishes it to subscribers.
func (l *Log) Append(level Level, message, assetID string) Entry {
	e := Entry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
		AssetID:   assetID,
	}
	l.mu.Lock()
	l.entries = append(l.entries, e)
	for ch := range l.subs {
		select {
		case ch <- e:
		default:
		}
	}
	l.mu.Unlock()
	return e
}

// Entries returns a snapshot of the full history in append order.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Subscribe registers a buffered channel receiving future entries.
func (l *Log) Subscribe(buffer int) chan Entry {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Entry, buffer)
	l.mu.Lock()
	l.subs[ch] = struct{}{}
	l.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (l *Log) Unsubscribe(ch chan Entry) {
	l.mu.Lock()
	if _, ok := l.subs[ch]; ok {
		delete(l.subs, ch)
		close(ch)
	}
	l.mu.Unlock()
}
