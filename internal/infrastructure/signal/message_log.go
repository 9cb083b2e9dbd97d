package signal

import (
	"sync"

	"coordinator/internal/core/domain"
)

// MessageLog is a fixed-capacity ring of recent messages. Appending to a
// full log overwrites the oldest entry.
type MessageLog struct {
	mu       sync.RWMutex
	entries  []domain.MessageLogEntry
	head     int
	count    int
	capacity int
}

func NewMessageLog(capacity int) *MessageLog {
	if capacity <= 0 {
		capacity = 100
	}
	return &MessageLog{
		entries:  make([]domain.MessageLogEntry, capacity),
		capacity: capacity,
	}
}

func (l *MessageLog) Append(entry domain.MessageLogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[l.head] = entry
	l.head = (l.head + 1) % l.capacity
	if l.count < l.capacity {
		l.count++
	}
}

// Entries returns a copy of the log, oldest first.
func (l *MessageLog) Entries() []domain.MessageLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.MessageLogEntry, l.count)
	start := (l.head - l.count + l.capacity) % l.capacity
	for i := 0; i < l.count; i++ {
		out[i] = l.entries[(start+i)%l.capacity]
	}
	return out
}

func (l *MessageLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

func (l *MessageLog) Cap() int {
	return l.capacity
}
