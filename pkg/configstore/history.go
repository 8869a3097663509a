package configstore

import (
	"fmt"
	"time"

	"github.com/psaab/slaacd/pkg/config"
)

// HistoryEntry is a configuration that was active until a reload.
type HistoryEntry struct {
	Config    *config.ConfigTree
	Timestamp time.Time // when it was loaded
}

// History is a bounded list of replaced configurations.
type History struct {
	entries []*HistoryEntry
	maxSize int
}

// NewHistory creates a new History with the given maximum size.
func NewHistory(maxSize int) *History {
	return &History{maxSize: maxSize}
}

// Push adds an entry, dropping the oldest when full.
func (h *History) Push(entry *HistoryEntry) {
	h.entries = append(h.entries, entry)
	if len(h.entries) > h.maxSize {
		h.entries = h.entries[1:]
	}
}

// Get returns the nth most recent entry (0 = most recent).
func (h *History) Get(n int) (*HistoryEntry, error) {
	if n < 0 || n >= len(h.entries) {
		return nil, fmt.Errorf("configuration %d: no such configuration (have %d entries)",
			n+1, len(h.entries))
	}
	return h.entries[len(h.entries)-1-n], nil
}

// Len returns the number of history entries.
func (h *History) Len() int {
	return len(h.entries)
}

// List returns all history entries, most recent first.
func (h *History) List() []*HistoryEntry {
	result := make([]*HistoryEntry, len(h.entries))
	for i, entry := range h.entries {
		result[len(h.entries)-1-i] = entry
	}
	return result
}
