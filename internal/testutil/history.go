package testutil

import (
	"strings"
	"sync"

	"clipsave/internal/autosave"
)

// HistoryEntry is one recorded LogAction call.
type HistoryEntry struct {
	Message  string
	Category autosave.Category
	Level    autosave.Level
}

// RecordingHistory keeps every LogAction call in memory.
type RecordingHistory struct {
	mu      sync.Mutex
	entries []HistoryEntry
}

func NewRecordingHistory() *RecordingHistory {
	return &RecordingHistory{}
}

func (h *RecordingHistory) LogAction(message string, category autosave.Category, level autosave.Level) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, HistoryEntry{Message: message, Category: category, Level: level})
}

// Entries returns a copy of everything recorded so far.
func (h *RecordingHistory) Entries() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]HistoryEntry(nil), h.entries...)
}

// ByCategory returns the entries recorded under c.
func (h *RecordingHistory) ByCategory(c autosave.Category) []HistoryEntry {
	var out []HistoryEntry
	for _, e := range h.Entries() {
		if e.Category == c {
			out = append(out, e)
		}
	}
	return out
}

// Find returns the first entry whose message contains substr.
func (h *RecordingHistory) Find(substr string) (HistoryEntry, bool) {
	for _, e := range h.Entries() {
		if strings.Contains(e.Message, substr) {
			return e, true
		}
	}
	return HistoryEntry{}, false
}
