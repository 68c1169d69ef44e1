package emotion

import (
	"sync"
	"time"
)

// MaxHistory is the default number of entries a History retains.
const MaxHistory = 100

// Entry records one observed primary emotion.
type Entry struct {
	Tag       Tag       `json:"emotion"`
	Timestamp time.Time `json:"timestamp"`
}

// History is a bounded, drop-oldest record of primary emotions. It is kept
// separate from Derive so derivation stays pure.
type History struct {
	mu      sync.Mutex
	max     int
	entries []Entry
}

// NewHistory creates a history holding at most max entries.
func NewHistory(max int) *History {
	if max <= 0 {
		max = MaxHistory
	}
	return &History{max: max}
}

// Record appends tag, evicting the oldest entry when full.
func (h *History) Record(tag Tag, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, Entry{Tag: tag, Timestamp: at})
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
}

// Len returns the number of stored entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Recent returns up to n entries, oldest first.
func (h *History) Recent(n int) []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.recent(n)
}

func (h *History) recent(n int) []Entry {
	if n > len(h.entries) || n <= 0 {
		n = len(h.entries)
	}
	out := make([]Entry, n)
	copy(out, h.entries[len(h.entries)-n:])
	return out
}

// Stability is 1 minus the spread of distinct emotions over the last ten
// entries, in [0, 1]. Fewer than five entries count as fully stable.
func (h *History) Stability() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.entries) < 5 {
		return 1
	}
	seen := make(map[Tag]bool)
	for _, e := range h.recent(10) {
		seen[e.Tag] = true
	}
	return 1 - float64(len(seen)-1)/float64(len(Tags)-1)
}

// Dominant returns the most frequent emotion in the last window entries,
// or Neutral when empty. Ties go to the earlier tag in Tags.
func (h *History) Dominant(window int) Tag {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make(map[Tag]int)
	for _, e := range h.recent(window) {
		counts[e.Tag]++
	}
	dominant, best := Neutral, 0
	for _, tag := range Tags {
		if counts[tag] > best {
			dominant, best = tag, counts[tag]
		}
	}
	return dominant
}

// Reset clears the history.
func (h *History) Reset() {
	h.mu.Lock()
	h.entries = nil
	h.mu.Unlock()
}
