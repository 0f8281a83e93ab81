package orchestrator

import (
	"sync"
	"time"
)

// ExecutionRecord is one completed or failed run in the engine's in-memory
// history ring.
type ExecutionRecord struct {
	Thread        string    `json:"thread"`
	StartedAt     time.Time `json:"started_at"`
	DurationMS    int64     `json:"duration_ms"`
	Status        string    `json:"status"`
	SolutionCount int       `json:"solution_count"`
}

// history is a bounded ring of recent runs, newest last.
type history struct {
	mu      sync.Mutex
	size    int
	records []ExecutionRecord
}

func newHistory(size int) *history {
	if size <= 0 {
		size = 100
	}
	return &history{size: size}
}

func (h *history) record(thread string, start, end time.Time, status string, solutions int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, ExecutionRecord{
		Thread:        thread,
		StartedAt:     start.UTC(),
		DurationMS:    end.Sub(start).Milliseconds(),
		Status:        status,
		SolutionCount: solutions,
	})
	if len(h.records) > h.size {
		h.records = h.records[len(h.records)-h.size:]
	}
}

func (h *history) snapshot() []ExecutionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ExecutionRecord, len(h.records))
	copy(out, h.records)
	return out
}

// History returns the recent run records, oldest first.
func (e *Engine) History() []ExecutionRecord {
	return e.history.snapshot()
}
