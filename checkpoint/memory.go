package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/skyops-ai/irops/core"
)

// MemoryStore is the development and test backend. It keeps every record in
// process memory with the same ordering guarantees as the durable store.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]Record
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 90 * 24 * time.Hour
	}
	return &MemoryStore{
		threads: make(map[string][]Record),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Save implements Store. Memory saves never degrade.
func (s *MemoryStore) Save(ctx context.Context, thread, checkpointID string, state interface{}, metadata map[string]string) (SaveStatus, error) {
	if thread == "" || checkpointID == "" {
		return "", fmt.Errorf("thread and checkpoint id are required: %w", core.ErrInvalidRequest)
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to serialize checkpoint state: %w", err)
	}

	now := s.now().UTC()
	record := Record{
		Thread:       thread,
		CheckpointID: checkpointID,
		Timestamp:    now,
		State:        payload,
		Metadata:     copyMetadata(metadata),
		ExpiresAt:    now.Add(s.ttl),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[thread] = append(s.threads[thread], record)
	return SaveOK, nil
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context, thread, checkpointID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.threads[thread]
	for i := len(records) - 1; i >= 0; i-- {
		if checkpointID == "" || records[i].CheckpointID == checkpointID {
			r := copyRecord(records[i])
			return &r, nil
		}
	}
	return nil, fmt.Errorf("checkpoint %s/%s: %w", thread, checkpointID, core.ErrNotFound)
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, thread string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.threads[thread]
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = copyRecord(r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// Threads returns the ids of every thread with at least one checkpoint.
func (s *MemoryStore) Threads() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.threads))
	for thread := range s.threads {
		out = append(out, thread)
	}
	sort.Strings(out)
	return out
}

func copyRecord(r Record) Record {
	cp := r
	if r.State != nil {
		cp.State = make(json.RawMessage, len(r.State))
		copy(cp.State, r.State)
	}
	cp.Metadata = copyMetadata(r.Metadata)
	return cp
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

var _ Store = (*MemoryStore)(nil)
