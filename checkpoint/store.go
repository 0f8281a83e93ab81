// Package checkpoint persists orchestration state at phase boundaries.
// Records are write-once per (thread, checkpoint id, timestamp); large
// payloads are off-loaded to an object store with only a reference kept
// inline. A failed durable write degrades to an in-memory shadow instead of
// aborting the workflow.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/skyops-ai/irops/core"
)

// SaveStatus reports how a save landed.
type SaveStatus string

const (
	// SaveOK means the record reached the durable backend.
	SaveOK SaveStatus = "ok"
	// SaveDegraded means the durable write failed after retries and the
	// record lives only in the in-memory shadow for this process.
	SaveDegraded SaveStatus = "degraded"
)

// Well-known checkpoint ids written by the orchestrator.
const (
	IDStart          = "start"
	IDPhase1Complete = "phase1_complete"
	IDPhase2Complete = "phase2_complete"
	IDPhase3Complete = "phase3_complete"
	IDEnd            = "end"
	IDHalted         = "halted"
)

// Record is one persisted checkpoint. Exactly one of State and StateRef is
// populated: State carries the inline payload, StateRef points into the
// object store for payloads over the inline cap.
type Record struct {
	Thread       string            `json:"thread"`
	CheckpointID string            `json:"checkpoint_id"`
	Timestamp    time.Time         `json:"timestamp"`
	State        json.RawMessage   `json:"state,omitempty"`
	StateRef     string            `json:"state_ref,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	ExpiresAt    time.Time         `json:"expires_at"`
}

// Decode unmarshals the inline state into v. Callers must resolve StateRef
// through the store before decoding off-loaded records; Load does this
// automatically.
func (r *Record) Decode(v interface{}) error {
	if len(r.State) == 0 {
		return fmt.Errorf("checkpoint %s/%s has no inline state: %w",
			r.Thread, r.CheckpointID, core.ErrNotFound)
	}
	if err := json.Unmarshal(r.State, v); err != nil {
		return fmt.Errorf("failed to decode checkpoint %s/%s: %w",
			r.Thread, r.CheckpointID, err)
	}
	return nil
}

// Store is the checkpoint persistence contract. Implementations must keep
// records totally ordered per thread by timestamp.
type Store interface {
	// Save serializes state and persists it under (thread, checkpointID).
	// A durable-backend failure after retries returns SaveDegraded with a
	// nil error; the record is then held in an in-memory shadow.
	Save(ctx context.Context, thread, checkpointID string, state interface{}, metadata map[string]string) (SaveStatus, error)

	// Load returns the checkpoint with the given id, resolving off-loaded
	// payloads. An empty checkpointID returns the most recent checkpoint on
	// the thread. Missing records return core.ErrNotFound.
	Load(ctx context.Context, thread, checkpointID string) (*Record, error)

	// List returns all checkpoints on the thread ascending by timestamp.
	List(ctx context.Context, thread string) ([]Record, error)
}

// ThreadMetadata is the per-thread summary item maintained alongside the
// checkpoints. Concurrent updates are serialized by Version.
type ThreadMetadata struct {
	Thread          string            `json:"thread"`
	Status          string            `json:"status"`
	CheckpointCount int               `json:"checkpoint_count"`
	LastCheckpoint  string            `json:"last_checkpoint"`
	LastError       string            `json:"last_error,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Fields          map[string]string `json:"fields,omitempty"`
	Version         int64             `json:"version"`
}
