package internal

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Checkpoint is a paused cook session that can be resumed.
type Checkpoint struct {
	WorkflowID     string `json:"recipeId"`
	CurrentStep    int    `json:"currentStep"`
	ElapsedSeconds int    `json:"elapsedSeconds"`
	PausedAt       int64  `json:"pausedAt"` // epoch millis
}

// PausedTime returns PausedAt as a time.Time.
func (c Checkpoint) PausedTime() time.Time {
	return time.UnixMilli(c.PausedAt)
}

// Age returns how long ago the checkpoint was taken.
func (c Checkpoint) Age(now time.Time) time.Duration {
	return now.Sub(c.PausedTime())
}

// ResumeStep is the 1-based step number the assistant resumes at.
func (c Checkpoint) ResumeStep() int {
	return c.CurrentStep + 1
}

func (c Checkpoint) valid() error {
	if c.WorkflowID == "" {
		return fmt.Errorf("missing recipeId")
	}
	if c.CurrentStep < 0 {
		return fmt.Errorf("negative currentStep %d", c.CurrentStep)
	}
	if c.ElapsedSeconds < 0 {
		return fmt.Errorf("negative elapsedSeconds %d", c.ElapsedSeconds)
	}
	return nil
}

// KVStore is the raw key/value storage behind checkpoints.
type KVStore interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
	List(prefix string) ([]KeyValuePair, error)
	Close() error
}

// CheckpointStore persists pause points. Save and Clear never fail from the
// caller's point of view: losing resumability is acceptable, crashing is not.
type CheckpointStore interface {
	Save(cp Checkpoint)
	Load(workflowID string) (*Checkpoint, bool)
	Clear(workflowID string)
}

// Checkpoints is a CheckpointStore with a fixed time-to-live.
type Checkpoints struct {
	kv     KVStore
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewCheckpoints creates a store over kv. Empty prefix or non-positive ttl
// fall back to the defaults.
func NewCheckpoints(kv KVStore, prefix string, ttl time.Duration) *Checkpoints {
	if prefix == "" {
		prefix = DefaultCheckpointPrefix
	}
	if ttl <= 0 {
		ttl = DefaultCheckpointTTL
	}
	return &Checkpoints{
		kv:     kv,
		prefix: prefix,
		ttl:    ttl,
		now:    time.Now,
	}
}

// SetClock replaces the time source.
func (s *Checkpoints) SetClock(now func() time.Time) {
	s.now = now
}

// TTL returns the expiry window.
func (s *Checkpoints) TTL() time.Duration {
	return s.ttl
}

// Key returns the storage key for workflowID.
func (s *Checkpoints) Key(workflowID string) string {
	return s.prefix + "-" + workflowID
}

// Save writes cp, overwriting any previous record for the same workflow.
func (s *Checkpoints) Save(cp Checkpoint) {
	if err := cp.valid(); err != nil {
		LogWarn("Refusing to save invalid checkpoint for %s: %v", cp.WorkflowID, err)
		return
	}
	data, err := json.Marshal(cp)
	if err != nil {
		LogWarn("Failed to encode checkpoint for %s: %v", cp.WorkflowID, err)
		return
	}
	if err := s.kv.Set(s.Key(cp.WorkflowID), string(data)); err != nil {
		LogWarn("Failed to save checkpoint for %s: %v", cp.WorkflowID, err)
		return
	}
	LogDebug("Saved checkpoint for %s at step %d (%ds)", cp.WorkflowID, cp.CurrentStep, cp.ElapsedSeconds)
}

// Load returns the checkpoint for workflowID. Expired or unreadable records
// are deleted and reported as absent.
func (s *Checkpoints) Load(workflowID string) (*Checkpoint, bool) {
	key := s.Key(workflowID)
	raw, ok, err := s.kv.Get(key)
	if err != nil {
		LogWarn("Failed to read checkpoint for %s: %v", workflowID, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	cp, err := s.decode(raw)
	if err != nil {
		LogWarn("Discarding unreadable checkpoint for %s: %v", workflowID, err)
		s.delete(key)
		return nil, false
	}
	if s.expired(cp) {
		LogDebug("Checkpoint for %s expired %s ago", workflowID, cp.Age(s.now())-s.ttl)
		s.delete(key)
		return nil, false
	}
	return cp, true
}

// Clear removes any checkpoint for workflowID.
func (s *Checkpoints) Clear(workflowID string) {
	s.delete(s.Key(workflowID))
}

// List returns live checkpoints, newest first, purging expired ones.
func (s *Checkpoints) List() []Checkpoint {
	pairs, err := s.kv.List(s.prefix + "-")
	if err != nil {
		LogWarn("Failed to list checkpoints: %v", err)
		return nil
	}

	var out []Checkpoint
	for _, pair := range pairs {
		cp, err := s.decode(pair.Value)
		if err != nil {
			LogWarn("Discarding unreadable checkpoint %s: %v", pair.Key, err)
			s.delete(pair.Key)
			continue
		}
		if s.expired(cp) {
			s.delete(pair.Key)
			continue
		}
		// Records written by hand may disagree with their key.
		if id := strings.TrimPrefix(pair.Key, s.prefix+"-"); cp.WorkflowID != id {
			cp.WorkflowID = id
		}
		out = append(out, *cp)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].PausedAt > out[j].PausedAt })
	return out
}

// Close releases the underlying store.
func (s *Checkpoints) Close() error {
	return s.kv.Close()
}

func (s *Checkpoints) decode(raw string) (*Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal([]byte(raw), &cp); err != nil {
		return nil, err
	}
	if err := cp.valid(); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *Checkpoints) expired(cp *Checkpoint) bool {
	return cp.Age(s.now()) > s.ttl
}

func (s *Checkpoints) delete(key string) {
	if err := s.kv.Delete(key); err != nil {
		LogWarn("Failed to delete checkpoint %s: %v", key, err)
	}
}
