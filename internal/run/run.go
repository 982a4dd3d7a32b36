// Package run tracks an in-flight or completed workflow run: current
// stage index, per-step outcomes, and start/end times, the same
// mutex-protected-map shape as the teacher's store.MemoryStore, scoped
// down from a multi-entity error/remediation log to the single Run
// entity the executor needs.
package run

import (
	"sort"
	"sync"
	"time"

	"github.com/openflowctl/workflow-engine/internal/workflow"
)

// Status is the overall state of a Run, derived from its StepResults.
type Status string

const (
	StatusRunning   Status = "Running"
	StatusSucceeded Status = "Succeeded"
	StatusFailed    Status = "Failed"
)

// Run is one execution of a Workflow.
type Run struct {
	ID           string
	WorkflowName string
	Namespace    string
	StartedAt    time.Time
	EndedAt      time.Time
	Status       Status

	// CurrentStage is the index into the workflow's Stages of the stage
	// after the last one RecordStage recorded; `get workflow` does not
	// read it.
	CurrentStage int

	Results []workflow.StepResult
}

// Store tracks Runs in memory, keyed by ID, the way MemoryStore keyed
// Errors by ID and fingerprint.
type Store struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{runs: make(map[string]*Run)}
}

// Start registers a new Run and returns it for the executor to mutate
// as stages progress.
func (s *Store) Start(id, workflowName, namespace string) *Run {
	r := &Run{
		ID:           id,
		WorkflowName: workflowName,
		Namespace:    namespace,
		StartedAt:    time.Now(),
		Status:       StatusRunning,
	}
	s.mu.Lock()
	s.runs[id] = r
	s.mu.Unlock()
	return r
}

// RecordStage appends results for a completed stage and advances
// CurrentStage.
func (s *Store) RecordStage(id string, stageIndex int, results []workflow.StepResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return
	}
	r.Results = append(r.Results, results...)
	r.CurrentStage = stageIndex + 1
}

// Finish marks a Run terminal.
func (s *Store) Finish(id string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return
	}
	r.Status = status
	r.EndedAt = time.Now()
}

// Get retrieves a Run by ID.
func (s *Store) Get(id string) (*Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	return r, ok
}

// List returns every tracked Run, newest first.
func (s *Store) List() []*Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}
