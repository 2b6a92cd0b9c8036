package pipeline

import (
	"crypto/sha256"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dgallion1/pdfdrop/internal/extract"
	"github.com/dgallion1/pdfdrop/internal/publish"
)

// RunStatus represents the state of a pipeline run.
type RunStatus string

const (
	StatusQueued        RunStatus = "queued"
	StatusExtracting    RunStatus = "extracting"
	StatusUnpacking     RunStatus = "unpacking"
	StatusSaving        RunStatus = "saving"
	StatusPublishing    RunStatus = "publishing"
	StatusCompleted     RunStatus = "completed"
	StatusPartial       RunStatus = "partial"
	StatusPublishFailed RunStatus = "publish_failed"
	StatusFailed        RunStatus = "failed"
)

// Terminal reports whether no further transitions follow.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusPublishFailed, StatusFailed:
		return true
	}
	return false
}

// Transition is one entry of a run's status history.
type Transition struct {
	Status RunStatus `json:"status"`
	Phase  string    `json:"phase"`
	At     time.Time `json:"at"`
}

// Counts summarizes what a run extracted.
type Counts struct {
	TextChars int `json:"text_chars"`
	Tables    int `json:"tables"`
	Figures   int `json:"figures"`
}

// Run tracks one pipeline invocation.
type Run struct {
	mu sync.Mutex

	ID           string
	Filename     string
	Capabilities []extract.Capability
	ContentHash  string
	CreatedAt    time.Time

	status    RunStatus
	phase     string
	history   []Transition
	counts    Counts
	publish   *publish.Manifest
	errors    []string
	updatedAt time.Time
}

func NewRun(id, filename string, caps []extract.Capability, pdf []byte) *Run {
	now := time.Now()
	return &Run{
		ID:           id,
		Filename:     filename,
		Capabilities: slices.Clone(caps),
		ContentHash:  ContentHashHex(pdf),
		CreatedAt:    now,
		status:       StatusQueued,
		phase:        "queued",
		history:      []Transition{{Status: StatusQueued, Phase: "queued", At: now}},
		updatedAt:    now,
	}
}

// SetStatus updates run status atomically and records the transition.
func (r *Run) SetStatus(status RunStatus, phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	r.phase = phase
	r.updatedAt = time.Now()
	r.history = append(r.history, Transition{Status: status, Phase: phase, At: r.updatedAt})
}

func (r *Run) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// AddError records an error.
func (r *Run) AddError(err string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
	r.updatedAt = time.Now()
}

func (r *Run) SetCounts(c Counts) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts = c
	r.updatedAt = time.Now()
}

func (r *Run) SetPublish(m *publish.Manifest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publish = m
	r.updatedAt = time.Now()
}

func (r *Run) lastUpdate() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updatedAt
}

// RunSnapshot is a read-only, JSON-safe copy of run state.
type RunSnapshot struct {
	ID           string               `json:"run_id"`
	Filename     string               `json:"filename"`
	Capabilities []extract.Capability `json:"capabilities"`
	ContentHash  string               `json:"content_hash"`
	Status       RunStatus            `json:"status"`
	Phase        string               `json:"phase"`
	History      []Transition         `json:"history"`
	Counts       Counts               `json:"counts"`
	Publish      *publish.Manifest    `json:"publish,omitempty"`
	Errors       []string             `json:"errors"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the run state.
func (r *Run) Snapshot() RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	errs := slices.Clone(r.errors)
	if errs == nil {
		errs = []string{}
	}
	return RunSnapshot{
		ID:           r.ID,
		Filename:     r.Filename,
		Capabilities: slices.Clone(r.Capabilities),
		ContentHash:  r.ContentHash,
		Status:       r.status,
		Phase:        r.phase,
		History:      slices.Clone(r.history),
		Counts:       r.counts,
		Publish:      r.publish,
		Errors:       errs,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.updatedAt,
	}
}

// RunStore is a thread-safe in-memory run registry with TTL eviction.
type RunStore struct {
	mu   sync.Mutex
	runs map[string]*Run
	ttl  time.Duration
}

func NewRunStore(ttl time.Duration) *RunStore {
	return &RunStore{
		runs: make(map[string]*Run),
		ttl:  ttl,
	}
}

func (s *RunStore) Put(run *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
}

func (s *RunStore) Get(id string) *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[id]
}

func (s *RunStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

// Cleanup removes runs that finished more than ttl ago. Runs still in
// progress are kept.
func (s *RunStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	removed := 0
	for id, run := range s.runs {
		if run.Status().Terminal() && now.Sub(run.lastUpdate()) > s.ttl {
			delete(s.runs, id)
			removed++
		}
	}
	return removed
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
