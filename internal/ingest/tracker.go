// Package ingest tracks the progress of background file ingestion per tenant.
package ingest

import (
	"sync"
	"time"

	"moneyrag.io/backend/internal/metrics"
)

type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
	StateDone       State = "done"
	StateError      State = "error"
)

// Status is the latest ingestion outcome for a tenant
type Status struct {
	State     State     `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// Run identifies one ingestion started with Start
type Run uint64

// Tracker holds one Status per tenant. A new ingestion overwrites the previous status, and the
// outcome of an older run that finishes later is dropped.
type Tracker struct {
	mu       sync.RWMutex
	statuses map[string]Status
	runs     map[string]Run
	now      func() time.Time
	metrics  *metrics.Metrics
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		statuses: make(map[string]Status),
		runs:     make(map[string]Run),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start marks an ingestion as running, replacing any earlier outcome. The returned Run must be
// passed to Finish or Fail.
func (t *Tracker) Start(tenantID, detail string) Run {
	t.mu.Lock()
	run := t.runs[tenantID] + 1
	t.runs[tenantID] = run
	t.statuses[tenantID] = Status{State: StateProcessing, Detail: detail, UpdatedAt: t.now().UTC()}
	t.mu.Unlock()
	t.metrics.RecordIngestion(string(StateProcessing))
	return run
}

func (t *Tracker) Finish(tenantID string, run Run, detail string) {
	t.complete(tenantID, run, StateDone, detail)
}

func (t *Tracker) Fail(tenantID string, run Run, err error) {
	detail := "ingestion failed"
	if err != nil {
		detail = err.Error()
	}
	t.complete(tenantID, run, StateError, detail)
}

// complete records the outcome of run unless a newer run has started since
func (t *Tracker) complete(tenantID string, run Run, state State, detail string) {
	t.mu.Lock()
	if t.runs[tenantID] != run {
		t.mu.Unlock()
		return
	}
	t.statuses[tenantID] = Status{State: state, Detail: detail, UpdatedAt: t.now().UTC()}
	t.mu.Unlock()
	t.metrics.RecordIngestion(string(state))
}

// Status returns the tenant's latest status, or idle when it has never ingested
func (t *Tracker) Status(tenantID string) Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.statuses[tenantID]; ok {
		return s
	}
	return Status{State: StateIdle}
}
