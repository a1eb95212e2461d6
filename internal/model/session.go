package model

import "time"

// PhaseStatus represents the state of one (property, phase) unit of work.
type PhaseStatus string

const (
	PhasePending    PhaseStatus = "pending"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseFailed     PhaseStatus = "failed"
	PhaseSkipped    PhaseStatus = "skipped"
)

// Pipeline phase names, in execution order. County and listing acquisition
// are independent and may run in parallel for one property.
const (
	PhaseCounty      = "county"
	PhaseListing     = "listing"
	PhaseMerge       = "merge"
	PhaseEligibility = "eligibility"
	PhaseScoring     = "scoring"
)

// PhaseNames lists all phases in canonical order.
var PhaseNames = []string{PhaseCounty, PhaseListing, PhaseMerge, PhaseEligibility, PhaseScoring}

// PhasePrereqs maps each phase to the phases that must be completed first.
var PhasePrereqs = map[string][]string{
	PhaseCounty:      {},
	PhaseListing:     {},
	PhaseMerge:       {PhaseCounty, PhaseListing},
	PhaseEligibility: {PhaseMerge},
	PhaseScoring:     {PhaseEligibility},
}

// PhaseState tracks the status and timing of one phase for one property.
type PhaseState struct {
	Status      PhaseStatus `json:"status"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Error       string      `json:"error,omitempty"`
	Partial     bool        `json:"partial,omitempty"` // completed with incomplete data
}

// WorkItem is the per-property unit of pipeline bookkeeping.
type WorkItem struct {
	Address     string                 `json:"address"`
	Normalized  string                 `json:"normalized"`
	Phases      map[string]*PhaseState `json:"phases"`
	LastUpdated time.Time              `json:"last_updated"`
}

// NewWorkItem creates a work item with every phase pending.
func NewWorkItem(address string) *WorkItem {
	phases := make(map[string]*PhaseState, len(PhaseNames))
	for _, name := range PhaseNames {
		phases[name] = &PhaseState{Status: PhasePending}
	}
	return &WorkItem{
		Address:    address,
		Normalized: NormalizeAddress(address),
		Phases:     phases,
	}
}

// Phase returns the state for the named phase, creating a pending entry for
// phases added after the item was persisted.
func (w *WorkItem) Phase(name string) *PhaseState {
	if w.Phases == nil {
		w.Phases = make(map[string]*PhaseState)
	}
	ps, ok := w.Phases[name]
	if !ok {
		ps = &PhaseState{Status: PhasePending}
		w.Phases[name] = ps
	}
	return ps
}

// Done reports whether every phase has reached a terminal status.
func (w *WorkItem) Done() bool {
	for _, name := range PhaseNames {
		switch w.Phase(name).Status {
		case PhaseCompleted, PhaseFailed, PhaseSkipped:
		default:
			return false
		}
	}
	return true
}

// SessionMode distinguishes a fresh batch from a resumed one.
type SessionMode string

const (
	ModeFresh  SessionMode = "fresh"
	ModeResume SessionMode = "resume"
)

// SummaryCounts aggregates terminal phase outcomes for the whole session.
type SummaryCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Pending   int `json:"pending"`
}

// PipelineSession is the persisted state of one batch run. It is mutated
// after every property-phase transition and written atomically in full.
type PipelineSession struct {
	SessionID      string        `json:"session_id"`
	StartedAt      time.Time     `json:"started_at"`
	Mode           SessionMode   `json:"mode"`
	WorkItems      []*WorkItem   `json:"work_items"`
	Summary        SummaryCounts `json:"summary"`
	LastCheckpoint time.Time     `json:"last_checkpoint"`
}

// Item returns the work item for the given address (by normalized key), or nil.
func (s *PipelineSession) Item(address string) *WorkItem {
	key := NormalizeAddress(address)
	for _, w := range s.WorkItems {
		if w.Normalized == key {
			return w
		}
	}
	return nil
}

// Recount recomputes the summary from work-item state. A property counts as
// completed only when all of its phases are terminal and none failed.
func (s *PipelineSession) Recount() {
	var c SummaryCounts
	c.Total = len(s.WorkItems)
	for _, w := range s.WorkItems {
		switch {
		case !w.Done():
			c.Pending++
		case hasStatus(w, PhaseFailed):
			c.Failed++
		case allSkipped(w):
			c.Skipped++
		default:
			c.Completed++
		}
	}
	s.Summary = c
}

func hasStatus(w *WorkItem, status PhaseStatus) bool {
	for _, name := range PhaseNames {
		if w.Phase(name).Status == status {
			return true
		}
	}
	return false
}

func allSkipped(w *WorkItem) bool {
	for _, name := range PhaseNames {
		if w.Phase(name).Status != PhaseSkipped {
			return false
		}
	}
	return true
}
