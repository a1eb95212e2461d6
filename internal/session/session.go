// Package session implements the pipeline state machine: per-property,
// per-phase status tracking, checkpointing after every transition, stale-work
// detection, and resume/fresh-start entry points.
package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/model"
	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/store"
)

// DefaultStaleTimeout is how old an in_progress phase must be before load
// resets it to pending.
const DefaultStaleTimeout = 30 * time.Minute

// ErrUnknownProperty is returned for transitions on addresses outside the session.
var ErrUnknownProperty = eris.New("session: address not in session")

// ErrPrereqNotMet is a contract violation: a phase was entered before its
// prerequisite phases completed.
var ErrPrereqNotMet = eris.New("session: prerequisite phase not completed")

// Manager owns the live PipelineSession and is its single writer. Every
// phase transition checkpoints the full session through the store.
type Manager struct {
	sessions     *store.SessionStore
	session      *model.PipelineSession
	staleTimeout time.Duration
	now          func() time.Time
}

// NewManager creates a manager over the given session store.
func NewManager(sessions *store.SessionStore, staleTimeout time.Duration) *Manager {
	if staleTimeout <= 0 {
		staleTimeout = DefaultStaleTimeout
	}
	return &Manager{
		sessions:     sessions,
		staleTimeout: staleTimeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithNow fixes the clock for tests.
func (m *Manager) WithNow(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Session returns the live session. Callers must not retain the pointer
// across transitions; it is owned by the manager.
func (m *Manager) Session() *model.PipelineSession {
	return m.session
}

// Start creates a fresh session for the given addresses and checkpoints it.
func (m *Manager) Start(addresses []string) (*model.PipelineSession, error) {
	s := &model.PipelineSession{
		SessionID: uuid.New().String(),
		StartedAt: m.now(),
		Mode:      model.ModeFresh,
	}
	for _, addr := range addresses {
		if s.Item(addr) != nil {
			continue // one work item per property
		}
		s.WorkItems = append(s.WorkItems, model.NewWorkItem(addr))
	}
	m.session = s

	if err := m.checkpoint(); err != nil {
		return nil, err
	}
	zap.L().Info("session: started",
		zap.String("session_id", s.SessionID),
		zap.Int("properties", len(s.WorkItems)),
	)
	return s, nil
}

// Resume loads the last persisted session, applies stale-work detection, and
// checkpoints the corrected state. Completed work is never re-executed; the
// pending set is what remains.
func (m *Manager) Resume() (*model.PipelineSession, error) {
	s, err := m.sessions.Load()
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, eris.New("session: no persisted session to resume")
	}

	reset := ResetStale(s, m.staleTimeout, m.now())
	s.Mode = model.ModeResume
	m.session = s

	if err := m.checkpoint(); err != nil {
		return nil, err
	}
	zap.L().Info("session: resumed",
		zap.String("session_id", s.SessionID),
		zap.Int("stale_reset", reset),
		zap.Int("pending", len(m.Pending())),
	)
	return s, nil
}

// Peek loads the persisted session without stale correction or a checkpoint
// write. Read-only surfaces (status, serve) use this.
func (m *Manager) Peek() (*model.PipelineSession, error) {
	return m.sessions.Load()
}

// DiscardEstimate reports how many completed properties a fresh start would
// throw away. Zero when no session exists.
func (m *Manager) DiscardEstimate() (int, error) {
	s, err := m.sessions.Load()
	if err != nil {
		return 0, err
	}
	if s == nil {
		return 0, nil
	}
	s.Recount()
	return s.Summary.Completed, nil
}

// Discard removes persisted session state. The caller reports the discard
// estimate to the operator before calling this.
func (m *Manager) Discard() error {
	return m.sessions.Discard()
}

// ResetStale resets any in_progress phase older than timeout back to
// pending. This is the only automatic state correction the system performs.
// Returns the number of phases reset.
func ResetStale(s *model.PipelineSession, timeout time.Duration, now time.Time) int {
	reset := 0
	for _, w := range s.WorkItems {
		for _, name := range model.PhaseNames {
			ps := w.Phase(name)
			if ps.Status != model.PhaseInProgress {
				continue
			}
			if ps.StartedAt == nil || now.Sub(*ps.StartedAt) > timeout {
				ps.Status = model.PhasePending
				ps.StartedAt = nil
				reset++
				zap.L().Warn("session: stale work reset",
					zap.String("address", w.Normalized),
					zap.String("phase", name),
				)
			}
		}
	}
	return reset
}

// Pair identifies one pending (address, phase) unit of work.
type Pair struct {
	Address string
	Phase   string
}

// Pending returns every (address, phase) pair still pending, in work-item
// order then canonical phase order.
func (m *Manager) Pending() []Pair {
	var out []Pair
	for _, w := range m.session.WorkItems {
		for _, name := range model.PhaseNames {
			if w.Phase(name).Status == model.PhasePending {
				out = append(out, Pair{Address: w.Address, Phase: name})
			}
		}
	}
	return out
}

// Begin transitions a phase to in_progress. Prerequisite validation is
// mandatory and blocking: entering a phase whose prerequisites have not
// completed is a contract violation, not a warning.
func (m *Manager) Begin(address, phase string) error {
	w := m.session.Item(address)
	if w == nil {
		return eris.Wrapf(ErrUnknownProperty, "%s", address)
	}
	for _, prereq := range model.PhasePrereqs[phase] {
		if w.Phase(prereq).Status != model.PhaseCompleted {
			return eris.Wrapf(ErrPrereqNotMet, "phase %s requires %s for %s", phase, prereq, address)
		}
	}

	now := m.now()
	ps := w.Phase(phase)
	ps.Status = model.PhaseInProgress
	ps.StartedAt = &now
	ps.CompletedAt = nil
	ps.Error = ""
	w.LastUpdated = now
	return m.checkpoint()
}

// Complete marks a phase completed. partial flags a phase that finished with
// incomplete data after the bounded acquisition wait.
func (m *Manager) Complete(address, phase string, partial bool) error {
	return m.finish(address, phase, model.PhaseCompleted, "", partial)
}

// CompletePartial marks a phase completed with incomplete data, recording
// why. Used when the bounded acquisition wait expires or one source of a
// pair fails while usable data exists: the property proceeds, flagged.
func (m *Manager) CompletePartial(address, phase, cause string) error {
	return m.finish(address, phase, model.PhaseCompleted, cause, true)
}

// Fail marks a phase failed with a cause message.
func (m *Manager) Fail(address, phase, cause string) error {
	return m.finish(address, phase, model.PhaseFailed, cause, false)
}

// Skip marks a phase skipped (e.g. scoring after an eligibility FAIL).
func (m *Manager) Skip(address, phase, reason string) error {
	return m.finish(address, phase, model.PhaseSkipped, reason, false)
}

func (m *Manager) finish(address, phase string, status model.PhaseStatus, msg string, partial bool) error {
	w := m.session.Item(address)
	if w == nil {
		return eris.Wrapf(ErrUnknownProperty, "%s", address)
	}
	now := m.now()
	ps := w.Phase(phase)
	ps.Status = status
	ps.CompletedAt = &now
	ps.Error = msg
	ps.Partial = partial
	w.LastUpdated = now
	return m.checkpoint()
}

// Checkpoint persists the full session. Exposed for the final write on
// shutdown; every transition already checkpoints internally.
func (m *Manager) Checkpoint() error {
	return m.checkpoint()
}

func (m *Manager) checkpoint() error {
	if err := m.sessions.Save(m.session); err != nil {
		return eris.Wrap(err, "session: checkpoint")
	}
	return nil
}
