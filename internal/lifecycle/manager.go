package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"responder/internal/store"
	"responder/pkg/models"
)

// ErrInvalidTransition marks a status change that the state machine does not
// allow. The incident is left untouched.
var ErrInvalidTransition = errors.New("invalid status transition")

// transitions is the allowed-next table. Closure is deliberately absent: it
// runs through Close or CloseFalsePositive, which enforce their own
// preconditions.
var transitions = map[models.Status][]models.Status{
	models.StatusNew:           {models.StatusInvestigating},
	models.StatusInvestigating: {models.StatusContained},
	models.StatusContained:     {models.StatusResolved},
	models.StatusResolved:      {},
	models.StatusClosed:        {},
}

// falsePositiveFrom lists the states an incident may leave directly to
// CLOSED when it turns out to be a false positive.
var falsePositiveFrom = map[models.Status]bool{
	models.StatusNew:           true,
	models.StatusInvestigating: true,
}

// Manager owns every sanctioned status mutation. Each successful transition
// appends exactly one timeline entry.
type Manager struct {
	store *store.Memory
	now   func() time.Time
}

// NewManager creates a lifecycle manager bound to a store.
func NewManager(st *store.Memory) *Manager {
	return &Manager{store: st, now: time.Now}
}

// SetClock overrides the clock, for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Transition moves an incident to a non-terminal state.
func (m *Manager) Transition(id string, to models.Status, actor, details string) (*models.Incident, error) {
	if actor == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrInvalidTransition)
	}
	if to == models.StatusClosed {
		return nil, fmt.Errorf("%w: closure requires Close or CloseFalsePositive", ErrInvalidTransition)
	}
	return m.store.Mutate(id, func(inc *models.Incident) error {
		if !allowed(inc.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, inc.Status, to)
		}
		from := inc.Status
		inc.Status = to
		inc.RecordTimeline(m.now(), actor, transitionAction(from, to), details)
		return nil
	})
}

// Close finishes a resolved incident. Lessons learned are mandatory for a
// normal closure.
func (m *Manager) Close(id, analyst string, lessons []string) (*models.Incident, error) {
	if analyst == "" {
		return nil, fmt.Errorf("%w: analyst is required to close", ErrInvalidTransition)
	}
	if len(lessons) == 0 {
		return nil, fmt.Errorf("%w: lessons learned are required to close", ErrInvalidTransition)
	}
	return m.store.Mutate(id, func(inc *models.Incident) error {
		if inc.Status != models.StatusResolved {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, inc.Status, models.StatusClosed)
		}
		from := inc.Status
		ts := m.now()
		inc.Status = models.StatusClosed
		inc.ClosedAt = &ts
		inc.LessonsLearned = append([]string(nil), lessons...)
		inc.RecordTimeline(ts, analyst, transitionAction(from, models.StatusClosed), "incident closed")
		return nil
	})
}

// CloseFalsePositive closes an incident that never warranted containment.
// A reason is required; lessons learned are not.
func (m *Manager) CloseFalsePositive(id, analyst, reason string) (*models.Incident, error) {
	if analyst == "" {
		return nil, fmt.Errorf("%w: analyst is required to close", ErrInvalidTransition)
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: false-positive closure requires a reason", ErrInvalidTransition)
	}
	return m.store.Mutate(id, func(inc *models.Incident) error {
		if !falsePositiveFrom[inc.Status] {
			return fmt.Errorf("%w: %s -> %s (false positive)", ErrInvalidTransition, inc.Status, models.StatusClosed)
		}
		from := inc.Status
		ts := m.now()
		inc.Status = models.StatusClosed
		inc.ClosedAt = &ts
		inc.RecordTimeline(ts, analyst, transitionAction(from, models.StatusClosed), "false positive: "+reason)
		return nil
	})
}

// SetSeverity lets an analyst explicitly change severity, including
// downgrades the correlator is never allowed to make.
func (m *Manager) SetSeverity(id string, severity models.Severity, analyst, reason string) (*models.Incident, error) {
	if analyst == "" {
		return nil, fmt.Errorf("%w: analyst is required", ErrInvalidTransition)
	}
	if severity.Rank() == 0 {
		return nil, fmt.Errorf("unknown severity %q", severity)
	}
	return m.store.Mutate(id, func(inc *models.Incident) error {
		if !inc.Active() {
			return fmt.Errorf("%w: incident is closed", ErrInvalidTransition)
		}
		old := inc.Severity
		inc.Severity = severity
		inc.RecordTimeline(m.now(), analyst, fmt.Sprintf("severity: %s -> %s", old, severity), reason)
		return nil
	})
}

func allowed(from, to models.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func transitionAction(from, to models.Status) string {
	return fmt.Sprintf("status: %s -> %s", from, to)
}
