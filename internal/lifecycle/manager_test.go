package lifecycle

import (
	"errors"
	"testing"
	"time"

	"responder/internal/store"
	"responder/pkg/models"
)

func newTestManager(t *testing.T, status models.Status) (*Manager, *store.Memory, string) {
	t.Helper()
	st := store.NewMemory()
	now := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	inc := &models.Incident{
		ID:            "inc-1",
		Type:          models.TypeMalware,
		Severity:      models.SeverityHigh,
		Status:        status,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
	if err := st.Create(inc); err != nil {
		t.Fatalf("seed incident: %v", err)
	}
	m := NewManager(st)
	m.SetClock(func() time.Time { return now.Add(time.Minute) })
	return m, st, inc.ID
}

func TestTransitionHappyPath(t *testing.T) {
	m, st, id := newTestManager(t, models.StatusNew)

	steps := []models.Status{
		models.StatusInvestigating,
		models.StatusContained,
		models.StatusResolved,
	}
	for _, next := range steps {
		if _, err := m.Transition(id, next, "alice", ""); err != nil {
			t.Fatalf("transition to %s failed: %v", next, err)
		}
	}

	snap, err := st.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap.Status != models.StatusResolved {
		t.Fatalf("expected resolved, got %s", snap.Status)
	}
	// One seed state plus one timeline entry per transition.
	if len(snap.Timeline) != len(steps) {
		t.Fatalf("expected %d timeline entries, got %d", len(steps), len(snap.Timeline))
	}
}

func TestTransitionSkippingStatesFails(t *testing.T) {
	m, st, id := newTestManager(t, models.StatusNew)
	_, err := m.Transition(id, models.StatusResolved, "alice", "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	snap, _ := st.Get(id)
	if snap.Status != models.StatusNew {
		t.Fatalf("failed transition must not mutate state, got %s", snap.Status)
	}
}

func TestClosedIsTerminal(t *testing.T) {
	m, st, id := newTestManager(t, models.StatusResolved)
	if _, err := m.Close(id, "alice", []string{"patch faster"}); err != nil {
		t.Fatalf("close: %v", err)
	}

	for _, next := range []models.Status{models.StatusNew, models.StatusInvestigating, models.StatusContained, models.StatusResolved} {
		_, err := m.Transition(id, next, "alice", "")
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("closed -> %s must fail with ErrInvalidTransition, got %v", next, err)
		}
	}
	if _, err := m.Close(id, "alice", []string{"again"}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("double close must fail, got %v", err)
	}
	snap, _ := st.Get(id)
	if snap.Status != models.StatusClosed {
		t.Fatalf("expected closed, got %s", snap.Status)
	}
}

func TestCloseRequiresLessonsLearned(t *testing.T) {
	m, st, id := newTestManager(t, models.StatusResolved)
	if _, err := m.Close(id, "alice", nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("close without lessons must fail, got %v", err)
	}
	snap, _ := st.Get(id)
	if snap.Status != models.StatusResolved {
		t.Fatalf("state must be unchanged, got %s", snap.Status)
	}
}

func TestCloseRequiresResolvedUnlessFalsePositive(t *testing.T) {
	m, _, id := newTestManager(t, models.StatusNew)
	if _, err := m.Close(id, "alice", []string{"n/a"}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("normal close from new must fail, got %v", err)
	}
}

func TestFalsePositiveClosureFromNewAndInvestigating(t *testing.T) {
	for _, from := range []models.Status{models.StatusNew, models.StatusInvestigating} {
		m, st, id := newTestManager(t, from)
		snap, err := m.CloseFalsePositive(id, "bob", "scanner noise")
		if err != nil {
			t.Fatalf("false-positive close from %s: %v", from, err)
		}
		if snap.Status != models.StatusClosed {
			t.Fatalf("expected closed, got %s", snap.Status)
		}
		if snap.ClosedAt == nil {
			t.Fatalf("closed_at must be set")
		}
		stored, _ := st.Get(id)
		if len(stored.LessonsLearned) != 0 {
			t.Fatalf("false positives need no lessons learned")
		}
	}
}

func TestFalsePositiveClosureRequiresReason(t *testing.T) {
	m, _, id := newTestManager(t, models.StatusNew)
	if _, err := m.CloseFalsePositive(id, "bob", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("false-positive close without reason must fail, got %v", err)
	}
}

func TestFalsePositiveClosureBlockedFromContained(t *testing.T) {
	m, _, id := newTestManager(t, models.StatusContained)
	if _, err := m.CloseFalsePositive(id, "bob", "noise"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("false-positive close from contained must fail, got %v", err)
	}
}

func TestTransitionToClosedViaUpdateIsRejected(t *testing.T) {
	m, _, id := newTestManager(t, models.StatusResolved)
	if _, err := m.Transition(id, models.StatusClosed, "alice", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("generic transition to closed must be rejected, got %v", err)
	}
}

func TestAnalystMayDowngradeSeverity(t *testing.T) {
	m, st, id := newTestManager(t, models.StatusInvestigating)
	if _, err := m.SetSeverity(id, models.SeverityLow, "alice", "impact smaller than reported"); err != nil {
		t.Fatalf("set severity: %v", err)
	}
	snap, _ := st.Get(id)
	if snap.Severity != models.SeverityLow {
		t.Fatalf("expected low, got %s", snap.Severity)
	}
}

func TestUnknownIncident(t *testing.T) {
	m, _, _ := newTestManager(t, models.StatusNew)
	_, err := m.Transition("missing", models.StatusInvestigating, "alice", "")
	if !errors.Is(err, store.ErrUnknownIncident) {
		t.Fatalf("expected ErrUnknownIncident, got %v", err)
	}
}
