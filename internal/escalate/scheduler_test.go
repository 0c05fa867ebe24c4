package escalate

import (
	"context"
	"testing"
	"time"

	"responder/internal/lifecycle"
	"responder/internal/store"
	"responder/pkg/models"
)

type recordingNotifier struct {
	calls chan string
}

func (r *recordingNotifier) Notify(_ context.Context, tier, summary string) error {
	r.calls <- tier + ": " + summary
	return nil
}

func shortThresholds() Thresholds {
	return Thresholds{
		Critical: time.Millisecond,
		High:     10 * time.Millisecond,
		Medium:   time.Hour,
		Low:      time.Hour,
	}
}

func newTestScheduler(t *testing.T, status models.Status, sev models.Severity) (*Scheduler, *store.Memory, *recordingNotifier, chan string, *models.Incident) {
	t.Helper()
	st := store.NewMemory()
	inc := &models.Incident{
		ID:            "inc-1",
		Type:          models.TypeDDoSAttack,
		Severity:      sev,
		Status:        status,
		Priority:      2,
		CreatedAt:     time.Now(),
		LastUpdatedAt: time.Now(),
	}
	if err := st.Create(inc); err != nil {
		t.Fatalf("seed incident: %v", err)
	}
	notifier := &recordingNotifier{calls: make(chan string, 4)}
	s := NewScheduler(st, lifecycle.NewManager(st), notifier, shortThresholds(), map[string]string{"high": "soc-oncall"})
	fired := make(chan string, 4)
	s.fired = func(id string) { fired <- id }
	t.Cleanup(s.Stop)
	return s, st, notifier, fired, inc
}

func waitFired(t *testing.T, fired chan string) {
	t.Helper()
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("escalation timer never fired")
	}
}

func TestUnattendedNewIncidentAutoEscalates(t *testing.T) {
	s, st, notifier, fired, inc := newTestScheduler(t, models.StatusNew, models.SeverityHigh)
	s.Schedule(inc)
	waitFired(t, fired)

	snap, err := st.Get(inc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap.Status != models.StatusInvestigating {
		t.Fatalf("expected forced investigating, got %s", snap.Status)
	}
	last := snap.Timeline[len(snap.Timeline)-1]
	if last.Actor != "escalation" || last.Details != "auto-escalated" {
		t.Fatalf("unexpected timeline entry: %+v", last)
	}

	select {
	case msg := <-notifier.calls:
		if msg[:5] != "high:" {
			t.Fatalf("expected high tier notification, got %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no escalation notification sent")
	}
}

func TestInvestigatingDeadlineRenotifiesWithoutTransition(t *testing.T) {
	s, st, notifier, fired, inc := newTestScheduler(t, models.StatusInvestigating, models.SeverityHigh)
	s.Schedule(inc)
	waitFired(t, fired)

	snap, _ := st.Get(inc.ID)
	if snap.Status != models.StatusInvestigating {
		t.Fatalf("re-notify must not change status, got %s", snap.Status)
	}
	if len(snap.Timeline) != 0 {
		t.Fatalf("re-notify must not append timeline entries, got %d", len(snap.Timeline))
	}

	select {
	case <-notifier.calls:
	case <-time.After(2 * time.Second):
		t.Fatalf("no re-notification sent")
	}
}

func TestStaleFireOnContainedIncidentIsNoop(t *testing.T) {
	s, st, notifier, _, inc := newTestScheduler(t, models.StatusContained, models.SeverityHigh)

	// A timer armed before containment can still fire; the fire-time status
	// re-check must make it a no-op.
	s.fire(inc.ID)

	snap, _ := st.Get(inc.ID)
	if snap.Status != models.StatusContained || len(snap.Timeline) != 0 {
		t.Fatalf("stale fire mutated the incident: %+v", snap)
	}
	select {
	case msg := <-notifier.calls:
		t.Fatalf("stale fire must not notify, got %q", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestScheduleSkipsAttendedIncidents(t *testing.T) {
	for _, status := range []models.Status{models.StatusContained, models.StatusResolved, models.StatusClosed} {
		s, st, _, fired, inc := newTestScheduler(t, status, models.SeverityCritical)
		s.Schedule(inc)

		select {
		case <-fired:
			t.Fatalf("escalation clock re-armed for %s incident", status)
		case <-time.After(100 * time.Millisecond):
		}
		snap, _ := st.Get(inc.ID)
		if snap.Status != status {
			t.Fatalf("schedule mutated a %s incident to %s", status, snap.Status)
		}
	}
}

func TestCancelDisarmsTimer(t *testing.T) {
	s, st, _, fired, inc := newTestScheduler(t, models.StatusNew, models.SeverityHigh)
	s.Schedule(inc)
	s.Cancel(inc.ID)

	select {
	case <-fired:
		t.Fatalf("cancelled timer fired")
	case <-time.After(100 * time.Millisecond):
	}
	snap, _ := st.Get(inc.ID)
	if snap.Status != models.StatusNew {
		t.Fatalf("cancelled escalation mutated status to %s", snap.Status)
	}
}

func TestCriticalEscalatesImmediately(t *testing.T) {
	s, st, _, fired, inc := newTestScheduler(t, models.StatusNew, models.SeverityCritical)
	s.Schedule(inc)
	waitFired(t, fired)

	snap, _ := st.Get(inc.ID)
	if snap.Status != models.StatusInvestigating {
		t.Fatalf("critical incident not escalated, status %s", snap.Status)
	}
}

func TestScheduleAfterStopIsIgnored(t *testing.T) {
	s, _, _, fired, inc := newTestScheduler(t, models.StatusNew, models.SeverityCritical)
	s.Stop()
	s.Schedule(inc)

	select {
	case <-fired:
		t.Fatalf("stopped scheduler fired")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestThresholdFor(t *testing.T) {
	th := DefaultThresholds()
	if th.For(models.SeverityCritical) != 0 {
		t.Fatalf("critical threshold must be immediate")
	}
	if th.For(models.SeverityHigh) != 30*time.Minute {
		t.Fatalf("high threshold wrong: %s", th.For(models.SeverityHigh))
	}
	if th.For(models.SeverityMedium) != 2*time.Hour {
		t.Fatalf("medium threshold wrong: %s", th.For(models.SeverityMedium))
	}
	if th.For(models.SeverityLow) != 8*time.Hour {
		t.Fatalf("low threshold wrong: %s", th.For(models.SeverityLow))
	}
}
