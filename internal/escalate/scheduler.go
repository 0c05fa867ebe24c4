package escalate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"responder/internal/lifecycle"
	"responder/internal/logger"
	"responder/internal/metrics"
	"responder/internal/notify"
	"responder/internal/store"
	"responder/pkg/models"
)

// Thresholds are the per-severity delays before an unattended incident is
// escalated. A zero critical threshold means immediate escalation.
type Thresholds struct {
	Critical time.Duration
	High     time.Duration
	Medium   time.Duration
	Low      time.Duration
}

// DefaultThresholds returns the standard escalation delays.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Critical: 0,
		High:     30 * time.Minute,
		Medium:   2 * time.Hour,
		Low:      8 * time.Hour,
	}
}

// For returns the delay for a severity.
func (t Thresholds) For(sev models.Severity) time.Duration {
	switch sev {
	case models.SeverityCritical:
		return t.Critical
	case models.SeverityHigh:
		return t.High
	case models.SeverityMedium:
		return t.Medium
	}
	return t.Low
}

// Scheduler arms one cancellable deadline timer per incident. A firing timer
// always re-reads current status before acting, so a stale fire after
// containment or closure is a no-op rather than an error.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool

	store      *store.Memory
	lifecycle  *lifecycle.Manager
	notifier   notify.Notifier
	thresholds Thresholds
	teams      map[string]string

	// fired is invoked after a fire completes; tests hook it.
	fired func(id string)
}

// NewScheduler creates a scheduler.
func NewScheduler(st *store.Memory, lm *lifecycle.Manager, notifier notify.Notifier, thresholds Thresholds, teams map[string]string) *Scheduler {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Scheduler{
		timers:     make(map[string]*time.Timer),
		store:      st,
		lifecycle:  lm,
		notifier:   notifier,
		thresholds: thresholds,
		teams:      teams,
	}
}

// Schedule arms (or re-arms) the escalation timer for an incident using its
// current severity. Called at creation and again on every merge. Only
// unattended incidents carry an escalation clock: containment cancels it, and
// a later merge must not re-arm it.
func (s *Scheduler) Schedule(inc *models.Incident) {
	if inc == nil {
		return
	}
	switch inc.Status {
	case models.StatusNew, models.StatusInvestigating:
	default:
		return
	}
	delay := s.thresholds.For(inc.Severity)
	id := inc.ID

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if old, ok := s.timers[id]; ok {
		old.Stop()
	}
	s.timers[id] = time.AfterFunc(delay, func() { s.fire(id) })
	s.mu.Unlock()

	logger.Debugf("Escalation armed for incident %s in %s", id, delay)
}

// Cancel disarms the timer for an incident. Safe to call while the timer is
// mid-fire; the fire-time status re-check covers the race.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
}

// Stop disarms all timers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
}

func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	delete(s.timers, id)
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}
	defer func() {
		if s.fired != nil {
			s.fired(id)
		}
	}()

	// Status may have changed while the timer waited.
	inc, err := s.store.Get(id)
	if err != nil {
		logger.Warnf("Escalation fired for unknown incident %s", id)
		return
	}

	switch inc.Status {
	case models.StatusNew:
		updated, err := s.lifecycle.Transition(id, models.StatusInvestigating, "escalation", "auto-escalated")
		if err != nil {
			if errors.Is(err, lifecycle.ErrInvalidTransition) {
				return
			}
			logger.Errorf("Escalation transition failed for incident %s: %v", id, err)
			return
		}
		inc = updated
	case models.StatusInvestigating:
		// Already being worked; re-notify only.
	default:
		return
	}

	metrics.EscalationsFired.Inc()

	tier := string(inc.Severity)
	summary := fmt.Sprintf("incident %s (%s/%s) escalated: unattended past %s deadline, priority P%d",
		inc.ID, inc.Type, inc.Severity, s.thresholds.For(inc.Severity), inc.Priority)
	if contact := s.teams[tier]; contact != "" {
		summary += ", contact " + contact
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.notifier.Notify(ctx, tier, summary); err != nil {
			logger.Warnf("Escalation notification failed for incident %s: %v", inc.ID, err)
		}
	}()

	logger.Infof("Incident %s auto-escalated (severity=%s)", inc.ID, inc.Severity)
}
