package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"responder/internal/actuator"
	"responder/internal/classify"
	"responder/internal/correlate"
	"responder/internal/escalate"
	"responder/internal/indicator"
	"responder/internal/lifecycle"
	"responder/internal/logger"
	"responder/internal/metrics"
	"responder/internal/notify"
	"responder/internal/playbook"
	"responder/internal/rules"
	"responder/internal/store"
	"responder/pkg/models"
)

// ArchiveFunc receives incident snapshots worth persisting to the archive
// sink. Calls must not block.
type ArchiveFunc func(*models.Incident)

// Options wires an engine together.
type Options struct {
	Store      *store.Memory
	Analyzer   *indicator.Analyzer
	Table      *classify.Table
	Correlator *correlate.Correlator
	Lifecycle  *lifecycle.Manager
	Playbooks  *playbook.Library
	Scheduler  *escalate.Scheduler
	Actuator   actuator.Requester
	Notifier   notify.Notifier
	Rules      rules.Engine
}

// Engine runs the incident response pipeline: analyze, classify, correlate,
// score, open the lifecycle, trigger the playbook, arm escalation, archive.
type Engine struct {
	store      *store.Memory
	analyzer   *indicator.Analyzer
	table      *classify.Table
	correlator *correlate.Correlator
	lifecycle  *lifecycle.Manager
	playbooks  *playbook.Library
	scheduler  *escalate.Scheduler
	actuator   actuator.Requester
	notifier   notify.Notifier
	rules      rules.Engine
	archive    ArchiveFunc

	actionTimeout time.Duration
}

// New assembles an engine.
func New(opts Options) *Engine {
	if opts.Actuator == nil {
		opts.Actuator = actuator.NopRequester{}
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NopNotifier{}
	}
	return &Engine{
		store:         opts.Store,
		analyzer:      opts.Analyzer,
		table:         opts.Table,
		correlator:    opts.Correlator,
		lifecycle:     opts.Lifecycle,
		playbooks:     opts.Playbooks,
		scheduler:     opts.Scheduler,
		actuator:      opts.Actuator,
		notifier:      opts.Notifier,
		rules:         opts.Rules,
		actionTimeout: 10 * time.Second,
	}
}

// SetArchiveHook installs the archive sink callback.
func (e *Engine) SetArchiveHook(fn ArchiveFunc) {
	e.archive = fn
}

// ProcessEvent runs one raw event through the full pipeline and returns a
// snapshot of the resulting (new or updated) incident.
func (e *Engine) ProcessEvent(ctx context.Context, event *models.SecurityEvent) (*models.Incident, error) {
	if e.rules != nil && event != nil {
		if extra := e.rules.Apply(event); len(extra) > 0 {
			tagged := *event
			tagged.Indicators = append(append([]string(nil), event.Indicators...), extra...)
			event = &tagged
		}
	}

	analysis, err := e.analyzer.Analyze(ctx, event)
	if err != nil {
		metrics.EventsRejected.Inc()
		return nil, err
	}

	incType, severity := e.table.Classify(analysis.Indicators)
	// A severity hint may raise the baseline, never lower it.
	severity = models.MaxSeverity(severity, analysis.SeverityHint)

	snap, merged, err := e.correlator.Process(&correlate.Candidate{
		Type:       incType,
		Severity:   severity,
		SourceIPs:  analysis.SourceIPs,
		Systems:    analysis.Systems,
		Users:      analysis.Users,
		Indicators: analysis.Indicators,
		Timestamp:  analysis.Timestamp,
	})
	if err != nil {
		return nil, err
	}

	if merged {
		metrics.IncidentsMerged.WithLabelValues(string(snap.Type)).Inc()
		logger.Debugf("Event correlated into incident %s (events=%d)", snap.ID, snap.EventCount)
	} else {
		metrics.IncidentsCreated.WithLabelValues(string(snap.Type)).Inc()
		metrics.OpenIncidents.Inc()
		logger.Infof("Incident %s created: type=%s severity=%s threat=%.2f priority=P%d",
			snap.ID, snap.Type, snap.Severity, snap.ThreatLevel, snap.Priority)

		snap, err = e.runPlaybook(snap)
		if err != nil {
			return nil, err
		}
		e.notifyCreated(snap)
	}

	// Creation and merge both (re)arm the escalation deadline with the
	// current severity.
	e.scheduler.Schedule(snap)
	e.archiveSnapshot(snap)
	return snap, nil
}

// GetActiveIncidents returns all open incidents, most urgent first.
func (e *Engine) GetActiveIncidents() []*models.Incident {
	return e.store.Active()
}

// GetIncident returns one incident snapshot by id.
func (e *Engine) GetIncident(id string) (*models.Incident, error) {
	return e.store.Get(id)
}

// GetIncidentHistory returns incidents matching the filter, newest first.
func (e *Engine) GetIncidentHistory(f store.HistoryFilter) []*models.Incident {
	return e.store.History(f)
}

// Stats summarizes the store.
func (e *Engine) Stats() models.IncidentStats {
	return e.store.Stats()
}

// UpdateStatus is the sanctioned analyst path for non-terminal transitions.
func (e *Engine) UpdateStatus(id string, status models.Status, analyst, details string) error {
	snap, err := e.lifecycle.Transition(id, status, analyst, details)
	if err != nil {
		return err
	}
	if status == models.StatusContained {
		// Containment ends the escalation clock.
		e.scheduler.Cancel(id)
	}
	e.archiveSnapshot(snap)
	return nil
}

// CloseIncident closes a resolved incident with its lessons learned.
func (e *Engine) CloseIncident(id, analyst string, lessons []string) error {
	snap, err := e.lifecycle.Close(id, analyst, lessons)
	if err != nil {
		return err
	}
	e.scheduler.Cancel(id)
	metrics.OpenIncidents.Dec()
	e.archiveSnapshot(snap)
	return nil
}

// CloseFalsePositive closes an incident that never warranted a response.
func (e *Engine) CloseFalsePositive(id, analyst, reason string) error {
	snap, err := e.lifecycle.CloseFalsePositive(id, analyst, reason)
	if err != nil {
		return err
	}
	e.scheduler.Cancel(id)
	metrics.OpenIncidents.Dec()
	e.archiveSnapshot(snap)
	return nil
}

// ReportActionResult is the actuator's callback for a previously requested
// containment action. Late reports on closed incidents are still recorded
// but never reopen the incident.
func (e *Engine) ReportActionResult(id, action string, ok bool, detail string) error {
	snap, err := e.store.Mutate(id, func(inc *models.Incident) error {
		idx := -1
		for i := range inc.ContainmentActions {
			if inc.ContainmentActions[i].Name == action && inc.ContainmentActions[i].Status == models.ActionPending {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("no pending containment action %q on incident %s", action, id)
		}
		now := time.Now()
		act := &inc.ContainmentActions[idx]
		act.CompletedAt = &now
		act.Detail = detail
		outcome := "succeeded"
		if ok {
			act.Status = models.ActionSucceeded
		} else {
			act.Status = models.ActionFailed
			outcome = "failed"
		}
		inc.RecordTimeline(now, "actuator", fmt.Sprintf("action %s %s", action, outcome), detail)
		return nil
	})
	if err != nil {
		return err
	}
	if !ok {
		metrics.ActionsFailed.Inc()
	}
	e.archiveSnapshot(snap)
	return nil
}

// runPlaybook records the type's automated actions as pending containment
// requests, surfaces the manual checklist, and dispatches the requests
// without waiting on the actuator.
func (e *Engine) runPlaybook(snap *models.Incident) (*models.Incident, error) {
	pb := e.playbooks.Lookup(snap.Type)
	now := time.Now()
	updated, err := e.store.Mutate(snap.ID, func(inc *models.Incident) error {
		for _, action := range pb.AutomatedActions {
			inc.ContainmentActions = append(inc.ContainmentActions, models.ContainmentAction{
				Name:        action,
				Status:      models.ActionPending,
				RequestedAt: now,
			})
		}
		inc.ManualSteps = append([]string(nil), pb.ManualSteps...)
		inc.RecordTimeline(now, "playbook", "containment requested",
			"automated actions: "+strings.Join(pb.AutomatedActions, ", "))
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, action := range pb.AutomatedActions {
		metrics.ActionsRequested.Inc()
		go e.dispatchAction(updated.ID, action)
	}
	return updated, nil
}

// dispatchAction fires one request at the actuator. The request is an ack,
// not an outcome; only an unreachable actuator marks the action failed here.
func (e *Engine) dispatchAction(id, action string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.actionTimeout)
	defer cancel()
	if err := e.actuator.RequestAction(ctx, id, action); err != nil {
		logger.Warnf("Containment action %s for incident %s not delivered: %v", action, id, err)
		if rerr := e.ReportActionResult(id, action, false, err.Error()); rerr != nil {
			logger.Errorf("Failed to record action failure for incident %s: %v", id, rerr)
		}
	}
}

func (e *Engine) notifyCreated(snap *models.Incident) {
	if snap.Severity.Rank() < models.SeverityHigh.Rank() {
		return
	}
	tier := string(snap.Severity)
	summary := fmt.Sprintf("incident %s (%s/%s) created: %d systems affected, priority P%d",
		snap.ID, snap.Type, snap.Severity, len(snap.AffectedSystems), snap.Priority)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.actionTimeout)
		defer cancel()
		if err := e.notifier.Notify(ctx, tier, summary); err != nil {
			logger.Warnf("Creation notification failed for incident %s: %v", snap.ID, err)
		}
	}()
}

func (e *Engine) archiveSnapshot(snap *models.Incident) {
	if e.archive != nil && snap != nil {
		e.archive(snap)
	}
}
