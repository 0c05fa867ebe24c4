package models

import (
	"strings"
	"time"
)

// IncidentType classifies an incident.
type IncidentType string

const (
	TypeSQLInjection       IncidentType = "sql_injection"
	TypeDDoSAttack         IncidentType = "ddos_attack"
	TypeDataBreach         IncidentType = "data_breach"
	TypeMalware            IncidentType = "malware"
	TypeUnauthorizedAccess IncidentType = "unauthorized_access"
	TypeOther              IncidentType = "other"
)

// Severity is the incident impact level.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the severity order; higher means more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// ParseSeverity maps a free-form severity string to a Severity, or empty when
// unrecognized.
func ParseSeverity(raw string) Severity {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "critical":
		return SeverityCritical
	case "high":
		return SeverityHigh
	case "medium", "moderate":
		return SeverityMedium
	case "low":
		return SeverityLow
	}
	return ""
}

// MaxSeverity returns the more severe of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Status is the incident lifecycle state.
type Status string

const (
	StatusNew           Status = "new"
	StatusInvestigating Status = "investigating"
	StatusContained     Status = "contained"
	StatusResolved      Status = "resolved"
	StatusClosed        Status = "closed"
)

// ActionStatus tracks a requested containment action.
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionSucceeded ActionStatus = "succeeded"
	ActionFailed    ActionStatus = "failed"
)

// ContainmentAction records one requested automated remediation step. The
// engine only requests; an external actuator executes and reports back.
type ContainmentAction struct {
	Name        string       `json:"name"`
	Status      ActionStatus `json:"status"`
	RequestedAt time.Time    `json:"requested_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Detail      string       `json:"detail,omitempty"`
}

// TimelineEntry is one append-only audit record.
type TimelineEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Details   string    `json:"details,omitempty"`
}

// Incident is the central tracked entity.
type Incident struct {
	ID                 string              `json:"incident_id"`
	Type               IncidentType        `json:"incident_type"`
	Severity           Severity            `json:"severity"`
	ThreatLevel        float64             `json:"threat_level"`
	Priority           int                 `json:"priority"`
	Status             Status              `json:"status"`
	SourceIPs          []string            `json:"source_ips,omitempty"`
	AffectedSystems    []string            `json:"affected_systems,omitempty"`
	AffectedUsers      []string            `json:"affected_users,omitempty"`
	Indicators         []string            `json:"indicators,omitempty"`
	ContainmentActions []ContainmentAction `json:"containment_actions,omitempty"`
	ManualSteps        []string            `json:"manual_steps,omitempty"`
	Timeline           []TimelineEntry     `json:"timeline"`
	CreatedAt          time.Time           `json:"created_at"`
	LastUpdatedAt      time.Time           `json:"last_updated_at"`
	ClosedAt           *time.Time          `json:"closed_at,omitempty"`
	LessonsLearned     []string            `json:"lessons_learned,omitempty"`
	EventCount         int                 `json:"event_count"`
}

// Active reports whether the incident is still open.
func (i *Incident) Active() bool {
	return i.Status != StatusClosed
}

// RecordTimeline appends one audit entry and refreshes the update timestamp.
func (i *Incident) RecordTimeline(ts time.Time, actor, action, details string) {
	i.Timeline = append(i.Timeline, TimelineEntry{
		Timestamp: ts,
		Actor:     actor,
		Action:    action,
		Details:   details,
	})
	i.LastUpdatedAt = ts
}

// MergeSets unions source IPs, systems, users and indicators from an event
// into the incident, preserving first-seen order.
func (i *Incident) MergeSets(sourceIPs, systems, users, indicators []string) {
	i.SourceIPs = unionStrings(i.SourceIPs, sourceIPs)
	i.AffectedSystems = unionStrings(i.AffectedSystems, systems)
	i.AffectedUsers = unionStrings(i.AffectedUsers, users)
	i.Indicators = unionStrings(i.Indicators, indicators)
}

// Clone returns a deep copy safe to hand to readers while the original keeps
// being mutated under its lock.
func (i *Incident) Clone() *Incident {
	if i == nil {
		return nil
	}
	out := *i
	out.SourceIPs = append([]string(nil), i.SourceIPs...)
	out.AffectedSystems = append([]string(nil), i.AffectedSystems...)
	out.AffectedUsers = append([]string(nil), i.AffectedUsers...)
	out.Indicators = append([]string(nil), i.Indicators...)
	out.ContainmentActions = append([]ContainmentAction(nil), i.ContainmentActions...)
	out.ManualSteps = append([]string(nil), i.ManualSteps...)
	out.Timeline = append([]TimelineEntry(nil), i.Timeline...)
	out.LessonsLearned = append([]string(nil), i.LessonsLearned...)
	if i.ClosedAt != nil {
		ts := *i.ClosedAt
		out.ClosedAt = &ts
	}
	return &out
}

// IncidentStats summarizes the store for dashboards and reports.
type IncidentStats struct {
	Total      int                  `json:"total"`
	Open       int                  `json:"open"`
	ByStatus   map[Status]int       `json:"by_status"`
	ByType     map[IncidentType]int `json:"by_type"`
	BySeverity map[Severity]int     `json:"by_severity"`
}

func unionStrings(base, extra []string) []string {
	if len(extra) == 0 {
		return base
	}
	seen := make(map[string]struct{}, len(base)+len(extra))
	for _, v := range base {
		seen[v] = struct{}{}
	}
	for _, v := range extra {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		base = append(base, v)
	}
	return base
}
