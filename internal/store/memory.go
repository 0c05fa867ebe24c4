package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"responder/pkg/models"
)

// ErrUnknownIncident marks operations addressing a nonexistent incident id.
var ErrUnknownIncident = errors.New("unknown incident")

// Memory is the authoritative in-process incident store. The map lock only
// guards map access; each incident carries its own mutex so mutations of
// different incidents never block each other and readers of other incidents
// proceed during a write.
type Memory struct {
	mu         sync.RWMutex
	incidents  map[string]*entry
	openByType map[models.IncidentType]map[string]struct{}
}

type entry struct {
	mu  sync.Mutex
	inc *models.Incident
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		incidents:  make(map[string]*entry),
		openByType: make(map[models.IncidentType]map[string]struct{}),
	}
}

// Create registers a new incident. The id must be unused.
func (m *Memory) Create(inc *models.Incident) error {
	if inc == nil || inc.ID == "" {
		return fmt.Errorf("incident id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.incidents[inc.ID]; ok {
		return fmt.Errorf("incident %s already exists", inc.ID)
	}
	m.incidents[inc.ID] = &entry{inc: inc}
	if inc.Active() {
		m.indexOpenLocked(inc)
	}
	return nil
}

// Get returns a snapshot of one incident.
func (m *Memory) Get(id string) (*models.Incident, error) {
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inc.Clone(), nil
}

// Mutate runs fn against the live incident under its exclusive lock and
// returns a snapshot of the result. When fn returns an error the incident is
// assumed untouched and the error is passed through.
func (m *Memory) Mutate(id string, fn func(*models.Incident) error) (*models.Incident, error) {
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	wasActive := e.inc.Active()
	if err := fn(e.inc); err != nil {
		return nil, err
	}
	if wasActive && !e.inc.Active() {
		m.mu.Lock()
		m.unindexOpenLocked(e.inc)
		m.mu.Unlock()
	}
	return e.inc.Clone(), nil
}

// Active returns snapshots of all open incidents, most urgent first.
func (m *Memory) Active() []*models.Incident {
	m.mu.RLock()
	ids := make([]string, 0, 16)
	for _, byID := range m.openByType {
		for id := range byID {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	out := make([]*models.Incident, 0, len(ids))
	for _, id := range ids {
		if snap, err := m.Get(id); err == nil && snap.Active() {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// OpenCandidates returns snapshots of open incidents of one type whose
// last update is at or after since, most recently updated first. This is the
// correlator's lookup.
func (m *Memory) OpenCandidates(t models.IncidentType, since time.Time) []*models.Incident {
	m.mu.RLock()
	ids := make([]string, 0, len(m.openByType[t]))
	for id := range m.openByType[t] {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	out := make([]*models.Incident, 0, len(ids))
	for _, id := range ids {
		snap, err := m.Get(id)
		if err != nil || !snap.Active() {
			continue
		}
		if snap.LastUpdatedAt.Before(since) {
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastUpdatedAt.After(out[j].LastUpdatedAt)
	})
	return out
}

// HistoryFilter selects incidents for history queries.
type HistoryFilter struct {
	Status   models.Status
	Type     models.IncidentType
	Severity models.Severity
	Since    time.Time
	Limit    int
}

// History returns snapshots matching the filter, newest first.
func (m *Memory) History(f HistoryFilter) []*models.Incident {
	m.mu.RLock()
	ids := make([]string, 0, len(m.incidents))
	for id := range m.incidents {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	out := make([]*models.Incident, 0, len(ids))
	for _, id := range ids {
		snap, err := m.Get(id)
		if err != nil {
			continue
		}
		if f.Status != "" && snap.Status != f.Status {
			continue
		}
		if f.Type != "" && snap.Type != f.Type {
			continue
		}
		if f.Severity != "" && snap.Severity != f.Severity {
			continue
		}
		if !f.Since.IsZero() && snap.CreatedAt.Before(f.Since) {
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Stats summarizes the store contents. It walks every incident; history
// query limits never apply here.
func (m *Memory) Stats() models.IncidentStats {
	m.mu.RLock()
	ids := make([]string, 0, len(m.incidents))
	for id := range m.incidents {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	stats := models.IncidentStats{
		ByStatus:   make(map[models.Status]int),
		ByType:     make(map[models.IncidentType]int),
		BySeverity: make(map[models.Severity]int),
	}
	for _, id := range ids {
		snap, err := m.Get(id)
		if err != nil {
			continue
		}
		stats.Total++
		if snap.Active() {
			stats.Open++
		}
		stats.ByStatus[snap.Status]++
		stats.ByType[snap.Type]++
		stats.BySeverity[snap.Severity]++
	}
	return stats
}

func (m *Memory) entry(id string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.incidents[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIncident, id)
	}
	return e, nil
}

func (m *Memory) indexOpenLocked(inc *models.Incident) {
	byID := m.openByType[inc.Type]
	if byID == nil {
		byID = make(map[string]struct{})
		m.openByType[inc.Type] = byID
	}
	byID[inc.ID] = struct{}{}
}

func (m *Memory) unindexOpenLocked(inc *models.Incident) {
	if byID := m.openByType[inc.Type]; byID != nil {
		delete(byID, inc.ID)
		if len(byID) == 0 {
			delete(m.openByType, inc.Type)
		}
	}
}
