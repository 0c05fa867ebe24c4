package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"responder/pkg/models"
)

func seedIncident(id string, t models.IncidentType, prio int, ts time.Time) *models.Incident {
	return &models.Incident{
		ID:            id,
		Type:          t,
		Severity:      models.SeverityMedium,
		Status:        models.StatusNew,
		Priority:      prio,
		CreatedAt:     ts,
		LastUpdatedAt: ts,
	}
}

func TestCreateAndGet(t *testing.T) {
	m := NewMemory()
	ts := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	inc := seedIncident("inc-1", models.TypeMalware, 3, ts)
	if err := m.Create(inc); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.Create(seedIncident("inc-1", models.TypeMalware, 3, ts)); err == nil {
		t.Fatalf("duplicate create must fail")
	}

	snap, err := m.Get("inc-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// Snapshots must not alias store state.
	snap.AffectedSystems = append(snap.AffectedSystems, "rogue")
	again, _ := m.Get("inc-1")
	if len(again.AffectedSystems) != 0 {
		t.Fatalf("snapshot mutation leaked into the store")
	}
}

func TestGetUnknown(t *testing.T) {
	m := NewMemory()
	if _, err := m.Get("missing"); !errors.Is(err, ErrUnknownIncident) {
		t.Fatalf("expected ErrUnknownIncident, got %v", err)
	}
	if _, err := m.Mutate("missing", func(*models.Incident) error { return nil }); !errors.Is(err, ErrUnknownIncident) {
		t.Fatalf("expected ErrUnknownIncident, got %v", err)
	}
}

func TestMutateErrorLeavesSnapshotNil(t *testing.T) {
	m := NewMemory()
	ts := time.Now()
	if err := m.Create(seedIncident("inc-1", models.TypeDDoSAttack, 2, ts)); err != nil {
		t.Fatalf("create: %v", err)
	}
	boom := errors.New("boom")
	snap, err := m.Mutate("inc-1", func(*models.Incident) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error passed through, got %v", err)
	}
	if snap != nil {
		t.Fatalf("no snapshot on error")
	}
}

func TestActiveOrderedByPriority(t *testing.T) {
	m := NewMemory()
	ts := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	m.Create(seedIncident("low", models.TypeMalware, 4, ts))
	m.Create(seedIncident("high", models.TypeDDoSAttack, 1, ts.Add(time.Minute)))
	m.Create(seedIncident("mid", models.TypeSQLInjection, 3, ts.Add(2*time.Minute)))

	got := m.Active()
	if len(got) != 3 {
		t.Fatalf("expected 3 active, got %d", len(got))
	}
	want := []string{"high", "mid", "low"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestActiveExcludesClosed(t *testing.T) {
	m := NewMemory()
	ts := time.Now()
	m.Create(seedIncident("inc-1", models.TypeMalware, 3, ts))
	m.Create(seedIncident("inc-2", models.TypeMalware, 3, ts))

	if _, err := m.Mutate("inc-1", func(inc *models.Incident) error {
		inc.Status = models.StatusClosed
		return nil
	}); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	got := m.Active()
	if len(got) != 1 || got[0].ID != "inc-2" {
		t.Fatalf("expected only inc-2 active, got %v", got)
	}
}

func TestOpenCandidatesWindowAndOrder(t *testing.T) {
	m := NewMemory()
	base := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

	stale := seedIncident("stale", models.TypeDDoSAttack, 2, base.Add(-time.Hour))
	fresh := seedIncident("fresh", models.TypeDDoSAttack, 2, base.Add(-time.Minute))
	freshest := seedIncident("freshest", models.TypeDDoSAttack, 2, base.Add(-10*time.Second))
	otherType := seedIncident("other", models.TypeMalware, 2, base)
	for _, inc := range []*models.Incident{stale, fresh, freshest, otherType} {
		if err := m.Create(inc); err != nil {
			t.Fatalf("create %s: %v", inc.ID, err)
		}
	}

	got := m.OpenCandidates(models.TypeDDoSAttack, base.Add(-5*time.Minute))
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].ID != "freshest" || got[1].ID != "fresh" {
		t.Fatalf("expected most recently updated first, got %s, %s", got[0].ID, got[1].ID)
	}
}

func TestHistoryFilters(t *testing.T) {
	m := NewMemory()
	base := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		inc := seedIncident(fmt.Sprintf("inc-%d", i), models.TypeMalware, 3, base.Add(time.Duration(i)*time.Minute))
		if i%2 == 0 {
			inc.Severity = models.SeverityHigh
		}
		m.Create(inc)
	}

	got := m.History(HistoryFilter{Severity: models.SeverityHigh})
	if len(got) != 3 {
		t.Fatalf("expected 3 high, got %d", len(got))
	}
	if !got[0].CreatedAt.After(got[1].CreatedAt) {
		t.Fatalf("expected newest first")
	}

	got = m.History(HistoryFilter{Limit: 2})
	if len(got) != 2 {
		t.Fatalf("limit not applied, got %d", len(got))
	}

	got = m.History(HistoryFilter{Since: base.Add(3 * time.Minute)})
	if len(got) != 2 {
		t.Fatalf("expected 2 since-filtered, got %d", len(got))
	}
}

func TestStats(t *testing.T) {
	m := NewMemory()
	ts := time.Now()
	m.Create(seedIncident("inc-1", models.TypeMalware, 3, ts))
	m.Create(seedIncident("inc-2", models.TypeDDoSAttack, 2, ts))
	m.Mutate("inc-2", func(inc *models.Incident) error {
		inc.Status = models.StatusClosed
		return nil
	})

	stats := m.Stats()
	if stats.Total != 2 || stats.Open != 1 {
		t.Fatalf("stats total=%d open=%d", stats.Total, stats.Open)
	}
	if stats.ByType[models.TypeMalware] != 1 || stats.ByStatus[models.StatusClosed] != 1 {
		t.Fatalf("unexpected breakdowns: %+v", stats)
	}
}

func TestStatsAndHistoryBeyondQueryLimit(t *testing.T) {
	m := NewMemory()
	base := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	const total = 600
	for i := 0; i < total; i++ {
		inc := seedIncident(fmt.Sprintf("inc-%d", i), models.TypeMalware, 3, base.Add(time.Duration(i)*time.Second))
		if err := m.Create(inc); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	stats := m.Stats()
	if stats.Total != total || stats.Open != total {
		t.Fatalf("stats must count every incident: total=%d open=%d", stats.Total, stats.Open)
	}
	if stats.ByType[models.TypeMalware] != total || stats.ByStatus[models.StatusNew] != total {
		t.Fatalf("stats breakdowns truncated: %+v", stats)
	}

	// An over-large limit clamps to the maximum, never to the default.
	if got := len(m.History(HistoryFilter{Limit: 1000})); got != 500 {
		t.Fatalf("limit 1000: expected 500 rows, got %d", got)
	}
	if got := len(m.History(HistoryFilter{Limit: 500})); got != 500 {
		t.Fatalf("limit 500: expected 500 rows, got %d", got)
	}
	if got := len(m.History(HistoryFilter{})); got != 100 {
		t.Fatalf("default limit: expected 100 rows, got %d", got)
	}
}

func TestConcurrentMutations(t *testing.T) {
	m := NewMemory()
	ts := time.Now()
	if err := m.Create(seedIncident("inc-1", models.TypeDDoSAttack, 2, ts)); err != nil {
		t.Fatalf("create: %v", err)
	}

	const writers = 16
	const perWriter = 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				m.Mutate("inc-1", func(inc *models.Incident) error {
					inc.EventCount++
					return nil
				})
			}
		}()
	}
	wg.Wait()

	snap, err := m.Get("inc-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap.EventCount != writers*perWriter {
		t.Fatalf("lost updates: expected %d, got %d", writers*perWriter, snap.EventCount)
	}
}
