package correlate

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"responder/internal/logger"
	"responder/internal/score"
	"responder/internal/store"
	"responder/pkg/models"
)

// Candidate is a classified event awaiting the merge-or-create decision.
type Candidate struct {
	Type       models.IncidentType
	Severity   models.Severity
	SourceIPs  []string
	Systems    []string
	Users      []string
	Indicators []string
	Timestamp  time.Time
}

// errTargetClosed aborts a merge whose target closed between lookup and
// apply; the caller falls back to creating a fresh incident.
var errTargetClosed = errors.New("merge target closed")

// Correlator decides whether a classified event extends an open incident or
// starts a new one. The lookup and the apply run as one unit under
// per-(type, asset) admission locks so two concurrent events for the same
// not-yet-tracked attack cannot fork into duplicate incidents.
type Correlator struct {
	store  *store.Memory
	window time.Duration
	locks  keyedLock
	now    func() time.Time
}

// NewCorrelator creates a correlator over a store.
func NewCorrelator(st *store.Memory, window time.Duration) *Correlator {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Correlator{
		store:  st,
		window: window,
		now:    time.Now,
	}
}

// SetClock overrides the clock, for tests.
func (c *Correlator) SetClock(now func() time.Time) {
	c.now = now
}

// Process applies the merge-or-create decision and returns a snapshot of the
// resulting incident plus whether the event was merged into an existing one.
func (c *Correlator) Process(cand *Candidate) (*models.Incident, bool, error) {
	release := c.locks.acquire(admissionKeys(cand))
	defer release()

	if target := c.findMatch(cand); target != "" {
		snap, err := c.merge(target, cand)
		if err == nil {
			return snap, true, nil
		}
		if !errors.Is(err, errTargetClosed) {
			return nil, false, err
		}
		logger.Debugf("Merge target %s closed mid-decision, creating new incident", target)
	}

	snap, err := c.create(cand)
	return snap, false, err
}

// findMatch returns the id of the open incident the candidate should merge
// into, or empty. Candidates are ordered most-recently-updated first, which
// is the tie-break when an event matches more than one open incident.
func (c *Correlator) findMatch(cand *Candidate) string {
	since := cand.Timestamp.Add(-c.window)
	for _, open := range c.store.OpenCandidates(cand.Type, since) {
		if intersects(open.AffectedSystems, cand.Systems) || intersects(open.SourceIPs, cand.SourceIPs) {
			return open.ID
		}
	}
	return ""
}

func (c *Correlator) merge(id string, cand *Candidate) (*models.Incident, error) {
	return c.store.Mutate(id, func(inc *models.Incident) error {
		if !inc.Active() {
			return errTargetClosed
		}
		inc.MergeSets(cand.SourceIPs, cand.Systems, cand.Users, cand.Indicators)
		// Correlation never downgrades severity.
		inc.Severity = models.MaxSeverity(inc.Severity, cand.Severity)
		inc.EventCount++
		inc.ThreatLevel, inc.Priority = score.Score(score.Input{
			Severity: inc.Severity,
			Systems:  len(inc.AffectedSystems),
			Users:    len(inc.AffectedUsers),
			Context:  score.ContextFrom(inc.Indicators),
		})
		inc.RecordTimeline(c.now(), "correlator", "event correlated", "event merged into open incident")
		return nil
	})
}

func (c *Correlator) create(cand *Candidate) (*models.Incident, error) {
	now := c.now()
	inc := &models.Incident{
		ID:              uuid.NewString(),
		Type:            cand.Type,
		Severity:        cand.Severity,
		Status:          models.StatusNew,
		SourceIPs:       append([]string(nil), cand.SourceIPs...),
		AffectedSystems: append([]string(nil), cand.Systems...),
		AffectedUsers:   append([]string(nil), cand.Users...),
		Indicators:      append([]string(nil), cand.Indicators...),
		CreatedAt:       now,
		LastUpdatedAt:   now,
		EventCount:      1,
	}
	inc.ThreatLevel, inc.Priority = score.Score(score.Input{
		Severity: inc.Severity,
		Systems:  len(inc.AffectedSystems),
		Users:    len(inc.AffectedUsers),
		Context:  score.ContextFrom(inc.Indicators),
	})
	inc.RecordTimeline(now, "correlator", "incident created", "created from security event")
	if err := c.store.Create(inc); err != nil {
		return nil, err
	}
	return inc.Clone(), nil
}

// admissionKeys lists the composite keys the decision must hold. A merge can
// match on system or source-IP overlap, so both dimensions are locked; two
// events sharing either one serialize.
func admissionKeys(cand *Candidate) []string {
	keys := make([]string, 0, len(cand.Systems)+len(cand.SourceIPs))
	for _, sys := range cand.Systems {
		keys = append(keys, string(cand.Type)+"|sys|"+sys)
	}
	for _, ip := range cand.SourceIPs {
		keys = append(keys, string(cand.Type)+"|ip|"+ip)
	}
	if len(keys) == 0 {
		keys = append(keys, string(cand.Type))
	}
	return keys
}

func intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

// keyedLock hands out one mutex per admission key. Keys are acquired in
// sorted order so overlapping key sets cannot deadlock.
type keyedLock struct {
	mu    sync.Mutex
	locks map[string]*lockRef
}

type lockRef struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedLock) acquire(keys []string) func() {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	dedup := sorted[:0]
	var last string
	for i, key := range sorted {
		if i > 0 && key == last {
			continue
		}
		dedup = append(dedup, key)
		last = key
	}

	refs := make([]*lockRef, 0, len(dedup))
	for _, key := range dedup {
		k.mu.Lock()
		if k.locks == nil {
			k.locks = make(map[string]*lockRef)
		}
		ref := k.locks[key]
		if ref == nil {
			ref = &lockRef{}
			k.locks[key] = ref
		}
		ref.refs++
		k.mu.Unlock()

		ref.mu.Lock()
		refs = append(refs, ref)
	}

	keysHeld := append([]string(nil), dedup...)
	return func() {
		for i := len(refs) - 1; i >= 0; i-- {
			refs[i].mu.Unlock()
			k.mu.Lock()
			refs[i].refs--
			if refs[i].refs == 0 {
				delete(k.locks, keysHeld[i])
			}
			k.mu.Unlock()
		}
	}
}
