package indicator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"responder/internal/logger"
	"responder/pkg/models"
)

// ErrInvalidEvent marks an event that carries neither an event type nor any
// indicator. Such events are rejected, never guessed at.
var ErrInvalidEvent = errors.New("invalid security event")

// Enricher is an optional threat-intel hook that expands an indicator set.
// Failures are non-fatal; the engine proceeds with the original indicators.
type Enricher interface {
	Enrich(ctx context.Context, indicators []string) ([]string, error)
}

// Analysis is the normalized view of one event.
type Analysis struct {
	Indicators   []string
	SourceIPs    []string
	Systems      []string
	Users        []string
	Timestamp    time.Time
	SeverityHint models.Severity
}

// repeatedFailureFloor is the failed-attempt count at which repeated
// failures become a contextual indicator.
const repeatedFailureFloor = 5

// Analyzer normalizes raw security events into typed indicator sets.
type Analyzer struct {
	enricher Enricher
	now      func() time.Time
}

// NewAnalyzer creates an analyzer. The enricher may be nil.
func NewAnalyzer(enricher Enricher) *Analyzer {
	return &Analyzer{
		enricher: enricher,
		now:      time.Now,
	}
}

// Analyze validates and normalizes one event. Unknown indicator strings pass
// through unmodified so new detection content does not require engine
// changes.
func (a *Analyzer) Analyze(ctx context.Context, e *models.SecurityEvent) (*Analysis, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	eventType := normalize(e.EventType)
	if eventType == "" && len(e.Indicators) == 0 {
		return nil, fmt.Errorf("%w: missing both event_type and indicators", ErrInvalidEvent)
	}

	indicators := make([]string, 0, len(e.Indicators)+1)
	seen := make(map[string]struct{}, len(e.Indicators)+1)
	add := func(raw string) {
		v := normalize(raw)
		if v == "" {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		indicators = append(indicators, v)
	}
	for _, ind := range e.Indicators {
		add(ind)
	}
	// The event type itself is a classification signal, and contextual
	// attributes become indicators so they survive correlation merges.
	add(eventType)
	if e.AttrInt("failed_attempts") >= repeatedFailureFloor {
		add("repeated_login_failures")
	}
	if e.AttrBool("unusual_traffic") {
		add("traffic_volume_high")
	}

	if a.enricher != nil {
		extra, err := a.enricher.Enrich(ctx, indicators)
		if err != nil {
			logger.Warnf("Indicator enrichment failed, continuing without: %v", err)
		} else {
			for _, ind := range extra {
				add(ind)
			}
		}
	}

	ts := e.Timestamp
	if ts.IsZero() {
		ts = a.now()
	}

	return &Analysis{
		Indicators:   indicators,
		SourceIPs:    compactStrings(e.SourceIPs),
		Systems:      compactStrings(e.AffectedSystems),
		Users:        compactStrings(e.AffectedUsers),
		Timestamp:    ts,
		SeverityHint: models.ParseSeverity(e.SeverityHint),
	}, nil
}

func normalize(raw string) string {
	v := strings.ToLower(strings.TrimSpace(raw))
	return strings.ReplaceAll(v, " ", "_")
}

func compactStrings(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
