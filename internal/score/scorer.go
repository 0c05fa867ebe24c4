package score

import (
	"math"

	"responder/pkg/models"
)

// Context carries the signals that boost a score beyond its severity
// baseline.
type Context struct {
	RepeatedFailures bool
	UnusualTraffic   bool
}

// ContextFrom derives the context flags from an incident's accumulated
// indicator set, so rescoring after a merge depends only on stored state.
func ContextFrom(indicators []string) Context {
	var ctx Context
	for _, ind := range indicators {
		switch ind {
		case "repeated_login_failures":
			ctx.RepeatedFailures = true
		case "traffic_volume_high":
			ctx.UnusualTraffic = true
		}
	}
	return ctx
}

// Input is everything the scorer looks at. Identical inputs always produce
// identical outputs; rescoring after a correlation merge is idempotent.
type Input struct {
	Severity models.Severity
	Systems  int
	Users    int
	Context  Context
}

// ThreatLevel computes the [0,10] threat score: a dominant severity weight,
// an affected-asset contribution, and a contextual boost capped at +1.5.
func ThreatLevel(in Input) float64 {
	base := severityWeight(in.Severity)

	assets := 0.2 * math.Min(float64(in.Systems), 5)
	assets += 0.1 * math.Min(float64(in.Users), 5)

	boost := 0.0
	if in.Context.RepeatedFailures {
		boost += 0.75
	}
	if in.Context.UnusualTraffic {
		boost += 0.75
	}
	if boost > 1.5 {
		boost = 1.5
	}

	level := base + assets + boost
	if level > 10 {
		level = 10
	}
	if level < 0 {
		level = 0
	}
	// Two decimals keeps archived scores stable across platforms.
	return math.Round(level*100) / 100
}

// Priority derives the queue rank from a threat level. Lower is more
// urgent.
func Priority(threatLevel float64) int {
	switch {
	case threatLevel >= 9:
		return 1
	case threatLevel >= 7:
		return 2
	case threatLevel >= 5:
		return 3
	case threatLevel >= 2.5:
		return 4
	default:
		return 5
	}
}

// Score computes both outputs in one call.
func Score(in Input) (float64, int) {
	level := ThreatLevel(in)
	return level, Priority(level)
}

func severityWeight(s models.Severity) float64 {
	switch s {
	case models.SeverityCritical:
		return 10
	case models.SeverityHigh:
		return 7.5
	case models.SeverityMedium:
		return 5
	case models.SeverityLow:
		return 2.5
	}
	return 2.5
}
