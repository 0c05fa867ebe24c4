package models

import (
	"fmt"
	"time"
)

// SecurityEvent is a raw event reported by a monitoring source. Events are
// ephemeral input: they are consumed by the engine and never stored on their
// own.
type SecurityEvent struct {
	Timestamp       time.Time              `json:"@timestamp"`
	EventType       string                 `json:"event_type"`
	SourceIPs       []string               `json:"source_ips,omitempty"`
	AffectedSystems []string               `json:"affected_systems,omitempty"`
	AffectedUsers   []string               `json:"affected_users,omitempty"`
	Indicators      []string               `json:"indicators,omitempty"`
	SeverityHint    string                 `json:"severity,omitempty"`
	Attributes      map[string]interface{} `json:"attributes,omitempty"`

	Raw map[string]interface{} `json:"-"`
}

// Attr returns an attribute value as a string.
func (e *SecurityEvent) Attr(name string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	if v, ok := e.Attributes[name]; ok {
		switch val := v.(type) {
		case string:
			return val
		case fmt.Stringer:
			return val.String()
		case int:
			return fmt.Sprintf("%d", val)
		case int64:
			return fmt.Sprintf("%d", val)
		case float64:
			if val == float64(int64(val)) {
				return fmt.Sprintf("%d", int64(val))
			}
			return fmt.Sprintf("%f", val)
		case bool:
			if val {
				return "true"
			}
			return "false"
		default:
			return fmt.Sprintf("%v", val)
		}
	}
	return ""
}

// AttrInt returns an attribute value as an int, or zero when the attribute is
// missing or not numeric.
func (e *SecurityEvent) AttrInt(name string) int {
	if e == nil || e.Attributes == nil {
		return 0
	}
	switch val := e.Attributes[name].(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		return int(val)
	}
	return 0
}

// AttrBool reports whether an attribute is set to a truthy value.
func (e *SecurityEvent) AttrBool(name string) bool {
	if e == nil || e.Attributes == nil {
		return false
	}
	switch val := e.Attributes[name].(type) {
	case bool:
		return val
	case string:
		return val == "true" || val == "yes" || val == "1"
	case int:
		return val != 0
	case float64:
		return val != 0
	}
	return false
}
