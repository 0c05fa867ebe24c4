package rules

import "responder/pkg/models"

// Engine derives extra indicators from a raw event.
type Engine interface {
	Apply(event *models.SecurityEvent) []string
}

// NoopEngine returns no indicators.
type NoopEngine struct{}

// Apply returns an empty indicator list.
func (n *NoopEngine) Apply(event *models.SecurityEvent) []string {
	return nil
}
