// Package channel implements notification channels that deliver alerts to
// external systems. Implementations must be safe for concurrent use.
package channel

import (
	"context"

	"github.com/yapay-ai/usage-sentinel/pkg/model"
)

// Channel delivers finalized alerts to one destination.
type Channel interface {
	// Name returns the channel identifier.
	Name() string

	// Deliver sends one alert. It must respect ctx cancellation and
	// deadlines; the dispatcher bounds every attempt.
	Deliver(ctx context.Context, alert model.Alert) error

	// HealthCheck reports whether the channel is currently able to deliver.
	HealthCheck(ctx context.Context) bool
}

func severityColor(s model.Severity) string {
	switch s {
	case model.SeverityWarning:
		return "#ff9900" // orange
	case model.SeverityCritical:
		return "#ff0000" // red
	default:
		return "#36a64f" // green
	}
}
