package tool

import "time"

// HealthStatus classifies the outcome of a liveness probe.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
)

// Health is a cached probe result.
type Health struct {
	Status    HealthStatus
	CheckedAt time.Time
	Reason    string
}

// Healthy reports whether the probe passed.
func (h Health) Healthy() bool { return h.Status == HealthHealthy }
