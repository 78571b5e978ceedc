// Package health provides system health monitoring and status reporting.
package health

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ServiceHealth contains health metrics for one backend service.
type ServiceHealth struct {
	Name           string       `json:"name"`
	Status         SystemStatus `json:"status"`
	Transport      string       `json:"transport"`
	Requests       int          `json:"requests"`
	Failures       int          `json:"failures"`
	AverageLatency string       `json:"average_latency"`
	RetryAfter     string       `json:"retry_after,omitempty"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus             `json:"system_status"`
	Storage      SystemStatus             `json:"storage"`
	StorageError string                   `json:"storage_error,omitempty"`
	LoginCache   int                      `json:"login_cache_entries"`
	Services     map[string]ServiceHealth `json:"services"`
}

// worse returns the more severe of two statuses.
func worse(a, b SystemStatus) SystemStatus {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
