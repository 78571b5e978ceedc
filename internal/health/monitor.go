package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/invoker/internal/infra/transport"
)

// Pinger checks a backing store.
type Pinger interface {
	Health(ctx context.Context) error
}

// Monitor aggregates health status from the storage backend, the service
// transports and the login cache.
type Monitor struct {
	storage    Pinger
	transports map[string]*transport.Monitor
	loginCache func() int
	interval   time.Duration

	lastCheck  time.Time
	lastReport HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor. loginCache may be nil.
func NewMonitor(storage Pinger, transports map[string]*transport.Monitor, loginCache func() int) *Monitor {
	return &Monitor{
		storage:    storage,
		transports: transports,
		loginCache: loginCache,
		interval:   10 * time.Second,
	}
}

// CheckHealth builds a health report. Results are reused for a short
// interval so probes do not hammer the storage backend.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.lastCheck.IsZero() && time.Since(m.lastCheck) < m.interval {
		return m.lastReport
	}

	report := HealthReport{
		SystemStatus: StatusHealthy,
		Storage:      StatusHealthy,
		Services:     make(map[string]ServiceHealth, len(m.transports)),
	}

	if m.storage != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := m.storage.Health(pingCtx)
		cancel()
		if err != nil {
			report.Storage = StatusCritical
			report.StorageError = err.Error()
		}
	}
	report.SystemStatus = worse(report.SystemStatus, report.Storage)

	if m.loginCache != nil {
		report.LoginCache = m.loginCache()
	}

	for name, mon := range m.transports {
		stats := mon.Stats()
		svc := ServiceHealth{
			Name:           name,
			Status:         StatusHealthy,
			Transport:      stats.Status.String(),
			Requests:       stats.Requests,
			Failures:       stats.Failures,
			AverageLatency: stats.AverageLatency.String(),
		}
		if stats.RetryAfter > 0 {
			svc.RetryAfter = stats.RetryAfter.Round(time.Second).String()
		}

		// Evaluate Status
		switch stats.Status {
		case transport.StatusBlocked:
			svc.Status = StatusCritical
		case transport.StatusThrottled, transport.StatusDegraded:
			svc.Status = StatusDegraded
		}
		if stats.Requests >= 10 && stats.Failures*2 > stats.Requests {
			svc.Status = worse(svc.Status, StatusDegraded)
		}

		report.Services[name] = svc
		report.SystemStatus = worse(report.SystemStatus, svc.Status)
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}
