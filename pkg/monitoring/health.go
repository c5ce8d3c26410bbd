package monitoring

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/twmb/franz-go/pkg/kgo"
)

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Timestamp int64                  `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const checkTimeout = 5 * time.Second

// CheckResult represents the result of an individual health check
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthCheck is a function that performs a health check
type HealthCheck func() CheckResult

// HealthChecker manages and executes health checks
type HealthChecker struct {
	service string
	version string

	mu     sync.RWMutex
	checks map[string]HealthCheck
}

func NewHealthChecker(service, version string) *HealthChecker {
	return &HealthChecker{
		service: service,
		version: version,
		checks:  make(map[string]HealthCheck),
	}
}

func (hc *HealthChecker) AddCheck(name string, check HealthCheck) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
}

// CheckHealth runs all checks. Any unhealthy check makes the service
// unhealthy; otherwise any degraded check degrades it.
func (hc *HealthChecker) CheckHealth() HealthStatus {
	hc.mu.RLock()
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	checks := make(map[string]HealthCheck, len(hc.checks))
	for name, check := range hc.checks {
		checks[name] = check
	}
	hc.mu.RUnlock()
	sort.Strings(names)

	status := HealthStatus{
		Service:   hc.service,
		Version:   hc.version,
		Timestamp: time.Now().Unix(),
		Checks:    make(map[string]CheckResult, len(names)),
	}

	anyUnhealthy, anyDegraded := false, false
	for _, name := range names {
		result := checks[name]()
		status.Checks[name] = result
		switch result.Status {
		case StatusHealthy:
		case StatusDegraded:
			anyDegraded = true
		default:
			anyUnhealthy = true
		}
	}

	switch {
	case anyUnhealthy:
		status.Status = StatusUnhealthy
	case anyDegraded:
		status.Status = StatusDegraded
	default:
		status.Status = StatusHealthy
	}
	return status
}

func (hc *HealthChecker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		health := hc.CheckHealth()
		statusCode := http.StatusOK
		if health.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, health)
	}
}

// Pinger is satisfied by anything with a context-aware liveness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingHealthCheck reports the named dependency healthy when Ping succeeds.
// A failing optional dependency degrades rather than fails the service.
func PingHealthCheck(name string, p Pinger, optional bool) HealthCheck {
	failStatus := StatusUnhealthy
	if optional {
		failStatus = StatusDegraded
	}
	return func() CheckResult {
		start := time.Now()
		if p == nil {
			return CheckResult{Status: failStatus, Message: name + " not configured"}
		}
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			return CheckResult{
				Status:  failStatus,
				Message: fmt.Sprintf("%s ping failed: %v", name, err),
				Latency: time.Since(start).String(),
			}
		}
		return CheckResult{
			Status:  StatusHealthy,
			Message: name + " reachable",
			Latency: time.Since(start).String(),
		}
	}
}

type sqlPinger struct{ db *sql.DB }

func (p sqlPinger) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// DatabaseHealthCheck checks Postgres connectivity.
func DatabaseHealthCheck(db *sql.DB) HealthCheck {
	if db == nil {
		return PingHealthCheck("database", nil, false)
	}
	return PingHealthCheck("database", sqlPinger{db: db}, false)
}

// KafkaProducerHealthCheck checks broker connectivity for the event producer.
// Events are best effort so a broken broker only degrades the service.
func KafkaProducerHealthCheck(client *kgo.Client) HealthCheck {
	if client == nil {
		return PingHealthCheck("kafka", nil, true)
	}
	return PingHealthCheck("kafka", client, true)
}

// ConfigurationHealthCheck fails when any required value is empty.
func ConfigurationHealthCheck(configs map[string]string) HealthCheck {
	return func() CheckResult {
		var missing []string
		for key, value := range configs {
			if value == "" {
				missing = append(missing, key)
			}
		}
		sort.Strings(missing)
		if len(missing) > 0 {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("Missing required configuration: %v", missing),
			}
		}
		return CheckResult{Status: StatusHealthy, Message: "All required configuration present"}
	}
}
