// health.go - Health monitoring for the ledger daemon
package main

import (
	"context"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents the health of a specific component
type ComponentHealth struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency,omitempty"`
}

// SystemHealth represents the overall system health
type SystemHealth struct {
	OverallStatus HealthStatus      `json:"overall_status"`
	Timestamp     time.Time         `json:"timestamp"`
	Components    []ComponentHealth `json:"components"`
	Uptime        time.Duration     `json:"uptime"`
	Version       string            `json:"version"`
}

// CheckFunc checks one component.
type CheckFunc func(ctx context.Context) error

// HealthChecker manages health checks for the daemon
type HealthChecker struct {
	mu         sync.Mutex
	components map[string]*ComponentHealth
	startTime  time.Time
	version    string
	checkers   map[string]CheckFunc
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		components: make(map[string]*ComponentHealth),
		startTime:  time.Now(),
		version:    version,
		checkers:   make(map[string]CheckFunc),
	}
}

// RegisterComponent registers a health check for a component. A nil checker leaves the
// component's status to UpdateComponent.
func (hc *HealthChecker) RegisterComponent(name string, checker CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.components[name] = &ComponentHealth{
		Name:      name,
		Status:    Healthy,
		Message:   "Component registered",
		LastCheck: time.Now(),
	}
	if checker != nil {
		hc.checkers[name] = checker
	}
}

// UpdateComponent updates the health status of a component
func (hc *HealthChecker) UpdateComponent(name string, status HealthStatus, message string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if component, exists := hc.components[name]; exists {
		component.Status = status
		component.Message = message
		component.LastCheck = time.Now()
	}
}

// CheckHealth runs every registered checker and returns the aggregate.
func (hc *HealthChecker) CheckHealth(ctx context.Context) *SystemHealth {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	for name, component := range hc.components {
		checker, exists := hc.checkers[name]
		if !exists {
			continue
		}
		start := time.Now()
		err := checker(ctx)
		component.Latency = time.Since(start)
		component.LastCheck = time.Now()
		if err != nil {
			component.Status = Unhealthy
			component.Message = err.Error()
		} else {
			component.Status = Healthy
			component.Message = "OK"
		}
	}
	return hc.snapshot()
}

// GetHealth returns the last recorded status without running checks.
func (hc *HealthChecker) GetHealth() *SystemHealth {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.snapshot()
}

func (hc *HealthChecker) snapshot() *SystemHealth {
	overallStatus := Healthy
	components := make([]ComponentHealth, 0, len(hc.components))
	for _, component := range hc.components {
		if component.Status == Unhealthy {
			overallStatus = Unhealthy
		} else if component.Status == Degraded && overallStatus == Healthy {
			overallStatus = Degraded
		}
		components = append(components, *component)
	}
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	return &SystemHealth{
		OverallStatus: overallStatus,
		Timestamp:     time.Now().UTC(),
		Components:    components,
		Uptime:        time.Since(hc.startTime),
		Version:       hc.version,
	}
}

// HealthCheckResponse represents the response format for health check endpoints
type HealthCheckResponse struct {
	Status  string        `json:"status"`
	Message string        `json:"message"`
	Data    *SystemHealth `json:"data,omitempty"`
}

// CreateHealthResponse creates a standardized health check response
func CreateHealthResponse(health *SystemHealth) *HealthCheckResponse {
	status := "success"
	message := "System is healthy"

	if health.OverallStatus == Unhealthy {
		status = "error"
		message = "System is unhealthy"
	} else if health.OverallStatus == Degraded {
		status = "warning"
		message = "System is degraded"
	}

	return &HealthCheckResponse{
		Status:  status,
		Message: message,
		Data:    health,
	}
}

// Handle adapts the checker to the API's /healthz hook. Degraded still serves 200.
func (hc *HealthChecker) Handle(ctx context.Context) (bool, any) {
	health := hc.CheckHealth(ctx)
	return health.OverallStatus != Unhealthy, CreateHealthResponse(health)
}
