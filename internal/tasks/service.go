package tasks

import (
	"context"

	"go.uber.org/zap"
)

// ServiceStatus represents the status of a system service
// This structure is shared across all platforms (Windows, Linux, FreeBSD)
type ServiceStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"` // One of the ServiceStatus* constants below
}

// Service status constants - platform-agnostic
// All platform-specific implementations map their native statuses to these constants
const (
	// ServiceStatusRunning indicates the service is currently running
	ServiceStatusRunning = "Running"

	// ServiceStatusStopped indicates the service is stopped
	ServiceStatusStopped = "Stopped"

	// ServiceStatusStarting indicates the service is in the process of starting
	ServiceStatusStarting = "Starting"

	// ServiceStatusStopping indicates the service is in the process of stopping
	ServiceStatusStopping = "Stopping"

	// ServiceStatusError indicates the service is in an error state (e.g., failed to start)
	ServiceStatusError = "Error"

	// ServiceStatusUnknown indicates the service status could not be determined
	ServiceStatusUnknown = "Unknown"

	// ServiceStatusNotInstalled indicates the service is not installed on the system
	ServiceStatusNotInstalled = "NotInstalled"
)

// serviceQuery returns the status of one service on the current platform
type serviceQuery func(ctx context.Context, name string) (*ServiceStatus, error)

// collectServiceStatuses queries every service, mapping query failures to ServiceStatusError
func (e *Executor) collectServiceStatuses(ctx context.Context, services []string, query serviceQuery) []ServiceStatus {
	statuses := make([]ServiceStatus, 0, len(services))

	for _, name := range services {
		status, err := query(ctx, name)
		if err != nil {
			e.logger.Warn("Failed to get service status",
				zap.String("service", name),
				zap.Error(err))
			statuses = append(statuses, ServiceStatus{
				Name:   name,
				Status: ServiceStatusError,
			})
			continue
		}
		statuses = append(statuses, *status)
	}

	return statuses
}

// Platform-specific implementations:
// - Windows: internal/tasks/service_windows.go
// - Linux:   internal/tasks/service_linux.go
// - FreeBSD: internal/tasks/service_freebsd.go
// - Stub:    internal/tasks/service_stub.go (for unsupported platforms)
