//go:build windows

package tasks

import (
	"context"
	"fmt"

	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"
)

// GetServiceStatuses retrieves status for each service from the Service Control Manager
func (e *Executor) GetServiceStatuses(ctx context.Context, services []string) ([]ServiceStatus, error) {
	m, err := mgr.Connect()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to service manager: %w", err)
	}
	defer m.Disconnect()

	query := func(ctx context.Context, name string) (*ServiceStatus, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return getSCMStatus(m, name)
	}
	return e.collectServiceStatuses(ctx, services, query), nil
}

// getSCMStatus queries the Service Control Manager for one service
func getSCMStatus(m *mgr.Mgr, name string) (*ServiceStatus, error) {
	s, err := m.OpenService(name)
	if err != nil {
		// Service doesn't exist
		return &ServiceStatus{Name: name, Status: ServiceStatusNotInstalled}, nil
	}
	defer s.Close()

	status, err := s.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to query service: %w", err)
	}

	return &ServiceStatus{
		Name:   name,
		Status: mapWindowsServiceState(status.State),
	}, nil
}

// mapWindowsServiceState converts Windows service state to standard status string
func mapWindowsServiceState(state svc.State) string {
	switch state {
	case svc.Running:
		return ServiceStatusRunning
	case svc.Stopped:
		return ServiceStatusStopped
	case svc.StartPending, svc.ContinuePending:
		return ServiceStatusStarting
	case svc.StopPending:
		return ServiceStatusStopping
	case svc.Paused, svc.PausePending:
		// Paused services are not serving
		return ServiceStatusStopped
	default:
		return ServiceStatusUnknown
	}
}
