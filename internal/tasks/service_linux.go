//go:build linux

package tasks

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// GetServiceStatuses retrieves systemd status for each service
func (e *Executor) GetServiceStatuses(ctx context.Context, services []string) ([]ServiceStatus, error) {
	if _, err := exec.LookPath("systemctl"); err != nil {
		return nil, fmt.Errorf("systemctl not available: %w", err)
	}
	return e.collectServiceStatuses(ctx, services, getSystemdStatus), nil
}

// getSystemdStatus queries systemd for service status
func getSystemdStatus(ctx context.Context, name string) (*ServiceStatus, error) {
	// Use systemctl show for machine-readable output
	cmd := exec.CommandContext(ctx, "systemctl", "show", name, "--property=ActiveState,SubState,LoadState")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if strings.Contains(stderr.String(), "not loaded") ||
			strings.Contains(stderr.String(), "not found") {
			return &ServiceStatus{Name: name, Status: ServiceStatusNotInstalled}, nil
		}
		return nil, fmt.Errorf("systemctl show failed: %w: %s", err, stderr.String())
	}

	activeState, subState, loadState := parseSystemdShow(stdout.String())
	if loadState == "not-found" {
		return &ServiceStatus{Name: name, Status: ServiceStatusNotInstalled}, nil
	}

	return &ServiceStatus{
		Name:   name,
		Status: mapSystemdState(activeState, subState),
	}, nil
}

// parseSystemdShow extracts the state properties from `systemctl show` output
func parseSystemdShow(output string) (activeState, subState, loadState string) {
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ActiveState":
			activeState = strings.TrimSpace(value)
		case "SubState":
			subState = strings.TrimSpace(value)
		case "LoadState":
			loadState = strings.TrimSpace(value)
		}
	}
	return activeState, subState, loadState
}

// mapSystemdState converts systemd ActiveState to standard status
func mapSystemdState(activeState, subState string) string {
	switch activeState {
	case "active":
		// Other active substates (e.g., exited) still count as running
		return ServiceStatusRunning
	case "reloading":
		return ServiceStatusRunning
	case "inactive":
		return ServiceStatusStopped
	case "activating":
		return ServiceStatusStarting
	case "deactivating":
		return ServiceStatusStopping
	case "failed":
		return ServiceStatusError
	default:
		return ServiceStatusUnknown
	}
}
