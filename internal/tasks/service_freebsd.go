//go:build freebsd

package tasks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// GetServiceStatuses retrieves rc.d status for each service
func (e *Executor) GetServiceStatuses(ctx context.Context, services []string) ([]ServiceStatus, error) {
	return e.collectServiceStatuses(ctx, services, getRCStatus), nil
}

// getRCStatus queries rc.d for service status
func getRCStatus(ctx context.Context, name string) (*ServiceStatus, error) {
	cmd := exec.CommandContext(ctx, "service", name, "status")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("service status failed: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}

	return &ServiceStatus{
		Name:   name,
		Status: classifyRCStatus(exitCode, stdout.String(), stderr.String()),
	}, nil
}

// classifyRCStatus maps `service <name> status` results to standard status.
// Exit code 0 = running, 1 = not running.
func classifyRCStatus(exitCode int, stdout, stderr string) string {
	output := strings.ToLower(strings.TrimSpace(stdout))
	errOutput := strings.ToLower(stderr)

	switch {
	case exitCode == 0:
		return ServiceStatusRunning
	case strings.Contains(output, "not running") || strings.Contains(output, "is not enabled"):
		return ServiceStatusStopped
	case strings.Contains(errOutput, "not found") || strings.Contains(output, "not exist") ||
		strings.Contains(errOutput, "does not exist"):
		return ServiceStatusNotInstalled
	default:
		return ServiceStatusUnknown
	}
}
