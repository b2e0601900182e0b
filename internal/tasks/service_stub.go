//go:build !windows && !linux && !freebsd

package tasks

import (
	"context"
	"fmt"
)

// GetServiceStatuses is a stub for unsupported platforms
func (e *Executor) GetServiceStatuses(ctx context.Context, services []string) ([]ServiceStatus, error) {
	return nil, fmt.Errorf("service status not supported on this platform")
}
