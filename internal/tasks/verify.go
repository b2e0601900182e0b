package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// TaskStatus is the verification result for one task-to-verify entry
type TaskStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"` // ServiceStatusRunning or ServiceStatusStopped
	Count  int    `json:"count"`  // Matching processes
}

// VerificationReport is the result of checking every ledger entry
type VerificationReport struct {
	AgentID   string          `json:"agent_id"`
	Timestamp string          `json:"timestamp"`
	Services  []ServiceStatus `json:"services"`
	Tasks     []TaskStatus    `json:"tasks"`
}

// Healthy reports whether every service and task is running
func (r *VerificationReport) Healthy() bool {
	for _, s := range r.Services {
		if s.Status != ServiceStatusRunning {
			return false
		}
	}
	for _, t := range r.Tasks {
		if t.Status != ServiceStatusRunning {
			return false
		}
	}
	return true
}

// Verify checks the given services and tasks and records the run
func (e *Executor) Verify(ctx context.Context, agentID string, services, tasks []string) (*VerificationReport, error) {
	report := &VerificationReport{
		AgentID:   agentID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  []ServiceStatus{},
		Tasks:     []TaskStatus{},
	}

	if len(services) > 0 {
		statuses, err := e.GetServiceStatuses(ctx, services)
		if err != nil {
			e.logger.Warn("Service verification unavailable", zap.Error(err))
			for _, name := range services {
				report.Services = append(report.Services, ServiceStatus{Name: name, Status: ServiceStatusUnknown})
			}
		} else {
			report.Services = statuses
		}
	}

	if len(tasks) > 0 {
		statuses, err := e.GetTaskStatuses(ctx, tasks)
		if err != nil {
			return nil, err
		}
		report.Tasks = statuses
	}

	e.RecordVerification()
	return report, nil
}

// GetTaskStatuses reports a task as running when at least one process has exactly its name
func (e *Executor) GetTaskStatuses(ctx context.Context, tasks []string) ([]TaskStatus, error) {
	names, err := e.listProcesses(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	counts := make(map[string]int, len(names))
	for _, name := range names {
		counts[name]++
	}

	statuses := make([]TaskStatus, 0, len(tasks))
	for _, task := range tasks {
		status := TaskStatus{Name: task, Status: ServiceStatusStopped, Count: counts[task]}
		if status.Count > 0 {
			status.Status = ServiceStatusRunning
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// processNames lists the names of all running processes
func processNames(ctx context.Context) ([]string, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}
