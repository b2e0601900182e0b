package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// TestNewExecutor tests executor creation
func TestNewExecutor(t *testing.T) {
	executor := NewExecutor(nil)

	if executor == nil {
		t.Fatal("NewExecutor() returned nil")
	}
	if executor.stats == nil {
		t.Fatal("NewExecutor() stats is nil")
	}
	if executor.stats.startTime.IsZero() {
		t.Error("NewExecutor() stats.startTime not initialized")
	}
	if executor.listProcesses == nil {
		t.Error("NewExecutor() listProcesses is nil")
	}
}

// TestRecordIteration tests iteration counters and error tracking
func TestRecordIteration(t *testing.T) {
	executor := NewExecutor(nil)

	executor.RecordIteration(nil)
	executor.RecordIteration(nil)

	metrics := executor.GetAgentMetrics()
	if metrics.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", metrics.Iterations)
	}
	if metrics.IterationFailures != 0 {
		t.Errorf("IterationFailures = %d, want 0", metrics.IterationFailures)
	}
	if metrics.LastIteration == "" {
		t.Error("LastIteration is empty")
	}
	if metrics.LastError != "" {
		t.Errorf("LastError = %q, want empty", metrics.LastError)
	}

	testErr := errors.New("no CPUs reported by the platform")
	executor.RecordIteration(testErr)

	metrics = executor.GetAgentMetrics()
	if metrics.Iterations != 3 {
		t.Errorf("Iterations = %d, want 3 (failures count as iterations)", metrics.Iterations)
	}
	if metrics.IterationFailures != 1 {
		t.Errorf("IterationFailures = %d, want 1", metrics.IterationFailures)
	}
	if metrics.LastError != testErr.Error() {
		t.Errorf("LastError = %q, want %q", metrics.LastError, testErr.Error())
	}
	if _, err := time.Parse(time.RFC3339, metrics.LastErrorTime); err != nil {
		t.Errorf("LastErrorTime parse error: %v", err)
	}
}

// TestRecordDelivery tests delivery counters
func TestRecordDelivery(t *testing.T) {
	executor := NewExecutor(nil)

	executor.RecordDelivery(nil)
	executor.RecordDelivery(errors.New("server returned status 500"))

	metrics := executor.GetAgentMetrics()
	if metrics.Deliveries != 2 {
		t.Errorf("Deliveries = %d, want 2", metrics.Deliveries)
	}
	if metrics.DeliveryFailures != 1 {
		t.Errorf("DeliveryFailures = %d, want 1", metrics.DeliveryFailures)
	}
	if metrics.LastError != "server returned status 500" {
		t.Errorf("LastError = %q", metrics.LastError)
	}
	if metrics.LastDelivery == "" {
		t.Error("LastDelivery is empty")
	}
}

// TestGetAgentMetrics tests metrics retrieval
func TestGetAgentMetrics(t *testing.T) {
	executor := NewExecutor(nil)

	metrics := executor.GetAgentMetrics()

	if metrics.MemoryUsageMB < 0 {
		t.Errorf("MemoryUsageMB = %f, should be non-negative", metrics.MemoryUsageMB)
	}
	if metrics.Goroutines <= 0 {
		t.Errorf("Goroutines = %d, should be positive", metrics.Goroutines)
	}
	if metrics.UptimeSeconds < 0 {
		t.Errorf("UptimeSeconds = %d, should be non-negative", metrics.UptimeSeconds)
	}

	// Initial counters should be zero and timestamps absent
	if metrics.Iterations != 0 || metrics.Deliveries != 0 || metrics.Verifications != 0 {
		t.Errorf("Initial counters not zero: %+v", metrics)
	}
	if metrics.LastIteration != "" || metrics.LastDelivery != "" || metrics.LastVerification != "" {
		t.Errorf("Initial timestamps not empty: %+v", metrics)
	}
	if metrics.LastErrorTime != "" {
		t.Errorf("Initial LastErrorTime = %q, want empty", metrics.LastErrorTime)
	}
}

// TestUptimeCalculation tests that uptime increases over time
func TestUptimeCalculation(t *testing.T) {
	executor := NewExecutor(nil)

	uptime1 := executor.GetAgentMetrics().UptimeSeconds
	time.Sleep(100 * time.Millisecond)
	uptime2 := executor.GetAgentMetrics().UptimeSeconds

	if uptime2 < uptime1 {
		t.Errorf("Uptime decreased from %d to %d", uptime1, uptime2)
	}
}

// TestConcurrentRecording tests thread-safety of stat recording
func TestConcurrentRecording(t *testing.T) {
	executor := NewExecutor(nil)

	numGoroutines := 10
	operationsPerGoroutine := 100

	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < operationsPerGoroutine; j++ {
				if j%2 == 0 {
					executor.RecordDelivery(nil)
				} else {
					executor.RecordDelivery(errors.New("test error"))
				}
				executor.RecordIteration(nil)
			}
		}()
	}
	wg.Wait()

	metrics := executor.GetAgentMetrics()
	expectedTotal := int64(numGoroutines * operationsPerGoroutine)
	expectedErrors := int64(numGoroutines * (operationsPerGoroutine / 2))

	if metrics.Deliveries != expectedTotal {
		t.Errorf("Deliveries = %d, want %d", metrics.Deliveries, expectedTotal)
	}
	if metrics.DeliveryFailures != expectedErrors {
		t.Errorf("DeliveryFailures = %d, want %d", metrics.DeliveryFailures, expectedErrors)
	}
	if metrics.Iterations != expectedTotal {
		t.Errorf("Iterations = %d, want %d", metrics.Iterations, expectedTotal)
	}
}

// TestGetTaskStatuses tests exact-name process matching
func TestGetTaskStatuses(t *testing.T) {
	executor := NewExecutor(nil)
	executor.listProcesses = func(ctx context.Context) ([]string, error) {
		return []string{"nginx", "nginx", "postgres", "backup.sh"}, nil
	}

	statuses, err := executor.GetTaskStatuses(context.Background(), []string{"nginx", "backup", "postgres"})
	if err != nil {
		t.Fatalf("GetTaskStatuses() error = %v", err)
	}

	want := []TaskStatus{
		{Name: "nginx", Status: ServiceStatusRunning, Count: 2},
		{Name: "backup", Status: ServiceStatusStopped, Count: 0},
		{Name: "postgres", Status: ServiceStatusRunning, Count: 1},
	}
	if len(statuses) != len(want) {
		t.Fatalf("got %d statuses, want %d", len(statuses), len(want))
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("statuses[%d] = %+v, want %+v", i, statuses[i], want[i])
		}
	}
}

// TestVerify tests report assembly from ledger lists
func TestVerify(t *testing.T) {
	executor := NewExecutor(nil)
	executor.listProcesses = func(ctx context.Context) ([]string, error) {
		return []string{"worker"}, nil
	}

	report, err := executor.Verify(context.Background(), "agent-1", nil, []string{"worker", "missing"})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	if report.AgentID != "agent-1" {
		t.Errorf("AgentID = %q", report.AgentID)
	}
	if report.Services == nil || len(report.Services) != 0 {
		t.Errorf("Services = %v, want empty non-nil slice", report.Services)
	}
	if len(report.Tasks) != 2 {
		t.Fatalf("Tasks = %v, want 2 entries", report.Tasks)
	}
	if report.Healthy() {
		t.Error("Healthy() = true with a stopped task")
	}
	if executor.GetAgentMetrics().Verifications != 1 {
		t.Error("verification was not recorded")
	}
}

// TestVerifyProcessListFailure tests that process enumeration errors are returned
func TestVerifyProcessListFailure(t *testing.T) {
	executor := NewExecutor(nil)
	executor.listProcesses = func(ctx context.Context) ([]string, error) {
		return nil, errors.New("permission denied")
	}

	if _, err := executor.Verify(context.Background(), "agent-1", nil, []string{"worker"}); err == nil {
		t.Error("Verify() error = nil, want error")
	}
}
