package tasks

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestBuiltinCollector_Collect tests the builtin collector against the running host
func TestBuiltinCollector_Collect(t *testing.T) {
	logger := zap.NewNop()
	collector := NewBuiltinCollector(logger)

	ctx := context.Background()

	// First collection - establishes baseline
	snapshot1, err := collector.Collect(ctx)
	if err != nil {
		t.Fatalf("First collect failed: %v", err)
	}

	if snapshot1.CPU.Count <= 0 {
		t.Errorf("CPU.Count = %d, expected > 0", snapshot1.CPU.Count)
	}
	for i, usage := range snapshot1.CPU.Usage {
		if usage != 0 {
			t.Logf("Note: core %d on first scrape = %.2f (expected 0 for baseline)", i, usage)
		}
	}

	if snapshot1.Memory.TotalMemory == 0 {
		t.Error("TotalMemory = 0, expected > 0")
	}
	if snapshot1.CollectedAt.IsZero() {
		t.Error("CollectedAt not set")
	}
	if snapshot1.Processes == nil {
		t.Error("Processes map is nil")
	}

	// Wait a bit for CPU delta
	time.Sleep(100 * time.Millisecond)

	snapshot2, err := collector.Collect(ctx)
	if err != nil {
		t.Fatalf("Second collect failed: %v", err)
	}
	if err := ValidateSnapshot(snapshot2); err != nil {
		t.Errorf("ValidateSnapshot() = %v", err)
	}
}

// TestBuiltinCollector_Name tests the collector name
func TestBuiltinCollector_Name(t *testing.T) {
	collector := NewBuiltinCollector(zap.NewNop())

	if name := collector.Name(); !strings.Contains(name, "builtin") {
		t.Errorf("Name() = %s, expected to contain 'builtin'", name)
	}
}

// TestBuiltinCollector_ResetCache tests cache reset
func TestBuiltinCollector_ResetCache(t *testing.T) {
	collector := NewBuiltinCollector(zap.NewNop())

	_, err := collector.Collect(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, collector.lastCPUTimes)

	collector.ResetCache()

	assert.Empty(t, collector.lastCPUTimes)
	assert.True(t, collector.lastTimestamp.IsZero())
}

const nodeExporterFixture = `# HELP node_cpu_seconds_total Seconds the CPUs spent in each mode.
# TYPE node_cpu_seconds_total counter
node_cpu_seconds_total{cpu="0",mode="idle"} %IDLE0%
node_cpu_seconds_total{cpu="0",mode="user"} %USER0%
node_cpu_seconds_total{cpu="1",mode="idle"} %IDLE1%
node_cpu_seconds_total{cpu="1",mode="user"} %USER1%
# HELP node_cpu_info CPU information from /proc/cpuinfo.
# TYPE node_cpu_info gauge
node_cpu_info{cpu="0",model_name="Test CPU @ 3.00GHz"} 1
node_cpu_info{cpu="1",model_name="Test CPU @ 3.00GHz"} 1
# TYPE node_memory_MemTotal_bytes gauge
node_memory_MemTotal_bytes 8.0e+09
# TYPE node_memory_MemAvailable_bytes gauge
node_memory_MemAvailable_bytes 6.0e+09
# TYPE node_memory_SwapTotal_bytes gauge
node_memory_SwapTotal_bytes 2.0e+09
# TYPE node_memory_SwapFree_bytes gauge
node_memory_SwapFree_bytes 1.5e+09
# TYPE node_uname_info gauge
node_uname_info{domainname="(none)",machine="x86_64",nodename="web-01",release="6.1.0-18-amd64",sysname="Linux",version="#1 SMP Debian 6.1.76-1"} 1
# TYPE node_boot_time_seconds gauge
node_boot_time_seconds 1.7e+09
# TYPE node_filesystem_size_bytes gauge
node_filesystem_size_bytes{device="/dev/sda1",fstype="ext4",mountpoint="/"} 1.0e+11
node_filesystem_size_bytes{device="tmpfs",fstype="tmpfs",mountpoint="/run"} 1.0e+08
node_filesystem_size_bytes{device="/dev/sdb1",fstype="xfs",mountpoint="/data"} 5.0e+11
# TYPE node_filesystem_avail_bytes gauge
node_filesystem_avail_bytes{device="/dev/sda1",fstype="ext4",mountpoint="/"} 4.0e+10
node_filesystem_avail_bytes{device="tmpfs",fstype="tmpfs",mountpoint="/run"} 1.0e+08
node_filesystem_avail_bytes{device="/dev/sdb1",fstype="xfs",mountpoint="/data"} 2.5e+11
# TYPE node_network_receive_bytes_total counter
node_network_receive_bytes_total{device="eth0"} 1000
node_network_receive_bytes_total{device="lo"} 50
# TYPE node_network_transmit_bytes_total counter
node_network_transmit_bytes_total{device="eth0"} 2000
node_network_transmit_bytes_total{device="lo"} 50
# TYPE node_network_receive_errs_total counter
node_network_receive_errs_total{device="eth0"} 3
# TYPE node_network_info gauge
node_network_info{address="aa:bb:cc:dd:ee:ff",device="eth0",operstate="up"} 1
# TYPE node_hwmon_temp_celsius gauge
node_hwmon_temp_celsius{chip="platform_coretemp_0",sensor="temp1"} 45
# TYPE node_hwmon_temp_crit_celsius gauge
node_hwmon_temp_crit_celsius{chip="platform_coretemp_0",sensor="temp1"} 100
`

// fixtureServer serves the node_exporter fixture with the given CPU counters
func fixtureServer(t *testing.T, counters *map[string]string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := nodeExporterFixture
		for k, v := range *counters {
			body = strings.ReplaceAll(body, k, v)
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

// TestExporterCollector_NodeExporterFixture maps a fixed node_exporter scrape to a snapshot
func TestExporterCollector_NodeExporterFixture(t *testing.T) {
	counters := map[string]string{"%IDLE0%": "100", "%USER0%": "100", "%IDLE1%": "100", "%USER1%": "100"}
	server := fixtureServer(t, &counters)

	collector := NewExporterCollector(server.URL, zap.NewNop(), server.Client())
	collector.names = nodeExporterNames

	snapshot, err := collector.Collect(context.Background())
	require.NoError(t, err)

	// First scrape: baseline only
	assert.Equal(t, 2, snapshot.CPU.Count)
	assert.Equal(t, []float64{0, 0}, snapshot.CPU.Usage)
	assert.Equal(t, "Test CPU @ 3.00GHz", snapshot.CPU.Brand)

	assert.Equal(t, uint64(8e9), snapshot.Memory.TotalMemory)
	assert.Equal(t, uint64(2e9), snapshot.Memory.UsedMemory)
	assert.Equal(t, uint64(2e9), snapshot.Memory.TotalSwap)
	assert.Equal(t, uint64(5e8), snapshot.Memory.UsedSwap)

	require.NotNil(t, snapshot.System.Name)
	assert.Equal(t, "Linux", *snapshot.System.Name)
	require.NotNil(t, snapshot.System.KernelVersion)
	assert.Equal(t, "6.1.0-18-amd64", *snapshot.System.KernelVersion)
	require.NotNil(t, snapshot.System.HostName)
	assert.Equal(t, "web-01", *snapshot.System.HostName)
	require.NotNil(t, snapshot.System.BootTime)
	assert.Equal(t, uint64(1.7e9), *snapshot.System.BootTime)

	// tmpfs is skipped, remaining disks ordered by mount point
	require.Len(t, snapshot.Disks, 2)
	assert.Equal(t, Disk{FileSystem: "ext4", MountPoint: "/", TotalSpace: 1e11, AvailableSpace: 4e10}, snapshot.Disks[0])
	assert.Equal(t, "/data", snapshot.Disks[1].MountPoint)

	require.Len(t, snapshot.Networks, 2)
	assert.Equal(t, "eth0", snapshot.Networks[0].Name)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", snapshot.Networks[0].MAC)
	assert.Equal(t, uint64(1000), snapshot.Networks[0].BytesRecv)
	assert.Equal(t, uint64(2000), snapshot.Networks[0].BytesSent)
	assert.Equal(t, uint64(3), snapshot.Networks[0].ErrorsIn)
	assert.Equal(t, "lo", snapshot.Networks[1].Name)

	require.Len(t, snapshot.Components, 1)
	assert.Equal(t, "platform_coretemp_0_temp1", snapshot.Components[0].Label)
	assert.Equal(t, 45.0, snapshot.Components[0].Temperature)
	assert.Nil(t, snapshot.Components[0].High)
	require.NotNil(t, snapshot.Components[0].Critical)
	assert.Equal(t, 100.0, *snapshot.Components[0].Critical)

	assert.Empty(t, snapshot.Processes)
	assert.NoError(t, ValidateSnapshot(snapshot))

	// Second scrape: core 0 spent 75 of 100 seconds busy, core 1 stayed idle
	counters = map[string]string{"%IDLE0%": "125", "%USER0%": "175", "%IDLE1%": "200", "%USER1%": "100"}
	snapshot, err = collector.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{75, 0}, snapshot.CPU.Usage)
}

// TestCacheMaxAge tests that the baseline lifetime follows the sampling interval
func TestCacheMaxAge(t *testing.T) {
	tests := []struct {
		interval time.Duration
		want     time.Duration
	}{
		{0, 10 * time.Minute},
		{time.Minute, 10 * time.Minute},
		{5 * time.Minute, 10 * time.Minute},
		{15 * time.Minute, 30 * time.Minute},
		{time.Hour, 2 * time.Hour},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CacheMaxAge(tt.interval), "interval %v", tt.interval)
	}
}

// TestExporterCollector_LongInterval tests that samples taken 15 minutes apart
// still report CPU usage when the collector runs on a 15 minute interval
func TestExporterCollector_LongInterval(t *testing.T) {
	counters := map[string]string{"%IDLE0%": "100", "%USER0%": "100", "%IDLE1%": "100", "%USER1%": "100"}
	server := fixtureServer(t, &counters)

	mc, err := NewMetricsCollector("exporter", server.URL, 15*time.Minute, zap.NewNop(), server.Client())
	require.NoError(t, err)
	collector := mc.(*ExporterCollector)
	collector.names = nodeExporterNames

	_, err = collector.Collect(context.Background())
	require.NoError(t, err)

	collector.mu.Lock()
	collector.lastTimestamp = time.Now().Add(-15 * time.Minute)
	collector.mu.Unlock()

	counters = map[string]string{"%IDLE0%": "125", "%USER0%": "175", "%IDLE1%": "200", "%USER1%": "100"}
	snapshot, err := collector.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{75, 0}, snapshot.CPU.Usage)
}

// TestExporterCollector_StaleBaseline tests that a baseline older than the
// cache age is discarded
func TestExporterCollector_StaleBaseline(t *testing.T) {
	counters := map[string]string{"%IDLE0%": "100", "%USER0%": "100", "%IDLE1%": "100", "%USER1%": "100"}
	server := fixtureServer(t, &counters)

	mc, err := NewMetricsCollector("exporter", server.URL, time.Minute, zap.NewNop(), server.Client())
	require.NoError(t, err)
	collector := mc.(*ExporterCollector)
	collector.names = nodeExporterNames

	_, err = collector.Collect(context.Background())
	require.NoError(t, err)

	collector.mu.Lock()
	collector.lastTimestamp = time.Now().Add(-15 * time.Minute)
	collector.mu.Unlock()

	counters = map[string]string{"%IDLE0%": "125", "%USER0%": "175", "%IDLE1%": "200", "%USER1%": "100"}
	snapshot, err := collector.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, snapshot.CPU.Usage)
}

// TestBuiltinCollector_LongIntervalKeepsBaseline tests that the builtin
// collector keeps its CPU baseline across a gap shorter than two intervals
func TestBuiltinCollector_LongIntervalKeepsBaseline(t *testing.T) {
	mc, err := NewMetricsCollector("builtin", "", 30*time.Minute, zap.NewNop(), nil)
	require.NoError(t, err)
	collector := mc.(*BuiltinCollector)

	_, err = collector.Collect(context.Background())
	require.NoError(t, err)

	collector.mu.Lock()
	collector.lastTimestamp = time.Now().Add(-15 * time.Minute)
	collector.mu.Unlock()

	collector.resetCacheIfStale()

	collector.mu.Lock()
	defer collector.mu.Unlock()
	assert.NotEmpty(t, collector.lastCPUTimes)
	assert.False(t, collector.lastTimestamp.IsZero())
}

// TestExporterCollector_NoCPUFamily tests that a scrape without CPU counters fails
func TestExporterCollector_NoCPUFamily(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# TYPE node_memory_MemTotal_bytes gauge\nnode_memory_MemTotal_bytes 8.0e+09\n"))
	}))
	defer server.Close()

	collector := NewExporterCollector(server.URL, zap.NewNop(), server.Client())
	collector.names = nodeExporterNames

	_, err := collector.Collect(context.Background())
	assert.True(t, errors.Is(err, ErrNoCPUs), "error = %v, want ErrNoCPUs", err)
}

// TestExporterCollector_HTTPErrors tests non-200 responses and unreachable exporters
func TestExporterCollector_HTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	collector := NewExporterCollector(server.URL, zap.NewNop(), server.Client())
	_, err := collector.Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status code: 503")

	server.Close()
	_, err = collector.Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch metrics")
}

// TestExporterCollector_Name tests the exporter collector name
func TestExporterCollector_Name(t *testing.T) {
	collector := NewExporterCollector("http://localhost:9182/metrics", zap.NewNop(), nil)

	name := collector.Name()
	if !strings.Contains(name, "exporter") {
		t.Errorf("Name() = %s, expected to contain 'exporter'", name)
	}
	if !strings.Contains(name, "localhost:9182") {
		t.Errorf("Name() = %s, expected to contain URL", name)
	}
}

// TestCoreLess tests numeric ordering of core labels
func TestCoreLess(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"0", "1", true},
		{"2", "10", true},
		{"10", "2", false},
		{"0,2", "0,10", true},
		{"0,10", "1,0", true},
		{"1", "1", false},
	}

	for _, tt := range tests {
		if got := coreLess(tt.a, tt.b); got != tt.want {
			t.Errorf("coreLess(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

// TestCollectorFactory tests the collector factory function
func TestCollectorFactory(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name        string
		source      string
		exporterURL string
		expectType  string
		expectError bool
	}{
		{name: "default is builtin", source: "", expectType: "builtin"},
		{name: "explicit builtin", source: "builtin", expectType: "builtin"},
		{name: "exporter with URL", source: "exporter", exporterURL: "http://localhost:9182/metrics", expectType: "exporter"},
		{name: "exporter without URL fails", source: "exporter", expectError: true},
		{name: "invalid source fails", source: "invalid", expectError: true},
		{name: "case insensitive", source: "BUILTIN", expectType: "builtin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collector, err := NewMetricsCollector(tt.source, tt.exporterURL, time.Minute, logger, nil)

			if tt.expectError {
				if err == nil {
					t.Error("Expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if !strings.Contains(collector.Name(), tt.expectType) {
				t.Errorf("Name() = %s, expected to contain %s", collector.Name(), tt.expectType)
			}
		})
	}
}

// TestValidateSnapshot tests that only an outright provider failure rejects a snapshot
func TestValidateSnapshot(t *testing.T) {
	tests := []struct {
		name     string
		snapshot *Snapshot
		wantErr  error
		anyErr   bool
	}{
		{
			name: "valid snapshot",
			snapshot: &Snapshot{
				CPU:    CPU{Count: 2, Usage: []float64{10, 90}},
				Memory: Memory{TotalMemory: 100, UsedMemory: 50},
				Disks:  []Disk{{MountPoint: "C:", TotalSpace: 500, AvailableSpace: 250}},
			},
		},
		{
			name:     "first scrape (usage 0) is valid",
			snapshot: &Snapshot{CPU: CPU{Count: 1, Usage: []float64{0}}},
		},
		{
			name: "inconsistent readings are not fatal",
			snapshot: &Snapshot{
				CPU:    CPU{Count: 1, Usage: []float64{150}},
				Memory: Memory{TotalSwap: 10, UsedSwap: 20},
				Disks:  []Disk{{MountPoint: "/", TotalSpace: 10, AvailableSpace: 20}},
			},
		},
		{name: "nil snapshot", snapshot: nil, anyErr: true},
		{name: "no CPUs", snapshot: &Snapshot{}, wantErr: ErrNoCPUs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSnapshot(tt.snapshot)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.anyErr:
				assert.Error(t, err)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

// TestClampSnapshot tests that out-of-range readings are corrected and reported
func TestClampSnapshot(t *testing.T) {
	s := &Snapshot{
		CPU:    CPU{Count: 3, Usage: []float64{150, -1, math.NaN()}},
		Memory: Memory{TotalMemory: 10, UsedMemory: 20, TotalSwap: 10, UsedSwap: 12},
		Disks: []Disk{
			{MountPoint: "/", TotalSpace: 10, AvailableSpace: 20},
			{MountPoint: "/data", TotalSpace: 100, AvailableSpace: 40},
		},
	}

	adjusted := ClampSnapshot(s)

	assert.Len(t, adjusted, 6)
	assert.Equal(t, []float64{100, 0, 0}, s.CPU.Usage)
	assert.Equal(t, uint64(10), s.Memory.UsedMemory)
	assert.Equal(t, uint64(10), s.Memory.UsedSwap)
	assert.Equal(t, uint64(10), s.Disks[0].AvailableSpace)
	assert.Equal(t, uint64(40), s.Disks[1].AvailableSpace)

	assert.Empty(t, ClampSnapshot(s))
}

// TestDisabledCapturer tests that a disabled capturer never returns an image
func TestDisabledCapturer(t *testing.T) {
	capturer := NewDisplayCapturer(false, zap.NewNop())

	img, err := capturer.CapturePrimary(context.Background())
	assert.Nil(t, img)
	assert.ErrorIs(t, err, ErrCaptureDisabled)
}

// TestScreenCapturer_CancelledContext tests that capture honours cancellation
func TestScreenCapturer_CancelledContext(t *testing.T) {
	capturer := NewDisplayCapturer(true, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	img, err := capturer.CapturePrimary(ctx)
	assert.Nil(t, img)
	assert.ErrorIs(t, err, context.Canceled)
}
