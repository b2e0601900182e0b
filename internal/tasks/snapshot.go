package tasks

import (
	"errors"
	"fmt"
	"image"
	"math"
	"net"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// maxMetricsCacheAge is the minimum age after which the CPU baseline is discarded
const maxMetricsCacheAge = 10 * time.Minute

// CacheMaxAge returns how long a CPU baseline stays valid for a collector
// sampled every interval: two intervals, and never less than 10 minutes.
func CacheMaxAge(interval time.Duration) time.Duration {
	if age := 2 * interval; age > maxMetricsCacheAge {
		return age
	}
	return maxMetricsCacheAge
}

var (
	// ErrNoCPUs is returned when the platform reports no logical CPUs
	ErrNoCPUs = errors.New("no CPUs reported by the platform")

	// ErrNoDisplay is returned when no active display is available for capture
	ErrNoDisplay = errors.New("no active display")

	// ErrCaptureDisabled is returned by DisabledCapturer
	ErrCaptureDisabled = errors.New("display capture disabled")
)

// Snapshot is a point-in-time sample of host state.
// Fields the platform cannot supply are nil (identity) or empty (lists).
type Snapshot struct {
	CollectedAt time.Time
	Memory      Memory
	System      System
	CPU         CPU
	Disks       []Disk
	Networks    []NetworkInterface
	Components  []Component
	Processes   map[uint32]Process
	Display     image.Image
}

// Memory holds RAM and swap figures in bytes
type Memory struct {
	TotalMemory uint64
	UsedMemory  uint64
	TotalSwap   uint64
	UsedSwap    uint64
}

// System holds host identity. Each field may be absent.
type System struct {
	Name          *string
	KernelVersion *string
	OSVersion     *string
	HostName      *string
	BootTime      *uint64 // unix seconds
}

// CPU holds processor facts and per-core usage (0-100)
type CPU struct {
	Count int
	Brand string
	Usage []float64
}

// Disk describes one mounted file system
type Disk struct {
	FileSystem     string
	MountPoint     string
	TotalSpace     uint64
	AvailableSpace uint64
}

// NetworkInterface holds cumulative counters for one interface
type NetworkInterface struct {
	Name        string
	MAC         string
	BytesRecv   uint64
	BytesSent   uint64
	PacketsRecv uint64
	PacketsSent uint64
	ErrorsIn    uint64
	ErrorsOut   uint64
}

// Component is a hardware sensor reading in degrees Celsius
type Component struct {
	Label       string
	Temperature float64
	High        *float64
	Critical    *float64
}

// Process is one running process
type Process struct {
	Name      string
	StartTime uint64 // unix seconds
	CPUUsage  float64
	Memory    uint64 // resident bytes
}

// ValidateSnapshot rejects snapshots from a provider that failed outright
func ValidateSnapshot(s *Snapshot) error {
	if s == nil {
		return fmt.Errorf("snapshot is nil")
	}
	if s.CPU.Count <= 0 {
		return ErrNoCPUs
	}
	return nil
}

// ClampSnapshot brings inconsistent readings back into range in place and
// describes each adjustment. Platforms briefly report used swap above total
// or free space above size; such samples are still sent.
func ClampSnapshot(s *Snapshot) []string {
	var adjusted []string

	for i, usage := range s.CPU.Usage {
		switch {
		case math.IsNaN(usage) || usage < 0:
			adjusted = append(adjusted, fmt.Sprintf("core %d usage %.2f set to 0", i, usage))
			s.CPU.Usage[i] = 0
		case usage > 100:
			adjusted = append(adjusted, fmt.Sprintf("core %d usage %.2f capped at 100", i, usage))
			s.CPU.Usage[i] = 100
		}
	}
	if s.Memory.UsedMemory > s.Memory.TotalMemory {
		adjusted = append(adjusted, fmt.Sprintf("used memory %d capped at total %d", s.Memory.UsedMemory, s.Memory.TotalMemory))
		s.Memory.UsedMemory = s.Memory.TotalMemory
	}
	if s.Memory.UsedSwap > s.Memory.TotalSwap {
		adjusted = append(adjusted, fmt.Sprintf("used swap %d capped at total %d", s.Memory.UsedSwap, s.Memory.TotalSwap))
		s.Memory.UsedSwap = s.Memory.TotalSwap
	}
	for i := range s.Disks {
		d := &s.Disks[i]
		if d.AvailableSpace > d.TotalSpace {
			adjusted = append(adjusted, fmt.Sprintf("available space %d on %s capped at total %d", d.AvailableSpace, d.MountPoint, d.TotalSpace))
			d.AvailableSpace = d.TotalSpace
		}
	}

	return adjusted
}

// NewHTTPClient creates the HTTP client used for exporter scraping.
// The client is created once and reused for every scrape.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:       5 * time.Second,
				KeepAlive:     30 * time.Second,
				FallbackDelay: 300 * time.Millisecond,
			}).DialContext,
			TLSHandshakeTimeout:   5 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   2,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// getLabelValue extracts a label value from a metric's label pairs
func getLabelValue(labels []*dto.LabelPair, name string) string {
	for _, label := range labels {
		if label.GetName() == name {
			return label.GetValue()
		}
	}
	return ""
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
