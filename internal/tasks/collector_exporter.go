package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/stone-age-io/telemetry-agent/internal/utils"
	"go.uber.org/zap"
)

// ExporterCollector builds snapshots by scraping a Prometheus exporter
// (node_exporter or windows_exporter). Process lists are not available
// through exporters and are always empty.
type ExporterCollector struct {
	exporterURL string
	logger      *zap.Logger
	httpClient  *http.Client
	names       MetricNames

	// Cache for per-core usage calculation
	mu            sync.Mutex
	lastTimestamp time.Time
	lastCPU       map[string]cpuCounters
	maxCacheAge   time.Duration
}

// cpuCounters holds cumulative CPU seconds for one core
type cpuCounters struct {
	Total float64
	Idle  float64
}

// NewExporterCollector creates a collector that scrapes Prometheus exporters
func NewExporterCollector(url string, logger *zap.Logger, httpClient *http.Client) *ExporterCollector {
	return &ExporterCollector{
		exporterURL: url,
		logger:      logger,
		httpClient:  httpClient,
		names:       GetMetricNames(),
		lastCPU:     make(map[string]cpuCounters),
		maxCacheAge: maxMetricsCacheAge,
	}
}

func (c *ExporterCollector) Name() string {
	return fmt.Sprintf("exporter (%s)", c.exporterURL)
}

func (c *ExporterCollector) ResetCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastTimestamp = time.Time{}
	c.lastCPU = make(map[string]cpuCounters)
}

func (c *ExporterCollector) Collect(ctx context.Context) (*Snapshot, error) {
	c.resetCacheIfStale()

	c.logger.Debug("Starting metrics scrape", zap.String("url", c.exporterURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.exporterURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "telemetry-agent")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("metrics scrape timeout: %w", err)
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, fmt.Errorf("metrics scrape cancelled: %w", err)
		}
		return nil, fmt.Errorf("failed to fetch metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	// 10MB limit
	families, err := decodeFamilies(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to parse metrics: %w", err)
	}
	c.logger.Debug("Parsed metric families", zap.Int("count", len(families)))

	snapshot, err := c.buildSnapshot(families)
	if err != nil {
		return nil, err
	}
	snapshot.CollectedAt = time.Now().UTC()

	c.logger.Debug("Metrics scrape completed successfully",
		zap.Int("cpu_count", snapshot.CPU.Count),
		zap.Int("disk_count", len(snapshot.Disks)),
		zap.Int("network_count", len(snapshot.Networks)))

	return snapshot, nil
}

// decodeFamilies parses Prometheus text format into metric families keyed by name
func decodeFamilies(reader io.Reader) (map[string]*dto.MetricFamily, error) {
	decoder := expfmt.NewDecoder(reader, expfmt.FmtText)

	families := make(map[string]*dto.MetricFamily)
	for {
		mf := &dto.MetricFamily{}
		err := decoder.Decode(mf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode metric family: %w", err)
		}
		families[mf.GetName()] = mf
	}
	return families, nil
}

func (c *ExporterCollector) buildSnapshot(families map[string]*dto.MetricFamily) (*Snapshot, error) {
	n := c.names
	snapshot := &Snapshot{Processes: make(map[uint32]Process)}

	cpuInfo, err := c.extractCPU(families)
	if err != nil {
		return nil, err
	}
	snapshot.CPU = cpuInfo

	total := firstValue(families[n.MemoryTotal])
	available := firstValue(families[n.MemoryAvailable])
	if total > 0 {
		snapshot.Memory.TotalMemory = uint64(total)
		if available <= total {
			snapshot.Memory.UsedMemory = uint64(total - available)
		}
	} else {
		c.logger.Warn("Memory metric not found", zap.String("expected_metric", n.MemoryTotal))
	}
	swapTotal := firstValue(families[n.SwapTotal])
	swapFree := firstValue(families[n.SwapFree])
	if swapTotal > 0 && swapFree <= swapTotal {
		snapshot.Memory.TotalSwap = uint64(swapTotal)
		snapshot.Memory.UsedSwap = uint64(swapTotal - swapFree)
	}

	if family := families[n.OSInfo]; family != nil && len(family.Metric) > 0 {
		labels := family.Metric[0].Label
		snapshot.System.Name = stringPtr(getLabelValue(labels, n.OSNameLabel))
		snapshot.System.KernelVersion = stringPtr(getLabelValue(labels, n.KernelLabel))
		snapshot.System.OSVersion = stringPtr(getLabelValue(labels, n.VersionLabel))
	}
	if family := families[n.HostInfo]; family != nil && len(family.Metric) > 0 {
		snapshot.System.HostName = stringPtr(getLabelValue(family.Metric[0].Label, n.HostNameLabel))
	}
	if boot := firstValue(families[n.BootTime]); boot > 0 {
		bootTime := uint64(boot)
		snapshot.System.BootTime = &bootTime
	}

	snapshot.Disks = c.extractDisks(families)
	if len(snapshot.Disks) == 0 {
		c.logger.Warn("No disk metrics found",
			zap.String("expected_free_metric", n.DiskFreeBytes),
			zap.String("expected_size_metric", n.DiskSizeBytes))
	}
	snapshot.Networks = c.extractNetworks(families)
	snapshot.Components = c.extractComponents(families)

	return snapshot, nil
}

// extractCPU derives per-core usage from cumulative CPU seconds.
// The first scrape stores the baseline and reports 0 for every core.
func (c *ExporterCollector) extractCPU(families map[string]*dto.MetricFamily) (CPU, error) {
	n := c.names
	var result CPU

	if family := families[n.CPUInfo]; family != nil && len(family.Metric) > 0 {
		result.Brand = getLabelValue(family.Metric[0].Label, n.CPUBrandLabel)
	}

	family := families[n.CPUTime]
	if family == nil {
		c.logger.Warn("CPU metric not found", zap.String("expected_metric", n.CPUTime))
		return result, ErrNoCPUs
	}

	current := make(map[string]cpuCounters)
	for _, m := range family.Metric {
		core := getLabelValue(m.Label, n.CPUCoreLabel)
		if core == "" {
			continue
		}
		value := metricValue(m)
		counters := current[core]
		counters.Total += value
		if getLabelValue(m.Label, n.CPUModeLabel) == n.CPUIdleLabel {
			counters.Idle += value
		}
		current[core] = counters
	}
	if len(current) == 0 {
		return result, ErrNoCPUs
	}

	cores := make([]string, 0, len(current))
	for core := range current {
		cores = append(cores, core)
	}
	sort.Slice(cores, func(i, j int) bool { return coreLess(cores[i], cores[j]) })

	c.mu.Lock()
	defer c.mu.Unlock()

	result.Count = len(cores)
	result.Usage = make([]float64, len(cores))
	for i, core := range cores {
		now := current[core]
		prev, ok := c.lastCPU[core]
		c.lastCPU[core] = now
		if !ok {
			continue
		}

		totalDelta := now.Total - prev.Total
		idleDelta := now.Idle - prev.Idle
		if totalDelta <= 0 {
			continue
		}
		percent := 100 - (idleDelta/totalDelta)*100
		if percent < 0 {
			percent = 0
		} else if percent > 100 {
			percent = 100
		}
		result.Usage[i] = utils.Round(percent)
	}

	if c.lastTimestamp.IsZero() {
		c.logger.Debug("CPU baseline stored (first scrape)", zap.Int("cores", len(cores)))
	}
	c.lastTimestamp = time.Now()

	return result, nil
}

func (c *ExporterCollector) extractDisks(families map[string]*dto.MetricFamily) []Disk {
	n := c.names
	byVolume := make(map[string]*Disk)

	get := func(m *dto.Metric) *Disk {
		volume := getLabelValue(m.Label, n.VolumeLabel)
		if volume == "" {
			return nil
		}
		fstype := ""
		if n.FSTypeLabel != "" {
			fstype = getLabelValue(m.Label, n.FSTypeLabel)
			if isPseudoFilesystem(fstype) {
				return nil
			}
		}
		d := byVolume[volume]
		if d == nil {
			d = &Disk{FileSystem: fstype, MountPoint: volume}
			byVolume[volume] = d
		}
		return d
	}

	if family := families[n.DiskSizeBytes]; family != nil {
		for _, m := range family.Metric {
			if d := get(m); d != nil {
				d.TotalSpace = uint64(metricValue(m))
			}
		}
	}
	if family := families[n.DiskFreeBytes]; family != nil {
		for _, m := range family.Metric {
			if d := get(m); d != nil {
				d.AvailableSpace = uint64(metricValue(m))
			}
		}
	}

	disks := make([]Disk, 0, len(byVolume))
	for _, d := range byVolume {
		if d.TotalSpace == 0 || d.AvailableSpace > d.TotalSpace {
			continue
		}
		disks = append(disks, *d)
	}
	sort.Slice(disks, func(i, j int) bool { return disks[i].MountPoint < disks[j].MountPoint })

	return disks
}

func (c *ExporterCollector) extractNetworks(families map[string]*dto.MetricFamily) []NetworkInterface {
	n := c.names
	byDevice := make(map[string]*NetworkInterface)

	collect := func(name string, set func(*NetworkInterface, uint64)) {
		family := families[name]
		if family == nil {
			return
		}
		for _, m := range family.Metric {
			device := getLabelValue(m.Label, n.NetDeviceLabel)
			if device == "" {
				continue
			}
			iface := byDevice[device]
			if iface == nil {
				iface = &NetworkInterface{Name: device}
				byDevice[device] = iface
			}
			set(iface, uint64(metricValue(m)))
		}
	}

	collect(n.NetRecvBytes, func(i *NetworkInterface, v uint64) { i.BytesRecv = v })
	collect(n.NetSentBytes, func(i *NetworkInterface, v uint64) { i.BytesSent = v })
	collect(n.NetRecvPackets, func(i *NetworkInterface, v uint64) { i.PacketsRecv = v })
	collect(n.NetSentPackets, func(i *NetworkInterface, v uint64) { i.PacketsSent = v })
	collect(n.NetRecvErrors, func(i *NetworkInterface, v uint64) { i.ErrorsIn = v })
	collect(n.NetSentErrors, func(i *NetworkInterface, v uint64) { i.ErrorsOut = v })

	if family := families[n.NetInfo]; family != nil && n.NetAddressLabel != "" {
		for _, m := range family.Metric {
			if iface := byDevice[getLabelValue(m.Label, n.NetDeviceLabel)]; iface != nil {
				iface.MAC = getLabelValue(m.Label, n.NetAddressLabel)
			}
		}
	}

	networks := make([]NetworkInterface, 0, len(byDevice))
	for _, iface := range byDevice {
		networks = append(networks, *iface)
	}
	sort.Slice(networks, func(i, j int) bool { return networks[i].Name < networks[j].Name })

	return networks
}

func (c *ExporterCollector) extractComponents(families map[string]*dto.MetricFamily) []Component {
	n := c.names
	family := families[n.Temperature]
	if family == nil {
		return []Component{}
	}

	thresholds := func(name string) map[string]float64 {
		out := make(map[string]float64)
		if name == "" || families[name] == nil {
			return out
		}
		for _, m := range families[name].Metric {
			out[c.sensorLabel(m)] = metricValue(m)
		}
		return out
	}
	high := thresholds(n.TemperatureMax)
	critical := thresholds(n.TemperatureCritical)

	components := make([]Component, 0, len(family.Metric))
	for _, m := range family.Metric {
		label := c.sensorLabel(m)
		component := Component{Label: label, Temperature: metricValue(m)}
		if v, ok := high[label]; ok {
			component.High = &v
		}
		if v, ok := critical[label]; ok {
			component.Critical = &v
		}
		components = append(components, component)
	}
	sort.SliceStable(components, func(i, j int) bool { return components[i].Label < components[j].Label })

	return components
}

func (c *ExporterCollector) sensorLabel(m *dto.Metric) string {
	parts := make([]string, 0, len(c.names.SensorLabels))
	for _, name := range c.names.SensorLabels {
		if v := getLabelValue(m.Label, name); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "_")
}

// metricValue returns the sample value regardless of the metric type
func metricValue(m *dto.Metric) float64 {
	switch {
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Untyped != nil:
		return m.Untyped.GetValue()
	}
	return 0
}

// firstValue returns the value of the first sample in a family, 0 when absent
func firstValue(family *dto.MetricFamily) float64 {
	if family == nil || len(family.Metric) == 0 {
		return 0
	}
	return metricValue(family.Metric[0])
}

// coreLess orders core labels numerically ("2" < "10", "0,2" < "0,10")
func coreLess(a, b string) bool {
	as := strings.Split(a, ",")
	bs := strings.Split(b, ",")
	for i := 0; i < len(as) && i < len(bs); i++ {
		ai, aerr := strconv.Atoi(as[i])
		bi, berr := strconv.Atoi(bs[i])
		if aerr != nil || berr != nil {
			if as[i] != bs[i] {
				return as[i] < bs[i]
			}
			continue
		}
		if ai != bi {
			return ai < bi
		}
	}
	return len(as) < len(bs)
}

func (c *ExporterCollector) resetCacheIfStale() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastTimestamp.IsZero() {
		return
	}

	age := time.Since(c.lastTimestamp)
	if age > c.maxCacheAge {
		c.logger.Warn("Resetting stale metrics cache",
			zap.Duration("cache_age", age),
			zap.Duration("max_age", c.maxCacheAge),
			zap.String("impact", "Next snapshot will report 0 CPU usage per core (baseline reset)"))

		c.lastTimestamp = time.Time{}
		c.lastCPU = make(map[string]cpuCounters)
	}
}
