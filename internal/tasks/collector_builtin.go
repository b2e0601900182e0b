package tasks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/stone-age-io/telemetry-agent/internal/utils"
	"go.uber.org/zap"
)

// BuiltinCollector collects host state using gopsutil
type BuiltinCollector struct {
	logger *zap.Logger

	// Cache for per-core usage calculation
	mu            sync.Mutex
	lastTimestamp time.Time
	lastCPUTimes  map[string]cpu.TimesStat
	maxCacheAge   time.Duration
}

// NewBuiltinCollector creates a new gopsutil-based collector
func NewBuiltinCollector(logger *zap.Logger) *BuiltinCollector {
	return &BuiltinCollector{
		logger:       logger,
		lastCPUTimes: make(map[string]cpu.TimesStat),
		maxCacheAge:  maxMetricsCacheAge,
	}
}

func (c *BuiltinCollector) Name() string {
	return "builtin (gopsutil)"
}

func (c *BuiltinCollector) ResetCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastTimestamp = time.Time{}
	c.lastCPUTimes = make(map[string]cpu.TimesStat)
}

func (c *BuiltinCollector) Collect(ctx context.Context) (*Snapshot, error) {
	c.resetCacheIfStale()

	snapshot := &Snapshot{
		CollectedAt: time.Now().UTC(),
		Processes:   make(map[uint32]Process),
	}

	cpuInfo, err := c.collectCPU(ctx)
	if err != nil {
		return nil, err
	}
	snapshot.CPU = cpuInfo

	if memory, err := c.collectMemory(ctx); err != nil {
		c.logger.Warn("Failed to collect memory metrics", zap.Error(err))
	} else {
		snapshot.Memory = memory
	}

	if system, err := c.collectSystem(ctx); err != nil {
		c.logger.Warn("Failed to collect host identity", zap.Error(err))
	} else {
		snapshot.System = system
	}

	if disks, err := c.collectDisks(ctx); err != nil {
		c.logger.Warn("Failed to collect disk metrics", zap.Error(err))
	} else {
		snapshot.Disks = disks
	}

	if networks, err := c.collectNetworks(ctx); err != nil {
		c.logger.Warn("Failed to collect network metrics", zap.Error(err))
	} else {
		snapshot.Networks = networks
	}

	if components, err := c.collectComponents(ctx); err != nil {
		c.logger.Debug("Failed to collect sensor temperatures", zap.Error(err))
	} else {
		snapshot.Components = components
	}

	if processes, err := c.collectProcesses(ctx); err != nil {
		c.logger.Warn("Failed to collect processes", zap.Error(err))
	} else {
		snapshot.Processes = processes
	}

	return snapshot, nil
}

func (c *BuiltinCollector) collectCPU(ctx context.Context) (CPU, error) {
	var result CPU

	count, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		c.logger.Debug("Could not count logical CPUs", zap.Error(err))
	}

	if infos, err := cpu.InfoWithContext(ctx); err != nil {
		c.logger.Debug("Could not read CPU info", zap.Error(err))
	} else if len(infos) > 0 {
		result.Brand = infos[0].ModelName
	}

	times, err := cpu.TimesWithContext(ctx, true) // true = per core
	if err != nil {
		c.logger.Warn("Failed to read per-core CPU times", zap.Error(err))
	}

	if count <= 0 {
		count = len(times)
	}
	if count <= 0 {
		return result, ErrNoCPUs
	}
	result.Count = count

	if len(times) == 0 {
		result.Usage = make([]float64, count)
		return result, nil
	}

	result.Usage = c.perCoreUsage(times)
	return result, nil
}

// perCoreUsage computes usage per core from the delta against the cached baseline.
// The first call for a core stores the baseline and reports 0.
func (c *BuiltinCollector) perCoreUsage(times []cpu.TimesStat) []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	usage := make([]float64, len(times))
	for i, current := range times {
		prev, ok := c.lastCPUTimes[current.CPU]
		c.lastCPUTimes[current.CPU] = current
		if !ok {
			continue
		}

		totalDelta := busyTime(current) + idleTime(current) - busyTime(prev) - idleTime(prev)
		idleDelta := idleTime(current) - idleTime(prev)
		if totalDelta <= 0 {
			continue
		}

		percent := ((totalDelta - idleDelta) / totalDelta) * 100
		if percent < 0 {
			percent = 0
		} else if percent > 100 {
			percent = 100
		}
		usage[i] = utils.Round(percent)
	}

	if c.lastTimestamp.IsZero() {
		c.logger.Debug("CPU baseline stored (first scrape)", zap.Int("cores", len(times)))
	}
	c.lastTimestamp = time.Now()

	return usage
}

func busyTime(t cpu.TimesStat) float64 {
	return t.User + t.System + t.Nice + t.Irq + t.Softirq + t.Steal
}

func idleTime(t cpu.TimesStat) float64 {
	return t.Idle + t.Iowait
}

func (c *BuiltinCollector) collectMemory(ctx context.Context) (Memory, error) {
	vmem, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Memory{}, err
	}

	memory := Memory{
		TotalMemory: vmem.Total,
		UsedMemory:  vmem.Used,
	}

	swap, err := mem.SwapMemoryWithContext(ctx)
	if err != nil {
		c.logger.Debug("Could not read swap", zap.Error(err))
		return memory, nil
	}
	memory.TotalSwap = swap.Total
	memory.UsedSwap = swap.Used

	return memory, nil
}

func (c *BuiltinCollector) collectSystem(ctx context.Context) (System, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return System{}, err
	}

	name := info.Platform
	if name == "" {
		name = info.OS
	}

	system := System{
		Name:          stringPtr(name),
		KernelVersion: stringPtr(info.KernelVersion),
		OSVersion:     stringPtr(info.PlatformVersion),
		HostName:      stringPtr(info.Hostname),
	}
	if info.BootTime > 0 {
		bootTime := info.BootTime
		system.BootTime = &bootTime
	}

	return system, nil
}

func (c *BuiltinCollector) collectDisks(ctx context.Context) ([]Disk, error) {
	partitions, err := disk.PartitionsWithContext(ctx, false) // false = physical only
	if err != nil {
		return nil, err
	}

	disks := make([]Disk, 0, len(partitions))
	for _, partition := range partitions {
		if isPseudoFilesystem(partition.Fstype) {
			continue
		}

		usage, err := disk.UsageWithContext(ctx, partition.Mountpoint)
		if err != nil {
			c.logger.Debug("Could not get disk usage",
				zap.String("mountpoint", partition.Mountpoint),
				zap.Error(err))
			continue
		}
		if usage.Total == 0 {
			continue
		}

		disks = append(disks, Disk{
			FileSystem:     partition.Fstype,
			MountPoint:     partition.Mountpoint,
			TotalSpace:     usage.Total,
			AvailableSpace: usage.Free,
		})
	}

	return disks, nil
}

// pseudoFilesystems are never reported as disks
var pseudoFilesystems = map[string]bool{
	"devfs":    true,
	"devtmpfs": true,
	"tmpfs":    true,
	"squashfs": true,
	"overlay":  true,
	"proc":     true,
	"sysfs":    true,
	"cgroup":   true,
	"cgroup2":  true,
}

func isPseudoFilesystem(fstype string) bool {
	return pseudoFilesystems[fstype]
}

func (c *BuiltinCollector) collectNetworks(ctx context.Context) ([]NetworkInterface, error) {
	counters, err := net.IOCountersWithContext(ctx, true) // true = per interface
	if err != nil {
		return nil, err
	}

	macs := make(map[string]string)
	if ifaces, err := net.InterfacesWithContext(ctx); err != nil {
		c.logger.Debug("Could not list network interfaces", zap.Error(err))
	} else {
		for _, iface := range ifaces {
			macs[iface.Name] = iface.HardwareAddr
		}
	}

	networks := make([]NetworkInterface, 0, len(counters))
	for _, counter := range counters {
		networks = append(networks, NetworkInterface{
			Name:        counter.Name,
			MAC:         macs[counter.Name],
			BytesRecv:   counter.BytesRecv,
			BytesSent:   counter.BytesSent,
			PacketsRecv: counter.PacketsRecv,
			PacketsSent: counter.PacketsSent,
			ErrorsIn:    counter.Errin,
			ErrorsOut:   counter.Errout,
		})
	}
	sort.Slice(networks, func(i, j int) bool { return networks[i].Name < networks[j].Name })

	return networks, nil
}

func (c *BuiltinCollector) collectComponents(ctx context.Context) ([]Component, error) {
	// gopsutil returns partial readings together with a warnings error
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil && len(temps) == 0 {
		return nil, err
	}

	components := make([]Component, 0, len(temps))
	for _, t := range temps {
		component := Component{
			Label:       t.SensorKey,
			Temperature: t.Temperature,
		}
		if t.High > 0 {
			high := t.High
			component.High = &high
		}
		if t.Critical > 0 {
			critical := t.Critical
			component.Critical = &critical
		}
		components = append(components, component)
	}
	sort.SliceStable(components, func(i, j int) bool { return components[i].Label < components[j].Label })

	return components, nil
}

func (c *BuiltinCollector) collectProcesses(ctx context.Context) (map[uint32]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	result := make(map[uint32]Process, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// Process exited between listing and inspection
			continue
		}

		entry := Process{Name: name}
		if createdMs, err := p.CreateTimeWithContext(ctx); err == nil && createdMs > 0 {
			entry.StartTime = uint64(createdMs / 1000)
		}
		if percent, err := p.CPUPercentWithContext(ctx); err == nil {
			entry.CPUUsage = utils.Round(percent)
		}
		if memInfo, err := p.MemoryInfoWithContext(ctx); err == nil && memInfo != nil {
			entry.Memory = memInfo.RSS
		}

		result[uint32(p.Pid)] = entry
	}

	return result, nil
}

func (c *BuiltinCollector) resetCacheIfStale() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastTimestamp.IsZero() {
		return
	}

	age := time.Since(c.lastTimestamp)
	if age > c.maxCacheAge {
		c.logger.Warn("Resetting stale metrics cache",
			zap.Duration("cache_age", age),
			zap.Duration("max_age", c.maxCacheAge))
		c.lastTimestamp = time.Time{}
		c.lastCPUTimes = make(map[string]cpu.TimesStat)
	}
}
