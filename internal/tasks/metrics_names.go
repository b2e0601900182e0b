package tasks

import (
	"runtime"
)

// MetricNames defines exporter-specific Prometheus metric and label names
type MetricNames struct {
	CPUTime       string // Counter: CPU seconds by core and mode
	CPUCoreLabel  string
	CPUModeLabel  string
	CPUIdleLabel  string // Label value for idle mode
	CPUInfo       string // Info metric carrying the model name
	CPUBrandLabel string

	MemoryTotal     string
	MemoryAvailable string
	SwapTotal       string
	SwapFree        string

	OSInfo        string // Info metric carrying OS identity labels
	OSNameLabel   string
	KernelLabel   string
	VersionLabel  string
	HostInfo      string // Info metric carrying the host name
	HostNameLabel string
	BootTime      string // Gauge: unix seconds

	DiskFreeBytes string
	DiskSizeBytes string
	VolumeLabel   string // Label name for disk identifier
	FSTypeLabel   string // Empty when the exporter has no file system label

	NetRecvBytes    string
	NetSentBytes    string
	NetRecvPackets  string
	NetSentPackets  string
	NetRecvErrors   string
	NetSentErrors   string
	NetDeviceLabel  string
	NetInfo         string // Info metric carrying the MAC address, optional
	NetAddressLabel string

	Temperature         string
	TemperatureMax      string
	TemperatureCritical string
	SensorLabels        []string // Joined with "_" to form the component label
}

var nodeExporterNames = MetricNames{
	CPUTime:       "node_cpu_seconds_total",
	CPUCoreLabel:  "cpu",
	CPUModeLabel:  "mode",
	CPUIdleLabel:  "idle",
	CPUInfo:       "node_cpu_info",
	CPUBrandLabel: "model_name",

	MemoryTotal:     "node_memory_MemTotal_bytes",
	MemoryAvailable: "node_memory_MemAvailable_bytes",
	SwapTotal:       "node_memory_SwapTotal_bytes",
	SwapFree:        "node_memory_SwapFree_bytes",

	OSInfo:        "node_uname_info",
	OSNameLabel:   "sysname",
	KernelLabel:   "release",
	VersionLabel:  "version",
	HostInfo:      "node_uname_info",
	HostNameLabel: "nodename",
	BootTime:      "node_boot_time_seconds",

	DiskFreeBytes: "node_filesystem_avail_bytes",
	DiskSizeBytes: "node_filesystem_size_bytes",
	VolumeLabel:   "mountpoint", // "/", "/home", etc.
	FSTypeLabel:   "fstype",

	NetRecvBytes:    "node_network_receive_bytes_total",
	NetSentBytes:    "node_network_transmit_bytes_total",
	NetRecvPackets:  "node_network_receive_packets_total",
	NetSentPackets:  "node_network_transmit_packets_total",
	NetRecvErrors:   "node_network_receive_errs_total",
	NetSentErrors:   "node_network_transmit_errs_total",
	NetDeviceLabel:  "device",
	NetInfo:         "node_network_info",
	NetAddressLabel: "address",

	Temperature:         "node_hwmon_temp_celsius",
	TemperatureMax:      "node_hwmon_temp_max_celsius",
	TemperatureCritical: "node_hwmon_temp_crit_celsius",
	SensorLabels:        []string{"chip", "sensor"},
}

var windowsExporterNames = MetricNames{
	CPUTime:       "windows_cpu_time_total",
	CPUCoreLabel:  "core", // "0,0", "0,1", etc.
	CPUModeLabel:  "mode",
	CPUIdleLabel:  "idle",
	CPUInfo:       "windows_cpu_info",
	CPUBrandLabel: "name",

	MemoryTotal:     "windows_cs_physical_memory_bytes",
	MemoryAvailable: "windows_memory_available_bytes",
	SwapTotal:       "windows_os_paging_limit_bytes",
	SwapFree:        "windows_os_paging_free_bytes",

	OSInfo:        "windows_os_info",
	OSNameLabel:   "product",
	KernelLabel:   "build_number",
	VersionLabel:  "version",
	HostInfo:      "windows_cs_hostname",
	HostNameLabel: "hostname",
	BootTime:      "windows_system_boot_time_timestamp_seconds",

	DiskFreeBytes: "windows_logical_disk_free_bytes",
	DiskSizeBytes: "windows_logical_disk_size_bytes",
	VolumeLabel:   "volume", // "C:", "D:", etc.

	NetRecvBytes:   "windows_net_bytes_received_total",
	NetSentBytes:   "windows_net_bytes_sent_total",
	NetRecvPackets: "windows_net_packets_received_total",
	NetSentPackets: "windows_net_packets_sent_total",
	NetRecvErrors:  "windows_net_packets_received_errors_total",
	NetSentErrors:  "windows_net_packets_outbound_errors_total",
	NetDeviceLabel: "nic",

	Temperature:         "windows_thermalzone_temperature_celsius",
	TemperatureCritical: "windows_thermalzone_critical_trip_point_temperature_celsius",
	SensorLabels:        []string{"name"},
}

// GetMetricNames returns platform-specific metric names for Prometheus exporters
func GetMetricNames() MetricNames {
	if runtime.GOOS == "windows" {
		return windowsExporterNames
	}
	// Linux, FreeBSD and unknown platforms use node_exporter naming
	return nodeExporterNames
}

// GetExporterName returns the name of the metrics exporter for documentation
func GetExporterName() string {
	switch runtime.GOOS {
	case "windows":
		return "windows_exporter"
	case "linux", "freebsd":
		return "node_exporter"
	default:
		return "prometheus_exporter"
	}
}
