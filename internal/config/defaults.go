package config

import (
	"runtime"
)

// PlatformDefaults returns platform-specific default values
type PlatformDefaults struct {
	LogFile     string
	LedgerPath  string
	ConfigPath  string
	ExporterURL string
}

// GetPlatformDefaults returns platform-specific defaults based on runtime.GOOS
func GetPlatformDefaults() PlatformDefaults {
	switch runtime.GOOS {
	case "windows":
		return PlatformDefaults{
			LogFile:     `C:\ProgramData\TelemetryAgent\agent.log`,
			LedgerPath:  `C:\ProgramData\TelemetryAgent\info`,
			ConfigPath:  `C:\ProgramData\TelemetryAgent\config.yaml`,
			ExporterURL: "http://localhost:9182/metrics", // windows_exporter
		}
	case "freebsd":
		return PlatformDefaults{
			LogFile:     "/var/log/telemetry-agent/agent.log",
			LedgerPath:  "/var/db/telemetry-agent/info",
			ConfigPath:  "/usr/local/etc/telemetry-agent/config.yaml",
			ExporterURL: "http://localhost:9100/metrics", // node_exporter
		}
	default:
		// Linux and unknown platforms
		return PlatformDefaults{
			LogFile:     "/var/log/telemetry-agent/agent.log",
			LedgerPath:  "/var/lib/telemetry-agent/info",
			ConfigPath:  "/etc/telemetry-agent/config.yaml",
			ExporterURL: "http://localhost:9100/metrics", // node_exporter
		}
	}
}

// GetDefaultConfigPath returns the platform-specific default config path
func GetDefaultConfigPath() string {
	return GetPlatformDefaults().ConfigPath
}

// UpdateConfigDefaults updates viper defaults with platform-specific values
func UpdateConfigDefaults(v interface{}) {
	type viper interface {
		SetDefault(key string, value interface{})
	}

	if viperInstance, ok := v.(viper); ok {
		defaults := GetPlatformDefaults()

		viperInstance.SetDefault("metrics.exporter_url", defaults.ExporterURL)
		viperInstance.SetDefault("ledger.path", defaults.LedgerPath)
		viperInstance.SetDefault("logging.file", defaults.LogFile)
	}
}
