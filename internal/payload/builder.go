package payload

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"
	"math"
	"sort"
	"time"

	"github.com/stone-age-io/telemetry-agent/internal/tasks"
	"github.com/stone-age-io/telemetry-agent/internal/utils"
	"go.uber.org/zap"
)

// Settings carries the configured values copied verbatim into every payload
type Settings struct {
	Credential      string
	IntervalSeconds int
	AgentID         string
}

// Builder converts snapshots into payloads. It performs no I/O and never
// mutates the snapshot.
type Builder struct {
	logger *zap.Logger
}

// NewBuilder creates a payload builder
func NewBuilder(logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{logger: logger}
}

// Build produces the wire payload for one snapshot
func (b *Builder) Build(s *tasks.Snapshot, settings Settings) *Payload {
	p := &Payload{
		SchemaVersion:   SchemaVersion,
		Credential:      settings.Credential,
		IntervalSeconds: settings.IntervalSeconds,
		Disks:           []Disk{},
		Networks:        []Network{},
		Components:      []Component{},
		Processes:       []Process{},
	}
	if settings.AgentID != "" {
		agentID := settings.AgentID
		p.AgentID = &agentID
	}

	collectedAt := s.CollectedAt
	if collectedAt.IsZero() {
		collectedAt = time.Now()
	}
	p.Timestamp = collectedAt.UTC().Format(time.RFC3339)

	p.TotalMemory = s.Memory.TotalMemory
	p.UsedMemory = s.Memory.UsedMemory
	p.TotalSwap = s.Memory.TotalSwap
	p.UsedSwap = s.Memory.UsedSwap

	p.StartTime = copyUint64(s.System.BootTime)
	p.SystemName = copyString(s.System.Name)
	p.KernelVersion = copyString(s.System.KernelVersion)
	p.OSVersion = copyString(s.System.OSVersion)
	p.HostName = copyString(s.System.HostName)

	p.CPUCount = s.CPU.Count
	if s.CPU.Brand != "" {
		brand := s.CPU.Brand
		p.CPUName = &brand
	}
	p.CPUUsage = b.finite("cpu_usage", utils.Mean(s.CPU.Usage))

	for _, d := range s.Disks {
		p.Disks = append(p.Disks, Disk{
			FileSystem:     d.FileSystem,
			MountPoint:     d.MountPoint,
			TotalSpace:     d.TotalSpace,
			AvailableSpace: d.AvailableSpace,
		})
	}
	p.DisksNumbers = len(p.Disks)

	for _, n := range s.Networks {
		p.Networks = append(p.Networks, Network{
			Name:        n.Name,
			MAC:         n.MAC,
			BytesRecv:   n.BytesRecv,
			BytesSent:   n.BytesSent,
			PacketsRecv: n.PacketsRecv,
			PacketsSent: n.PacketsSent,
			ErrorsIn:    n.ErrorsIn,
			ErrorsOut:   n.ErrorsOut,
		})
	}

	for _, c := range s.Components {
		p.Components = append(p.Components, Component{
			Label:       c.Label,
			Temperature: b.finite("temperature", c.Temperature),
			High:        b.finitePtr("high", c.High),
			Critical:    b.finitePtr("critical", c.Critical),
		})
	}

	for pid, proc := range s.Processes {
		p.Processes = append(p.Processes, Process{
			PID:       pid,
			Name:      proc.Name,
			StartTime: proc.StartTime,
			CPUUsage:  b.finite("process_cpu_usage", proc.CPUUsage),
			Memory:    proc.Memory,
		})
	}
	sort.Slice(p.Processes, func(i, j int) bool { return p.Processes[i].PID < p.Processes[j].PID })
	p.ProcessesCount = len(p.Processes)

	p.ImageBase64 = b.encodeImage(s.Display)

	return p
}

// encodeImage returns the PNG encoding of img as standard base64, or "" when
// there is no image or encoding fails.
func (b *Builder) encodeImage(img image.Image) string {
	if img == nil {
		b.logger.Debug("No display image in snapshot")
		return ""
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		b.logger.Warn("Failed to encode display image, sending empty image", zap.Error(err))
		return ""
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// finite returns v, or 0 when v is NaN or infinite. JSON cannot carry
// non-finite numbers and sensors do report them.
func (b *Builder) finite(field string, v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		b.logger.Debug("Replacing non-finite reading", zap.String("field", field), zap.Float64("value", v))
		return 0
	}
	return v
}

// finitePtr copies v, mapping non-finite values to nil
func (b *Builder) finitePtr(field string, v *float64) *float64 {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		b.logger.Debug("Dropping non-finite reading", zap.String("field", field), zap.Float64("value", *v))
		return nil
	}
	out := *v
	return &out
}

func copyString(v *string) *string {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func copyUint64(v *uint64) *uint64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
