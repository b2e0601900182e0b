// Package payload turns host snapshots into the wire payload posted to the collector.
package payload

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// SchemaVersion is the version of the wire schema produced by Builder
const SchemaVersion = 1

// Payload is the canonical wire structure. Every key is always serialized;
// unavailable values are null and empty collections are [].
type Payload struct {
	SchemaVersion   int         `json:"schema_version"`
	AgentID         *string     `json:"agent_id"`
	Timestamp       string      `json:"timestamp"`
	Credential      string      `json:"credential"`
	IntervalSeconds int         `json:"interval_seconds"`
	StartTime       *uint64     `json:"start_time"`
	TotalMemory     uint64      `json:"total_memory"`
	UsedMemory      uint64      `json:"used_memory"`
	TotalSwap       uint64      `json:"total_swap"`
	UsedSwap        uint64      `json:"used_swap"`
	SystemName      *string     `json:"system_name"`
	KernelVersion   *string     `json:"kernel_version"`
	OSVersion       *string     `json:"os_version"`
	HostName        *string     `json:"host_name"`
	CPUCount        int         `json:"cpu_count"`
	CPUName         *string     `json:"cpu_name"`
	CPUUsage        float64     `json:"cpu_usage"`
	DisksNumbers    int         `json:"disks_numbers"`
	Disks           []Disk      `json:"disks"`
	Networks        []Network   `json:"networks"`
	Components      []Component `json:"components"`
	ProcessesCount  int         `json:"processes_count"`
	Processes       []Process   `json:"processes"`
	ImageBase64     string      `json:"image_base64"`
}

// Disk is one entry of the disks array
type Disk struct {
	FileSystem     string `json:"file_system"`
	MountPoint     string `json:"mount_point"`
	TotalSpace     uint64 `json:"total_space"`
	AvailableSpace uint64 `json:"available_space"`
}

// Network is one entry of the networks array
type Network struct {
	Name        string `json:"name"`
	MAC         string `json:"mac"`
	BytesRecv   uint64 `json:"bytes_recv"`
	BytesSent   uint64 `json:"bytes_sent"`
	PacketsRecv uint64 `json:"packets_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	ErrorsIn    uint64 `json:"errors_in"`
	ErrorsOut   uint64 `json:"errors_out"`
}

// Component is one entry of the components array
type Component struct {
	Label       string   `json:"label"`
	Temperature float64  `json:"temperature"`
	High        *float64 `json:"high"`
	Critical    *float64 `json:"critical"`
}

// Process is one entry of the processes array
type Process struct {
	PID       uint32  `json:"pid"`
	Name      string  `json:"name"`
	StartTime uint64  `json:"start_time"`
	CPUUsage  float64 `json:"cpu_usage"`
	Memory    uint64  `json:"memory"`
}

// Encoding selects how a payload is written into the request body
type Encoding string

const (
	// EncodingJSON posts the payload as an application/json document
	EncodingJSON Encoding = "json"
	// EncodingForm posts the JSON document as the "payload" form field
	EncodingForm Encoding = "form"
)

// FormField is the form field carrying the JSON document under EncodingForm
const FormField = "payload"

// Encode serializes p for the given encoding and returns the body and its content type
func Encode(p *Payload, encoding Encoding) ([]byte, string, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	switch encoding {
	case "", EncodingJSON:
		return body, "application/json", nil
	case EncodingForm:
		form := url.Values{FormField: []string{string(body)}}
		return []byte(form.Encode()), "application/x-www-form-urlencoded", nil
	default:
		return nil, "", fmt.Errorf("unknown payload encoding: %s", encoding)
	}
}
