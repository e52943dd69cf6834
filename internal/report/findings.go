// Package report turns the findings of one audit into console output and a
// persisted report artifact, optionally enriched with an AI analysis.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/gopacket/layers"

	"github.com/anstrom/portaudit/internal/scanning"
)

// Findings is everything the scan engine hands to the report sink.
type Findings struct {
	ScanID     string
	Target     string
	Ports      []uint16
	Status     scanning.ScanStatus
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewFindings builds findings from a scan result.
func NewFindings(scanID string, result *scanning.ScanResult, status scanning.ScanStatus) Findings {
	ports := make([]uint16, len(result.Ports))
	copy(ports, result.Ports)

	return Findings{
		ScanID:     scanID,
		Target:     result.Target,
		Ports:      ports,
		Status:     status,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
	}
}

// HasPorts reports whether any open port was found.
func (f Findings) HasPorts() bool {
	return len(f.Ports) > 0
}

// ServiceName returns the conventional service name for a TCP port, or
// "unknown" when the port has none.
func ServiceName(port uint16) string {
	if name, ok := layers.TCPPortNames[layers.TCPPort(port)]; ok && name != "" {
		return name
	}
	return "unknown"
}

// portList renders ports as a JSON-style list, e.g. [22, 80, 443].
func portList(ports []uint16) string {
	parts := make([]string, len(ports))
	for i, port := range ports {
		parts[i] = fmt.Sprint(port)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
