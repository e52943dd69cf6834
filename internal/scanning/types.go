package scanning

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// Port validation constants.
	expectedPortRangeParts = 2
	minPort                = 1
	maxPort                = 65535

	// DefaultStartPort and DefaultEndPort bound the default audit range.
	DefaultStartPort uint16 = 1
	DefaultEndPort   uint16 = 1000

	// DefaultConcurrency is the default number of probes in flight.
	DefaultConcurrency = 100
	// DefaultTimeout is the default per-probe connect timeout.
	DefaultTimeout = time.Second
	// DefaultMaxResourceErrors is the default resource exhaustion budget.
	DefaultMaxResourceErrors = 25
)

// ScanError represents error types for scan operations.
type ScanError struct {
	Op   string // Operation that failed
	Err  error  // Original error
	Host string // Host where the error occurred, if applicable
	Port uint16 // Port where the error occurred, if applicable
}

func (e *ScanError) Error() string {
	if e.Host != "" && e.Port > 0 {
		return fmt.Sprintf("%s failed for %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
	}
	if e.Host != "" {
		return fmt.Sprintf("%s failed for %s: %v", e.Op, e.Host, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// ProbeOutcome classifies the result of a single connection attempt.
type ProbeOutcome int

const (
	// OutcomeOpen means the three-way handshake completed.
	OutcomeOpen ProbeOutcome = iota
	// OutcomeClosed means the target actively refused the connection.
	OutcomeClosed
	// OutcomeTimeout means no answer arrived within the probe timeout.
	OutcomeTimeout
	// OutcomeError covers every other failure.
	OutcomeError
)

func (o ProbeOutcome) String() string {
	switch o {
	case OutcomeOpen:
		return "open"
	case OutcomeClosed:
		return "closed"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// ScanStatus is the terminal status of one scan. Exactly one is produced per scan.
type ScanStatus int

const (
	// StatusCompleted means every port in the range was probed.
	StatusCompleted ScanStatus = iota
	// StatusInterrupted means the caller cancelled the scan.
	StatusInterrupted
	// StatusEngineFailure means the scan could not start or was aborted.
	StatusEngineFailure
)

func (s ScanStatus) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusInterrupted:
		return "interrupted"
	case StatusEngineFailure:
		return "engine_failure"
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name in JSON reports.
func (s ScanStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *ScanStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "completed":
		*s = StatusCompleted
	case "interrupted":
		*s = StatusInterrupted
	case "engine_failure":
		*s = StatusEngineFailure
	default:
		return fmt.Errorf("unknown scan status: %q", string(text))
	}
	return nil
}

// PortRange is a contiguous, inclusive range of TCP ports.
type PortRange struct {
	Start uint16 `json:"start"`
	End   uint16 `json:"end"`
}

// DefaultPortRange returns the 1-1000 audit range.
func DefaultPortRange() PortRange {
	return PortRange{Start: DefaultStartPort, End: DefaultEndPort}
}

// ParsePortRange parses "start-end" or a single port.
func ParsePortRange(spec string) (PortRange, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return PortRange{}, &ScanError{Op: "parse ports", Err: fmt.Errorf("no ports specified")}
	}

	if !strings.Contains(spec, "-") {
		port, err := parsePort(spec)
		if err != nil {
			return PortRange{}, err
		}
		return PortRange{Start: port, End: port}, nil
	}

	rangeParts := strings.Split(spec, "-")
	if len(rangeParts) != expectedPortRangeParts {
		return PortRange{}, &ScanError{Op: "parse ports", Err: fmt.Errorf("invalid port range format: %s", spec)}
	}

	start, err := parsePort(rangeParts[0])
	if err != nil {
		return PortRange{}, err
	}
	end, err := parsePort(rangeParts[1])
	if err != nil {
		return PortRange{}, err
	}

	r := PortRange{Start: start, End: end}
	if err := r.Validate(); err != nil {
		return PortRange{}, err
	}
	return r, nil
}

func parsePort(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, &ScanError{Op: "parse ports", Err: fmt.Errorf("invalid port: %q", s)}
	}
	if port < minPort || port > maxPort {
		return 0, &ScanError{Op: "parse ports", Err: fmt.Errorf("port %d out of range (must be 1-65535)", port)}
	}
	return uint16(port), nil
}

// Validate checks that the range is non-empty and excludes port 0.
func (r PortRange) Validate() error {
	if r.Start < minPort {
		return &ScanError{Op: "validate ports", Err: fmt.Errorf("start port must be at least %d", minPort)}
	}
	if r.Start > r.End {
		return &ScanError{
			Op:  "validate ports",
			Err: fmt.Errorf("invalid port range: %s (start port must be <= end port)", r),
		}
	}
	return nil
}

// Size returns the number of ports in the range.
func (r PortRange) Size() int {
	if r.End < r.Start {
		return 0
	}
	return int(r.End) - int(r.Start) + 1
}

// Contains reports whether port lies within the range.
func (r PortRange) Contains(port uint16) bool {
	return port >= r.Start && port <= r.End
}

func (r PortRange) String() string {
	if r.Start == r.End {
		return strconv.Itoa(int(r.Start))
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// ScanResult holds what one scan of one target established.
type ScanResult struct {
	// Target is the host that was scanned.
	Target string
	// Range is the port range that was requested.
	Range PortRange
	// Ports is the sorted set of confirmed open ports.
	Ports []uint16
	// Probed counts probe completions the engine consumed.
	Probed int
	// StartedAt and FinishedAt bracket the scan.
	StartedAt  time.Time
	FinishedAt time.Time
	// Err explains an engine failure. It is nil for completed and interrupted scans.
	Err error
}

// Duration returns how long the scan ran.
func (r *ScanResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
