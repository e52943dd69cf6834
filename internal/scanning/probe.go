package scanning

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/anstrom/portaudit/internal/logging"
)

// DialFunc opens a connection. It has the signature of net.Dialer.DialContext
// so tests can substitute a fake network.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ProbeDetail is the full outcome of one probe.
type ProbeDetail struct {
	Port    uint16
	Outcome ProbeOutcome
	// ResourceExhausted is set when an Error was caused by local descriptor,
	// buffer or memory exhaustion.
	ResourceExhausted bool
	Err               error
	RTT               time.Duration
}

// Prober performs single TCP connect probes.
type Prober struct {
	dial   DialFunc
	logger *logging.Logger
}

// NewProber creates a prober. A nil dial uses a plain net.Dialer.
func NewProber(dial DialFunc) *Prober {
	return &Prober{
		dial:   dial,
		logger: logging.Default().WithComponent("probe"),
	}
}

// Probe attempts one connection to target:port and classifies the outcome.
func (p *Prober) Probe(ctx context.Context, target string, port uint16, timeout time.Duration) ProbeOutcome {
	return p.ProbeDetail(ctx, target, port, timeout).Outcome
}

// ProbeDetail attempts one connection and returns the classified outcome
// with its cause. The connection, if any, is closed before returning.
func (p *Prober) ProbeDetail(ctx context.Context, target string, port uint16, timeout time.Duration) ProbeDetail {
	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dial := p.dial
	if dial == nil {
		d := &net.Dialer{Timeout: timeout}
		dial = d.DialContext
	}

	start := time.Now()
	conn, err := dial(connCtx, "tcp", net.JoinHostPort(target, strconv.Itoa(int(port))))
	detail := ProbeDetail{Port: port, RTT: time.Since(start)}

	if err == nil {
		if conn != nil {
			if closeErr := conn.Close(); closeErr != nil {
				p.logger.Debug("Failed to close probe connection",
					"target", target, "port", port, "error", closeErr)
			}
		}
		detail.Outcome = OutcomeOpen
		return detail
	}

	detail.Err = err
	detail.Outcome, detail.ResourceExhausted = classifyDialError(ctx, err)
	return detail
}

// classifyDialError maps a dial failure onto a probe outcome. ctx is the
// caller's context, not the per-probe one, so a cancelled scan is reported
// as an error rather than a timeout.
func classifyDialError(ctx context.Context, err error) (ProbeOutcome, bool) {
	if isConnectionRefused(err) {
		return OutcomeClosed, false
	}
	if ctx.Err() != nil {
		return OutcomeError, false
	}
	if isResourceExhausted(err) {
		return OutcomeError, true
	}
	if isTimeout(err) {
		return OutcomeTimeout, false
	}
	return OutcomeError, false
}

func isConnectionRefused(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	// Some platforms only surface the refusal in the message.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "actively refused")
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isResourceExhausted(err error) bool {
	return errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ENOBUFS) ||
		errors.Is(err, syscall.ENOMEM)
}
