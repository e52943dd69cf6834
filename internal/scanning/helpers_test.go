package scanning

import (
	"context"
	"net"
	"os"
	"strconv"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeConn counts Close calls; every other net.Conn method is unused.
type fakeConn struct {
	net.Conn
	closed *atomic.Int32
}

func (c *fakeConn) Close() error {
	c.closed.Add(1)
	return nil
}

// fakeNetwork answers dials from a table of open ports. Every other port
// refuses the connection.
type fakeNetwork struct {
	open   map[uint16]bool
	delay  time.Duration
	errFor func(port uint16) error

	dials    atomic.Int32
	closed   atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
}

func newFakeNetwork(open ...uint16) *fakeNetwork {
	n := &fakeNetwork{open: make(map[uint16]bool)}
	for _, port := range open {
		n.open[port] = true
	}
	return n
}

func (n *fakeNetwork) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	_, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}
	port := uint16(p)

	n.dials.Add(1)
	current := n.inFlight.Add(1)
	defer n.inFlight.Add(-1)
	for {
		peak := n.peak.Load()
		if current <= peak || n.peak.CompareAndSwap(peak, current) {
			break
		}
	}

	if n.delay > 0 {
		select {
		case <-time.After(n.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if n.errFor != nil {
		if err := n.errFor(port); err != nil {
			return nil, err
		}
	}

	if n.open[port] {
		return &fakeConn{closed: &n.closed}, nil
	}
	return nil, refusedError()
}

// blackholeDial never answers; it only returns once ctx expires.
func blackholeDial(ctx context.Context, network, address string) (net.Conn, error) {
	<-ctx.Done()
	return nil, &net.OpError{Op: "dial", Net: network, Err: ctx.Err()}
}

func refusedError() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
}

func exhaustedError() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("socket", syscall.EMFILE)}
}

// timeoutError is a net.Error that reports a timeout.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// listenLoopback starts a TCP listener on 127.0.0.1 that accepts and
// immediately closes connections.
func listenLoopback(t *testing.T) uint16 {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	return uint16(ln.Addr().(*net.TCPAddr).Port)
}

// closedLoopbackPort returns a loopback port that had a listener a moment ago
// and now refuses connections.
func closedLoopbackPort(t *testing.T) uint16 {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	require.NoError(t, ln.Close())
	return port
}
