package audit

import (
	"bytes"
	"context"
	"net"
	"os"
	"strconv"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/portaudit/internal/analysis/mocks"
	"github.com/anstrom/portaudit/internal/errors"
	"github.com/anstrom/portaudit/internal/metrics"
	"github.com/anstrom/portaudit/internal/report"
	"github.com/anstrom/portaudit/internal/scanning"
)

type nopConn struct{ net.Conn }

func (nopConn) Close() error { return nil }

// fakeDial treats the listed ports as open and refuses everything else.
// Ports in hang block until the dial context ends.
func fakeDial(open []uint16, hang bool) scanning.DialFunc {
	set := make(map[uint16]bool, len(open))
	for _, p := range open {
		set[p] = true
	}
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		_, portStr, _ := net.SplitHostPort(address)
		port, _ := strconv.Atoi(portStr)
		if set[uint16(port)] {
			return nopConn{}, nil
		}
		if hang {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	}
}

type event struct {
	kind string
	port uint16
}

type recordingObserver struct {
	mu      sync.Mutex
	events  []event
	status  scanning.ScanStatus
	onOpen  func()
	probed  int
	scanIDs map[string]bool
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{scanIDs: make(map[string]bool)}
}

func (o *recordingObserver) ScanStarted(scanID, target string, ports scanning.PortRange) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scanIDs[scanID] = true
	o.events = append(o.events, event{kind: "started"})
}

func (o *recordingObserver) PortOpen(scanID string, port uint16) {
	o.mu.Lock()
	o.scanIDs[scanID] = true
	o.events = append(o.events, event{kind: "open", port: port})
	onOpen := o.onOpen
	o.mu.Unlock()
	if onOpen != nil {
		onOpen()
	}
}

func (o *recordingObserver) Progress(scanID string, probed, total int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.probed = probed
}

func (o *recordingObserver) ScanFinished(scanID string, result *scanning.ScanResult, status scanning.ScanStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scanIDs[scanID] = true
	o.status = status
	o.events = append(o.events, event{kind: "finished"})
}

type fixture struct {
	dir      string
	console  *bytes.Buffer
	analyzer *mocks.MockAnalyzer
	observer *recordingObserver
}

func newRunner(t *testing.T, scanCfg scanning.Config, dial scanning.DialFunc, opts ...Option) (*Runner, *fixture) {
	t.Helper()

	f := &fixture{
		dir:      t.TempDir(),
		console:  &bytes.Buffer{},
		analyzer: mocks.NewMockAnalyzer(gomock.NewController(t)),
		observer: newRecordingObserver(),
	}
	m := metrics.NewPrometheusMetrics()

	sink := report.NewSink(report.Config{OutputDir: f.dir, Format: report.FormatMarkdown},
		report.WithAnalyzer(f.analyzer),
		report.WithConsole(f.console),
		report.WithMetrics(m))

	base := []Option{
		WithConsole(f.console),
		WithDialer(dial),
		WithObserver(f.observer),
		WithMetrics(m),
	}
	runner := NewRunner(Config{Scan: scanCfg, Ports: scanning.PortRange{Start: 1, End: 1000}}, sink,
		append(base, opts...)...)
	return runner, f
}

func scanConfig() scanning.Config {
	return scanning.Config{Concurrency: 100, Timeout: time.Second}
}

func TestRun_CompletedWithFindings(t *testing.T) {
	runner, f := newRunner(t, scanConfig(), fakeDial([]uint16{22, 80, 443}, false))
	f.analyzer.EXPECT().Model().Return("gemini-test")
	f.analyzer.EXPECT().Analyze(gomock.Any(), []uint16{22, 80, 443}).Return("analysis", nil)

	outcome, err := runner.Run(context.Background(), "10.0.0.1")

	require.NoError(t, err)
	assert.Equal(t, scanning.StatusCompleted, outcome.Status)
	assert.Equal(t, []uint16{22, 80, 443}, outcome.Result.Ports)
	assert.NotEmpty(t, outcome.ScanID)
	assert.FileExists(t, outcome.Delivery.Path)
	assert.Equal(t, report.SectionAnalysis, outcome.Delivery.Section)

	console := f.console.String()
	assert.Contains(t, console, "Starting multi-threaded scan on 10.0.0.1")
	for _, want := range []string{"Found open port: 22", "Found open port: 80", "Found open port: 443"} {
		assert.Contains(t, console, want)
	}

	assert.Equal(t, scanning.StatusCompleted, f.observer.status)
	assert.Equal(t, 1000, f.observer.probed)
	assert.Len(t, f.observer.scanIDs, 1)
	assert.True(t, f.observer.scanIDs[outcome.ScanID])
	assert.Equal(t, "started", f.observer.events[0].kind)
	assert.Equal(t, "finished", f.observer.events[len(f.observer.events)-1].kind)
}

func TestRun_EmptyScanWritesNothing(t *testing.T) {
	runner, f := newRunner(t, scanConfig(), fakeDial(nil, false))

	outcome, err := runner.Run(context.Background(), "10.0.0.1")

	require.NoError(t, err)
	assert.Equal(t, scanning.StatusCompleted, outcome.Status)
	assert.Empty(t, outcome.Delivery.Path)
	assert.False(t, outcome.Delivery.Analyzed)
	assert.Contains(t, f.console.String(), report.MsgNoOpenPorts)
}

func TestRun_InterruptedSavesPartialFindings(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner, f := newRunner(t, scanning.Config{Concurrency: 4, Timeout: 10 * time.Second},
		fakeDial([]uint16{2}, true))
	f.observer.onOpen = cancel

	outcome, err := runner.Run(ctx, "10.0.0.1")

	require.NoError(t, err, "cancellation is not an error")
	assert.Equal(t, scanning.StatusInterrupted, outcome.Status)
	assert.Equal(t, []uint16{2}, outcome.Result.Ports)
	assert.Equal(t, report.SectionInterrupted, outcome.Delivery.Section)
	assert.FileExists(t, outcome.Delivery.Path)
	assert.Contains(t, f.console.String(), "Cancelling scan on 10.0.0.1: interrupted by user.")
}

func TestRun_EngineFailure(t *testing.T) {
	runner, f := newRunner(t, scanning.Config{Concurrency: 0, Timeout: time.Second}, fakeDial([]uint16{22}, false))

	outcome, err := runner.Run(context.Background(), "10.0.0.1")

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeEngineFailure))
	assert.True(t, errors.IsFatal(err))
	require.NotNil(t, outcome)
	assert.Equal(t, scanning.StatusEngineFailure, outcome.Status)
	assert.Empty(t, outcome.Delivery.Path)
	assert.Contains(t, f.console.String(), report.MsgNoPortsEngineFailure)
}

func TestRun_SkipsWhileAnotherAuditRuns(t *testing.T) {
	gate := scanning.NewFixedResourceManager(1)
	require.NoError(t, gate.TryAcquire("running"))

	runner, _ := newRunner(t, scanConfig(), fakeDial(nil, false), WithResourceManager(gate))

	outcome, err := runner.Run(context.Background(), "10.0.0.1")

	assert.Nil(t, outcome)
	assert.ErrorIs(t, err, scanning.ErrScanInProgress)

	gate.Release("running")
	_, err = runner.Run(context.Background(), "10.0.0.1")
	assert.NoError(t, err)
	assert.Equal(t, 1, gate.GetAvailableSlots(), "slot is released after the audit")
}

func TestRun_EachAuditGetsNewScanID(t *testing.T) {
	runner, _ := newRunner(t, scanConfig(), fakeDial(nil, false))

	first, err := runner.Run(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	second, err := runner.Run(context.Background(), "10.0.0.1")
	require.NoError(t, err)

	assert.NotEqual(t, first.ScanID, second.ScanID)
}
