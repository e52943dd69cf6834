package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/anstrom/portaudit/internal/analysis"
	"github.com/anstrom/portaudit/internal/errors"
	"github.com/anstrom/portaudit/internal/logging"
	"github.com/anstrom/portaudit/internal/metrics"
	"github.com/anstrom/portaudit/internal/scanning"
)

const (
	reportDirPerm  = 0750
	reportFilePerm = 0640

	filenamePrefix    = "Audit_Report_"
	filenameTimestamp = "2006-01-02_15-04-05"
	maxNameAttempts   = 100
)

// Format is the report artifact format.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatMarkdown, FormatJSON:
		return Format(s), nil
	case "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported report format: %q", s)
	}
}

// Extension returns the artifact file extension including the dot.
func (f Format) Extension() string {
	if f == FormatJSON {
		return ".json"
	}
	return ".md"
}

// Console messages shown when no artifact is written.
const (
	MsgNoOpenPorts          = "No open ports found. No need for a report."
	MsgNoPortsInterrupted   = "No open ports found before the scan was interrupted. No report written."
	MsgNoPortsEngineFailure = "Scan aborted before any open port was confirmed. No report written."
)

// Config holds report sink settings.
type Config struct {
	OutputDir string
	Format    Format
}

// Delivery describes what the sink did with one set of findings.
type Delivery struct {
	// Path is the artifact path, empty when nothing was written.
	Path string
	// Section is the enrichment that went into the artifact.
	Section SectionKind
	// Analyzed is true when the analyzer was called.
	Analyzed bool
	// AnalysisErr is the analyzer failure, if any.
	AnalysisErr error
}

// Option customizes a Sink.
type Option func(*Sink)

// WithAnalyzer enables AI enrichment through a.
func WithAnalyzer(a analysis.Analyzer) Option {
	return func(s *Sink) {
		s.analyzer = a
	}
}

// WithConsole sets where human-readable progress is printed.
func WithConsole(w io.Writer) Option {
	return func(s *Sink) {
		s.console = w
	}
}

// WithMetrics sets the Prometheus metrics the sink reports to.
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(s *Sink) {
		s.metrics = m
	}
}

// WithClock overrides the clock used for artifact names and scan dates.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) {
		s.now = now
	}
}

// Sink delivers audit findings to the console and a report artifact.
type Sink struct {
	config   Config
	analyzer analysis.Analyzer
	console  io.Writer
	metrics  *metrics.PrometheusMetrics
	logger   *logging.Logger
	now      func() time.Time
}

// NewSink creates a report sink. Without WithAnalyzer, reports carry an
// "analysis disabled" note.
func NewSink(config Config, opts ...Option) *Sink {
	if config.Format == "" {
		config.Format = FormatMarkdown
	}
	if config.OutputDir == "" {
		config.OutputDir = "."
	}

	s := &Sink{
		config:  config,
		console: os.Stdout,
		logger:  logging.Default().WithComponent("report"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.GetGlobalMetrics()
	}
	return s
}

// Deliver prints the findings and writes the report artifact when there is
// something to report. Raw findings are always written, even when the
// analysis fails. The returned error is only set when the artifact could
// not be written.
func (s *Sink) Deliver(ctx context.Context, f Findings) (*Delivery, error) {
	delivery := &Delivery{}
	format := string(s.config.Format)

	if !f.HasPorts() {
		s.printf("\n%s\n", emptyMessage(f.Status))
		s.metrics.IncrementReports(format, "skipped")
		s.logger.InfoReport("No report written", "target", f.Target, "status", f.Status.String())
		return delivery, nil
	}

	if s.console != nil {
		s.printf("\n")
		PrintTable(s.console, f.Ports)
	}

	var section Section
	switch f.Status {
	case scanning.StatusInterrupted:
		s.printf("\n[*] Saving partial findings for %d ports...\n", len(f.Ports))
		section = fixedSection(SectionInterrupted)
	case scanning.StatusEngineFailure:
		s.printf("\n[!] Scan aborted. Saving partial findings for %d ports...\n", len(f.Ports))
		section = fixedSection(SectionAborted)
	default:
		if s.analyzer == nil {
			section = fixedSection(SectionAnalysisDisabled)
			break
		}
		delivery.Analyzed = true
		section, delivery.AnalysisErr = s.analyze(ctx, f)
	}
	delivery.Section = section.Kind

	path, err := s.write(f, section)
	if err != nil {
		s.printf("\n[X] Error while saving report: %v\n", err)
		s.metrics.IncrementReports(format, "failed")
		s.logger.ErrorReport("Failed to save report", err, "target", f.Target)
		return delivery, err
	}

	delivery.Path = path
	s.metrics.IncrementReports(format, "written")
	metrics.Counter(metrics.MetricReportsWritten, metrics.Labels{metrics.LabelFormat: format})
	s.printf("\n[✔] Report successfully saved to: %s\n", path)
	s.logger.InfoReport("Report saved",
		"path", path,
		"target", f.Target,
		"status", f.Status.String(),
		"section", string(section.Kind))
	return delivery, nil
}

func emptyMessage(status scanning.ScanStatus) string {
	switch status {
	case scanning.StatusInterrupted:
		return MsgNoPortsInterrupted
	case scanning.StatusEngineFailure:
		return MsgNoPortsEngineFailure
	default:
		return MsgNoOpenPorts
	}
}

// analyze asks the analyzer for enrichment, falling back to the
// unavailable section on failure.
func (s *Sink) analyze(ctx context.Context, f Findings) (Section, error) {
	s.printf("\n[+] Sending %d ports to AI Analyst...\n", len(f.Ports))

	model := s.analyzer.Model()
	timer := metrics.NewTimer(metrics.MetricAnalysisDuration, metrics.Labels{"model": model})
	start := time.Now()
	text, err := s.analyzer.Analyze(ctx, f.Ports)
	timer.Stop()

	if err != nil {
		s.metrics.RecordAnalysisCall("error", time.Since(start))
		s.printf("\n[X] AI Analysis Failed: %v\n", err)
		s.logger.ErrorAnalysis("Analysis failed, writing raw findings only", err,
			"model", model, "ports", len(f.Ports))
		return fixedSection(SectionAnalysisUnavailable), err
	}

	s.metrics.RecordAnalysisCall("success", time.Since(start))
	s.logger.InfoAnalysis("Analysis completed", "model", model, "ports", len(f.Ports))
	return analysisSection(text), nil
}

// write renders the artifact and stores it under a fresh timestamped name.
func (s *Sink) write(f Findings, section Section) (string, error) {
	scanDate := s.now()

	var buf bytes.Buffer
	var err error
	if s.config.Format == FormatJSON {
		err = renderJSON(&buf, f, section, scanDate)
	} else {
		err = renderMarkdown(&buf, f, section, scanDate)
	}
	if err != nil {
		return "", errors.WrapReportError(errors.CodeReportWrite, "failed to render report", "", err)
	}

	if err := os.MkdirAll(s.config.OutputDir, reportDirPerm); err != nil {
		return "", errors.WrapReportError(errors.CodeDirectoryCreate, "failed to create report directory",
			s.config.OutputDir, err)
	}

	file, path, err := s.createArtifact(scanDate)
	if err != nil {
		return "", err
	}

	if _, err := file.Write(buf.Bytes()); err != nil {
		_ = file.Close()
		return "", errors.WrapReportError(errors.CodeReportWrite, "failed to write report", path, err)
	}
	if err := file.Close(); err != nil {
		return "", errors.WrapReportError(errors.CodeReportWrite, "failed to close report", path, err)
	}
	return path, nil
}

// createArtifact opens a new file named after scanDate. A suffix is added
// when an audit in the same second already claimed the name.
func (s *Sink) createArtifact(scanDate time.Time) (*os.File, string, error) {
	base := filenamePrefix + scanDate.Format(filenameTimestamp)
	ext := s.config.Format.Extension()

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := base + ext
		if attempt > 0 {
			name = fmt.Sprintf("%s_%d%s", base, attempt, ext)
		}
		path := filepath.Join(s.config.OutputDir, name)

		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, reportFilePerm)
		if err == nil {
			return file, path, nil
		}
		if !os.IsExist(err) {
			return nil, "", errors.WrapReportError(errors.CodeReportWrite, "failed to create report", path, err)
		}
	}

	return nil, "", errors.WrapReportError(errors.CodeReportWrite, "no free report name",
		filepath.Join(s.config.OutputDir, base+ext), os.ErrExist)
}

// ArtifactName returns the file name a report written at t would get.
func ArtifactName(t time.Time, format Format) string {
	return filenamePrefix + t.Format(filenameTimestamp) + format.Extension()
}

func (s *Sink) printf(format string, args ...any) {
	if s.console == nil {
		return
	}
	_, _ = fmt.Fprintf(s.console, format, args...)
}
