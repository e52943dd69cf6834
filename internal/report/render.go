package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/anstrom/portaudit/internal/scanning"
)

const (
	scanDateLayout = "2006-01-02 15:04:05"
	codeFence      = "```"
)

// SectionKind identifies what the enrichment section of a report holds.
type SectionKind string

const (
	SectionAnalysis            SectionKind = "analysis"
	SectionAnalysisUnavailable SectionKind = "analysis_unavailable"
	SectionAnalysisDisabled    SectionKind = "analysis_disabled"
	SectionInterrupted         SectionKind = "interrupted"
	SectionAborted             SectionKind = "aborted"
)

// Fixed texts for the sections that do not come from the analyzer.
const (
	textAnalysisUnavailable = "**[!] AI Analysis Unavailable (API ERROR)**"
	textAnalysisDisabled    = "**[i] AI analysis disabled**\nThis report was generated without AI analysis."
	textInterrupted         = "**[!] SCAN INTERRUPTED**\nAI Analysis was skipped because the user cancelled the scan."
	textAborted             = "**[!] SCAN ABORTED**\nThe scan engine stopped before the port range was exhausted. " +
		"AI Analysis was skipped and the findings above are partial."
)

// Section is the enrichment part of a report.
type Section struct {
	Kind SectionKind `json:"kind"`
	Text string      `json:"text"`
}

func analysisSection(text string) Section {
	return Section{Kind: SectionAnalysis, Text: text}
}

func fixedSection(kind SectionKind) Section {
	switch kind {
	case SectionAnalysisUnavailable:
		return Section{Kind: kind, Text: textAnalysisUnavailable}
	case SectionAnalysisDisabled:
		return Section{Kind: kind, Text: textAnalysisDisabled}
	case SectionInterrupted:
		return Section{Kind: kind, Text: textInterrupted}
	case SectionAborted:
		return Section{Kind: kind, Text: textAborted}
	default:
		return Section{Kind: kind}
	}
}

// PortEntry is one open port with its conventional service name.
type PortEntry struct {
	Port    uint16 `json:"port"`
	Service string `json:"service"`
}

func portEntries(ports []uint16) []PortEntry {
	entries := make([]PortEntry, len(ports))
	for i, port := range ports {
		entries[i] = PortEntry{Port: port, Service: ServiceName(port)}
	}
	return entries
}

// Document is the JSON report layout.
type Document struct {
	ScanID     string              `json:"scan_id,omitempty"`
	Target     string              `json:"target"`
	ScanDate   time.Time           `json:"scan_date"`
	Status     scanning.ScanStatus `json:"status"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	OpenPorts  []PortEntry         `json:"open_ports"`
	Analysis   Section             `json:"analysis"`
}

func renderJSON(w io.Writer, f Findings, section Section, scanDate time.Time) error {
	doc := Document{
		ScanID:     f.ScanID,
		Target:     f.Target,
		ScanDate:   scanDate,
		Status:     f.Status,
		StartedAt:  f.StartedAt,
		FinishedAt: f.FinishedAt,
		OpenPorts:  portEntries(f.Ports),
		Analysis:   section,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func renderMarkdown(w io.Writer, f Findings, section Section, scanDate time.Time) error {
	var b strings.Builder

	b.WriteString("# Automated Network Security Report\n\n")
	fmt.Fprintf(&b, "**Target:** %s | **Scan Date:** %s | **Status:** %s\n",
		f.Target, scanDate.Format(scanDateLayout), f.Status)
	if f.ScanID != "" {
		fmt.Fprintf(&b, "**Scan ID:** %s\n", f.ScanID)
	}
	b.WriteString("\n---\n\n")

	b.WriteString("## Raw Findings\n\n")
	b.WriteString("**Open Ports Detected:**\n\n")
	fmt.Fprintf(&b, "%sjson\n%s\n%s\n\n", codeFence, portList(f.Ports), codeFence)

	b.WriteString("| Port | State | Service |\n")
	b.WriteString("|------|-------|---------|\n")
	for _, entry := range portEntries(f.Ports) {
		fmt.Fprintf(&b, "| %d | open | %s |\n", entry.Port, entry.Service)
	}
	b.WriteString("\n---\n\n")

	b.WriteString(section.Text)
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// PrintTable writes the findings as a console table.
func PrintTable(w io.Writer, ports []uint16) {
	table := tablewriter.NewWriter(w)
	table.Header("Port", "State", "Service")

	for _, entry := range portEntries(ports) {
		_ = table.Append([]string{
			fmt.Sprint(entry.Port),
			"open",
			entry.Service,
		})
	}

	_ = table.Render()
}
