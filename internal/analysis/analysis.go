// Package analysis asks an external language model to annotate the open
// ports of an audit with their usual services, risks and mitigations.
package analysis

import (
	"context"
	"fmt"
	"strings"
)

//go:generate mockgen -destination=mocks/mock_analyzer.go -package=mocks . Analyzer

// Analyzer produces a security analysis for a set of open ports.
type Analyzer interface {
	// Analyze returns the analysis text for ports. Implementations return an
	// error rather than empty text when the service gives no usable answer.
	Analyze(ctx context.Context, ports []uint16) (string, error)

	// Model names the model that produces the analysis.
	Model() string
}

const systemInstruction = "Act as a Senior Cybersecurity Analyst."

// BuildPrompt renders the analyst prompt for ports. The target address is
// never part of the prompt.
func BuildPrompt(ports []uint16) string {
	list := make([]string, len(ports))
	for i, port := range ports {
		list[i] = fmt.Sprint(port)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "I have scanned a network host and found these open TCP ports: [%s].\n", strings.Join(list, ", "))
	b.WriteString(systemInstruction + "\n")
	b.WriteString("For each port, explain:\n")
	b.WriteString("1. What service usually runs on it.\n")
	b.WriteString("2. The potential security risks.\n")
	b.WriteString("3. How to secure it.\n")
	b.WriteString("Keep it concise and professional.\n")
	return b.String()
}
