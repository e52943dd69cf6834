// Command portaudit audits a host for open TCP ports and writes a security report.
package main

import (
	"os"

	"github.com/anstrom/portaudit/cmd/cli"
)

// Build information, set through ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	os.Exit(cli.Execute())
}
