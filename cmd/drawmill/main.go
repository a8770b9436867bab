package main

import (
	"context"

	"github.com/3leaps/drawmill/internal/cmd"
)

// Build metadata, stamped via -ldflags at release time.
var (
	version   = "dev"
	commit    = "HEAD"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	cmd.Execute(context.Background())
}
