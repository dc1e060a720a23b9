package main

import (
	"fmt"
	"os"

	"github.com/tphakala/eqroute/cmd"
	"github.com/tphakala/eqroute/internal/buildinfo"
	"github.com/tphakala/eqroute/internal/conf"
	"github.com/tphakala/eqroute/internal/logger"
)

// Set with -ldflags "-X main.version=... -X main.buildDate=...".
var (
	version   string
	buildDate string
)

func main() {
	settings := &conf.Settings{}

	rootCmd := cmd.RootCommand(settings, buildinfo.NewContext(version, buildDate))
	err := rootCmd.Execute()

	if closeErr := logger.Global().Close(); closeErr != nil {
		fmt.Fprintf(os.Stderr, "failed to close log files: %v\n", closeErr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
