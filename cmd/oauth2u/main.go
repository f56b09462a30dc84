// Package main is the entry point for the oauth2u authorization server.
package main

import (
	"os"

	"github.com/giantswarm/oauth2u/cmd/oauth2u/app"
)

// Build-time variables set via ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	root := app.NewRootCmd(app.BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	})
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
