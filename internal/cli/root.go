// Package cli implements the pcbmill command line.
package cli

import (
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X pcbmill/internal/cli.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "pcbmill",
	Short:         "Versioned Gerber to G-code workspace for PCB milling",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
