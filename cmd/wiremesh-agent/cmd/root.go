// Package cmd implements the wiremesh-agent CLI commands.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	verbosity int
)

// Build info set from main.
var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

// SetVersionInfo sets the version info from build-time ldflags.
func SetVersionInfo(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date
	rootCmd.Version = buildVersion
	rootCmd.SetVersionTemplate(fmt.Sprintf("wiremesh-agent version {{.Version}}\ncommit: %s\nbuilt: %s\n", buildCommit, buildDate))
}

var rootCmd = &cobra.Command{
	Use:   "wiremesh-agent",
	Short: "wiremesh-agent maintains a WireGuard mesh from a shared registry",
	Long: "wiremesh-agent is a node agent that allocates a tunnel address, publishes\n" +
		"its peer record to a distributed KV registry under a session lock, and\n" +
		"continuously reconciles the local WireGuard interface against the peer\n" +
		"set every other node publishes the same way.",
	// No Run function — prints help by default.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "optional YAML config file (CLI flags always override)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "verbosity level (repeatable: -v, -vv)")

	rootCmd.Version = buildVersion
	rootCmd.SetVersionTemplate(fmt.Sprintf("wiremesh-agent version {{.Version}}\ncommit: %s\nbuilt: %s\n", buildCommit, buildDate))
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
