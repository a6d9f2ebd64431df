// Command cortexd is both the cluster-coordination daemon (`cortexd run`)
// and the `cortex` operator CLI front-end for it: status, membership,
// and leadership commands talk to a running daemon over its local gRPC
// endpoint; `diag` and `config` work offline against the config file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

// cfgPath is bound to the persistent --config flag shared by every
// subcommand that needs to load configuration.
var cfgPath string

func main() {
	rootCmd := &cobra.Command{
		Use:     "cortex",
		Short:   "Peer-to-peer cluster coordination agent",
		Long:    "cortexd runs a leaderless-until-elected cluster of coordination nodes over a mesh-VPN overlay: consensus-backed membership, resource and health telemetry, and a leader-gated messaging gateway.",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath(), "Path to the cortexd config file")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(switchLeaderCmd())
	rootCmd.AddCommand(squelchCmd())
	rootCmd.AddCommand(testCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(topCmd())
	rootCmd.AddCommand(sshCmd())
	rootCmd.AddCommand(logsCmd())
	rootCmd.AddCommand(drainCmd())
	rootCmd.AddCommand(cordonCmd())
	rootCmd.AddCommand(uncordonCmd())
	rootCmd.AddCommand(tasksCmd())
	rootCmd.AddCommand(snapshotCmd())
	rootCmd.AddCommand(diagCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(deployCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		os.Exit(1)
	}
}
