package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "tlog",
	Short: "Track which kind of work you are doing and keep a log of sessions",
	Long: `tlog watches the focused window, the active browser tab and an optional
hardware controller, classifies them into categories and accumulates time
per category until you stop and save the session.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		noColor = noColor || os.Getenv("NO_COLOR") != "" || !isatty.IsTerminal(os.Stderr.Fd())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the tlog version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tlog version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(
		startCmd,
		stopCmd,
		statusCmd,
		trackCmd,
		sessionsCmd,
		statsCmd,
		rulesCmd,
		configCmd,
		watchCmd,
		controllerCmd,
		mcpCmd,
		versionCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
