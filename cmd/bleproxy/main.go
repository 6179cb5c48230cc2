package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
	"github.com/srg/bleproxy/internal/message"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "bleproxy",
		Short: "Bluetooth LE advertisement proxy",
		Long: `Bluetooth Low Energy advertisement proxy for home-automation hubs:

- Scans for BLE advertisements on a local adapter
- Relays them to any number of hubs over a framed TCP protocol
- Announces itself on the local network via mDNS
- Monitors a running proxy from the command line`,
		Version: formatVersion(version),
		// Silence Cobra's "Error:" prefix - main() prints clean errors
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newMonitorCmd())
	root.AddCommand(newVersionCmd())

	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("verbose", false, "Enable debug logging")
	root.Flags().BoolP("version", "v", false, "Show version information")
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bleproxy %s (commit %s, built %s)\nprotocol API %d.%d\n",
				formatVersion(version), commit, date, message.APIVersionMajor, message.APIVersionMinor)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
