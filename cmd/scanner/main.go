// Command scanner is the checkpoint agent that runs on a handheld device.
// It records scans into a durable local queue and syncs them whenever the
// base camp server is reachable.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "scanner",
	Short: "Offline-first checkpoint scanner for the yatra",
	Long: `Offline-first checkpoint scanner for the yatra.

Scans are saved locally before anything else happens and pushed to the
server when a connection is available. Configuration comes from the
environment (or a .env file):

  SCANNER_PRIMARY_URL    base camp server, e.g. http://10.0.0.5:3210
  SCANNER_FALLBACK_URL   server reachable over mobile data
  DEVICE_TOKEN           token issued with the issue_token command
  CHECKPOINT_ID          checkpoint this scanner is stationed at
  SCANNER_DATA_PATH      local database (default ./.yatra/scanner.db)
  SYNC_CONFIG_PATH       optional JSON file with sync tunables`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("data", "", "local database path (overrides SCANNER_DATA_PATH)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
