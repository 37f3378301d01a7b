package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	yatrasync "github.com/xelth-com/yatrasync/internal/sync"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show device identity, pending scans and server reachability",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openAgent(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.net.Check(ctx)

		printStatus(os.Stdout, a.engine.SyncStatus())
		for _, rs := range a.net.Statuses() {
			mark := "🔴"
			if rs.IsAvailable {
				mark = "🟢"
			}
			fmt.Printf("   %s %s avg=%s ok=%d failed=%d\n", mark, rs.URL, rs.AvgLatency, rs.SuccessCount, rs.FailureCount)
		}

		if verbose, _ := cmd.Flags().GetBool("pending"); verbose {
			for _, it := range a.engine.Pending() {
				fmt.Printf("   ⏳ %s %s @ %s retries=%d\n", it.Event.ID, it.Event.ParticipantID, it.Event.CheckpointID, it.RetryCount)
			}
		}
		return nil
	},
}

var idCmd = &cobra.Command{
	Use:   "id",
	Short: "Print this device's ID, creating it on first use",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openAgent(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		fmt.Println(a.device.DeviceID)
		return nil
	},
}

func printStatus(w io.Writer, st yatrasync.SyncStatus) {
	conn := "offline"
	if st.Online {
		conn = "online"
	}
	fmt.Fprintf(w, "📟 %s  %s  state=%s  pending=%d\n", st.DeviceID, conn, st.State, st.Pending)
	if !st.LastSyncMark.IsZero() {
		fmt.Fprintf(w, "   last sync mark %s\n", st.LastSyncMark.Format(time.RFC3339))
	}
	if !st.BackoffUntil.IsZero() {
		fmt.Fprintf(w, "   backing off until %s\n", st.BackoffUntil.Format(time.RFC3339))
	}
	if st.LastError != "" {
		fmt.Fprintf(w, "   last error: %s\n", st.LastError)
	}
	for _, warn := range st.Warnings {
		fmt.Fprintf(w, "   ⚠️  %s\n", warn)
	}
}

func init() {
	statusCmd.Flags().Bool("pending", false, "list queued scans")
	rootCmd.AddCommand(statusCmd, idCmd)
}
