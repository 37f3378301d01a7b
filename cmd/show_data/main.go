// Command show_data prints the control room view of an event day: how many
// participants each checkpoint has confirmed and which scanners have gone quiet.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/xelth-com/yatrasync/internal/config"
	"github.com/xelth-com/yatrasync/internal/database"
	"github.com/xelth-com/yatrasync/internal/logging"
	"github.com/xelth-com/yatrasync/internal/models"
	"github.com/xelth-com/yatrasync/internal/store"
)

type report struct {
	Participants int
	Progress     []models.CheckpointProgress
	Devices      []models.RegisteredDevice
	Now          time.Time
	StaleAfter   time.Duration
}

var rootCmd = &cobra.Command{
	Use:          "show_data",
	Short:        "Print checkpoint progress and scanner activity from the server database",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log := logging.New(config.LogConfig{Level: "warn", Format: cfg.Log.Format})

		db, err := database.Connect(cfg.Database, log)
		if err != nil {
			fmt.Println("\n💡 Try starting the server first:")
			fmt.Println("   go run ./cmd/api")
			return fmt.Errorf("failed to connect: %w", err)
		}
		defer db.Close()

		s := store.New(db.DB, log)
		ctx := cmd.Context()

		rep := report{Now: time.Now().UTC()}
		rep.StaleAfter, _ = cmd.Flags().GetDuration("stale")

		participants, err := s.ListParticipantsSince(ctx, time.Time{})
		if err != nil {
			return err
		}
		rep.Participants = len(participants)
		if rep.Progress, err = s.Progress(ctx); err != nil {
			return err
		}
		if rep.Devices, err = s.ListDevices(ctx); err != nil {
			return err
		}

		printReport(os.Stdout, rep)
		return nil
	},
}

func printReport(w io.Writer, rep report) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║            🛕 Yatra Checkpoint Progress                   ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)

	fmt.Fprintf(w, "👥 Registered participants: %d\n\n", rep.Participants)

	fmt.Fprintln(w, "📍 CHECKPOINTS")
	fmt.Fprintln(w, "──────────────────────────────────────────────────────────")
	for _, p := range rep.Progress {
		pct := 0.0
		if rep.Participants > 0 {
			pct = float64(p.Confirmed) * 100 / float64(rep.Participants)
		}
		last := "no scans yet"
		if p.LastScanAt != nil {
			last = "last " + p.LastScanAt.Local().Format("15:04:05")
		}
		fmt.Fprintf(w, "  %d. %-24s %4d / %-4d %5.1f%%  (%s)\n",
			p.Sequence, p.Name, p.Confirmed, rep.Participants, pct, last)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "📱 SCANNERS")
	fmt.Fprintln(w, "──────────────────────────────────────────────────────────")
	if len(rep.Devices) == 0 {
		fmt.Fprintln(w, "  (no scanner has connected yet)")
	}
	for _, d := range rep.Devices {
		icon := "✅"
		switch {
		case d.Status == models.DeviceStatusBlocked:
			icon = "⛔"
		case rep.StaleAfter > 0 && rep.Now.Sub(d.LastSeenAt) > rep.StaleAfter:
			icon = "⚠️ "
		}
		fmt.Fprintf(w, "  %s %-24s %-8s seen %s ago\n",
			icon, d.DeviceID, d.Status, rep.Now.Sub(d.LastSeenAt).Round(time.Second))
	}
	fmt.Fprintln(w)
}

func main() {
	rootCmd.Flags().Duration("stale", 10*time.Minute, "flag scanners not seen for this long")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}
