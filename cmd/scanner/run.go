package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	yatrasync "github.com/xelth-com/yatrasync/internal/sync"
	"github.com/xelth-com/yatrasync/internal/websocket"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scanner agent, reading scanned tokens from stdin",
	Long: `Run the scanner agent.

Each input line is one scan: the decoded QR token (or bare badge number),
optionally followed by a checkpoint ID when the scanner is not bound to one.

  PALITANA_YATRA_17
  17 C3

Other commands:
  sync     push and poll now
  status   print the sync indicator
  quit     stop the agent`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openAgent(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if cp, _ := cmd.Flags().GetString("checkpoint"); cp != "" {
			a.cfg.CheckpointID = cp
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if a.cfg.Sync.SyncOnStartup {
			a.net.Check(ctx)
		}
		if err := a.engine.Start(ctx); err != nil {
			return err
		}

		if a.cfg.Sync.NotificationsEnabled {
			go websocket.Listen(ctx, websocket.ListenerConfig{
				BaseURL:  a.net.CurrentRoute,
				Token:    a.cfg.Token,
				DeviceID: a.device.DeviceID,
				MaxDelay: a.cfg.Sync.BackoffMaxDelay(),
			}, a.engine.RemoteChanged, a.log)
		}

		fmt.Printf("📟 Scanner %s ready at checkpoint %q\n", a.device.DeviceID, a.cfg.CheckpointID)

		lines := make(chan string)
		go func() {
			defer close(lines)
			readLines(os.Stdin, lines)
		}()

		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if quit := handleLine(ctx, a, line, os.Stdout); quit {
					return nil
				}
			}
		}
	},
}

func readLines(r io.Reader, out chan<- string) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		out <- sc.Text()
	}
}

// handleLine executes one input line and reports whether to quit
func handleLine(ctx context.Context, a *agent, line string, w io.Writer) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch strings.ToLower(fields[0]) {
	case "quit", "exit":
		return true
	case "sync":
		printCycle(w, a.engine.SyncNow(ctx))
		return false
	case "status":
		printStatus(w, a.engine.SyncStatus())
		return false
	}

	checkpoint := a.cfg.CheckpointID
	if len(fields) > 1 {
		checkpoint = fields[1]
	}
	if checkpoint == "" {
		fmt.Fprintln(w, "❌ No checkpoint: set CHECKPOINT_ID or pass it after the token")
		return false
	}

	p, res, err := a.engine.AddScanByToken(fields[0], checkpoint, nil)
	switch {
	case errors.Is(err, yatrasync.ErrUnknownToken):
		fmt.Fprintf(w, "❓ Unknown badge %s (participant list not synced yet?)\n", fields[0])
	case err != nil:
		fmt.Fprintf(w, "❌ %v\n", err)
	case res.Duplicate:
		fmt.Fprintf(w, "♻️  %s already scanned at %s\n", p.Name, checkpoint)
	default:
		fmt.Fprintf(w, "✅ %s recorded at %s (%d pending)\n", p.Name, checkpoint, a.engine.SyncStatus().Pending)
	}
	return false
}

func printCycle(w io.Writer, res yatrasync.CycleResult) {
	if res.Err != nil {
		fmt.Fprintf(w, "⚠️  Sync incomplete: %v\n", res.Err)
	}
	fmt.Fprintf(w, "🔄 pushed=%d accepted=%d duplicates=%d rejected=%d evicted=%d\n",
		res.Pushed, res.Accepted, res.Duplicates, res.Rejected, res.Evicted)
}

func init() {
	runCmd.Flags().StringP("checkpoint", "c", "", "checkpoint ID (overrides CHECKPOINT_ID)")
	rootCmd.AddCommand(runCmd)
}
