package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/xelth-com/yatrasync/internal/config"
	"github.com/xelth-com/yatrasync/internal/database"
	"github.com/xelth-com/yatrasync/internal/logging"
	"github.com/xelth-com/yatrasync/internal/models"
	"github.com/xelth-com/yatrasync/internal/store"
	"github.com/xelth-com/yatrasync/internal/utils"
)

// Checkpoints along the Shatrunjaya climb, base to summit
var routeCheckpoints = []models.Checkpoint{
	{ID: "C1", Name: "Jay Taleti", Sequence: 1},
	{ID: "C2", Name: "Hanuman Dhara", Sequence: 2},
	{ID: "C3", Name: "Ram Pol", Sequence: 3},
	{ID: "C4", Name: "Dada Adinath Derasar", Sequence: 4},
}

var rootCmd = &cobra.Command{
	Use:   "seed_demo",
	Short: "Seed participants and route checkpoints into the server database",
	Long: `Seed participants and route checkpoints into the server database.

Without --csv, demo participants PALITANA_YATRA_1..N are generated.
A CSV file must have a header row with these columns (any order):

  id,name,mobile,qrToken,emergencyContact,bloodGroup,age

Re-running is safe: rows are upserted, the latest import wins.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log := logging.New(cfg.Log)

		db, err := database.Connect(cfg.Database, log)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		log.Info("🔨 Running database migrations...")
		if err := db.MigrateServer(); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		var participants []models.Participant
		if path, _ := cmd.Flags().GetString("csv"); path != "" {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			if participants, err = readParticipantsCSV(f); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
		} else {
			n, _ := cmd.Flags().GetInt("participants")
			participants = demoParticipants(n)
		}

		return seed(cmd.Context(), store.New(db.DB, log), participants, log)
	},
}

func seed(ctx context.Context, s *store.ScanStore, participants []models.Participant, log logrus.FieldLogger) error {
	if err := s.UpsertCheckpoints(ctx, routeCheckpoints); err != nil {
		return fmt.Errorf("failed to seed checkpoints: %w", err)
	}
	log.WithField("count", len(routeCheckpoints)).Info("📍 Checkpoints seeded")

	n, err := s.UpsertParticipants(ctx, participants)
	if err != nil {
		return fmt.Errorf("failed to seed participants: %w", err)
	}
	log.WithField("count", n).Info("👥 Participants seeded")
	return nil
}

func demoParticipants(n int) []models.Participant {
	groups := []string{"A+", "B+", "O+", "AB+", "A-", "O-"}
	out := make([]models.Participant, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, models.Participant{
			ID:         fmt.Sprintf("P%d", i),
			Name:       fmt.Sprintf("Yatri %d", i),
			QRToken:    utils.BadgeToken(strconv.Itoa(i)),
			BloodGroup: groups[i%len(groups)],
			Age:        18 + i%60,
		})
	}
	return out
}

func readParticipantsCSV(r io.Reader) ([]models.Participant, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	for _, required := range []string{"id", "name", "qrToken"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	get := func(rec []string, name string) string {
		if i, ok := col[name]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	var out []models.Participant
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		p := models.Participant{
			ID:               get(rec, "id"),
			Name:             get(rec, "name"),
			Mobile:           get(rec, "mobile"),
			QRToken:          utils.NormalizeToken(get(rec, "qrToken")),
			EmergencyContact: get(rec, "emergencyContact"),
			BloodGroup:       get(rec, "bloodGroup"),
		}
		if age := get(rec, "age"); age != "" {
			if p.Age, err = strconv.Atoi(age); err != nil {
				return nil, fmt.Errorf("line %d: bad age %q", line, age)
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func main() {
	rootCmd.Flags().Int("participants", 417, "number of demo participants to generate")
	rootCmd.Flags().String("csv", "", "import participants from a CSV file instead")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}
