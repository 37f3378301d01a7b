// Package storetest provides an in-memory authoritative store for tests.
package storetest

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/xelth-com/yatrasync/internal/database"
	"github.com/xelth-com/yatrasync/internal/logging"
	"github.com/xelth-com/yatrasync/internal/models"
	"github.com/xelth-com/yatrasync/internal/store"
)

// New returns a migrated, empty ScanStore backed by in-memory SQLite
func New(t testing.TB) *store.ScanStore {
	t.Helper()

	db, err := database.OpenMemory(uuid.NewString())
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.MigrateServer(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.New(db.DB, logging.Discard())
}

// Seed inserts participants P1..Pn and checkpoints C1..Cm
func Seed(t testing.TB, s *store.ScanStore, participants, checkpoints int) {
	t.Helper()
	ctx := context.Background()

	ps := make([]models.Participant, 0, participants)
	for i := 1; i <= participants; i++ {
		ps = append(ps, models.Participant{
			ID:      fmt.Sprintf("P%d", i),
			Name:    fmt.Sprintf("Yatri %d", i),
			QRToken: fmt.Sprintf("PALITANA_YATRA_%d", i),
		})
	}
	if _, err := s.UpsertParticipants(ctx, ps); err != nil {
		t.Fatalf("seed participants: %v", err)
	}

	cs := make([]models.Checkpoint, 0, checkpoints)
	for i := 1; i <= checkpoints; i++ {
		cs = append(cs, models.Checkpoint{
			ID:       fmt.Sprintf("C%d", i),
			Name:     fmt.Sprintf("Checkpoint %d", i),
			Sequence: i,
		})
	}
	if err := s.UpsertCheckpoints(ctx, cs); err != nil {
		t.Fatalf("seed checkpoints: %v", err)
	}
}
