// Package remote is the device's view of the authoritative store.
package remote

import (
	"context"
	"time"

	"github.com/xelth-com/yatrasync/internal/models"
)

// Store is the contract the sync core needs from the authoritative store.
//
// CreateScan must be idempotent on the event id and must report a taken
// (participant, checkpoint) pair as a duplicate, not as an error. Errors
// wrap models.ErrTransient or models.ErrRejected, or are a
// *models.ValidationError.
type Store interface {
	CreateScan(ctx context.Context, ev models.ScanEvent) (models.CreateResult, error)
	ListScansSince(ctx context.Context, since time.Time) ([]models.ScanEvent, error)
	ListParticipantsSince(ctx context.Context, since time.Time) ([]models.Participant, error)
	FullSnapshot(ctx context.Context) (models.Snapshot, error)
}
