// Package store is the authoritative scan store. It is the only place where
// one-scan-per-(participant, checkpoint) is enforced; everything on the
// devices is a fast path in front of it.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xelth-com/yatrasync/internal/models"
)

// ScanStore persists scans and reference data through gorm
type ScanStore struct {
	db  *gorm.DB
	log logrus.FieldLogger
	now func() time.Time

	mu         sync.RWMutex
	onAccepted []func(models.ScanEvent)
}

// New creates a ScanStore on an already migrated database
func New(db *gorm.DB, logger logrus.FieldLogger) *ScanStore {
	return &ScanStore{
		db:  db,
		log: logger.WithField("component", "store"),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// OnAccepted registers a hook fired after a new scan row is committed
func (s *ScanStore) OnAccepted(fn func(models.ScanEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAccepted = append(s.onAccepted, fn)
}

func (s *ScanStore) fireAccepted(ev models.ScanEvent) {
	s.mu.RLock()
	hooks := make([]func(models.ScanEvent), len(s.onAccepted))
	copy(hooks, s.onAccepted)
	s.mu.RUnlock()
	for _, fn := range hooks {
		fn(ev)
	}
}

// CreateScan inserts a scan unless its pair is already taken.
//
// The insert is a single INSERT ... ON CONFLICT DO NOTHING against the
// unique (participant_id, checkpoint_id) index and the primary key. When
// nothing was inserted, a row with the same id means this is a replay of an
// accepted create; otherwise the row holding the pair won and its id is
// returned as a duplicate.
func (s *ScanStore) CreateScan(ctx context.Context, ev models.ScanEvent) (models.CreateResult, error) {
	if err := ev.Validate(); err != nil {
		return models.CreateResult{}, err
	}

	db := s.db.WithContext(ctx)

	if err := s.checkReferences(db, ev); err != nil {
		return models.CreateResult{}, err
	}

	rec := models.NewScanRecord(ev, s.now())
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		return models.CreateResult{}, fmt.Errorf("%w: insert scan: %v", models.ErrTransient, res.Error)
	}

	if res.RowsAffected == 1 {
		s.log.WithFields(logrus.Fields{
			"scan_id":        rec.ID,
			"participant_id": rec.ParticipantID,
			"checkpoint_id":  rec.CheckpointID,
			"device_id":      rec.OriginDeviceID,
		}).Info("✅ Scan accepted")
		s.fireAccepted(rec.ToEvent())
		return models.CreateResult{Accepted: true}, nil
	}

	// Same id already stored: idempotent replay
	var byID models.ScanRecord
	err := db.Where("id = ?", ev.ID).Limit(1).Find(&byID).Error
	if err != nil {
		return models.CreateResult{}, fmt.Errorf("%w: lookup scan %s: %v", models.ErrTransient, ev.ID, err)
	}
	if byID.ID != "" {
		if byID.ParticipantID != ev.ParticipantID || byID.CheckpointID != ev.CheckpointID {
			return models.CreateResult{}, fmt.Errorf("%w: scan id %s already used for another pair", models.ErrRejected, ev.ID)
		}
		return models.CreateResult{Accepted: true}, nil
	}

	// Pair held by another scan: first writer wins
	var byPair models.ScanRecord
	err = db.Where("participant_id = ? AND checkpoint_id = ?", ev.ParticipantID, ev.CheckpointID).
		Limit(1).Find(&byPair).Error
	if err != nil {
		return models.CreateResult{}, fmt.Errorf("%w: lookup pair: %v", models.ErrTransient, err)
	}
	if byPair.ID == "" {
		return models.CreateResult{}, fmt.Errorf("%w: insert skipped but no conflicting row found", models.ErrTransient)
	}

	s.log.WithFields(logrus.Fields{
		"scan_id":        ev.ID,
		"existing_id":    byPair.ID,
		"participant_id": ev.ParticipantID,
		"checkpoint_id":  ev.CheckpointID,
		"device_id":      ev.OriginDeviceID,
	}).Info("♻️ Duplicate scan")
	return models.CreateResult{Duplicate: true, ExistingID: byPair.ID}, nil
}

func (s *ScanStore) checkReferences(db *gorm.DB, ev models.ScanEvent) error {
	var count int64
	if err := db.Model(&models.Participant{}).Where("id = ?", ev.ParticipantID).Count(&count).Error; err != nil {
		return fmt.Errorf("%w: lookup participant: %v", models.ErrTransient, err)
	}
	if count == 0 {
		return fmt.Errorf("%w: unknown participant %s", models.ErrRejected, ev.ParticipantID)
	}

	if err := db.Model(&models.Checkpoint{}).Where("id = ?", ev.CheckpointID).Count(&count).Error; err != nil {
		return fmt.Errorf("%w: lookup checkpoint: %v", models.ErrTransient, err)
	}
	if count == 0 {
		return fmt.Errorf("%w: unknown checkpoint %s", models.ErrRejected, ev.CheckpointID)
	}
	return nil
}

// ListScansSince returns scans received strictly after since, oldest first.
// A zero since returns every scan.
func (s *ScanStore) ListScansSince(ctx context.Context, since time.Time) ([]models.ScanEvent, error) {
	q := s.db.WithContext(ctx).Order("received_at ASC, id ASC")
	if !since.IsZero() {
		q = q.Where("received_at > ?", since.UTC())
	}

	var rows []models.ScanRecord
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: list scans: %v", models.ErrTransient, err)
	}

	events := make([]models.ScanEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.ToEvent())
	}
	return events, nil
}

// ListParticipantsSince returns participants updated strictly after since
func (s *ScanStore) ListParticipantsSince(ctx context.Context, since time.Time) ([]models.Participant, error) {
	q := s.db.WithContext(ctx).Order("updated_at ASC, id ASC")
	if !since.IsZero() {
		q = q.Where("updated_at > ?", since.UTC())
	}

	participants := []models.Participant{}
	if err := q.Find(&participants).Error; err != nil {
		return nil, fmt.Errorf("%w: list participants: %v", models.ErrTransient, err)
	}
	return participants, nil
}

// FullSnapshot returns every participant and scan. AsOf is taken before the
// reads so rows committed during the snapshot are picked up by the next
// incremental poll.
func (s *ScanStore) FullSnapshot(ctx context.Context) (models.Snapshot, error) {
	snap := models.Snapshot{AsOf: s.now()}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		snap.Participants = []models.Participant{}
		if err := tx.Order("id ASC").Find(&snap.Participants).Error; err != nil {
			return err
		}
		var rows []models.ScanRecord
		if err := tx.Order("received_at ASC, id ASC").Find(&rows).Error; err != nil {
			return err
		}
		snap.Scans = make([]models.ScanEvent, 0, len(rows))
		for _, r := range rows {
			snap.Scans = append(snap.Scans, r.ToEvent())
		}
		return nil
	})
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("%w: snapshot: %v", models.ErrTransient, err)
	}
	return snap, nil
}

// UpsertParticipants imports participants. The latest import of an id wins
// and bumps its updatedAt so devices pick it up on their next poll.
func (s *ScanStore) UpsertParticipants(ctx context.Context, participants []models.Participant) (int, error) {
	if len(participants) == 0 {
		return 0, nil
	}
	now := s.now()
	for i := range participants {
		if err := participants[i].Validate(); err != nil {
			return 0, fmt.Errorf("participant %d: %w", i, err)
		}
		participants[i].UpdatedAt = now
		if participants[i].CreatedAt.IsZero() {
			participants[i].CreatedAt = now
		}
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "mobile", "qr_token", "emergency_contact", "photo_uri",
			"blood_group", "age", "updated_at",
		}),
	}).Create(&participants).Error
	if err != nil {
		return 0, fmt.Errorf("failed to upsert participants: %w", err)
	}
	return len(participants), nil
}

// ParticipantByID returns a participant or gorm.ErrRecordNotFound
func (s *ScanStore) ParticipantByID(ctx context.Context, id string) (*models.Participant, error) {
	var p models.Participant
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertCheckpoints imports checkpoint reference data
func (s *ScanStore) UpsertCheckpoints(ctx context.Context, checkpoints []models.Checkpoint) error {
	if len(checkpoints) == 0 {
		return nil
	}
	for i := range checkpoints {
		if err := checkpoints[i].Validate(); err != nil {
			return fmt.Errorf("checkpoint %d: %w", i, err)
		}
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "sequence", "updated_at"}),
	}).Create(&checkpoints).Error
}

// ListCheckpoints returns checkpoints in route order
func (s *ScanStore) ListCheckpoints(ctx context.Context) ([]models.Checkpoint, error) {
	checkpoints := []models.Checkpoint{}
	err := s.db.WithContext(ctx).Order("sequence ASC, id ASC").Find(&checkpoints).Error
	return checkpoints, err
}

// Progress returns confirmed scan counts for every checkpoint in route order,
// including checkpoints nobody has reached yet
func (s *ScanStore) Progress(ctx context.Context) ([]models.CheckpointProgress, error) {
	checkpoints, err := s.ListCheckpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list checkpoints: %v", models.ErrTransient, err)
	}

	var tallies []struct {
		CheckpointID string
		Confirmed    int64
	}
	db := s.db.WithContext(ctx)
	err = db.Model(&models.ScanRecord{}).
		Select("checkpoint_id, COUNT(*) AS confirmed").
		Group("checkpoint_id").
		Scan(&tallies).Error
	if err != nil {
		return nil, fmt.Errorf("%w: tally scans: %v", models.ErrTransient, err)
	}

	counts := make(map[string]int64, len(tallies))
	for _, t := range tallies {
		counts[t.CheckpointID] = t.Confirmed
	}

	out := make([]models.CheckpointProgress, 0, len(checkpoints))
	for _, c := range checkpoints {
		p := models.CheckpointProgress{CheckpointID: c.ID, Name: c.Name, Sequence: c.Sequence, Confirmed: counts[c.ID]}
		if p.Confirmed > 0 {
			var last models.ScanRecord
			if err := db.Where("checkpoint_id = ?", c.ID).Order("occurred_at DESC").First(&last).Error; err != nil {
				return nil, fmt.Errorf("%w: last scan at %s: %v", models.ErrTransient, c.ID, err)
			}
			at := last.OccurredAt.UTC()
			p.LastScanAt = &at
		}
		out = append(out, p)
	}
	return out, nil
}

// TouchDevice records that a device made an authenticated request and
// returns its current registration
func (s *ScanStore) TouchDevice(ctx context.Context, deviceID string) (*models.RegisteredDevice, error) {
	now := s.now()
	dev := models.RegisteredDevice{
		DeviceID:   deviceID,
		Status:     models.DeviceStatusActive,
		LastSeenAt: now,
	}
	db := s.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_seen_at", "updated_at"}),
	}).Create(&dev).Error
	if err != nil {
		return nil, fmt.Errorf("failed to register device: %w", err)
	}

	var stored models.RegisteredDevice
	if err := db.Where("device_id = ?", deviceID).First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

// SetDeviceStatus blocks or reactivates a device
func (s *ScanStore) SetDeviceStatus(ctx context.Context, deviceID string, status models.DeviceStatus) error {
	res := s.db.WithContext(ctx).Model(&models.RegisteredDevice{}).
		Where("device_id = ?", deviceID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListDevices returns every registered device, most recently seen first
func (s *ScanStore) ListDevices(ctx context.Context) ([]models.RegisteredDevice, error) {
	devices := []models.RegisteredDevice{}
	err := s.db.WithContext(ctx).Order("last_seen_at DESC").Find(&devices).Error
	return devices, err
}

// IsNotFound reports whether err means a missing row
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
