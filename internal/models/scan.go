package models

import (
	"time"
)

// SyncState tells whether a scan has been accepted by the authoritative store.
// It is only meaningful on devices and is never persisted remotely.
type SyncState string

const (
	SyncStatePending   SyncState = "pending"
	SyncStateConfirmed SyncState = "confirmed"
)

// Geo is an advisory position attached to a scan. It is never part of the dedup key.
type Geo struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

// ScanEvent records one participant passing one checkpoint.
// Convention: Go PascalCase -> JSON camelCase
type ScanEvent struct {
	ID             string    `json:"id" validate:"required,uuid"`
	ParticipantID  string    `json:"participantId" validate:"required,max=64"`
	CheckpointID   string    `json:"checkpointId" validate:"required,max=64"`
	OccurredAt     time.Time `json:"occurredAt" validate:"required"`
	OriginDeviceID string    `json:"originDeviceId" validate:"required,max=64"`
	Geo            *Geo      `json:"geo,omitempty"`

	// Set by the server at insert time, zero for events that never reached it.
	ReceivedAt time.Time `json:"receivedAt,omitempty"`
	SyncState  SyncState `json:"syncState,omitempty"`
}

// DedupKey returns the (participant, checkpoint) pair that must be unique among confirmed scans.
func (e ScanEvent) DedupKey() DedupKey {
	return DedupKey{ParticipantID: e.ParticipantID, CheckpointID: e.CheckpointID}
}

// DedupKey is the uniqueness key of a scan.
type DedupKey struct {
	ParticipantID string
	CheckpointID  string
}

// ScanRecord is the authoritative row for a confirmed scan.
// The composite unique index is what actually guarantees one row per pair.
type ScanRecord struct {
	ID             string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ParticipantID  string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_scan_dedup_key,priority:1" json:"participantId"`
	CheckpointID   string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_scan_dedup_key,priority:2" json:"checkpointId"`
	OccurredAt     time.Time `gorm:"not null" json:"occurredAt"`
	OriginDeviceID string    `gorm:"type:varchar(64);not null;index" json:"originDeviceId"`
	Latitude       *float64  `json:"latitude,omitempty"`
	Longitude      *float64  `json:"longitude,omitempty"`
	ReceivedAt     time.Time `gorm:"not null;index:idx_scans_received" json:"receivedAt"`
}

// TableName specifies the table name
func (ScanRecord) TableName() string {
	return "scans"
}

// NewScanRecord converts a validated event into a row stamped with the server receipt time.
func NewScanRecord(e ScanEvent, receivedAt time.Time) ScanRecord {
	rec := ScanRecord{
		ID:             e.ID,
		ParticipantID:  e.ParticipantID,
		CheckpointID:   e.CheckpointID,
		OccurredAt:     e.OccurredAt.UTC(),
		OriginDeviceID: e.OriginDeviceID,
		ReceivedAt:     receivedAt.UTC(),
	}
	if e.Geo != nil {
		lat, lng := e.Geo.Latitude, e.Geo.Longitude
		rec.Latitude = &lat
		rec.Longitude = &lng
	}
	return rec
}

// ToEvent converts a stored row back into a confirmed event.
func (r ScanRecord) ToEvent() ScanEvent {
	ev := ScanEvent{
		ID:             r.ID,
		ParticipantID:  r.ParticipantID,
		CheckpointID:   r.CheckpointID,
		OccurredAt:     r.OccurredAt.UTC(),
		OriginDeviceID: r.OriginDeviceID,
		ReceivedAt:     r.ReceivedAt.UTC(),
		SyncState:      SyncStateConfirmed,
	}
	if r.Latitude != nil && r.Longitude != nil {
		ev.Geo = &Geo{Latitude: *r.Latitude, Longitude: *r.Longitude}
	}
	return ev
}

// CreateResult is the outcome of an idempotent create.
// Duplicate is a normal terminal state, not an error.
type CreateResult struct {
	Accepted   bool   `json:"accepted"`
	Duplicate  bool   `json:"duplicate"`
	ExistingID string `json:"existingId,omitempty"`
}

// PendingQueueItem wraps a scan that has not been confirmed yet.
type PendingQueueItem struct {
	Event      ScanEvent `json:"event"`
	RetryCount int       `json:"retryCount"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Snapshot is the first-run bootstrap payload.
type Snapshot struct {
	Participants []Participant `json:"participants"`
	Scans        []ScanEvent   `json:"scans"`
	AsOf         time.Time     `json:"asOf"`
}
