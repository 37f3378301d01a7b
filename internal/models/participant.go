package models

import (
	"time"
)

// Participant is a registered pilgrim. Profile edits are last-write-wins.
type Participant struct {
	ID               string    `gorm:"primaryKey;type:varchar(64)" json:"id" validate:"required,max=64"`
	Name             string    `gorm:"type:varchar(255);not null" json:"name" validate:"required"`
	Mobile           string    `gorm:"type:varchar(32)" json:"mobile,omitempty"`
	QRToken          string    `gorm:"column:qr_token;type:varchar(128);uniqueIndex" json:"qrToken" validate:"required,max=128"`
	EmergencyContact string    `gorm:"type:varchar(64)" json:"emergencyContact,omitempty"`
	PhotoURI         string    `gorm:"type:text" json:"photoUri,omitempty"`
	BloodGroup       string    `gorm:"type:varchar(8)" json:"bloodGroup,omitempty"`
	Age              int       `json:"age,omitempty" validate:"gte=0,lte=130"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `gorm:"index:idx_participants_updated" json:"updatedAt"`
}

// TableName specifies the table name
func (Participant) TableName() string {
	return "participants"
}

// Checkpoint is a fixed waypoint along the route.
type Checkpoint struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id" validate:"required,max=64"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name" validate:"required"`
	Sequence  int       `gorm:"default:0" json:"sequence"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name
func (Checkpoint) TableName() string {
	return "checkpoints"
}

// CheckpointProgress is how many participants have been confirmed at a checkpoint
type CheckpointProgress struct {
	CheckpointID string     `json:"checkpointId"`
	Name         string     `json:"name"`
	Sequence     int        `json:"sequence"`
	Confirmed    int64      `json:"confirmed"`
	LastScanAt   *time.Time `json:"lastScanAt,omitempty"`
}
