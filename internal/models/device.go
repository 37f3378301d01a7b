package models

import (
	"time"
)

// DeviceStatus defines the authorization state of a scanner
type DeviceStatus string

const (
	DeviceStatusActive  DeviceStatus = "active"  // Authorized to submit scans
	DeviceStatusBlocked DeviceStatus = "blocked" // Explicitly banned
)

// RegisteredDevice is a handheld scanner seen by the server.
// Rows are created on the first authenticated request and only used for monitoring.
type RegisteredDevice struct {
	DeviceID   string       `gorm:"primaryKey;type:varchar(64)" json:"deviceId"`
	Status     DeviceStatus `gorm:"type:varchar(16);default:'active'" json:"status"`
	LastSeenAt time.Time    `json:"lastSeenAt"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// TableName specifies the table name for RegisteredDevice
func (RegisteredDevice) TableName() string {
	return "registered_devices"
}
