package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xelth-com/yatrasync/internal/models"
)

func TestPrintReport(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	last := now.Add(-time.Minute)

	var buf bytes.Buffer
	printReport(&buf, report{
		Participants: 200,
		Progress: []models.CheckpointProgress{
			{CheckpointID: "C1", Name: "Jay Taleti", Sequence: 1, Confirmed: 150, LastScanAt: &last},
			{CheckpointID: "C2", Name: "Hanuman Dhara", Sequence: 2},
		},
		Devices: []models.RegisteredDevice{
			{DeviceID: "scanner-01", Status: models.DeviceStatusActive, LastSeenAt: now.Add(-time.Minute)},
			{DeviceID: "scanner-02", Status: models.DeviceStatusActive, LastSeenAt: now.Add(-time.Hour)},
			{DeviceID: "scanner-03", Status: models.DeviceStatusBlocked, LastSeenAt: now},
		},
		Now:        now,
		StaleAfter: 10 * time.Minute,
	})

	out := buf.String()
	assert.Contains(t, out, "Registered participants: 200")
	assert.Contains(t, out, " 150 / 200   75.0%")
	assert.Contains(t, out, "no scans yet")
	assert.Contains(t, out, "✅ scanner-01")
	assert.Contains(t, out, "⚠️  scanner-02")
	assert.Contains(t, out, "⛔ scanner-03")
}
