package identity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/xelth-com/yatrasync/internal/localstore"
)

// DeviceIdentity is the stable attribution id of a scanner.
// It is passed explicitly to everything that stamps events.
type DeviceIdentity struct {
	DeviceID string
	// Generated is true when the id was created during this call
	Generated bool
}

// GetOrCreate ensures the device has a stable identity across restarts.
// It checks the override first, then the persisted key, and generates a new
// id if neither exists. A generated id is written once and never regenerated.
func GetOrCreate(kv localstore.KV, override string) (DeviceIdentity, error) {
	// 1. Explicit override (DEVICE_ID), not persisted
	if id := strings.TrimSpace(override); id != "" {
		return DeviceIdentity{DeviceID: id}, nil
	}

	// 2. Persisted id
	data, err := kv.Get(localstore.KeyDeviceID)
	switch {
	case err == nil && len(data) > 0:
		return DeviceIdentity{DeviceID: string(data)}, nil
	case err != nil && !errors.Is(err, localstore.ErrNotFound):
		return DeviceIdentity{}, fmt.Errorf("failed to load device id: %w", err)
	}

	// 3. Generate
	id := uuid.NewString()
	if err := kv.Put(localstore.KeyDeviceID, []byte(id)); err != nil {
		return DeviceIdentity{}, fmt.Errorf("failed to persist device id: %w", err)
	}
	return DeviceIdentity{DeviceID: id, Generated: true}, nil
}
