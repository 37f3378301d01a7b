package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xelth-com/yatrasync/internal/models"
	"github.com/xelth-com/yatrasync/internal/store"
	"github.com/xelth-com/yatrasync/internal/store/storetest"
)

func newEvent(participant, checkpoint, device string) models.ScanEvent {
	return models.ScanEvent{
		ID:             uuid.NewString(),
		ParticipantID:  participant,
		CheckpointID:   checkpoint,
		OccurredAt:     time.Now().UTC(),
		OriginDeviceID: device,
	}
}

func TestCreateScan_ConcurrentDevicesOneWinner(t *testing.T) {
	s := storetest.New(t)
	storetest.Seed(t, s, 1, 1)

	const devices = 12
	results := make([]models.CreateResult, devices)
	events := make([]models.ScanEvent, devices)
	errs := make([]error, devices)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < devices; i++ {
		events[i] = newEvent("P1", "C1", fmt.Sprintf("device-%d", i))
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = s.CreateScan(context.Background(), events[i])
		}(i)
	}
	close(start)
	wg.Wait()

	accepted, duplicates := 0, 0
	var winner string
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].Accepted {
			accepted++
			winner = events[i].ID
		}
		if results[i].Duplicate {
			duplicates++
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, devices-1, duplicates)

	for i := range results {
		if results[i].Duplicate {
			assert.Equal(t, winner, results[i].ExistingID)
		}
	}

	scans, err := s.ListScansSince(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.Equal(t, winner, scans[0].ID)
}

func TestCreateScan_IdempotentRetry(t *testing.T) {
	s := storetest.New(t)
	storetest.Seed(t, s, 1, 1)
	ctx := context.Background()

	fired := 0
	s.OnAccepted(func(models.ScanEvent) { fired++ })

	ev := newEvent("P1", "C1", "device-a")
	first, err := s.CreateScan(ctx, ev)
	require.NoError(t, err)
	second, err := s.CreateScan(ctx, ev)
	require.NoError(t, err)

	assert.Equal(t, models.CreateResult{Accepted: true}, first)
	assert.Equal(t, models.CreateResult{Accepted: true}, second)
	assert.Equal(t, 1, fired, "a replay is not a new acceptance")

	scans, err := s.ListScansSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, scans, 1)
}

func TestCreateScan_SameParticipantDifferentCheckpoints(t *testing.T) {
	s := storetest.New(t)
	storetest.Seed(t, s, 1, 2)
	ctx := context.Background()

	a := newEvent("P1", "C1", "device-a")
	b := newEvent("P1", "C2", "device-a")

	resA, err := s.CreateScan(ctx, a)
	require.NoError(t, err)
	resB, err := s.CreateScan(ctx, b)
	require.NoError(t, err)
	assert.True(t, resA.Accepted)
	assert.True(t, resB.Accepted)

	scans, err := s.ListScansSince(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, scans, 2)
	assert.NotEqual(t, scans[0].ID, scans[1].ID)
	assert.ElementsMatch(t, []string{"C1", "C2"}, []string{scans[0].CheckpointID, scans[1].CheckpointID})
}

func TestCreateScan_Rejections(t *testing.T) {
	s := storetest.New(t)
	storetest.Seed(t, s, 1, 1)
	ctx := context.Background()

	t.Run("unknown participant", func(t *testing.T) {
		_, err := s.CreateScan(ctx, newEvent("P404", "C1", "device-a"))
		assert.ErrorIs(t, err, models.ErrRejected)
	})

	t.Run("unknown checkpoint", func(t *testing.T) {
		_, err := s.CreateScan(ctx, newEvent("P1", "C404", "device-a"))
		assert.ErrorIs(t, err, models.ErrRejected)
	})

	t.Run("malformed event", func(t *testing.T) {
		ev := newEvent("P1", "C1", "device-a")
		ev.ID = "not-a-uuid"
		_, err := s.CreateScan(ctx, ev)
		assert.True(t, models.IsValidationError(err))
	})

	t.Run("id reused for another pair", func(t *testing.T) {
		storetest.Seed(t, s, 2, 1)
		ev := newEvent("P1", "C1", "device-a")
		_, err := s.CreateScan(ctx, ev)
		require.NoError(t, err)

		ev.ParticipantID = "P2"
		_, err = s.CreateScan(ctx, ev)
		assert.ErrorIs(t, err, models.ErrRejected)
	})
}

func TestListScansSince(t *testing.T) {
	s := storetest.New(t)
	storetest.Seed(t, s, 3, 1)
	ctx := context.Background()

	_, err := s.CreateScan(ctx, newEvent("P1", "C1", "device-a"))
	require.NoError(t, err)

	all, err := s.ListScansSince(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	mark := all[0].ReceivedAt

	time.Sleep(5 * time.Millisecond)
	_, err = s.CreateScan(ctx, newEvent("P2", "C1", "device-b"))
	require.NoError(t, err)

	newer, err := s.ListScansSince(ctx, mark)
	require.NoError(t, err)
	require.Len(t, newer, 1)
	assert.Equal(t, "P2", newer[0].ParticipantID)
	assert.Equal(t, models.SyncStateConfirmed, newer[0].SyncState)
}

func TestParticipants_LastWriteWins(t *testing.T) {
	s := storetest.New(t)
	storetest.Seed(t, s, 2, 1)
	ctx := context.Background()

	before, err := s.ListParticipantsSince(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, before, 2)
	mark := before[1].UpdatedAt

	time.Sleep(5 * time.Millisecond)
	_, err = s.UpsertParticipants(ctx, []models.Participant{
		{ID: "P2", Name: "Renamed Yatri", QRToken: "PALITANA_YATRA_2", BloodGroup: "B+"},
	})
	require.NoError(t, err)

	changed, err := s.ListParticipantsSince(ctx, mark)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "Renamed Yatri", changed[0].Name)
	assert.Equal(t, "B+", changed[0].BloodGroup)

	p, err := s.ParticipantByID(ctx, "P2")
	require.NoError(t, err)
	assert.Equal(t, "Renamed Yatri", p.Name)

	_, err = s.ParticipantByID(ctx, "P9")
	assert.True(t, store.IsNotFound(err))
}

func TestFullSnapshot(t *testing.T) {
	s := storetest.New(t)
	storetest.Seed(t, s, 2, 2)
	ctx := context.Background()

	_, err := s.CreateScan(ctx, newEvent("P1", "C1", "device-a"))
	require.NoError(t, err)
	_, err = s.CreateScan(ctx, newEvent("P2", "C2", "device-b"))
	require.NoError(t, err)

	snap, err := s.FullSnapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Participants, 2)
	assert.Len(t, snap.Scans, 2)
	assert.False(t, snap.AsOf.IsZero())
	for _, sc := range snap.Scans {
		assert.False(t, sc.ReceivedAt.After(snap.AsOf))
	}
}

func TestDevices(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	dev, err := s.TouchDevice(ctx, "device-a")
	require.NoError(t, err)
	assert.Equal(t, models.DeviceStatusActive, dev.Status)

	require.NoError(t, s.SetDeviceStatus(ctx, "device-a", models.DeviceStatusBlocked))
	dev, err = s.TouchDevice(ctx, "device-a")
	require.NoError(t, err)
	assert.Equal(t, models.DeviceStatusBlocked, dev.Status, "touch must not reactivate a blocked device")

	assert.True(t, store.IsNotFound(s.SetDeviceStatus(ctx, "ghost", models.DeviceStatusBlocked)))

	devices, err := s.ListDevices(ctx)
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

func TestProgress(t *testing.T) {
	s := storetest.New(t)
	storetest.Seed(t, s, 3, 3)
	ctx := context.Background()

	for _, ev := range []models.ScanEvent{
		newEvent("P1", "C1", "device-a"),
		newEvent("P2", "C1", "device-b"),
		newEvent("P1", "C2", "device-a"),
		newEvent("P2", "C1", "device-a"), // duplicate pair, not counted
	} {
		_, err := s.CreateScan(ctx, ev)
		require.NoError(t, err)
	}

	progress, err := s.Progress(ctx)
	require.NoError(t, err)
	require.Len(t, progress, 3)

	assert.Equal(t, "C1", progress[0].CheckpointID)
	assert.EqualValues(t, 2, progress[0].Confirmed)
	assert.NotNil(t, progress[0].LastScanAt)
	assert.EqualValues(t, 1, progress[1].Confirmed)
	assert.EqualValues(t, 0, progress[2].Confirmed)
	assert.Nil(t, progress[2].LastScanAt)
}

func TestOnAccepted_EveryHookSeesNewRowsOnly(t *testing.T) {
	s := storetest.New(t)
	storetest.Seed(t, s, 2, 1)
	ctx := context.Background()

	var first, second []string
	s.OnAccepted(func(ev models.ScanEvent) { first = append(first, ev.ID) })
	s.OnAccepted(func(ev models.ScanEvent) {
		second = append(second, ev.ID)
		// Registering from inside a hook must not deadlock
		s.OnAccepted(func(models.ScanEvent) {})
	})

	a := newEvent("P1", "C1", "device-a")
	_, err := s.CreateScan(ctx, a)
	require.NoError(t, err)

	res, err := s.CreateScan(ctx, newEvent("P1", "C1", "device-b"))
	require.NoError(t, err)
	require.True(t, res.Duplicate)

	b := newEvent("P2", "C1", "device-b")
	_, err = s.CreateScan(ctx, b)
	require.NoError(t, err)

	assert.Equal(t, []string{a.ID, b.ID}, first)
	assert.Equal(t, []string{a.ID, b.ID}, second)
}
