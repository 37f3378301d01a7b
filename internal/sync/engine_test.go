package sync

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xelth-com/yatrasync/internal/config"
	"github.com/xelth-com/yatrasync/internal/identity"
	"github.com/xelth-com/yatrasync/internal/localstore"
	"github.com/xelth-com/yatrasync/internal/logging"
	"github.com/xelth-com/yatrasync/internal/models"
	"github.com/xelth-com/yatrasync/internal/netmon"
	"github.com/xelth-com/yatrasync/internal/remote"
	"github.com/xelth-com/yatrasync/internal/store"
	"github.com/xelth-com/yatrasync/internal/store/storetest"
)

// flakyStore simulates a network that can drop out
type flakyStore struct {
	remote.Store
	down    atomic.Bool
	creates atomic.Int32
}

func (f *flakyStore) fail() error {
	return fmt.Errorf("%w: connection refused", models.ErrTransient)
}

func (f *flakyStore) CreateScan(ctx context.Context, ev models.ScanEvent) (models.CreateResult, error) {
	if f.down.Load() {
		return models.CreateResult{}, f.fail()
	}
	f.creates.Add(1)
	return f.Store.CreateScan(ctx, ev)
}

func (f *flakyStore) ListScansSince(ctx context.Context, since time.Time) ([]models.ScanEvent, error) {
	if f.down.Load() {
		return nil, f.fail()
	}
	return f.Store.ListScansSince(ctx, since)
}

func (f *flakyStore) ListParticipantsSince(ctx context.Context, since time.Time) ([]models.Participant, error) {
	if f.down.Load() {
		return nil, f.fail()
	}
	return f.Store.ListParticipantsSince(ctx, since)
}

func (f *flakyStore) FullSnapshot(ctx context.Context) (models.Snapshot, error) {
	if f.down.Load() {
		return models.Snapshot{}, f.fail()
	}
	return f.Store.FullSnapshot(ctx)
}

type device struct {
	*Engine
	kv  *localstore.Store
	net *netmon.Monitor
}

func testConfig() *config.SyncConfig {
	return &config.SyncConfig{
		PollInterval:         5,
		OfflineCheckInterval: 30,
		MaxRetries:           5,
		BatchSize:            50,
		RequestTimeout:       10,
		FailureThreshold:     3,
		BackoffBase:          2,
		BackoffCap:           30,
		SyncOverlap:          5,
	}
}

func newDevice(t *testing.T, rs remote.Store, name string, online bool) *device {
	t.Helper()
	return openDevice(t, rs, filepath.Join(t.TempDir(), name+".db"), name, online)
}

func openDevice(t *testing.T, rs remote.Store, path, name string, online bool) *device {
	t.Helper()

	kv, err := localstore.Open(path, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	id, err := identity.GetOrCreate(kv, name)
	require.NoError(t, err)

	net := netmon.New(nil, logging.Discard())
	net.Set(online)

	e, err := NewEngine(Options{
		Device:  id,
		KV:      kv,
		Remote:  rs,
		Network: net,
		Config:  testConfig(),
		Logger:  logging.Discard(),
	})
	require.NoError(t, err)
	return &device{Engine: e, kv: kv, net: net}
}

func seededStore(t *testing.T, participants, checkpoints int) *store.ScanStore {
	s := storetest.New(t)
	storetest.Seed(t, s, participants, checkpoints)
	return s
}

func TestEngine_QueueConvergence(t *testing.T) {
	s := seededStore(t, 10, 1)
	d := newDevice(t, s, "device-a", false)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		res, err := d.AddScan(fmt.Sprintf("P%d", i), "C1", nil)
		require.NoError(t, err)
		require.True(t, res.Queued)
	}
	require.Equal(t, 10, d.SyncStatus().Pending)

	d.net.Set(true)
	res := d.SyncNow(ctx)
	require.NoError(t, res.Err)
	assert.Equal(t, 10, res.Accepted)
	assert.Equal(t, 0, d.SyncStatus().Pending)
	assert.Equal(t, StateIdle, d.SyncStatus().State)

	scans, err := s.ListScansSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, scans, 10)
}

func TestEngine_CrossDeviceVisibility(t *testing.T) {
	s := seededStore(t, 1, 1)
	a := newDevice(t, s, "device-a", true)
	b := newDevice(t, s, "device-b", true)
	ctx := context.Background()

	b.SyncNow(ctx) // bootstrap before A scans

	added, err := a.AddScan("P1", "C1", nil)
	require.NoError(t, err)
	require.Equal(t, 1, a.SyncNow(ctx).Accepted)

	require.NoError(t, b.SyncNow(ctx).Err)

	view := b.View()
	require.Len(t, view, 1)
	assert.Equal(t, added.Event.ID, view[0].ID)
	assert.Equal(t, models.SyncStateConfirmed, view[0].SyncState)
	assert.Equal(t, "device-a", view[0].OriginDeviceID)
	assert.True(t, b.IsDuplicate("P1", "C1"))

	// Overlapping polls never duplicate rows in the view
	b.SyncNow(ctx)
	assert.Len(t, b.View(), 1)
}

func TestEngine_RaceBetweenDevicesFirstWriterWins(t *testing.T) {
	s := seededStore(t, 1, 1)
	a := newDevice(t, s, "device-a", true)
	b := newDevice(t, s, "device-b", true)
	ctx := context.Background()

	// Both pass the local guard before either has synced
	_, err := a.AddScan("P1", "C1", nil)
	require.NoError(t, err)
	_, err = b.AddScan("P1", "C1", nil)
	require.NoError(t, err)

	ra := a.SyncNow(ctx)
	rb := b.SyncNow(ctx)
	assert.Equal(t, 1, ra.Accepted)
	assert.Equal(t, 1, rb.Duplicates)
	assert.Zero(t, a.SyncStatus().Pending)
	assert.Zero(t, b.SyncStatus().Pending)

	scans, err := s.ListScansSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, scans, 1)
	assert.True(t, b.IsDuplicate("P1", "C1"))
}

func TestEngine_GuardAndValidation(t *testing.T) {
	s := seededStore(t, 2, 2)
	d := newDevice(t, s, "device-a", false)

	first, err := d.AddScan("P1", "C1", &models.Geo{Latitude: 21.5, Longitude: 71.8})
	require.NoError(t, err)
	require.True(t, first.Queued)

	again, err := d.AddScan("P1", "C1", nil)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.False(t, again.Queued)

	other, err := d.AddScan("P1", "C2", nil)
	require.NoError(t, err)
	assert.True(t, other.Queued, "same participant at another checkpoint is a new scan")

	_, err = d.AddScan("", "C1", nil)
	assert.True(t, models.IsValidationError(err))
	_, err = d.AddScan("P2", "C1", &models.Geo{Latitude: 120})
	assert.True(t, models.IsValidationError(err))

	assert.Equal(t, 2, d.SyncStatus().Pending)
	for _, ev := range d.View() {
		assert.Equal(t, models.SyncStatePending, ev.SyncState)
	}
}

func TestEngine_AddScanByToken(t *testing.T) {
	s := seededStore(t, 3, 1)
	d := newDevice(t, s, "device-a", true)

	require.NoError(t, d.SyncNow(context.Background()).Err)

	p, res, err := d.AddScanByToken(" palitana_yatra_3\n", "C1", nil)
	require.NoError(t, err)
	assert.Equal(t, "P3", p.ID)
	assert.True(t, res.Queued)

	p, _, err = d.AddScanByToken("2", "C1", nil)
	require.NoError(t, err)
	assert.Equal(t, "P2", p.ID)

	_, _, err = d.AddScanByToken("PALITANA_YATRA_999", "C1", nil)
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestEngine_EvictionAfterPermanentRejection(t *testing.T) {
	s := seededStore(t, 1, 1)
	d := newDevice(t, s, "device-a", true)
	ctx := context.Background()

	// P404 passes local validation but the server does not know it
	res, err := d.AddScan("P404", "C1", nil)
	require.NoError(t, err)
	require.True(t, res.Queued)
	_, err = d.AddScan("P1", "C1", nil)
	require.NoError(t, err)

	for i := 1; i < 5; i++ {
		r := d.SyncNow(ctx)
		assert.Equal(t, 1, r.Rejected)
		assert.Zero(t, r.Evicted)
	}
	pending := d.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 4, pending[0].RetryCount)

	r := d.SyncNow(ctx)
	assert.Equal(t, 1, r.Evicted)
	assert.Empty(t, d.Pending())
	assert.False(t, d.IsDuplicate("P404", "C1"))

	st := d.SyncStatus()
	require.Len(t, st.Warnings, 1)
	assert.Contains(t, st.Warnings[0], "P404")
}

func TestEngine_TransientFailuresBackoffAndRecover(t *testing.T) {
	flaky := &flakyStore{Store: seededStore(t, 4, 1)}
	d := newDevice(t, flaky, "device-a", true)
	ctx := context.Background()

	clock := time.Date(2025, 1, 10, 6, 0, 0, 0, time.UTC)
	d.scheduler.now = func() time.Time { return clock }

	for i := 1; i <= 2; i++ {
		_, err := d.AddScan(fmt.Sprintf("P%d", i), "C1", nil)
		require.NoError(t, err)
	}

	flaky.down.Store(true)

	// Poll + two pushes = three consecutive transport failures per cycle
	want := []time.Duration{2, 4, 8, 16, 30, 30}
	for i, w := range want {
		r := d.SyncNow(ctx)
		require.Equal(t, w*time.Second, r.BackoffDelay, "cycle %d", i+1)
		assert.Equal(t, StateBackoff, d.SyncStatus().State)

		// Still backing off: nothing happens
		assert.Zero(t, d.SyncNow(ctx).Pushed)

		clock = clock.Add(r.BackoffDelay)
	}

	// Transient failures never evict
	pending := d.Pending()
	require.Len(t, pending, 2)
	assert.Greater(t, pending[0].RetryCount, 5)

	flaky.down.Store(false)
	r := d.SyncNow(ctx)
	require.NoError(t, r.Err)
	assert.Equal(t, 2, r.Accepted)
	assert.Empty(t, d.Pending())
	assert.Equal(t, StateIdle, d.SyncStatus().State)

	// A success resets the backoff sequence
	_, err := d.AddScan("P3", "C1", nil)
	require.NoError(t, err)
	_, err = d.AddScan("P4", "C1", nil)
	require.NoError(t, err)
	flaky.down.Store(true)
	assert.Equal(t, 2*time.Second, d.SyncNow(ctx).BackoffDelay)
}

func TestEngine_MarkNeverAdvancesOnFailure(t *testing.T) {
	flaky := &flakyStore{Store: seededStore(t, 2, 1)}
	d := newDevice(t, flaky, "device-a", true)
	ctx := context.Background()

	require.NoError(t, d.SyncNow(ctx).Err)
	mark := d.SyncStatus().LastSyncMark
	require.False(t, mark.IsZero())

	persisted, err := d.kv.Get(localstore.KeyLastSyncMark)
	require.NoError(t, err)

	flaky.down.Store(true)
	r := d.SyncNow(ctx)
	require.Error(t, r.Err)
	assert.True(t, mark.Equal(d.SyncStatus().LastSyncMark))

	after, err := d.kv.Get(localstore.KeyLastSyncMark)
	require.NoError(t, err)
	assert.Equal(t, string(persisted), string(after))

	// Another device's scan shows up once the network is back
	other := newDevice(t, flaky.Store, "device-b", true)
	_, err = other.AddScan("P2", "C1", nil)
	require.NoError(t, err)
	flaky.down.Store(false)
	require.Equal(t, 1, other.SyncNow(ctx).Accepted)

	require.NoError(t, d.SyncNow(ctx).Err)
	assert.True(t, d.IsDuplicate("P2", "C1"))
	assert.False(t, d.SyncStatus().LastSyncMark.Before(mark))
}

func TestEngine_PendingSurvivesRestart(t *testing.T) {
	s := seededStore(t, 3, 1)
	path := filepath.Join(t.TempDir(), "device.db")
	ctx := context.Background()

	d := openDevice(t, s, path, "", false)
	deviceID := d.SyncStatus().DeviceID
	for i := 1; i <= 3; i++ {
		_, err := d.AddScan(fmt.Sprintf("P%d", i), "C1", nil)
		require.NoError(t, err)
	}
	require.NoError(t, d.kv.Close())

	// Process restart, now online
	d = openDevice(t, s, path, "", true)
	assert.Equal(t, deviceID, d.SyncStatus().DeviceID)
	assert.Equal(t, 3, d.SyncStatus().Pending)
	assert.False(t, d.SyncStatus().Bootstrapped)

	r := d.SyncNow(ctx)
	assert.Equal(t, 3, r.Accepted)
	assert.True(t, d.SyncStatus().Bootstrapped)

	for _, ev := range d.View() {
		assert.Equal(t, deviceID, ev.OriginDeviceID)
	}
}

func TestEngine_RunLoopPushesWhenNetworkReturns(t *testing.T) {
	s := seededStore(t, 2, 1)
	d := newDevice(t, s, "device-a", false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.Start(ctx))
	defer d.Stop()
	assert.Error(t, d.Start(ctx))

	_, err := d.AddScan("P1", "C1", nil)
	require.NoError(t, err)
	_, err = d.AddScan("P2", "C1", nil)
	require.NoError(t, err)

	// Offline: nothing is pushed
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, d.SyncStatus().Pending)

	d.net.Set(true)
	assert.Eventually(t, func() bool {
		return d.SyncStatus().Pending == 0
	}, 3*time.Second, 10*time.Millisecond)

	// New scans are pushed right away while online
	_, err = s.UpsertParticipants(context.Background(), []models.Participant{{ID: "P9", Name: "Late Yatri", QRToken: "PALITANA_YATRA_9"}})
	require.NoError(t, err)
	_, err = d.AddScan("P9", "C1", nil)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return d.SyncStatus().Pending == 0
	}, 3*time.Second, 10*time.Millisecond)

	scans, err := s.ListScansSince(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Len(t, scans, 3)
}

func TestEngine_JustAcceptedScanSortsAfterOlderConfirmed(t *testing.T) {
	s := seededStore(t, 2, 1)
	d := newDevice(t, s, "device-a", true)
	ctx := context.Background()

	older := models.ScanEvent{
		ID:             uuid.NewString(),
		ParticipantID:  "P1",
		CheckpointID:   "C1",
		OccurredAt:     time.Now().UTC().Add(-time.Minute),
		OriginDeviceID: "device-b",
	}
	_, err := s.CreateScan(ctx, older)
	require.NoError(t, err)
	require.NoError(t, d.SyncNow(ctx).Err)

	res, err := d.AddScan("P2", "C1", nil)
	require.NoError(t, err)
	require.True(t, res.Queued)
	require.Equal(t, 1, d.SyncNow(ctx).Accepted)

	view := d.View()
	require.Len(t, view, 2)
	assert.Equal(t, older.ID, view[0].ID)
	assert.Equal(t, "P2", view[1].ParticipantID)
	assert.False(t, view[1].ReceivedAt.IsZero())
	assert.Equal(t, models.SyncStateConfirmed, view[1].SyncState)
}
