package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/xelth-com/yatrasync/internal/config"
	"github.com/xelth-com/yatrasync/internal/identity"
	"github.com/xelth-com/yatrasync/internal/localstore"
	"github.com/xelth-com/yatrasync/internal/models"
	"github.com/xelth-com/yatrasync/internal/queue"
	"github.com/xelth-com/yatrasync/internal/remote"
)

// ErrUnknownToken is returned when a scanned token matches no known participant
var ErrUnknownToken = errors.New("unknown participant token")

// Options wires a device engine
type Options struct {
	Device  identity.DeviceIdentity
	KV      localstore.KV
	Remote  remote.Store
	Network Connectivity
	Config  *config.SyncConfig
	Logger  logrus.FieldLogger
}

// Engine is the device-side sync core consumed by the UI
type Engine struct {
	device     identity.DeviceIdentity
	pending    *queue.Queue
	reconciler *Reconciler
	scheduler  *Scheduler
	guard      *Guard
	net        Connectivity
	log        logrus.FieldLogger
	now        func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// AddResult is the outcome of recording a scan
type AddResult struct {
	Event     models.ScanEvent
	Queued    bool
	Duplicate bool // already confirmed, pending or in flight
}

// SyncStatus is what the UI shows as the sync indicator
type SyncStatus struct {
	DeviceID     string
	Online       bool
	Pending      int
	LastSyncMark time.Time
	Bootstrapped bool
	Status
}

// NewEngine builds the queue, reconciler, guard and scheduler for a device
func NewEngine(opts Options) (*Engine, error) {
	if opts.Device.DeviceID == "" {
		return nil, errors.New("device identity is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultSyncConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("device_id", opts.Device.DeviceID)

	pending, err := queue.Open(opts.KV, cfg.MaxRetries, logger)
	if err != nil {
		return nil, err
	}
	rec, err := NewReconciler(opts.Remote, opts.KV, pending, cfg.Overlap(), logger)
	if err != nil {
		return nil, err
	}
	inflight := newInflightSet()

	return &Engine{
		device:     opts.Device,
		pending:    pending,
		reconciler: rec,
		scheduler:  NewScheduler(SchedulerConfigFrom(cfg), pending, opts.Remote, rec, inflight, opts.Network, logger),
		guard:      &Guard{confirmed: rec, pending: pending, inflight: inflight},
		net:        opts.Network,
		log:        logger,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// AddScan records that participantID passed checkpointID. The scan is
// durably queued before AddScan returns. A pair this device already knows
// about is reported as Duplicate without queueing.
func (e *Engine) AddScan(participantID, checkpointID string, geo *models.Geo) (AddResult, error) {
	ev := models.ScanEvent{
		ID:             uuid.NewString(),
		ParticipantID:  participantID,
		CheckpointID:   checkpointID,
		OccurredAt:     e.now(),
		OriginDeviceID: e.device.DeviceID,
		Geo:            geo,
		SyncState:      models.SyncStatePending,
	}
	if err := ev.Validate(); err != nil {
		return AddResult{}, err
	}

	if e.guard.IsDuplicate(participantID, checkpointID) {
		return AddResult{Event: ev, Duplicate: true}, nil
	}

	if err := e.pending.Enqueue(ev); err != nil {
		if errors.Is(err, queue.ErrAlreadyPending) {
			return AddResult{Event: ev, Duplicate: true}, nil
		}
		return AddResult{}, fmt.Errorf("failed to save scan: %w", err)
	}

	e.log.WithFields(logrus.Fields{
		"scan_id":        ev.ID,
		"participant_id": participantID,
		"checkpoint_id":  checkpointID,
	}).Info("📝 Scan saved")
	e.scheduler.Trigger(TriggerScanAdded)

	return AddResult{Event: ev, Queued: true}, nil
}

// AddScanByToken resolves a decoded QR token through the participant
// snapshot and records the scan
func (e *Engine) AddScanByToken(token, checkpointID string, geo *models.Geo) (models.Participant, AddResult, error) {
	p, ok := e.reconciler.ParticipantByToken(token)
	if !ok {
		return models.Participant{}, AddResult{}, fmt.Errorf("%w: %q", ErrUnknownToken, token)
	}
	res, err := e.AddScan(p.ID, checkpointID, geo)
	return p, res, err
}

// IsDuplicate exposes the guard for instant UI feedback
func (e *Engine) IsDuplicate(participantID, checkpointID string) bool {
	return e.guard.IsDuplicate(participantID, checkpointID)
}

// View returns confirmed and pending scans
func (e *Engine) View() []models.ScanEvent {
	return e.reconciler.View()
}

// Pending lists the durable queue
func (e *Engine) Pending() []models.PendingQueueItem {
	return e.pending.List()
}

// Participant looks up a participant from the last snapshot
func (e *Engine) Participant(id string) (models.Participant, bool) {
	return e.reconciler.Participant(id)
}

// SyncStatus returns the current sync indicator state
func (e *Engine) SyncStatus() SyncStatus {
	return SyncStatus{
		DeviceID:     e.device.DeviceID,
		Online:       e.net.Online(),
		Pending:      e.pending.Len(),
		LastSyncMark: e.reconciler.Mark(),
		Bootstrapped: e.reconciler.Bootstrapped(),
		Status:       e.scheduler.Status(),
	}
}

// Foreground signals the app came to the foreground
func (e *Engine) Foreground() {
	e.scheduler.Trigger(TriggerAppForegrounded)
}

// RemoteChanged signals the server announced new data
func (e *Engine) RemoteChanged() {
	e.scheduler.Trigger(TriggerRemoteChange)
}

// SyncNow runs one cycle synchronously
func (e *Engine) SyncNow(ctx context.Context) CycleResult {
	return e.scheduler.RunCycle(ctx, TriggerAppForegrounded)
}

// Start runs the scheduler loop in the background
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("sync engine already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true

	go func() {
		defer close(e.done)
		defer func() {
			if r := recover(); r != nil {
				e.log.WithField("panic", r).Error("🚨 Scheduler crashed, pending scans stay queued")
			}
		}()
		e.scheduler.Run(ctx)
	}()

	e.log.Info("✅ Sync engine started")
	return nil
}

// Stop stops the scheduler loop and waits for the current cycle to end
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	cancel()
	<-done
	e.log.Info("🛑 Sync engine stopped")
}
