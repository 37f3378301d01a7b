package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"github.com/xelth-com/yatrasync/internal/config"
	"github.com/xelth-com/yatrasync/internal/models"
	"github.com/xelth-com/yatrasync/internal/queue"
	"github.com/xelth-com/yatrasync/internal/remote"
)

// State of the sync scheduler
type State string

const (
	StateIdle    State = "idle"
	StatePolling State = "polling"
	StatePushing State = "pushing"
	StateBackoff State = "backoff"
)

// Trigger is an event that may start a sync cycle
type Trigger string

const (
	TriggerNetworkOnline   Trigger = "network_online"
	TriggerTimerTick       Trigger = "timer_tick"
	TriggerAppForegrounded Trigger = "app_foregrounded"
	TriggerScanAdded       Trigger = "scan_added"
	TriggerRemoteChange    Trigger = "remote_change"
)

// Connectivity is the online/offline signal the scheduler reacts to
type Connectivity interface {
	Online() bool
	Check(ctx context.Context) bool
	Subscribe() (<-chan bool, func())
}

// SchedulerConfig holds the scheduler policies
type SchedulerConfig struct {
	BatchSize            int
	FailureThreshold     int
	PollInterval         time.Duration
	OfflineCheckInterval time.Duration
	BackoffBase          time.Duration
	BackoffCap           time.Duration
}

// SchedulerConfigFrom converts the sync tunables
func SchedulerConfigFrom(cfg *config.SyncConfig) SchedulerConfig {
	return SchedulerConfig{
		BatchSize:            cfg.BatchSize,
		FailureThreshold:     cfg.FailureThreshold,
		PollInterval:         cfg.PollEvery(),
		OfflineCheckInterval: cfg.OfflineCheckEvery(),
		BackoffBase:          cfg.BackoffBaseDelay(),
		BackoffCap:           cfg.BackoffMaxDelay(),
	}
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.OfflineCheckInterval <= 0 {
		c.OfflineCheckInterval = 30 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Second
	}
	return c
}

// CycleResult summarizes one Polling/Pushing pass
type CycleResult struct {
	Trigger           Trigger
	Polled            bool
	Pushed            int
	Accepted          int
	Duplicates        int
	Rejected          int
	Evicted           int
	TransientFailures int
	Err               error
	BackoffDelay      time.Duration // non-zero when the cycle ended in Backoff
}

// Scheduler drives reconciliation and queue draining for one device.
// Cycles never overlap; triggers arriving during a cycle coalesce.
type Scheduler struct {
	cfg        SchedulerConfig
	pending    *queue.Queue
	remote     remote.Store
	reconciler *Reconciler
	inflight   *inflightSet
	net        Connectivity
	log        logrus.FieldLogger
	now        func() time.Time

	cycleMu sync.Mutex // held for a whole cycle

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	backoff             *backoff.ExponentialBackOff
	backoffUntil        time.Time
	lastSuccess         time.Time
	lastError           string
	warnings            []string

	triggers chan Trigger
}

// NewScheduler wires a scheduler. It starts Idle.
func NewScheduler(cfg SchedulerConfig, pending *queue.Queue, rs remote.Store, rec *Reconciler, inflight *inflightSet, net Connectivity, logger logrus.FieldLogger) *Scheduler {
	cfg = cfg.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BackoffBase
	b.Multiplier = 2
	b.MaxInterval = cfg.BackoffCap
	b.RandomizationFactor = 0
	b.Reset()

	return &Scheduler{
		cfg:        cfg,
		pending:    pending,
		remote:     rs,
		reconciler: rec,
		inflight:   inflight,
		net:        net,
		log:        logger.WithField("component", "scheduler"),
		now:        func() time.Time { return time.Now().UTC() },
		state:      StateIdle,
		backoff:    b,
		triggers:   make(chan Trigger, 16),
	}
}

// State returns the current state
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != st {
		s.log.WithFields(logrus.Fields{"from": s.state, "to": st}).Debug("Scheduler state change")
		s.state = st
	}
}

// Trigger requests a cycle from the Run loop. It never blocks.
func (s *Scheduler) Trigger(t Trigger) {
	select {
	case s.triggers <- t:
	default:
		// A cycle is already requested
	}
}

// RunCycle performs Polling then, if anything is queued, Pushing.
// It returns immediately with an empty result while Backoff is active.
// A cycle with transport failures re-checks the routes, so a dead primary
// fails over to the next route or the device goes offline.
func (s *Scheduler) RunCycle(ctx context.Context, trigger Trigger) CycleResult {
	res := s.runCycle(ctx, trigger)
	if res.TransientFailures > 0 && ctx.Err() == nil {
		s.net.Check(ctx)
	}
	return res
}

func (s *Scheduler) runCycle(ctx context.Context, trigger Trigger) CycleResult {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	res := CycleResult{Trigger: trigger}

	s.mu.Lock()
	if s.state == StateBackoff && s.now().Before(s.backoffUntil) {
		s.mu.Unlock()
		return res
	}
	s.mu.Unlock()

	// Polling
	s.setState(StatePolling)
	if _, err := s.reconciler.Poll(ctx); err != nil {
		res.Err = err
		s.log.WithError(err).WithField("trigger", trigger).Warn("⚠️ Poll failed")
		if remote.IsTransient(err) {
			res.TransientFailures++
			if delay, entered := s.noteTransportFailure(err); entered {
				res.BackoffDelay = delay
				return res
			}
		}
	} else {
		res.Polled = true
		s.noteTransportSuccess()
	}

	if s.pending.Len() == 0 {
		s.setState(StateIdle)
		return res
	}

	// Pushing
	s.setState(StatePushing)
	for _, item := range s.pending.Peek(s.cfg.BatchSize) {
		if ctx.Err() != nil {
			break
		}
		ev := item.Event
		res.Pushed++

		s.inflight.add(ev)
		out, err := s.remote.CreateScan(ctx, ev)

		switch {
		case err == nil:
			s.noteTransportSuccess()
			s.settle(ev, out, &res)

		case models.IsValidationError(err), errors.Is(err, models.ErrRejected):
			s.noteTransportSuccess()
			res.Rejected++
			s.reject(ev, err, &res)

		default:
			res.Err = err
			res.TransientFailures++
			if qerr := s.pending.NoteFailure(ev.ID); qerr != nil {
				s.log.WithError(qerr).Error("❌ Failed to record retry")
			}
			s.log.WithFields(logrus.Fields{"scan_id": ev.ID}).WithError(err).Warn("⚠️ Push failed, scan stays queued")
			if delay, entered := s.noteTransportFailure(err); entered {
				s.inflight.remove(ev)
				res.BackoffDelay = delay
				return res
			}
		}
		s.inflight.remove(ev)
	}

	s.setState(StateIdle)
	return res
}

// settle ends local tracking of an accepted or duplicate scan. The confirmed
// view is updated before the dequeue so the guard never has a gap.
func (s *Scheduler) settle(ev models.ScanEvent, out models.CreateResult, res *CycleResult) {
	fields := logrus.Fields{
		"scan_id":        ev.ID,
		"participant_id": ev.ParticipantID,
		"checkpoint_id":  ev.CheckpointID,
	}
	if out.Duplicate {
		res.Duplicates++
		s.reconciler.RecordDuplicate(ev.DedupKey(), out.ExistingID)
		fields["existing_id"] = out.ExistingID
		s.log.WithFields(fields).Info("♻️ Scan already recorded by another device")
	} else {
		res.Accepted++
		s.reconciler.RecordAccepted(ev)
		s.log.WithFields(fields).Info("✅ Scan confirmed")
	}

	if err := s.pending.Dequeue(ev.ID); err != nil {
		// Still queued; the next push replays the create, which is idempotent
		s.log.WithError(err).Error("❌ Failed to dequeue confirmed scan")
	}
}

// reject counts a permanent refusal toward eviction
func (s *Scheduler) reject(ev models.ScanEvent, cause error, res *CycleResult) {
	evicted, err := s.pending.IncrementRetry(ev.ID)
	if err != nil {
		s.log.WithError(err).Error("❌ Failed to record retry")
		return
	}
	if evicted {
		res.Evicted++
		s.addWarning("scan " + ev.ID + " (" + ev.ParticipantID + " @ " + ev.CheckpointID + ") dropped: " + cause.Error())
		return
	}
	s.log.WithFields(logrus.Fields{"scan_id": ev.ID}).WithError(cause).Warn("⚠️ Scan rejected by server")
}

func (s *Scheduler) noteTransportSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFailures = 0
	s.backoff.Reset()
	s.lastSuccess = s.now()
	s.lastError = ""
}

// noteTransportFailure counts a failure and enters Backoff on the threshold
func (s *Scheduler) noteTransportFailure(err error) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastError = err.Error()
	s.consecutiveFailures++
	if s.consecutiveFailures < s.cfg.FailureThreshold {
		return 0, false
	}

	delay := s.backoff.NextBackOff()
	s.consecutiveFailures = 0
	s.state = StateBackoff
	s.backoffUntil = s.now().Add(delay)
	s.log.WithField("delay", delay).Warn("⏳ Entering backoff")
	return delay, true
}

func (s *Scheduler) addWarning(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, msg)
	if len(s.warnings) > 20 {
		s.warnings = s.warnings[len(s.warnings)-20:]
	}
}

// backoffRemaining returns how long Backoff still lasts
func (s *Scheduler) backoffRemaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateBackoff {
		return 0
	}
	if d := s.backoffUntil.Sub(s.now()); d > 0 {
		return d
	}
	return 0
}

// leaveBackoff returns to Idle once the delay has elapsed
func (s *Scheduler) leaveBackoff() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateBackoff && !s.now().Before(s.backoffUntil) {
		s.state = StateIdle
	}
}

// Run is the scheduler loop. It reacts to connectivity transitions,
// explicit triggers and its own timer until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	online, cancel := s.net.Subscribe()
	defer cancel()

	timer := time.NewTimer(0)
	defer timer.Stop()

	// Routes are re-checked while online too, so the primary is picked up
	// again once it recovers
	lastCheck := s.now()

	for {
		select {
		case <-ctx.Done():
			return

		case up, ok := <-online:
			if !ok {
				online = nil
				continue
			}
			if up {
				s.cycle(ctx, TriggerNetworkOnline)
			}

		case t := <-s.triggers:
			switch {
			case s.net.Online():
				s.cycle(ctx, t)
			case t == TriggerAppForegrounded:
				// Foregrounding while offline is a good moment to re-check
				s.net.Check(ctx)
			}

		case <-timer.C:
			s.leaveBackoff()
			if s.net.Online() && s.now().Sub(lastCheck) >= s.cfg.OfflineCheckInterval {
				s.net.Check(ctx)
				lastCheck = s.now()
			}
			if s.net.Online() {
				s.cycle(ctx, TriggerTimerTick)
			} else {
				s.net.Check(ctx)
				lastCheck = s.now()
			}
		}

		resetTimer(timer, s.nextWait())
	}
}

func (s *Scheduler) cycle(ctx context.Context, t Trigger) {
	if s.backoffRemaining() > 0 {
		return
	}
	res := s.RunCycle(ctx, t)
	if res.Pushed > 0 || res.Err != nil {
		s.log.WithFields(logrus.Fields{
			"trigger":    t,
			"pushed":     res.Pushed,
			"accepted":   res.Accepted,
			"duplicates": res.Duplicates,
			"rejected":   res.Rejected,
			"evicted":    res.Evicted,
			"failures":   res.TransientFailures,
		}).Info("🔄 Sync cycle finished")
	}
}

func (s *Scheduler) nextWait() time.Duration {
	if d := s.backoffRemaining(); d > 0 {
		return d
	}
	if s.net.Online() {
		return s.cfg.PollInterval
	}
	return s.cfg.OfflineCheckInterval
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// Status is a point-in-time view of the scheduler
type Status struct {
	State               State
	ConsecutiveFailures int
	BackoffUntil        time.Time
	LastSuccess         time.Time
	LastError           string
	Warnings            []string
}

// Status returns the scheduler status
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:               s.state,
		ConsecutiveFailures: s.consecutiveFailures,
		LastSuccess:         s.lastSuccess,
		LastError:           s.lastError,
		Warnings:            append([]string(nil), s.warnings...),
	}
	if s.state == StateBackoff {
		st.BackoffUntil = s.backoffUntil
	}
	return st
}
