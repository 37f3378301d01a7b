package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xelth-com/yatrasync/internal/localstore"
	"github.com/xelth-com/yatrasync/internal/models"
	"github.com/xelth-com/yatrasync/internal/queue"
	"github.com/xelth-com/yatrasync/internal/remote"
	"github.com/xelth-com/yatrasync/internal/utils"
)

// PollResult summarizes one successful fetch
type PollResult struct {
	Snapshot     bool
	Scans        int
	Participants int
	Mark         time.Time
}

// Reconciler merges remote confirmed state with the local pending queue.
//
// The first poll of every process run loads a full snapshot, later polls
// fetch rows received after lastSyncMark minus an overlap window and merge
// them by id. The mark only moves forward and only after a successful fetch.
type Reconciler struct {
	mu sync.RWMutex

	remote  remote.Store
	kv      localstore.KV
	pending *queue.Queue
	overlap time.Duration
	log     logrus.FieldLogger

	bootstrapped bool
	mark         time.Time

	confirmed    map[string]models.ScanEvent
	pairs        map[models.DedupKey]string
	participants map[string]models.Participant
	tokens       map[string]string

	now func() time.Time
}

// NewReconciler loads the persisted mark. An unreadable mark is logged and
// ignored; the first poll is a full snapshot anyway.
func NewReconciler(rs remote.Store, kv localstore.KV, pending *queue.Queue, overlap time.Duration, logger logrus.FieldLogger) (*Reconciler, error) {
	r := &Reconciler{
		remote:       rs,
		kv:           kv,
		pending:      pending,
		overlap:      overlap,
		log:          logger.WithField("component", "reconciler"),
		confirmed:    make(map[string]models.ScanEvent),
		pairs:        make(map[models.DedupKey]string),
		participants: make(map[string]models.Participant),
		tokens:       make(map[string]string),
		now:          func() time.Time { return time.Now().UTC() },
	}

	data, err := kv.Get(localstore.KeyLastSyncMark)
	switch {
	case errors.Is(err, localstore.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to load sync mark: %w", err)
	default:
		mark, perr := time.Parse(time.RFC3339Nano, string(data))
		if perr != nil {
			r.log.WithField("raw", string(data)).WithError(perr).Error("🚨 Unreadable lastSyncMark, ignoring")
		} else {
			r.mark = mark.UTC()
		}
	}
	return r, nil
}

// Poll fetches remote changes and merges them into the confirmed view
func (r *Reconciler) Poll(ctx context.Context) (PollResult, error) {
	r.mu.RLock()
	bootstrapped := r.bootstrapped
	mark := r.mark
	r.mu.RUnlock()

	if !bootstrapped {
		return r.bootstrap(ctx, mark)
	}

	since := time.Time{}
	if !mark.IsZero() {
		since = mark.Add(-r.overlap)
	}

	scans, err := r.remote.ListScansSince(ctx, since)
	if err != nil {
		return PollResult{}, fmt.Errorf("list scans: %w", err)
	}
	participants, err := r.remote.ListParticipantsSince(ctx, since)
	if err != nil {
		return PollResult{}, fmt.Errorf("list participants: %w", err)
	}

	next := mark
	for _, s := range scans {
		next = later(next, s.ReceivedAt)
	}
	for _, p := range participants {
		next = later(next, p.UpdatedAt)
	}

	r.mu.Lock()
	for _, s := range scans {
		r.addConfirmedLocked(s)
	}
	for _, p := range participants {
		r.addParticipantLocked(p)
	}
	r.mu.Unlock()

	r.advance(next)
	return PollResult{Scans: len(scans), Participants: len(participants), Mark: r.Mark()}, nil
}

func (r *Reconciler) bootstrap(ctx context.Context, mark time.Time) (PollResult, error) {
	snap, err := r.remote.FullSnapshot(ctx)
	if err != nil {
		return PollResult{}, fmt.Errorf("snapshot: %w", err)
	}

	next := later(mark, snap.AsOf)
	for _, s := range snap.Scans {
		next = later(next, s.ReceivedAt)
	}
	for _, p := range snap.Participants {
		next = later(next, p.UpdatedAt)
	}

	r.mu.Lock()
	r.confirmed = make(map[string]models.ScanEvent, len(snap.Scans))
	r.pairs = make(map[models.DedupKey]string, len(snap.Scans))
	r.participants = make(map[string]models.Participant, len(snap.Participants))
	r.tokens = make(map[string]string, len(snap.Participants))
	for _, s := range snap.Scans {
		r.addConfirmedLocked(s)
	}
	for _, p := range snap.Participants {
		r.addParticipantLocked(p)
	}
	r.bootstrapped = true
	r.mu.Unlock()

	r.advance(next)
	r.log.WithFields(logrus.Fields{
		"scans":        len(snap.Scans),
		"participants": len(snap.Participants),
	}).Info("📦 Bootstrapped from full snapshot")

	return PollResult{Snapshot: true, Scans: len(snap.Scans), Participants: len(snap.Participants), Mark: r.Mark()}, nil
}

// advance moves the mark forward and persists it
func (r *Reconciler) advance(next time.Time) {
	r.mu.Lock()
	if !next.After(r.mark) {
		r.mu.Unlock()
		return
	}
	r.mark = next.UTC()
	value := r.mark.Format(time.RFC3339Nano)
	r.mu.Unlock()

	if err := r.kv.Put(localstore.KeyLastSyncMark, []byte(value)); err != nil {
		// The in-memory mark still holds for this run; a restart bootstraps again
		r.log.WithError(err).Error("❌ Failed to persist lastSyncMark")
	}
}

func (r *Reconciler) addConfirmedLocked(s models.ScanEvent) {
	s.SyncState = models.SyncStateConfirmed
	r.confirmed[s.ID] = s
	r.pairs[s.DedupKey()] = s.ID
}

func (r *Reconciler) addParticipantLocked(p models.Participant) {
	if old, ok := r.participants[p.ID]; ok && old.QRToken != p.QRToken {
		delete(r.tokens, utils.NormalizeToken(old.QRToken))
	}
	r.participants[p.ID] = p
	if p.QRToken != "" {
		r.tokens[utils.NormalizeToken(p.QRToken)] = p.ID
	}
}

// RecordAccepted adds a scan this device just pushed to the confirmed view,
// without waiting for the next poll. It is stamped with the local clock until
// the poll brings the server's receipt time.
func (r *Reconciler) RecordAccepted(ev models.ScanEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.confirmed[ev.ID]; ok {
		return
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = r.now()
	}
	r.addConfirmedLocked(ev)
}

// RecordDuplicate remembers that a pair is taken by existingID. The winning
// event itself arrives with the next poll.
func (r *Reconciler) RecordDuplicate(key models.DedupKey, existingID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pairs[key]; !ok {
		r.pairs[key] = existingID
	}
}

// HasConfirmed reports whether the pair is known to be taken remotely
func (r *Reconciler) HasConfirmed(key models.DedupKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.pairs[key]
	return ok
}

// View returns confirmed scans followed by pending scans not yet confirmed.
// Confirmed scans are ordered by server receipt, pending by enqueue order.
func (r *Reconciler) View() []models.ScanEvent {
	r.mu.RLock()
	view := make([]models.ScanEvent, 0, len(r.confirmed))
	for _, s := range r.confirmed {
		view = append(view, s)
	}
	r.mu.RUnlock()

	sort.Slice(view, func(i, j int) bool {
		if !view[i].ReceivedAt.Equal(view[j].ReceivedAt) {
			return view[i].ReceivedAt.Before(view[j].ReceivedAt)
		}
		return view[i].ID < view[j].ID
	})

	seen := make(map[string]struct{}, len(view))
	for _, s := range view {
		seen[s.ID] = struct{}{}
	}
	for _, it := range r.pending.List() {
		if _, ok := seen[it.Event.ID]; ok {
			continue
		}
		ev := it.Event
		ev.SyncState = models.SyncStatePending
		view = append(view, ev)
	}
	return view
}

// ParticipantByToken resolves a scanned QR token
func (r *Reconciler) ParticipantByToken(token string) (models.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.tokens[utils.NormalizeToken(token)]
	if !ok {
		return models.Participant{}, false
	}
	return r.participants[id], true
}

// Participant returns a participant from the last reconciled snapshot
func (r *Reconciler) Participant(id string) (models.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[id]
	return p, ok
}

// Mark returns the current lastSyncMark
func (r *Reconciler) Mark() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mark
}

// Bootstrapped reports whether this run has loaded a full snapshot
func (r *Reconciler) Bootstrapped() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bootstrapped
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
