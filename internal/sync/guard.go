package sync

import (
	"sync"

	"github.com/xelth-com/yatrasync/internal/models"
	"github.com/xelth-com/yatrasync/internal/queue"
)

// inflightSet tracks creates that were sent but not yet answered
type inflightSet struct {
	mu    sync.Mutex
	pairs map[models.DedupKey]string
}

func newInflightSet() *inflightSet {
	return &inflightSet{pairs: make(map[models.DedupKey]string)}
}

func (s *inflightSet) add(ev models.ScanEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs[ev.DedupKey()] = ev.ID
}

func (s *inflightSet) remove(ev models.ScanEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pairs[ev.DedupKey()] == ev.ID {
		delete(s.pairs, ev.DedupKey())
	}
}

func (s *inflightSet) contains(key models.DedupKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pairs[key]
	return ok
}

// Guard answers whether a pair was already recorded, as seen from this device.
//
// It is a fast path for instant feedback and fewer network calls. It cannot
// see scans another device has not synced yet, so the authoritative store
// remains the only thing that guarantees one scan per pair.
type Guard struct {
	confirmed *Reconciler
	pending   *queue.Queue
	inflight  *inflightSet
}

// IsDuplicate checks, in order, the reconciled confirmed scans, the pending
// queue and the in-flight creates
func (g *Guard) IsDuplicate(participantID, checkpointID string) bool {
	key := models.DedupKey{ParticipantID: participantID, CheckpointID: checkpointID}
	if g.confirmed.HasConfirmed(key) {
		return true
	}
	if g.pending.Contains(participantID, checkpointID) {
		return true
	}
	return g.inflight.contains(key)
}
