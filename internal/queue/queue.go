// Package queue implements the durable list of scans that have not been
// confirmed by the authoritative store yet.
//
// The whole queue is stored as one JSON array under a single key. Every
// mutation is written through before it returns, so a scan reported as saved
// survives a crash. A mutex serializes the UI path and the sync scheduler.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xelth-com/yatrasync/internal/localstore"
	"github.com/xelth-com/yatrasync/internal/models"
)

// DefaultMaxRetries bounds how often a permanently rejected scan is retried
const DefaultMaxRetries = 5

// ErrAlreadyPending is returned by Enqueue when the pair or id is already queued
var ErrAlreadyPending = errors.New("scan already pending")

// Queue is the device's pending scan queue
type Queue struct {
	mu         sync.Mutex
	kv         localstore.KV
	items      []models.PendingQueueItem
	maxRetries int
	log        logrus.FieldLogger
	now        func() time.Time
}

// Open loads the queue from kv. A payload that cannot be decoded is logged
// with its raw content and the queue starts empty.
func Open(kv localstore.KV, maxRetries int, logger logrus.FieldLogger) (*Queue, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	q := &Queue{
		kv:         kv,
		maxRetries: maxRetries,
		log:        logger.WithField("component", "queue"),
		now:        func() time.Time { return time.Now().UTC() },
	}

	data, err := kv.Get(localstore.KeyPendingScans)
	if errors.Is(err, localstore.ErrNotFound) {
		return q, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pending scans: %w", err)
	}
	if len(data) == 0 {
		return q, nil
	}

	var items []models.PendingQueueItem
	if err := json.Unmarshal(data, &items); err != nil {
		q.log.WithFields(logrus.Fields{
			"raw":   string(data),
			"bytes": len(data),
		}).WithError(err).Error("🚨 Pending scan queue is corrupt, starting with an empty queue")
		return q, nil
	}
	q.items = items

	if len(items) > 0 {
		q.log.Infof("📥 Restored %d pending scans", len(items))
	}
	return q, nil
}

// MaxRetries returns the eviction threshold
func (q *Queue) MaxRetries() int {
	return q.maxRetries
}

// Enqueue appends an event and persists the queue before returning
func (q *Queue) Enqueue(ev models.ScanEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := ev.DedupKey()
	for _, it := range q.items {
		if it.Event.ID == ev.ID || it.Event.DedupKey() == key {
			return ErrAlreadyPending
		}
	}

	ev.SyncState = models.SyncStatePending
	prev := q.items
	q.items = append(append([]models.PendingQueueItem(nil), q.items...), models.PendingQueueItem{
		Event:      ev,
		EnqueuedAt: q.now(),
	})
	if err := q.persistLocked(); err != nil {
		q.items = prev
		return err
	}
	return nil
}

// Dequeue removes a confirmed event. Unknown ids are ignored.
func (q *Queue) Dequeue(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexLocked(id)
	if idx < 0 {
		return nil
	}
	return q.removeLocked(idx)
}

// List returns a copy of all pending items in enqueue order
func (q *Queue) List() []models.PendingQueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.PendingQueueItem(nil), q.items...)
}

// Peek returns up to n items from the head of the queue
func (q *Queue) Peek(n int) []models.PendingQueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 || n > len(q.items) {
		n = len(q.items)
	}
	return append([]models.PendingQueueItem(nil), q.items[:n]...)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Contains reports whether the pair is pending
func (q *Queue) Contains(participantID, checkpointID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := models.DedupKey{ParticipantID: participantID, CheckpointID: checkpointID}
	for _, it := range q.items {
		if it.Event.DedupKey() == key {
			return true
		}
	}
	return false
}

// IncrementRetry records a rejected attempt. Once retryCount reaches
// MaxRetries the item is evicted and evicted is true.
func (q *Queue) IncrementRetry(id string) (evicted bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexLocked(id)
	if idx < 0 {
		return false, nil
	}

	item := q.items[idx]
	item.RetryCount++
	if item.RetryCount >= q.maxRetries {
		if err := q.removeLocked(idx); err != nil {
			return false, err
		}
		q.log.WithFields(logrus.Fields{
			"scan_id":        item.Event.ID,
			"participant_id": item.Event.ParticipantID,
			"checkpoint_id":  item.Event.CheckpointID,
			"retries":        item.RetryCount,
		}).Warn("🗑️ Evicted pending scan after exhausting retries")
		return true, nil
	}

	return false, q.replaceLocked(idx, item)
}

// NoteFailure records a transient failure. The item always stays queued.
func (q *Queue) NoteFailure(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexLocked(id)
	if idx < 0 {
		return nil
	}
	item := q.items[idx]
	item.RetryCount++
	return q.replaceLocked(idx, item)
}

func (q *Queue) indexLocked(id string) int {
	for i, it := range q.items {
		if it.Event.ID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) removeLocked(idx int) error {
	prev := q.items
	next := make([]models.PendingQueueItem, 0, len(prev)-1)
	next = append(next, prev[:idx]...)
	next = append(next, prev[idx+1:]...)
	q.items = next
	if err := q.persistLocked(); err != nil {
		q.items = prev
		return err
	}
	return nil
}

func (q *Queue) replaceLocked(idx int, item models.PendingQueueItem) error {
	prev := q.items
	next := append([]models.PendingQueueItem(nil), prev...)
	next[idx] = item
	q.items = next
	if err := q.persistLocked(); err != nil {
		q.items = prev
		return err
	}
	return nil
}

func (q *Queue) persistLocked() error {
	items := q.items
	if items == nil {
		items = []models.PendingQueueItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode pending scans: %w", err)
	}
	if err := q.kv.Put(localstore.KeyPendingScans, data); err != nil {
		return fmt.Errorf("failed to persist pending scans: %w", err)
	}
	return nil
}
