package persist

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/capitan-vision/sitewatch/internal/metrics"
	"github.com/capitan-vision/sitewatch/internal/models"
	"github.com/capitan-vision/sitewatch/internal/s3"
)

const (
	defaultQueueSize = 256
	submitTimeout    = 50 * time.Millisecond
	flushTimeout     = 5 * time.Second

	writeRetries = 3
	retryBackoff = 200 * time.Millisecond
)

// RecordStore is the database write path the worker depends on.
type RecordStore interface {
	SaveRecord(ctx context.Context, recordID, snapshotKey string, record models.DetectionRecord, violations []models.Violation) (string, error)
}

// SnapshotStore persists evidence images keyed by record id.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, key string, frame []byte) error
}

// Job is one queued save: the record, its violations, the admission
// decision that let it through, and optionally the encoded frame to
// store as evidence.
type Job struct {
	RecordID   string
	Record     models.DetectionRecord
	Violations []models.Violation
	Decision   models.SavePolicyDecision
	Frame      []byte
}

// Bridge owns the persistence worker. The detection loop talks to it
// only through Submit; all database and blob writes happen on the
// worker goroutine, FIFO, so per-camera record order is preserved.
type Bridge struct {
	store   RecordStore
	snaps   SnapshotStore
	jobs    chan Job
	done    chan struct{}
	log     *logrus.Logger
	metrics *metrics.Metrics

	// Guards the jobs channel against Submit racing Close during
	// shutdown, when loops may still be finishing their last cycle.
	// Submitters take the read side, so one camera waiting on a full
	// queue never serializes the others.
	mu     sync.RWMutex
	closed bool
}

func NewBridge(store RecordStore, snaps SnapshotStore, log *logrus.Logger, m *metrics.Metrics) *Bridge {
	return &Bridge{
		store:   store,
		snaps:   snaps,
		jobs:    make(chan Job, defaultQueueSize),
		done:    make(chan struct{}),
		log:     log,
		metrics: m,
	}
}

// Run processes queued jobs until the queue is closed and drained.
// Must run on its own goroutine; the worker owns its execution context
// entirely.
func (b *Bridge) Run(ctx context.Context) {
	defer close(b.done)

	for job := range b.jobs {
		b.process(ctx, job)
	}
}

// Submit enqueues a save without awaiting the write. Never blocks the
// caller past a small bounded timeout; a full queue drops the job and
// reports false. Timestamps are normalized to UTC before enqueue.
func (b *Bridge) Submit(job Job) bool {
	if job.RecordID == "" {
		job.RecordID = uuid.New().String()
	}
	job.Record.Timestamp = job.Record.Timestamp.UTC()

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.metrics.PersistDropped.WithLabelValues(job.Record.CameraID).Inc()
		return false
	}

	timer := time.NewTimer(submitTimeout)
	defer timer.Stop()

	select {
	case b.jobs <- job:
		b.metrics.PersistEnqueued.WithLabelValues(job.Record.CameraID).Inc()
		return true
	case <-timer.C:
		b.metrics.PersistDropped.WithLabelValues(job.Record.CameraID).Inc()
		b.log.WithFields(logrus.Fields{
			"camera_id": job.Record.CameraID,
			"frame":     job.Record.FrameCount,
		}).Warn("persistence queue full, submission dropped")
		return false
	}
}

// Close stops accepting jobs and waits for the worker to drain,
// bounded by flushTimeout.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.jobs)
	b.mu.Unlock()

	select {
	case <-b.done:
	case <-time.After(flushTimeout):
		b.log.Warn("persistence worker did not drain before timeout")
	}
}

// process writes one job with bounded retries. Permanent failure is
// logged as data loss and counted, never propagated to the loop.
func (b *Bridge) process(ctx context.Context, job Job) {
	snapshotKey := ""
	if len(job.Frame) > 0 {
		snapshotKey = s3.SnapshotKey(job.Record.CameraID, job.RecordID)
	}

	var lastErr error
	for attempt := 1; attempt <= writeRetries; attempt++ {
		lastErr = b.write(ctx, job, snapshotKey)
		if lastErr == nil {
			return
		}

		b.log.WithFields(logrus.Fields{
			"camera_id": job.Record.CameraID,
			"frame":     job.Record.FrameCount,
			"attempt":   attempt,
			"error":     lastErr,
		}).Warn("record write failed")

		select {
		case <-ctx.Done():
			attempt = writeRetries
		case <-time.After(retryBackoff * time.Duration(attempt)):
		}
	}

	b.metrics.PersistLost.WithLabelValues(job.Record.CameraID).Inc()
	b.log.WithFields(logrus.Fields{
		"camera_id": job.Record.CameraID,
		"frame":     job.Record.FrameCount,
		"reason":    job.Decision.Reason,
		"error":     lastErr,
	}).Error("record permanently lost after retries")
}

func (b *Bridge) write(ctx context.Context, job Job, snapshotKey string) error {
	if snapshotKey != "" {
		if err := b.snaps.SaveSnapshot(ctx, snapshotKey, job.Frame); err != nil {
			return err
		}
	}

	_, err := b.store.SaveRecord(ctx, job.RecordID, snapshotKey, job.Record, job.Violations)
	return err
}
