package persist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitan-vision/sitewatch/internal/metrics"
	"github.com/capitan-vision/sitewatch/internal/models"
)

type fakeStore struct {
	mu       sync.Mutex
	saved    []Job
	failures int
}

func (f *fakeStore) SaveRecord(ctx context.Context, recordID, snapshotKey string, record models.DetectionRecord, violations []models.Violation) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return "", errors.New("storage unavailable")
	}
	f.saved = append(f.saved, Job{RecordID: recordID, Record: record, Violations: violations})
	return recordID, nil
}

func (f *fakeStore) savedJobs() []Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Job(nil), f.saved...)
}

type fakeSnaps struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeSnaps) SaveSnapshot(_ context.Context, key string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func newTestBridge(store *fakeStore, snaps *fakeSnaps) *Bridge {
	return NewBridge(store, snaps, quietLogger(), metrics.NewNop())
}

func testJob(frame int64) Job {
	return Job{
		Record: models.DetectionRecord{
			CameraID:   "cam1",
			Timestamp:  time.Now(),
			FrameCount: frame,
		},
		Decision: models.SavePolicyDecision{ShouldSave: true, Reason: models.ReasonPeriodic},
	}
}

func TestBridgeWritesSubmittedJobsInOrder(t *testing.T) {
	store := &fakeStore{}
	bridge := newTestBridge(store, &fakeSnaps{})
	go bridge.Run(context.Background())

	for frame := int64(1); frame <= 5; frame++ {
		require.True(t, bridge.Submit(testJob(frame)))
	}
	bridge.Close()

	saved := store.savedJobs()
	require.Len(t, saved, 5)
	for i, job := range saved {
		// FIFO: records persist in frame order within one camera.
		assert.Equal(t, int64(i+1), job.Record.FrameCount)
	}
}

func TestBridgeNormalizesTimestampsToUTC(t *testing.T) {
	store := &fakeStore{}
	bridge := newTestBridge(store, &fakeSnaps{})
	go bridge.Run(context.Background())

	job := testJob(1)
	job.Record.Timestamp = time.Date(2026, 3, 14, 15, 0, 0, 0, time.FixedZone("UTC-5", -5*3600))
	require.True(t, bridge.Submit(job))
	bridge.Close()

	saved := store.savedJobs()
	require.Len(t, saved, 1)
	assert.Equal(t, time.UTC, saved[0].Record.Timestamp.Location())
}

func TestBridgeRetriesTransientFailures(t *testing.T) {
	store := &fakeStore{failures: 2}
	bridge := newTestBridge(store, &fakeSnaps{})
	go bridge.Run(context.Background())

	require.True(t, bridge.Submit(testJob(1)))
	bridge.Close()

	assert.Len(t, store.savedJobs(), 1)
}

func TestBridgePermanentFailureNeverPropagates(t *testing.T) {
	store := &fakeStore{failures: 100}
	bridge := newTestBridge(store, &fakeSnaps{})
	go bridge.Run(context.Background())

	// Submission still succeeds; the loss is the worker's to log.
	require.True(t, bridge.Submit(testJob(1)))
	bridge.Close()

	assert.Empty(t, store.savedJobs())
}

func TestBridgeSnapshotKeyedByRecordID(t *testing.T) {
	store := &fakeStore{}
	snaps := &fakeSnaps{}
	bridge := newTestBridge(store, snaps)
	go bridge.Run(context.Background())

	job := testJob(1)
	job.RecordID = "rec-42"
	job.Frame = []byte{0xff, 0xd8}
	require.True(t, bridge.Submit(job))
	bridge.Close()

	require.Len(t, snaps.keys, 1)
	assert.Equal(t, "cam1/rec-42.jpg", snaps.keys[0])
}

func TestBridgeCloseDrainsQueueBeforeContextCancel(t *testing.T) {
	store := &fakeStore{}
	bridge := newTestBridge(store, &fakeSnaps{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.Run(ctx)

	for frame := int64(1); frame <= 5; frame++ {
		require.True(t, bridge.Submit(testJob(frame)))
	}

	// Shutdown drains with the context still live, then cancels.
	bridge.Close()
	cancel()

	assert.Len(t, store.savedJobs(), 5)
}

func TestBridgeSubmitAfterCloseIsRejected(t *testing.T) {
	store := &fakeStore{}
	bridge := newTestBridge(store, &fakeSnaps{})
	go bridge.Run(context.Background())

	bridge.Close()

	assert.False(t, bridge.Submit(testJob(1)))
	assert.Empty(t, store.savedJobs())
}

func TestBridgeFullQueueSubmitsWaitConcurrently(t *testing.T) {
	store := &fakeStore{}
	bridge := newTestBridge(store, &fakeSnaps{})
	// No worker running: fill the queue so every submit hits the timeout.
	for frame := int64(1); frame <= defaultQueueSize; frame++ {
		require.True(t, bridge.Submit(testJob(frame)))
	}

	const submitters = 4
	start := time.Now()
	var wg sync.WaitGroup
	results := make([]bool, submitters)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = bridge.Submit(testJob(int64(1000 + i)))
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	for _, ok := range results {
		assert.False(t, ok)
	}
	// Waits overlap instead of queueing behind one lock holder.
	assert.Less(t, elapsed, time.Duration(submitters)*submitTimeout)
}

func TestBridgeAssignsRecordID(t *testing.T) {
	store := &fakeStore{}
	bridge := newTestBridge(store, &fakeSnaps{})
	go bridge.Run(context.Background())

	require.True(t, bridge.Submit(testJob(1)))
	bridge.Close()

	saved := store.savedJobs()
	require.Len(t, saved, 1)
	assert.NotEmpty(t, saved[0].RecordID)
}
