package camera

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitan-vision/sitewatch/internal/capture"
	"github.com/capitan-vision/sitewatch/internal/metrics"
	"github.com/capitan-vision/sitewatch/internal/models"
	"github.com/capitan-vision/sitewatch/internal/rules"
)

type fakeOpener struct {
	mu    sync.Mutex
	opens int
	// source builds the next opened source; nil means a long-running one.
	source func() capture.Source
}

func (o *fakeOpener) Open(context.Context, string, string) (capture.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	if o.source != nil {
		return o.source(), nil
	}
	return &fakeSource{frames: 1_000_000}, nil
}

func (o *fakeOpener) opened() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

type fakeHeartbeats struct {
	mu   sync.Mutex
	sent []models.Heartbeat
}

func (f *fakeHeartbeats) SendHeartbeat(hb models.Heartbeat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, hb)
	return nil
}

func (f *fakeHeartbeats) last() (models.Heartbeat, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return models.Heartbeat{}, false
	}
	return f.sent[len(f.sent)-1], true
}

func newTestManager(t *testing.T) (*Manager, *fakeOpener, *fakeHeartbeats) {
	t.Helper()

	log := quietLogger()
	opener := &fakeOpener{}
	heartbeats := &fakeHeartbeats{}

	deps := LoopDeps{
		Detector:     &fakeDetector{},
		Engine:       rules.NewEngine(rules.DefaultRuleSet(), log, metrics.NewNop()),
		Bridge:       &fakeBridge{},
		Hub:          &fakeHub{},
		Configs:      &fakeConfigs{cfg: baseConfig(), defaults: baseConfig()},
		Log:          log,
		Metrics:      metrics.NewNop(),
		RetryBackoff: time.Millisecond,
	}

	return NewManager(opener, deps, nil, heartbeats, log), opener, heartbeats
}

func TestManagerStartAndStatus(t *testing.T) {
	mgr, opener, _ := newTestManager(t)
	defer mgr.StopAll()

	err := mgr.Start(context.Background(), models.CameraCommand{
		CameraID:    "cam1",
		Action:      models.CommandStart,
		VideoSource: "s3://frames/cam1",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, opener.opened())

	require.Eventually(t, func() bool {
		hb, ok := mgr.Status("cam1")
		return ok && hb.State == models.StateRunning
	}, 5*time.Second, time.Millisecond)
}

func TestManagerDuplicateStartIgnored(t *testing.T) {
	mgr, opener, _ := newTestManager(t)
	defer mgr.StopAll()

	cmd := models.CameraCommand{CameraID: "cam1", Action: models.CommandStart}
	require.NoError(t, mgr.Start(context.Background(), cmd))
	require.NoError(t, mgr.Start(context.Background(), cmd))

	assert.Equal(t, 1, opener.opened())
}

func TestManagerStopShutsLoopDown(t *testing.T) {
	mgr, _, heartbeats := newTestManager(t)

	require.NoError(t, mgr.Start(context.Background(), models.CameraCommand{CameraID: "cam1"}))
	require.Eventually(t, func() bool {
		hb, ok := mgr.Status("cam1")
		return ok && hb.State == models.StateRunning
	}, 5*time.Second, time.Millisecond)

	assert.True(t, mgr.Stop("cam1"))

	// The stopped camera stays queryable with its terminal state.
	require.Eventually(t, func() bool {
		hb, ok := mgr.Status("cam1")
		return ok && hb.State == models.StateStopped
	}, 5*time.Second, time.Millisecond)
	assert.False(t, mgr.Stop("cam1"), "finished loop is no longer stoppable")

	hb, ok := heartbeats.last()
	require.True(t, ok)
	assert.Equal(t, models.StateStopped, hb.State)
}

func TestManagerRetainsFailedStatus(t *testing.T) {
	mgr, opener, _ := newTestManager(t)
	defer mgr.StopAll()

	broken := errors.New("source unreachable")
	opener.source = func() capture.Source {
		return &fakeSource{
			frames: 10,
			errAt:  map[int]error{1: broken, 2: broken, 3: broken, 4: broken, 5: broken},
		}
	}

	require.NoError(t, mgr.Start(context.Background(), models.CameraCommand{CameraID: "cam1"}))

	// The loop dies, but its failure stays on the status surface.
	require.Eventually(t, func() bool {
		hb, ok := mgr.Status("cam1")
		return ok && hb.State == models.StateFailed
	}, 5*time.Second, time.Millisecond)

	hb, _ := mgr.Status("cam1")
	assert.Contains(t, hb.LastError, "source unreachable")
	require.Len(t, mgr.Statuses(), 1)
	assert.Equal(t, models.StateFailed, mgr.Statuses()[0].State)

	// Restarting the camera evicts the stale terminal entry.
	opener.mu.Lock()
	opener.source = nil
	opener.mu.Unlock()
	require.NoError(t, mgr.Start(context.Background(), models.CameraCommand{CameraID: "cam1"}))
	require.Eventually(t, func() bool {
		hb, ok := mgr.Status("cam1")
		return ok && hb.State == models.StateRunning
	}, 5*time.Second, time.Millisecond)
}

func TestManagerStopUnknownCameraIsNoOp(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	assert.False(t, mgr.Stop("ghost"))
}

func TestManagerStatusesListsActiveCameras(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	defer mgr.StopAll()

	require.NoError(t, mgr.Start(context.Background(), models.CameraCommand{CameraID: "cam1"}))
	require.NoError(t, mgr.Start(context.Background(), models.CameraCommand{CameraID: "cam2"}))

	require.Eventually(t, func() bool {
		return len(mgr.Statuses()) == 2
	}, 5*time.Second, time.Millisecond)
}
