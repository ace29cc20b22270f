package camera

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/capitan-vision/sitewatch/internal/capture"
	"github.com/capitan-vision/sitewatch/internal/inference"
	"github.com/capitan-vision/sitewatch/internal/metrics"
	"github.com/capitan-vision/sitewatch/internal/models"
	"github.com/capitan-vision/sitewatch/internal/persist"
	"github.com/capitan-vision/sitewatch/internal/rules"
)

const (
	captureRetries       = 5
	captureBackoff       = 500 * time.Millisecond
	configReloadInterval = 100
)

// ConfigSource is the runtime-config read path the loop polls.
type ConfigSource interface {
	Load(ctx context.Context, cameraID string) (models.RuntimeConfig, error)
	Defaults() models.RuntimeConfig
}

// Submitter is the fire-and-forget persistence handoff.
type Submitter interface {
	Submit(job persist.Job) bool
}

// Publisher is the stream-hub side the loop feeds.
type Publisher interface {
	Publish(cameraID string, data []byte)
	CloseCamera(cameraID string)
}

// Encoder prepares a frame for streaming, optionally drawing the
// current detections on it. Failures skip the frame, never the cycle.
type Encoder interface {
	Encode(frame capture.Frame, detections []models.Detection) ([]byte, error)
}

// PassthroughEncoder streams the captured bytes as-is; capture sources
// already deliver encoded JPEG frames.
type PassthroughEncoder struct{}

func (PassthroughEncoder) Encode(frame capture.Frame, _ []models.Detection) ([]byte, error) {
	return frame.Data, nil
}

// Loop owns the full processing lifecycle of one camera. One instance
// per active camera, each on its own goroutine.
type Loop struct {
	cameraID string
	source   capture.Source
	detector inference.Detector
	engine   *rules.Engine
	bridge   Submitter
	hub      Publisher
	configs  ConfigSource
	encoder  Encoder
	log      *logrus.Logger
	metrics  *metrics.Metrics
	backoff  time.Duration

	// Shared with Status() readers; everything else is loop-owned.
	mu         sync.Mutex
	state      models.LoopState
	lastErr    string
	frameCount int64

	history *trackHistory
}

type LoopDeps struct {
	Detector inference.Detector
	Engine   *rules.Engine
	Bridge   Submitter
	Hub      Publisher
	Configs  ConfigSource
	Encoder  Encoder
	Log      *logrus.Logger
	Metrics  *metrics.Metrics
	// RetryBackoff overrides the capture retry backoff base; zero
	// keeps the default.
	RetryBackoff time.Duration
}

func NewLoop(cameraID string, source capture.Source, deps LoopDeps) *Loop {
	encoder := deps.Encoder
	if encoder == nil {
		encoder = PassthroughEncoder{}
	}
	backoff := deps.RetryBackoff
	if backoff <= 0 {
		backoff = captureBackoff
	}
	return &Loop{
		cameraID: cameraID,
		source:   source,
		detector: deps.Detector,
		engine:   deps.Engine,
		bridge:   deps.Bridge,
		hub:      deps.Hub,
		configs:  deps.Configs,
		encoder:  encoder,
		log:      deps.Log,
		metrics:  deps.Metrics,
		backoff:  backoff,
		state:    models.StateStarting,
		history:  newTrackHistory(),
	}
}

// Status reports the loop's externally queryable health: lifecycle
// state, last error message, and processed frame count.
func (l *Loop) Status() (models.LoopState, string, int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state, l.lastErr, l.frameCount
}

func (l *Loop) setState(state models.LoopState) {
	l.mu.Lock()
	l.state = state
	l.mu.Unlock()

	l.log.WithFields(logrus.Fields{
		"camera_id": l.cameraID,
		"state":     state,
	}).Info("camera loop state changed")
}

func (l *Loop) setFailed(err error) {
	l.mu.Lock()
	l.state = models.StateFailed
	l.lastErr = err.Error()
	l.mu.Unlock()

	l.log.WithFields(logrus.Fields{
		"camera_id": l.cameraID,
		"error":     err,
	}).Error("camera loop failed")
}

// Run processes frames until the context is cancelled, the source is
// exhausted, or an unrecoverable capture error occurs. Blocking; call
// on a dedicated goroutine.
func (l *Loop) Run(ctx context.Context) {
	defer l.shutdown()

	cfg := l.loadInitialConfig(ctx)
	l.setState(models.StateRunning)

	var lastDetections []models.Detection

	for {
		select {
		case <-ctx.Done():
			l.setState(models.StateStopping)
			return
		default:
		}

		frame, err := l.acquireFrame(ctx)
		if err != nil {
			if errors.Is(err, capture.ErrSourceExhausted) || ctx.Err() != nil {
				l.setState(models.StateStopping)
				return
			}
			l.setFailed(fmt.Errorf("capture failed after %d retries: %w", captureRetries, err))
			return
		}

		l.mu.Lock()
		l.frameCount++
		frameCount := l.frameCount
		l.mu.Unlock()

		// Fresh inference runs every detection_interval frames. Stale
		// detections are reused for stream annotation only and never
		// reach the rule engine or persistence.
		now := time.Now().UTC()
		var fresh []models.Detection
		var violations []models.Violation
		if frameCount%int64(cfg.DetectionInterval) == 0 {
			fresh = l.detect(ctx, frame)
			lastDetections = fresh

			l.history.Observe(fresh, now)
			violations = l.engine.Evaluate(fresh, l.history)
		}

		// The save policy sees every frame, so periodic sampling keeps
		// its exact cadence regardless of the detection interval. A
		// non-inference frame persists with zero detections.
		decision := persist.Evaluate(frameCount, violations, cfg)
		if decision.ShouldSave {
			l.submit(frame, fresh, violations, decision, frameCount, now)
		}

		if cfg.FrameByFrame || frameCount%int64(cfg.StreamInterval) == 0 {
			l.publish(frame, lastDetections)
		}

		if frameCount%configReloadInterval == 0 {
			cfg = l.reloadConfig(ctx, cfg)
		}
	}
}

func (l *Loop) shutdown() {
	if err := l.source.Close(); err != nil {
		l.log.WithFields(logrus.Fields{
			"camera_id": l.cameraID,
			"error":     err,
		}).Warn("capture source close failed")
	}

	// Subscribers see a clean close, not an error.
	l.hub.CloseCamera(l.cameraID)

	l.mu.Lock()
	if l.state != models.StateFailed {
		l.state = models.StateStopped
	}
	l.mu.Unlock()

	l.log.WithField("camera_id", l.cameraID).Info("camera loop finished")
}

// acquireFrame pulls the next frame, retrying transient failures with
// backoff up to captureRetries attempts.
func (l *Loop) acquireFrame(ctx context.Context) (capture.Frame, error) {
	var lastErr error
	for attempt := 0; attempt < captureRetries; attempt++ {
		if attempt > 0 {
			l.metrics.CaptureRetries.WithLabelValues(l.cameraID).Inc()
			select {
			case <-ctx.Done():
				return capture.Frame{}, ctx.Err()
			case <-time.After(l.backoff * time.Duration(attempt)):
			}
		}

		frame, err := l.source.Next(ctx)
		if err == nil {
			return frame, nil
		}
		if errors.Is(err, capture.ErrSourceExhausted) || ctx.Err() != nil {
			return capture.Frame{}, err
		}

		lastErr = err
		l.log.WithFields(logrus.Fields{
			"camera_id": l.cameraID,
			"attempt":   attempt + 1,
			"error":     err,
		}).Warn("frame acquisition failed")
	}

	return capture.Frame{}, lastErr
}

// detect invokes the inference adapter. Errors are recovered locally:
// the frame is treated as having zero detections and the error rate is
// counted for external alerting.
func (l *Loop) detect(ctx context.Context, frame capture.Frame) []models.Detection {
	detections, err := l.detector.Detect(ctx, frame.Data)
	if err != nil {
		l.metrics.InferenceErrors.WithLabelValues(l.cameraID).Inc()
		l.log.WithFields(logrus.Fields{
			"camera_id": l.cameraID,
			"error":     err,
		}).Warn("inference failed, treating frame as empty")
		return nil
	}
	return detections
}

func (l *Loop) submit(frame capture.Frame, detections []models.Detection, violations []models.Violation, decision models.SavePolicyDecision, frameCount int64, now time.Time) {
	record := models.DetectionRecord{
		CameraID:   l.cameraID,
		Timestamp:  now,
		FrameCount: frameCount,
		Detections: detections,
		Metadata:   recordMetadata(detections, violations),
	}

	submitted := l.bridge.Submit(persist.Job{
		Record:     record,
		Violations: violations,
		Decision:   decision,
		Frame:      frame.Data,
	})
	if !submitted {
		// Already counted by the bridge; the loop only moves on.
		l.log.WithFields(logrus.Fields{
			"camera_id": l.cameraID,
			"frame":     frameCount,
		}).Warn("persistence submission dropped")
	}
}

// recordMetadata derives the counts and per-track attribute summaries
// stored alongside the detections.
func recordMetadata(detections []models.Detection, violations []models.Violation) map[string]string {
	meta := map[string]string{
		"detection_count": strconv.Itoa(len(detections)),
		"violation_count": strconv.Itoa(len(violations)),
	}
	for _, det := range detections {
		if det.TrackID == "" {
			continue
		}
		for name, attr := range det.Attributes {
			meta["track."+det.TrackID+"."+name] = attr.Value.String()
		}
	}
	return meta
}

func (l *Loop) publish(frame capture.Frame, detections []models.Detection) {
	encoded, err := l.encoder.Encode(frame, detections)
	if err != nil {
		// Encoding failures are frame-local, skipped silently.
		l.log.WithFields(logrus.Fields{
			"camera_id": l.cameraID,
			"error":     err,
		}).Debug("frame encode failed, skipping stream update")
		return
	}
	l.hub.Publish(l.cameraID, encoded)
}

func (l *Loop) loadInitialConfig(ctx context.Context) models.RuntimeConfig {
	cfg, err := l.configs.Load(ctx, l.cameraID)
	if err != nil {
		l.metrics.ConfigReloadErrs.WithLabelValues(l.cameraID).Inc()
		l.log.WithFields(logrus.Fields{
			"camera_id": l.cameraID,
			"error":     err,
		}).Warn("initial config load failed, using defaults")
		return l.configs.Defaults()
	}
	return cfg
}

// reloadConfig polls the config store and swaps the whole struct
// atomically. On failure the stale config is kept; it is never
// partially applied.
func (l *Loop) reloadConfig(ctx context.Context, current models.RuntimeConfig) models.RuntimeConfig {
	fresh, err := l.configs.Load(ctx, l.cameraID)
	if err != nil {
		l.metrics.ConfigReloadErrs.WithLabelValues(l.cameraID).Inc()
		l.log.WithFields(logrus.Fields{
			"camera_id": l.cameraID,
			"error":     err,
		}).Warn("config reload failed, keeping previous config")
		return current
	}

	if fresh != current {
		l.log.WithFields(logrus.Fields{
			"camera_id": l.cameraID,
			"old":       fmt.Sprintf("%+v", current),
			"new":       fmt.Sprintf("%+v", fresh),
		}).Info("runtime config changed")
	}

	return fresh
}
