package camera

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/capitan-vision/sitewatch/internal/capture"
	"github.com/capitan-vision/sitewatch/internal/kafka"
	"github.com/capitan-vision/sitewatch/internal/models"
)

const heartbeatInterval = 5 * time.Second

// HeartbeatSender reports camera health to the external supervisor.
type HeartbeatSender interface {
	SendHeartbeat(models.Heartbeat) error
}

type activeCamera struct {
	loop   *Loop
	cancel context.CancelFunc
}

// Manager starts and stops camera loops in response to commands from
// the external CRUD layer. One loop goroutine per active camera for
// fault isolation.
type Manager struct {
	opener   capture.Opener
	deps     LoopDeps
	consumer *kafka.Consumer
	producer HeartbeatSender
	log      *logrus.Logger

	mu     sync.Mutex
	active map[string]*activeCamera
	// terminal keeps the final status of loops that exited, so FAILED
	// state and last error stay queryable until the camera restarts.
	terminal map[string]models.Heartbeat
}

func NewManager(opener capture.Opener, deps LoopDeps, consumer *kafka.Consumer, producer HeartbeatSender, log *logrus.Logger) *Manager {
	return &Manager{
		opener:   opener,
		deps:     deps,
		consumer: consumer,
		producer: producer,
		log:      log,
		active:   make(map[string]*activeCamera),
		terminal: make(map[string]models.Heartbeat),
	}
}

// ListenAndRun consumes camera commands until the context is
// cancelled. Messages are acknowledged only after successful handling.
func (m *Manager) ListenAndRun(ctx context.Context) {
	m.log.Info("camera manager listening for commands")
	for {
		select {
		case <-ctx.Done():
			m.log.Info("camera manager shutting down")
			return
		case msg, ok := <-m.consumer.Messages():
			if !ok {
				return
			}

			var cmd models.CameraCommand
			if err := json.Unmarshal(msg.Value, &cmd); err != nil {
				m.log.WithField("error", err).Warn("invalid camera command, skipping")
				continue
			}

			var processErr error
			switch cmd.Action {
			case models.CommandStart:
				processErr = m.Start(ctx, cmd)
			case models.CommandStop:
				m.Stop(cmd.CameraID)
			default:
				m.log.WithField("action", cmd.Action).Warn("unknown camera command")
			}

			if processErr != nil {
				m.log.WithFields(logrus.Fields{
					"camera_id": cmd.CameraID,
					"error":     processErr,
				}).Error("command processing failed")
				continue
			}

			msg.Session.MarkMessage(msg.Message, "")
		}
	}
}

// Start spins up a loop for the camera. A camera that is already
// running is left alone.
func (m *Manager) Start(ctx context.Context, cmd models.CameraCommand) error {
	m.mu.Lock()
	if _, running := m.active[cmd.CameraID]; running {
		m.mu.Unlock()
		m.log.WithField("camera_id", cmd.CameraID).Info("camera already running")
		return nil
	}
	m.mu.Unlock()

	source, err := m.opener.Open(ctx, cmd.CameraID, cmd.VideoSource)
	if err != nil {
		return fmt.Errorf("open capture source for %s: %w", cmd.CameraID, err)
	}

	loop := NewLoop(cmd.CameraID, source, m.deps)
	childCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.active[cmd.CameraID] = &activeCamera{loop: loop, cancel: cancel}
	delete(m.terminal, cmd.CameraID)
	m.mu.Unlock()

	m.sendHeartbeat(loop, cmd.CameraID)
	m.log.WithField("camera_id", cmd.CameraID).Info("camera loop starting")

	go m.supervise(childCtx, cmd.CameraID, loop)

	return nil
}

// supervise runs the loop and reports heartbeats until it finishes.
func (m *Manager) supervise(ctx context.Context, cameraID string, loop *Loop) {
	defer func() {
		final := heartbeatFor(loop, cameraID)
		m.mu.Lock()
		delete(m.active, cameraID)
		m.terminal[cameraID] = final
		m.mu.Unlock()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Run(ctx)
	}()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			// Terminal heartbeat carries STOPPED or FAILED plus the
			// last error so the supervisor never has to read our logs.
			m.sendHeartbeat(loop, cameraID)
			return
		case <-ticker.C:
			m.sendHeartbeat(loop, cameraID)
		}
	}
}

func heartbeatFor(loop *Loop, cameraID string) models.Heartbeat {
	state, lastErr, frame := loop.Status()
	return models.Heartbeat{
		CameraID:  cameraID,
		State:     state,
		Frame:     frame,
		LastError: lastErr,
		TimeStamp: time.Now().UTC(),
	}
}

func (m *Manager) sendHeartbeat(loop *Loop, cameraID string) {
	if m.producer == nil {
		return
	}

	if err := m.producer.SendHeartbeat(heartbeatFor(loop, cameraID)); err != nil {
		m.log.WithFields(logrus.Fields{
			"camera_id": cameraID,
			"error":     err,
		}).Warn("heartbeat send failed")
	}
}

// Stop signals the camera's loop to finish its current cycle and shut
// down. Stopping an unknown camera is a no-op.
func (m *Manager) Stop(cameraID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cam, ok := m.active[cameraID]; ok {
		cam.cancel()
		m.log.WithField("camera_id", cameraID).Info("camera stop signalled")
		return true
	}
	return false
}

// StopAll signals every active loop; used on process shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, cam := range m.active {
		cam.cancel()
		m.log.WithField("camera_id", id).Info("camera stop signalled")
	}
}

// Status returns the queryable state of one camera loop. Finished
// loops keep reporting their terminal state and last error until the
// camera is started again.
func (m *Manager) Status(cameraID string) (models.Heartbeat, bool) {
	m.mu.Lock()
	cam, active := m.active[cameraID]
	final, finished := m.terminal[cameraID]
	m.mu.Unlock()

	if active {
		return heartbeatFor(cam.loop, cameraID), true
	}
	return final, finished
}

// Statuses lists the state of every active and finished camera loop.
func (m *Manager) Statuses() []models.Heartbeat {
	m.mu.Lock()
	ids := make([]string, 0, len(m.active)+len(m.terminal))
	for id := range m.active {
		ids = append(ids, id)
	}
	for id := range m.terminal {
		if _, ok := m.active[id]; !ok {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	statuses := make([]models.Heartbeat, 0, len(ids))
	for _, id := range ids {
		if hb, ok := m.Status(id); ok {
			statuses = append(statuses, hb)
		}
	}
	return statuses
}
