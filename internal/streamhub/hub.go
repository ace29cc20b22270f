// Package streamhub distributes encoded frames from one publisher per
// camera to any number of live viewers. Frames are dropped, never
// queued past a small bound: freshness outranks completeness, and a
// slow viewer must never block the detection loop.
package streamhub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/capitan-vision/sitewatch/internal/metrics"
)

const subscriberBuffer = 8

// Frame is one encoded frame published to viewers. Payload bytes are
// opaque; the encoding is the transport's concern.
type Frame struct {
	Data      []byte
	Seq       uint64
	Timestamp time.Time
}

// Subscription is one viewer's bounded outbound queue. Frames preserves
// publish order but may have gaps under backpressure. The channel is
// closed cleanly when the camera stops or the viewer unsubscribes.
type Subscription struct {
	ID     string
	Frames <-chan Frame
}

type topic struct {
	subscribers map[string]chan Frame
	lastFrame   *Frame
	nextSeq     uint64
}

// Hub is the per-process fan-out point. Safe for concurrent use; the
// per-camera subscriber set is the only state shared between the loop
// publisher and viewer readers.
type Hub struct {
	mu      sync.Mutex
	cameras map[string]*topic
	log     *logrus.Logger
	metrics *metrics.Metrics
}

func New(log *logrus.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		cameras: make(map[string]*topic),
		log:     log,
		metrics: m,
	}
}

// Publish distributes one encoded frame to the camera's subscribers.
// Non-blocking: a subscriber whose queue is full loses its oldest
// buffered frame. With no subscribers the frame still refreshes the
// last-frame cache so a late joiner never sees a blank view.
func (h *Hub) Publish(cameraID string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t := h.topic(cameraID)
	t.nextSeq++
	frame := Frame{Data: data, Seq: t.nextSeq, Timestamp: time.Now().UTC()}
	t.lastFrame = &frame

	h.metrics.StreamPublished.WithLabelValues(cameraID).Inc()

	for id, ch := range t.subscribers {
		if !offer(ch, frame) {
			h.metrics.StreamDropped.WithLabelValues(cameraID).Inc()
			h.log.WithFields(logrus.Fields{
				"camera_id":  cameraID,
				"subscriber": id,
			}).Debug("slow subscriber, dropped oldest frame")
		}
	}
}

// offer sends without blocking; when the buffer is full it evicts the
// oldest queued frame to make room. Reports false when an eviction
// happened.
func offer(ch chan Frame, frame Frame) bool {
	select {
	case ch <- frame:
		return true
	default:
	}

	select {
	case <-ch:
	default:
	}

	select {
	case ch <- frame:
	default:
	}
	return false
}

// Subscribe registers a viewer for a camera. The returned queue is
// seeded with the cached last frame when one exists, so joining after
// N published frames immediately yields frame N.
func (h *Hub) Subscribe(cameraID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	t := h.topic(cameraID)

	ch := make(chan Frame, subscriberBuffer)
	if t.lastFrame != nil {
		ch <- *t.lastFrame
	}

	id := uuid.New().String()
	t.subscribers[id] = ch

	h.log.WithFields(logrus.Fields{
		"camera_id":  cameraID,
		"subscriber": id,
	}).Debug("stream subscriber joined")

	return &Subscription{ID: id, Frames: ch}
}

// Unsubscribe removes a viewer and closes its queue. Idempotent:
// removing an unknown subscriber is a no-op.
func (h *Hub) Unsubscribe(cameraID, subscriberID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.cameras[cameraID]
	if !ok {
		return
	}
	ch, ok := t.subscribers[subscriberID]
	if !ok {
		return
	}

	delete(t.subscribers, subscriberID)
	close(ch)
}

// LastFrame returns the cached most recent frame for a camera.
func (h *Hub) LastFrame(cameraID string) ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.cameras[cameraID]
	if !ok || t.lastFrame == nil {
		return nil, false
	}
	return t.lastFrame.Data, true
}

// CloseCamera drops the camera's channel. Every subscriber's queue is
// closed cleanly (a close, not an error); a restarted loop starts the
// camera with a fresh topic and an empty cache.
func (h *Hub) CloseCamera(cameraID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.cameras[cameraID]
	if !ok {
		return
	}

	for id, ch := range t.subscribers {
		delete(t.subscribers, id)
		close(ch)
	}
	delete(h.cameras, cameraID)
}

// SubscriberCount reports the current number of viewers for a camera.
func (h *Hub) SubscriberCount(cameraID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.cameras[cameraID]
	if !ok {
		return 0
	}
	return len(t.subscribers)
}

func (h *Hub) topic(cameraID string) *topic {
	t, ok := h.cameras[cameraID]
	if !ok {
		t = &topic{subscribers: make(map[string]chan Frame)}
		h.cameras[cameraID] = t
	}
	return t
}
