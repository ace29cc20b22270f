package camera

import (
	"time"

	"github.com/capitan-vision/sitewatch/internal/models"
	"github.com/capitan-vision/sitewatch/internal/rules"
)

const (
	historyDepth  = 2
	historyMaxAge = 10 * time.Second
)

// trackHistory records the last observed positions per track id so
// speed rules can compute displacement. Owned exclusively by one loop
// goroutine; no locking needed.
type trackHistory struct {
	points map[string][]rules.TrackPoint
}

func newTrackHistory() *trackHistory {
	return &trackHistory{points: make(map[string][]rules.TrackPoint)}
}

// Observe appends the current positions of all tracked detections and
// prunes tracks that disappeared.
func (h *trackHistory) Observe(detections []models.Detection, now time.Time) {
	for _, det := range detections {
		if det.TrackID == "" {
			continue
		}
		points := append(h.points[det.TrackID], rules.TrackPoint{
			X: det.Box.CenterX(),
			Y: det.Box.CenterY(),
			T: now,
		})
		if len(points) > historyDepth {
			points = points[len(points)-historyDepth:]
		}
		h.points[det.TrackID] = points
	}

	for id, points := range h.points {
		if now.Sub(points[len(points)-1].T) > historyMaxAge {
			delete(h.points, id)
		}
	}
}

func (h *trackHistory) Positions(trackID string) []rules.TrackPoint {
	return h.points[trackID]
}
