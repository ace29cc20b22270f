package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/capitan-vision/sitewatch/internal/models"
)

// StatusSource exposes loop health; the camera manager implements it.
type StatusSource interface {
	Status(cameraID string) (models.Heartbeat, bool)
	Statuses() []models.Heartbeat
}

// FrameCache exposes the stream hub's last-frame read.
type FrameCache interface {
	LastFrame(cameraID string) ([]byte, bool)
}

// Handlers is the thin read-only surface the external layer queries
// for camera health and preview frames. CRUD lives elsewhere.
type Handlers struct {
	statuses StatusSource
	frames   FrameCache
	log      *logrus.Logger
}

func NewHandlers(statuses StatusSource, frames FrameCache, log *logrus.Logger) *Handlers {
	return &Handlers{
		statuses: statuses,
		frames:   frames,
		log:      log,
	}
}

// Router wires the handlers plus the Prometheus endpoint.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/cameras", h.ListStatuses).Methods(http.MethodGet)
	r.HandleFunc("/cameras/{camera_id}/status", h.GetStatus).Methods(http.MethodGet)
	r.HandleFunc("/cameras/{camera_id}/frame", h.GetLastFrame).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func (h *Handlers) ListStatuses(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, h.statuses.Statuses())
}

func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	cameraID := mux.Vars(r)["camera_id"]

	hb, ok := h.statuses.Status(cameraID)
	if !ok {
		http.Error(w, "camera not active", http.StatusNotFound)
		return
	}
	h.writeJSON(w, hb)
}

// GetLastFrame serves the cached most recent frame so a dashboard can
// show a preview without joining the live stream.
func (h *Handlers) GetLastFrame(w http.ResponseWriter, r *http.Request) {
	cameraID := mux.Vars(r)["camera_id"]

	data, ok := h.frames.LastFrame(cameraID)
	if !ok {
		http.Error(w, "no frame published yet", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	if _, err := w.Write(data); err != nil {
		h.log.WithField("error", err).Debug("frame write failed")
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.WithField("error", err).Warn("response encode failed")
	}
}
