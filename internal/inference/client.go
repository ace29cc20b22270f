package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/capitan-vision/sitewatch/internal/models"
)

const (
	requestTimeout    = 10 * time.Second
	slowCallThreshold = 2 * time.Second
)

// Detector is the uniform inference contract: one frame in, the frame's
// detections out. Synchronous, bounded latency; failures are errors,
// never panics.
type Detector interface {
	Detect(ctx context.Context, frame []byte) ([]models.Detection, error)
}

// Client posts frames to a model server's /predict endpoint.
type Client struct {
	URL        string
	httpClient *http.Client
	log        *logrus.Logger
}

func NewClient(baseURL string, log *logrus.Logger) *Client {
	return &Client{
		URL:        baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		log:        log,
	}
}

// wireDetection is the model server's response shape.
type wireDetection struct {
	Class   string    `json:"class"`
	Score   float64   `json:"score"`
	Box     []float64 `json:"box"` // [x1, y1, x2, y2]
	TrackID string    `json:"track_id,omitempty"`
}

// Detect sends the JPEG frame as multipart form data and parses the
// returned detections. Calls slower than slowCallThreshold are logged
// to surface pipeline stalls.
func (c *Client) Detect(ctx context.Context, frame []byte) ([]models.Detection, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")

	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(frame); err != nil {
		return nil, fmt.Errorf("write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL+"/predict", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if elapsed := time.Since(started); elapsed > slowCallThreshold {
		c.log.WithFields(logrus.Fields{
			"endpoint": c.URL,
			"elapsed":  elapsed,
		}).Warn("slow inference call")
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bad status: %s, error: %s", resp.Status, bodyBytes)
	}

	var wire []wireDetection
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode detections: %w", err)
	}

	detections := make([]models.Detection, 0, len(wire))
	for _, w := range wire {
		if len(w.Box) != 4 {
			return nil, fmt.Errorf("detection box has %d coordinates, want 4", len(w.Box))
		}
		detections = append(detections, models.Detection{
			Class:      w.Class,
			Confidence: w.Score,
			TrackID:    w.TrackID,
			Box: models.BoundingBox{
				X: w.Box[0],
				Y: w.Box[1],
				W: w.Box[2] - w.Box[0],
				H: w.Box[3] - w.Box[1],
			},
		})
	}

	return detections, nil
}
