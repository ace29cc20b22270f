package inference

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientParsesDetections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/predict", r.URL.Path)

		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		file.Close()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"class": "person", "score": 0.91, "box": [10, 20, 110, 220], "track_id": "t7"},
			{"class": "person", "score": 0.55, "box": [300, 20, 360, 180]}
		]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, logrus.New())
	detections, err := client.Detect(context.Background(), []byte{0xff, 0xd8})
	require.NoError(t, err)
	require.Len(t, detections, 2)

	assert.Equal(t, "person", detections[0].Class)
	assert.Equal(t, 0.91, detections[0].Confidence)
	assert.Equal(t, "t7", detections[0].TrackID)
	// Corner-format box converted to x/y/w/h.
	assert.Equal(t, 10.0, detections[0].Box.X)
	assert.Equal(t, 100.0, detections[0].Box.W)
	assert.Equal(t, 200.0, detections[0].Box.H)
}

func TestClientBadStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, logrus.New())
	_, err := client.Detect(context.Background(), []byte{0xff})
	assert.Error(t, err)
}

func TestClientMalformedBoxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"class": "person", "score": 0.9, "box": [1, 2]}]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, logrus.New())
	_, err := client.Detect(context.Background(), []byte{0xff})
	assert.Error(t, err)
}
