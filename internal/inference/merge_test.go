package inference

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitan-vision/sitewatch/internal/models"
)

type stubDetector struct {
	detections []models.Detection
	err        error
}

func (s stubDetector) Detect(context.Context, []byte) ([]models.Detection, error) {
	return s.detections, s.err
}

func personAt(x, y float64) models.Detection {
	return models.Detection{
		Class:      "person",
		Confidence: 0.9,
		Box:        models.BoundingBox{X: x, Y: y, W: 100, H: 200},
	}
}

func TestMergerMatchedPresentClassIsTrue(t *testing.T) {
	subjects := stubDetector{detections: []models.Detection{personAt(0, 0)}}
	attrs := stubDetector{detections: []models.Detection{{
		Class:      "protective_gear",
		Confidence: 0.7,
		Box:        models.BoundingBox{X: 20, Y: 0, W: 60, H: 60},
	}}}

	merger := NewMerger(subjects, attrs, DefaultAttributeSpecs())
	out, err := merger.Detect(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, out, 1)

	attr := out[0].Attribute("has_protective_gear")
	assert.Equal(t, models.TriTrue, attr.Value)
	assert.Equal(t, 0.7, attr.Confidence)
}

func TestMergerMatchedAbsentClassIsFalse(t *testing.T) {
	subjects := stubDetector{detections: []models.Detection{personAt(0, 0)}}
	attrs := stubDetector{detections: []models.Detection{{
		Class:      "no_protective_gear",
		Confidence: 0.6,
		Box:        models.BoundingBox{X: 10, Y: 10, W: 80, H: 80},
	}}}

	merger := NewMerger(subjects, attrs, DefaultAttributeSpecs())
	out, err := merger.Detect(context.Background(), nil)
	require.NoError(t, err)

	attr := out[0].Attribute("has_protective_gear")
	assert.Equal(t, models.TriFalse, attr.Value)
	assert.Equal(t, 0.6, attr.Confidence)
}

func TestMergerUnmatchedBoxLeavesUnknown(t *testing.T) {
	subjects := stubDetector{detections: []models.Detection{personAt(0, 0)}}
	// Attribute box far away from the subject: overlap matching fails.
	attrs := stubDetector{detections: []models.Detection{{
		Class:      "protective_gear",
		Confidence: 0.9,
		Box:        models.BoundingBox{X: 5000, Y: 5000, W: 50, H: 50},
	}}}

	merger := NewMerger(subjects, attrs, DefaultAttributeSpecs())
	out, err := merger.Detect(context.Background(), nil)
	require.NoError(t, err)

	attr := out[0].Attribute("has_protective_gear")
	assert.Equal(t, models.TriUnknown, attr.Value)
}

func TestMergerBestOverlapWins(t *testing.T) {
	subjects := stubDetector{detections: []models.Detection{personAt(0, 0)}}
	attrs := stubDetector{detections: []models.Detection{
		{
			Class:      "protective_gear",
			Confidence: 0.5,
			Box:        models.BoundingBox{X: 80, Y: 180, W: 100, H: 100}, // grazing overlap
		},
		{
			Class:      "no_protective_gear",
			Confidence: 0.8,
			Box:        models.BoundingBox{X: 0, Y: 0, W: 100, H: 200}, // full overlap
		},
	}}

	merger := NewMerger(subjects, attrs, DefaultAttributeSpecs())
	out, err := merger.Detect(context.Background(), nil)
	require.NoError(t, err)

	attr := out[0].Attribute("has_protective_gear")
	assert.Equal(t, models.TriFalse, attr.Value)
	assert.Equal(t, 0.8, attr.Confidence)
}

func TestMergerSubjectErrorPropagates(t *testing.T) {
	subjects := stubDetector{err: errors.New("model down")}
	merger := NewMerger(subjects, stubDetector{}, DefaultAttributeSpecs())

	_, err := merger.Detect(context.Background(), nil)
	assert.Error(t, err)
}

func TestMergerNoSubjectsSkipsAttributeDetector(t *testing.T) {
	subjects := stubDetector{}
	attrs := stubDetector{err: errors.New("must not be called")}

	merger := NewMerger(subjects, attrs, DefaultAttributeSpecs())
	out, err := merger.Detect(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestIoU(t *testing.T) {
	a := models.BoundingBox{X: 0, Y: 0, W: 100, H: 100}
	assert.Equal(t, 1.0, iou(a, a))

	b := models.BoundingBox{X: 200, Y: 200, W: 10, H: 10}
	assert.Equal(t, 0.0, iou(a, b))

	half := models.BoundingBox{X: 50, Y: 0, W: 100, H: 100}
	assert.InDelta(t, 1.0/3.0, iou(a, half), 1e-9)
}
