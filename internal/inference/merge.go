package inference

import (
	"context"
	"fmt"
	"math"

	"github.com/capitan-vision/sitewatch/internal/models"
)

const minMatchIoU = 0.1

// AttributeSpec binds one tri-state attribute to the attribute
// detector's class labels: PresentClass marks the attribute True,
// AbsentClass marks it False. A subject with no matching box of either
// class keeps the attribute Unknown.
type AttributeSpec struct {
	Name         string
	PresentClass string
	AbsentClass  string
}

// DefaultAttributeSpecs covers protective-gear compliance.
func DefaultAttributeSpecs() []AttributeSpec {
	return []AttributeSpec{{
		Name:         "has_protective_gear",
		PresentClass: "protective_gear",
		AbsentClass:  "no_protective_gear",
	}}
}

// Merger combines the subject detector with an attribute detector
// behind the single Detector contract the loop consumes. Attribute
// boxes are matched to subjects by bounding-box overlap; a failed match
// is recorded as Unknown, not dropped.
type Merger struct {
	subjects   Detector
	attributes Detector
	specs      []AttributeSpec
}

func NewMerger(subjects, attributes Detector, specs []AttributeSpec) *Merger {
	return &Merger{
		subjects:   subjects,
		attributes: attributes,
		specs:      specs,
	}
}

// Detect runs both detectors and folds attribute boxes into the subject
// detections as tri-state attributes.
func (m *Merger) Detect(ctx context.Context, frame []byte) ([]models.Detection, error) {
	subjects, err := m.subjects.Detect(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("subject detector: %w", err)
	}
	if len(subjects) == 0 {
		return subjects, nil
	}

	attrBoxes, err := m.attributes.Detect(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("attribute detector: %w", err)
	}

	merged := make([]models.Detection, len(subjects))
	for i, subject := range subjects {
		subject.Attributes = m.matchAttributes(subject, attrBoxes)
		merged[i] = subject
	}

	return merged, nil
}

// matchAttributes assigns each configured attribute the value of the
// best-overlapping attribute box, Unknown when nothing overlaps enough.
func (m *Merger) matchAttributes(subject models.Detection, attrBoxes []models.Detection) map[string]models.Attribute {
	attrs := make(map[string]models.Attribute, len(m.specs))
	for _, spec := range m.specs {
		attrs[spec.Name] = models.Attribute{Value: models.TriUnknown}

		bestIoU := minMatchIoU
		for _, box := range attrBoxes {
			var value models.TriState
			switch box.Class {
			case spec.PresentClass:
				value = models.TriTrue
			case spec.AbsentClass:
				value = models.TriFalse
			default:
				continue
			}

			if overlap := iou(subject.Box, box.Box); overlap >= bestIoU {
				bestIoU = overlap
				attrs[spec.Name] = models.Attribute{Value: value, Confidence: box.Confidence}
			}
		}
	}
	return attrs
}

// iou computes intersection-over-union of two boxes.
func iou(a, b models.BoundingBox) float64 {
	left := math.Max(a.X, b.X)
	top := math.Max(a.Y, b.Y)
	right := math.Min(a.X+a.W, b.X+b.W)
	bottom := math.Min(a.Y+a.H, b.Y+b.H)

	if right <= left || bottom <= top {
		return 0
	}

	inter := (right - left) * (bottom - top)
	union := a.W*a.H + b.W*b.H - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
