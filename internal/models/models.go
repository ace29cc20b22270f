package models

import (
	"time"
)

// TriState represents an attribute value that can be explicitly present,
// explicitly absent, or not determined by the attribute detector.
// Unknown is deliberately distinct from False: an unmatched attribute is
// still evidence the rule engine reasons about.
type TriState int

const (
	TriUnknown TriState = iota
	TriTrue
	TriFalse
)

func (t TriState) String() string {
	switch t {
	case TriTrue:
		return "true"
	case TriFalse:
		return "false"
	default:
		return "unknown"
	}
}

// BoundingBox is a pixel-space rectangle: top-left corner plus size.
type BoundingBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

func (b BoundingBox) CenterX() float64 { return b.X + b.W/2 }

func (b BoundingBox) CenterY() float64 { return b.Y + b.H/2 }

// Attribute holds a tri-state attribute value together with the
// attribute detector's confidence in it. Confidence is meaningless when
// Value is TriUnknown.
type Attribute struct {
	Value      TriState `json:"value"`
	Confidence float64  `json:"confidence"`
}

// Detection is one observed object in one frame. Immutable after the
// inference call that produced it.
type Detection struct {
	Class      string               `json:"class"`
	Confidence float64              `json:"confidence"`
	Box        BoundingBox          `json:"box"`
	TrackID    string               `json:"track_id,omitempty"`
	Attributes map[string]Attribute `json:"attributes,omitempty"`
}

// Attribute returns the named attribute, TriUnknown when not present.
func (d Detection) Attribute(name string) Attribute {
	if a, ok := d.Attributes[name]; ok {
		return a
	}
	return Attribute{Value: TriUnknown}
}

// DetectionRecord is the durable unit of truth for one analyzed frame.
// Append-only; identified by (CameraID, Timestamp, FrameCount).
type DetectionRecord struct {
	CameraID   string            `json:"camera_id"`
	Timestamp  time.Time         `json:"timestamp"`
	FrameCount int64             `json:"frame_count"`
	Detections []Detection       `json:"detections"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Violation is a judgment that a rule fired against a detection.
// Severity is the rule's risk weight; Confidence is the detector
// certainty the rule gated on. The two are computed independently.
type Violation struct {
	RuleName       string  `json:"rule_name"`
	SubjectTrackID string  `json:"subject_track_id,omitempty"`
	Severity       float64 `json:"severity"`
	Confidence     float64 `json:"confidence"`
	// Evidence holds indexes into the record's detection slice.
	Evidence []int `json:"evidence,omitempty"`
}

// SaveReason explains why a frame was (or was not) persisted.
type SaveReason string

const (
	ReasonViolation SaveReason = "violation_detected"
	ReasonPeriodic  SaveReason = "periodic_sample"
	ReasonForced    SaveReason = "forced"
	ReasonNone      SaveReason = "none"
)

// SavePolicyDecision is produced per frame and consumed immediately by
// the persistence bridge. Never stored.
type SavePolicyDecision struct {
	ShouldSave       bool
	Reason           SaveReason
	ComputedSeverity float64
}

// SavePolicy selects the persistence admission algorithm.
type SavePolicy string

const (
	PolicySmart          SavePolicy = "SMART"
	PolicyAll            SavePolicy = "ALL"
	PolicyViolationsOnly SavePolicy = "VIOLATIONS_ONLY"
	PolicyFixedInterval  SavePolicy = "FIXED_INTERVAL"
)

// RuntimeConfig holds the per-camera tunables the loop polls from the
// config store. A reload replaces the whole struct, never single fields.
type RuntimeConfig struct {
	StreamInterval             int        `json:"stream_interval"`
	DetectionInterval          int        `json:"detection_interval"`
	FrameByFrame               bool       `json:"frame_by_frame"`
	ViolationSeverityThreshold float64    `json:"violation_severity_threshold"`
	NormalSampleInterval       int        `json:"normal_sample_interval"`
	SavePolicy                 SavePolicy `json:"save_policy"`
}

// LoopState is the externally queryable lifecycle state of one camera loop.
type LoopState string

const (
	StateStarting LoopState = "STARTING"
	StateRunning  LoopState = "RUNNING"
	StateStopping LoopState = "STOPPING"
	StateStopped  LoopState = "STOPPED"
	StateFailed   LoopState = "FAILED"
)

type CommandAction string

const (
	CommandStart CommandAction = "start"
	CommandStop  CommandAction = "stop"
)

// CameraCommand is the start/stop message the manager consumes from Kafka.
type CameraCommand struct {
	CameraID    string        `json:"camera_id"`
	Action      CommandAction `json:"action"`
	VideoSource string        `json:"video_source"`
}

// Heartbeat reports loop health to the external supervisor.
type Heartbeat struct {
	CameraID  string    `json:"camera_id"`
	State     LoopState `json:"state"`
	Frame     int64     `json:"frame"`
	LastError string    `json:"last_error,omitempty"`
	TimeStamp time.Time `json:"timestamp"`
}
