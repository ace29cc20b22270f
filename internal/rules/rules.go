package rules

import (
	"time"
)

// Kind selects the evaluation algorithm for a rule.
type Kind string

const (
	KindAttribute Kind = "attribute"
	KindCrowding  Kind = "crowding"
	KindSpeed     Kind = "speed"
)

// Rule is one configured violation rule. SeverityWeight is the
// rule-defined risk weight reported on every violation it emits;
// MinConfidence is the floor the gating confidence must clear.
type Rule struct {
	Name           string  `yaml:"name" json:"name"`
	Kind           Kind    `yaml:"kind" json:"kind"`
	Enabled        bool    `yaml:"enabled" json:"enabled"`
	SubjectClass   string  `yaml:"subject_class" json:"subject_class"`
	SeverityWeight float64 `yaml:"severity_weight" json:"severity_weight"`
	MinConfidence  float64 `yaml:"min_confidence" json:"min_confidence"`

	// Attribute rules.
	AttributeName string `yaml:"attribute_name,omitempty" json:"attribute_name,omitempty"`

	// Crowding rules.
	ClusterRadiusPx float64 `yaml:"cluster_radius_px,omitempty" json:"cluster_radius_px,omitempty"`
	MaxClusterCount int     `yaml:"max_cluster_count,omitempty" json:"max_cluster_count,omitempty"`

	// Speed rules.
	MaxSpeedPxPerSec float64 `yaml:"max_speed_px_per_sec,omitempty" json:"max_speed_px_per_sec,omitempty"`
}

// DefaultRuleSet is the rule configuration used when none is supplied.
// Weights are conservative defaults pending product calibration.
func DefaultRuleSet() []Rule {
	return []Rule{
		{
			Name:           "no_protective_gear",
			Kind:           KindAttribute,
			Enabled:        true,
			SubjectClass:   "person",
			AttributeName:  "has_protective_gear",
			SeverityWeight: 0.8,
			MinConfidence:  0.5,
		},
		{
			Name:            "crowding",
			Kind:            KindCrowding,
			Enabled:         true,
			SubjectClass:    "person",
			SeverityWeight:  0.6,
			MinConfidence:   0.5,
			ClusterRadiusPx: 150,
			MaxClusterCount: 4,
		},
		{
			Name:             "excessive_speed",
			Kind:             KindSpeed,
			Enabled:          true,
			SubjectClass:     "person",
			SeverityWeight:   0.5,
			MinConfidence:    0.5,
			MaxSpeedPxPerSec: 400,
		},
	}
}

// TrackPoint is one observed position of a tracked subject.
type TrackPoint struct {
	X float64
	Y float64
	T time.Time
}

// History supplies per-track position history for speed rules. The
// external tracker (or the camera loop recording its output) owns the
// data; the engine only reads it.
type History interface {
	// Positions returns the most recent points for a track, oldest first.
	Positions(trackID string) []TrackPoint
}

// NoHistory is a History with no continuity; speed rules never fire.
type NoHistory struct{}

func (NoHistory) Positions(string) []TrackPoint { return nil }
