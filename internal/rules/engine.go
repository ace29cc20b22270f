package rules

import (
	"fmt"
	"math"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/capitan-vision/sitewatch/internal/metrics"
	"github.com/capitan-vision/sitewatch/internal/models"
)

// Engine evaluates the configured rules against one frame's fresh
// detections. Stateless across frames; speed rules read the caller's
// track history.
type Engine struct {
	rules   []Rule
	log     *logrus.Logger
	metrics *metrics.Metrics
}

func NewEngine(ruleSet []Rule, log *logrus.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		rules:   ruleSet,
		log:     log,
		metrics: m,
	}
}

// Evaluate runs every enabled rule and returns all violations that
// fired. A failing rule is isolated: it is logged and counted, and the
// remaining rules still run.
func (e *Engine) Evaluate(detections []models.Detection, history History) []models.Violation {
	if history == nil {
		history = NoHistory{}
	}

	var violations []models.Violation
	for _, rule := range e.rules {
		if !rule.Enabled {
			continue
		}

		fired, err := e.evaluateRule(rule, detections, history)
		if err != nil {
			e.metrics.RuleFailures.WithLabelValues(rule.Name).Inc()
			e.log.WithFields(logrus.Fields{
				"rule":  rule.Name,
				"error": err,
			}).Error("rule evaluation failed, skipping rule")
			continue
		}
		violations = append(violations, fired...)
	}

	return violations
}

func (e *Engine) evaluateRule(rule Rule, detections []models.Detection, history History) (fired []models.Violation, err error) {
	// Malformed detection data must not take down the whole frame.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule %s panicked: %v", rule.Name, r)
		}
	}()

	switch rule.Kind {
	case KindAttribute:
		return e.evaluateAttribute(rule, detections), nil
	case KindCrowding:
		return e.evaluateCrowding(rule, detections), nil
	case KindSpeed:
		return e.evaluateSpeed(rule, detections, history), nil
	default:
		return nil, fmt.Errorf("unknown rule kind %q", rule.Kind)
	}
}

// evaluateAttribute implements attribute-gated rules. An explicit False
// gates on the attribute detector's confidence. Unknown gates on the
// subject's own detection confidence: the attribute detector produced
// no match, which counts as risk only when the subject itself is
// confidently detected. Explicit True never fires.
func (e *Engine) evaluateAttribute(rule Rule, detections []models.Detection) []models.Violation {
	var fired []models.Violation
	for idx, det := range detections {
		if det.Class != rule.SubjectClass {
			continue
		}

		attr := det.Attribute(rule.AttributeName)
		switch attr.Value {
		case models.TriTrue:
			continue
		case models.TriFalse:
			if attr.Confidence >= rule.MinConfidence {
				fired = append(fired, models.Violation{
					RuleName:       rule.Name,
					SubjectTrackID: det.TrackID,
					Severity:       rule.SeverityWeight,
					Confidence:     attr.Confidence,
					Evidence:       []int{idx},
				})
			}
		case models.TriUnknown:
			if det.Confidence >= rule.MinConfidence {
				fired = append(fired, models.Violation{
					RuleName:       rule.Name,
					SubjectTrackID: det.TrackID,
					Severity:       rule.SeverityWeight,
					Confidence:     det.Confidence,
					Evidence:       []int{idx},
				})
			}
		}
	}
	return fired
}

// evaluateCrowding clusters subjects by box-center distance and fires
// once per cluster whose member count exceeds the configured maximum.
func (e *Engine) evaluateCrowding(rule Rule, detections []models.Detection) []models.Violation {
	subjects := lo.Filter(lo.Range(len(detections)), func(idx int, _ int) bool {
		det := detections[idx]
		return det.Class == rule.SubjectClass && det.Confidence >= rule.MinConfidence
	})
	if len(subjects) <= rule.MaxClusterCount {
		return nil
	}

	clusters := clusterByRadius(detections, subjects, rule.ClusterRadiusPx)

	var fired []models.Violation
	for _, cluster := range clusters {
		if len(cluster) <= rule.MaxClusterCount {
			continue
		}
		confidence := lo.MinBy(cluster, func(a, b int) bool {
			return detections[a].Confidence < detections[b].Confidence
		})
		fired = append(fired, models.Violation{
			RuleName:   rule.Name,
			Severity:   rule.SeverityWeight,
			Confidence: detections[confidence].Confidence,
			Evidence:   cluster,
		})
	}
	return fired
}

// clusterByRadius performs single-link grouping over box centers:
// two subjects belong to the same cluster when their centers are
// within radius, directly or through intermediate members.
func clusterByRadius(detections []models.Detection, subjects []int, radius float64) [][]int {
	visited := make(map[int]bool, len(subjects))
	var clusters [][]int

	for _, start := range subjects {
		if visited[start] {
			continue
		}

		cluster := []int{start}
		visited[start] = true
		for i := 0; i < len(cluster); i++ {
			cur := detections[cluster[i]].Box
			for _, other := range subjects {
				if visited[other] {
					continue
				}
				box := detections[other].Box
				dx := cur.CenterX() - box.CenterX()
				dy := cur.CenterY() - box.CenterY()
				if math.Hypot(dx, dy) <= radius {
					visited[other] = true
					cluster = append(cluster, other)
				}
			}
		}
		clusters = append(clusters, cluster)
	}

	return clusters
}

// evaluateSpeed computes displacement over time from the last two track
// positions. Requires track continuity; subjects without at least two
// observed points never fire.
func (e *Engine) evaluateSpeed(rule Rule, detections []models.Detection, history History) []models.Violation {
	var fired []models.Violation
	for idx, det := range detections {
		if det.Class != rule.SubjectClass || det.TrackID == "" {
			continue
		}
		if det.Confidence < rule.MinConfidence {
			continue
		}

		points := history.Positions(det.TrackID)
		if len(points) < 2 {
			continue
		}

		prev, last := points[len(points)-2], points[len(points)-1]
		elapsed := last.T.Sub(prev.T).Seconds()
		if elapsed <= 0 {
			continue
		}

		speed := math.Hypot(last.X-prev.X, last.Y-prev.Y) / elapsed
		if speed > rule.MaxSpeedPxPerSec {
			fired = append(fired, models.Violation{
				RuleName:       rule.Name,
				SubjectTrackID: det.TrackID,
				Severity:       rule.SeverityWeight,
				Confidence:     det.Confidence,
				Evidence:       []int{idx},
			})
		}
	}
	return fired
}
