package persist

import (
	"github.com/capitan-vision/sitewatch/internal/models"
)

// Evaluate decides whether a processed frame must be saved. SMART is
// the full decision function; the other policies are restrictions of
// it, selectable per camera without code changes in the loop.
func Evaluate(frameCount int64, violations []models.Violation, cfg models.RuntimeConfig) models.SavePolicyDecision {
	severity := maxSeverity(violations)

	decision := models.SavePolicyDecision{
		Reason:           models.ReasonNone,
		ComputedSeverity: severity,
	}

	switch cfg.SavePolicy {
	case models.PolicyAll:
		decision.ShouldSave = true
		if len(violations) > 0 && severity >= cfg.ViolationSeverityThreshold {
			decision.Reason = models.ReasonViolation
		} else {
			decision.Reason = models.ReasonForced
		}

	case models.PolicyViolationsOnly:
		if len(violations) > 0 && severity >= cfg.ViolationSeverityThreshold {
			decision.ShouldSave = true
			decision.Reason = models.ReasonViolation
		}

	case models.PolicyFixedInterval:
		if frameCount%int64(cfg.NormalSampleInterval) == 0 {
			decision.ShouldSave = true
			decision.Reason = models.ReasonPeriodic
		}

	default: // SMART
		if len(violations) > 0 && severity >= cfg.ViolationSeverityThreshold {
			decision.ShouldSave = true
			decision.Reason = models.ReasonViolation
		} else if frameCount%int64(cfg.NormalSampleInterval) == 0 {
			decision.ShouldSave = true
			decision.Reason = models.ReasonPeriodic
		}
	}

	return decision
}

func maxSeverity(violations []models.Violation) float64 {
	var max float64
	for _, v := range violations {
		if v.Severity > max {
			max = v.Severity
		}
	}
	return max
}
