// Package gate implements the quality gate decision policy.
package gate

import (
	"fmt"

	"github.com/jonathan/docpipeline/internal/types"
)

// Evaluate decides what happens after an attempt. iteration is the number of
// attempts made so far for the stage (1-based), maxIterations the stage budget.
//
// Policy, in order: excellent or acceptable scores pass; below minimum retries
// while budget remains; an exhausted stage escalates when the score reaches the
// escalation floor and fails otherwise.
func Evaluate(score types.QualityScore, th types.Thresholds, iteration, maxIterations int) types.GateDecision {
	d := types.GateDecision{
		Score:     score,
		Iteration: iteration,
		MaxIter:   maxIterations,
	}
	s := score.Score

	switch {
	case s >= th.Excellent:
		d.Decision = types.DecisionPass
		d.Mark = types.MarkExcellent
		d.Threshold = th.Excellent
	case s >= th.Minimum:
		d.Decision = types.DecisionPass
		d.Mark = types.MarkAcceptable
		if th.Good > th.Minimum && s >= th.Good {
			d.Mark = types.MarkGood
		}
		d.Threshold = th.Minimum
	case iteration < maxIterations:
		d.Decision = types.DecisionRetry
		d.Threshold = th.Minimum
	case s >= th.EscalationFloor:
		d.Decision = types.DecisionEscalate
		d.Threshold = th.EscalationFloor
	default:
		d.Decision = types.DecisionFail
		d.Threshold = th.EscalationFloor
	}
	return d
}

// Validate checks that thresholds are ordered floor <= minimum <= good <= excellent within [0, 100]
func Validate(th types.Thresholds) error {
	for name, v := range map[string]float64{
		"minimum":          th.Minimum,
		"good":             th.Good,
		"excellent":        th.Excellent,
		"escalation_floor": th.EscalationFloor,
	} {
		if v < 0 || v > 100 {
			return fmt.Errorf("threshold %s=%v out of range [0, 100]", name, v)
		}
	}
	if th.EscalationFloor > th.Minimum {
		return fmt.Errorf("escalation_floor %v exceeds minimum %v", th.EscalationFloor, th.Minimum)
	}
	if th.Minimum > th.Good {
		return fmt.Errorf("minimum %v exceeds good %v", th.Minimum, th.Good)
	}
	if th.Good > th.Excellent {
		return fmt.Errorf("good %v exceeds excellent %v", th.Good, th.Excellent)
	}
	return nil
}
