//nolint:revive // types is a standard Go package name pattern
package types

// Decision is the outcome of a gate evaluation
type Decision string

const (
	DecisionPass     Decision = "PASS"
	DecisionRetry    Decision = "RETRY"
	DecisionEscalate Decision = "ESCALATE"
	DecisionFail     Decision = "FAIL"
)

// Mark labels a passing score in the quality trajectory
type Mark string

const (
	MarkExcellent  Mark = "excellent"
	MarkGood       Mark = "good"
	MarkAcceptable Mark = "acceptable"
)

// Thresholds holds the per-stage score bands
type Thresholds struct {
	Minimum         float64 `json:"minimum" yaml:"minimum"`
	Good            float64 `json:"good" yaml:"good"`
	Excellent       float64 `json:"excellent" yaml:"excellent"`
	EscalationFloor float64 `json:"escalation_floor" yaml:"escalation_floor"`
}

// GateDecision is produced by the gate evaluator for one attempt
type GateDecision struct {
	Decision  Decision     `json:"decision"`
	Mark      Mark         `json:"mark,omitempty"`
	Score     QualityScore `json:"score"`
	Threshold float64      `json:"threshold"`
	Iteration int          `json:"iteration"`
	MaxIter   int          `json:"max_iterations"`
}

// Passed reports whether the decision lets the pipeline advance normally
func (d GateDecision) Passed() bool {
	return d.Decision == DecisionPass
}
