package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jonathan/docpipeline/internal/pipeline"
	"github.com/jonathan/docpipeline/internal/types"
)

// Metrics collects pipeline counters. It implements pipeline.Observer.
type Metrics struct {
	decisions *prometheus.CounterVec
	attempts  *prometheus.HistogramVec
	versions  *prometheus.CounterVec
	runs      *prometheus.CounterVec
	scores    *prometheus.GaugeVec
	active    prometheus.Gauge
}

var _ pipeline.Observer = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docpipeline",
			Name:      "gate_decisions_total",
			Help:      "Gate decisions by stage and decision.",
		}, []string{"stage", "decision"}),
		attempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docpipeline",
			Name:      "attempt_duration_seconds",
			Help:      "Wall time of one stage attempt, including commits.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"stage", "outcome"}),
		versions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docpipeline",
			Name:      "versions_committed_total",
			Help:      "Content versions committed by stage.",
		}, []string{"stage"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docpipeline",
			Name:      "runs_finished_total",
			Help:      "Finished runs by status and reason.",
		}, []string{"status", "reason"}),
		scores: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "docpipeline",
			Name:      "last_score",
			Help:      "Most recent quality score per stage.",
		}, []string{"stage"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "docpipeline",
			Name:      "runs_active",
			Help:      "Runs currently in progress.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.decisions, m.attempts, m.versions, m.runs, m.scores, m.active)
	}
	return m
}

// VersionCommitted counts a commit. The first version of a run marks it active.
func (m *Metrics) VersionCommitted(_ *types.PipelineRun, unit *types.ContentUnit, _ types.ChangeRecord) {
	m.versions.WithLabelValues(unit.StageName).Inc()
	if unit.StageName == types.OriginalStage {
		m.active.Inc()
	}
}

// AttemptFinished records the gate decision and attempt duration
func (m *Metrics) AttemptFinished(_ *types.PipelineRun, entry types.TrajectoryEntry, elapsed time.Duration) {
	m.decisions.WithLabelValues(entry.Stage, string(entry.Decision)).Inc()
	outcome := "scored"
	if entry.Failure != "" {
		outcome = "worker_failure"
	}
	m.attempts.WithLabelValues(entry.Stage, outcome).Observe(elapsed.Seconds())
	m.scores.WithLabelValues(entry.Stage).Set(entry.Score.Score)
}

// RunFinished counts the terminal status
func (m *Metrics) RunFinished(run *types.PipelineRun) {
	m.runs.WithLabelValues(string(run.Status), run.Reason).Inc()
	if len(run.VersionHistory) > 0 {
		m.active.Dec()
	}
}
