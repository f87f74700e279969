// Package metrics provides the Prometheus collector set shared by every bot and broker adapter
// in a fleet (§4.10, §4.11, §4.6). One Set is owned by the Manager and passed to each bot at
// construction time; bots and the pipeline label their observations with their own account_id
// rather than each creating a private collector, but a bot's series are removed on reset() the
// same way the grounding file removes a closed position's series.
//
// Grounded on poorman-SynapseStrike/SynapseStrike/metrics/metrics.go (promauto.With(registry)
// NewGaugeVec/NewCounterVec/NewHistogramVec with Namespace/Subsystem/Name/Help, and a
// Delete*LabelValues teardown method), adapted from a package-level global registry to an
// instance owned by the Manager. The teacher repo lists prometheus/client_golang in go.mod but
// never imports it; this is where that dependency gets real use.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fleet"

// Set is the full collector set for one fleet orchestrator process.
type Set struct {
	Registry *prometheus.Registry

	BotsRunning   prometheus.Gauge
	TradesTotal   *prometheus.CounterVec // account_id, status
	AnalysisTotal *prometheus.CounterVec // account_id
	OpenPositions *prometheus.GaugeVec   // account_id

	PipelineStageTotal       *prometheus.CounterVec   // stage, outcome
	PipelineSubmitSeconds    *prometheus.HistogramVec // account_id
	PipelinePipValueFallback *prometheus.CounterVec   // symbol
}

// New builds a Set registered against a fresh prometheus.Registry.
func New() *Set {
	registry := prometheus.NewRegistry()
	return &Set{
		Registry: registry,

		BotsRunning: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "bots", Name: "running",
			Help: "Number of bots currently in the RUNNING state.",
		}),
		TradesTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bot", Name: "trades_total",
			Help: "Total trades closed, by account and closing status.",
		}, []string{"account_id", "status"}),
		AnalysisTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bot", Name: "analysis_total",
			Help: "Total per-symbol analysis ticks run, by account.",
		}, []string{"account_id"}),
		OpenPositions: promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "bot", Name: "open_positions",
			Help: "Current number of locally-tracked open positions, by account.",
		}, []string{"account_id"}),

		PipelineStageTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "stage_total",
			Help: "Order pipeline stage transitions and retry attempts, by stage and outcome.",
		}, []string{"stage", "outcome"}),
		PipelineSubmitSeconds: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "submit_seconds",
			Help:    "End-to-end order submission latency, by account.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		}, []string{"account_id"}),
		PipelinePipValueFallback: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "pipvalue_fallback_total",
			Help: "Times the conservative per-class pip value fallback was used instead of the broker spec, by symbol.",
		}, []string{"symbol"}),
	}
}

// ForgetAccount removes every per-account label series, mirroring the grounding file's
// ClearPositionMetrics teardown, called from Manager.Reset.
func (s *Set) ForgetAccount(accountID string) {
	s.TradesTotal.DeletePartialMatch(prometheus.Labels{"account_id": accountID})
	s.AnalysisTotal.DeleteLabelValues(accountID)
	s.OpenPositions.DeleteLabelValues(accountID)
	s.PipelineSubmitSeconds.DeleteLabelValues(accountID)
}
