package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "impcg_"

var (
	registerOnce sync.Once

	triageTotal         *prometheus.CounterVec
	riskTotal           *prometheus.CounterVec
	partogramBreaches   prometheus.Counter
	pphEscalations      prometheus.Counter
	pphSessionActive    prometheus.Gauge
	persistenceFailures *prometheus.CounterVec
	assistantRequests   *prometheus.CounterVec
)

// Init registers the engine metrics with reg. Recording functions are no-ops
// until Init has run.
func Init(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		triageTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "triage_classifications_total",
				Help: "Total saved triage encounters by color",
			},
			[]string{"color"},
		)
		riskTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "banc_assessments_total",
				Help: "Total BANC risk assessments by tier",
			},
			[]string{"level"},
		)
		partogramBreaches = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "partogram_action_line_breaches_total",
				Help: "Total transitions of the partogram into action-line breach",
			},
		)
		pphEscalations = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "pph_refractory_escalations_total",
				Help: "Total PPH sessions escalated to refractory",
			},
		)
		pphSessionActive = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "pph_session_active",
				Help: "1 while a PPH emergency session is running",
			},
		)
		persistenceFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "persistence_failures_total",
				Help: "Total failed state reads and writes by namespace and operation",
			},
			[]string{"namespace", "op"},
		)
		assistantRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "assistant_requests_total",
				Help: "Total guideline assistant requests by result",
			},
			[]string{"result"},
		)

		reg.MustRegister(
			triageTotal,
			riskTotal,
			partogramBreaches,
			pphEscalations,
			pphSessionActive,
			persistenceFailures,
			assistantRequests,
		)
	})
}

// IncTriage counts a saved encounter.
func IncTriage(color string) {
	if triageTotal != nil {
		triageTotal.WithLabelValues(color).Inc()
	}
}

// IncRisk counts a BANC assessment.
func IncRisk(level string) {
	if riskTotal != nil {
		riskTotal.WithLabelValues(level).Inc()
	}
}

// IncPartogramBreach counts a transition into breach.
func IncPartogramBreach() {
	if partogramBreaches != nil {
		partogramBreaches.Inc()
	}
}

// IncPPHEscalation counts a refractory escalation.
func IncPPHEscalation() {
	if pphEscalations != nil {
		pphEscalations.Inc()
	}
}

// SetPPHActive sets the active-session gauge.
func SetPPHActive(active bool) {
	if pphSessionActive == nil {
		return
	}
	if active {
		pphSessionActive.Set(1)
	} else {
		pphSessionActive.Set(0)
	}
}

// IncPersistenceFailure counts a failed read or write.
func IncPersistenceFailure(namespace, op string) {
	if namespace == "" {
		namespace = "unknown"
	}
	if persistenceFailures != nil {
		persistenceFailures.WithLabelValues(namespace, op).Inc()
	}
}

// IncAssistantRequest counts an assistant call by result.
func IncAssistantRequest(result string) {
	if assistantRequests != nil {
		assistantRequests.WithLabelValues(result).Inc()
	}
}
