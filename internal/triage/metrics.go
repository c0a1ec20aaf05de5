package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	TriagesTotal     *prometheus.CounterVec
	TriageDuration   *prometheus.HistogramVec
	TriageTokensIn   prometheus.Histogram
	TriageTokensOut  prometheus.Histogram
	BlastRadiusSize  prometheus.Histogram
	RoutesTotal      *prometheus.CounterVec
	StagesTotal      *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	LLMCallsTotal    *prometheus.CounterVec
	LLMTokensIn      prometheus.Counter
	LLMTokensOut     prometheus.Counter
	LLMDuration      *prometheus.HistogramVec
	SubmitsTotal     *prometheus.CounterVec
	StoreErrorsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TriagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "traceback_triages_total",
			Help: "Total triage runs by final status.",
		}, []string{"status"}),
		TriageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "traceback_triage_duration_seconds",
			Help:    "Duration of triage runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s .. ~256s
		}, []string{"status", "model"}),
		TriageTokensIn: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "traceback_triage_tokens_input",
			Help:    "Input tokens consumed per triage run.",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100 .. ~51200
		}),
		TriageTokensOut: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "traceback_triage_tokens_output",
			Help:    "Output tokens consumed per triage run.",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100 .. ~51200
		}),
		BlastRadiusSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "traceback_blast_radius_size",
			Help:    "Number of downstream tables affected per triage run.",
			Buckets: prometheus.LinearBuckets(0, 2, 11), // 0 .. 20
		}),
		RoutesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "traceback_triage_routes_total",
			Help: "Triage runs by the stage the supervisor routed to.",
		}, []string{"route"}),
		StagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "traceback_stages_total",
			Help: "Stage executions by stage and outcome.",
		}, []string{"stage", "status"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "traceback_stage_duration_seconds",
			Help:    "Duration of workflow stages in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 3, 10), // 10ms .. ~197s
		}, []string{"stage"}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "traceback_llm_calls_total",
			Help: "Total LLM provider calls by stage and outcome.",
		}, []string{"stage", "status"}),
		LLMTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "traceback_llm_tokens_input_total",
			Help: "Total LLM input tokens consumed.",
		}),
		LLMTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "traceback_llm_tokens_output_total",
			Help: "Total LLM output tokens consumed.",
		}),
		LLMDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "traceback_llm_call_duration_seconds",
			Help:    "Duration of individual LLM calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s .. ~64s
		}, []string{"stage"}),
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "traceback_submits_total",
			Help: "Total incident submissions by result.",
		}, []string{"result"}),
		StoreErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "traceback_store_errors_total",
			Help: "Result store failures by operation.",
		}, []string{"op"}),
	}

	reg.MustRegister(
		m.TriagesTotal,
		m.TriageDuration,
		m.TriageTokensIn,
		m.TriageTokensOut,
		m.BlastRadiusSize,
		m.RoutesTotal,
		m.StagesTotal,
		m.StageDuration,
		m.LLMCallsTotal,
		m.LLMTokensIn,
		m.LLMTokensOut,
		m.LLMDuration,
		m.SubmitsTotal,
		m.StoreErrorsTotal,
	)

	return m
}

// Hooks returns workflow Hooks that record the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnGenerate: func(stage Step, inputTokens, outputTokens int, duration float64, err error) {
			status := "success"
			if err != nil {
				status = "error"
			}
			m.LLMCallsTotal.WithLabelValues(string(stage), status).Inc()
			m.LLMTokensIn.Add(float64(inputTokens))
			m.LLMTokensOut.Add(float64(outputTokens))
			m.LLMDuration.WithLabelValues(string(stage)).Observe(duration)
		},
		OnStage: func(o StageOutcome) {
			m.StagesTotal.WithLabelValues(string(o.Stage), string(o.Status)).Inc()
			m.StageDuration.WithLabelValues(string(o.Stage)).Observe(o.Duration)
			if o.Stage == StepSupervisor {
				m.RoutesTotal.WithLabelValues(string(o.Next)).Inc()
			}
		},
		OnComplete: func(e *CompleteEvent) {
			m.TriagesTotal.WithLabelValues(string(e.Status)).Inc()
			m.TriageDuration.WithLabelValues(string(e.Status), e.Model).Observe(e.Duration)
			m.TriageTokensIn.Observe(float64(e.TokensIn))
			m.TriageTokensOut.Observe(float64(e.TokensOut))
			m.BlastRadiusSize.Observe(float64(e.BlastRadius))
		},
	}
}
