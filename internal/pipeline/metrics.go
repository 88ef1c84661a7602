package pipeline

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for pipeline runs.
type Metrics struct {
	RunsTotal          *prometheus.CounterVec
	RunDuration        *prometheus.HistogramVec
	StageDuration      *prometheus.HistogramVec
	StageErrorsTotal   *prometheus.CounterVec
	ClassifyCallsTotal *prometheus.CounterVec
	ClassifyDuration   prometheus.Histogram
	ClassifyTokensIn   prometheus.Counter
	ClassifyTokensOut  prometheus.Counter
}

// NewMetrics registers and returns pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "priorityops_pipeline_runs_total",
			Help: "Total pipeline runs by result.",
		}, []string{"result"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "priorityops_pipeline_run_duration_seconds",
			Help:    "Duration of pipeline runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s .. ~204s
		}, []string{"result"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "priorityops_pipeline_stage_duration_seconds",
			Help:    "Duration of individual pipeline stages in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms .. ~82s
		}, []string{"stage"}),
		StageErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "priorityops_pipeline_stage_errors_total",
			Help: "Total pipeline stage failures by stage.",
		}, []string{"stage"}),
		ClassifyCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "priorityops_classify_calls_total",
			Help: "Total classifier calls by status.",
		}, []string{"status"}),
		ClassifyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "priorityops_classify_duration_seconds",
			Help:    "Duration of classifier calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s .. ~64s
		}),
		ClassifyTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "priorityops_classify_tokens_input_total",
			Help: "Total classifier input tokens consumed.",
		}),
		ClassifyTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "priorityops_classify_tokens_output_total",
			Help: "Total classifier output tokens consumed.",
		}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.StageDuration,
		m.StageErrorsTotal,
		m.ClassifyCallsTotal,
		m.ClassifyDuration,
		m.ClassifyTokensIn,
		m.ClassifyTokensOut,
	)

	return m
}

// Hooks returns Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnStage: func(stage string, duration float64, err error) {
			m.StageDuration.WithLabelValues(stage).Observe(duration)
			if err != nil {
				m.StageErrorsTotal.WithLabelValues(stage).Inc()
			}
		},
		OnClassify: func(_ string, inputTokens, outputTokens int, duration float64, err error) {
			status := "success"
			if err != nil {
				status = "error"
			}
			m.ClassifyCallsTotal.WithLabelValues(status).Inc()
			m.ClassifyDuration.Observe(duration)
			m.ClassifyTokensIn.Add(float64(inputTokens))
			m.ClassifyTokensOut.Add(float64(outputTokens))
		},
		OnRun: func(e *RunEvent) {
			m.RunsTotal.WithLabelValues(e.Result).Inc()
			m.RunDuration.WithLabelValues(e.Result).Observe(e.Duration)
		},
	}
}
