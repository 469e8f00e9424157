package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	PipelineRuns        prometheus.Counter
	PipelineFailures    prometheus.Counter
	RateLimitRejections prometheus.Counter
	SummarizeFallbacks  prometheus.Counter
	DeliverySuccesses   prometheus.Counter
	DeliveryFailures    prometheus.Counter
	SweepRetries        prometheus.Counter
	PipelineDuration    prometheus.Histogram
}

// NewMetrics creates new Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		PipelineRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "channel_summarizer_pipeline_runs",
			Help: "Total number of summarization pipeline runs",
		}),
		PipelineFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "channel_summarizer_pipeline_failures",
			Help: "Total number of failed pipeline runs",
		}),
		RateLimitRejections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "channel_summarizer_rate_limit_rejections",
			Help: "Total number of requests rejected by the rate limiter",
		}),
		SummarizeFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "channel_summarizer_summarize_fallbacks",
			Help: "Total number of summaries degraded to plain text",
		}),
		DeliverySuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "channel_summarizer_delivery_successes",
			Help: "Total number of successfully posted summaries",
		}),
		DeliveryFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "channel_summarizer_delivery_failures",
			Help: "Total number of failed summary posts",
		}),
		SweepRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "channel_summarizer_sweep_retries",
			Help: "Total number of delivery attempts re-tried by the sweep",
		}),
		PipelineDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "channel_summarizer_pipeline_duration_seconds",
			Help:    "Time spent running the summarization pipeline",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
