package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/convoflow/types"
)

// Collector holds the service metrics.
type Collector struct {
	// HTTP
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// model calls
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokensUsed      *prometheus.CounterVec
	llmCost            *prometheus.CounterVec

	// tools and turns
	toolCallsTotal     *prometheus.CounterVec
	toolCallDuration   *prometheus.HistogramVec
	turnsTotal         *prometheus.CounterVec
	turnDuration       prometheus.Histogram
	turnToolRounds     prometheus.Histogram
	stateTransitions   *prometheus.CounterVec
	rateLimitRejection *prometheus.CounterVec

	// cache
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// database
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector registers the metrics with the default registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegistry registers the metrics with reg.
func NewCollectorWithRegistry(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	c.httpResponseSize = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.llmRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of model calls",
		},
		[]string{"provider", "model", "status"},
	)
	c.llmRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Model call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)
	c.llmTokensUsed = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"provider", "model", "type"}, // input, output
	)
	c.llmCost = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_cost_total",
			Help:      "Estimated model cost in USD",
		},
		[]string{"provider", "model"},
	)

	c.toolCallsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool invocations",
		},
		[]string{"tool", "status"},
	)
	c.toolCallDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool invocation duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"tool"},
	)
	c.turnsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of conversation turns by outcome",
		},
		[]string{"status"},
	)
	c.turnDuration = f.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Conversation turn duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)
	c.turnToolRounds = f.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_tool_rounds",
			Help:      "Tool rounds used per turn",
			Buckets:   []float64{0, 1, 2, 3, 5, 8},
		},
	)
	c.stateTransitions = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_state_transitions_total",
			Help:      "Total number of turn state transitions",
		},
		[]string{"from_state", "to_state"},
	)
	c.rateLimitRejection = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by a rate limit",
		},
		[]string{"limit"},
	)

	c.cacheHits = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)
	c.cacheMisses = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	c.dbConnectionsOpen = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)
	c.dbConnectionsIdle = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordHTTPRequest records one served request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// RecordModelCall records one adapter call.
func (c *Collector) RecordModelCall(provider, model, status string, d time.Duration, usage types.TokenUsage, cost float64) {
	c.llmRequestsTotal.WithLabelValues(provider, model, status).Inc()
	c.llmRequestDuration.WithLabelValues(provider, model).Observe(d.Seconds())
	c.llmTokensUsed.WithLabelValues(provider, model, "input").Add(float64(usage.InputTokens))
	c.llmTokensUsed.WithLabelValues(provider, model, "output").Add(float64(usage.OutputTokens))
	c.llmCost.WithLabelValues(provider, model).Add(cost)
}

// RecordToolCall records one tool invocation.
func (c *Collector) RecordToolCall(tool, status string, d time.Duration) {
	c.toolCallsTotal.WithLabelValues(tool, status).Inc()
	c.toolCallDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordTurn records a finished turn.
func (c *Collector) RecordTurn(status string, rounds int, d time.Duration) {
	c.turnsTotal.WithLabelValues(status).Inc()
	c.turnDuration.Observe(d.Seconds())
	c.turnToolRounds.Observe(float64(rounds))
}

// RecordStateTransition counts a turn state change.
func (c *Collector) RecordStateTransition(from, to string) {
	c.stateTransitions.WithLabelValues(from, to).Inc()
}

// RecordRateLimited counts a rejection by the named limit.
func (c *Collector) RecordRateLimited(limit string) {
	c.rateLimitRejection.WithLabelValues(limit).Inc()
}

// RecordCacheHit counts a cache hit.
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss counts a cache miss.
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordCacheLookup counts a hit or a miss.
func (c *Collector) RecordCacheLookup(cacheType string, hit bool) {
	if hit {
		c.RecordCacheHit(cacheType)
		return
	}
	c.RecordCacheMiss(cacheType)
}

// RecordDBConnections sets the connection pool gauges.
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// statusCode buckets an HTTP status.
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
