package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_requests_total",
			Help: "Total number of orchestrated requests by worker and outcome",
		},
		[]string{"worker", "outcome"},
	)
	RequestErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_request_errors_total",
			Help: "Total number of failed requests by error code",
		},
		[]string{"code"},
	)
	RequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_requests_in_flight",
			Help: "Number of requests currently holding an admission slot",
		},
	)
	ProcessingTimeEMA = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_processing_time_ema_ms",
			Help: "Exponential moving average of request processing time in milliseconds",
		},
		[]string{"worker"},
	)

	WorkerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_calls_total",
			Help: "Total number of worker dispatches by worker and outcome",
		},
		[]string{"worker", "outcome"},
	)
	WorkerCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "worker_call_duration_seconds",
			Help:    "Worker dispatch duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"worker"},
	)
	WorkerRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_call_retries_total",
			Help: "Total number of worker call retry attempts",
		},
		[]string{"worker"},
	)
	WorkerTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_tokens_total",
			Help: "Total number of model tokens consumed by worker and token type",
		},
		[]string{"worker", "type"},
	)

	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Total number of cache lookups by cache, worker and outcome",
		},
		[]string{"cache", "worker", "outcome"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
		},
		[]string{"name"},
	)
	BreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "to"},
	)

	RateLimitRefusalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_refusals_total",
			Help: "Total number of requests refused by the rate limiter",
		},
		[]string{"reason"},
	)
	LedgerEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_entries_total",
			Help: "Total number of cost ledger entries recorded",
		},
		[]string{"worker"},
	)
	LedgerCostTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_cost_usd_total",
			Help: "Accumulated ledger cost in USD",
		},
		[]string{"worker"},
	)

	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_requests_total",
			Help: "Total number of search provider requests by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)
	ClaimsExtractedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claims_extracted_total",
			Help: "Total number of factual claims extracted by method",
		},
		[]string{"method"},
	)

	MessagesPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_messages_published_total",
			Help: "Total number of message pair events published by outcome",
		},
		[]string{"outcome"},
	)
	MessagesPersistedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_messages_persisted_total",
			Help: "Total number of message pair events persisted by outcome",
		},
		[]string{"outcome"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestErrorsTotal)
	prometheus.MustRegister(RequestsInFlight)
	prometheus.MustRegister(ProcessingTimeEMA)
	prometheus.MustRegister(WorkerCallsTotal)
	prometheus.MustRegister(WorkerCallDuration)
	prometheus.MustRegister(WorkerRetriesTotal)
	prometheus.MustRegister(WorkerTokensTotal)
	prometheus.MustRegister(CacheLookupsTotal)
	prometheus.MustRegister(BreakerState)
	prometheus.MustRegister(BreakerTransitionsTotal)
	prometheus.MustRegister(RateLimitRefusalsTotal)
	prometheus.MustRegister(LedgerEntriesTotal)
	prometheus.MustRegister(LedgerCostTotal)
	prometheus.MustRegister(SearchRequestsTotal)
	prometheus.MustRegister(ClaimsExtractedTotal)
	prometheus.MustRegister(MessagesPublishedTotal)
	prometheus.MustRegister(MessagesPersistedTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

func StartRequest() {
	RequestsInFlight.Inc()
}

func EndRequest(worker, outcome string) {
	RequestsInFlight.Dec()
	RequestsTotal.WithLabelValues(worker, outcome).Inc()
}

func RecordRequestError(code string) {
	RequestErrorsTotal.WithLabelValues(code).Inc()
}

func SetProcessingTimeEMA(worker string, ms float64) {
	ProcessingTimeEMA.WithLabelValues(worker).Set(ms)
}

func ObserveWorkerCall(worker, outcome string, seconds float64) {
	WorkerCallsTotal.WithLabelValues(worker, outcome).Inc()
	WorkerCallDuration.WithLabelValues(worker).Observe(seconds)
}

func RecordWorkerRetry(worker string) {
	WorkerRetriesTotal.WithLabelValues(worker).Inc()
}

func RecordTokens(worker string, prompt, completion int) {
	WorkerTokensTotal.WithLabelValues(worker, "prompt").Add(float64(prompt))
	WorkerTokensTotal.WithLabelValues(worker, "completion").Add(float64(completion))
}

func ObserveCacheLookup(cache, worker string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	CacheLookupsTotal.WithLabelValues(cache, worker, outcome).Inc()
}

func SetBreakerState(name string, state float64) {
	BreakerState.WithLabelValues(name).Set(state)
}

func RecordBreakerTransition(name, to string) {
	BreakerTransitionsTotal.WithLabelValues(name, to).Inc()
}

func RecordRateLimitRefusal(reason string) {
	RateLimitRefusalsTotal.WithLabelValues(reason).Inc()
}

func RecordLedgerEntry(worker string, costUSD float64) {
	LedgerEntriesTotal.WithLabelValues(worker).Inc()
	if costUSD > 0 {
		LedgerCostTotal.WithLabelValues(worker).Add(costUSD)
	}
}

func RecordSearch(provider, outcome string) {
	SearchRequestsTotal.WithLabelValues(provider, outcome).Inc()
}

func RecordClaimsExtracted(method string, n int) {
	if n > 0 {
		ClaimsExtractedTotal.WithLabelValues(method).Add(float64(n))
	}
}

func RecordMessagePublished(outcome string) {
	MessagesPublishedTotal.WithLabelValues(outcome).Inc()
}

func RecordMessagePersisted(outcome string) {
	MessagesPersistedTotal.WithLabelValues(outcome).Inc()
}
