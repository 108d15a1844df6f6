package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/account-ledger/internal/logging"
)

// RouterDependencies groups what NewRouter wires. Metrics and MetricsHandler
// are optional.
type RouterDependencies struct {
	Handler        *Handler
	Logger         *logging.Logger
	Metrics        *HTTPMetrics
	MetricsHandler http.Handler
}

func NewRouter(deps RouterDependencies) *mux.Router {
	r := mux.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	r.Use(loggingMiddleware(logger.Named("http")))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware())
	}

	h := deps.Handler
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{id}/credit", h.Credit).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{id}/debit", h.Debit).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{id}/balance", h.Balance).Methods(http.MethodGet)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler).Methods(http.MethodGet)
	}

	return r
}

// HTTPMetrics counts requests per route template and status.
type HTTPMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func NewHTTPMetrics(namespace string) *HTTPMetrics {
	if namespace == "" {
		namespace = "ledger"
	}
	return &HTTPMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latencies in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
	}
}

func (m *HTTPMetrics) Register(registry prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.requestsTotal, m.requestDuration} {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *HTTPMetrics) Middleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			srw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(srw, r)

			endpoint := routeTemplate(r)
			m.requestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(srw.statusCode)).Inc()
			m.requestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
		})
	}
}

func loggingMiddleware(logger *logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			srw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(srw, r)

			logger.Debug("request handled",
				zap.String("method", r.Method),
				zap.String("endpoint", routeTemplate(r)),
				zap.Int("status", srw.statusCode),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusResponseWriter captures the status code
type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// routeTemplate keeps account ids out of metric labels
func routeTemplate(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return r.URL.Path
	}
	tmpl, err := route.GetPathTemplate()
	if err != nil {
		return r.URL.Path
	}
	return tmpl
}
