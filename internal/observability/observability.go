package observability

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iot_desk_http_requests_total",
			Help: "Total requests by route, method and status.",
		},
		[]string{"route", "method", "status"},
	)
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "iot_desk_http_request_duration_seconds",
			Help:    "Request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	IntentCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iot_desk_fulfillment_intents_total",
			Help: "Smart home intents handled, by intent and outcome.",
		},
		[]string{"intent", "outcome"},
	)
	DeskCommandCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iot_desk_commands_total",
			Help: "Desk preset commands, by preset and result (published, ignored, failed).",
		},
		[]string{"preset", "result"},
	)
	PurgedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iot_desk_oauth_purged_total",
			Help: "Expired or revoked OAuth rows deleted by the janitor.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(RequestCounter, RequestDuration, IntentCounter, DeskCommandCounter, PurgedCounter)
}

const tracerName = "github.com/bloveless/esp32-iot-desk"

// SetupTracing installs a global tracer provider. Spans are exported over
// OTLP/HTTP only when OTEL_EXPORTER_OTLP_ENDPOINT is set.
func SetupTracing(ctx context.Context, serviceName string) (shutdown func(context.Context) error, err error) {
	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", serviceName)))
	if err != nil {
		return nil, err
	}
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")) != "" {
		exp, err := otlptracehttp.New(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func Tracer() oteltrace.Tracer {
	return otel.Tracer(tracerName)
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Middleware counts requests per chi route pattern and wraps each request in
// a server span.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		ctx, span := Tracer().Start(r.Context(), r.Method+" "+r.URL.Path, oteltrace.WithSpanKind(oteltrace.SpanKindServer))
		defer span.End()

		next.ServeHTTP(rw, r.WithContext(ctx))

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		span.SetName(r.Method + " " + route)
		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", rw.status),
		)
		RequestCounter.WithLabelValues(route, r.Method, strconv.Itoa(rw.status)).Inc()
		RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
