package metrics

import (
    "sync"
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the API
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // Optimizations counts optimization runs by mode (multi/tour), engine
    // (local/remote) and outcome
    Optimizations = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "optimizations_total", Help: "Optimization runs by mode, engine and outcome."},
        []string{"mode", "engine", "outcome"},
    )
    // OptimizationDuration tracks wall time per optimization run
    OptimizationDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "optimization_duration_seconds", Help: "Optimization run duration in seconds.", Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}},
        []string{"mode", "engine"},
    )
    // GeocodeLookups counts geocoder calls by outcome (hit, miss, error)
    GeocodeLookups = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "geocode_lookups_total", Help: "Geocoder lookups by outcome."},
        []string{"outcome"},
    )
    // Assignments counts order-to-driver assignments by path and outcome
    Assignments = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "assignments_total", Help: "Order assignments by path (single, selected, batch) and outcome."},
        []string{"path", "outcome"},
    )

    // WebhookDeliveries counts webhook delivery outcomes by event type and status
    WebhookDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
        []string{"event_type", "status"},
    )
    // WebhookLatency tracks webhook delivery latencies in milliseconds
    WebhookLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
        []string{"event_type", "status"},
    )
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
    regOnce.Do(func(){
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(Optimizations)
        Registry.MustRegister(OptimizationDuration)
        Registry.MustRegister(GeocodeLookups)
        Registry.MustRegister(Assignments)
        Registry.MustRegister(WebhookDeliveries)
        Registry.MustRegister(WebhookLatency)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once
