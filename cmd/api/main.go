package main

import (
    "bufio"
    "context"
    "errors"
    "log/slog"
    "net"
    "net/http"
    "os"
    "os/signal"
    "strconv"
    "syscall"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"
    "golang.org/x/time/rate"

    "fooddispatch/internal/api"
    "fooddispatch/internal/metrics"
)

func main() {
    logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
    slog.SetDefault(logger)

    srvDeps, err := api.NewServer()
    if err != nil {
        logger.Error("failed to init server", "error", err)
        os.Exit(1)
    }
    metrics.RegisterDefault()

    mux := http.NewServeMux()

    // Orders
    mux.HandleFunc("/v1/orders", srvDeps.OrdersHandler)
    mux.HandleFunc("/v1/orders/", srvDeps.OrderByIDHandler) // includes /assign-driver, /status

    // Restaurants: pool, optimization, events
    mux.HandleFunc("/v1/restaurants/", srvDeps.RestaurantsHandler)

    // Drivers
    mux.HandleFunc("/v1/drivers", srvDeps.DriversIndexHandler)
    mux.HandleFunc("/v1/drivers/stats", srvDeps.DriversIndexHandler)
    mux.HandleFunc("/v1/drivers/locations", srvDeps.DriversIndexHandler)
    mux.HandleFunc("/v1/drivers/", srvDeps.DriversHandler) // includes tour endpoints

    // Geocoding proxy
    mux.HandleFunc("/v1/geocoding/search", srvDeps.GeocodeSearchHandler)

    // Webhook subscriptions
    mux.HandleFunc("/v1/subscriptions", srvDeps.SubscriptionsHandler)
    mux.HandleFunc("/v1/subscriptions/", srvDeps.SubscriptionByIDHandler)

    // Dispatch WebSocket
    mux.HandleFunc("/v1/dispatch/ws", srvDeps.DispatchWSHandler)

    // Health and introspection
    mux.HandleFunc("/healthz", srvDeps.HealthHandler)
    mux.HandleFunc("/readyz", srvDeps.ReadyHandler)
    mux.HandleFunc("/debug/info", srvDeps.DebugJSON)
    mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

    addr := ":" + srvDeps.Cfg.Port

    srv := &http.Server{
        Addr:              addr,
        Handler:           logMiddleware(logger, rateLimitMiddleware(metricsMiddleware(mux))),
        ReadHeaderTimeout: 5 * time.Second,
    }

    worker := srvDeps.NewWebhookWorker()
    worker.Start()

    go func() {
        logger.Info("API listening", "addr", addr, "engine", srvDeps.Cfg.RoutingEngineURL != "")
        if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            logger.Error("server error", "error", err)
            os.Exit(1)
        }
    }()

    stop := make(chan os.Signal, 1)
    signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
    <-stop
    logger.Info("shutting down")
    close(worker.Stop)
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    if err := srv.Shutdown(ctx); err != nil {
        logger.Error("shutdown error", "error", err)
    }
}

type statusRecorder struct {
    http.ResponseWriter
    status int
}

func (r *statusRecorder) WriteHeader(code int) {
    r.status = code
    r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the middleware wrappers.
func (r *statusRecorder) Flush() {
    if f, ok := r.ResponseWriter.(http.Flusher); ok { f.Flush() }
}

// Hijack keeps the WebSocket upgrade working through the middleware wrappers.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
    h, ok := r.ResponseWriter.(http.Hijacker)
    if !ok { return nil, nil, errors.New("hijacking not supported") }
    return h.Hijack()
}

func logMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
        next.ServeHTTP(rec, r)
        logger.Info("request",
            "remote", r.RemoteAddr,
            "method", r.Method,
            "path", r.URL.Path,
            "status", rec.status,
            "duration", time.Since(start).String(),
        )
    })
}

// rateLimitMiddleware applies a global inbound request limit when RATE_RPS is
// set. RATE_BURST defaults to 2x the rate.
func rateLimitMiddleware(next http.Handler) http.Handler {
    rps, _ := strconv.ParseFloat(os.Getenv("RATE_RPS"), 64)
    if rps <= 0 {
        return next
    }
    burst, _ := strconv.Atoi(os.Getenv("RATE_BURST"))
    if burst <= 0 {
        burst = int(rps * 2)
        if burst < 1 { burst = 1 }
    }
    lim := rate.NewLimiter(rate.Limit(rps), burst)
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if !lim.Allow() {
            w.Header().Set("Retry-After", "1")
            http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
            return
        }
        next.ServeHTTP(w, r)
    })
}

func metricsMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
        next.ServeHTTP(rec, r)
        status := strconv.Itoa(rec.status)
        metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
        metrics.HTTPDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
    })
}
