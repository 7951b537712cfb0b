package api

import (
    "context"
    "net/http"
    "strings"

    "fooddispatch/internal/auth"
    "fooddispatch/internal/config"
    "fooddispatch/internal/dispatch"
    "fooddispatch/internal/geocode"
    "fooddispatch/internal/routing"
    "fooddispatch/internal/store"
    "fooddispatch/internal/webhooks"
)

type Server struct {
    Cfg        config.Config
    Store      store.Store
    Dispatcher *dispatch.Dispatcher
    Geocoder   *geocode.Client
    Pub        *webhooks.Publisher
    Auth       *auth.Verifier
    Broker     EventBroker
    Locations  *LocationCache
}

// NewServer wires the service from config. With no DATABASE_URL the store is
// in-memory; with no ROUTING_ENGINE_URL optimization runs on the built-in
// heuristic engine.
func NewServer() (*Server, error) {
    cfg, err := config.Load()
    if err != nil { return nil, err }
    var s store.Store
    if strings.TrimSpace(cfg.DatabaseURL) == "" {
        s = store.NewMemory()
    } else {
        sp, err := store.NewPostgres(cfg.DatabaseURL)
        if err != nil {
            return nil, err
        }
        if cfg.DBMigrate {
            if err := sp.MigrateDir("db/migrations"); err != nil { return nil, err }
        }
        s = sp
    }
    var eng routing.Engine
    if cfg.RoutingEngineURL != "" {
        eng = routing.NewRemoteEngine(cfg.RoutingEngineURL)
    } else {
        eng = routing.NewLocalEngine()
    }
    geo := geocode.New(cfg.GeocoderURL)
    // Broker selection
    var broker EventBroker
    if cfg.RedisURL != "" {
        if rb, err := NewRedisBroker(cfg.RedisURL); err == nil { broker = rb } else { broker = NewBroker() }
    } else {
        broker = NewBroker()
    }
    pub := webhooks.NewPublisher(s)
    d := dispatch.New(s, eng, geo, pub)
    return &Server{
        Cfg:        cfg,
        Store:      s,
        Dispatcher: d,
        Geocoder:   geo,
        Pub:        pub,
        Auth:       auth.NewVerifier(cfg.AuthMode),
        Broker:     broker,
        Locations:  NewLocationCache(),
    }, nil
}

func (s *Server) withTenant(r *http.Request) (context.Context, string) {
    // For now, get tenant from header; in production decode from JWT.
    tenant := r.Header.Get("X-Tenant-Id")
    if tenant == "" { tenant = "t_demo" }
    tenant = s.normalizeTenantID(tenant)
    ctx := context.WithValue(r.Context(), ctxKeyTenant{}, tenant)
    return ctx, tenant
}

func (s *Server) normalizeTenantID(tenant string) string {
    tenant = strings.TrimSpace(tenant)
    if tenant == "" { return "t_demo" }
    return tenant
}

type ctxKeyTenant struct{}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
    return webhooks.NewWorker(s.Store, s.Cfg.WebhookMaxAttempts)
}
