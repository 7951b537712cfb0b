package api

import (
    "encoding/json"
    "net/http"
    "os"
    "time"

    "fooddispatch/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
    info := map[string]any{
        "build": buildinfo.Info(),
        "time":  time.Now().UTC().Format(time.RFC3339),
        "config": map[string]any{
            "PORT": s.Cfg.Port,
            "AUTH_MODE": os.Getenv("AUTH_MODE"),
            "WEBHOOK_MAX_ATTEMPTS": s.Cfg.WebhookMaxAttempts,
            "HAS_DATABASE_URL": s.Cfg.DatabaseURL != "",
            "HAS_REDIS_URL": s.Cfg.RedisURL != "",
            "HAS_ROUTING_ENGINE_URL": s.Cfg.RoutingEngineURL != "",
            "HAS_GEOCODER_URL": s.Cfg.GeocoderURL != "",
        },
    }
    w.Header().Set("Content-Type", "application/json")
    _ = json.NewEncoder(w).Encode(info)
}
