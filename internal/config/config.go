// Package config loads service configuration from an optional YAML file with
// environment variable overrides. Every field falls back to an env var so the
// service runs without any file at all.
package config

import (
    "os"
    "strconv"

    "gopkg.in/yaml.v3"
)

type Config struct {
    Port        string `yaml:"port"`
    DatabaseURL string `yaml:"database_url"`
    RedisURL    string `yaml:"redis_url"`

    // RoutingEngineURL points at the external optimizer. Empty means the
    // built-in heuristic engine.
    RoutingEngineURL string `yaml:"routing_engine_url"`
    // GeocoderURL points at the Nominatim-style geocoder. Empty disables
    // geocoding; optimization still runs, every stop reports a geocoding
    // issue.
    GeocoderURL string `yaml:"geocoder_url"`

    AuthMode           string `yaml:"auth_mode"`
    WebhookMaxAttempts int    `yaml:"webhook_max_attempts"`
    DBMigrate          bool   `yaml:"db_migrate"`
}

// Load reads the file named by CONFIG_FILE when set, expands ${VAR}
// references in it, then lets plain env vars override field by field.
func Load() (Config, error) {
    cfg := Config{Port: "8080", DBMigrate: true, WebhookMaxAttempts: 10}
    if path := os.Getenv("CONFIG_FILE"); path != "" {
        b, err := os.ReadFile(path)
        if err != nil { return cfg, err }
        if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
            return cfg, err
        }
    }
    overrideString(&cfg.Port, "PORT")
    overrideString(&cfg.DatabaseURL, "DATABASE_URL")
    overrideString(&cfg.RedisURL, "REDIS_URL")
    overrideString(&cfg.RoutingEngineURL, "ROUTING_ENGINE_URL")
    overrideString(&cfg.GeocoderURL, "GEOCODER_URL")
    overrideString(&cfg.AuthMode, "AUTH_MODE")
    if v := os.Getenv("WEBHOOK_MAX_ATTEMPTS"); v != "" {
        if n, err := strconv.Atoi(v); err == nil && n > 0 { cfg.WebhookMaxAttempts = n }
    }
    if v := os.Getenv("DB_MIGRATE"); v != "" {
        cfg.DBMigrate = v != "false"
    }
    return cfg, nil
}

func overrideString(dst *string, key string) {
    if v := os.Getenv(key); v != "" { *dst = v }
}
