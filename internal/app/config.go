package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (BREW_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (BREW_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL    string `usage:"Redis connection URL for the rider location cache (BREW_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	JWTSecret   string `usage:"HMAC secret for bearer token verification" flag:"jwt-secret"`

	Documents DocumentsConfig
	Geo       GeoConfig
	Realtime  RealtimeConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// DocumentsConfig controls merchant onboarding document storage.
type DocumentsConfig struct {
	Dir     string `default:"" usage:"Directory for uploaded documents; empty disables uploads" flag:"documents-dir"`
	BaseURL string `default:"" usage:"Public base URL for uploaded documents" flag:"documents-base-url"`
}

// GeoConfig controls the position lookup providers.
type GeoConfig struct {
	GeocoderURL string `default:"" usage:"Reverse geocoding base URL; empty disables /geo/locate" flag:"geocoder-url"`
	OverpassURL string `default:"" usage:"POI search base URL; empty skips nearby POIs" flag:"overpass-url"`
	POIRadius   int    `default:"250" usage:"POI search radius in meters" flag:"poi-radius"`
}

// RealtimeConfig controls the in-process change hub.
type RealtimeConfig struct {
	Buffer int `default:"16" usage:"Per-subscriber change buffer; slow subscribers past it are dropped"`
}

// RateLimitConfig controls the per-client token bucket rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Bucket capacity (burst) per client"`
	Window time.Duration `default:"1m"  usage:"Time for an empty bucket to refill"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins []string `default:"*" usage:"Allowed CORS origins"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "BREW",
		Files:     []string{"config.yaml", "/etc/brewbox/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set BREW_DATABASE_URL or DATABASE_URL")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT secret is required: set BREW_JWT_SECRET")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) that use standard names like DATABASE_URL and
// PORT onto the BREW_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.RedisURL == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.RedisURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
