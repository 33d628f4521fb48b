package tracker

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Settings holds runtime configuration for the tracker process.
type Settings struct {
	Addr           string        `env:"ADDR,default=:8080"`
	DBDSN          string        `env:"DB_DSN,required"`
	NATSURL        string        `env:"NATS_URL"`
	OTLPEndpoint   string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	LogLevel       string        `env:"LOG_LEVEL,default=info"`
	AllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS,default=*"`
	RateLimit      int           `env:"RATE_LIMIT_PER_MINUTE,default=600"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT,default=60s"`
}

// LoadSettings returns Settings populated from environment variables.
func LoadSettings(ctx context.Context) (Settings, error) {
	var s Settings
	if err := envconfig.Process(ctx, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// LoadSettingsFrom reads Settings through lookuper instead of the process environment.
func LoadSettingsFrom(ctx context.Context, lookuper envconfig.Lookuper) (Settings, error) {
	var s Settings
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &s, Lookuper: lookuper}); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// APIConfig extracts the HTTP settings.
func (s Settings) APIConfig() Config {
	return Config{
		AllowedOrigins: s.AllowedOrigins,
		RateLimit:      s.RateLimit,
		RequestTimeout: s.RequestTimeout,
	}
}
