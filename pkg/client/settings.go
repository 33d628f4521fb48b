package client

import (
	"context"

	"github.com/sethvargo/go-envconfig"
)

// DefaultBackendURL is used when JOBWATCH_BACKEND_URL is unset.
const DefaultBackendURL = "http://localhost:8080"

// Settings locates the tracking service. Every binary that talks to it embeds this.
type Settings struct {
	BackendURL string `env:"JOBWATCH_BACKEND_URL,default=http://localhost:8080"`
}

// LoadSettings reads Settings from the process environment.
func LoadSettings(ctx context.Context) (Settings, error) {
	return LoadSettingsFrom(ctx, envconfig.OsLookuper())
}

// LoadSettingsFrom reads Settings through lookuper.
func LoadSettingsFrom(ctx context.Context, lookuper envconfig.Lookuper) (Settings, error) {
	var s Settings
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &s, Lookuper: lookuper}); err != nil {
		return Settings{}, err
	}
	return s, nil
}
