package client

import (
	"context"
	"testing"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsDefault(t *testing.T) {
	s, err := LoadSettingsFrom(context.Background(), envconfig.MapLookuper(map[string]string{}))
	require.NoError(t, err)
	assert.Equal(t, DefaultBackendURL, s.BackendURL)
}

func TestLoadSettingsOverride(t *testing.T) {
	s, err := LoadSettingsFrom(context.Background(), envconfig.MapLookuper(map[string]string{
		"JOBWATCH_BACKEND_URL": "https://tracker.internal:9443",
	}))
	require.NoError(t, err)
	assert.Equal(t, "https://tracker.internal:9443", s.BackendURL)
}
