package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("VISION_API_KEY", "")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, 8*time.Second, cfg.Guidance.PollInterval)
	assert.Equal(t, 8, cfg.Guidance.MaxSteps)
	assert.Equal(t, 10, cfg.Guidance.HistoryLimit)
	assert.Equal(t, 10*time.Second, cfg.Popup.AutoAdvance)
	assert.True(t, cfg.SimulationMode())
}

func TestLoadConfig_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
providers:
  openai:
    api_key: sk-test
    model: gpt-4o
    enabled: true
guidance:
  poll_interval: 3s
gateways:
  telegram:
    token: abc
    enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	name, p := cfg.GetDefaultProvider()
	assert.Equal(t, "openai", name)
	assert.Equal(t, "gpt-4o", p.Model)
	assert.Equal(t, 3*time.Second, cfg.Guidance.PollInterval)
	assert.False(t, cfg.SimulationMode())

	_, ok := cfg.GetGatewayConfig("telegram")
	assert.True(t, ok)
	_, ok = cfg.GetGatewayConfig("discord")
	assert.False(t, ok)
}

func TestSimulationMode_Sentinel(t *testing.T) {
	cfg := &Config{Providers: map[string]ProviderConfig{
		"openai": {APIKey: "your-api-key-here", Enabled: true},
	}}
	assert.True(t, cfg.SimulationMode())

	t.Setenv("VISION_API_KEY", "sk-env")
	cfg = &Config{}
	assert.False(t, cfg.SimulationMode())
}

func TestLoadConfig_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
