package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Placeholder keys shipped in sample configs. Either one forces simulation mode.
var apiKeySentinels = map[string]bool{
	"your-api-key-here":        true,
	"your_openai_api_key_here": true,
}

type Config struct {
	App         AppConfig                 `mapstructure:"app"`
	Gateways    map[string]GatewayConfig  `mapstructure:"gateways"`
	Providers   map[string]ProviderConfig `mapstructure:"providers"`
	Memory      MemoryConfig              `mapstructure:"memory"`
	Log         LogConfig                 `mapstructure:"log"`
	Guidance    GuidanceConfig            `mapstructure:"guidance"`
	Capture     CaptureConfig             `mapstructure:"capture"`
	Permissions PermissionsConfig         `mapstructure:"permissions"`
	Popup       PopupConfig               `mapstructure:"popup"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Listen  string `mapstructure:"listen"`
	Origin  string `mapstructure:"origin"`
	Prompts string `mapstructure:"prompts"`
}

type GatewayConfig struct {
	Token   string `mapstructure:"token"`
	Enabled bool   `mapstructure:"enabled"`
}

type ProviderConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	Enabled     bool    `mapstructure:"enabled"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
	// TranscriptionModel is used for voice input; empty disables remote transcription.
	TranscriptionModel string `mapstructure:"transcription_model"`
}

type MemoryConfig struct {
	Type string `mapstructure:"type"`
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	Output      string `mapstructure:"output"`
	FilePath    string `mapstructure:"file_path"`
	Development bool   `mapstructure:"development"`
	Dashboard   bool   `mapstructure:"dashboard"`
}

type GuidanceConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	ProcessingDelay  time.Duration `mapstructure:"processing_delay"`
	StepAdvanceDelay time.Duration `mapstructure:"step_advance_delay"`
	AICompleteDelay  time.Duration `mapstructure:"ai_complete_delay"`
	SimulatedDelay   time.Duration `mapstructure:"simulated_delay"`
	AnalysisTimeout  time.Duration `mapstructure:"analysis_timeout"`
	MaxSteps         int           `mapstructure:"max_steps"`
	HistoryLimit     int           `mapstructure:"history_limit"`
}

type CaptureConfig struct {
	// Screen selects the frame source: "desktop" (ffmpeg/scrot) or "browser" (chromedp).
	Screen       string `mapstructure:"screen"`
	BrowserURL   string `mapstructure:"browser_url"`
	Display      string `mapstructure:"display"`
	AudioDevice  string `mapstructure:"audio_device"`
	CameraDevice string `mapstructure:"camera_device"`
	FramesDir    string `mapstructure:"frames_dir"`
}

type PermissionsConfig struct {
	Denied              []string `mapstructure:"denied"`
	RequireSecureOrigin bool     `mapstructure:"require_secure_origin"`
}

type PopupConfig struct {
	AutoAdvance time.Duration `mapstructure:"auto_advance"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "screenguide")
	v.SetDefault("app.listen", ":8080")
	v.SetDefault("app.origin", "http://localhost:8080")
	v.SetDefault("app.prompts", "./prompts")
	v.SetDefault("memory.type", "sqlite")
	v.SetDefault("memory.path", "screenguide.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stderr")
	v.SetDefault("guidance.poll_interval", 8*time.Second)
	v.SetDefault("guidance.processing_delay", 1500*time.Millisecond)
	v.SetDefault("guidance.step_advance_delay", time.Second)
	v.SetDefault("guidance.ai_complete_delay", 2500*time.Millisecond)
	v.SetDefault("guidance.simulated_delay", 1500*time.Millisecond)
	v.SetDefault("guidance.analysis_timeout", 60*time.Second)
	v.SetDefault("guidance.max_steps", 8)
	v.SetDefault("guidance.history_limit", 10)
	v.SetDefault("capture.screen", "desktop")
	v.SetDefault("capture.display", ":0.0")
	v.SetDefault("capture.audio_device", "default")
	v.SetDefault("capture.camera_device", "/dev/video0")
	v.SetDefault("capture.frames_dir", "screenshots")
	v.SetDefault("permissions.require_secure_origin", true)
	v.SetDefault("popup.auto_advance", 10*time.Second)
}

// LoadConfig reads a JSON or YAML file (chosen by extension). A missing file is
// not an error: defaults and environment variables still apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SCREENGUIDE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			switch strings.ToLower(filepath.Ext(path)) {
			case ".yaml", ".yml":
				v.SetConfigType("yaml")
			default:
				v.SetConfigType("json")
			}
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	return &cfg, nil
}

// GetDefaultProvider returns the first enabled provider, by name order.
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if p := c.Providers[name]; p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}

// VisionAPIKey returns the provider key, falling back to VISION_API_KEY.
func (c *Config) VisionAPIKey() string {
	_, p := c.GetDefaultProvider()
	if p.APIKey != "" {
		return p.APIKey
	}
	return os.Getenv("VISION_API_KEY")
}

// SimulationMode reports whether no usable API key is configured.
func (c *Config) SimulationMode() bool {
	key := strings.TrimSpace(c.VisionAPIKey())
	return key == "" || apiKeySentinels[key]
}

// GetGatewayConfig returns the named gateway config if enabled and has a token.
func (c *Config) GetGatewayConfig(name string) (GatewayConfig, bool) {
	g, ok := c.Gateways[name]
	if ok && g.Enabled && g.Token != "" {
		return g, true
	}
	return GatewayConfig{}, false
}
