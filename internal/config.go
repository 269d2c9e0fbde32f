package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultCheckpointTTL is how long a paused session stays resumable.
	DefaultCheckpointTTL = 4 * time.Hour

	// DefaultCheckpointPrefix namespaces checkpoint keys.
	DefaultCheckpointPrefix = "yeschef-progress"

	// ControlTopic is the data-channel topic shared with the assistant.
	ControlTopic = "yeschef"
)

// Config is the on-disk configuration (~/.yeschef/config.yaml).
type Config struct {
	API        APIConfig        `yaml:"api"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Capture    CaptureConfig    `yaml:"capture"`
	Session    SessionConfig    `yaml:"session"`
	Server     ServerConfig     `yaml:"server"`
}

// APIConfig points at the token and recipe service.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// CheckpointConfig selects where paused sessions are kept.
type CheckpointConfig struct {
	Backend string        `yaml:"backend"` // "sqlite", "file"
	Path    string        `yaml:"path"`
	Prefix  string        `yaml:"prefix"`
	TTL     time.Duration `yaml:"ttl"`
}

// CaptureConfig holds camera constraints.
type CaptureConfig struct {
	Width         int        `yaml:"width"`
	Height        int        `yaml:"height"`
	FrameRate     float64    `yaml:"frame_rate"`
	DefaultFacing FacingMode `yaml:"default_facing"`
}

// SessionConfig tunes the cook session itself.
type SessionConfig struct {
	UserID           string        `yaml:"user_id"`
	UserName         string        `yaml:"user_name"`
	MaxTokenAttempts int           `yaml:"max_token_attempts"`
	RetryInterval    time.Duration `yaml:"retry_interval"`
	TickInterval     time.Duration `yaml:"tick_interval"`
	EndingDelay      time.Duration `yaml:"ending_delay"`
}

// ServerConfig configures `yeschef serve`.
type ServerConfig struct {
	Addr        string        `yaml:"addr"`
	APIKey      string        `yaml:"api_key"`
	APISecret   string        `yaml:"api_secret"`
	ServiceURL  string        `yaml:"service_url"`
	CatalogPath string        `yaml:"catalog_path"`
	TokenRPS    float64       `yaml:"token_rps"`
	TokenBurst  int           `yaml:"token_burst"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
}

// DefaultDataDir returns ~/.yeschef
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".yeschef"), nil
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	dataDir, err := DefaultDataDir()
	if err != nil {
		dataDir = ".yeschef"
	}
	return Config{
		API: APIConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 15 * time.Second,
		},
		Checkpoint: CheckpointConfig{
			Backend: "sqlite",
			Path:    filepath.Join(dataDir, "checkpoints.db"),
			Prefix:  DefaultCheckpointPrefix,
			TTL:     DefaultCheckpointTTL,
		},
		Capture: CaptureConfig{
			Width:         1280,
			Height:        720,
			FrameRate:     15,
			DefaultFacing: FacingEnvironment,
		},
		Session: SessionConfig{
			UserID:           "demo-user",
			UserName:         "Chef",
			MaxTokenAttempts: 3,
			RetryInterval:    time.Second,
			TickInterval:     time.Second,
			EndingDelay:      300 * time.Millisecond,
		},
		Server: ServerConfig{
			Addr:       ":8080",
			ServiceURL: "ws://localhost:8080/rtc",
			TokenRPS:   0.2,
			TokenBurst: 3,
			TokenTTL:   2 * time.Hour,
		},
	}
}

// LoadConfig reads path over the defaults and applies environment overrides.
// A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
			LogDebug("Loaded config from %s", path)
		case os.IsNotExist(err):
			LogDebug("No config file at %s, using defaults", path)
		default:
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv("YESCHEF_API_URL")); v != "" {
		cfg.API.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("YESCHEF_USER_ID")); v != "" {
		cfg.Session.UserID = v
	}
	if v := strings.TrimSpace(os.Getenv("YESCHEF_USER_NAME")); v != "" {
		cfg.Session.UserName = v
	}
	if v := strings.TrimSpace(os.Getenv("YESCHEF_STORE")); v != "" {
		cfg.Checkpoint.Backend = v
	}
	if v := strings.TrimSpace(os.Getenv("YESCHEF_STORE_PATH")); v != "" {
		cfg.Checkpoint.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("YESCHEF_CAMERA_FPS")); v != "" {
		fps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid YESCHEF_CAMERA_FPS %q: %w", v, err)
		}
		cfg.Capture.FrameRate = fps
	}
	if v := strings.TrimSpace(os.Getenv("LIVEKIT_API_KEY")); v != "" {
		cfg.Server.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("LIVEKIT_API_SECRET")); v != "" {
		cfg.Server.APISecret = v
	}
	if v := strings.TrimSpace(os.Getenv("LIVEKIT_URL")); v != "" {
		cfg.Server.ServiceURL = strings.TrimRight(v, "/")
	}
	return nil
}

// Validate checks the values the session depends on.
func (c Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url must be set")
	}
	switch c.Checkpoint.Backend {
	case "sqlite", "file", "memory":
	default:
		return fmt.Errorf("unsupported checkpoint backend: %s (supported: sqlite, file, memory)", c.Checkpoint.Backend)
	}
	if c.Checkpoint.TTL <= 0 {
		return fmt.Errorf("checkpoint.ttl must be positive")
	}
	if c.Capture.Width <= 0 || c.Capture.Height <= 0 || c.Capture.FrameRate <= 0 {
		return fmt.Errorf("capture width, height and frame_rate must be positive")
	}
	if !c.Capture.DefaultFacing.Valid() {
		return fmt.Errorf("capture.default_facing must be %q or %q", FacingEnvironment, FacingUser)
	}
	if c.Session.MaxTokenAttempts < 1 {
		return fmt.Errorf("session.max_token_attempts must be at least 1")
	}
	return nil
}

// CaptureOptions returns camera constraints for the given facing mode.
func (c CaptureConfig) CaptureOptions(facing FacingMode) CaptureOptions {
	return CaptureOptions{
		Width:      c.Width,
		Height:     c.Height,
		FrameRate:  c.FrameRate,
		FacingMode: facing,
	}
}
