package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port         int
	MasterSecret string
	GinMode      string
	TLSCertFile  string
	TLSKeyFile   string
	TokenExpiry  time.Duration

	// Storage. Empty RedisAddr selects the in-memory stores; EventsStateFile
	// then enables snapshot persistence for SOS events.
	RedisAddr       string
	RedisDB         int
	EventsStateFile string

	// Dispatch tuning.
	ReplayWindow  time.Duration
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	NotifyTimeout time.Duration

	// Optional HTTP notification sink endpoint. Empty means the log sink.
	SinkURL string
}

// fileConfig is the optional YAML file shape (GUARDIAN_CONFIG). Environment
// variables override anything set here.
type fileConfig struct {
	Port            int    `yaml:"port,omitempty"`
	GinMode         string `yaml:"gin_mode,omitempty"`
	RedisAddr       string `yaml:"redis_addr,omitempty"`
	RedisDB         int    `yaml:"redis_db,omitempty"`
	EventsStateFile string `yaml:"events_state_file,omitempty"`
	ReplayWindow    string `yaml:"replay_window,omitempty"`
	MaxAttempts     int    `yaml:"max_attempts,omitempty"`
	BackoffBase     string `yaml:"backoff_base,omitempty"`
	BackoffCap      string `yaml:"backoff_cap,omitempty"`
	NotifyTimeout   string `yaml:"notify_timeout,omitempty"`
	SinkURL         string `yaml:"sink_url,omitempty"`
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

func LoadConfig() (Config, error) {
	return LoadConfigFromEnv(osEnv{})
}

func LoadConfigFromEnv(env Env) (Config, error) {
	cfg := Config{
		Port:          3000,
		GinMode:       "release",
		TokenExpiry:   7 * 24 * time.Hour,
		ReplayWindow:  5 * time.Minute,
		MaxAttempts:   5,
		BackoffBase:   time.Second,
		BackoffCap:    60 * time.Second,
		NotifyTimeout: 10 * time.Second,
	}

	if path := env.Getenv("GUARDIAN_CONFIG"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if raw := env.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid PORT")
		}
		cfg.Port = port
	}

	cfg.MasterSecret = env.Getenv("MASTER_SECRET")
	if cfg.MasterSecret == "" {
		return Config{}, fmt.Errorf("MASTER_SECRET is required")
	}

	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}

	cfg.TLSCertFile = env.Getenv("TLS_CERT_FILE")
	cfg.TLSKeyFile = env.Getenv("TLS_KEY_FILE")

	if raw := env.Getenv("TOKEN_EXPIRY_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("invalid TOKEN_EXPIRY_SECONDS")
		}
		cfg.TokenExpiry = time.Duration(seconds) * time.Second
	}

	if raw := env.Getenv("REDIS_ADDR"); raw != "" {
		cfg.RedisAddr = raw
	}
	if raw := env.Getenv("REDIS_DB"); raw != "" {
		db, err := strconv.Atoi(raw)
		if err != nil || db < 0 {
			return Config{}, fmt.Errorf("invalid REDIS_DB")
		}
		cfg.RedisDB = db
	}
	if raw := env.Getenv("EVENTS_STATE_FILE"); raw != "" {
		cfg.EventsStateFile = raw
	}
	if raw := env.Getenv("SINK_URL"); raw != "" {
		cfg.SinkURL = raw
	}

	if err := overrideDuration(env, "REPLAY_WINDOW", &cfg.ReplayWindow); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(env, "BACKOFF_BASE", &cfg.BackoffBase); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(env, "BACKOFF_CAP", &cfg.BackoffCap); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(env, "NOTIFY_TIMEOUT", &cfg.NotifyTimeout); err != nil {
		return Config{}, err
	}
	if raw := env.Getenv("MAX_ATTEMPTS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid MAX_ATTEMPTS")
		}
		cfg.MaxAttempts = n
	}

	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}

	if fc.Port != 0 {
		if fc.Port < 0 || fc.Port > 65535 {
			return fmt.Errorf("config file %s: invalid port", path)
		}
		cfg.Port = fc.Port
	}
	if fc.GinMode != "" {
		cfg.GinMode = fc.GinMode
	}
	cfg.RedisAddr = fc.RedisAddr
	cfg.RedisDB = fc.RedisDB
	if fc.EventsStateFile != "" {
		cfg.EventsStateFile = fc.EventsStateFile
	}
	if fc.MaxAttempts != 0 {
		if fc.MaxAttempts < 0 {
			return fmt.Errorf("config file %s: invalid max_attempts", path)
		}
		cfg.MaxAttempts = fc.MaxAttempts
	}
	if fc.SinkURL != "" {
		cfg.SinkURL = fc.SinkURL
	}

	for _, d := range []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{fc.ReplayWindow, &cfg.ReplayWindow, "replay_window"},
		{fc.BackoffBase, &cfg.BackoffBase, "backoff_base"},
		{fc.BackoffCap, &cfg.BackoffCap, "backoff_cap"},
		{fc.NotifyTimeout, &cfg.NotifyTimeout, "notify_timeout"},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil || parsed <= 0 {
			return fmt.Errorf("config file %s: invalid %s", path, d.name)
		}
		*d.dst = parsed
	}

	return nil
}

func overrideDuration(env Env, key string, dst *time.Duration) error {
	raw := env.Getenv(key)
	if raw == "" {
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fmt.Errorf("invalid %s", key)
	}
	*dst = parsed
	return nil
}
