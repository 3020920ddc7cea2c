// Package config loads service configuration from defaults, an optional YAML
// file, a .env file and environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full verdictd configuration. Empty Redis, NATS or Database
// settings disable the matching integration.
type Config struct {
	Server struct {
		ListenAddr      string        `yaml:"listen_addr"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		// TrustedProxies lists CIDRs or addresses whose forwarding headers
		// are believed. Empty means the peer address is always used.
		TrustedProxies []string `yaml:"trusted_proxies"`
	} `yaml:"server"`
	Redis struct {
		Addr string `yaml:"addr"`
	} `yaml:"redis"`
	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Upstream struct {
		BaseURL         string        `yaml:"base_url"`
		APIKey          string        `yaml:"api_key"`
		Model           string        `yaml:"model"`
		ModerationModel string        `yaml:"moderation_model"`
		LanguageModel   string        `yaml:"language_model"`
		Timeout         time.Duration `yaml:"timeout"`
		RPS             float64       `yaml:"rps"`
		Burst           int           `yaml:"burst"`
	} `yaml:"upstream"`
	RateLimit struct {
		Limit  int           `yaml:"limit"`
		Window time.Duration `yaml:"window"`
	} `yaml:"rate_limit"`
	Moderation struct {
		FailOpen bool `yaml:"fail_open"`
	} `yaml:"moderation"`
	Language struct {
		Target   string `yaml:"target"`
		FailOpen bool   `yaml:"fail_open"`
	} `yaml:"language"`
	Share struct {
		ShortlinkURL   string `yaml:"shortlink_url"`
		ShortlinkToken string `yaml:"shortlink_token"`
		PublicBaseURL  string `yaml:"public_base_url"`
	} `yaml:"share"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	var c Config
	c.Server.ListenAddr = ":8080"
	c.Server.WriteTimeout = 90 * time.Second
	c.Server.ShutdownTimeout = 15 * time.Second
	c.Upstream.BaseURL = "https://api.openai.com/v1"
	c.Upstream.Model = "gpt-4o-mini"
	c.Upstream.Timeout = 20 * time.Second
	c.Upstream.RPS = 10
	c.Upstream.Burst = 20
	c.RateLimit.Limit = 30
	c.RateLimit.Window = 24 * time.Hour
	c.Language.Target = "en"
	c.Language.FailOpen = true
	c.Share.PublicBaseURL = "http://localhost:8080"
	c.Log.Level = "info"
	return &c
}

// Load builds the configuration. path may be empty; a named file that does
// not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config: file not found: %s", path)
			}
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := ApplyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays environment variables read through getenv onto cfg.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("LISTEN_ADDR", &cfg.Server.ListenAddr)
	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("NATS_URL", &cfg.NATS.URL)
	str("DATABASE_URL", &cfg.Database.URL)
	str("LLM_BASE_URL", &cfg.Upstream.BaseURL)
	str("LLM_API_KEY", &cfg.Upstream.APIKey)
	str("LLM_MODEL", &cfg.Upstream.Model)
	str("MODERATION_MODEL", &cfg.Upstream.ModerationModel)
	str("LANGUAGE_MODEL", &cfg.Upstream.LanguageModel)
	str("SHORTLINK_URL", &cfg.Share.ShortlinkURL)
	str("SHORTLINK_TOKEN", &cfg.Share.ShortlinkToken)
	str("PUBLIC_BASE_URL", &cfg.Share.PublicBaseURL)
	str("LOG_LEVEL", &cfg.Log.Level)

	if v := strings.TrimSpace(getenv("TRUSTED_PROXIES")); v != "" {
		cfg.Server.TrustedProxies = strings.Split(v, ",")
	}
	if v := strings.TrimSpace(getenv("RATE_LIMIT")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: RATE_LIMIT: %w", err)
		}
		cfg.RateLimit.Limit = n
	}
	if v := strings.TrimSpace(getenv("RATE_WINDOW")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: RATE_WINDOW: %w", err)
		}
		cfg.RateLimit.Window = d
	}
	if v := strings.TrimSpace(getenv("UPSTREAM_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: UPSTREAM_TIMEOUT: %w", err)
		}
		cfg.Upstream.Timeout = d
	}
	return nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if c.Upstream.BaseURL == "" {
		errs = append(errs, errors.New("upstream.base_url is required"))
	}
	if c.Upstream.Model == "" {
		errs = append(errs, errors.New("upstream.model is required"))
	}
	if c.Upstream.Timeout <= 0 {
		errs = append(errs, errors.New("upstream.timeout must be positive"))
	}
	if c.RateLimit.Limit <= 0 {
		errs = append(errs, errors.New("rate_limit.limit must be positive"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit.window must be positive"))
	}
	for _, p := range c.Server.TrustedProxies {
		if p = strings.TrimSpace(p); p != "" && !validProxy(p) {
			errs = append(errs, fmt.Errorf("server.trusted_proxies: invalid entry %q", p))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func validProxy(v string) bool {
	if strings.Contains(v, "/") {
		_, err := netip.ParsePrefix(v)
		return err == nil
	}
	_, err := netip.ParseAddr(v)
	return err == nil
}

// ModerationModel returns the model used for moderation, defaulting to the
// generation model.
func (c *Config) ModerationModel() string {
	if c.Upstream.ModerationModel != "" {
		return c.Upstream.ModerationModel
	}
	return c.Upstream.Model
}

// LanguageModel returns the model used for detection and translation,
// defaulting to the generation model.
func (c *Config) LanguageModel() string {
	if c.Upstream.LanguageModel != "" {
		return c.Upstream.LanguageModel
	}
	return c.Upstream.Model
}
