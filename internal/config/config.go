package config

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/agentworkforce/readerstream/internal/reader"
)

//go:embed default_config.yaml
var defaultConfigFS embed.FS

type Logger interface {
	Printf(format string, args ...any)
}

type Config struct {
	BaseURL           string             `yaml:"base_url"`
	APIPrefix         string             `yaml:"api_prefix"`
	PushURL           string             `yaml:"push_url"`
	Token             string             `yaml:"token,omitempty"`
	TokenFile         string             `yaml:"token_file,omitempty"`
	PageSize          int                `yaml:"page_size"`
	SettleDelay       time.Duration      `yaml:"settle_delay"`
	ReconnectDelay    time.Duration      `yaml:"reconnect_delay"`
	RetryBaseDelay    time.Duration      `yaml:"retry_base_delay"`
	RetryMaxDelay     time.Duration      `yaml:"retry_max_delay"`
	MaxRetries        int                `yaml:"max_retries"`
	RequestsPerSecond float64            `yaml:"requests_per_second"`
	FormatCacheSize   int                `yaml:"format_cache_size"`
	LogLevel          string             `yaml:"log_level"`
	Preferences       reader.Preferences `yaml:"preferences"`
}

func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "readerstream", "config.yaml")
}

func Defaults() (*Config, error) {
	data, err := defaultConfigFS.ReadFile("default_config.yaml")
	if err != nil {
		return nil, fmt.Errorf("reading embedded config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded config: %w", err)
	}
	return &cfg, nil
}

// Load reads the YAML file at path over the embedded defaults. An empty path
// means the XDG location; a missing file leaves the defaults in place.
// Environment overrides are applied separately by ApplyEnv.
func Load(path string) (*Config, error) {
	cfg, err := Defaults()
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = DefaultConfigPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from READERSTREAM_* variables. Values that do not
// parse are logged and ignored.
func (c *Config) ApplyEnv(logger Logger) {
	c.BaseURL = envOrDefault("READERSTREAM_BASE_URL", c.BaseURL)
	c.PushURL = envOrDefault("READERSTREAM_PUSH_URL", c.PushURL)
	c.Token = envOrDefault("READERSTREAM_TOKEN", c.Token)
	c.TokenFile = envOrDefault("READERSTREAM_TOKEN_FILE", c.TokenFile)
	c.LogLevel = envOrDefault("READERSTREAM_LOG_LEVEL", c.LogLevel)
	c.PageSize = intEnv(logger, "READERSTREAM_PAGE_SIZE", c.PageSize)
	c.MaxRetries = intEnv(logger, "READERSTREAM_MAX_RETRIES", c.MaxRetries)
	c.SettleDelay = durationEnv(logger, "READERSTREAM_SETTLE_DELAY", c.SettleDelay)
	c.ReconnectDelay = durationEnv(logger, "READERSTREAM_RECONNECT_DELAY", c.ReconnectDelay)
}

func (c *Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.BaseURL))
	if err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base_url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("base_url %q has no host", c.BaseURL)
	}
	if c.PushURL != "" {
		p, err := url.Parse(c.PushURL)
		if err != nil {
			return fmt.Errorf("push_url: %w", err)
		}
		if p.Scheme != "ws" && p.Scheme != "wss" && p.Scheme != "http" && p.Scheme != "https" {
			return fmt.Errorf("push_url scheme must be ws, wss, http or https, got %q", p.Scheme)
		}
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive, got %d", c.PageSize)
	}
	if c.SettleDelay < 0 || c.ReconnectDelay < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	}
	return nil
}

// ResolvedPushURL returns the push endpoint, derived from the base URL when
// none is configured.
func (c *Config) ResolvedPushURL() string {
	if strings.TrimSpace(c.PushURL) != "" {
		return strings.TrimSpace(c.PushURL)
	}
	u, err := url.Parse(strings.TrimSpace(c.BaseURL))
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + strings.TrimRight(c.APIPrefix, "/") + "/push"
	return u.String()
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(logger Logger, name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		logf(logger, "invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(logger Logger, name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		logf(logger, "invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func logf(logger Logger, format string, args ...any) {
	if logger == nil {
		return
	}
	logger.Printf(format, args...)
}
