// Package config provides configuration loading for zaibridge.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/roelfdiedericks/zaibridge/internal/browser"
	"github.com/roelfdiedericks/zaibridge/internal/logging"
	"github.com/roelfdiedericks/zaibridge/internal/paths"
)

// Thinking output modes
const (
	ThinkingInline    = "inline"    // prefix thinking text with a marker, in content
	ThinkingReasoning = "reasoning" // emit as reasoning_content
	ThinkingDrop      = "drop"      // discard thinking text
)

// Config is the root of zaibridge.json / .toml / .yaml
type Config struct {
	Listen   string `json:"listen" toml:"listen" yaml:"listen"`       // HTTP listen address
	APIKey   string `json:"apiKey" toml:"apiKey" yaml:"apiKey"`       // Optional bearer key for the HTTP API
	Model    string `json:"model" toml:"model" yaml:"model"`          // Model name reported in chunks
	Thinking string `json:"thinking" toml:"thinking" yaml:"thinking"` // inline | reasoning | drop
	LogLevel string `json:"logLevel" toml:"logLevel" yaml:"logLevel"` // trace | debug | info | warn | error

	Site     SiteConfig            `json:"site" toml:"site" yaml:"site"`
	Browser  browser.BrowserConfig `json:"browser" toml:"browser" yaml:"browser"`
	Timeouts TimeoutConfig         `json:"timeouts" toml:"timeouts" yaml:"timeouts"`
	Login    LoginConfig           `json:"login" toml:"login" yaml:"login"`
}

// SiteConfig describes the target chat site
type SiteConfig struct {
	URL            string   `json:"url" toml:"url" yaml:"url"`                                  // Chat page URL
	CompletionPath string   `json:"completionPath" toml:"completionPath" yaml:"completionPath"` // Internal endpoint the page streams from
	InputSelector  string   `json:"inputSelector" toml:"inputSelector" yaml:"inputSelector"`    // CSS selector of the prompt box
	BodyMode       string   `json:"bodyMode" toml:"bodyMode" yaml:"bodyMode"`                   // "stream" or "buffered"
	CookieURLs     []string `json:"cookieURLs" toml:"cookieURLs" yaml:"cookieURLs"`             // URLs whose cookies make up the credential
	CookieDomain   string   `json:"cookieDomain" toml:"cookieDomain" yaml:"cookieDomain"`       // Cookies with this domain are kept
	TokenCookies   []string `json:"tokenCookies" toml:"tokenCookies" yaml:"tokenCookies"`       // Any of these marks a logged-in session
}

// TimeoutConfig holds request timeouts as duration strings ("10s", "3m")
type TimeoutConfig struct {
	Navigation string `json:"navigation" toml:"navigation" yaml:"navigation"`
	Input      string `json:"input" toml:"input" yaml:"input"`
	Response   string `json:"response" toml:"response" yaml:"response"`
	Read       string `json:"read" toml:"read" yaml:"read"`
}

// LoginConfig controls login polling
type LoginConfig struct {
	Interval    string `json:"interval" toml:"interval" yaml:"interval"`          // Initial poll interval
	MaxInterval string `json:"maxInterval" toml:"maxInterval" yaml:"maxInterval"` // Backoff ceiling
	MaxAttempts int    `json:"maxAttempts" toml:"maxAttempts" yaml:"maxAttempts"`
	Refresh     string `json:"refresh" toml:"refresh" yaml:"refresh"` // Cron spec for re-reading cookies while serving, empty disables
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Listen:   "127.0.0.1:3379",
		Model:    "glm-5",
		Thinking: ThinkingInline,
		LogLevel: "info",
		Site: SiteConfig{
			URL:            "https://chat.z.ai",
			CompletionPath: "/api/v2/chat/completions",
			InputSelector:  `textarea, [contenteditable="true"], div[role="textbox"]`,
			BodyMode:       "stream",
			CookieURLs:     []string{"https://chat.z.ai", "https://z.ai"},
			CookieDomain:   "z.ai",
			TokenCookies:   []string{"token", "oauth_id_token"},
		},
		Browser: browser.DefaultBrowserConfig(),
		Timeouts: TimeoutConfig{
			Navigation: "30s",
			Input:      "10s",
			Response:   "3m",
			Read:       "10m",
		},
		Login: LoginConfig{
			Interval:    "1s",
			MaxInterval: "5s",
			MaxAttempts: 150,
			Refresh:     "@every 30m",
		},
	}
}

// Load reads configuration from path, or from the default lookup locations
// when path is empty. A missing config file is not an error.
// File values are decoded over the defaults, so absent keys keep their default.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		found, err := paths.ConfigPath()
		if err != nil {
			return nil, err
		}
		path = found
	} else {
		expanded, err := paths.ExpandTilde(path)
		if err != nil {
			return nil, err
		}
		path = expanded
	}

	if path == "" {
		logging.L_debug("config: no config file found, using defaults")
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	logging.L_debug("config: loaded", "path", path)
	return cfg, cfg.Validate()
}

// ApplyOverrides merges non-empty values from overrides (CLI flags) into c.
func (c *Config) ApplyOverrides(overrides Config) error {
	if err := mergo.Merge(c, overrides, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to apply overrides: %w", err)
	}
	return c.Validate()
}

// Validate checks values that would otherwise fail late at request time
func (c *Config) Validate() error {
	if c.Site.URL == "" {
		return fmt.Errorf("site.url is required")
	}
	if c.Site.CompletionPath == "" {
		return fmt.Errorf("site.completionPath is required")
	}
	switch c.Site.BodyMode {
	case "stream", "buffered":
	default:
		return fmt.Errorf("site.bodyMode must be \"stream\" or \"buffered\", got %q", c.Site.BodyMode)
	}
	switch c.Thinking {
	case ThinkingInline, ThinkingReasoning, ThinkingDrop:
	default:
		return fmt.Errorf("thinking must be inline, reasoning or drop, got %q", c.Thinking)
	}
	if c.Browser.Port <= 0 || c.Browser.Port > 65535 {
		return fmt.Errorf("browser.port out of range: %d", c.Browser.Port)
	}
	if c.Login.MaxAttempts <= 0 {
		return fmt.Errorf("login.maxAttempts must be positive")
	}
	return nil
}

// ResolveDuration parses s, returning def when s is empty or invalid.
func ResolveDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		logging.L_warn("config: invalid duration, using default", "value", s, "default", def)
		return def
	}
	return d
}

// NavigationTimeout returns the page settle bound
func (t TimeoutConfig) NavigationTimeout() time.Duration {
	return ResolveDuration(t.Navigation, 30*time.Second)
}

// InputTimeout returns the input surface wait bound
func (t TimeoutConfig) InputTimeout() time.Duration {
	return ResolveDuration(t.Input, 10*time.Second)
}

// ResponseTimeout returns the bound on waiting for the reply to start
func (t TimeoutConfig) ResponseTimeout() time.Duration {
	return ResolveDuration(t.Response, 3*time.Minute)
}

// ReadTimeout returns the bound on reading the whole reply body
func (t TimeoutConfig) ReadTimeout() time.Duration {
	return ResolveDuration(t.Read, 10*time.Minute)
}

// PollInterval returns the initial login poll interval
func (l LoginConfig) PollInterval() time.Duration {
	return ResolveDuration(l.Interval, time.Second)
}

// PollMaxInterval returns the login poll backoff ceiling
func (l LoginConfig) PollMaxInterval() time.Duration {
	return ResolveDuration(l.MaxInterval, 5*time.Second)
}
