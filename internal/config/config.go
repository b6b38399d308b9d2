package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/eraser-privacy/unsubscribe-sidecar/internal/browser"
	"github.com/eraser-privacy/unsubscribe-sidecar/internal/unsubscribe"
)

// EnvPrefix namespaces environment overrides, e.g. UNSUB_LOGGER_LEVEL.
const EnvPrefix = "UNSUB"

func checkFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %04o; should be 0600", path, perm)
	}
	return nil
}

type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Heuristics HeuristicsConfig `mapstructure:"heuristics" yaml:"heuristics"`
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	History    HistoryConfig    `mapstructure:"history" yaml:"history"`
}

// ServerConfig holds the HTTP surface settings
type ServerConfig struct {
	Host  string `mapstructure:"host" yaml:"host"`
	Port  int    `mapstructure:"port" yaml:"port"`
	Token string `mapstructure:"token" yaml:"token"`
	// Allowlist restricts target hosts; empty allows any host.
	Allowlist      []string      `mapstructure:"allowlist" yaml:"allowlist"`
	MaxSessions    int           `mapstructure:"max_sessions" yaml:"max_sessions"`
	RateLimit      int           `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateWindow     time.Duration `mapstructure:"rate_window" yaml:"rate_window"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BrowserConfig holds Chrome launch settings and the bounded waits of a run
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
	NoSandbox         bool          `mapstructure:"no_sandbox" yaml:"no_sandbox"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	SettleWait        time.Duration `mapstructure:"settle_wait" yaml:"settle_wait"`
	ControlTimeout    time.Duration `mapstructure:"control_timeout" yaml:"control_timeout"`
	LabelVerifyWait   time.Duration `mapstructure:"label_verify_wait" yaml:"label_verify_wait"`
	InteractionWait   time.Duration `mapstructure:"interaction_wait" yaml:"interaction_wait"`
	SelectorWait      time.Duration `mapstructure:"selector_wait" yaml:"selector_wait"`
	NavigationWait    time.Duration `mapstructure:"navigation_wait" yaml:"navigation_wait"`
}

type HeuristicsConfig struct {
	CategoryThreshold       int    `mapstructure:"category_threshold" yaml:"category_threshold"`
	MinPreferenceCheckboxes int    `mapstructure:"min_preference_checkboxes" yaml:"min_preference_checkboxes"`
	DictionaryFile          string `mapstructure:"dictionary_file" yaml:"dictionary_file"`
	FillerPhrase            string `mapstructure:"filler_phrase" yaml:"filler_phrase"`
}

type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// HistoryConfig controls the local run ledger
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// SetDefaults initializes default values for every key.
func SetDefaults(v *viper.Viper) {
	// -- Server --
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.token", "")
	v.SetDefault("server.allowlist", []string{})
	v.SetDefault("server.max_sessions", 2)
	v.SetDefault("server.rate_limit", 30)
	v.SetDefault("server.rate_window", "1m")
	v.SetDefault("server.request_timeout", "3m")

	// -- Browser --
	b := browser.DefaultConfig()
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_agent", b.UserAgent)
	v.SetDefault("browser.window_width", b.WindowWidth)
	v.SetDefault("browser.window_height", b.WindowHeight)
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.settle_wait", "2s")
	v.SetDefault("browser.control_timeout", "5s")
	v.SetDefault("browser.label_verify_wait", "500ms")
	v.SetDefault("browser.interaction_wait", "1s")
	v.SetDefault("browser.selector_wait", "3s")
	v.SetDefault("browser.navigation_wait", "3s")

	// -- Heuristics --
	v.SetDefault("heuristics.category_threshold", 2)
	v.SetDefault("heuristics.min_preference_checkboxes", 2)
	v.SetDefault("heuristics.dictionary_file", "")
	v.SetDefault("heuristics.filler_phrase", "No longer needed")

	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "unsubscribe-sidecar")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- History --
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.path", "")
}

// BindEnv maps the deployment environment variables onto config keys and
// enables UNSUB_-prefixed overrides for everything else.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("server.port", "PORT", EnvPrefix+"_SERVER_PORT")
	_ = v.BindEnv("server.token", "INTERNAL_TOKEN", EnvPrefix+"_SERVER_TOKEN")
	_ = v.BindEnv("server.allowlist", "ALLOWLIST_DOMAINS", EnvPrefix+"_SERVER_ALLOWLIST")
}

// NewDefaultConfig returns the configuration with every default applied.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper decodes and validates v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Server.Allowlist = normalizeDomains(cfg.Server.Allowlist)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Load reads path, if given, over the defaults and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)

	if path != "" {
		if err := checkFilePermissions(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "WARNING: %v\n", err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return NewConfigFromViper(v)
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".unsubscribe-sidecar", "config.yaml")
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Server.MaxSessions <= 0 {
		return fmt.Errorf("server.max_sessions must be a positive integer")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}
	if c.Heuristics.CategoryThreshold <= 0 {
		return fmt.Errorf("heuristics.category_threshold must be a positive integer")
	}
	if c.Heuristics.MinPreferenceCheckboxes <= 0 {
		return fmt.Errorf("heuristics.min_preference_checkboxes must be a positive integer")
	}
	if c.Browser.NavigationTimeout <= 0 || c.Browser.ControlTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout and browser.control_timeout must be positive")
	}
	switch c.Logger.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logger.format: unknown format %q (json or console)", c.Logger.Format)
	}
	return nil
}

// ValidateServer validates what serving over HTTP additionally needs.
func (c *Config) ValidateServer() error {
	if c.Server.Token == "" {
		return fmt.Errorf("server.token is required; set INTERNAL_TOKEN")
	}
	return nil
}

// LaunchConfig is the chromedp side of the browser section.
func (c *Config) LaunchConfig() browser.Config {
	return browser.Config{
		Headless:     c.Browser.Headless,
		ExecPath:     c.Browser.ExecPath,
		UserAgent:    c.Browser.UserAgent,
		WindowWidth:  c.Browser.WindowWidth,
		WindowHeight: c.Browser.WindowHeight,
		NoSandbox:    c.Browser.NoSandbox,
	}
}

// RunnerConfig is the pipeline side of the browser and heuristics sections.
func (c *Config) RunnerConfig() unsubscribe.Config {
	rc := unsubscribe.DefaultConfig()
	rc.NavigationTimeout = c.Browser.NavigationTimeout
	rc.SettleWait = c.Browser.SettleWait
	rc.ControlTimeout = c.Browser.ControlTimeout
	rc.LabelVerifyWait = c.Browser.LabelVerifyWait
	rc.InteractionWait = c.Browser.InteractionWait
	rc.SelectorWait = c.Browser.SelectorWait
	rc.NavigationWait = c.Browser.NavigationWait
	rc.Policy = unsubscribe.Policy{
		CategoryThreshold:       c.Heuristics.CategoryThreshold,
		MinPreferenceCheckboxes: c.Heuristics.MinPreferenceCheckboxes,
	}
	if c.Heuristics.FillerPhrase != "" {
		rc.FillerPhrase = c.Heuristics.FillerPhrase
	}
	return rc
}

func normalizeDomains(in []string) []string {
	var out []string
	for _, d := range in {
		for _, part := range strings.Split(d, ",") {
			part = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(part)), "www.")
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
