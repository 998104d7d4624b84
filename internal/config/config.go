package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/downloadnotifier/downloadnotifier/internal/logger"
	"github.com/downloadnotifier/downloadnotifier/internal/tracker"
)

// Config holds all application configuration.
type Config struct {
	Monitor       MonitorConfig      `mapstructure:"monitor"`
	Detection     DetectionConfig    `mapstructure:"detection"`
	Resolver      ResolverConfig     `mapstructure:"resolver"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Notifications NotificationConfig `mapstructure:"notifications"`
}

// MonitorConfig selects what is watched.
type MonitorConfig struct {
	Paths           []string      `mapstructure:"paths"`
	Recursive       bool          `mapstructure:"recursive"`
	LockFile        string        `mapstructure:"lock_file"`
	SummaryInterval time.Duration `mapstructure:"summary_interval"`
}

// DetectionConfig holds the completion detection tunables.
type DetectionConfig struct {
	CheckInterval     time.Duration `mapstructure:"check_interval"`
	StableChecks      int           `mapstructure:"stable_checks"`
	SettleTime        time.Duration `mapstructure:"settle_time"`
	ConfirmDelay      time.Duration `mapstructure:"confirm_delay"`
	RequeueDelay      time.Duration `mapstructure:"requeue_delay"`
	ChatClientGrace   time.Duration `mapstructure:"chat_client_grace"`
	StopTimeout       time.Duration `mapstructure:"stop_timeout"`
	MinToleranceBytes int64         `mapstructure:"min_tolerance_bytes"`
	ToleranceRatio    float64       `mapstructure:"tolerance_ratio"`
	ExtraTempSuffixes []string      `mapstructure:"extra_temp_suffixes"`
}

// ResolverConfig enables expected-size strategies.
type ResolverConfig struct {
	Companion       bool           `mapstructure:"companion"`
	ChatClient      bool           `mapstructure:"chat_client"`
	ChatClientStore bool           `mapstructure:"chat_client_store"`
	Remote          bool           `mapstructure:"remote"`
	HTTPTimeout     time.Duration  `mapstructure:"http_timeout"`
	Sources         []SourceConfig `mapstructure:"sources"`
}

// SourceConfig maps a file, by path or bare name, to the URL it is
// downloaded from.
type SourceConfig struct {
	File string `mapstructure:"file"`
	URL  string `mapstructure:"url"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// NotificationConfig configures external completion notifiers.
type NotificationConfig struct {
	Workers int           `mapstructure:"workers"`
	Webhook WebhookConfig `mapstructure:"webhook"`
}

// WebhookConfig is the optional completion webhook. It is disabled while
// URL is empty.
type WebhookConfig struct {
	URL      string            `mapstructure:"url"`
	Method   string            `mapstructure:"method"`
	Username string            `mapstructure:"username"`
	Password string            `mapstructure:"password"`
	Headers  map[string]string `mapstructure:"headers"`
}

// Enabled reports whether a webhook URL is configured.
func (w WebhookConfig) Enabled() bool {
	return w.URL != ""
}

// Default returns a Config with default values.
func Default() *Config {
	d := tracker.DefaultConfig()
	return &Config{
		Monitor: MonitorConfig{
			Paths:           []string{ExpandHome(filepath.Join("~", "Downloads"))},
			Recursive:       true,
			LockFile:        defaultLockFile(),
			SummaryInterval: 30 * time.Second,
		},
		Detection: DetectionConfig{
			CheckInterval:     d.CheckInterval,
			StableChecks:      d.StableChecks,
			SettleTime:        d.SettleTime,
			ConfirmDelay:      d.ConfirmDelay,
			RequeueDelay:      d.RequeueDelay,
			ChatClientGrace:   d.ChatClientGrace,
			StopTimeout:       d.StopTimeout,
			MinToleranceBytes: d.MinToleranceBytes,
			ToleranceRatio:    d.ToleranceRatio,
		},
		Resolver: ResolverConfig{
			Companion:       true,
			ChatClient:      true,
			ChatClientStore: true,
			Remote:          true,
			HTTPTimeout:     5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "auto",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Notifications: NotificationConfig{
			Workers: 2,
			Webhook: WebhookConfig{Method: "POST"},
		},
	}
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.downloadnotifier")
	}

	v.SetEnvPrefix("DOWNLOADNOTIFIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Monitor.Paths = ParsePathList(strings.Join(cfg.Monitor.Paths, ","))
	cfg.Monitor.LockFile = ExpandHome(cfg.Monitor.LockFile)
	cfg.Logging.Path = ExpandHome(cfg.Logging.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("monitor.paths", d.Monitor.Paths)
	v.SetDefault("monitor.recursive", d.Monitor.Recursive)
	v.SetDefault("monitor.lock_file", d.Monitor.LockFile)
	v.SetDefault("monitor.summary_interval", d.Monitor.SummaryInterval)

	v.SetDefault("detection.check_interval", d.Detection.CheckInterval)
	v.SetDefault("detection.stable_checks", d.Detection.StableChecks)
	v.SetDefault("detection.settle_time", d.Detection.SettleTime)
	v.SetDefault("detection.confirm_delay", d.Detection.ConfirmDelay)
	v.SetDefault("detection.requeue_delay", d.Detection.RequeueDelay)
	v.SetDefault("detection.chat_client_grace", d.Detection.ChatClientGrace)
	v.SetDefault("detection.stop_timeout", d.Detection.StopTimeout)
	v.SetDefault("detection.min_tolerance_bytes", d.Detection.MinToleranceBytes)
	v.SetDefault("detection.tolerance_ratio", d.Detection.ToleranceRatio)
	v.SetDefault("detection.extra_temp_suffixes", []string{})

	v.SetDefault("resolver.companion", d.Resolver.Companion)
	v.SetDefault("resolver.chat_client", d.Resolver.ChatClient)
	v.SetDefault("resolver.chat_client_store", d.Resolver.ChatClientStore)
	v.SetDefault("resolver.remote", d.Resolver.Remote)
	v.SetDefault("resolver.http_timeout", d.Resolver.HTTPTimeout)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", false)

	v.SetDefault("notifications.workers", d.Notifications.Workers)
	v.SetDefault("notifications.webhook.url", "")
	v.SetDefault("notifications.webhook.method", d.Notifications.Webhook.Method)
	v.SetDefault("notifications.webhook.username", "")
	v.SetDefault("notifications.webhook.password", "")
}

// Validate rejects settings the detection core cannot run with.
func (c *Config) Validate() error {
	d := c.Detection
	if d.StableChecks < 2 {
		return fmt.Errorf("detection.stable_checks must be at least 2, got %d", d.StableChecks)
	}
	if d.ToleranceRatio < 0 || d.ToleranceRatio >= 1 {
		return fmt.Errorf("detection.tolerance_ratio must be in [0, 1), got %g", d.ToleranceRatio)
	}
	if d.MinToleranceBytes < 0 {
		return fmt.Errorf("detection.min_tolerance_bytes must not be negative")
	}
	for name, dur := range map[string]time.Duration{
		"check_interval":    d.CheckInterval,
		"settle_time":       d.SettleTime,
		"confirm_delay":     d.ConfirmDelay,
		"requeue_delay":     d.RequeueDelay,
		"chat_client_grace": d.ChatClientGrace,
		"stop_timeout":      d.StopTimeout,
	} {
		if dur < 0 {
			return fmt.Errorf("detection.%s must not be negative", name)
		}
	}

	if c.Monitor.SummaryInterval < 0 {
		return fmt.Errorf("monitor.summary_interval must not be negative")
	}
	if c.Notifications.Workers < 1 {
		return fmt.Errorf("notifications.workers must be at least 1")
	}

	switch strings.ToUpper(c.Notifications.Webhook.Method) {
	case "", "POST", "PUT":
	default:
		return fmt.Errorf("notifications.webhook.method must be POST or PUT, got %q", c.Notifications.Webhook.Method)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format must be auto, console or json, got %q", c.Logging.Format)
	}
	return nil
}

// TrackerConfig converts the detection section into tracker tunables.
func (d DetectionConfig) TrackerConfig() tracker.Config {
	return tracker.Config{
		CheckInterval:     d.CheckInterval,
		StableChecks:      d.StableChecks,
		SettleTime:        d.SettleTime,
		ConfirmDelay:      d.ConfirmDelay,
		RequeueDelay:      d.RequeueDelay,
		ChatClientGrace:   d.ChatClientGrace,
		StopTimeout:       d.StopTimeout,
		MinToleranceBytes: d.MinToleranceBytes,
		ToleranceRatio:    d.ToleranceRatio,
	}
}

// LoggerConfig converts the logging section for logger.New.
func (l LoggingConfig) LoggerConfig() logger.Config {
	return logger.Config{
		Level:      l.Level,
		Format:     l.Format,
		Path:       l.Path,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
	}
}

// SourceMap returns the configured sources keyed by file.
func (r ResolverConfig) SourceMap() map[string]string {
	out := make(map[string]string, len(r.Sources))
	for _, s := range r.Sources {
		if s.File == "" || s.URL == "" {
			continue
		}
		out[ExpandHome(s.File)] = s.URL
	}
	return out
}

// ParsePathList splits a comma-separated list of directories, trimming
// whitespace, dropping empty entries and expanding a leading "~".
func ParsePathList(s string) []string {
	var paths []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		paths = append(paths, ExpandHome(part))
	}
	return paths
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, `~\`) {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

func defaultLockFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "downloadnotifier", "watch.lock")
}
