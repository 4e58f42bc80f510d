// Package config loads trafficlight settings from INI files with embedded defaults.
// lookup order is embedded defaults, then the global config dir, then a local .trafficlight dir
// in the working directory; later sources override earlier ones key by key.
package config

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/umputun/trafficlight/pkg/notify"
	"github.com/umputun/trafficlight/pkg/signal"
)

//go:embed defaults/config
var defaultsFS embed.FS

// localDirName is the per-project config directory looked up in the working directory.
const localDirName = ".trafficlight"

// Config holds the merged configuration.
type Config struct {
	Values

	configDir string // global config dir, defaults installed here
	localDir  string // local override dir, empty if none
}

// Load reads configuration from configDir (DefaultConfigDir if empty) and the local
// .trafficlight dir if it exists. defaults are installed into configDir on first run.
func Load(configDir string) (*Config, error) {
	localDir := ""
	if st, err := os.Stat(localDirName); err == nil && st.IsDir() {
		localDir = localDirName
	}
	return loadWithLocal(configDir, localDir)
}

// loadWithLocal loads configuration with an explicit local dir, empty localDir skips local overrides.
func loadWithLocal(configDir, localDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	if err := newDefaultsInstaller(defaultsFS).Install(configDir); err != nil {
		return nil, fmt.Errorf("install defaults: %w", err)
	}

	cfg := &Config{configDir: configDir, localDir: localDir}
	values, err := newValuesLoader(defaultsFS).Load(cfg.localConfigPath(), cfg.globalConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load values: %w", err)
	}
	if err := values.Validate(); err != nil {
		return nil, err
	}
	cfg.Values = values
	return cfg, nil
}

// DefaultConfigDir returns ~/.config/trafficlight, or a relative fallback if the home dir is unknown.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "trafficlight")
	}
	return filepath.Join(home, ".config", "trafficlight")
}

// ConfigDir returns the global config directory.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// LocalDir returns the local override directory, empty if none is used.
func (c *Config) LocalDir() string {
	return c.localDir
}

// Reload re-reads all config sources and returns the validated values without modifying c.
func (c *Config) Reload() (Values, error) {
	values, err := newValuesLoader(defaultsFS).Load(c.localConfigPath(), c.globalConfigPath())
	if err != nil {
		return Values{}, fmt.Errorf("reload values: %w", err)
	}
	if err := values.Validate(); err != nil {
		return Values{}, err
	}
	return values, nil
}

// SignalConfig returns a signal template built from the values. ID is left empty.
func (c *Config) SignalConfig() signal.Config {
	return signal.Config{
		MinCycle: c.CycleMin,
		MaxCycle: c.CycleMax,
		Quantum:  c.Quantum,
		Unit:     c.TimeUnit,
		Seed:     c.Seed,
	}
}

// NotifyParams returns notification parameters built from the values.
func (c *Config) NotifyParams() notify.Params {
	return notify.Params{
		Channels:      c.NotifyChannels,
		OnError:       c.NotifyOnError,
		OnComplete:    c.NotifyOnComplete,
		TimeoutMs:     c.NotifyTimeoutMs,
		TelegramToken: c.NotifyTelegramToken,
		TelegramChat:  c.NotifyTelegramChat,
		SlackToken:    c.NotifySlackToken,
		SlackChannel:  c.NotifySlackChannel,
		SMTPHost:      c.NotifySMTPHost,
		SMTPPort:      c.NotifySMTPPort,
		SMTPUsername:  c.NotifySMTPUsername,
		SMTPPassword:  c.NotifySMTPPassword,
		SMTPStartTLS:  c.NotifySMTPStartTLS,
		EmailFrom:     c.NotifyEmailFrom,
		EmailTo:       c.NotifyEmailTo,
		WebhookURLs:   c.NotifyWebhookURLs,
		CustomScript:  c.NotifyCustomScript,
	}
}

func (c *Config) globalConfigPath() string {
	return filepath.Join(c.configDir, "config")
}

func (c *Config) localConfigPath() string {
	if c.localDir == "" {
		return ""
	}
	return filepath.Join(c.localDir, "config")
}

// Validate checks merged values for consistency.
func (v Values) Validate() error {
	var errs []error
	if v.CycleMin <= 0 {
		errs = append(errs, fmt.Errorf("invalid cycle_min: must be positive, got %d", v.CycleMin))
	}
	if v.CycleMax < v.CycleMin {
		errs = append(errs, fmt.Errorf("invalid cycle_max: %d is below cycle_min %d", v.CycleMax, v.CycleMin))
	}
	if v.Quantum <= 0 {
		errs = append(errs, fmt.Errorf("invalid quantum: must be positive, got %d", v.Quantum))
	}
	if v.TimeUnit <= 0 {
		errs = append(errs, fmt.Errorf("invalid time_unit: must be positive, got %s", v.TimeUnit))
	} else {
		limit := signal.MaxUnits(v.TimeUnit)
		if v.CycleMax > limit {
			errs = append(errs, fmt.Errorf("invalid cycle_max: %d x %s overflows a duration", v.CycleMax, v.TimeUnit))
		}
		if v.Quantum > limit {
			errs = append(errs, fmt.Errorf("invalid quantum: %d x %s overflows a duration", v.Quantum, v.TimeUnit))
		}
	}
	if v.Signals < 1 {
		errs = append(errs, fmt.Errorf("invalid signals: must be at least 1, got %d", v.Signals))
	}
	if v.Waiters < 0 {
		errs = append(errs, fmt.Errorf("invalid waiters: must be non-negative, got %d", v.Waiters))
	}
	return errors.Join(errs...)
}

// stripComments removes lines starting with # (comment lines) from content.
// empty lines are preserved, inline comments are not supported.
// handles both Unix (LF) and Windows (CRLF) line endings.
func stripComments(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")

	lines := make([]string, 0, strings.Count(content, "\n")+1)
	for line := range strings.SplitSeq(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// parseDuration accepts Go duration strings ("1ms", "250us").
func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return d, nil
}
