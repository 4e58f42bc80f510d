package config

import (
	"embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// Values holds scalar configuration values.
// Fields ending in *Set (e.g., WaitersSet) track whether that field was explicitly
// set in config. This allows distinguishing explicit false/0 from "not set", enabling
// proper merge behavior where local config can override global config with zero values.
type Values struct {
	// signal timing
	CycleMin int64         // shortest cycle between toggles, in time units
	CycleMax int64         // longest cycle between toggles, in time units
	Quantum  int64         // timer check and publish interval, in time units
	TimeUnit time.Duration // length of one time unit
	Seed     uint64        // cycle draw seed, 0 seeds from the clock
	SeedSet  bool          // tracks if seed was explicitly set

	// harness
	Signals    int  // number of signals the runner creates
	Waiters    int  // number of goroutines waiting for green
	WaitersSet bool // tracks if waiters was explicitly set

	// notifications
	NotifyChannels        []string
	NotifyOnError         bool
	NotifyOnErrorSet      bool // tracks if notify_on_error was explicitly set
	NotifyOnComplete      bool
	NotifyOnCompleteSet   bool // tracks if notify_on_complete was explicitly set
	NotifyTimeoutMs       int
	NotifyTimeoutMsSet    bool // tracks if notify_timeout_ms was explicitly set
	NotifyTelegramToken   string
	NotifyTelegramChat    string
	NotifySlackToken      string
	NotifySlackChannel    string
	NotifySMTPHost        string
	NotifySMTPPort        int
	NotifySMTPUsername    string
	NotifySMTPPassword    string
	NotifySMTPStartTLS    bool
	NotifySMTPStartTLSSet bool // tracks if notify_smtp_starttls was explicitly set
	NotifyEmailFrom       string
	NotifyEmailTo         []string
	NotifyWebhookURLs     []string
	NotifyCustomScript    string
}

// valuesLoader implements loading of Values with embedded filesystem fallback.
type valuesLoader struct {
	embedFS embed.FS
}

// newValuesLoader creates a new valuesLoader with the given embedded filesystem.
func newValuesLoader(embedFS embed.FS) *valuesLoader {
	return &valuesLoader{embedFS: embedFS}
}

// Load loads values from config files with fallback chain: local → global → embedded.
// localConfigPath and globalConfigPath are full paths to config files (not directories).
func (vl *valuesLoader) Load(localConfigPath, globalConfigPath string) (Values, error) {
	// start with embedded defaults
	embedded, err := vl.parseValuesFromEmbedded()
	if err != nil {
		return Values{}, fmt.Errorf("parse embedded defaults: %w", err)
	}

	// parse global config if exists
	global, err := vl.parseValuesFromFile(globalConfigPath)
	if err != nil {
		return Values{}, fmt.Errorf("parse global config: %w", err)
	}

	// parse local config if exists
	local, err := vl.parseValuesFromFile(localConfigPath)
	if err != nil {
		return Values{}, fmt.Errorf("parse local config: %w", err)
	}

	// merge: embedded → global → local (local wins)
	result := embedded
	result.mergeFrom(&global)
	result.mergeFrom(&local)

	return result, nil
}

// parseValuesFromFile reads a config file and parses it into Values.
// returns empty Values (not error) if file doesn't exist or contains only comments/whitespace.
// this enables fallback to embedded defaults for files that are commented templates.
func (vl *valuesLoader) parseValuesFromFile(path string) (Values, error) {
	if path == "" {
		return Values{}, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is constructed internally
	if err != nil {
		if os.IsNotExist(err) {
			return Values{}, nil
		}
		return Values{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if strings.TrimSpace(stripComments(string(data))) == "" {
		return Values{}, nil
	}

	return vl.parseValuesFromBytes(data)
}

// parseValuesFromEmbedded parses values from the embedded defaults/config file.
func (vl *valuesLoader) parseValuesFromEmbedded() (Values, error) {
	data, err := vl.embedFS.ReadFile("defaults/config")
	if err != nil {
		return Values{}, fmt.Errorf("read embedded defaults: %w", err)
	}
	return vl.parseValuesFromBytes(data)
}

// parseValuesFromBytes parses configuration from INI data.
func (vl *valuesLoader) parseValuesFromBytes(data []byte) (Values, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, data)
	if err != nil {
		return Values{}, fmt.Errorf("parse config: %w", err)
	}

	var values Values
	section := cfg.Section("") // default section (no section header)

	// signal timing
	if key, err := section.GetKey("cycle_min"); err == nil {
		if values.CycleMin, err = positiveInt64(key); err != nil {
			return Values{}, fmt.Errorf("invalid cycle_min: %w", err)
		}
	}
	if key, err := section.GetKey("cycle_max"); err == nil {
		if values.CycleMax, err = positiveInt64(key); err != nil {
			return Values{}, fmt.Errorf("invalid cycle_max: %w", err)
		}
	}
	if key, err := section.GetKey("quantum"); err == nil {
		if values.Quantum, err = positiveInt64(key); err != nil {
			return Values{}, fmt.Errorf("invalid quantum: %w", err)
		}
	}
	if key, err := section.GetKey("time_unit"); err == nil {
		d, durErr := parseDuration(key.String())
		if durErr != nil {
			return Values{}, fmt.Errorf("invalid time_unit: %w", durErr)
		}
		if d <= 0 {
			return Values{}, fmt.Errorf("invalid time_unit: must be positive, got %s", d)
		}
		values.TimeUnit = d
	}
	if key, err := section.GetKey("seed"); err == nil {
		val, uintErr := key.Uint64()
		if uintErr != nil {
			return Values{}, fmt.Errorf("invalid seed: %w", uintErr)
		}
		values.Seed = val
		values.SeedSet = true
	}

	// harness
	if key, err := section.GetKey("signals"); err == nil {
		val, intErr := key.Int()
		if intErr != nil {
			return Values{}, fmt.Errorf("invalid signals: %w", intErr)
		}
		if val < 1 {
			return Values{}, fmt.Errorf("invalid signals: must be at least 1, got %d", val)
		}
		values.Signals = val
	}
	if key, err := section.GetKey("waiters"); err == nil {
		val, intErr := key.Int()
		if intErr != nil {
			return Values{}, fmt.Errorf("invalid waiters: %w", intErr)
		}
		if val < 0 {
			return Values{}, fmt.Errorf("invalid waiters: must be non-negative, got %d", val)
		}
		values.Waiters = val
		values.WaitersSet = true
	}

	if err := parseNotifyValues(section, &values); err != nil {
		return Values{}, err
	}

	return values, nil
}

// parseNotifyValues reads the notify_* keys.
func parseNotifyValues(section *ini.Section, values *Values) error {
	values.NotifyChannels = listValue(section, "notify_channels")
	values.NotifyWebhookURLs = listValue(section, "notify_webhook_urls")
	values.NotifyEmailTo = listValue(section, "notify_email_to")

	bools := []struct {
		key   string
		field *bool
		set   *bool
	}{
		{"notify_on_error", &values.NotifyOnError, &values.NotifyOnErrorSet},
		{"notify_on_complete", &values.NotifyOnComplete, &values.NotifyOnCompleteSet},
		{"notify_smtp_starttls", &values.NotifySMTPStartTLS, &values.NotifySMTPStartTLSSet},
	}
	for _, b := range bools {
		key, err := section.GetKey(b.key)
		if err != nil {
			continue
		}
		val, boolErr := key.Bool()
		if boolErr != nil {
			return fmt.Errorf("invalid %s: %w", b.key, boolErr)
		}
		*b.field = val
		*b.set = true
	}

	if key, err := section.GetKey("notify_timeout_ms"); err == nil {
		val, intErr := key.Int()
		if intErr != nil {
			return fmt.Errorf("invalid notify_timeout_ms: %w", intErr)
		}
		if val < 0 {
			return fmt.Errorf("invalid notify_timeout_ms: must be non-negative, got %d", val)
		}
		values.NotifyTimeoutMs = val
		values.NotifyTimeoutMsSet = true
	}
	if key, err := section.GetKey("notify_smtp_port"); err == nil {
		val, intErr := key.Int()
		if intErr != nil {
			return fmt.Errorf("invalid notify_smtp_port: %w", intErr)
		}
		values.NotifySMTPPort = val
	}

	strs := []struct {
		key   string
		field *string
	}{
		{"notify_telegram_token", &values.NotifyTelegramToken},
		{"notify_telegram_chat", &values.NotifyTelegramChat},
		{"notify_slack_token", &values.NotifySlackToken},
		{"notify_slack_channel", &values.NotifySlackChannel},
		{"notify_smtp_host", &values.NotifySMTPHost},
		{"notify_smtp_username", &values.NotifySMTPUsername},
		{"notify_smtp_password", &values.NotifySMTPPassword},
		{"notify_email_from", &values.NotifyEmailFrom},
		{"notify_custom_script", &values.NotifyCustomScript},
	}
	for _, s := range strs {
		if key, err := section.GetKey(s.key); err == nil {
			*s.field = strings.TrimSpace(key.String())
		}
	}
	return nil
}

// positiveInt64 reads key as an int64 greater than zero.
func positiveInt64(key *ini.Key) (int64, error) {
	val, err := key.Int64()
	if err != nil {
		return 0, err
	}
	if val <= 0 {
		return 0, fmt.Errorf("must be positive, got %d", val)
	}
	return val, nil
}

// listValue reads a comma-separated key, dropping empty items. nil if the key is missing or empty.
func listValue(section *ini.Section, name string) []string {
	key, err := section.GetKey(name)
	if err != nil {
		return nil
	}
	var res []string
	for p := range strings.SplitSeq(strings.TrimSpace(key.String()), ",") {
		if t := strings.TrimSpace(p); t != "" {
			res = append(res, t)
		}
	}
	return res
}

// mergeFrom merges non-empty values from src into dst.
func (dst *Values) mergeFrom(src *Values) {
	if src.CycleMin != 0 {
		dst.CycleMin = src.CycleMin
	}
	if src.CycleMax != 0 {
		dst.CycleMax = src.CycleMax
	}
	if src.Quantum != 0 {
		dst.Quantum = src.Quantum
	}
	if src.TimeUnit != 0 {
		dst.TimeUnit = src.TimeUnit
	}
	if src.SeedSet {
		dst.Seed = src.Seed
		dst.SeedSet = true
	}
	if src.Signals != 0 {
		dst.Signals = src.Signals
	}
	if src.WaitersSet {
		dst.Waiters = src.Waiters
		dst.WaitersSet = true
	}

	if len(src.NotifyChannels) > 0 {
		dst.NotifyChannels = src.NotifyChannels
	}
	if src.NotifyOnErrorSet {
		dst.NotifyOnError = src.NotifyOnError
		dst.NotifyOnErrorSet = true
	}
	if src.NotifyOnCompleteSet {
		dst.NotifyOnComplete = src.NotifyOnComplete
		dst.NotifyOnCompleteSet = true
	}
	if src.NotifyTimeoutMsSet {
		dst.NotifyTimeoutMs = src.NotifyTimeoutMs
		dst.NotifyTimeoutMsSet = true
	}
	if src.NotifyTelegramToken != "" {
		dst.NotifyTelegramToken = src.NotifyTelegramToken
	}
	if src.NotifyTelegramChat != "" {
		dst.NotifyTelegramChat = src.NotifyTelegramChat
	}
	if src.NotifySlackToken != "" {
		dst.NotifySlackToken = src.NotifySlackToken
	}
	if src.NotifySlackChannel != "" {
		dst.NotifySlackChannel = src.NotifySlackChannel
	}
	if src.NotifySMTPHost != "" {
		dst.NotifySMTPHost = src.NotifySMTPHost
	}
	if src.NotifySMTPPort != 0 {
		dst.NotifySMTPPort = src.NotifySMTPPort
	}
	if src.NotifySMTPUsername != "" {
		dst.NotifySMTPUsername = src.NotifySMTPUsername
	}
	if src.NotifySMTPPassword != "" {
		dst.NotifySMTPPassword = src.NotifySMTPPassword
	}
	if src.NotifySMTPStartTLSSet {
		dst.NotifySMTPStartTLS = src.NotifySMTPStartTLS
		dst.NotifySMTPStartTLSSet = true
	}
	if src.NotifyEmailFrom != "" {
		dst.NotifyEmailFrom = src.NotifyEmailFrom
	}
	if len(src.NotifyEmailTo) > 0 {
		dst.NotifyEmailTo = src.NotifyEmailTo
	}
	if len(src.NotifyWebhookURLs) > 0 {
		dst.NotifyWebhookURLs = src.NotifyWebhookURLs
	}
	if src.NotifyCustomScript != "" {
		dst.NotifyCustomScript = src.NotifyCustomScript
	}
}
