// Package notify sends a one-shot summary of a trafficlight run to chat, mail, webhook or script channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"os"
	"strings"
	"time"

	ntfy "github.com/go-pkgz/notify"
)

// result statuses
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

const defaultTimeoutMs = 10000

// Params holds configuration for creating a notification Service.
type Params struct {
	Channels      []string
	OnError       bool
	OnComplete    bool
	TimeoutMs     int
	TelegramToken string
	TelegramChat  string
	SlackToken    string
	SlackChannel  string
	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	SMTPStartTLS  bool
	EmailFrom     string
	EmailTo       []string
	WebhookURLs   []string
	CustomScript  string
}

// Result summarises a finished run.
type Result struct {
	Status    string `json:"status"` // StatusSuccess or StatusFailure
	Signals   int    `json:"signals"`
	Waiters   int    `json:"waiters"`
	Toggles   uint64 `json:"toggles"`
	Crossings uint64 `json:"crossings"`
	Duration  string `json:"duration"`
	Error     string `json:"error,omitempty"`
}

// Service delivers results to the configured channels.
type Service struct {
	channels   []channel
	custom     *customChannel
	onError    bool
	onComplete bool
	timeout    time.Duration
	hostname   string
	log        logger
}

// channel pairs a notifier with its destination URI.
type channel struct {
	notifier   ntfy.Notifier
	dest       string
	htmlEscape bool // telegram uses HTML parse mode
}

type logger interface {
	Print(format string, args ...any)
}

// New creates a Service from p. it returns nil, nil when no channels are configured;
// Send is nil-safe so callers don't need to check.
// a telegram channel that fails to initialise is skipped with a warning, other misconfigured
// channels are errors.
func New(p Params, log logger) (*Service, error) {
	if len(p.Channels) == 0 {
		return nil, nil //nolint:nilnil // nil service means notifications are off
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	timeoutMs := p.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = defaultTimeoutMs
	}
	svc := &Service{
		onError:    p.OnError,
		onComplete: p.OnComplete,
		timeout:    time.Duration(timeoutMs) * time.Millisecond,
		hostname:   hostname,
		log:        log,
	}

	for _, name := range p.Channels {
		if err := svc.addChannel(strings.ToLower(strings.TrimSpace(name)), p); err != nil {
			return nil, err
		}
	}

	if len(svc.channels) == 0 && svc.custom == nil {
		log.Print("[WARN] all notification channels were disabled due to initialization errors")
	}
	return svc, nil
}

func (s *Service) addChannel(name string, p Params) error {
	switch name {
	case "telegram":
		if p.TelegramToken == "" {
			return errors.New("telegram channel: notify_telegram_token is required")
		}
		if p.TelegramChat == "" {
			return errors.New("telegram channel: notify_telegram_chat is required")
		}
		c, err := telegramChannelMaker(p)
		if err != nil {
			// token verification needs the network, so a failure only disables the channel
			msg := strings.ReplaceAll(err.Error(), p.TelegramToken, "[REDACTED]")
			s.log.Print("[WARN] telegram channel disabled: %s", msg)
			return nil
		}
		s.channels = append(s.channels, c)
	case "email":
		c, err := makeEmailChannel(p)
		if err != nil {
			return fmt.Errorf("email channel: %w", err)
		}
		s.channels = append(s.channels, c)
	case "slack":
		c, err := makeSlackChannel(p)
		if err != nil {
			return fmt.Errorf("slack channel: %w", err)
		}
		s.channels = append(s.channels, c)
	case "webhook":
		chs, err := makeWebhookChannels(p)
		if err != nil {
			return fmt.Errorf("webhook channel: %w", err)
		}
		s.channels = append(s.channels, chs...)
	case "custom":
		if p.CustomScript == "" {
			return errors.New("custom channel: notify_custom_script is required")
		}
		s.custom = newCustomChannel(p.CustomScript)
	default:
		return fmt.Errorf("unknown notification channel: %q", name)
	}
	return nil
}

// Send delivers r to every channel, honouring the on_error and on_complete switches.
// delivery errors are logged, never returned. safe to call on a nil Service.
func (s *Service) Send(ctx context.Context, r Result) {
	if s == nil {
		return
	}
	if r.Status == StatusSuccess && !s.onComplete {
		return
	}
	if r.Status == StatusFailure && !s.onError {
		return
	}

	msg := s.formatMessage(r)
	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	for _, ch := range s.channels {
		text := msg
		if ch.htmlEscape {
			text = html.EscapeString(msg)
		}
		if err := ch.notifier.Send(sendCtx, ch.dest, text); err != nil {
			s.log.Print("[WARN] notification failed for %s: %v", ch.notifier, err)
		}
	}

	if s.custom != nil {
		if err := s.custom.send(sendCtx, r); err != nil {
			s.log.Print("[WARN] custom notification failed: %v", err)
		}
	}
}

// formatMessage renders r as plain text.
func (s *Service) formatMessage(r Result) string {
	var b strings.Builder

	verb := "completed"
	if r.Status != StatusSuccess {
		verb = "failed"
	}
	fmt.Fprintf(&b, "trafficlight %s on %s\n\n", verb, s.hostname)

	fmt.Fprintf(&b, "signals:   %d\n", r.Signals)
	fmt.Fprintf(&b, "waiters:   %d\n", r.Waiters)
	fmt.Fprintf(&b, "toggles:   %d\n", r.Toggles)
	fmt.Fprintf(&b, "crossings: %d\n", r.Crossings)
	if r.Duration != "" {
		fmt.Fprintf(&b, "duration:  %s\n", r.Duration)
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "error:     %s\n", r.Error)
	}
	return b.String()
}
