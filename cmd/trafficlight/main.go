// Package main provides trafficlight - simulated traffic signals and the goroutines waiting on them.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"

	"github.com/umputun/trafficlight/pkg/config"
	"github.com/umputun/trafficlight/pkg/notify"
	"github.com/umputun/trafficlight/pkg/progress"
	"github.com/umputun/trafficlight/pkg/runner"
)

// opts holds all command-line options. numeric options left at their defaults keep the config value.
type opts struct {
	Signals  int           `short:"n" long:"signals" default:"0" description:"number of signals (default: from config)"`
	Waiters  int           `short:"w" long:"waiters" default:"-1" description:"number of waiters (default: from config)"`
	Duration time.Duration `short:"t" long:"duration" default:"0" description:"run length, 0 runs until interrupted"`
	Seed     uint64        `long:"seed" description:"seed for cycle draws (default: from config)"`
	Config   string        `long:"config" description:"config directory (default: ~/.config/trafficlight)"`
	LogFile  string        `long:"log-file" description:"also write the log to this file"`
	Watch    bool          `long:"watch" description:"apply cycle range changes from the config files while running"`
	NoColor  bool          `long:"no-color" description:"disable color output"`
	Debug    bool          `short:"d" long:"debug" description:"enable debug logging"`
	Version  bool          `short:"v" long:"version" description:"print version and exit"`
}

var revision = "unknown"

func main() {
	fmt.Printf("trafficlight %s\n", revision)

	var o opts
	parser := flags.NewParser(&o, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if o.Version {
		os.Exit(0)
	}

	restore := quietInterrupt()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := run(ctx, o)
	cancel()
	restore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o opts) error {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := applyOverrides(cfg, o); err != nil {
		return err
	}

	log, err := progress.NewLogger(progress.Config{LogFile: o.LogFile, NoColor: o.NoColor, Debug: o.Debug})
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		if closeErr := log.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", closeErr)
		}
	}()
	if path := log.Path(); path != "" {
		log.Print("logging to %s", path)
	}
	log.Debug("config dir %s, local dir %q", cfg.ConfigDir(), cfg.LocalDir())

	notifier, err := notify.New(cfg.NotifyParams(), log)
	if err != nil {
		return fmt.Errorf("init notifications: %w", err)
	}

	r := runner.New(runner.Config{
		Signals:  cfg.Signals,
		Waiters:  cfg.Waiters,
		Duration: o.Duration,
		Signal:   cfg.SignalConfig(),
	}, log)

	if o.Watch {
		stopWatch := startWatch(ctx, cfg, r, log)
		defer stopWatch()
	}

	summary, runErr := r.Run(ctx)
	printSummary(log, summary, runErr)

	// a run stopped by ctrl+c still reports
	notifier.Send(context.WithoutCancel(ctx), buildResult(summary, runErr))
	return runErr
}

// applyOverrides copies explicitly set flags over config values and re-validates.
func applyOverrides(cfg *config.Config, o opts) error {
	if o.Signals != 0 {
		cfg.Signals = o.Signals
	}
	if o.Waiters >= 0 {
		cfg.Waiters = o.Waiters
	}
	if o.Seed != 0 {
		cfg.Seed = o.Seed
	}
	if o.Duration < 0 {
		return fmt.Errorf("invalid duration %s, must be non-negative", o.Duration)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}

// startWatch applies cycle range changes from the config files to the running signals.
// the returned func stops the watcher and waits for it.
func startWatch(ctx context.Context, cfg *config.Config, r *runner.Runner, log *progress.Logger) func() {
	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := cfg.Watch(watchCtx, func(v config.Values) {
			if applyErr := r.ApplyCycleRange(v.CycleMin, v.CycleMax); applyErr != nil {
				log.Warn("config reload: %v", applyErr)
			}
		}, func(err error) {
			log.Warn("config reload: %v", err)
		})
		if err != nil {
			log.Warn("config watch disabled: %v", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func printSummary(log *progress.Logger, s runner.Summary, runErr error) {
	if runErr != nil {
		log.Error("run failed: %v", runErr)
	}
	log.Print("%d signal(s), %d waiter(s): %s toggles, %s crossings in %s",
		s.Signals, s.Waiters, humanize.Comma(int64(s.Toggles)), humanize.Comma(int64(s.Crossings)), //nolint:gosec // counters stay far below MaxInt64
		s.Elapsed.Round(time.Millisecond))
}

func buildResult(s runner.Summary, runErr error) notify.Result {
	res := notify.Result{
		Status:    notify.StatusSuccess,
		Signals:   s.Signals,
		Waiters:   s.Waiters,
		Toggles:   s.Toggles,
		Crossings: s.Crossings,
		Duration:  s.Elapsed.Round(time.Millisecond).String(),
	}
	if runErr != nil {
		res.Status = notify.StatusFailure
		res.Error = runErr.Error()
	}
	return res
}
