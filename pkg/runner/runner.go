// Package runner drives a set of traffic signals and the goroutines waiting to cross them.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/umputun/trafficlight/pkg/signal"
	"github.com/umputun/trafficlight/pkg/status"
)

//go:generate moq -out mocks/logger.go -pkg mocks -skip-ensure -fmt goimports . Logger

// ErrRunning is returned by Run while another Run on the same runner is in progress.
var ErrRunning = errors.New("runner is already running")

// Config holds runner configuration.
type Config struct {
	Signals  int           // number of signals, at least 1
	Waiters  int           // number of waiter goroutines, 0 runs the signals alone
	Duration time.Duration // run length, 0 runs until ctx is done
	Signal   signal.Config // template for every signal, ID is used as a name prefix when set
}

// Logger provides logging functionality.
type Logger interface {
	Print(format string, args ...any)
	PrintPhase(phase status.Phase, format string, args ...any)
	Warn(format string, args ...any)
}

// Summary describes a finished run.
type Summary struct {
	Signals   int
	Waiters   int
	Toggles   uint64 // phase changes across all signals
	Crossings uint64 // green phases observed by waiters
	Elapsed   time.Duration
}

// Runner owns the signals of one run.
type Runner struct {
	cfg Config
	log Logger

	mu      sync.Mutex
	running bool
	signals []*signal.Signal
}

// New creates a new Runner with the given configuration.
func New(cfg Config, log Logger) *Runner {
	return &Runner{cfg: cfg, log: log}
}

// Run starts the signals and waiters and blocks until Duration passes or ctx is done.
// cancellation ends the run normally, errors come only from setup and from unexpected wait failures.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	if err := r.validate(); err != nil {
		return Summary{}, err
	}

	signals, err := r.makeSignals()
	if err != nil {
		return Summary{}, err
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return Summary{}, ErrRunning
	}
	r.running = true
	r.signals = signals
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.signals = nil
		r.mu.Unlock()
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if r.cfg.Duration > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, r.cfg.Duration)
		defer cancelTimeout()
	}

	start := time.Now()
	for i, sig := range signals {
		if err := sig.Start(runCtx); err != nil {
			stopAll(signals[:i])
			return Summary{}, err
		}
	}
	lo, hi := signals[0].CycleRange()
	r.log.Print("started %d signal(s), cycle %d-%d x %s, %d waiter(s)", len(signals), lo, hi, r.unit(), r.cfg.Waiters)

	var crossings atomic.Uint64
	var errMu sync.Mutex
	var waitErrs []error

	var wg sync.WaitGroup
	for k := range r.cfg.Waiters {
		sig := signals[k%len(signals)]
		wg.Go(func() {
			if err := r.runWaiter(runCtx, k, sig, &crossings); err != nil {
				r.log.Warn("waiter %d on %s: %v", k, sig.ID(), err)
				errMu.Lock()
				waitErrs = append(waitErrs, fmt.Errorf("waiter %d: %w", k, err))
				errMu.Unlock()
			}
		})
	}

	<-runCtx.Done()
	stopAll(signals)
	wg.Wait()

	summary := Summary{
		Signals:   len(signals),
		Waiters:   r.cfg.Waiters,
		Crossings: crossings.Load(),
		Elapsed:   time.Since(start),
	}
	for _, sig := range signals {
		summary.Toggles += sig.Stats().Toggles
	}
	return summary, errors.Join(waitErrs...)
}

// runWaiter alternates between waiting for green, crossing, and waiting for red so that each
// green phase is counted once. returns nil when the run ends.
func (r *Runner) runWaiter(ctx context.Context, k int, sig *signal.Signal, crossings *atomic.Uint64) error {
	for {
		if err := sig.WaitForPhase(ctx, status.PhaseGreen); err != nil {
			return endOfRun(err)
		}
		crossings.Add(1)
		r.log.PrintPhase(status.PhaseGreen, "waiter %d crossed %s", k, sig.ID())

		if err := sig.WaitForPhase(ctx, status.PhaseRed); err != nil {
			return endOfRun(err)
		}
	}
}

// ApplyCycleRange changes the cycle bounds of every running signal and of the signals of later runs.
func (r *Runner) ApplyCycleRange(lo, hi int64) error {
	if lo <= 0 || hi < lo || hi > signal.MaxUnits(r.unit()) {
		return fmt.Errorf("apply cycle range %d-%d: %w", lo, hi, signal.ErrInvalidCycle)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.Signal.MinCycle, r.cfg.Signal.MaxCycle = lo, hi
	for _, sig := range r.signals {
		if err := sig.SetCycleRange(lo, hi); err != nil {
			return fmt.Errorf("apply cycle range to %s: %w", sig.ID(), err)
		}
	}
	if len(r.signals) > 0 {
		r.log.Print("cycle range changed to %d-%d x %s", lo, hi, r.unit())
	}
	return nil
}

func (r *Runner) validate() error {
	if r.cfg.Signals < 1 {
		return fmt.Errorf("invalid signals count %d, must be at least 1", r.cfg.Signals)
	}
	if r.cfg.Waiters < 0 {
		return fmt.Errorf("invalid waiters count %d, must be non-negative", r.cfg.Waiters)
	}
	return nil
}

// makeSignals creates the signals of one run. a fixed seed is offset per signal so that
// signals sharing a template don't toggle in lockstep.
func (r *Runner) makeSignals() ([]*signal.Signal, error) {
	r.mu.Lock()
	tmpl := r.cfg.Signal
	r.mu.Unlock()

	prefix := tmpl.ID
	if prefix == "" {
		prefix = "signal"
	}

	signals := make([]*signal.Signal, 0, r.cfg.Signals)
	for i := range r.cfg.Signals {
		cfg := tmpl
		cfg.ID = fmt.Sprintf("%s-%d", prefix, i+1)
		if tmpl.Seed != 0 {
			cfg.Seed = tmpl.Seed + uint64(i) //nolint:gosec // i is a small non-negative index
		}
		sig, err := signal.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", cfg.ID, err)
		}
		id := cfg.ID
		sig.OnToggle(func(old, cur status.Phase) {
			r.log.PrintPhase(cur, "%s: %s -> %s", id, old, cur)
		})
		signals = append(signals, sig)
	}
	return signals, nil
}

func (r *Runner) unit() time.Duration {
	if r.cfg.Signal.Unit > 0 {
		return r.cfg.Signal.Unit
	}
	return signal.DefaultUnit
}

func stopAll(signals []*signal.Signal) {
	var wg sync.WaitGroup
	for _, sig := range signals {
		wg.Go(sig.Stop)
	}
	wg.Wait()
}

// endOfRun maps the errors a wait returns when the run is over to nil.
func endOfRun(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, signal.ErrStopped) {
		return nil
	}
	return err
}
