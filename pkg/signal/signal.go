// Package signal implements a traffic signal whose phase flips between red and green on a
// randomised cycle. the phase is owned by one timer goroutine and published on every quantum to
// per-consumer coalescing queues, so waiters block on a handoff instead of polling shared state.
package signal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/umputun/trafficlight/pkg/handoff"
	"github.com/umputun/trafficlight/pkg/status"
)

// errors returned by Signal operations.
var (
	ErrAlreadyStarted = errors.New("signal already started")
	ErrStopped        = errors.New("signal stopped")
	ErrInvalidPhase   = errors.New("invalid phase")
	ErrInvalidCycle   = errors.New("invalid cycle configuration")
	ErrUnsubscribed   = errors.New("subscription closed")
)

// defaults, in time units of DefaultUnit.
const (
	DefaultMinCycle = 4000
	DefaultMaxCycle = 6000
	DefaultQuantum  = 1
	DefaultUnit     = time.Millisecond
)

// State is the lifecycle state of a Signal.
type State int32

// lifecycle states. a signal only moves forward: unstarted -> running -> stopped.
const (
	StateUnstarted State = iota
	StateRunning
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config holds signal parameters. cycle bounds and quantum are counted in Unit.
// zero fields take the Default* values.
type Config struct {
	ID       string        // signal name, random uuid if empty
	MinCycle int64         // shortest time between toggles
	MaxCycle int64         // longest time between toggles
	Quantum  int64         // how often the timer wakes to check elapsed time and publish
	Unit     time.Duration // length of one time unit
	Seed     uint64        // seed for cycle draws, 0 seeds from the clock
}

// Stats holds signal counters.
type Stats struct {
	Toggles     uint64 // phase changes so far
	Publishes   uint64 // timer iterations that published the phase
	Subscribers int    // currently open subscriptions
	Pending     int    // published phases subscribers have not received yet
}

// Signal is a single traffic signal. create with New, run with Start, release with Stop.
type Signal struct {
	id      string
	unit    time.Duration
	quantum time.Duration

	phase     status.PhaseHolder
	subs      *hub
	publishes atomic.Uint64
	done      chan struct{}

	mu       sync.Mutex // guards everything below
	state    State
	cancel   context.CancelFunc
	rng      *rand.Rand
	minCycle int64
	maxCycle int64
}

// New creates a signal showing red. its timer does not run until Start.
func New(cfg Config) (*Signal, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Signal{
		id:       cfg.ID,
		unit:     cfg.Unit,
		quantum:  time.Duration(cfg.Quantum) * cfg.Unit,
		subs:     newHub(),
		done:     make(chan struct{}),
		rng:      newRand(cfg.Seed),
		minCycle: cfg.MinCycle,
		maxCycle: cfg.MaxCycle,
	}, nil
}

// ID returns the signal name.
func (s *Signal) ID() string {
	return s.id
}

// Start launches the timer loop. it runs until Stop is called or ctx is done.
// returns ErrAlreadyStarted if the loop is running and ErrStopped if it already ended.
func (s *Signal) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateRunning:
		return fmt.Errorf("start %s: %w", s.id, ErrAlreadyStarted)
	case StateStopped:
		return fmt.Errorf("start %s: %w", s.id, ErrStopped)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = StateRunning
	go s.run(loopCtx)
	return nil
}

// Stop ends the timer loop, waits for it to exit and closes all subscriptions.
// blocked waiters return ErrStopped. safe to call multiple times and before Start.
func (s *Signal) Stop() {
	s.mu.Lock()
	switch s.state {
	case StateUnstarted:
		s.state = StateStopped
		s.mu.Unlock()
		s.subs.close()
		close(s.done)
		return
	case StateStopped:
		s.mu.Unlock()
		<-s.done
		return
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	<-s.done
}

// Done returns a channel closed once the signal has stopped.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// State returns the lifecycle state.
func (s *Signal) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CurrentPhase returns the most recently committed phase without blocking.
// the value may change right after it is read.
func (s *Signal) CurrentPhase() status.Phase {
	return s.phase.Get()
}

// OnToggle registers a callback fired from the timer goroutine after each phase change.
// the callback must not block, the next publish waits for it.
func (s *Signal) OnToggle(fn func(old, cur status.Phase)) {
	s.phase.OnChange(fn)
}

// WaitForPhase blocks until the signal publishes target. the wait uses its own subscription,
// so any number of goroutines may wait on the same signal at once.
// returns ctx.Err() on cancellation and ErrStopped if the signal stops first.
func (s *Signal) WaitForPhase(ctx context.Context, target status.Phase) error {
	if !target.Valid() {
		return fmt.Errorf("wait for %s: %w", target, ErrInvalidPhase)
	}

	sub := s.Subscribe()
	defer sub.Close()

	for {
		p, err := sub.Receive(ctx)
		if err != nil {
			return err
		}
		if p == target {
			return nil
		}
	}
}

// SetCycleRange changes the cycle bounds of the signal. the new range applies from the next draw.
func (s *Signal) SetCycleRange(lo, hi int64) error {
	if err := validateRange(lo, hi, s.unit); err != nil {
		return err
	}

	s.mu.Lock()
	s.minCycle, s.maxCycle = lo, hi
	s.mu.Unlock()
	return nil
}

// CycleRange returns the current cycle bounds in time units.
func (s *Signal) CycleRange() (lo, hi int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minCycle, s.maxCycle
}

// Stats returns a snapshot of the signal counters.
func (s *Signal) Stats() Stats {
	return Stats{
		Toggles:     s.phase.Changes(),
		Publishes:   s.publishes.Load(),
		Subscribers: s.subs.count(),
		Pending:     s.subs.pending(),
	}
}

// run is the timer loop. every quantum it checks the elapsed time against the current cycle,
// toggles when the cycle is over and publishes the phase whether it changed or not, so a freshly
// attached consumer hears the current phase within one quantum.
func (s *Signal) run(ctx context.Context) {
	defer s.finish()

	ticker := time.NewTicker(s.quantum)
	defer ticker.Stop()

	lastUpdate := time.Now()
	cycle := s.nextCycle()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if time.Since(lastUpdate) >= cycle {
			s.phase.Toggle()
			lastUpdate = time.Now()
			cycle = s.nextCycle()
		}

		s.subs.broadcast(s.phase.Get())
		s.publishes.Add(1)
	}
}

// finish moves the signal to stopped and releases everyone waiting on it.
func (s *Signal) finish() {
	s.mu.Lock()
	s.state = StateStopped
	s.cancel()
	s.mu.Unlock()

	s.subs.close()
	close(s.done)
}

func (s *Signal) nextCycle() time.Duration {
	s.mu.Lock()
	n := cycleDuration(s.rng, s.minCycle, s.maxCycle)
	s.mu.Unlock()
	return time.Duration(n) * s.unit
}

// Subscription is one consumer's view of the published phases.
// each Receive returns the newest phase published since the previous one.
type Subscription struct {
	sig *Signal
	q   *handoff.Queue[status.Phase]
}

// Subscribe opens a new subscription. it hears phases published after this call.
// on a stopped signal the subscription is already closed.
func (s *Signal) Subscribe() *Subscription {
	return &Subscription{sig: s, q: s.subs.subscribe()}
}

// Receive blocks until a phase is published and returns the newest one.
// returns ErrStopped once the signal stopped, ErrUnsubscribed after Close and ctx.Err() on cancellation.
func (sub *Subscription) Receive(ctx context.Context) (status.Phase, error) {
	p, err := sub.q.ReceiveContext(ctx)
	if errors.Is(err, handoff.ErrClosed) {
		if sub.sig.State() == StateStopped {
			return p, ErrStopped
		}
		return p, ErrUnsubscribed
	}
	return p, err
}

// Coalesced returns how many published phases this subscriber skipped because a newer one was pending.
func (sub *Subscription) Coalesced() uint64 {
	return sub.q.Stats().Coalesced
}

// Close detaches the subscription from the signal. safe to call multiple times.
func (sub *Subscription) Close() {
	sub.sig.subs.unsubscribe(sub.q)
}

func (c Config) withDefaults() Config {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.MinCycle == 0 && c.MaxCycle == 0 {
		c.MinCycle, c.MaxCycle = DefaultMinCycle, DefaultMaxCycle
	}
	if c.Quantum == 0 {
		c.Quantum = DefaultQuantum
	}
	if c.Unit == 0 {
		c.Unit = DefaultUnit
	}
	return c
}

func (c Config) validate() error {
	if c.Unit <= 0 {
		return fmt.Errorf("%w: unit must be positive, got %s", ErrInvalidCycle, c.Unit)
	}
	if c.Quantum <= 0 {
		return fmt.Errorf("%w: quantum must be positive, got %d", ErrInvalidCycle, c.Quantum)
	}
	if c.Quantum > MaxUnits(c.Unit) {
		return fmt.Errorf("%w: quantum %d x %s overflows time.Duration", ErrInvalidCycle, c.Quantum, c.Unit)
	}
	return validateRange(c.MinCycle, c.MaxCycle, c.Unit)
}

// validateRange checks 0 < lo <= hi and that hi units still fit in a time.Duration.
func validateRange(lo, hi int64, unit time.Duration) error {
	if lo <= 0 {
		return fmt.Errorf("%w: min cycle must be positive, got %d", ErrInvalidCycle, lo)
	}
	if hi < lo {
		return fmt.Errorf("%w: max cycle %d is below min cycle %d", ErrInvalidCycle, hi, lo)
	}
	if hi > MaxUnits(unit) {
		return fmt.Errorf("%w: max cycle %d x %s overflows time.Duration", ErrInvalidCycle, hi, unit)
	}
	return nil
}

// MaxUnits returns the largest count of unit that fits in a time.Duration. unit must be positive.
func MaxUnits(unit time.Duration) int64 {
	return math.MaxInt64 / int64(unit)
}
