package signal

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/trafficlight/pkg/status"
)

// fastConfig gives cycles of 40-60ms so tests see several toggles quickly.
func fastConfig() Config {
	return Config{ID: "test", MinCycle: 40, MaxCycle: 60, Quantum: 1, Unit: time.Millisecond, Seed: 42}
}

// maxCycle is the longest a waiter may legitimately block on fastConfig, plus scheduling slack.
const maxCycle = 60*time.Millisecond + 200*time.Millisecond

func newStarted(t *testing.T, cfg Config) *Signal {
	t.Helper()
	s, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)
	return s
}

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		s, err := New(Config{})
		require.NoError(t, err)
		assert.NotEmpty(t, s.ID(), "random id assigned")
		lo, hi := s.CycleRange()
		assert.Equal(t, int64(DefaultMinCycle), lo)
		assert.Equal(t, int64(DefaultMaxCycle), hi)
		assert.Equal(t, DefaultUnit*DefaultQuantum, s.quantum)
		assert.Equal(t, status.PhaseRed, s.CurrentPhase())
		assert.Equal(t, StateUnstarted, s.State())
	})

	t.Run("ids differ", func(t *testing.T) {
		a, err := New(Config{})
		require.NoError(t, err)
		b, err := New(Config{})
		require.NoError(t, err)
		assert.NotEqual(t, a.ID(), b.ID())
	})

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "negative min", cfg: Config{MinCycle: -1, MaxCycle: 10}},
		{name: "zero min with max", cfg: Config{MaxCycle: 10}},
		{name: "max below min", cfg: Config{MinCycle: 10, MaxCycle: 5}},
		{name: "negative quantum", cfg: Config{MinCycle: 10, MaxCycle: 20, Quantum: -1}},
		{name: "negative unit", cfg: Config{MinCycle: 10, MaxCycle: 20, Unit: -time.Millisecond}},
		{name: "quantum overflows duration", cfg: Config{MinCycle: 10, MaxCycle: 20, Quantum: math.MaxInt64 / 1000, Unit: time.Hour}},
		{name: "max cycle overflows duration", cfg: Config{MinCycle: 10, MaxCycle: math.MaxInt64 / 1000, Unit: time.Hour}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.cfg)
			require.ErrorIs(t, err, ErrInvalidCycle)
		})
	}
}

func TestSignal_StartsRed(t *testing.T) {
	s := newStarted(t, Config{MinCycle: 4000, MaxCycle: 6000, Unit: time.Millisecond})
	assert.Equal(t, status.PhaseRed, s.CurrentPhase())
	assert.Equal(t, StateRunning, s.State())
}

func TestSignal_Lifecycle(t *testing.T) {
	s, err := New(fastConfig())
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	err = s.Start(context.Background())
	require.ErrorIs(t, err, ErrAlreadyStarted)
	assert.Contains(t, err.Error(), "test")

	s.Stop()
	assert.Equal(t, StateStopped, s.State())
	select {
	case <-s.Done():
	default:
		t.Fatal("done not closed after stop")
	}

	require.ErrorIs(t, s.Start(context.Background()), ErrStopped)
	assert.NotPanics(t, s.Stop, "second stop is a no-op")
}

func TestSignal_StopBeforeStart(t *testing.T) {
	s, err := New(fastConfig())
	require.NoError(t, err)

	s.Stop()
	assert.Equal(t, StateStopped, s.State())
	require.ErrorIs(t, s.Start(context.Background()), ErrStopped)
	require.ErrorIs(t, s.WaitForPhase(context.Background(), status.PhaseGreen), ErrStopped)
}

func TestSignal_ContextCancelStops(t *testing.T) {
	s, err := New(fastConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("signal did not stop on context cancel")
	}
	assert.Equal(t, StateStopped, s.State())
	assert.NotPanics(t, s.Stop)
}

func TestSignal_WaitForGreen(t *testing.T) {
	s := newStarted(t, fastConfig())

	ctx, cancel := context.WithTimeout(context.Background(), maxCycle)
	defer cancel()

	start := time.Now()
	require.NoError(t, s.WaitForPhase(ctx, status.PhaseGreen))
	assert.Equal(t, status.PhaseGreen, s.CurrentPhase())
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond, "first toggle waits for the min cycle")
}

func TestSignal_WaitWhileAlreadyGreen(t *testing.T) {
	s := newStarted(t, fastConfig())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.WaitForPhase(ctx, status.PhaseGreen))

	// signal is green now; a second wait is served by the next publish, one quantum away
	start := time.Now()
	require.NoError(t, s.WaitForPhase(ctx, status.PhaseGreen))
	assert.Less(t, time.Since(start), maxCycle)
}

func TestSignal_WaitForRed(t *testing.T) {
	s := newStarted(t, fastConfig())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// red is the initial phase, the first publish satisfies the wait
	require.NoError(t, s.WaitForPhase(ctx, status.PhaseRed))
	require.NoError(t, s.WaitForPhase(ctx, status.PhaseGreen))
	require.NoError(t, s.WaitForPhase(ctx, status.PhaseRed))
	assert.GreaterOrEqual(t, s.Stats().Toggles, uint64(2))
}

func TestSignal_WaitForPhase_Errors(t *testing.T) {
	t.Run("invalid phase", func(t *testing.T) {
		s := newStarted(t, fastConfig())
		require.ErrorIs(t, s.WaitForPhase(context.Background(), status.Phase(9)), ErrInvalidPhase)
	})

	t.Run("context deadline", func(t *testing.T) {
		s := newStarted(t, Config{MinCycle: 100000, MaxCycle: 100000, Unit: time.Millisecond})
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		require.ErrorIs(t, s.WaitForPhase(ctx, status.PhaseGreen), context.DeadlineExceeded)
		assert.Equal(t, 0, s.Stats().Subscribers, "subscription released on return")
	})

	t.Run("stop releases waiter", func(t *testing.T) {
		s, err := New(Config{MinCycle: 100000, MaxCycle: 100000, Unit: time.Millisecond})
		require.NoError(t, err)
		require.NoError(t, s.Start(context.Background()))

		errCh := make(chan error, 1)
		go func() { errCh <- s.WaitForPhase(context.Background(), status.PhaseGreen) }()

		time.Sleep(20 * time.Millisecond)
		s.Stop()

		select {
		case err := <-errCh:
			require.ErrorIs(t, err, ErrStopped)
		case <-time.After(time.Second):
			t.Fatal("waiter not released by stop")
		}
	})

	t.Run("waiting before start", func(t *testing.T) {
		s, err := New(fastConfig())
		require.NoError(t, err)
		t.Cleanup(s.Stop)

		errCh := make(chan error, 1)
		go func() { errCh <- s.WaitForPhase(context.Background(), status.PhaseRed) }()

		time.Sleep(10 * time.Millisecond)
		require.NoError(t, s.Start(context.Background()))

		select {
		case err := <-errCh:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("waiter registered before start never woke")
		}
	})
}

func TestSignal_StrictAlternation(t *testing.T) {
	s, err := New(fastConfig())
	require.NoError(t, err)

	type toggle struct {
		old, cur status.Phase
		at       time.Time
	}
	var mu sync.Mutex
	var toggles []toggle
	s.OnToggle(func(old, cur status.Phase) {
		mu.Lock()
		toggles = append(toggles, toggle{old: old, cur: cur, at: time.Now()})
		mu.Unlock()
	})

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(400 * time.Millisecond)
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(toggles), 3)
	assert.Equal(t, status.PhaseRed, toggles[0].old)
	for i, tg := range toggles {
		assert.Equal(t, tg.old.Next(), tg.cur, "toggle %d", i)
		if i == 0 {
			continue
		}
		assert.Equal(t, toggles[i-1].cur, tg.old, "toggle %d continues from previous phase", i)
		assert.GreaterOrEqual(t, tg.at.Sub(toggles[i-1].at), 40*time.Millisecond, "toggle %d came before min cycle", i)
	}
	assert.Equal(t, uint64(len(toggles)), s.Stats().Toggles)
}

func TestSignal_ConcurrentWaiters(t *testing.T) {
	s := newStarted(t, fastConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	const waiters = 8
	errs := make(chan error, waiters)
	var wg sync.WaitGroup
	for range waiters {
		wg.Go(func() {
			errs <- s.WaitForPhase(ctx, status.PhaseGreen)
		})
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err, "every waiter must return, none may starve")
	}
	assert.Equal(t, 0, s.Stats().Subscribers)
}

func TestSignal_Subscribe(t *testing.T) {
	s := newStarted(t, fastConfig())

	sub := s.Subscribe()
	assert.Equal(t, 1, s.Stats().Subscribers)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	p, err := sub.Receive(ctx)
	require.NoError(t, err)
	assert.True(t, p.Valid())

	// let several publishes pile up, the next receive coalesces them
	time.Sleep(20 * time.Millisecond)
	assert.Positive(t, s.Stats().Pending)
	_, err = sub.Receive(ctx)
	require.NoError(t, err)
	assert.Positive(t, sub.Coalesced())
	assert.Positive(t, s.Stats().Publishes)

	sub.Close()
	assert.Equal(t, 0, s.Stats().Subscribers)
	_, err = sub.Receive(ctx)
	require.ErrorIs(t, err, ErrUnsubscribed)
	assert.NotPanics(t, sub.Close)
}

func TestSignal_SubscribeAfterStop(t *testing.T) {
	s, err := New(fastConfig())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	s.Stop()

	sub := s.Subscribe()
	_, err = sub.Receive(context.Background())
	require.ErrorIs(t, err, ErrStopped)
}

func TestSignal_SetCycleRange(t *testing.T) {
	s, err := New(fastConfig())
	require.NoError(t, err)

	require.NoError(t, s.SetCycleRange(10, 20))
	lo, hi := s.CycleRange()
	assert.Equal(t, int64(10), lo)
	assert.Equal(t, int64(20), hi)

	require.ErrorIs(t, s.SetCycleRange(0, 20), ErrInvalidCycle)
	require.ErrorIs(t, s.SetCycleRange(30, 20), ErrInvalidCycle)
	require.ErrorIs(t, s.SetCycleRange(10, MaxUnits(time.Millisecond)+1), ErrInvalidCycle, "overflows time.Duration")
	lo, hi = s.CycleRange()
	assert.Equal(t, int64(10), lo, "rejected range leaves the old one")
	assert.Equal(t, int64(20), hi)

	require.NoError(t, s.SetCycleRange(10, MaxUnits(time.Millisecond)))
	_, hi = s.CycleRange()
	assert.Equal(t, MaxUnits(time.Millisecond), hi)
}

func TestMaxUnits(t *testing.T) {
	assert.Equal(t, int64(math.MaxInt64), MaxUnits(time.Nanosecond))
	assert.Equal(t, int64(math.MaxInt64/int64(time.Hour)), MaxUnits(time.Hour))
	assert.Positive(t, time.Duration(MaxUnits(time.Hour))*time.Hour, "largest count does not wrap")
}

func TestSignal_SetCycleRange_AppliesToRunningSignal(t *testing.T) {
	s := newStarted(t, Config{MinCycle: 30, MaxCycle: 30, Unit: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.WaitForPhase(ctx, status.PhaseGreen))

	// the cycle ending in red was drawn at the last toggle; every draw after it uses the long range
	require.NoError(t, s.SetCycleRange(100000, 100000))
	require.NoError(t, s.WaitForPhase(ctx, status.PhaseRed))

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer shortCancel()
	require.ErrorIs(t, s.WaitForPhase(shortCtx, status.PhaseGreen), context.DeadlineExceeded)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "unstarted", StateUnstarted.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "state(7)", State(7).String())
}
