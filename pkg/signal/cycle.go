package signal

import (
	"math/rand/v2"
	"time"
)

// cycleDuration draws a uniform integer from the closed interval [lo, hi]. both ends are reachable.
func cycleDuration(rng *rand.Rand, lo, hi int64) int64 {
	if hi <= lo {
		return lo
	}
	return lo + rng.Int64N(hi-lo+1)
}

// newRand returns a PCG generator for seed. seed 0 picks one from the clock.
//
//nolint:gosec // cycle lengths are timing jitter, not security sensitive
func newRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
