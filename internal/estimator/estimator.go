// Package estimator predicts a task's expected duration from its
// execution history, so the Scheduler's longest_first ordering policy
// and the ContentionAnalyzer have something to rank against (§4.7).
package estimator

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/cubewise-code/rushti/internal/stats"
)

// Config tunes the estimator (§4.7, §6 settings precedence).
type Config struct {
	// Alpha is the EWMA smoothing factor; higher weights recent runs
	// more heavily. Defaults to 0.3 when zero.
	Alpha float64
	// MinSamples is the minimum history depth required before an
	// estimate is returned at all.
	MinSamples int
	// LookbackRuns bounds how many historical executions are fetched
	// per signature.
	LookbackRuns int
	// TimeOfDayWeighting enables cosine weighting by hour-of-day
	// distance from the estimate's reference time.
	TimeOfDayWeighting bool
	// CacheFor bounds how long a computed estimate is reused before
	// being recomputed from the store.
	CacheFor time.Duration
}

func (c Config) withDefaults() Config {
	if c.Alpha <= 0 {
		c.Alpha = 0.3
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 3
	}
	if c.LookbackRuns <= 0 {
		c.LookbackRuns = 20
	}
	if c.CacheFor <= 0 {
		c.CacheFor = time.Hour
	}
	return c
}

type cacheEntry struct {
	duration  time.Duration
	available bool
	computed  time.Time
}

// Estimator computes EWMA-based duration estimates, cached per
// signature for Config.CacheFor unless Config.TimeOfDayWeighting is set.
type Estimator struct {
	store *stats.Store
	cfg   Config

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New builds an Estimator backed by store.
func New(store *stats.Store, cfg Config) *Estimator {
	return &Estimator{store: store, cfg: cfg.withDefaults(), cache: make(map[string]cacheEntry)}
}

// Estimate returns the expected duration for signature as observed
// "now", and whether enough history exists to produce one (§4.7:
// "fewer than min_samples historical executions yields no estimate,
// not a zero-value one").
func (e *Estimator) Estimate(ctx context.Context, signature string, now time.Time) (time.Duration, bool, error) {
	if !e.cfg.TimeOfDayWeighting {
		e.mu.Lock()
		if entry, ok := e.cache[signature]; ok && now.Sub(entry.computed) < e.cfg.CacheFor {
			e.mu.Unlock()
			return entry.duration, entry.available, nil
		}
		e.mu.Unlock()
	}

	samples, err := e.store.Recent(ctx, signature, e.cfg.LookbackRuns)
	if err != nil {
		return 0, false, err
	}
	if len(samples) < e.cfg.MinSamples {
		if !e.cfg.TimeOfDayWeighting {
			e.mu.Lock()
			e.cache[signature] = cacheEntry{available: false, computed: now}
			e.mu.Unlock()
		}
		return 0, false, nil
	}

	duration := e.compute(samples, now)

	if !e.cfg.TimeOfDayWeighting {
		e.mu.Lock()
		e.cache[signature] = cacheEntry{duration: duration, available: true, computed: now}
		e.mu.Unlock()
	}

	return duration, true, nil
}

// compute runs the EWMA pass oldest-to-newest (samples arrives
// newest-first from the store) and, if time-of-day weighting is
// enabled, blends in a weight proportional to each sample's
// hour-of-day proximity to now.
func (e *Estimator) compute(samples []stats.TaskExecution, now time.Time) time.Duration {
	var est float64
	first := true

	for i := len(samples) - 1; i >= 0; i-- {
		s := samples[i]
		ms := float64(s.DurationMs)

		weight := 1.0
		if e.cfg.TimeOfDayWeighting {
			weight = timeOfDayWeight(s.StartedAt, now)
		}

		if first {
			est = ms
			first = false
			continue
		}

		alpha := e.cfg.Alpha * weight
		if alpha > 1 {
			alpha = 1
		}
		est = alpha*ms + (1-alpha)*est
	}

	return time.Duration(est) * time.Millisecond
}

// timeOfDayWeight returns a value in (0, 1] that peaks at 1 when
// sampleTime and reference share the same hour-of-day and decays
// toward 0 at a 12-hour offset, via a cosine of the hour delta.
func timeOfDayWeight(sampleTime, reference time.Time) float64 {
	sampleHour := float64(sampleTime.Hour()) + float64(sampleTime.Minute())/60
	refHour := float64(reference.Hour()) + float64(reference.Minute())/60

	delta := math.Abs(sampleHour - refHour)
	if delta > 12 {
		delta = 24 - delta
	}

	// cosine from 1.0 (delta=0) down to ~0 (delta=12), clamped above 0.05
	// so distant-hour samples still contribute a small amount.
	w := (math.Cos(delta/12*math.Pi) + 1) / 2
	if w < 0.05 {
		w = 0.05
	}
	return w
}
