package track

import (
	"math"

	"github.com/candela/beatlight/internal/config"
	"github.com/candela/beatlight/internal/stats"
)

// maxHits bounds the per-instrument hit queue used for IOI statistics.
const maxHits = 20

// madScale converts a raw median absolute deviation to a normal-consistent
// scale estimate.
const madScale = 1.4826

// Tracker estimates one instrument's tempo and beat phase with a 2-state
// Kalman filter phase-locked to observed onsets. State is (period, phase)
// with explicit 2x2 covariance; the filter is seeded from robust IOI
// statistics once enough hits have accumulated.
type Tracker struct {
	minHitsForSeed int
	minPeriod      float64 // 60/max_bpm
	maxPeriod      float64 // 60/min_bpm
	qPeriod        float64
	qPhase         float64
	rBase          float64

	warmupDone bool
	hits       []float64
	iois       []float64
	scratch    []float64

	periodMedian float64
	periodMAD    float64

	period float64
	phase  float64
	p00    float64
	p01    float64
	p11    float64

	lastHitTime      float64
	lastUpdateFrame  uint64
	hitCount         uint64
	confidenceGlobal float64
}

// NewTracker builds a tracker from the shared tracker configuration.
func NewTracker(cfg *config.TrackerConfig) *Tracker {
	return &Tracker{
		minHitsForSeed: cfg.MinHitsForSeed,
		minPeriod:      60.0 / cfg.MaxBPM,
		maxPeriod:      60.0 / cfg.MinBPM,
		qPeriod:        cfg.QPeriod,
		qPhase:         cfg.QPhase,
		rBase:          cfg.RBase,
		hits:           make([]float64, 0, maxHits),
		iois:           make([]float64, 0, maxHits-1),
		scratch:        make([]float64, 0, maxHits-1),
	}
}

// Predict advances phase and inflates covariance for one frame interval.
// It is called every frame, hit or no hit; until the filter has been seeded
// it leaves the state untouched.
func (tr *Tracker) Predict(dt float64) {
	if !tr.warmupDone {
		return
	}

	tr.p00 += tr.qPeriod * dt

	if tr.period > 1e-6 {
		tr.phase = wrap01(tr.phase + dt/tr.period)
	}

	// Period uncertainty leaks into phase through d(phase)/d(period).
	s := -dt / (tr.period * tr.period)
	tr.p11 += tr.qPhase*dt + s*s*tr.p00
	tr.p01 += s * tr.p00
}

// OnHit processes an observed onset at audio time t on the given frame.
func (tr *Tracker) OnHit(t float64, frame uint64) {
	tr.hits = append(tr.hits, t)
	if len(tr.hits) > maxHits {
		tr.hits = tr.hits[1:]
	}
	tr.lastHitTime = t
	tr.lastUpdateFrame = frame
	tr.hitCount++

	tr.updateIOIStats()

	if !tr.warmupDone &&
		tr.hitCount >= uint64(tr.minHitsForSeed) &&
		len(tr.iois) >= tr.minHitsForSeed-1 {
		tr.warmupDone = true
		tr.period = tr.periodMedian
		tr.phase = 0
		tr.p00 = tr.periodMAD * tr.periodMAD
		tr.p11 = 0.01
		tr.p01 = 0
	}

	if tr.warmupDone {
		tr.kalmanUpdate(wrapSigned(tr.phase))
		tr.period = clamp(tr.period, tr.minPeriod, tr.maxPeriod)
	}
}

func (tr *Tracker) kalmanUpdate(r float64) {
	// Measurement is the phase residual from the preferred impact phase 0,
	// so H = (0, 1). Measurement noise widens with IOI jitter.
	R := tr.rBase * (1 + tr.periodMAD/tr.period)
	S := tr.p11 + R
	if S < 1e-9 {
		return
	}

	k0 := tr.p01 / S
	k1 := tr.p11 / S

	tr.period -= k0 * r
	tr.phase = wrap01(tr.phase - k1*r)

	p00 := tr.p00 - k0*S*k0
	p01 := tr.p01 - k0*S*k1
	p11 := tr.p11 - k1*S*k1

	tr.p00 = math.Max(1e-6, p00)
	tr.p01 = p01
	tr.p11 = math.Max(1e-6, p11)

	// Persistent phase error indicates the period itself is off.
	if math.Abs(r) > 0.1 {
		tr.period += -0.1 * r * tr.period
	}
}

func (tr *Tracker) updateIOIStats() {
	if len(tr.hits) < 2 {
		return
	}

	tr.iois = tr.iois[:0]
	for i := 1; i < len(tr.hits); i++ {
		ioi := tr.hits[i] - tr.hits[i-1]
		if ioi >= tr.minPeriod && ioi <= tr.maxPeriod*4 {
			tr.iois = append(tr.iois, ioi)
		}
	}

	if len(tr.iois) >= 2 {
		tr.scratch = append(tr.scratch[:0], tr.iois...)
		tr.periodMedian = stats.MedianInPlace(tr.scratch)

		for i, v := range tr.iois {
			tr.scratch[i] = math.Abs(v - tr.periodMedian)
		}
		tr.scratch = tr.scratch[:len(tr.iois)]
		tr.periodMAD = madScale * stats.MedianInPlace(tr.scratch)
	}
}

// Reset returns the tracker to its cold state.
func (tr *Tracker) Reset() {
	tr.warmupDone = false
	tr.hits = tr.hits[:0]
	tr.iois = tr.iois[:0]
	tr.periodMedian = 0
	tr.periodMAD = 0
	tr.period = 0
	tr.phase = 0
	tr.p00 = 0
	tr.p01 = 0
	tr.p11 = 0
	tr.lastHitTime = 0
	tr.lastUpdateFrame = 0
	tr.hitCount = 0
	tr.confidenceGlobal = 0
}

// WarmupDone reports whether the filter has been seeded.
func (tr *Tracker) WarmupDone() bool { return tr.warmupDone }

// Period returns the tracked beat period in seconds.
func (tr *Tracker) Period() float64 { return tr.period }

// Phase returns the tracked beat phase in [0, 1).
func (tr *Tracker) Phase() float64 { return tr.phase }

// HitCount returns how many onsets this tracker has absorbed.
func (tr *Tracker) HitCount() uint64 { return tr.hitCount }

// LastHitTime returns the audio time of the most recent onset.
func (tr *Tracker) LastHitTime() float64 { return tr.lastHitTime }

// Covariance returns (P00, P01, P11) of the symmetric covariance matrix.
func (tr *Tracker) Covariance() (p00, p01, p11 float64) {
	return tr.p00, tr.p01, tr.p11
}

// PeriodStats returns the robust IOI seed statistics (median, scaled MAD).
func (tr *Tracker) PeriodStats() (median, mad float64) {
	return tr.periodMedian, tr.periodMAD
}

// ConfidenceGlobal returns the last combined confidence computed for this
// instrument by the forecaster.
func (tr *Tracker) ConfidenceGlobal() float64 { return tr.confidenceGlobal }

func wrap01(x float64) float64 {
	x = math.Mod(x, 1)
	if x < 0 {
		x++
	}
	return x
}

func wrapSigned(x float64) float64 {
	x = math.Mod(x+0.5, 1)
	if x < 0 {
		x++
	}
	return x - 0.5
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
