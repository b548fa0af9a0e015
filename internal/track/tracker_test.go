package track

import (
	"math"
	"math/rand"
	"testing"
	"testing/quick"

	"github.com/candela/beatlight/internal/config"
)

const (
	testFS  = 44100.0
	testHop = 256
)

var testDT = testHop / testFS

func testTrackerConfig() *config.TrackerConfig {
	return &config.TrackerConfig{
		MinHitsForSeed:      8,
		MinBPM:              60,
		MaxBPM:              200,
		QPeriod:             1e-4,
		QPhase:              1e-3,
		RBase:               0.01,
		ConfidenceDecayRate: 4.0,
	}
}

// drive runs the frame loop over hitTimes: Predict every frame, OnHit when a
// hit time is reached. Returns the final frame time.
func drive(tr *Tracker, hitTimes []float64, frames int) float64 {
	hi := 0
	t := 0.0
	for frame := 0; frame < frames; frame++ {
		tr.Predict(testDT)
		if hi < len(hitTimes) && t >= hitTimes[hi] {
			tr.OnHit(t, uint64(frame))
			hi++
		}
		t = float64(frame+1) * testDT
	}
	return t
}

func isochronousHits(n int, period float64) []float64 {
	times := make([]float64, n)
	for i := range times {
		times[i] = float64(i+1) * period
	}
	return times
}

func TestTrackerWarmup(t *testing.T) {
	cfg := testTrackerConfig()
	cfg.MaxBPM = 300 // admit the ~258 BPM test pattern
	tr := NewTracker(cfg)

	// Hits every 40 frames: period = 40*256/44100 ~ 0.2322 s.
	period := 40 * testDT
	hitTimes := make([]float64, 0, 8)
	for f := 40; f <= 320; f += 40 {
		hitTimes = append(hitTimes, float64(f)*testDT)
	}

	t.Run("not warm before min hits", func(t *testing.T) {
		tr.Reset()
		drive(tr, hitTimes[:5], 210)
		if tr.WarmupDone() {
			t.Fatal("tracker warm after 5 hits, min_hits_for_seed is 8")
		}
	})

	t.Run("warm at eighth hit with median seed", func(t *testing.T) {
		tr.Reset()
		drive(tr, hitTimes, 322)
		if !tr.WarmupDone() {
			t.Fatal("tracker not warm after 8 isochronous hits")
		}
		if math.Abs(tr.Period()-period) > 0.01 {
			t.Errorf("seeded period = %g, want ~%g", tr.Period(), period)
		}
	})
}

func TestTrackerPeriodBounds(t *testing.T) {
	check := func(seed int64) bool {
		cfg := testTrackerConfig()
		tr := NewTracker(cfg)
		rng := rand.New(rand.NewSource(seed))

		// Random jittered hit train around 0.5 s.
		var hitTimes []float64
		t := 0.0
		for i := 0; i < 30; i++ {
			t += 0.5 + rng.NormFloat64()*0.05
			hitTimes = append(hitTimes, t)
		}
		frames := int(hitTimes[len(hitTimes)-1]/testDT) + 2
		drive(tr, hitTimes, frames)

		if !tr.WarmupDone() {
			return true
		}
		minP := 60.0 / cfg.MaxBPM
		maxP := 60.0 / cfg.MinBPM
		if tr.Period() < minP || tr.Period() > maxP {
			return false
		}
		p00, _, p11 := tr.Covariance()
		return p00 >= 1e-6 && p11 >= 1e-6
	}
	if err := quick.Check(check, &quick.Config{
		MaxCount: 30,
		Rand:     rand.New(rand.NewSource(42)),
	}); err != nil {
		t.Error(err)
	}
}

func TestTrackerTempoStep(t *testing.T) {
	cfg := testTrackerConfig()
	cfg.RBase = 0.005
	tr := NewTracker(cfg)

	// 120 BPM for 20 hits, then 140 BPM.
	p1, p2 := 0.5, 60.0/140.0
	hitTimes := isochronousHits(20, p1)
	start := hitTimes[len(hitTimes)-1]
	for i := 1; i <= 10; i++ {
		hitTimes = append(hitTimes, start+float64(i)*p2)
	}

	hi := 0
	tNow := 0.0
	var errAt6 float64 = math.NaN()
	frames := int(hitTimes[len(hitTimes)-1]/testDT) + 2
	fc := NewForecaster(&config.ForecastConfig{
		HorizonSeconds:              2,
		MaxPredictionsPerInstrument: 2,
		ConfidenceThresholdMin:      0.3,
		PeriodicIntervalSec:         0.15,
	}, cfg)
	for frame := 0; frame < frames; frame++ {
		tr.Predict(testDT)
		if hi < len(hitTimes) && tNow >= hitTimes[hi] {
			tr.OnHit(tNow, uint64(frame))
			hi++
			if hi == 26 {
				errAt6 = math.Abs(tr.Period() - p2)
			}
		}
		tNow = float64(frame+1) * testDT
	}

	if math.IsNaN(errAt6) {
		t.Fatal("sixth post-step hit never reached")
	}
	if errAt6 > 0.02 {
		t.Errorf("period error %g after 6 post-step hits, want <= 0.02", errAt6)
	}

	forecasts := fc.Forecast([]*Tracker{tr, tr, tr, tr, tr}, tNow)
	if got := forecasts[0].ConfidenceGlobal; got < 0.5 {
		t.Errorf("confidence_global = %g after tempo step, want >= 0.5", got)
	}
}

func TestTrackerCovarianceInvariants(t *testing.T) {
	cfg := testTrackerConfig()
	tr := NewTracker(cfg)
	drive(tr, isochronousHits(20, 0.5), int(10.2/testDT))

	if !tr.WarmupDone() {
		t.Fatal("not warm")
	}
	p00, _, p11 := tr.Covariance()
	if p00 < 1e-6 {
		t.Errorf("P00 = %g, want >= 1e-6", p00)
	}
	if p11 < 1e-6 {
		t.Errorf("P11 = %g, want >= 1e-6", p11)
	}
	if tr.Phase() < 0 || tr.Phase() >= 1 {
		t.Errorf("phase = %g, want in [0,1)", tr.Phase())
	}
}

func TestTrackerIOIOutlierRejection(t *testing.T) {
	cfg := testTrackerConfig()
	tr := NewTracker(cfg)

	// Regular 0.5 s train with one long dropout; the 8 s gap exceeds
	// 4*maxPeriod and must not pollute the IOI statistics.
	hitTimes := isochronousHits(10, 0.5)
	last := hitTimes[len(hitTimes)-1]
	for i := 1; i <= 10; i++ {
		hitTimes = append(hitTimes, last+8+float64(i)*0.5)
	}
	frames := int(hitTimes[len(hitTimes)-1]/testDT) + 2
	drive(tr, hitTimes, frames)

	median, _ := tr.PeriodStats()
	if math.Abs(median-0.5) > 0.02 {
		t.Errorf("period median = %g with dropout gap, want ~0.5", median)
	}
}

func TestWrapHelpers(t *testing.T) {
	cases := []struct{ in, want01, wantSigned float64 }{
		{0, 0, 0},
		{0.25, 0.25, 0.25},
		{0.5, 0.5, -0.5},
		{0.75, 0.75, -0.25},
		{1.0, 0, 0},
		{1.25, 0.25, 0.25},
		{-0.25, 0.75, -0.25},
	}
	for _, c := range cases {
		if got := wrap01(c.in); math.Abs(got-c.want01) > 1e-12 {
			t.Errorf("wrap01(%g) = %g, want %g", c.in, got, c.want01)
		}
		if got := wrapSigned(c.in); math.Abs(got-c.wantSigned) > 1e-12 {
			t.Errorf("wrapSigned(%g) = %g, want %g", c.in, got, c.wantSigned)
		}
	}
}
