package detect

import (
	"math/rand"
	"testing"
	"testing/quick"

	"github.com/candela/beatlight/internal/config"
)

func testGateConfig() *config.GateConfig {
	return &config.GateConfig{
		Method:       "hfc",
		Threshold:    1.5,
		Refractory:   0,
		Warmup:       0,
		SmoothWindow: 1,
		ODFWindow:    16,
	}
}

func TestGateOutputDomain(t *testing.T) {
	check := func(seed int64) bool {
		rng := rand.New(rand.NewSource(seed))
		g := NewGate(testGateConfig())
		for i := 0; i < 500; i++ {
			out := g.Process(rng.Float64() * 10)
			if out != 0.0 && out != 1.0 {
				return false
			}
		}
		return true
	}
	if err := quick.Check(check, &quick.Config{
		MaxCount: 20,
		Rand:     rand.New(rand.NewSource(42)),
	}); err != nil {
		t.Error(err)
	}
}

func TestGateWarmup(t *testing.T) {
	cfg := testGateConfig()
	cfg.Warmup = 20
	g := NewGate(cfg)

	for i := 0; i < 19; i++ {
		x := 0.0
		if i%2 == 1 {
			x = 100 // strong edges that would otherwise fire
		}
		if out := g.Process(x); out != 0 {
			t.Fatalf("hit emitted at frame %d during warmup", i)
		}
	}
}

func TestGateEdgeTrigger(t *testing.T) {
	t.Run("fires once per crossing", func(t *testing.T) {
		g := NewGate(testGateConfig())
		// Establish a quiet baseline so the adaptive threshold settles low.
		for i := 0; i < 16; i++ {
			g.Process(0.01)
		}
		if out := g.Process(10); out != 1 {
			t.Fatal("no hit on strong onset")
		}
		// Sustained energy: ODF falls back to ~0, then staying high must not
		// retrigger without a new rising crossing.
		if out := g.Process(10); out != 0 {
			t.Error("hit emitted while holding level")
		}
	})

	t.Run("rms method uses raw energy", func(t *testing.T) {
		cfg := testGateConfig()
		cfg.Method = "rms"
		g := NewGate(cfg)
		for i := 0; i < 16; i++ {
			g.Process(0.01)
		}
		if out := g.Process(5); out != 1 {
			t.Error("rms gate missed energy burst")
		}
	})
}

func TestGateRefractory(t *testing.T) {
	cfg := testGateConfig()
	cfg.Refractory = 6
	g := NewGate(cfg)

	// Impulse train: edge candidates every other frame.
	var hitFrames []int
	for i := 0; i < 60; i++ {
		x := 0.02
		if i%2 == 0 {
			x = 10
		}
		if g.Process(x) == 1 {
			hitFrames = append(hitFrames, i)
		}
	}

	if len(hitFrames) < 2 {
		t.Fatalf("too few hits to check spacing: %v", hitFrames)
	}
	for i := 1; i < len(hitFrames); i++ {
		if gap := hitFrames[i] - hitFrames[i-1]; gap < cfg.Refractory {
			t.Errorf("hits %d apart, refractory is %d (frames %v)", gap, cfg.Refractory, hitFrames)
		}
	}
}

func TestGateHistoryAdvancesDuringRefractory(t *testing.T) {
	cfg := testGateConfig()
	cfg.Refractory = 1000
	g := NewGate(cfg)

	for i := 0; i < 40; i++ {
		x := 0.02
		if i%2 == 0 {
			x = 10
		}
		g.Process(x)
	}
	// After the long refractory run the rolling history must be full, so the
	// adaptive threshold reflects the data, not the configured fallback.
	if got := len(g.history); got != cfg.ODFWindow {
		t.Errorf("history length = %d during refractory, want %d", got, cfg.ODFWindow)
	}
}

func TestGateFixedThresholdBeforeHistory(t *testing.T) {
	cfg := testGateConfig()
	cfg.Method = "rms"
	cfg.Threshold = 5
	g := NewGate(cfg)

	// With fewer than 8 history entries the configured threshold applies.
	if out := g.Process(4.9); out != 0 {
		t.Error("value below fixed threshold fired")
	}
	if out := g.Process(5.1); out != 1 {
		t.Error("value above fixed threshold did not fire")
	}
}

func TestPacker(t *testing.T) {
	var p Packer
	p.Begin()
	p.Set(0, 1)
	p.Set(3, 1)

	v := p.Vector()
	want := []float64{1, 0, 0, 1, 0}
	for i := range want {
		if v[i] != want[i] {
			t.Fatalf("vector = %v, want %v", v, want)
		}
	}

	p.Begin()
	for i, x := range p.Vector() {
		if x != 0 {
			t.Fatalf("slot %d = %g after Begin, want 0", i, x)
		}
	}
}
