package detect

import (
	"github.com/candela/beatlight/internal/config"
	"github.com/candela/beatlight/internal/stats"
)

// Floors applied when the rolling statistics degenerate.
const (
	minMADMultiplier = 0.3
	minMAD           = 1e-6
)

// minHistoryForStats is the rolling-history size below which the gate falls
// back to the configured fixed threshold.
const minHistoryForStats = 8

// Gate is a per-instrument percussive onset detector. It turns a scalar band
// energy per frame into a 0/1 hit signal using a smoothed onset detection
// function, an adaptive median+MAD threshold, rising-edge triggering and a
// refractory hold-off.
//
// State advances on every frame, including during warmup and refractory, so
// the rolling statistics never stall.
type Gate struct {
	method       string
	threshold    float64
	refractory   int
	warmup       int
	smoothWindow int
	odfWindow    int

	framesSeen int
	refCount   int
	haveLast   bool
	lastX      float64

	smooth    []float64 // ODF smoothing deque, most recent last
	history   []float64 // rolling smoothed-ODF ring
	histStart int
	scratch   []float64 // selection workspace

	prevSmoothed float64
	wasAbove     bool

	hitCount uint64
}

// NewGate builds a gate from its configuration. Parameters are assumed
// validated; sensitivity is recognized but not applied to the ODF path.
func NewGate(cfg *config.GateConfig) *Gate {
	return &Gate{
		method:       cfg.Method,
		threshold:    cfg.Threshold,
		refractory:   cfg.Refractory,
		warmup:       cfg.Warmup,
		smoothWindow: cfg.SmoothWindow,
		odfWindow:    cfg.ODFWindow,
		smooth:       make([]float64, 0, cfg.SmoothWindow),
		history:      make([]float64, 0, cfg.ODFWindow),
		scratch:      make([]float64, 0, cfg.ODFWindow),
	}
}

// Process consumes one band-energy sample and returns exactly 0.0 or 1.0.
func (g *Gate) Process(x float64) float64 {
	g.framesSeen++
	enabled := g.framesSeen >= g.warmup

	if g.refCount > 0 {
		g.refCount--
	}
	inRefractory := g.refCount > 0

	odf := g.odf(x)
	smoothed := g.smoothODF(odf)
	g.pushHistory(smoothed)

	threshold := g.adaptiveThreshold()

	above := smoothed > threshold
	rising := smoothed >= g.prevSmoothed

	out := 0.0
	if enabled && above && !g.wasAbove && rising {
		if inRefractory {
			out = 0
		} else {
			out = 1
			g.refCount = g.refractory
			g.hitCount++
		}
	}

	g.wasAbove = above
	g.prevSmoothed = smoothed
	return out
}

// Reset restores the gate to its initial state.
func (g *Gate) Reset() {
	g.framesSeen = 0
	g.refCount = 0
	g.haveLast = false
	g.lastX = 0
	g.smooth = g.smooth[:0]
	g.history = g.history[:0]
	g.histStart = 0
	g.prevSmoothed = 0
	g.wasAbove = false
	g.hitCount = 0
}

// Hits reports how many onsets this gate has emitted.
func (g *Gate) Hits() uint64 { return g.hitCount }

func (g *Gate) odf(x float64) float64 {
	switch g.method {
	case "rms":
		return x
	default: // hfc, flux, default: positive energy difference
		var v float64
		if g.haveLast {
			v = x - g.lastX
			if v < 0 {
				v = 0
			}
		}
		g.lastX = x
		g.haveLast = true
		return v
	}
}

func (g *Gate) smoothODF(v float64) float64 {
	if len(g.smooth) == g.smoothWindow {
		copy(g.smooth, g.smooth[1:])
		g.smooth[len(g.smooth)-1] = v
	} else {
		g.smooth = append(g.smooth, v)
	}
	var sum float64
	for _, s := range g.smooth {
		sum += s
	}
	return sum / float64(len(g.smooth))
}

func (g *Gate) pushHistory(v float64) {
	if len(g.history) < g.odfWindow {
		g.history = append(g.history, v)
		return
	}
	g.history[g.histStart] = v
	g.histStart = (g.histStart + 1) % g.odfWindow
}

func (g *Gate) adaptiveThreshold() float64 {
	if len(g.history) < minHistoryForStats {
		return g.threshold
	}

	g.scratch = append(g.scratch[:0], g.history...)
	m := stats.MedianInPlace(g.scratch)

	for i, v := range g.history {
		d := v - m
		if d < 0 {
			d = -d
		}
		g.scratch[i] = d
	}
	g.scratch = g.scratch[:len(g.history)]
	d := stats.MedianInPlace(g.scratch)

	k := g.threshold
	if k < minMADMultiplier {
		k = minMADMultiplier
	}
	if d < minMAD {
		d = minMAD
	}
	return m + k*d
}
