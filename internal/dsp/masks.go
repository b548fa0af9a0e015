package dsp

import (
	"math"
	"slices"

	"github.com/candela/beatlight/internal/config"
)

type lobe struct {
	f1, f2, weight float64
}

// instrumentLobes defines the Hz intervals each instrument's mask sums over,
// in pipeline order kick, snare, clap, chat, ohc.
var instrumentLobes = [config.NumInstruments][]lobe{
	{{40, 75, 0.75}},
	{{180, 280, 0.35}, {350, 600, 0.10}, {2000, 5000, 0.35}, {6000, 10000, 0.20}},
	{{800, 1600, 0.30}, {2000, 6000, 0.50}, {6000, 10000, 0.20}},
	{{3000, 6000, 0.25}, {7000, 12000, 0.55}, {12000, 16000, 0.20}},
	{{3000, 6000, 0.25}, {6000, 12000, 0.50}, {12000, 16000, 0.25}},
}

// InstrumentMasks projects B mel band energies onto the K per-instrument
// scalars. The weight table is immutable after construction: each row is a
// sum of flat-topped Hann lobes over fixed Hz intervals, evaluated at the
// mel-spaced band centers and normalized to unit sum.
type InstrumentMasks struct {
	numBands int
	weights  [config.NumInstruments][]float64
}

// NewInstrumentMasks builds the mask table for the given geometry. rolloff
// is the Hann edge fraction of each lobe, in (0, 0.49]. When no band center
// falls inside any of an instrument's lobes (few bands), each lobe's weight
// goes to the band whose center is nearest the lobe's midpoint instead.
func NewInstrumentMasks(sampleRate float64, numBands int, rolloff float64) *InstrumentMasks {
	nyquist := sampleRate / 2

	// Band centers at half-band offsets on the mel scale over 0..nyquist.
	centers := make([]float64, numBands)
	mel0 := hzToMel(0)
	melN := hzToMel(nyquist)
	for i := range centers {
		m := mel0 + (melN-mel0)*(float64(i)+0.5)/float64(numBands)
		centers[i] = melToHz(m)
	}

	m := &InstrumentMasks{numBands: numBands}
	for k, lobes := range instrumentLobes {
		row := make([]float64, numBands)
		for _, l := range lobes {
			addHannLobe(row, centers, l.f1, l.f2, l.weight, rolloff)
		}
		if len(row) > 0 && slices.Max(row) == 0 {
			for _, l := range lobes {
				mid, best := (l.f1+l.f2)/2, 0
				for i, c := range centers {
					if math.Abs(c-mid) < math.Abs(centers[best]-mid) {
						best = i
					}
				}
				row[best] += l.weight
			}
		}
		normalize(row)
		m.weights[k] = row
	}
	return m
}

// Apply computes the K instrument energies from B band energies. dst must
// have config.NumInstruments length.
func (m *InstrumentMasks) Apply(bands, dst []float64) {
	for k := range m.weights {
		var sum float64
		for b, w := range m.weights[k] {
			sum += w * bands[b]
		}
		dst[k] = sum
	}
}

// Weights returns the mask row for one instrument. The returned slice is the
// live table; callers must not modify it.
func (m *InstrumentMasks) Weights(instrument int) []float64 {
	return m.weights[instrument]
}

func addHannLobe(dst, centersHz []float64, f1, f2, weight, rolloff float64) {
	if f2 <= f1 {
		return
	}
	span := f2 - f1
	edge := math.Min(span*rolloff, span*0.49)
	if edge < 0 {
		edge = 0
	}
	core1 := f1 + edge
	core2 := f2 - edge
	for i, f := range centersHz {
		var w float64
		switch {
		case f >= core1 && f <= core2:
			w = 1 // flat core
		case f >= f1 && f < core1:
			x := (f - f1) / math.Max(1e-9, edge)
			w = 0.5 * (1 - math.Cos(math.Pi*x))
		case f > core2 && f <= f2:
			x := (f2 - f) / math.Max(1e-9, edge)
			w = 0.5 * (1 - math.Cos(math.Pi*x))
		}
		dst[i] += weight * w
	}
}

func normalize(v []float64) {
	var s float64
	for _, x := range v {
		s += x
	}
	if s <= 0 {
		return
	}
	inv := 1 / s
	for i := range v {
		v[i] *= inv
	}
}
