package dsp

import "math"

// hzToMel and melToHz implement the 2595*log10(1+f/700) mel scale used by
// both the filterbank and the instrument mask band centers.
func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// MelBank projects a magnitude spectrum onto B triangular mel filters
// spanning 0..fs/2. Filters are precomputed at construction.
type MelBank struct {
	numBands int
	filters  [][]float64 // per band, one weight per spectrum bin
}

// NewMelBank builds the filterbank for a spectrum of numBins bins covering
// 0..sampleRate/2.
func NewMelBank(sampleRate float64, numBins, numBands int) *MelBank {
	nyquist := sampleRate / 2

	// B+2 edge points evenly spaced on the mel scale.
	melLo := hzToMel(0)
	melHi := hzToMel(nyquist)
	edges := make([]float64, numBands+2)
	for i := range edges {
		mel := melLo + (melHi-melLo)*float64(i)/float64(numBands+1)
		edges[i] = melToHz(mel)
	}

	hzPerBin := nyquist / float64(numBins-1)
	filters := make([][]float64, numBands)
	for b := 0; b < numBands; b++ {
		lo, mid, hi := edges[b], edges[b+1], edges[b+2]
		w := make([]float64, numBins)
		for i := 0; i < numBins; i++ {
			f := float64(i) * hzPerBin
			switch {
			case f <= lo || f >= hi:
				// outside the triangle
			case f <= mid:
				w[i] = (f - lo) / math.Max(mid-lo, 1e-12)
			default:
				w[i] = (hi - f) / math.Max(hi-mid, 1e-12)
			}
		}
		filters[b] = w
	}

	return &MelBank{numBands: numBands, filters: filters}
}

// NumBands returns B.
func (m *MelBank) NumBands() int { return m.numBands }

// Apply accumulates spectrum energy into dst, one value per band. dst must
// have NumBands length.
func (m *MelBank) Apply(spectrum, dst []float64) {
	for b, filt := range m.filters {
		var sum float64
		for i, w := range filt {
			if w != 0 {
				sum += w * spectrum[i]
			}
		}
		dst[b] = sum
	}
}
