package detect

import "github.com/candela/beatlight/internal/config"

// Packer assembles the per-frame vector of gate outputs, one slot per
// instrument in pipeline order. Slots not written this frame read as zero.
type Packer struct {
	vec [config.NumInstruments]float64
}

// Begin clears the vector for a new frame.
func (p *Packer) Begin() {
	p.vec = [config.NumInstruments]float64{}
}

// Set stores one gate output.
func (p *Packer) Set(instrument int, value float64) {
	p.vec[instrument] = value
}

// Vector returns the packed K-vector for the current frame. The backing
// array is reused across frames.
func (p *Packer) Vector() []float64 {
	return p.vec[:]
}
