package graph

import "math"

// Aggregate accumulates running statistics for one instrument's band energy
// stream and gate output.
type Aggregate struct {
	Count uint64  `yaml:"count"`
	Mean  float64 `yaml:"mean"`
	Min   float64 `yaml:"min"`
	Max   float64 `yaml:"max"`
	Hits  uint64  `yaml:"hits"`

	sum float64
}

func (a *Aggregate) observe(energy, gate float64) {
	if a.Count == 0 {
		a.Min = math.Inf(1)
		a.Max = math.Inf(-1)
	}
	a.Count++
	a.sum += energy
	a.Mean = a.sum / float64(a.Count)
	if energy < a.Min {
		a.Min = energy
	}
	if energy > a.Max {
		a.Max = energy
	}
	if gate >= 0.5 {
		a.Hits++
	}
}
