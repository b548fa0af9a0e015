package dsp

import "math/rand"

// silenceFloor is the mean-square level below which a frame counts as silent
// and receives injected noise so downstream spectra stay non-degenerate.
const silenceFloor = 1e-12

// noiseAmplitude is the peak level of the injected dither.
const noiseAmplitude = 1e-9

// Framer assembles fixed-size overlapping analysis frames from hop-sized
// sample chunks. The first frame is emitted once frameSize samples have
// accumulated; after that one frame is produced per hop.
type Framer struct {
	frameSize int
	hopSize   int

	buf    []float64
	filled int
	rng    *rand.Rand

	frames       uint64
	silentFrames uint64
}

// NewFramer creates a framer for the given analysis geometry.
func NewFramer(frameSize, hopSize int) *Framer {
	return &Framer{
		frameSize: frameSize,
		hopSize:   hopSize,
		buf:       make([]float64, frameSize),
		rng:       rand.New(rand.NewSource(1)),
	}
}

// Push appends one hop of samples. It returns the current analysis frame and
// true when a full frame is available; the returned slice is reused across
// calls and must be consumed before the next Push.
func (f *Framer) Push(hop []float32) ([]float64, bool) {
	n := len(hop)
	if f.filled+n <= f.frameSize {
		for i, s := range hop {
			f.buf[f.filled+i] = float64(s)
		}
		f.filled += n
		if f.filled < f.frameSize {
			return nil, false
		}
	} else {
		copy(f.buf, f.buf[n:])
		for i, s := range hop {
			f.buf[f.frameSize-n+i] = float64(s)
		}
	}

	f.frames++
	if f.isSilent() {
		f.injectNoise()
		f.silentFrames++
	}
	return f.buf, true
}

// Reset discards buffered samples and counters.
func (f *Framer) Reset() {
	f.filled = 0
	f.frames = 0
	f.silentFrames = 0
}

// SilentFrames reports how many emitted frames needed noise injection.
func (f *Framer) SilentFrames() uint64 { return f.silentFrames }

func (f *Framer) isSilent() bool {
	var sum float64
	for _, s := range f.buf {
		sum += s * s
	}
	return sum/float64(f.frameSize) < silenceFloor
}

func (f *Framer) injectNoise() {
	for i := range f.buf {
		f.buf[i] += (f.rng.Float64()*2 - 1) * noiseAmplitude
	}
}
