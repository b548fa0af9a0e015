package dsp

import (
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// SpectrumAnalyzer turns an analysis frame into a magnitude spectrum of
// frameSize/2+1 bins. The Blackman-Harris window and the FFT plan are built
// once and reused; the analyzer holds no state between frames.
type SpectrumAnalyzer struct {
	frameSize int
	coeffs    []float64
	fft       *fourier.FFT

	windowed []float64
	bins     []complex128
}

// NewSpectrumAnalyzer plans an FFT of the given frame size.
func NewSpectrumAnalyzer(frameSize int) *SpectrumAnalyzer {
	coeffs := make([]float64, frameSize)
	for i := range coeffs {
		coeffs[i] = 1
	}
	window.BlackmanHarris(coeffs)

	return &SpectrumAnalyzer{
		frameSize: frameSize,
		coeffs:    coeffs,
		fft:       fourier.NewFFT(frameSize),
		windowed:  make([]float64, frameSize),
		bins:      make([]complex128, frameSize/2+1),
	}
}

// NumBins returns the magnitude spectrum length.
func (s *SpectrumAnalyzer) NumBins() int { return s.frameSize/2 + 1 }

// Magnitude computes the windowed magnitude spectrum of frame into dst,
// which must have NumBins length.
func (s *SpectrumAnalyzer) Magnitude(frame, dst []float64) {
	for i, x := range frame {
		s.windowed[i] = x * s.coeffs[i]
	}
	s.fft.Coefficients(s.bins, s.windowed)
	for i, c := range s.bins {
		dst[i] = cmplx.Abs(c)
	}
}
