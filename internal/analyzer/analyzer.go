package analyzer

import (
	"math"

	"github.com/mjibson/go-dsp/fft"
)

// Spectrum converts time-domain samples into byte-scaled frequency bins the
// same way a browser AnalyserNode does: Blackman window, FFT, per-bin smoothing
// across calls, then a linear map of decibels onto 0..255.
type Spectrum struct {
	size        int
	smoothing   float64
	minDecibels float64
	maxDecibels float64

	window   []float64
	frame    []float64
	smoothed []float64
}

// Config controls Spectrum behaviour.
type Config struct {
	FFTSize     int
	Smoothing   float64
	MinDecibels float64
	MaxDecibels float64
}

const (
	defaultFFTSize     = 256
	defaultSmoothing   = 0.8
	defaultMinDecibels = -100
	defaultMaxDecibels = -30
)

// New creates a Spectrum with analyser-node defaults for unset fields.
func New(cfg Config) *Spectrum {
	if cfg.FFTSize <= 0 {
		cfg.FFTSize = defaultFFTSize
	}
	cfg.FFTSize = nextPow2(cfg.FFTSize)
	if cfg.FFTSize < 32 {
		cfg.FFTSize = 32
	}
	if cfg.Smoothing <= 0 || cfg.Smoothing >= 1 {
		cfg.Smoothing = defaultSmoothing
	}
	if cfg.MinDecibels == 0 && cfg.MaxDecibels == 0 {
		cfg.MinDecibels = defaultMinDecibels
		cfg.MaxDecibels = defaultMaxDecibels
	}
	if cfg.MaxDecibels <= cfg.MinDecibels {
		cfg.MinDecibels = defaultMinDecibels
		cfg.MaxDecibels = defaultMaxDecibels
	}

	s := &Spectrum{
		size:        cfg.FFTSize,
		smoothing:   cfg.Smoothing,
		minDecibels: cfg.MinDecibels,
		maxDecibels: cfg.MaxDecibels,
		window:      make([]float64, cfg.FFTSize),
		frame:       make([]float64, cfg.FFTSize),
		smoothed:    make([]float64, cfg.FFTSize/2),
	}
	sizeF := float64(cfg.FFTSize)
	for i := range s.window {
		s.window[i] = blackman(float64(i), sizeF)
	}
	return s
}

// Bins returns the number of frequency bins (half the FFT size).
func (s *Spectrum) Bins() int { return s.size / 2 }

// FFTSize returns the transform length.
func (s *Spectrum) FFTSize() int { return s.size }

// ByteFrequencyData analyses the most recent FFTSize samples and writes one
// byte per bin into dst, which is grown when too small. Missing leading
// samples count as silence.
func (s *Spectrum) ByteFrequencyData(samples []float32, dst []uint8) []uint8 {
	bins := s.Bins()
	if cap(dst) < bins {
		dst = make([]uint8, bins)
	}
	dst = dst[:bins]

	offset := len(samples) - s.size
	for i := range s.frame {
		j := offset + i
		if j < 0 {
			s.frame[i] = 0
			continue
		}
		s.frame[i] = float64(samples[j]) * s.window[i]
	}

	spectrum := fft.FFTReal(s.frame)

	scale := 1.0 / float64(s.size)
	rangeDb := s.maxDecibels - s.minDecibels
	for k := 0; k < bins; k++ {
		mag := cmag(spectrum[k]) * scale
		s.smoothed[k] = s.smoothing*s.smoothed[k] + (1-s.smoothing)*mag

		db := linearToDecibels(s.smoothed[k])
		v := 255 * (db - s.minDecibels) / rangeDb
		dst[k] = uint8(clamp(v, 0, 255))
	}
	return dst
}

// Reset clears the smoothing history.
func (s *Spectrum) Reset() {
	for i := range s.smoothed {
		s.smoothed[i] = 0
	}
}

func linearToDecibels(v float64) float64 {
	if v <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(v)
}

func blackman(i, size float64) float64 {
	const alpha = 0.16
	a0 := 0.5 * (1 - alpha)
	a1 := 0.5
	a2 := 0.5 * alpha
	x := 2 * math.Pi * i / size
	return a0 - a1*math.Cos(x) + a2*math.Cos(2*x)
}

func cmag(c complex128) float64 {
	return math.Sqrt(real(c)*real(c) + imag(c)*imag(c))
}

func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}

func clamp(v, minVal, maxVal float64) float64 {
	if v < minVal {
		return minVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}
