package audio

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Synthetic is a sensor that needs no hardware: it fabricates a spectrum whose
// low, mid and high bands swell at different rates. Used with -no-audio.
type Synthetic struct {
	bins      int
	step      float64
	rng       *rand.Rand
	phaseBass float64
	phaseMid  float64
	phaseHigh float64
	started   bool
}

// NewSynthetic returns a generator with the given bin count, advancing its
// phases by step seconds per read.
func NewSynthetic(bins int, step float64) *Synthetic {
	if bins <= 0 {
		bins = 128
	}
	if step <= 0 {
		step = 1.0 / 60.0
	}
	return &Synthetic{
		bins: bins,
		step: step,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Synthetic) Start(context.Context) error {
	s.started = true
	return nil
}

func (s *Synthetic) FrequencyData(dst []uint8) ([]uint8, bool) {
	if !s.started {
		return dst[:0], false
	}
	s.phaseBass += s.step * 0.7
	s.phaseMid += s.step * 1.2
	s.phaseHigh += s.step * 2.1

	bass := 0.5 + 0.5*math.Sin(s.phaseBass)
	mid := 0.4 + 0.4*math.Sin(s.phaseMid+0.5)
	treble := 0.3 + 0.3*math.Sin(s.phaseHigh+1.0)

	if cap(dst) < s.bins {
		dst = make([]uint8, s.bins)
	}
	dst = dst[:s.bins]
	for i := range dst {
		pos := float64(i) / float64(s.bins)
		var level float64
		switch {
		case pos < 0.15:
			level = bass
		case pos < 0.5:
			level = mid
		default:
			level = treble * (1 - pos*0.5)
		}
		level += s.rng.Float64() * 0.1
		dst[i] = uint8(clamp01(level) * 255)
	}
	return dst, true
}

func (s *Synthetic) Close() error {
	s.started = false
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
