// Package scale turns a noisy loudness reading into a smoothly animated mesh
// scale.
package scale

import "math"

const (
	// DebounceThreshold is the smallest intensity change that moves the target.
	DebounceThreshold = 0.01
	// LerpFactor is the fraction of the remaining distance covered per tick.
	LerpFactor = 0.1
)

// State is the smoother's memory between ticks.
type State struct {
	Current           float64
	Target            float64
	PreviousIntensity float64
}

// Initial returns the resting state: unit scale, silence.
func Initial() State {
	return State{Current: 1, Target: 1}
}

// Update feeds one raw intensity reading through the debounce and smoothing
// stages and returns the next state.
//
// The target only moves when the reading differs from the last accepted one by
// more than DebounceThreshold. The current scale then moves a fixed fraction
// towards the target, every call, so it approaches asymptotically and never
// overshoots.
func Update(s State, raw, sensitivity float64) State {
	if math.Abs(raw-s.PreviousIntensity) > DebounceThreshold {
		s.Target = 1 + raw*sensitivity
		s.PreviousIntensity = raw
	}
	s.Current = lerp(s.Current, s.Target, LerpFactor)
	return s
}

// lerp is written in the delta form so that current == target is a fixed point
// without rounding drift.
func lerp(current, target, factor float64) float64 {
	return current + (target-current)*factor
}
