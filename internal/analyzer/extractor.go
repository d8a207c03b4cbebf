package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
)

// ErrAudioUnavailable means the sensor could not be started. It is not fatal:
// the extractor keeps answering Poll with silence.
var ErrAudioUnavailable = errors.New("audio unavailable")

// MaxMagnitude is the largest value a frequency bin can hold.
const MaxMagnitude = 255

// Sensor is a source of frequency-domain magnitudes.
type Sensor interface {
	// Start begins capture. It may fail when the device is missing or access
	// is denied.
	Start(ctx context.Context) error
	// FrequencyData writes the current bins into dst and returns them. ok is
	// false when no sample is available yet.
	FrequencyData(dst []uint8) (bins []uint8, ok bool)
	Close() error
}

// Extractor reduces sensor bins to a single loudness value per poll.
type Extractor struct {
	sensor Sensor
	log    *log.Logger

	mu        sync.Mutex
	started   bool
	err       error
	suspended bool
	bins      []uint8
	last      float64
}

// NewExtractor wraps sensor. A nil sensor behaves as a permanently missing device.
func NewExtractor(sensor Sensor, logger *log.Logger) *Extractor {
	if logger == nil {
		logger = log.New(os.Stderr, "", 0)
	}
	return &Extractor{sensor: sensor, log: logger}
}

// Init starts the sensor. Failures are reported once and wrapped in
// ErrAudioUnavailable; nothing is retried.
func (e *Extractor) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startLocked(ctx)
}

func (e *Extractor) startLocked(ctx context.Context) error {
	if e.started {
		return nil
	}
	if e.sensor == nil {
		e.err = fmt.Errorf("%w: no input device configured", ErrAudioUnavailable)
	} else if err := e.sensor.Start(ctx); err != nil {
		e.err = fmt.Errorf("%w: %v", ErrAudioUnavailable, err)
	} else {
		e.err = nil
		e.started = true
		return nil
	}
	e.log.Printf("unable to access microphone, continuing without audio: %v", e.err)
	return e.err
}

// Reacquire closes the sensor and starts it again. A failed close is reported
// alongside the outcome of the restart.
func (e *Extractor) Reacquire(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var closeErr error
	if err := e.closeLocked(); err != nil {
		closeErr = fmt.Errorf("close sensor: %w", err)
		e.log.Printf("reacquire: %v", closeErr)
	}
	return errors.Join(closeErr, e.startLocked(ctx))
}

// Poll returns the mean bin magnitude normalised to [0,1]. It returns 0 when
// the sensor is unavailable, suspended or has nothing to report yet.
func (e *Extractor) Poll() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started || e.suspended {
		e.last = 0
		return 0
	}
	bins, ok := e.sensor.FrequencyData(e.bins)
	if !ok {
		e.last = 0
		return 0
	}
	e.bins = bins
	e.last = Intensity(bins)
	return e.last
}

// Intensity is the arithmetic mean of bins divided by MaxMagnitude.
func Intensity(bins []uint8) float64 {
	if len(bins) == 0 {
		return 0
	}
	sum := 0
	for _, b := range bins {
		sum += int(b)
	}
	return clamp(float64(sum)/float64(len(bins))/MaxMagnitude, 0, 1)
}

// Suspend makes Poll report silence without releasing the device.
func (e *Extractor) Suspend() {
	e.mu.Lock()
	e.suspended = true
	e.mu.Unlock()
}

// Resume undoes Suspend.
func (e *Extractor) Resume() {
	e.mu.Lock()
	e.suspended = false
	e.mu.Unlock()
}

// Toggle flips between suspended and live and reports whether audio is now live.
func (e *Extractor) Toggle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.suspended = !e.suspended
	return e.started && !e.suspended
}

// Active reports whether polls currently reflect the sensor.
func (e *Extractor) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started && !e.suspended
}

// Available reports whether the sensor was started successfully.
func (e *Extractor) Available() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// Err returns the last acquisition error, if any.
func (e *Extractor) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Last returns the value returned by the most recent Poll.
func (e *Extractor) Last() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Close releases the sensor. Safe to call more than once.
func (e *Extractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeLocked()
}

func (e *Extractor) closeLocked() error {
	if !e.started {
		return nil
	}
	e.started = false
	e.last = 0
	return e.sensor.Close()
}
