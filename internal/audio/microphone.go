package audio

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/guidoenr/audiosphere/internal/analyzer"
)

// Microphone is an analyzer.Sensor backed by a PortAudio input stream.
type Microphone struct {
	cfg      Config
	log      *log.Logger
	spectrum *analyzer.Spectrum

	mu      sync.Mutex
	capture *Capture
	samples []float32
}

// NewMicrophone prepares a microphone sensor; the device is opened by Start.
func NewMicrophone(cfg Config, spectrum *analyzer.Spectrum, logger *log.Logger) *Microphone {
	if spectrum == nil {
		spectrum = analyzer.New(analyzer.Config{})
	}
	if logger == nil {
		logger = log.New(os.Stderr, "", 0)
	}
	if cfg.BufferSize < spectrum.FFTSize() {
		cfg.BufferSize = max(defaultBufferSize, spectrum.FFTSize())
	}
	return &Microphone{cfg: cfg, log: logger, spectrum: spectrum}
}

// Start takes a PortAudio reference and opens the capture stream.
func (m *Microphone) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.capture != nil {
		return nil
	}
	if err := Initialize(); err != nil {
		return err
	}
	capture, err := NewCapture(m.cfg)
	if err != nil {
		Terminate()
		return fmt.Errorf("audio capture: %w", err)
	}
	m.capture = capture
	m.spectrum.Reset()
	if info := capture.Device(); info != nil {
		m.log.Printf("audio capture started on %q @ %.0f Hz", info.Name, capture.SampleRate())
	} else {
		m.log.Printf("audio capture started @ %.0f Hz", capture.SampleRate())
	}
	return nil
}

// FrequencyData runs the spectrum over the newest captured samples.
func (m *Microphone) FrequencyData(dst []uint8) ([]uint8, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.capture == nil {
		return dst[:0], false
	}
	samples, ok := m.capture.Samples(m.samples)
	m.samples = samples
	if !ok {
		return dst[:0], false
	}
	return m.spectrum.ByteFrequencyData(samples, dst), true
}

// DeviceName returns the open device name, or "" when closed.
func (m *Microphone) DeviceName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.capture == nil || m.capture.Device() == nil {
		return ""
	}
	return m.capture.Device().Name
}

// Close stops the capture stream and releases PortAudio.
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.capture == nil {
		return nil
	}
	err := m.capture.Close()
	m.capture = nil
	Terminate()
	return err
}
