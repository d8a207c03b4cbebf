package audio

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Capture wraps a PortAudio input stream and keeps the most recent mono
// samples in a ring buffer.
type Capture struct {
	stream     *portaudio.Stream
	sampleRate float64
	channels   int
	device     *portaudio.DeviceInfo

	mu     sync.RWMutex
	buffer []float32
	index  int
	ready  bool
	mono   []float32
}

// Config controls how a Capture instance is created.
type Config struct {
	DeviceName string
	BufferSize int
	Channels   int
}

const defaultBufferSize = 2048

// NewCapture opens a PortAudio stream using the provided configuration.
func NewCapture(cfg Config) (*Capture, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	device, err := findDevice(cfg.DeviceName)
	if err != nil {
		return nil, err
	}
	if cfg.Channels > device.MaxInputChannels {
		cfg.Channels = device.MaxInputChannels
	}

	inParams := portaudio.StreamDeviceParameters{
		Device:   device,
		Channels: cfg.Channels,
		Latency:  device.DefaultLowInputLatency,
	}

	sampleRate := device.DefaultSampleRate

	capture := &Capture{
		sampleRate: sampleRate,
		buffer:     make([]float32, cfg.BufferSize),
		channels:   cfg.Channels,
		device:     device,
	}

	// A quarter of the ring per callback keeps the newest window fresh at
	// display rates.
	framesPerBuffer := len(capture.buffer) / 4
	if framesPerBuffer < 64 {
		framesPerBuffer = portaudio.FramesPerBufferUnspecified
	}

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input:           inParams,
		Output:          portaudio.StreamDeviceParameters{},
		SampleRate:      sampleRate,
		FramesPerBuffer: framesPerBuffer,
	}, capture.process)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}

	capture.stream = stream

	if err := capture.stream.Start(); err != nil {
		_ = capture.stream.Close()
		return nil, fmt.Errorf("start stream: %w", err)
	}

	return capture, nil
}

// Close stops and closes the underlying PortAudio stream. Further calls are no-ops.
func (c *Capture) Close() error {
	if c.stream == nil {
		return nil
	}
	stream := c.stream
	c.stream = nil
	if err := stream.Stop(); err != nil && !errorsIsInvalidStreamState(err) {
		_ = stream.Close()
		return err
	}
	return stream.Close()
}

// SampleRate returns the stream sample rate.
func (c *Capture) SampleRate() float64 {
	return c.sampleRate
}

// Device returns the PortAudio device associated with the capture stream.
func (c *Capture) Device() *portaudio.DeviceInfo {
	return c.device
}

// Samples copies the ring buffer into dst, oldest sample first, and returns
// it. ok is false until the callback has delivered at least one block.
func (c *Capture) Samples(dst []float32) (samples []float32, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if cap(dst) < len(c.buffer) {
		dst = make([]float32, len(c.buffer))
	}
	dst = dst[:len(c.buffer)]
	copy(dst, c.buffer[c.index:])
	copy(dst[len(c.buffer)-c.index:], c.buffer[:c.index])
	return dst, c.ready
}

func (c *Capture) process(in []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = c.ready || len(in) > 0

	if c.channels > 1 {
		frames := len(in) / c.channels
		if cap(c.mono) < frames {
			c.mono = make([]float32, frames)
		}
		mono := c.mono[:frames]
		for i := range mono {
			sum := float32(0)
			base := i * c.channels
			for ch := 0; ch < c.channels; ch++ {
				sum += in[base+ch]
			}
			mono[i] = sum / float32(c.channels)
		}
		c.mixIntoBuffer(mono)
		return
	}

	c.mixIntoBuffer(in)
}

func (c *Capture) mixIntoBuffer(in []float32) {
	if len(in) == 0 {
		return
	}

	if len(in) >= len(c.buffer) {
		copy(c.buffer, in[len(in)-len(c.buffer):])
		c.index = 0
		return
	}

	if c.index+len(in) <= len(c.buffer) {
		copy(c.buffer[c.index:], in)
		c.index += len(in)
		if c.index == len(c.buffer) {
			c.index = 0
		}
		return
	}

	remaining := len(c.buffer) - c.index
	copy(c.buffer[c.index:], in[:remaining])
	copy(c.buffer, in[remaining:])
	c.index = len(in) - remaining
}

// findDevice resolves the input device to open. An explicit name is matched
// case-insensitively as a substring; otherwise the host default input wins,
// falling back to the best scored microphone.
func findDevice(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}
	if name != "" {
		if dev := matchDevice(devices, name); dev != nil {
			return dev, nil
		}
		return nil, fmt.Errorf("audio device %q not found", name)
	}

	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil && def.MaxInputChannels > 0 {
		return def, nil
	}
	hostDefault := -1
	if host, err := portaudio.DefaultHostApi(); err == nil && host != nil && host.DefaultInputDevice != nil {
		hostDefault = host.DefaultInputDevice.Index
	}
	if dev := bestMicrophone(devices, hostDefault); dev != nil {
		return dev, nil
	}
	return nil, fmt.Errorf("no audio input device found")
}

func matchDevice(devices []*portaudio.DeviceInfo, name string) *portaudio.DeviceInfo {
	name = strings.ToLower(name)
	for _, d := range devices {
		if d == nil || d.MaxInputChannels <= 0 {
			continue
		}
		if strings.Contains(strings.ToLower(d.Name), name) {
			return d
		}
	}
	return nil
}

// bestMicrophone ranks the input-capable devices with scoreInput. Ties are
// broken by name so the choice is stable across runs.
func bestMicrophone(devices []*portaudio.DeviceInfo, defaultIndex int) *portaudio.DeviceInfo {
	var (
		best      *portaudio.DeviceInfo
		bestScore int
	)
	for _, d := range devices {
		if d == nil || d.MaxInputChannels <= 0 {
			continue
		}
		score := scoreInput(d.Name, d.MaxInputChannels, d.Index == defaultIndex)
		if best == nil || score > bestScore ||
			(score == bestScore && strings.ToLower(d.Name) < strings.ToLower(best.Name)) {
			best, bestScore = d, score
		}
	}
	return best
}

var (
	microphoneHints = []string{"mic", "microphone", "headset", "webcam", "input"}
	// Loopback sources capture what the machine plays, not the room.
	loopbackHints = []string{"monitor", "loopback", "stereo mix", "what u hear"}
)

// scoreInput rates a device as a source of ambient sound.
func scoreInput(name string, channels int, isDefault bool) int {
	lower := strings.ToLower(name)
	score := min(channels, 2)
	if isDefault {
		score += 50
	}
	for _, kw := range microphoneHints {
		if strings.Contains(lower, kw) {
			score += 20
			break
		}
	}
	for _, kw := range loopbackHints {
		if strings.Contains(lower, kw) {
			score -= 40
			break
		}
	}
	if strings.Contains(lower, "default") {
		score += 10
	}
	return score
}

// errorsIsInvalidStreamState checks if the provided error stems from stopping an already stopped stream.
func errorsIsInvalidStreamState(err error) bool {
	if err == nil {
		return false
	}
	const invalidStateMsg = "PaErrorCode -9986"
	return strings.Contains(err.Error(), invalidStateMsg)
}

// AutoDetectDevice returns the best available input device PortAudio can find.
func AutoDetectDevice() (*portaudio.DeviceInfo, error) {
	return findDevice("")
}
