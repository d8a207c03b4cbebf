package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/eiannone/keyboard"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/guidoenr/audiosphere/internal/analyzer"
	"github.com/guidoenr/audiosphere/internal/audio"
	"github.com/guidoenr/audiosphere/internal/engine"
	"github.com/guidoenr/audiosphere/internal/params"
	"github.com/guidoenr/audiosphere/internal/render"
	"github.com/guidoenr/audiosphere/internal/web"
)

const statusInterval = 250 * time.Millisecond

// Config configures the application runtime.
type Config struct {
	Shape params.ShapeConfig
	// ConfigPath is the TOML file used by the web panel's save and, when
	// WatchConfig is set, reloaded on change.
	ConfigPath  string
	WatchConfig bool

	DeviceName    string
	BufferSize    int
	DisableAudio  bool
	TargetFPS     float64
	Width         int
	Height        int
	ShowStatusBar bool
	Palette       string
	UseANSI       bool
	Windowed      bool
	Keyboard      bool
	// WebAddr enables the control panel, e.g. ":8080".
	WebAddr     string
	ProfilePath string
	Out         io.Writer
	Log         *log.Logger
}

type inputEvent int

const (
	inputEventQuit inputEvent = iota
	inputEventToggleAudio
	inputEventReacquireAudio
	inputEventRandomize
	inputEventNextPalette
	inputEventWavesUp
	inputEventWavesDown
	inputEventFaster
	inputEventSlower
	inputEventSensitivityUp
	inputEventSensitivityDown
)

// App ties together audio capture, the sphere engine and the render sink.
type App struct {
	cfg         Config
	log         *log.Logger
	renderer    *render.Renderer
	extractor   *analyzer.Extractor
	engine      *engine.Engine
	profiler    *Profiler
	web         *web.Server
	sensor      analyzer.Sensor
	rng         *rand.Rand
	inputEvents chan inputEvent
	closeOnce   sync.Once
}

// New constructs the application using the provided configuration.
func New(cfg Config) (*App, error) {
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = 60
	}
	if cfg.Log == nil {
		cfg.Log = log.New(os.Stderr, "", 0)
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = params.DefaultPath()
	}
	if cfg.Shape == (params.ShapeConfig{}) {
		cfg.Shape = params.Defaults()
	}

	renderer, err := render.New(render.Config{
		Width:         cfg.Width,
		Height:        cfg.Height,
		Palette:       cfg.Palette,
		UseANSI:       cfg.UseANSI,
		ShowStatusBar: cfg.ShowStatusBar,
		Windowed:      cfg.Windowed,
		Out:           cfg.Out,
	})
	if err != nil {
		return nil, fmt.Errorf("renderer: %w", err)
	}

	a := &App{
		cfg:      cfg,
		log:      cfg.Log,
		renderer: renderer,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if cfg.DisableAudio {
		a.sensor = audio.NewSynthetic(0, 1/cfg.TargetFPS)
		a.log.Println("audio disabled, using synthetic generator")
	} else {
		a.sensor = audio.NewMicrophone(audio.Config{
			DeviceName: cfg.DeviceName,
			BufferSize: cfg.BufferSize,
			Channels:   2,
		}, analyzer.New(analyzer.Config{}), cfg.Log)
	}
	a.extractor = analyzer.NewExtractor(a.sensor, cfg.Log)

	var tracer engine.Tracer
	if a.profiler = NewProfiler(cfg.ProfilePath, cfg.Log); a.profiler != nil {
		tracer = a.profiler
	}

	a.engine, err = engine.New(engine.Config{
		Shape:     cfg.Shape,
		TargetFPS: cfg.TargetFPS,
		Tracer:    tracer,
		Log:       cfg.Log,
	}, renderer, a.extractor)
	if err != nil {
		renderer.Close()
		a.profiler.Close()
		return nil, err
	}

	if cfg.WebAddr != "" {
		a.web = web.NewServer(web.Options{
			Engine:     a.engine,
			Audio:      a.extractor,
			Palette:    renderer,
			ConfigPath: cfg.ConfigPath,
			Log:        cfg.Log,
		})
	}
	return a, nil
}

// Engine exposes the running engine.
func (a *App) Engine() *engine.Engine { return a.engine }

// Run drives the sphere until ctx is cancelled, the user quits, or the render
// window is closed.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.renderer.Begin()
	defer a.renderer.End()

	// The extractor already logged the failure; the sphere runs silent.
	_ = a.engine.Activate(ctx)
	defer a.engine.Deactivate()
	done := a.engine.Done()

	if a.cfg.Keyboard {
		a.startInputListener(ctx)
	}
	patches := a.startConfigWatcher(ctx)
	if a.web != nil {
		go func() {
			if err := a.web.Run(ctx, a.cfg.WebAddr); err != nil {
				a.log.Printf("web panel stopped: %v", err)
			}
		}()
	}

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	a.renderer.SetLabel(a.statusLabel())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := a.engine.Err(); err != nil && !errors.Is(err, engine.ErrQuit) {
				return err
			}
			return nil
		case evt, ok := <-a.inputEvents:
			if !ok {
				a.inputEvents = nil
				continue
			}
			if a.handleEvent(ctx, evt) {
				return nil
			}
		case patch := <-patches:
			if err := a.engine.Apply(patch); err == nil {
				a.log.Printf("config reloaded from %s", a.cfg.ConfigPath)
			}
		case <-ticker.C:
			a.renderer.SetLabel(a.statusLabel())
		}
	}
}

// Close releases held resources.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		err = errors.Join(
			a.engine.Deactivate(),
			a.extractor.Close(),
			a.renderer.Close(),
			a.profiler.Close(),
		)
	})
	return err
}

// handleEvent applies one hotkey. It reports true when the app should exit.
func (a *App) handleEvent(ctx context.Context, evt inputEvent) bool {
	shape := a.engine.Config()
	var patch params.Patch
	switch evt {
	case inputEventQuit:
		return true
	case inputEventToggleAudio:
		a.log.Printf("audio active=%v", a.extractor.Toggle())
		return false
	case inputEventReacquireAudio:
		if err := a.extractor.Reacquire(ctx); err == nil {
			a.log.Println("audio reacquired")
		}
		return false
	case inputEventNextPalette:
		a.log.Printf("palette -> %s", a.renderer.CyclePalette())
		return false
	case inputEventRandomize:
		a.randomizeVisuals()
		return false
	case inputEventWavesUp:
		patch.WaveIntensity = params.Nudge(shape.WaveIntensity, 0.1, 0, 5)
	case inputEventWavesDown:
		patch.WaveIntensity = params.Nudge(shape.WaveIntensity, -0.1, 0, 5)
	case inputEventFaster:
		patch.AnimationSpeed = params.Nudge(shape.AnimationSpeed, 0.005, 0, 0.5)
	case inputEventSlower:
		patch.AnimationSpeed = params.Nudge(shape.AnimationSpeed, -0.005, 0, 0.5)
	case inputEventSensitivityUp:
		patch.AudioScaleSensitivity = params.Nudge(shape.AudioScaleSensitivity, 0.25, 0, 10)
	case inputEventSensitivityDown:
		patch.AudioScaleSensitivity = params.Nudge(shape.AudioScaleSensitivity, -0.25, 0, 10)
	}
	_ = a.engine.Apply(patch)
	return false
}

// keyToEvent maps a key press to a hotkey action.
func keyToEvent(char rune, key keyboard.Key) (inputEvent, bool) {
	switch {
	case key == keyboard.KeyEsc || key == keyboard.KeyCtrlC:
		return inputEventQuit, true
	case key == keyboard.KeySpace:
		return inputEventToggleAudio, true
	}
	switch char {
	case 'q', 'Q':
		return inputEventQuit, true
	case ' ':
		return inputEventToggleAudio, true
	case 'a', 'A':
		return inputEventReacquireAudio, true
	case 'r', 'R':
		return inputEventRandomize, true
	case 'p', 'P':
		return inputEventNextPalette, true
	case '+', '=':
		return inputEventWavesUp, true
	case '-', '_':
		return inputEventWavesDown, true
	case ']':
		return inputEventFaster, true
	case '[':
		return inputEventSlower, true
	case 'S':
		return inputEventSensitivityUp, true
	case 's':
		return inputEventSensitivityDown, true
	}
	return 0, false
}

func (a *App) startInputListener(ctx context.Context) {
	if err := keyboard.Open(); err != nil {
		a.log.Printf("keyboard input disabled: %v", err)
		a.inputEvents = nil
		return
	}

	events := make(chan inputEvent, 16)
	a.inputEvents = events

	closeOnce := &sync.Once{}
	go func() {
		<-ctx.Done()
		closeOnce.Do(func() {
			_ = keyboard.Close()
		})
	}()

	go func() {
		defer close(events)
		defer closeOnce.Do(func() {
			_ = keyboard.Close()
		})
		for {
			char, key, err := keyboard.GetKey()
			if err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			evt, ok := keyToEvent(char, key)
			if !ok {
				continue
			}
			if evt == inputEventQuit {
				events <- evt
				return
			}
			select {
			case events <- evt:
			default:
			}
		}
	}()
}

func (a *App) startConfigWatcher(ctx context.Context) <-chan params.Patch {
	if !a.cfg.WatchConfig {
		return nil
	}
	cw, err := newConfigWatcher(a.cfg.ConfigPath, a.log)
	if err != nil {
		a.log.Printf("config reload disabled: %v", err)
		return nil
	}
	patches := make(chan params.Patch)
	go cw.run(ctx, patches)
	a.log.Printf("watching %s for changes", cw.path)
	return patches
}

// randomizeVisuals picks two new gradient colours a third of the wheel apart
// and a different glyph palette.
func (a *App) randomizeVisuals() {
	hue := a.rng.Float64() * 360
	c1 := params.Color{Color: colorful.Hsv(hue, 0.75+a.rng.Float64()*0.25, 1)}
	c2 := params.Color{Color: colorful.Hsv(hue+120+a.rng.Float64()*60, 0.75+a.rng.Float64()*0.25, 1)}
	if err := a.engine.Apply(params.Patch{Color1: &c1, Color2: &c2}); err != nil {
		return
	}
	palette := a.renderer.PaletteName()
	if !a.renderer.Windowed() {
		palette = pickRandom(render.PaletteNames(), palette, a.rng)
		a.renderer.SetPalette(palette)
	}
	a.log.Printf("randomize visuals -> colors=%s,%s palette=%s", c1.Hex(), c2.Hex(), palette)
}

func (a *App) statusLabel() string {
	var b strings.Builder
	switch {
	case a.cfg.DisableAudio:
		b.WriteString("audio=synthetic")
	case !a.extractor.Available():
		b.WriteString("audio=unavailable")
	case !a.extractor.Active():
		b.WriteString("audio=off")
	default:
		b.WriteString("audio=on")
		if m, ok := a.sensor.(*audio.Microphone); ok && m.DeviceName() != "" {
			fmt.Fprintf(&b, " mic=%s", m.DeviceName())
		}
	}
	if a.cfg.DisableAudio && !a.extractor.Active() {
		b.WriteString(" (paused)")
	}
	fmt.Fprintf(&b, " level %.2f", a.extractor.Last())
	shape := a.engine.Config()
	fmt.Fprintf(&b, " | waves %.1f speed %.3f sens %.2f", shape.WaveIntensity, shape.AnimationSpeed, shape.AudioScaleSensitivity)
	return b.String()
}

func pickRandom(options []string, current string, rng *rand.Rand) string {
	if len(options) == 0 {
		return current
	}
	if len(options) == 1 {
		return options[0]
	}
	var choice string
	for attempts := 0; attempts < 4; attempts++ {
		choice = options[rng.Intn(len(options))]
		if !strings.EqualFold(choice, current) {
			return choice
		}
	}
	return options[rng.Intn(len(options))]
}
