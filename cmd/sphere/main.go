package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/muesli/termenv"

	"github.com/guidoenr/audiosphere/internal/app"
	"github.com/guidoenr/audiosphere/internal/audio"
	"github.com/guidoenr/audiosphere/internal/params"
	"github.com/guidoenr/audiosphere/internal/render"
)

func main() {
	defaults := params.Defaults()
	var (
		configPath  = flag.String("config", "", "TOML config file (default: sphere.toml next to the binary)")
		watch       = flag.Bool("watch", true, "Reload the config file when it changes")
		radius      = flag.Float64("radius", defaults.Radius, "Sphere radius")
		widthSegs   = flag.Int("width-segments", defaults.WidthSegments, "Horizontal segment count (>= 3)")
		heightSegs  = flag.Int("height-segments", defaults.HeightSegments, "Vertical segment count (>= 3)")
		color1      = flag.String("color1", defaults.Color1.Hex(), "Top gradient colour")
		color2      = flag.String("color2", defaults.Color2.Hex(), "Bottom gradient colour")
		speed       = flag.Float64("speed", defaults.AnimationSpeed, "Animation time step per frame")
		waves       = flag.Float64("waves", defaults.WaveIntensity, "Wave displacement intensity")
		sensitivity = flag.Float64("sensitivity", defaults.AudioScaleSensitivity, "Audio scale sensitivity")
		targetFPS   = flag.Float64("fps", 60, "Target frames per second")
		deviceName  = flag.String("audio-device", "", "Optional PortAudio device name (substring match)")
		bufferSize  = flag.Int("buffer-size", 2048, "Capture ring buffer size in samples")
		noAudio     = flag.Bool("no-audio", false, "Run with a synthetic spectrum instead of the microphone")
		listDevs    = flag.Bool("list-audio-devices", false, "List available audio input devices and exit")
		width       = flag.Int("width", 0, "Frame width (0 follows the terminal)")
		height      = flag.Int("height", 0, "Frame height (0 follows the terminal)")
		palette     = flag.String("palette", "default", "Glyph palette (default|dots|block|ascii)")
		showStatus  = flag.Bool("status", true, "Display status bar")
		noColor     = flag.Bool("no-color", false, "Disable ANSI color output")
		windowed    = flag.Bool("sdl", false, "Render into an SDL window (requires -tags sdl)")
		webPort     = flag.Int("web-port", 0, "Serve the control panel on this port (0 disables)")
		profilePath = flag.String("profile", "", "Write per-frame timings as CSV to this file")
		debug       = flag.Bool("debug", false, "Enable verbose logging")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[sphere] ", log.LstdFlags)
	if !*debug {
		logger.SetOutput(os.Stderr)
		logger.SetFlags(0)
	}

	if *targetFPS <= 0 {
		logger.Fatalf("fps must be positive (got %.2f)", *targetFPS)
	}
	if *bufferSize <= 0 {
		logger.Fatalf("buffer-size must be positive (got %d)", *bufferSize)
	}
	if *windowed && !render.SupportsSDL() {
		logger.Fatalf("-sdl requires a build with -tags sdl")
	}

	if *listDevs {
		if err := audio.Initialize(); err != nil {
			logger.Fatalf("failed to initialize PortAudio: %v", err)
		}
		defer audio.Terminate()
		listDevices(logger)
		return
	}

	path := *configPath
	if path == "" {
		path = params.DefaultPath()
	}
	shape := defaults
	if patch, ignored, err := params.LoadPatch(path); err == nil {
		if shape, err = shape.Apply(patch); err != nil {
			logger.Fatalf("config %s: %v", path, err)
		}
		if len(ignored) > 0 {
			logger.Printf("config %s: ignoring unknown keys %v", path, ignored)
		}
		logger.Printf("loaded config from %s", path)
	} else if !errors.Is(err, fs.ErrNotExist) || *configPath != "" {
		logger.Fatalf("config %s: %v", path, err)
	}

	// Flags given explicitly win over the file.
	var overrides params.Patch
	var flagErr error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "radius":
			overrides.Radius = radius
		case "width-segments":
			overrides.WidthSegments = widthSegs
		case "height-segments":
			overrides.HeightSegments = heightSegs
		case "speed":
			overrides.AnimationSpeed = speed
		case "waves":
			overrides.WaveIntensity = waves
		case "sensitivity":
			overrides.AudioScaleSensitivity = sensitivity
		case "color1":
			overrides.Color1 = parseColorFlag(f.Name, *color1, &flagErr)
		case "color2":
			overrides.Color2 = parseColorFlag(f.Name, *color2, &flagErr)
		}
	})
	if flagErr != nil {
		logger.Fatal(flagErr)
	}
	shape, err := shape.Apply(overrides)
	if err != nil {
		logger.Fatalf("invalid flags: %v", err)
	}

	useANSI := !*noColor && termenv.EnvColorProfile() != termenv.Ascii

	webAddr := ""
	if *webPort > 0 {
		webAddr = fmt.Sprintf(":%d", *webPort)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(app.Config{
		Shape:         shape,
		ConfigPath:    path,
		WatchConfig:   *watch,
		DeviceName:    *deviceName,
		BufferSize:    *bufferSize,
		DisableAudio:  *noAudio,
		TargetFPS:     *targetFPS,
		Width:         *width,
		Height:        *height,
		ShowStatusBar: *showStatus,
		Palette:       *palette,
		UseANSI:       useANSI,
		Windowed:      *windowed,
		Keyboard:      true,
		WebAddr:       webAddr,
		ProfilePath:   *profilePath,
		Log:           logger,
	})
	if err != nil {
		logger.Fatalf("failed to create app: %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "cleanup error: %v\n", err)
		}
	}()

	if err := a.Run(ctx); err != nil {
		if ctx.Err() != nil {
			fmt.Println("\nExiting...")
			return
		}
		logger.Printf("runtime error: %v", err)
		return
	}

	time.Sleep(50 * time.Millisecond)
}

func listDevices(logger *log.Logger) {
	devices, err := audio.ListInputs()
	if err != nil {
		logger.Fatalf("list devices: %v", err)
	}
	fmt.Printf("\n=== Audio Input Devices ===\n\n")
	for _, dev := range devices {
		marker := ""
		if dev.Default {
			marker = " (default)"
		}
		fmt.Printf("- %s [%s]%s\n    channels:%d sample:%.0f Hz score:%d\n",
			dev.Name, dev.HostAPI, marker, dev.Channels, dev.SampleRate, dev.Score)
	}
	if dev, err := audio.AutoDetectDevice(); err == nil && dev != nil {
		fmt.Printf("\nAuto-detected input: %s (%.0f Hz, %d channels)\n", dev.Name, dev.DefaultSampleRate, dev.MaxInputChannels)
	}
}

func parseColorFlag(name, value string, errs *error) *params.Color {
	c, err := params.ParseColor(value)
	if err != nil {
		*errs = errors.Join(*errs, fmt.Errorf("-%s: %w", name, err))
		return nil
	}
	return &c
}
