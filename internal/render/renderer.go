package render

import (
	"fmt"
	"io"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"cogentcore.org/core/math32"

	"github.com/guidoenr/audiosphere/internal/engine"
	"github.com/guidoenr/audiosphere/internal/params"
)

// ErrRendererQuit is returned by Present once the output surface is gone.
var ErrRendererQuit = fmt.Errorf("renderer closed: %w", engine.ErrQuit)

type backend int

const (
	backendTerminal backend = iota
	backendSDL
)

const (
	defaultWindowWidth  = 960
	defaultWindowHeight = 720
	// terminal cells are roughly twice as tall as they are wide
	terminalCellAspect = 2.0
)

// Config configures a Renderer.
type Config struct {
	// Width and Height fix the framebuffer size. Zero follows the terminal.
	Width         int
	Height        int
	Palette       string
	UseANSI       bool
	ShowStatusBar bool
	// Windowed presents into an SDL window instead of the terminal.
	Windowed bool
	Out      io.Writer
}

// Renderer draws the sphere as a shaded wireframe. It implements
// engine.Sink and engine.Presenter.
type Renderer struct {
	mu sync.Mutex

	mode        backend
	out         io.Writer
	fixedSize   bool
	width       int
	height      int
	palette     []rune
	paletteName string
	useANSI     bool
	showStatus  bool
	sizeFn      func() (int, int, bool)

	positions []math32.Vector3
	normals   []math32.Vector3
	indices   []uint32
	scale     float32
	time      float32
	shader    shader

	fb    framebuffer
	rz    rasterizer
	lines []string
	frame strings.Builder

	label         string
	statusBuilder strings.Builder
	lastPresent   time.Time
	fps           float64
	closed        bool

	sdl *sdlState
}

var (
	resetANSI       = "\x1b[0m"
	precomputedANSI [256]string
)

func init() {
	for i := range precomputedANSI {
		precomputedANSI[i] = "\x1b[38;5;" + strconv.Itoa(i) + "m"
	}
}

// New creates a Renderer.
func New(cfg Config) (*Renderer, error) {
	if cfg.Width < 0 || cfg.Height < 0 {
		return nil, fmt.Errorf("invalid dimensions: width=%d height=%d", cfg.Width, cfg.Height)
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	defaults := params.Defaults()
	r := &Renderer{
		out:        cfg.Out,
		useANSI:    cfg.UseANSI,
		showStatus: cfg.ShowStatusBar,
		scale:      1,
		shader:     shader{color1: defaults.Color1.Color, color2: defaults.Color2.Color},
		rz:         rasterizer{cam: defaultCamera},
		sizeFn:     terminalSize,
	}
	r.fb.cellAspect = terminalCellAspect
	r.setPaletteLocked(cfg.Palette)

	if cfg.Windowed {
		w, h := cfg.Width, cfg.Height
		r.fixedSize = w > 0 && h > 0
		if !r.fixedSize {
			w, h = defaultWindowWidth, defaultWindowHeight
		}
		if err := r.initSDL(w, h); err != nil {
			return nil, err
		}
		r.fb.cellAspect = 1
		r.setSizeLocked(w, h)
		return r, nil
	}

	if cfg.Width > 0 && cfg.Height > 0 {
		r.fixedSize = true
		r.setSizeLocked(cfg.Width, cfg.Height)
	} else {
		r.setSizeLocked(80, 24)
	}
	return r, nil
}

// SetGeometry copies the deformed mesh for the next Present.
func (r *Renderer) SetGeometry(positions, normals []math32.Vector3, indices []uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions = append(r.positions[:0], positions...)
	r.normals = append(r.normals[:0], normals...)
	r.indices = append(r.indices[:0], indices...)
}

// SetScale sets the uniform scale applied to the whole mesh.
func (r *Renderer) SetScale(v float32) {
	r.mu.Lock()
	r.scale = v
	r.mu.Unlock()
}

// SetTime records the animation time.
func (r *Renderer) SetTime(v float32) {
	r.mu.Lock()
	r.time = v
	r.mu.Unlock()
}

// SetColors sets the top and bottom gradient colours.
func (r *Renderer) SetColors(c1, c2 params.Color) {
	r.mu.Lock()
	r.shader = shader{color1: c1.Color, color2: c2.Color}
	r.mu.Unlock()
}

// SetLabel sets extra text shown on the status bar.
func (r *Renderer) SetLabel(label string) {
	r.mu.Lock()
	r.label = label
	r.mu.Unlock()
}

// SetPalette switches the glyph palette.
func (r *Renderer) SetPalette(name string) {
	r.mu.Lock()
	r.setPaletteLocked(name)
	r.mu.Unlock()
}

// CyclePalette moves to the next palette and returns its name.
func (r *Renderer) CyclePalette() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := PaletteNames()
	next := names[0]
	for i, n := range names {
		if n == r.paletteName {
			next = names[(i+1)%len(names)]
			break
		}
	}
	r.setPaletteLocked(next)
	return next
}

func (r *Renderer) PaletteName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paletteName
}

// Resize fixes the framebuffer size, disabling terminal tracking.
func (r *Renderer) Resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fixedSize = true
	r.setSizeLocked(width, height)
	r.resizeSDL()
}

// Size returns the framebuffer dimensions.
func (r *Renderer) Size() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.width, r.height
}

// Windowed reports whether frames go to an SDL window.
func (r *Renderer) Windowed() bool { return r.mode == backendSDL }

// Lines returns a copy of the last rendered frame without status bar.
func (r *Renderer) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

// Begin prepares the terminal for full-screen output.
func (r *Renderer) Begin() {
	if r.mode == backendTerminal {
		enterScreen(r.out)
	}
}

// End restores the terminal.
func (r *Renderer) End() {
	if r.mode == backendTerminal {
		leaveScreen(r.out)
	}
}

// Close releases the output surface. Later Present calls return
// ErrRendererQuit.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.closeSDL()
}

// Present rasterizes the current geometry and writes the frame.
func (r *Renderer) Present() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRendererQuit
	}

	now := time.Now()
	if !r.lastPresent.IsZero() {
		if delta := now.Sub(r.lastPresent).Seconds(); delta > 0 {
			r.fps = r.fps*0.9 + (1/delta)*0.1
		}
	}
	r.lastPresent = now

	r.ensureDimensions()
	r.fb.clear()
	r.rz.draw(&r.fb, r.shader, r.positions, r.normals, r.indices, float64(r.scale))
	status := r.buildStatus()

	if r.mode == backendSDL {
		return r.presentSDL(status)
	}
	r.buildLines()
	return r.presentTerminal(status)
}

func (r *Renderer) presentTerminal(status string) error {
	b := &r.frame
	b.Reset()
	b.WriteString(escHome)
	for _, line := range r.lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if r.showStatus {
		b.WriteString(statusBar(status, r.width))
	}
	_, err := io.WriteString(r.out, b.String())
	return err
}

func (r *Renderer) ensureDimensions() {
	if r.fixedSize || r.mode != backendTerminal || r.sizeFn == nil {
		return
	}
	w, h, ok := r.sizeFn()
	if !ok {
		return
	}
	if r.showStatus && h > 1 {
		h--
	}
	if w != r.width || h != r.height {
		r.setSizeLocked(w, h)
	}
}

func (r *Renderer) setSizeLocked(width, height int) {
	r.width = width
	r.height = height
	r.fb.resize(width, height)
}

func (r *Renderer) setPaletteLocked(name string) {
	if name == "" {
		name = "default"
	}
	r.palette = Palette(name)
	r.paletteName = name
	known := false
	for _, n := range PaletteNames() {
		if n == name {
			known = true
		}
	}
	if !known {
		r.paletteName = "default"
	}
}

// buildLines converts the framebuffer into text rows using a worker per CPU.
func (r *Renderer) buildLines() {
	width, height := r.fb.width, r.fb.height
	if cap(r.lines) < height {
		r.lines = make([]string, height)
	}
	r.lines = r.lines[:height]
	if height == 0 {
		return
	}

	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers > height {
		numWorkers = height
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	var wg sync.WaitGroup
	rowJobs := make(chan int, numWorkers)
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for y := range rowJobs {
				var builder strings.Builder
				builder.Grow(width * 8)
				lastColor := -1
				row := r.fb.cells[y*width : (y+1)*width]
				for _, c := range row {
					if !c.set {
						if r.useANSI && lastColor != -1 {
							builder.WriteString(resetANSI)
							lastColor = -1
						}
						builder.WriteRune(r.palette[0])
						continue
					}
					if r.useANSI {
						fg := rgbToANSI(c.color.R, c.color.G, c.color.B)
						if fg != lastColor {
							builder.WriteString(colorCode(fg))
							lastColor = fg
						}
					}
					builder.WriteRune(r.glyph(c))
				}
				if r.useANSI {
					builder.WriteString(resetANSI)
				}
				r.lines[y] = builder.String()
			}
		}()
	}
	for y := 0; y < height; y++ {
		rowJobs <- y
	}
	close(rowJobs)
	wg.Wait()
}

// glyph picks a palette character by perceived lightness. Lit cells never
// map to the blank first entry.
func (r *Renderer) glyph(c cell) rune {
	n := len(r.palette)
	if n < 2 {
		return r.palette[0]
	}
	l, _, _ := c.color.Luv()
	index := 1 + int(clamp01(l)*float64(n-2)+0.5)
	return r.palette[clampInt(index, 1, n-1)]
}

func (r *Renderer) buildStatus() string {
	builder := &r.statusBuilder
	builder.Reset()
	builder.Grow(128)
	builder.WriteString("SPHERE | palette=")
	builder.WriteString(r.paletteName)
	builder.WriteString(" | scale ")
	appendFloat(builder, float64(r.scale), 3)
	builder.WriteString(" t ")
	appendFloat(builder, float64(r.time), 1)
	builder.WriteString(" fps ")
	appendFloat(builder, r.fps, 1)
	if r.label != "" {
		builder.WriteString(" | ")
		builder.WriteString(r.label)
	}
	return builder.String()
}

func colorCode(index int) string {
	if index < 0 {
		index = 0
	} else if index >= len(precomputedANSI) {
		index = len(precomputedANSI) - 1
	}
	return precomputedANSI[index]
}

func rgbToANSI(r, g, b float64) int {
	r = clamp01(r)
	g = clamp01(g)
	b = clamp01(b)

	// Grayscale palette for low saturation/contrast
	if math.Abs(r-g) < 0.02 && math.Abs(g-b) < 0.02 {
		gray := int(clampFloat(math.Round(r*23), 0, 23))
		return 232 + gray
	}

	ri := int(clampFloat(r*5+0.5, 0, 5))
	gi := int(clampFloat(g*5+0.5, 0, 5))
	bi := int(clampFloat(b*5+0.5, 0, 5))

	return 16 + 36*ri + 6*gi + bi
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

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func appendFloat(builder *strings.Builder, value float64, precision int) {
	var buf [32]byte
	b := strconv.AppendFloat(buf[:0], value, 'f', precision, 64)
	builder.Write(b)
}
