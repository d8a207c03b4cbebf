// Package engine drives the rippling sphere: it owns the animation state,
// advances it once per display refresh and pushes the result into a render
// sink.
package engine

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"cogentcore.org/core/math32"

	"github.com/guidoenr/audiosphere/internal/geometry"
	"github.com/guidoenr/audiosphere/internal/params"
	"github.com/guidoenr/audiosphere/internal/scale"
)

// ErrQuit is returned by a Presenter when the output was closed by the user.
// It ends the frame loop.
var ErrQuit = errors.New("render output closed")

// Sink receives per-frame state. All calls for a frame happen before the next
// frame starts, and never concurrently. Slices passed to SetGeometry are
// reused by the following frame; sinks copy what they keep.
type Sink interface {
	SetGeometry(positions, normals []math32.Vector3, indices []uint32)
	SetScale(scale float32)
	SetTime(t float32)
	SetColors(c1, c2 params.Color)
}

// Presenter is implemented by sinks that need an explicit flush at the end of
// a frame.
type Presenter interface {
	Present() error
}

// Audio supplies one loudness value per tick.
type Audio interface {
	Init(ctx context.Context) error
	Poll() float64
	Close() error
}

// Tracer receives per-frame timing marks.
type Tracer interface {
	BeginFrame()
	MarkSection(name string)
	EndFrame()
}

// AnimationState is everything that evolves from frame to frame.
type AnimationState struct {
	Time  float64
	Scale scale.State
}

func newAnimationState() AnimationState {
	return AnimationState{Scale: scale.Initial()}
}

// Config configures an Engine.
type Config struct {
	Shape     params.ShapeConfig
	TargetFPS float64
	// Refresher builds the frame signal source each time the loop starts.
	// Defaults to a ticker at TargetFPS.
	Refresher func() Refresher
	Tracer    Tracer
	Log       *log.Logger
}

// Engine is the frame scheduler and configuration controller.
type Engine struct {
	sink      Sink
	audio     Audio
	tracer    Tracer
	log       *log.Logger
	refresher func() Refresher

	// mu serialises ticks with configuration changes and status reads.
	mu        sync.Mutex
	shape     params.ShapeConfig
	snapshot  *geometry.Snapshot
	mesh      geometry.Mesh
	state     AnimationState
	active    bool
	intensity float64
	ticks     uint64
	fps       float64
	lastTick  time.Time

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// New validates cfg and builds the initial geometry. audio may be nil, in
// which case every tick sees silence.
func New(cfg Config, sink Sink, audio Audio) (*Engine, error) {
	if err := cfg.Shape.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, errors.New("engine: nil sink")
	}
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = 60
	}
	if cfg.Log == nil {
		cfg.Log = log.New(io.Discard, "", 0)
	}
	if cfg.Refresher == nil {
		fps := cfg.TargetFPS
		cfg.Refresher = func() Refresher { return NewTickerRefresher(fps) }
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noopTracer{}
	}
	e := &Engine{
		sink:      sink,
		audio:     audio,
		tracer:    cfg.Tracer,
		log:       cfg.Log,
		refresher: cfg.Refresher,
		shape:     cfg.Shape,
		state:     newAnimationState(),
	}
	e.rebuildLocked()
	return e, nil
}

// Activate prepares a fresh animation state, pushes the colours, acquires the
// audio sensor and starts the frame loop. A returned error describes an audio
// failure only; the loop is running regardless.
func (e *Engine) Activate(ctx context.Context) error {
	e.mu.Lock()
	if !e.active {
		e.active = true
		e.state = newAnimationState()
		e.sink.SetColors(e.shape.Color1, e.shape.Color2)
	}
	e.mu.Unlock()

	var audioErr error
	if e.audio != nil {
		audioErr = e.audio.Init(ctx)
	}
	e.Start(ctx)
	return audioErr
}

// Deactivate stops the loop and releases the audio sensor. Safe to call more
// than once.
func (e *Engine) Deactivate() error {
	e.Stop()

	e.mu.Lock()
	wasActive := e.active
	e.active = false
	e.state = newAnimationState()
	e.mu.Unlock()

	if !wasActive || e.audio == nil {
		return nil
	}
	return e.audio.Close()
}

// State returns a copy of the animation state.
func (e *Engine) State() AnimationState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Status is a point-in-time view for status bars and the web panel.
type Status struct {
	Running     bool    `json:"running"`
	Time        float64 `json:"time"`
	Scale       float64 `json:"scale"`
	TargetScale float64 `json:"targetScale"`
	Intensity   float64 `json:"intensity"`
	Ticks       uint64  `json:"ticks"`
	FPS         float64 `json:"fps"`
	Vertices    int     `json:"vertices"`
	// Mesh describes the geometry currently being deformed.
	Mesh MeshInfo `json:"mesh"`
}

// MeshInfo is the shape the current base geometry was built from.
type MeshInfo struct {
	Radius         float64 `json:"radius"`
	WidthSegments  int     `json:"widthSegments"`
	HeightSegments int     `json:"heightSegments"`
}

// Status reports the current animation values.
func (e *Engine) Status() Status {
	running := e.Running()
	e.mu.Lock()
	defer e.mu.Unlock()
	w, h := e.snapshot.Segments()
	return Status{
		Running:     running,
		Time:        e.state.Time,
		Scale:       e.state.Scale.Current,
		TargetScale: e.state.Scale.Target,
		Intensity:   e.intensity,
		Ticks:       e.ticks,
		FPS:         e.fps,
		Vertices:    e.snapshot.Len(),
		Mesh: MeshInfo{
			Radius:         e.snapshot.Radius(),
			WidthSegments:  w,
			HeightSegments: h,
		},
	}
}

type noopTracer struct{}

func (noopTracer) BeginFrame()        {}
func (noopTracer) MarkSection(string) {}
func (noopTracer) EndFrame()          {}
