package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cogentcore.org/core/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guidoenr/audiosphere/internal/geometry"
	"github.com/guidoenr/audiosphere/internal/params"
)

type recordingSink struct {
	mu         sync.Mutex
	calls      []string
	scales     []float32
	times      []float32
	positions  []math32.Vector3
	colors     []string
	presentErr error
}

func (s *recordingSink) SetGeometry(positions, normals []math32.Vector3, indices []uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "geometry")
	s.positions = append(s.positions[:0], positions...)
}

func (s *recordingSink) SetScale(v float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "scale")
	s.scales = append(s.scales, v)
}

func (s *recordingSink) SetTime(v float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "time")
	s.times = append(s.times, v)
}

func (s *recordingSink) SetColors(c1, c2 params.Color) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "colors")
	s.colors = append(s.colors, c1.Hex()+","+c2.Hex())
}

func (s *recordingSink) Present() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "present")
	return s.presentErr
}

func (s *recordingSink) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == name {
			n++
		}
	}
	return n
}

type fixedAudio struct {
	mu      sync.Mutex
	value   float64
	initErr error
	polls   int
	closes  int
	sink    *recordingSink
}

func (a *fixedAudio) Init(context.Context) error { return a.initErr }

func (a *fixedAudio) Poll() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.polls++
	if a.sink != nil {
		a.sink.mu.Lock()
		a.sink.calls = append(a.sink.calls, "poll")
		a.sink.mu.Unlock()
	}
	if a.initErr != nil {
		return 0
	}
	return a.value
}

func (a *fixedAudio) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closes++
	return nil
}

type manualRefresher struct {
	ch      chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func newManualRefresher() *manualRefresher {
	return &manualRefresher{ch: make(chan time.Time), stopped: make(chan struct{})}
}

func (r *manualRefresher) C() <-chan time.Time { return r.ch }
func (r *manualRefresher) Stop()               { r.once.Do(func() { close(r.stopped) }) }

// frame delivers one refresh signal, reporting false if nobody took it.
func (r *manualRefresher) frame(wait time.Duration) bool {
	select {
	case r.ch <- time.Now():
		return true
	case <-time.After(wait):
		return false
	}
}

func testShape() params.ShapeConfig {
	cfg := params.Defaults()
	cfg.Radius = 1
	cfg.WidthSegments = 8
	cfg.HeightSegments = 8
	cfg.WaveIntensity = 0
	cfg.AnimationSpeed = 0.1
	cfg.AudioScaleSensitivity = 1.0
	return cfg
}

func newTestEngine(t *testing.T, shape params.ShapeConfig, audio Audio) (*Engine, *recordingSink, *manualRefresher) {
	t.Helper()
	sink := &recordingSink{}
	ref := newManualRefresher()
	e, err := New(Config{Shape: shape, Refresher: func() Refresher { return ref }}, sink, audio)
	require.NoError(t, err)
	return e, sink, ref
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	shape := testShape()
	shape.HeightSegments = 2
	_, err := New(Config{Shape: shape}, &recordingSink{}, nil)
	assert.ErrorIs(t, err, params.ErrInvalidConfig)
}

func TestTickOrder(t *testing.T) {
	audio := &fixedAudio{value: 0.3}
	e, sink, _ := newTestEngine(t, testShape(), audio)
	audio.sink = sink

	require.NoError(t, e.tick())
	assert.Equal(t, []string{"poll", "geometry", "scale", "time", "present"}, sink.calls)
	assert.InDelta(t, 0.1, sink.times[0], 1e-6, "time advances before the push")
	assert.InDelta(t, 0.1, e.State().Time, 1e-12)
}

func TestEndToEndConstantIntensity(t *testing.T) {
	e, sink, _ := newTestEngine(t, testShape(), &fixedAudio{value: 0.5})

	prev := e.State().Scale.Current
	for i := 0; i < 100; i++ {
		require.NoError(t, e.tick())
		cur := e.State().Scale.Current
		require.Greater(t, cur, prev, "tick %d not strictly increasing", i)
		require.Less(t, cur, 1.5, "tick %d reached or passed the target", i)
		prev = cur
	}
	assert.InDelta(t, 1.5, prev, 1e-4)
	assert.Len(t, sink.scales, 100)
	assert.InDelta(t, 10.0, e.State().Time, 1e-9)

	// waveIntensity 0 leaves the geometry untouched.
	assert.Equal(t, e.Snapshot().Positions(), sink.positions)
}

func TestEndToEndSilenceKeepsUnitScale(t *testing.T) {
	e, sink, _ := newTestEngine(t, testShape(), &fixedAudio{value: 0})
	for i := 0; i < 100; i++ {
		require.NoError(t, e.tick())
	}
	for i, s := range sink.scales {
		require.Equal(t, float32(1), s, "tick %d drifted", i)
	}
	assert.Equal(t, 1.0, e.State().Scale.Current)
}

func TestNilAudioIsSilence(t *testing.T) {
	e, sink, _ := newTestEngine(t, testShape(), nil)
	require.NoError(t, e.tick())
	assert.Equal(t, []float32{1}, sink.scales)
}

func TestStartStopIdempotent(t *testing.T) {
	e, _, ref := newTestEngine(t, testShape(), nil)
	ctx := context.Background()

	assert.True(t, e.Start(ctx))
	assert.False(t, e.Start(ctx), "double start is a no-op")
	assert.True(t, e.Running())

	e.Stop()
	e.Stop()
	assert.False(t, e.Running())
	select {
	case <-ref.stopped:
	case <-time.After(time.Second):
		t.Fatal("refresher not released on stop")
	}
}

func TestNoTicksAfterStop(t *testing.T) {
	e, sink, ref := newTestEngine(t, testShape(), &fixedAudio{value: 0.2})
	require.True(t, e.Start(context.Background()))

	for i := 0; i < 3; i++ {
		require.True(t, ref.frame(time.Second))
	}
	require.Eventually(t, func() bool { return sink.count("present") == 3 }, time.Second, time.Millisecond)

	e.Stop()
	before := sink.count("geometry")

	assert.False(t, ref.frame(50*time.Millisecond), "a stopped loop must not take frames")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, sink.count("geometry"))
	assert.Equal(t, before, sink.count("scale"))
}

func TestContextCancelStopsLoop(t *testing.T) {
	e, _, _ := newTestEngine(t, testShape(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, e.Start(ctx))
	done := e.Done()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not exit on context cancel")
	}
	assert.False(t, e.Running())
	assert.NoError(t, e.Err())
}

func TestPresentQuitEndsLoop(t *testing.T) {
	e, sink, ref := newTestEngine(t, testShape(), nil)
	sink.presentErr = fmt.Errorf("window closed: %w", ErrQuit)
	require.True(t, e.Start(context.Background()))
	done := e.Done()
	require.True(t, ref.frame(time.Second))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not exit on quit")
	}
	assert.ErrorIs(t, e.Err(), ErrQuit)
	assert.False(t, e.Running())
	assert.True(t, e.Start(context.Background()), "engine can be restarted")
	e.Stop()
}

func TestPresentOtherErrorKeepsRunning(t *testing.T) {
	e, sink, ref := newTestEngine(t, testShape(), nil)
	sink.presentErr = errors.New("write failed")
	require.True(t, e.Start(context.Background()))
	defer e.Stop()
	require.True(t, ref.frame(time.Second))
	require.True(t, ref.frame(time.Second))
	assert.True(t, e.Running())
}

func TestActivateDeactivate(t *testing.T) {
	audio := &fixedAudio{initErr: errors.New("denied")}
	e, sink, ref := newTestEngine(t, testShape(), audio)

	err := e.Activate(context.Background())
	assert.Error(t, err, "audio failure is reported")
	assert.True(t, e.Running(), "but the loop runs anyway")
	assert.Equal(t, 1, sink.count("colors"))

	require.True(t, ref.frame(time.Second))
	require.Eventually(t, func() bool { return sink.count("present") == 1 }, time.Second, time.Millisecond)

	require.NoError(t, e.Deactivate())
	require.NoError(t, e.Deactivate())
	assert.False(t, e.Running())
	assert.Equal(t, 1, audio.closes)
	assert.Equal(t, newAnimationState(), e.State())
}

func TestApplyShapeChangeKeepsAnimation(t *testing.T) {
	e, _, _ := newTestEngine(t, testShape(), &fixedAudio{value: 0.5})
	for i := 0; i < 5; i++ {
		require.NoError(t, e.tick())
	}
	before := e.State()

	require.NoError(t, e.Apply(params.Patch{WidthSegments: params.Int(16), Radius: params.Float(2)}))
	assert.Equal(t, geometry.VertexCount(16, 8), e.Snapshot().Len())
	assert.Equal(t, before, e.State(), "rebuild must not reset animation state")

	require.NoError(t, e.tick())
	assert.Greater(t, e.State().Time, before.Time)
}

func TestApplyColorOnlyKeepsGeometry(t *testing.T) {
	e, sink, _ := newTestEngine(t, testShape(), nil)
	snap := e.Snapshot()
	c := params.MustColor("#102030")
	require.NoError(t, e.Apply(params.Patch{Color1: &c}))
	assert.Same(t, snap, e.Snapshot())
	assert.Equal(t, 1, sink.count("colors"))
	assert.Equal(t, "#102030,"+testShape().Color2.Hex(), sink.colors[0])
}

func TestApplyAnimationOnlyTouchesNothingElse(t *testing.T) {
	e, sink, _ := newTestEngine(t, testShape(), nil)
	snap := e.Snapshot()
	require.NoError(t, e.Apply(params.Patch{AnimationSpeed: params.Float(0.5)}))
	assert.Same(t, snap, e.Snapshot())
	assert.Zero(t, sink.count("colors"))
	require.NoError(t, e.tick())
	assert.InDelta(t, 0.5, e.State().Time, 1e-12)
}

func TestApplyInvalidKeepsPrevious(t *testing.T) {
	e, _, _ := newTestEngine(t, testShape(), nil)
	err := e.Apply(params.Patch{Radius: params.Float(-1)})
	assert.ErrorIs(t, err, params.ErrInvalidConfig)
	assert.Equal(t, testShape(), e.Config())
	assert.Equal(t, geometry.VertexCount(8, 8), e.Snapshot().Len())
}

func TestStatus(t *testing.T) {
	e, _, _ := newTestEngine(t, testShape(), &fixedAudio{value: 0.25})
	require.NoError(t, e.tick())
	st := e.Status()
	assert.False(t, st.Running)
	assert.Equal(t, uint64(1), st.Ticks)
	assert.Equal(t, 0.25, st.Intensity)
	assert.Equal(t, 81, st.Vertices)
	assert.InDelta(t, 1.25, st.TargetScale, 1e-12)
	assert.Equal(t, MeshInfo{Radius: 1, WidthSegments: 8, HeightSegments: 8}, st.Mesh)

	require.NoError(t, e.Apply(params.Patch{Radius: params.Float(2.5), HeightSegments: params.Int(12)}))
	st = e.Status()
	assert.Equal(t, MeshInfo{Radius: 2.5, WidthSegments: 8, HeightSegments: 12}, st.Mesh)
	assert.Equal(t, geometry.VertexCount(8, 12), st.Vertices)
}
