package engine

import (
	"context"
	"errors"
	"time"

	"github.com/guidoenr/audiosphere/internal/scale"
)

// Refresher delivers one signal per display refresh. When the receiver falls
// behind, signals are dropped rather than queued.
type Refresher interface {
	C() <-chan time.Time
	Stop()
}

type tickerRefresher struct {
	t *time.Ticker
}

// NewTickerRefresher paces frames with a time.Ticker, which holds at most one
// pending tick.
func NewTickerRefresher(fps float64) Refresher {
	if fps <= 0 {
		fps = 60
	}
	return tickerRefresher{t: time.NewTicker(time.Duration(float64(time.Second) / fps))}
}

func (r tickerRefresher) C() <-chan time.Time { return r.t.C }
func (r tickerRefresher) Stop()               { r.t.Stop() }

// Start launches the frame loop. It returns false if the loop was already
// running. Cancelling ctx has the same effect as Stop.
func (e *Engine) Start(ctx context.Context) bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.done != nil {
		return false
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.cancel = cancel
	e.done = done
	e.err = nil
	go e.loop(loopCtx, e.refresher(), done)
	return true
}

// Stop cancels the loop and waits for an in-flight tick to finish. No sink
// calls happen after Stop returns. Stopping a stopped engine is a no-op.
// Stop must not be called from inside a Sink method.
func (e *Engine) Stop() {
	e.runMu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.runMu.Unlock()

	if done == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the frame loop is active.
func (e *Engine) Running() bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.done != nil
}

// Done returns a channel closed when the current loop exits, or nil when
// stopped.
func (e *Engine) Done() <-chan struct{} {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.done
}

// Err returns the error that ended the last loop, if it ended on its own.
func (e *Engine) Err() error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.err
}

func (e *Engine) loop(ctx context.Context, r Refresher, done chan struct{}) {
	var loopErr error
	defer func() {
		r.Stop()
		e.runMu.Lock()
		if e.done == done {
			e.cancel()
			e.cancel, e.done = nil, nil
			e.err = loopErr
		}
		e.runMu.Unlock()
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.C():
			// A frame and a stop may be ready together; stop wins.
			if ctx.Err() != nil {
				return
			}
			if err := e.tick(); err != nil {
				if errors.Is(err, ErrQuit) {
					loopErr = err
					return
				}
				e.log.Printf("present: %v", err)
			}
		}
	}
}

// tick runs one frame: advance time, sample audio and smooth the scale, deform
// the mesh, then hand everything to the sink.
func (e *Engine) tick() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.tracer.BeginFrame()
	defer e.tracer.EndFrame()

	e.state.Time += e.shape.AnimationSpeed

	raw := 0.0
	if e.audio != nil {
		raw = e.audio.Poll()
	}
	e.intensity = raw
	e.state.Scale = scale.Update(e.state.Scale, raw, e.shape.AudioScaleSensitivity)
	e.tracer.MarkSection("audio")

	e.mesh.Deform(e.snapshot, e.state.Time, e.shape.WaveIntensity)
	e.tracer.MarkSection("deform")

	e.sink.SetGeometry(e.mesh.Positions, e.mesh.Normals, e.mesh.Indices)
	e.sink.SetScale(float32(e.state.Scale.Current))
	e.sink.SetTime(float32(e.state.Time))

	var err error
	if p, ok := e.sink.(Presenter); ok {
		err = p.Present()
	}
	e.tracer.MarkSection("present")

	e.ticks++
	now := time.Now()
	if !e.lastTick.IsZero() {
		if delta := now.Sub(e.lastTick).Seconds(); delta > 0 {
			e.fps = e.fps*0.9 + (1/delta)*0.1
		}
	}
	e.lastTick = now
	return err
}
