package engine

import (
	"github.com/guidoenr/audiosphere/internal/geometry"
	"github.com/guidoenr/audiosphere/internal/params"
)

// Apply merges a partial configuration update. Invalid results are rejected
// with an error wrapping params.ErrInvalidConfig and the running configuration
// is kept. Shape changes rebuild the base geometry; colour changes go straight
// to the sink. The animation state carries on either way.
func (e *Engine) Apply(p params.Patch) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next, err := e.shape.Apply(p)
	if err != nil {
		e.log.Printf("config rejected: %v", err)
		return err
	}
	prev := e.shape
	e.shape = next

	if next.ShapeChanged(prev) {
		e.rebuildLocked()
		e.log.Printf("geometry rebuilt: radius=%.2f segments=%dx%d vertices=%d",
			next.Radius, next.WidthSegments, next.HeightSegments, e.snapshot.Len())
	}
	if next.ColorsChanged(prev) {
		e.sink.SetColors(next.Color1, next.Color2)
	}
	return nil
}

// Config returns the running configuration.
func (e *Engine) Config() params.ShapeConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shape
}

// Snapshot returns the current base geometry.
func (e *Engine) Snapshot() *geometry.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot
}

func (e *Engine) rebuildLocked() {
	e.snapshot = geometry.NewSphere(e.shape.Radius, e.shape.WidthSegments, e.shape.HeightSegments)
	e.mesh = geometry.Mesh{}
}
