//go:build !sdl

package render

import "errors"

type sdlState struct{}

func (r *Renderer) initSDL(width, height int) error {
	return errors.New("SDL backend not enabled; rebuild with -tags sdl")
}

func (r *Renderer) presentSDL(string) error { return ErrRendererQuit }

func (r *Renderer) resizeSDL() {}

func (r *Renderer) closeSDL() error { return nil }

// SupportsSDL reports whether the binary was built with the SDL backend.
func SupportsSDL() bool { return false }
