//go:build sdl

package render

import (
	"fmt"
	"unsafe"

	"github.com/veandco/go-sdl2/sdl"
)

type sdlState struct {
	initialized bool
	window      *sdl.Window
	renderer    *sdl.Renderer
	texture     *sdl.Texture
	pixelBuffer []byte
	width       int
	height      int
	pitch       int
	windowTitle string
}

func (r *Renderer) initSDL(width, height int) error {
	if r.sdl != nil {
		r.mode = backendSDL
		r.useANSI = false
		return nil
	}
	if err := sdl.InitSubSystem(sdl.INIT_VIDEO); err != nil {
		return err
	}
	r.sdl = &sdlState{
		initialized: true,
	}
	r.mode = backendSDL
	r.useANSI = false
	return nil
}

func (r *Renderer) ensureSDLResources() error {
	if r.sdl == nil {
		return fmt.Errorf("SDL backend not initialized")
	}
	state := r.sdl
	if state.window == nil {
		window, err := sdl.CreateWindow(
			"audiosphere",
			sdl.WINDOWPOS_CENTERED, sdl.WINDOWPOS_CENTERED,
			int32(r.width), int32(r.height),
			sdl.WINDOW_SHOWN|sdl.WINDOW_RESIZABLE,
		)
		if err != nil {
			return err
		}
		state.window = window
	}
	if state.renderer == nil {
		renderer, err := sdl.CreateRenderer(state.window, -1, sdl.RENDERER_ACCELERATED|sdl.RENDERER_PRESENTVSYNC)
		if err != nil {
			return err
		}
		state.renderer = renderer
		_ = renderer.SetLogicalSize(int32(r.width), int32(r.height))
	}
	if state.texture == nil || state.width != r.width || state.height != r.height {
		if state.texture != nil {
			state.texture.Destroy()
			state.texture = nil
		}
		tex, err := state.renderer.CreateTexture(
			sdl.PIXELFORMAT_ABGR8888,
			sdl.TEXTUREACCESS_STREAMING,
			int32(r.width), int32(r.height),
		)
		if err != nil {
			return err
		}
		state.texture = tex
		state.width = r.width
		state.height = r.height
		state.pitch = r.width * 4
		state.pixelBuffer = make([]byte, state.pitch*r.height)
		_ = state.renderer.SetLogicalSize(int32(r.width), int32(r.height))
	}
	return nil
}

func (r *Renderer) presentSDL(status string) error {
	if err := r.ensureSDLResources(); err != nil {
		return err
	}
	state := r.sdl
	bg := [3]byte{
		byte(background.R * 255),
		byte(background.G * 255),
		byte(background.B * 255),
	}
	for y := 0; y < r.fb.height; y++ {
		rowOffset := y * state.pitch
		for x := 0; x < r.fb.width; x++ {
			c := r.fb.cells[y*r.fb.width+x]
			offset := rowOffset + x*4
			if c.set {
				rr, gg, bb := c.color.RGB255()
				state.pixelBuffer[offset+0] = rr
				state.pixelBuffer[offset+1] = gg
				state.pixelBuffer[offset+2] = bb
			} else {
				state.pixelBuffer[offset+0] = bg[0]
				state.pixelBuffer[offset+1] = bg[1]
				state.pixelBuffer[offset+2] = bg[2]
			}
			state.pixelBuffer[offset+3] = 255
		}
	}

	if status != "" && status != state.windowTitle && state.window != nil {
		state.window.SetTitle(status)
		state.windowTitle = status
	}
	if err := state.texture.Update(nil, unsafe.Pointer(&state.pixelBuffer[0]), state.pitch); err != nil {
		return err
	}
	if err := state.renderer.Clear(); err != nil {
		return err
	}
	if err := state.renderer.Copy(state.texture, nil, nil); err != nil {
		return err
	}
	state.renderer.Present()
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		switch ev := event.(type) {
		case *sdl.QuitEvent:
			return ErrRendererQuit
		case *sdl.WindowEvent:
			// The texture is rebuilt at the new size on the next frame.
			if ev.Event == sdl.WINDOWEVENT_SIZE_CHANGED && !r.fixedSize && ev.Data1 > 0 && ev.Data2 > 0 {
				r.setSizeLocked(int(ev.Data1), int(ev.Data2))
			}
		}
	}
	return nil
}

func (r *Renderer) resizeSDL() {
	if r.sdl == nil {
		return
	}
	r.sdl.width = 0
	r.sdl.height = 0
}

func (r *Renderer) closeSDL() error {
	if r.sdl == nil {
		return nil
	}
	if r.sdl.texture != nil {
		r.sdl.texture.Destroy()
		r.sdl.texture = nil
	}
	if r.sdl.renderer != nil {
		r.sdl.renderer.Destroy()
		r.sdl.renderer = nil
	}
	if r.sdl.window != nil {
		r.sdl.window.Destroy()
		r.sdl.window = nil
	}
	r.sdl.pixelBuffer = nil
	if r.sdl.initialized {
		sdl.QuitSubSystem(sdl.INIT_VIDEO)
		r.sdl.initialized = false
	}
	r.sdl = nil
	return nil
}

// SupportsSDL reports whether the binary was built with the SDL backend.
func SupportsSDL() bool { return true }
