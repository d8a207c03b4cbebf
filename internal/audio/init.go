package audio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudio only enumerates devices when it is initialised, so the library
// is reference counted: once every user has released it, the next Initialize
// sees devices plugged in since.
var (
	libMu   sync.Mutex
	libRefs int

	paInitialize = portaudio.Initialize
	paTerminate  = portaudio.Terminate
)

// Initialize takes a reference on PortAudio, initialising it on first use.
// A failed attempt takes no reference and can be retried.
func Initialize() error {
	libMu.Lock()
	defer libMu.Unlock()
	if libRefs == 0 {
		if err := paInitialize(); err != nil {
			return fmt.Errorf("initialize portaudio: %w", err)
		}
	}
	libRefs++
	return nil
}

// Terminate releases a reference taken by Initialize. Extra calls are ignored.
func Terminate() {
	libMu.Lock()
	defer libMu.Unlock()
	if libRefs == 0 {
		return
	}
	libRefs--
	if libRefs == 0 {
		_ = paTerminate()
	}
}
