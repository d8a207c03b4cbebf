package app

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// Profiler writes per-frame section timings as CSV. It implements
// engine.Tracer; a nil *Profiler is a valid no-op.
type Profiler struct {
	mu     sync.Mutex
	out    io.WriteCloser
	logger *log.Logger
	start  time.Time
	last   time.Time
	now    func() time.Time
}

// NewProfiler opens path for appending. It returns nil, after logging, when
// the file cannot be opened, or when path is empty.
func NewProfiler(path string, logger *log.Logger) *Profiler {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		if logger != nil {
			logger.Printf("profiler disabled: %v", err)
		}
		return nil
	}
	return newProfiler(f, logger)
}

func newProfiler(out io.WriteCloser, logger *log.Logger) *Profiler {
	p := &Profiler{out: out, logger: logger, now: time.Now}
	fmt.Fprintln(p.out, "timestamp,section,delta_ms")
	return p
}

func (p *Profiler) BeginFrame() {
	if p == nil {
		return
	}
	now := p.now()
	p.start = now
	p.last = now
	p.log(now, "frame_start", 0)
}

func (p *Profiler) MarkSection(name string) {
	if p == nil {
		return
	}
	now := p.now()
	delta := now.Sub(p.last).Seconds() * 1000
	p.last = now
	p.log(now, name, delta)
}

func (p *Profiler) EndFrame() {
	if p == nil {
		return
	}
	now := p.now()
	p.log(now, "frame_total", now.Sub(p.start).Seconds()*1000)
}

// Close flushes and closes the output.
func (p *Profiler) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out == nil {
		return nil
	}
	err := p.out.Close()
	p.out = nil
	return err
}

func (p *Profiler) log(at time.Time, section string, deltaMs float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out == nil {
		return
	}
	fmt.Fprintf(p.out, "%s,%s,%.3f\n", at.Format(time.RFC3339Nano), section, deltaMs)
}
