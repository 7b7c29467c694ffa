package audio

import (
	"context"
	"log"
	"sync"
	"time"
)

// Engine renders every loaded stem at real-time rate and emits the summed
// monitor mix as 20ms PCM frames.
type Engine struct {
	frameCh chan []int16

	mu       sync.RWMutex
	stems    []*Stem
	rendered time.Duration
}

// NewEngine creates an engine with no stems loaded.
func NewEngine() *Engine {
	return &Engine{
		frameCh: make(chan []int16, 100),
	}
}

// Frames returns the channel of outgoing PCM frames (20ms each).
func (e *Engine) Frames() <-chan []int16 {
	return e.frameCh
}

// Load replaces the set of stems being rendered.
func (e *Engine) Load(stems []*Stem) {
	e.mu.Lock()
	e.stems = stems
	e.mu.Unlock()
	log.Printf("Engine loaded %d stems", len(stems))
}

// Status returns the number of stems currently playing and the total audio
// time rendered since start.
func (e *Engine) Status() (active int, rendered time.Duration) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, s := range e.stems {
		if s.Playing() {
			active++
		}
	}
	return active, e.rendered
}

// Run starts the render clock. Blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.frameCh)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame := e.RenderFrame()

		select {
		case e.frameCh <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// RenderFrame advances every playing stem by one frame and returns the mix.
// Silence is returned when nothing plays so downstream encoders keep running.
func (e *Engine) RenderFrame() []int16 {
	acc := make([]float64, FrameSamples)

	e.mu.Lock()
	stems := e.stems
	e.rendered += FrameDuration
	e.mu.Unlock()

	for _, s := range stems {
		s.render(acc)
	}
	return Clip(acc)
}
