package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// Fanout copies monitor mix frames from one source to any number of taps.
// A tap that falls behind loses frames; it never stalls the others.
type Fanout struct {
	mu      sync.RWMutex
	taps    map[*Tap]struct{}
	dropped atomic.Uint64
}

// Tap receives PCM frames from a Fanout.
type Tap struct {
	C    chan []int16 // buffered channel of 20ms PCM frames
	done chan struct{}
	once sync.Once
}

// Done is closed when the tap is removed.
func (t *Tap) Done() <-chan struct{} { return t.done }

// NewFanout creates an empty fanout.
func NewFanout() *Fanout {
	return &Fanout{
		taps: make(map[*Tap]struct{}),
	}
}

// Subscribe adds a tap buffering up to buffer frames (20ms each). Sinks size
// it to their latency budget: the MP3 encoder tolerates seconds of backlog,
// WebRTC and the speaker only a fraction of a second before audio lags.
func (f *Fanout) Subscribe(buffer int) *Tap {
	t := &Tap{
		C:    make(chan []int16, buffer),
		done: make(chan struct{}),
	}
	f.mu.Lock()
	f.taps[t] = struct{}{}
	f.mu.Unlock()
	return t
}

// Unsubscribe removes a tap and closes its Done channel. Safe to call twice.
func (f *Fanout) Unsubscribe(t *Tap) {
	f.mu.Lock()
	delete(f.taps, t)
	f.mu.Unlock()
	t.once.Do(func() { close(t.done) })
}

// Taps returns the number of attached taps.
func (f *Fanout) Taps() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.taps)
}

// Dropped returns the number of frames lost to slow taps.
func (f *Fanout) Dropped() uint64 {
	return f.dropped.Load()
}

// Run distributes frames from source until ctx ends or source closes.
func (f *Fanout) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			f.publish(frame)
		}
	}
}

func (f *Fanout) publish(frame []int16) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for t := range f.taps {
		select {
		case t.C <- frame:
		default:
			f.dropped.Add(1)
		}
	}
}
