package audio

import (
	"errors"
	"math"
	"sync"
)

// ErrNotReady is returned by Play when a stem holds no decoded audio.
var ErrNotReady = errors.New("stem not ready")

// Stem is one decoded track playing against the engine's frame clock. It
// behaves like a media element: play, pause, seek and a volume that the mixer
// drives. Positions are in seconds.
type Stem struct {
	name string

	mu       sync.Mutex
	samples  []int16 // interleaved stereo, 48kHz
	pos      int     // sample frames (per channel) already played
	playing  bool
	gain     float64
	lastGain float64
	onEnded  func()
}

// NewStem wraps decoded samples. The stem starts paused at position 0.
func NewStem(name string, samples []int16) *Stem {
	return &Stem{
		name:    name,
		samples: samples,
		gain:    1,
	}
}

// Name returns the stem's track name.
func (s *Stem) Name() string { return s.name }

func (s *Stem) total() int {
	return len(s.samples) / Channels
}

// Play starts playback. Playing a stem that reached its end restarts it.
func (s *Stem) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.total() == 0 {
		return ErrNotReady
	}
	if s.pos >= s.total() {
		s.pos = 0
	}
	if !s.playing {
		s.lastGain = 0 // fade in from silence
	}
	s.playing = true
	return nil
}

// Pause halts playback, keeping the position.
func (s *Stem) Pause() {
	s.mu.Lock()
	s.playing = false
	s.mu.Unlock()
}

// Playing reports whether the stem is advancing.
func (s *Stem) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Position returns the playback position in seconds.
func (s *Stem) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return float64(s.pos) / SampleRate
}

// Seek moves the playback position, clamped to [0, Duration].
func (s *Stem) Seek(seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if math.IsNaN(seconds) || seconds < 0 {
		seconds = 0
	}
	p := int(math.Round(seconds * SampleRate))
	if p > s.total() {
		p = s.total()
	}
	s.pos = p
}

// Duration returns the stem length in seconds.
func (s *Stem) Duration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return float64(s.total()) / SampleRate
}

// SetGain sets the output gain applied while rendering.
func (s *Stem) SetGain(g float64) {
	s.mu.Lock()
	s.gain = g
	s.mu.Unlock()
}

// OnEnded registers a callback fired once each time playback reaches the end.
// The callback runs on its own goroutine.
func (s *Stem) OnEnded(fn func()) {
	s.mu.Lock()
	s.onEnded = fn
	s.mu.Unlock()
}

// render mixes the next frame into acc and advances the position. Returns
// false when the stem is paused.
func (s *Stem) render(acc []float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.playing {
		return false
	}

	end := s.pos + FrameSize
	if end > s.total() {
		end = s.total()
	}
	MixInto(acc, s.samples[s.pos*Channels:end*Channels], s.lastGain, s.gain)
	s.lastGain = s.gain
	s.pos = end

	if s.pos >= s.total() {
		s.playing = false
		if fn := s.onEnded; fn != nil {
			go fn()
		}
	}
	return true
}
