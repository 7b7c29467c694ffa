package mixer

import "errors"

var (
	// ErrUnknownTrack is returned when a mutation names a track the session does not hold.
	ErrUnknownTrack = errors.New("unknown track")
	// ErrDuplicateTrack is returned when a track name is already registered.
	ErrDuplicateTrack = errors.New("duplicate track")
	// ErrMasterTrack is returned when removing the master track.
	ErrMasterTrack = errors.New("master track cannot be removed")
)

// Handle is one playable media resource. Positions are in seconds.
// Implementations must be safe for concurrent use.
type Handle interface {
	Play() error
	Pause()
	Position() float64
	Seek(seconds float64)
	SetGain(gain float64)
	Duration() float64
}

// Track is a snapshot of one stem's mixer state.
type Track struct {
	Name   string
	Volume float64 // [0,1]
	Muted  bool
	Handle Handle
}

// EffectiveGain resolves the output gain of a track. An empty solo means no
// track is solo'd. A solo on another track silences this one regardless of its
// own volume and mute state.
func EffectiveGain(t Track, solo string) float64 {
	if solo != "" && solo != t.Name {
		return 0
	}
	if t.Muted {
		return 0
	}
	return t.Volume
}

func clamp01(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
