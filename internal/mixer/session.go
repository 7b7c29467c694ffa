package mixer

import (
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
)

// Session owns every track of one upload together with the solo selection,
// the master clock track and the play flag.
type Session struct {
	id   string
	path string // server-side session token used for export

	mu      sync.RWMutex
	order   []string
	tracks  map[string]*Track
	solo    string
	master  string
	playing bool
}

// NewSession creates an empty session bound to a backend session path.
func NewSession(path string) *Session {
	return &Session{
		id:     uuid.NewString(),
		path:   path,
		tracks: make(map[string]*Track),
	}
}

// ID returns the locally generated session identifier.
func (s *Session) ID() string { return s.id }

// Path returns the backend session path.
func (s *Session) Path() string { return s.path }

// AddTrack registers a track at full volume, unmuted. The first track added
// becomes the master.
func (s *Session) AddTrack(name string, h Handle) error {
	if name == "" {
		return fmt.Errorf("add track: empty name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tracks[name]; ok {
		return fmt.Errorf("add track %q: %w", name, ErrDuplicateTrack)
	}
	s.tracks[name] = &Track{Name: name, Volume: 1, Handle: h}
	s.order = append(s.order, name)
	if s.master == "" {
		s.master = name
	}
	s.applyGains()
	return nil
}

// RemoveTrack drops a track and silences its handle. A solo pointing at it
// is cleared.
func (s *Session) RemoveTrack(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tracks[name]
	if !ok {
		return fmt.Errorf("remove %q: %w", name, ErrUnknownTrack)
	}
	if name == s.master {
		return fmt.Errorf("remove %q: %w", name, ErrMasterTrack)
	}
	if t.Handle != nil {
		t.Handle.Pause()
		t.Handle.SetGain(0)
	}
	delete(s.tracks, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.solo == name {
		s.solo = ""
	}
	s.applyGains()
	return nil
}

// SetVolume stores a volume clamped to [0,1].
func (s *Session) SetVolume(name string, v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tracks[name]
	if !ok {
		return fmt.Errorf("set volume %q: %w", name, ErrUnknownTrack)
	}
	t.Volume = clamp01(v)
	s.applyGains()
	return nil
}

// SetMuted sets a track's mute flag.
func (s *Session) SetMuted(name string, muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tracks[name]
	if !ok {
		return fmt.Errorf("set muted %q: %w", name, ErrUnknownTrack)
	}
	t.Muted = muted
	s.applyGains()
	return nil
}

// ToggleMute flips a track's mute flag and returns the new value.
func (s *Session) ToggleMute(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tracks[name]
	if !ok {
		return false, fmt.Errorf("toggle mute %q: %w", name, ErrUnknownTrack)
	}
	t.Muted = !t.Muted
	s.applyGains()
	return t.Muted, nil
}

// ToggleSolo selects name as the solo track, replacing any previous selection.
// Toggling the current solo track clears the selection. Returns the solo
// selection after the change ("" when none).
func (s *Session) ToggleSolo(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tracks[name]; !ok {
		return s.solo, fmt.Errorf("solo %q: %w", name, ErrUnknownTrack)
	}
	if s.solo == name {
		s.solo = ""
	} else {
		s.solo = name
	}
	s.applyGains()
	return s.solo, nil
}

// ClearSolo drops any solo selection.
func (s *Session) ClearSolo() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.solo = ""
	s.applyGains()
}

// Solo returns the solo'd track name, or "" when none.
func (s *Session) Solo() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.solo
}

// Track returns a snapshot of the named track.
func (s *Session) Track(name string) (Track, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tracks[name]
	if !ok {
		return Track{}, fmt.Errorf("track %q: %w", name, ErrUnknownTrack)
	}
	return *t, nil
}

// Tracks returns snapshots of all tracks in the order they were added.
func (s *Session) Tracks() []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Track, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, *s.tracks[n])
	}
	return out
}

// Gain returns the effective gain of the named track.
func (s *Session) Gain(name string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tracks[name]
	if !ok {
		return 0, fmt.Errorf("gain %q: %w", name, ErrUnknownTrack)
	}
	return EffectiveGain(*t, s.solo), nil
}

// Master returns the master track. ok is false when no tracks are loaded.
func (s *Session) Master() (Track, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.master == "" {
		return Track{}, false
	}
	return *s.tracks[s.master], true
}

// Playing reports the play flag.
func (s *Session) Playing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playing
}

// SetPlaying sets the play flag. The transport keeps it consistent with the
// sync loop.
func (s *Session) SetPlaying(playing bool) {
	s.mu.Lock()
	s.playing = playing
	s.mu.Unlock()
}

// Mix returns the current mixdown recipe.
func (s *Session) Mix() Mix {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := Mix{SessionPath: s.path, Solo: s.solo}
	for _, n := range s.order {
		t := s.tracks[n]
		m.Tracks = append(m.Tracks, MixTrack{Name: t.Name, Volume: t.Volume, Mute: t.Muted})
	}
	return m
}

// applyGains pushes the effective gain of every track to its handle.
// Must be called with mu held.
func (s *Session) applyGains() {
	for _, n := range s.order {
		t := s.tracks[n]
		if t.Handle == nil {
			continue
		}
		t.Handle.SetGain(EffectiveGain(*t, s.solo))
	}
}

// Close pauses every handle. The session must not be used afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.order {
		if h := s.tracks[n].Handle; h != nil {
			h.Pause()
		}
	}
	s.playing = false
	log.Printf("Session %s closed (%d tracks)", s.id, len(s.order))
}
