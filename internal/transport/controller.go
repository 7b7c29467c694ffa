package transport

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/leorm1110/music-mixer-ai/internal/mixer"
)

// PlaybackError lists tracks whose media handle refused to start. It is
// non-fatal: the session stays in the playing state.
type PlaybackError struct {
	Failed map[string]error
}

func (e *PlaybackError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for n := range e.Failed {
		names = append(names, n)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", n, e.Failed[n]))
	}
	return "playback failed for " + strings.Join(parts, "; ")
}

// Controller fans transport commands out to every track of a session and
// keeps the sync loop running exactly while the session is playing.
type Controller struct {
	session *mixer.Session
	sync    *Synchronizer
	readout ReadoutFunc

	mu sync.Mutex
}

// NewController binds a controller to a session and its synchronizer.
func NewController(session *mixer.Session, s *Synchronizer, readout ReadoutFunc) *Controller {
	return &Controller{
		session: session,
		sync:    s,
		readout: readout,
	}
}

// Playing reports the session's play flag.
func (c *Controller) Playing() bool {
	return c.session.Playing()
}

// TogglePlayback flips between playing and paused and returns the new state.
// A non-nil error is a *PlaybackError naming tracks that failed to start; the
// play state is not rolled back.
func (c *Controller) TogglePlayback() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	playing := !c.session.Playing()
	c.session.SetPlaying(playing)

	if !playing {
		for _, t := range c.session.Tracks() {
			if t.Handle != nil {
				t.Handle.Pause()
			}
		}
		c.sync.Stop()
		return false, nil
	}

	var perr *PlaybackError
	for _, t := range c.session.Tracks() {
		if t.Handle == nil {
			continue
		}
		if err := t.Handle.Play(); err != nil {
			if perr == nil {
				perr = &PlaybackError{Failed: make(map[string]error)}
			}
			perr.Failed[t.Name] = err
			log.Printf("Track %s failed to start: %v", t.Name, err)
		}
	}
	c.sync.Start()

	if perr != nil {
		return true, perr
	}
	return true, nil
}

// StopAllTracks pauses and rewinds every track and stops the sync loop.
func (c *Controller) StopAllTracks() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range c.session.Tracks() {
		if t.Handle == nil {
			continue
		}
		t.Handle.Pause()
		t.Handle.Seek(0)
	}
	c.session.SetPlaying(false)
	c.sync.Stop()
	if c.readout != nil {
		c.readout(0)
	}
}

// SeekAllTracks moves every track to seconds and updates the readout. It
// never starts the sync loop.
func (c *Controller) SeekAllTracks(seconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range c.session.Tracks() {
		if t.Handle != nil {
			t.Handle.Seek(seconds)
		}
	}
	if c.readout != nil {
		c.readout(seconds)
	}
}

// MasterEnded handles natural end-of-media on the master track.
func (c *Controller) MasterEnded() {
	log.Println("Master track ended, stopping")
	c.StopAllTracks()
}

// Position returns the master position, or 0 without tracks.
func (c *Controller) Position() float64 {
	m, ok := c.session.Master()
	if !ok || m.Handle == nil {
		return 0
	}
	return m.Handle.Position()
}

// Duration returns the master duration, or 0 without tracks.
func (c *Controller) Duration() float64 {
	m, ok := c.session.Master()
	if !ok || m.Handle == nil {
		return 0
	}
	return m.Handle.Duration()
}

// Close stops the loop and releases the session.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sync.Stop()
	c.session.Close()
}
