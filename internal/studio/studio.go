package studio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leorm1110/music-mixer-ai/internal/audio"
	"github.com/leorm1110/music-mixer-ai/internal/mixer"
	"github.com/leorm1110/music-mixer-ai/internal/separator"
	"github.com/leorm1110/music-mixer-ai/internal/transport"
)

var (
	// ErrUploadInProgress rejects an upload while another one is running.
	ErrUploadInProgress = errors.New("upload already in progress")
	// ErrExportInProgress rejects an export while another one is running.
	ErrExportInProgress = errors.New("export already in progress")
	// ErrNoSession is returned by commands issued before any upload succeeded.
	ErrNoSession = errors.New("no session loaded")
)

// Backend is the subset of the separation client the studio needs.
type Backend interface {
	UploadFile(ctx context.Context, path string) (*separator.UploadResult, error)
	FetchStem(ctx context.Context, stem separator.Stem, dir string) (string, error)
	Export(ctx context.Context, req separator.ExportRequest) ([]byte, error)
}

// DecodeFunc turns a stem file into interleaved 48kHz stereo samples.
type DecodeFunc func(ctx context.Context, path string) ([]int16, error)

// Readout is the transport position as shown to the user.
type Readout struct {
	Position float64 `json:"position"`
	Elapsed  string  `json:"elapsed"`
	Duration float64 `json:"duration"`
	Playing  bool    `json:"playing"`
}

// Config holds studio parameters.
type Config struct {
	CacheDir       string
	SyncInterval   time.Duration
	DriftTolerance float64
	Decode         DecodeFunc    // defaults to audio.DecodeFile
	OnReadout      func(Readout) // optional, called from the sync loop
}

// Studio owns the current mixer session and replaces it on every upload.
type Studio struct {
	backend Backend
	engine  *audio.Engine
	cfg     Config

	uploading atomic.Bool
	exporting atomic.Bool

	mu      sync.RWMutex
	session *mixer.Session
	ctrl    *transport.Controller
	sync    *transport.Synchronizer
}

// New creates a studio with no session loaded.
func New(backend Backend, engine *audio.Engine, cfg Config) *Studio {
	if cfg.Decode == nil {
		cfg.Decode = audio.DecodeFile
	}
	return &Studio{
		backend: backend,
		engine:  engine,
		cfg:     cfg,
	}
}

// Upload separates the file at path and loads its stems as a fresh session.
// On failure the current session is left untouched.
func (s *Studio) Upload(ctx context.Context, path string) (Status, error) {
	if !s.uploading.CompareAndSwap(false, true) {
		return Status{}, ErrUploadInProgress
	}
	defer s.uploading.Store(false)

	logMetadata(path)

	res, err := s.backend.UploadFile(ctx, path)
	if err != nil {
		return Status{}, err
	}
	if len(res.Tracks) == 0 {
		return Status{}, &separator.UploadError{Message: "no tracks returned"}
	}

	dir := filepath.Join(s.cfg.CacheDir, strings.ReplaceAll(res.Path, string(filepath.Separator), "_"))
	stems := make([]*audio.Stem, 0, len(res.Tracks))
	for _, t := range res.Tracks {
		local, err := s.backend.FetchStem(ctx, t, dir)
		if err != nil {
			return Status{}, &separator.UploadError{Err: err}
		}
		samples, err := s.cfg.Decode(ctx, local)
		if err != nil {
			return Status{}, &separator.UploadError{Err: fmt.Errorf("load stem %s: %w", t.Name, err)}
		}
		stems = append(stems, audio.NewStem(t.Name, samples))
	}

	sess := mixer.NewSession(res.Path)
	for _, st := range stems {
		if err := sess.AddTrack(st.Name(), st); err != nil {
			return Status{}, &separator.UploadError{Err: err}
		}
	}

	readout := s.readoutFor(sess)
	syn := transport.NewSynchronizer(sess, s.cfg.SyncInterval, s.cfg.DriftTolerance, readout)
	ctrl := transport.NewController(sess, syn, readout)
	stems[0].OnEnded(ctrl.MasterEnded)

	s.mu.Lock()
	old := s.ctrl
	s.session, s.ctrl, s.sync = sess, ctrl, syn
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
	s.engine.Load(stems)

	log.Printf("Session %s ready: %d tracks, master %s", sess.ID(), len(stems), stems[0].Name())
	return s.Status(), nil
}

// readoutFor builds the position readout for one session. It must not take
// the studio lock: it runs inside the sync loop, which is stopped while that
// lock is held.
func (s *Studio) readoutFor(sess *mixer.Session) transport.ReadoutFunc {
	fn := s.cfg.OnReadout
	if fn == nil {
		return nil
	}
	return func(pos float64) {
		var dur float64
		if m, ok := sess.Master(); ok {
			dur = m.Handle.Duration()
		}
		fn(Readout{
			Position: pos,
			Elapsed:  transport.FormatClock(pos),
			Duration: dur,
			Playing:  sess.Playing(),
		})
	}
}

func (s *Studio) current() (*mixer.Session, *transport.Controller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil, nil, ErrNoSession
	}
	return s.session, s.ctrl, nil
}

// TogglePlayback flips play/pause. A *transport.PlaybackError is non-fatal.
func (s *Studio) TogglePlayback() (bool, error) {
	_, ctrl, err := s.current()
	if err != nil {
		return false, err
	}
	return ctrl.TogglePlayback()
}

// Stop pauses and rewinds every track.
func (s *Studio) Stop() error {
	_, ctrl, err := s.current()
	if err != nil {
		return err
	}
	ctrl.StopAllTracks()
	return nil
}

// Seek moves every track to seconds.
func (s *Studio) Seek(seconds float64) error {
	_, ctrl, err := s.current()
	if err != nil {
		return err
	}
	ctrl.SeekAllTracks(seconds)
	return nil
}

// SetVolume sets a track's volume.
func (s *Studio) SetVolume(name string, v float64) error {
	sess, _, err := s.current()
	if err != nil {
		return err
	}
	return sess.SetVolume(name, v)
}

// SetMuted sets a track's mute flag.
func (s *Studio) SetMuted(name string, muted bool) error {
	sess, _, err := s.current()
	if err != nil {
		return err
	}
	return sess.SetMuted(name, muted)
}

// ToggleMute flips a track's mute flag.
func (s *Studio) ToggleMute(name string) (bool, error) {
	sess, _, err := s.current()
	if err != nil {
		return false, err
	}
	return sess.ToggleMute(name)
}

// ToggleSolo toggles the solo selection on a track.
func (s *Studio) ToggleSolo(name string) (string, error) {
	sess, _, err := s.current()
	if err != nil {
		return "", err
	}
	return sess.ToggleSolo(name)
}

// ClearSolo drops the solo selection.
func (s *Studio) ClearSolo() error {
	sess, _, err := s.current()
	if err != nil {
		return err
	}
	sess.ClearSolo()
	return nil
}

// RemoveTrack drops a non-master track from the session.
func (s *Studio) RemoveTrack(name string) error {
	sess, _, err := s.current()
	if err != nil {
		return err
	}
	return sess.RemoveTrack(name)
}

// TrackNames lists the current session's tracks in order.
func (s *Studio) TrackNames() []string {
	sess, _, err := s.current()
	if err != nil {
		return nil
	}
	var names []string
	for _, t := range sess.Tracks() {
		names = append(names, t.Name)
	}
	return names
}

// ExportRequest builds the mixdown recipe for the current session.
func (s *Studio) ExportRequest() (separator.ExportRequest, error) {
	sess, _, err := s.current()
	if err != nil {
		return separator.ExportRequest{}, err
	}
	mix := sess.Mix()
	req := separator.ExportRequest{SessionPath: mix.SessionPath, Tracks: []separator.ExportTrack{}}
	for _, t := range mix.Tracks {
		req.Tracks = append(req.Tracks, separator.ExportTrack{Name: t.Name, Volume: t.Volume, Mute: t.Mute})
	}
	if mix.Solo != "" {
		solo := mix.Solo
		req.SoloTrack = &solo
	}
	if !mix.Audible() {
		log.Printf("Exporting session %s with no audible track", sess.ID())
	}
	return req, nil
}

// Export requests a server-side mixdown of the current session.
func (s *Studio) Export(ctx context.Context) ([]byte, error) {
	if !s.exporting.CompareAndSwap(false, true) {
		return nil, ErrExportInProgress
	}
	defer s.exporting.Store(false)

	req, err := s.ExportRequest()
	if err != nil {
		return nil, err
	}
	return s.backend.Export(ctx, req)
}

// ExportTo exports and writes the mix to dir/name, returning the file path.
func (s *Studio) ExportTo(ctx context.Context, dir, name string) (string, error) {
	data, err := s.Export(ctx)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	dst := filepath.Join(dir, name)
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", fmt.Errorf("write mix: %w", err)
	}
	log.Printf("Mix saved to %s", dst)
	return dst, nil
}

// Close stops playback and releases the current session.
func (s *Studio) Close() {
	s.mu.Lock()
	ctrl := s.ctrl
	s.session, s.ctrl, s.sync = nil, nil, nil
	s.mu.Unlock()

	if ctrl != nil {
		ctrl.Close()
	}
	s.engine.Load(nil)
}
