// Package control exposes the studio over a local JSON API.
package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/leorm1110/music-mixer-ai/internal/mixer"
	"github.com/leorm1110/music-mixer-ai/internal/separator"
	"github.com/leorm1110/music-mixer-ai/internal/studio"
	"github.com/leorm1110/music-mixer-ai/internal/transport"
	"golang.org/x/time/rate"
)

const maxUploadMemory = 32 << 20

// Options configures a Server.
type Options struct {
	SeekRate   float64 // seeks per second before 429
	ExportName string  // attachment filename for exports
	UploadDir  string  // scratch space for incoming files
}

// Server handles the /api routes.
type Server struct {
	studio *studio.Studio
	hub    *Hub
	seek   *rate.Limiter
	opts   Options
}

// NewServer creates the API server. hub may be nil.
func NewServer(st *studio.Studio, hub *Hub, opts Options) *Server {
	if opts.SeekRate <= 0 {
		opts.SeekRate = 20
	}
	if opts.ExportName == "" {
		opts.ExportName = "mio_mix.wav"
	}
	if opts.UploadDir == "" {
		opts.UploadDir = os.TempDir()
	}
	burst := int(opts.SeekRate)
	if burst < 1 {
		burst = 1
	}
	return &Server{
		studio: st,
		hub:    hub,
		seek:   rate.NewLimiter(rate.Limit(opts.SeekRate), burst),
		opts:   opts,
	}
}

// Register mounts the API (and the readout feed, if any) on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/upload", s.handleUpload)
	mux.HandleFunc("/api/play", s.handlePlay)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/seek", s.handleSeek)
	mux.HandleFunc("/api/volume", s.handleVolume)
	mux.HandleFunc("/api/mute", s.handleMute)
	mux.HandleFunc("/api/solo", s.handleSolo)
	mux.HandleFunc("/api/remove", s.handleRemove)
	mux.HandleFunc("/api/export", s.handleExport)
	if s.hub != nil {
		mux.Handle("/ws", s.hub)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps studio errors onto HTTP codes.
func statusFor(err error) int {
	var upErr *separator.UploadError
	var exErr *separator.ExportError
	switch {
	case errors.Is(err, mixer.ErrUnknownTrack):
		return http.StatusNotFound
	case errors.Is(err, mixer.ErrMasterTrack):
		return http.StatusBadRequest
	case errors.Is(err, studio.ErrNoSession),
		errors.Is(err, studio.ErrUploadInProgress),
		errors.Is(err, studio.ErrExportInProgress):
		return http.StatusConflict
	case errors.As(err, &upErr), errors.As(err, &exErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func fail(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return false
	}
	return true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return false
	}
	return true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	writeJSON(w, http.StatusOK, s.studio.Status())
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "multipart form required")
		return
	}
	file, hdr, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing audio file")
		return
	}
	defer file.Close()

	dir, err := os.MkdirTemp(s.opts.UploadDir, "upload-")
	if err != nil {
		fail(w, fmt.Errorf("create upload dir: %w", err))
		return
	}
	defer os.RemoveAll(dir)

	name := filepath.Base(hdr.Filename)
	if name == "." || name == string(filepath.Separator) {
		name = "audio"
	}
	path := filepath.Join(dir, name)
	if err := saveUpload(path, file); err != nil {
		fail(w, err)
		return
	}

	st, err := s.studio.Upload(r.Context(), path)
	if err != nil {
		log.Printf("Upload %s failed: %v", name, err)
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func saveUpload(path string, src io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save upload: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return fmt.Errorf("save upload: %w", err)
	}
	return f.Close()
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	playing, err := s.studio.TogglePlayback()
	resp := map[string]any{"ok": true, "playing": playing}

	var pbErr *transport.PlaybackError
	switch {
	case errors.As(err, &pbErr):
		failed := make([]string, 0, len(pbErr.Failed))
		for name := range pbErr.Failed {
			failed = append(failed, name)
		}
		sort.Strings(failed)
		resp["warning"] = pbErr.Error()
		resp["failed"] = failed
	case err != nil:
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if err := s.studio.Stop(); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if !s.seek.Allow() {
		writeError(w, http.StatusTooManyRequests, "too many seeks")
		return
	}
	var req struct {
		Position *float64 `json:"position"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Position == nil || *req.Position < 0 {
		writeError(w, http.StatusBadRequest, "position must be >= 0")
		return
	}
	if err := s.studio.Seek(*req.Position); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "position": *req.Position})
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Name   string   `json:"name"`
		Volume *float64 `json:"volume"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" || req.Volume == nil {
		writeError(w, http.StatusBadRequest, "name and volume required")
		return
	}
	if err := s.studio.SetVolume(req.Name, *req.Volume); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleMute sets the mute flag, or toggles it when "muted" is omitted.
func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Name  string `json:"name"`
		Muted *bool  `json:"muted"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}

	muted := false
	var err error
	if req.Muted != nil {
		muted = *req.Muted
		err = s.studio.SetMuted(req.Name, muted)
	} else {
		muted, err = s.studio.ToggleMute(req.Name)
	}
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "muted": muted})
}

// handleSolo toggles solo on a track, or clears it when no name is given.
func (s *Server) handleSolo(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		if err := s.studio.ClearSolo(); err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "solo": ""})
		return
	}
	solo, err := s.studio.ToggleSolo(req.Name)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "solo": solo})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	if err := s.studio.RemoveTrack(req.Name); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	data, err := s.studio.Export(r.Context())
	if err != nil {
		log.Printf("Export failed: %v", err)
		fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, s.opts.ExportName))
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Write(data)
}
