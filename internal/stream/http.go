package stream

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/exec"
	"strconv"

	"github.com/leorm1110/music-mixer-ai/internal/audio"
)

// HTTPHandler serves the live monitor mix as a chunked MP3 stream. Each
// connection runs its own FFmpeg encoder.
type HTTPHandler struct {
	fanout  *Fanout
	bitrate int // kbps
}

// NewHTTPHandler creates an MP3 monitor handler.
func NewHTTPHandler(f *Fanout, bitrateKbps int) *HTTPHandler {
	if bitrateKbps <= 0 {
		bitrateKbps = 192
	}
	return &HTTPHandler{fanout: f, bitrate: bitrateKbps}
}

func mp3Encoder(ctx context.Context, bitrateKbps int) *exec.Cmd {
	return exec.CommandContext(ctx, "ffmpeg",
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", fmt.Sprintf("%dk", bitrateKbps),
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	)
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cmd := mp3Encoder(ctx, h.bitrate)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		log.Printf("Monitor stream: stdin pipe: %v", err)
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		log.Printf("Monitor stream: stdout pipe: %v", err)
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	if err := cmd.Start(); err != nil {
		log.Printf("Monitor stream: ffmpeg start: %v", err)
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	defer cmd.Wait()

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("ICY-Name", "stemmix monitor")

	tap := h.fanout.Subscribe(150) // ~3 seconds at 20ms/frame
	defer h.fanout.Unsubscribe(tap)

	log.Printf("Monitor listener connected (taps: %d)", h.fanout.Taps())
	defer log.Printf("Monitor listener disconnected")

	go pumpPCM(ctx, tap, stdin)

	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("Monitor stream: ffmpeg read: %v", err)
			}
			return
		}
	}
}

// pumpPCM feeds tap frames to an encoder until either side stops.
func pumpPCM(ctx context.Context, tap *Tap, w io.WriteCloser) {
	defer w.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tap.Done():
			return
		case frame := <-tap.C:
			if _, err := w.Write(audio.SamplesToBytes(frame)); err != nil {
				return
			}
		}
	}
}
