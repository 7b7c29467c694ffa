package stream

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/leorm1110/music-mixer-ai/internal/audio"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"gopkg.in/hraban/opus.v2"
)

// WebRTCHandler answers SDP offers with an Opus track carrying the monitor mix.
// It gives a browser a low-latency way to hear the mixer.
type WebRTCHandler struct {
	fanout  *Fanout
	bitrate int // bps

	mu    sync.Mutex
	peers map[*webrtc.PeerConnection]struct{}
}

// NewWebRTCHandler creates a WebRTC monitor handler.
func NewWebRTCHandler(f *Fanout, bitrateKbps int) *WebRTCHandler {
	if bitrateKbps <= 0 {
		bitrateKbps = 128
	}
	return &WebRTCHandler{
		fanout:  f,
		bitrate: bitrateKbps * 1000,
		peers:   make(map[*webrtc.PeerConnection]struct{}),
	}
}

// PeerCount returns the number of connected peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, track, status, err := h.negotiate(offer)
	if err != nil {
		log.Printf("WebRTC negotiation: %v", err)
		http.Error(w, err.Error(), status)
		return
	}

	h.mu.Lock()
	h.peers[pc] = struct{}{}
	h.mu.Unlock()
	log.Printf("WebRTC monitor peer connected (peers: %d)", h.PeerCount())

	tap := h.fanout.Subscribe(50) // ~1s
	go h.streamOpus(tap, track)

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			h.fanout.Unsubscribe(tap)
			h.drop(pc)
		}
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

// negotiate builds a peer connection with one Opus track and completes ICE
// gathering. The returned status is meaningful only when err is non-nil.
func (h *WebRTCHandler) negotiate(offer webrtc.SessionDescription) (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, int, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, nil, http.StatusInternalServerError, err
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"monitor",
		"stemmix",
	)
	if err != nil {
		pc.Close()
		return nil, nil, http.StatusInternalServerError, err
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		return nil, nil, http.StatusInternalServerError, err
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return nil, nil, http.StatusBadRequest, err
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, nil, http.StatusInternalServerError, err
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return nil, nil, http.StatusInternalServerError, err
	}
	<-gathered

	return pc, track, 0, nil
}

func (h *WebRTCHandler) streamOpus(tap *Tap, track *webrtc.TrackLocalStaticSample) {
	defer h.fanout.Unsubscribe(tap)

	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		log.Printf("WebRTC: opus encoder: %v", err)
		return
	}
	if err := enc.SetBitrate(h.bitrate); err != nil {
		log.Printf("WebRTC: opus bitrate: %v", err)
	}

	packet := make([]byte, 4000)
	for {
		select {
		case <-tap.Done():
			return
		case frame := <-tap.C:
			n, err := enc.Encode(frame, packet)
			if err != nil {
				log.Printf("WebRTC: opus encode: %v", err)
				continue
			}
			if err := track.WriteSample(media.Sample{Data: packet[:n], Duration: audio.FrameDuration}); err != nil {
				return
			}
		}
	}
}

func (h *WebRTCHandler) drop(pc *webrtc.PeerConnection) {
	h.mu.Lock()
	_, ok := h.peers[pc]
	delete(h.peers, pc)
	h.mu.Unlock()

	if ok {
		pc.Close()
		log.Printf("WebRTC monitor peer left (peers: %d)", h.PeerCount())
	}
}
