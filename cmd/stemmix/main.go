package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leorm1110/music-mixer-ai/internal/audio"
	"github.com/leorm1110/music-mixer-ai/internal/config"
	"github.com/leorm1110/music-mixer-ai/internal/control"
	"github.com/leorm1110/music-mixer-ai/internal/separator"
	"github.com/leorm1110/music-mixer-ai/internal/stream"
	"github.com/leorm1110/music-mixer-ai/internal/studio"
)

func main() {
	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Println("stemmix starting up...")

	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		log.Fatalf("Cache dir %s: %v", cfg.CacheDir, err)
	}

	// Separation backend
	backend := separator.NewClient(cfg.BackendURL, cfg.UploadTimeout)
	readyCtx, readyCancel := context.WithTimeout(ctx, 10*time.Second)
	if !backend.WaitForReady(readyCtx) {
		log.Printf("Separation backend not reachable at %s, uploads will fail until it is", cfg.BackendURL)
	}
	readyCancel()

	// Audio engine renders the loaded stems in real time
	engine := audio.NewEngine()
	go engine.Run(ctx)

	// Fan-out of the monitor mix
	fanout := stream.NewFanout()
	go fanout.Run(ctx, engine.Frames())

	if cfg.Speaker {
		go func() {
			if err := stream.PlaySpeaker(ctx, fanout); err != nil {
				log.Printf("Speaker monitor disabled: %v", err)
			}
		}()
	}

	hub := control.NewHub(cfg.StatusRate)
	st := studio.New(backend, engine, studio.Config{
		CacheDir:       cfg.CacheDir,
		SyncInterval:   cfg.SyncInterval,
		DriftTolerance: cfg.DriftTolerance,
		OnReadout:      hub.Publish,
	})
	defer st.Close()

	// HTTP routes
	mux := http.NewServeMux()
	control.NewServer(st, hub, control.Options{
		SeekRate:   cfg.SeekRate,
		ExportName: cfg.ExportName,
		UploadDir:  cfg.CacheDir,
	}).Register(mux)

	webrtcHandler := stream.NewWebRTCHandler(fanout, cfg.MonitorBitrate)
	mux.Handle("/stream", stream.NewHTTPHandler(fanout, cfg.MonitorBitrate))
	mux.Handle("/offer", webrtcHandler)

	mux.HandleFunc("/api/monitor", func(w http.ResponseWriter, r *http.Request) {
		active, rendered := engine.Status()
		resp := map[string]any{
			"active_stems":    active,
			"rendered":        rendered.Seconds(),
			"taps":            fanout.Taps(),
			"dropped":         fanout.Dropped(),
			"webrtc_peers":    webrtcHandler.PeerCount(),
			"readout_clients": hub.Clients(),
		}
		if last, ok := hub.Last(); ok {
			resp["last_readout"] = last
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		json.NewEncoder(w).Encode(resp)
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	if cfg.Console {
		c := &console{
			studio:     st,
			exportDir:  cfg.ExportDir,
			exportName: cfg.ExportName,
			out:        os.Stdout,
		}
		go c.run(ctx, cancel)
	}

	log.Printf("stemmix control surface on %s (backend %s)", addr, cfg.BackendURL)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("HTTP server error: %v", err)
	}
}
