package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Separation backend
	BackendURL    string
	UploadTimeout time.Duration // separation can take minutes
	CacheDir      string        // downloaded stems, one subdir per session

	// Export
	ExportDir  string
	ExportName string

	// Local control surface
	Port       int
	Console    bool
	SeekRate   float64 // seek commands per second
	StatusRate float64 // readout messages per second per client

	// Playback sync
	SyncInterval   time.Duration
	DriftTolerance float64 // seconds

	// Monitor outputs
	MonitorBitrate int // kbps, MP3 stream
	Speaker        bool
}

// Load reads configuration from environment variables with sane defaults.
// A .env file in the working directory is applied first when present.
func Load() Config {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded settings from .env")
	}

	return Config{
		BackendURL:    strings.TrimRight(envStr("MIXER_BACKEND_URL", "http://localhost:5001"), "/"),
		UploadTimeout: time.Duration(envInt("MIXER_UPLOAD_TIMEOUT", 600)) * time.Second,
		CacheDir:      envStr("MIXER_CACHE_DIR", filepath.Join(os.TempDir(), "stemmix")),

		ExportDir:  envStr("MIXER_EXPORT_DIR", "."),
		ExportName: envStr("MIXER_EXPORT_NAME", "mio_mix.wav"),

		Port:       envInt("MIXER_PORT", 8090),
		Console:    envBool("MIXER_CONSOLE", true),
		SeekRate:   envFloat("MIXER_SEEK_RATE", 20),
		StatusRate: envFloat("MIXER_STATUS_RATE", 10),

		SyncInterval:   time.Duration(envInt("MIXER_SYNC_INTERVAL_MS", 20)) * time.Millisecond,
		DriftTolerance: envFloat("MIXER_DRIFT_TOLERANCE", 0.05),

		MonitorBitrate: envInt("MIXER_MONITOR_BITRATE", 192),
		Speaker:        envBool("MIXER_SPEAKER", false),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
