package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// DecodeFile decodes a stem file (WAV, MP3, FLAC...) with FFmpeg into
// interleaved stereo int16 samples at SampleRate.
func DecodeFile(ctx context.Context, path string) ([]int16, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(SampleRate),
		"-ac", strconv.Itoa(Channels),
		"-loglevel", "error",
		"pipe:1",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("ffmpeg decode %s: %w: %s", path, err, msg)
		}
		return nil, fmt.Errorf("ffmpeg decode %s: %w", path, err)
	}
	if len(out) < FrameBytes {
		return nil, fmt.Errorf("ffmpeg decode %s: %d bytes of audio", path, len(out))
	}

	return BytesToSamples(out), nil
}

// BytesToSamples converts little-endian PCM bytes to int16 samples. A trailing
// odd byte is dropped.
func BytesToSamples(buf []byte) []int16 {
	samples := make([]int16, len(buf)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2 : i*2+2]))
	}
	return samples
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
