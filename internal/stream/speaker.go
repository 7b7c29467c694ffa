package stream

import (
	"context"
	"fmt"
	"log"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
	"github.com/leorm1110/music-mixer-ai/internal/audio"
)

// tapStreamer adapts a fanout tap to a beep.Streamer. Missing frames play as
// silence so the device never starves.
type tapStreamer struct {
	tap     *Tap
	pending []int16
}

func (s *tapStreamer) Stream(samples [][2]float64) (int, bool) {
	for i := range samples {
		if len(s.pending) < audio.Channels {
			select {
			case <-s.tap.Done():
				return i, false
			case frame := <-s.tap.C:
				s.pending = frame
			default:
				s.pending = nil
			}
		}
		if len(s.pending) < audio.Channels {
			samples[i] = [2]float64{}
			continue
		}
		samples[i] = [2]float64{
			float64(s.pending[0]) / 32768.0,
			float64(s.pending[1]) / 32768.0,
		}
		s.pending = s.pending[audio.Channels:]
	}
	return len(samples), true
}

func (s *tapStreamer) Err() error { return nil }

// PlaySpeaker sends the monitor mix to the default output device until ctx
// ends.
func PlaySpeaker(ctx context.Context, f *Fanout) error {
	sr := beep.SampleRate(audio.SampleRate)
	if err := speaker.Init(sr, sr.N(audio.FrameDuration*5)); err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}

	tap := f.Subscribe(25) // ~0.5s
	speaker.Play(&tapStreamer{tap: tap})
	log.Println("Local speaker monitor enabled")

	<-ctx.Done()
	f.Unsubscribe(tap)
	speaker.Clear()
	return nil
}
