// Package notify plays the short cue that tells the user the assistant is listening.
package notify

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"

	"aide/pkg/audioconv"
)

const sampleRate = beep.SampleRate(44100)

var initSpeaker = sync.OnceValue(func() error {
	return speaker.Init(sampleRate, sampleRate.N(time.Second/10))
})

// Chime plays a cue file (mp3, wav, ogg or opus), or a short generated tone
// when no file is set.
type Chime struct {
	path string
}

func NewChime(path string) *Chime {
	return &Chime{path: path}
}

func (c *Chime) source(ctx context.Context) (beep.Streamer, func(), error) {
	if c.path == "" {
		return beep.Take(sampleRate.N(150*time.Millisecond), tone(880, 0.3)), func() {}, nil
	}
	if !strings.EqualFold(filepath.Ext(c.path), ".mp3") {
		pcm, err := audioconv.ConvertFileToPCM(ctx, c.path, audioconv.Options{SampleRate: int(sampleRate)})
		if err != nil {
			return nil, nil, fmt.Errorf("decode chime: %w", err)
		}
		return mono(pcm), func() {}, nil
	}

	f, err := os.Open(c.path)
	if err != nil {
		return nil, nil, fmt.Errorf("open chime: %w", err)
	}
	streamer, format, err := mp3.Decode(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("decode chime: %w", err)
	}

	var s beep.Streamer = streamer
	if format.SampleRate != sampleRate {
		s = beep.Resample(4, format.SampleRate, sampleRate, streamer)
	}
	return s, func() { streamer.Close() }, nil
}

// mono streams pcm, already at sampleRate, to both speaker channels.
func mono(pcm []float32) beep.Streamer {
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if len(pcm) == 0 {
			return 0, false
		}
		n := min(len(samples), len(pcm))
		for i, v := range pcm[:n] {
			samples[i][0], samples[i][1] = float64(v), float64(v)
		}
		pcm = pcm[n:]
		return n, true
	})
}

func tone(freq, amp float64) beep.Streamer {
	step := 2 * math.Pi * freq / float64(sampleRate)
	var phase float64
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			v := amp * math.Sin(phase)
			samples[i][0], samples[i][1] = v, v
			phase += step
		}
		return len(samples), true
	})
}

// Play blocks until the cue has finished or ctx is done.
func (c *Chime) Play(ctx context.Context) error {
	if err := initSpeaker(); err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}

	s, closeFn, err := c.source(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	done := make(chan struct{})
	speaker.Play(beep.Seq(s, beep.Callback(func() {
		close(done)
	})))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}
