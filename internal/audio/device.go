// Package audio owns the portaudio capture and playback streams.
package audio

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

const (
	SampleRate = 16000
	frameSize  = 320 // 20ms at 16k

	playbackFrames = 1024
)

var (
	ErrDeviceBusy = errors.New("capture device busy")
	ErrNoSpeech   = errors.New("no speech before timeout")
)

// Stream yields fixed-size frames of 16-bit mono audio. The returned slice is
// reused by the next Read.
type Stream interface {
	Read() ([]int16, error)
	Close() error
}

// Device is the process-wide microphone and speaker. Only one capture stream
// may be open at a time.
type Device struct {
	logger *log.Logger
	busy   atomic.Bool
}

func NewDevice(logger *log.Logger) *Device {
	if logger == nil {
		logger = log.Default()
	}
	return &Device{logger: logger}
}

func (d *Device) Init() error {
	return portaudio.Initialize()
}

func (d *Device) Close() {
	if err := portaudio.Terminate(); err != nil {
		d.logger.Warn("Failed to terminate portaudio", "err", err)
	}
}

func (d *Device) acquire() error {
	if !d.busy.CompareAndSwap(false, true) {
		return ErrDeviceBusy
	}
	return nil
}

func (d *Device) release() { d.busy.Store(false) }

type int16Stream struct {
	dev    *Device
	stream *portaudio.Stream
	buf    []int16
	closed bool
}

// OpenFrames starts a capture stream delivering frameLength samples per Read.
func (d *Device) OpenFrames(frameLength int) (Stream, error) {
	if frameLength <= 0 {
		return nil, fmt.Errorf("invalid frame length %d", frameLength)
	}
	if err := d.acquire(); err != nil {
		return nil, err
	}

	buf := make([]int16, frameLength)
	stream, err := portaudio.OpenDefaultStream(1, 0, SampleRate, len(buf), buf)
	if err != nil {
		d.release()
		return nil, fmt.Errorf("open capture stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		d.release()
		return nil, fmt.Errorf("start capture stream: %w", err)
	}

	return &int16Stream{dev: d, stream: stream, buf: buf}, nil
}

func (s *int16Stream) Read() ([]int16, error) {
	if err := s.stream.Read(); err != nil {
		return nil, err
	}
	return s.buf, nil
}

func (s *int16Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	defer s.dev.release()

	stopErr := s.stream.Stop()
	return errors.Join(stopErr, s.stream.Close())
}

type RecordOptions struct {
	Timeout     time.Duration // wait this long for speech to start
	PhraseLimit time.Duration // cap on the utterance once started
	Silence     time.Duration // trailing quiet that ends the utterance
	Threshold   float64       // RMS level counted as speech
}

func (o RecordOptions) withDefaults() RecordOptions {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.PhraseLimit <= 0 {
		o.PhraseLimit = 8 * time.Second
	}
	if o.Silence <= 0 {
		o.Silence = 600 * time.Millisecond
	}
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	return o
}

// Record captures one utterance as 16k mono PCM.
func (d *Device) Record(ctx context.Context, opt RecordOptions) ([]float32, error) {
	if err := d.acquire(); err != nil {
		return nil, err
	}
	defer d.release()

	buf := make([]float32, frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, SampleRate, len(buf), buf)
	if err != nil {
		return nil, fmt.Errorf("open capture stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, fmt.Errorf("start capture stream: %w", err)
	}
	defer stream.Stop()

	d.logger.Debug("Listening started")
	pcm, err := record(ctx, func() ([]float32, error) {
		if err := stream.Read(); err != nil {
			return nil, err
		}
		return buf, nil
	}, opt)
	d.logger.Debug("Listening ended", "samples", len(pcm), "err", err)
	return pcm, err
}

// Play writes mono PCM at sampleRate to the default output and returns
// once it has been played.
func (d *Device) Play(ctx context.Context, pcm []float32, sampleRate int) error {
	if len(pcm) == 0 {
		return nil
	}

	out := make([]float32, playbackFrames)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), len(out), out)
	if err != nil {
		return fmt.Errorf("open playback stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("start playback stream: %w", err)
	}
	defer stream.Stop()

	for off := 0; off < len(pcm); off += len(out) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(out, pcm[off:])
		clear(out[n:])
		if err := stream.Write(); err != nil {
			return fmt.Errorf("write playback stream: %w", err)
		}
	}
	return nil
}
