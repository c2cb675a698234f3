package audio

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"
	"time"

	"github.com/mjibson/go-dsp/fft"

	"aide/pkg/ringbuf"
)

const (
	DefaultThreshold = 0.015

	fluxRatio = 1.75
	preRoll   = 300 * time.Millisecond
)

// VAD flags speech frames by level, and quieter frames whose spectrum jumps
// sharply against the running average.
type VAD struct {
	threshold float64
	prev      []float64
	avgFlux   float64
}

func NewVAD(threshold float64) *VAD {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &VAD{threshold: threshold}
}

func (v *VAD) IsSpeech(frame []float32) bool {
	rms := RMS(frame)
	flux := v.flux(frame)

	prevAvg := v.avgFlux
	if v.avgFlux == 0 {
		v.avgFlux = flux
	} else {
		v.avgFlux = 0.9*v.avgFlux + 0.1*flux
	}

	if rms >= v.threshold {
		return true
	}
	return prevAvg > 0 && flux >= prevAvg*fluxRatio && rms >= v.threshold/2
}

// flux is the positive spectral difference against the previous frame.
func (v *VAD) flux(frame []float32) float64 {
	x := make([]float64, len(frame))
	for i, s := range frame {
		x[i] = float64(s)
	}
	spectrum := fft.FFTReal(x)

	// real input, the upper half mirrors the lower
	bins := len(spectrum)/2 + 1
	mag := make([]float64, bins)
	for i := 0; i < bins; i++ {
		mag[i] = cmplx.Abs(spectrum[i])
	}

	var flux float64
	if len(v.prev) == bins {
		for i := range mag {
			if d := mag[i] - v.prev[i]; d > 0 {
				flux += d
			}
		}
	}
	v.prev = mag
	return flux
}

func RMS(f []float32) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		s += float64(x * x)
	}
	return math.Sqrt(s / float64(len(f)))
}

// record runs the onset / phrase / trailing-silence state machine over frames
// returned by read. Durations are measured in captured audio, not wall time.
func record(ctx context.Context, read func() ([]float32, error), opt RecordOptions) ([]float32, error) {
	opt = opt.withDefaults()

	var (
		vad     = NewVAD(opt.Threshold)
		pre     = ringbuf.New[float32](int(preRoll.Seconds() * SampleRate))
		out     []float32
		started bool
		waited  time.Duration
		spoken  time.Duration
		quiet   time.Duration
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame, err := read()
		if err != nil {
			return nil, fmt.Errorf("read capture stream: %w", err)
		}
		dur := time.Duration(len(frame)) * time.Second / SampleRate
		speech := vad.IsSpeech(frame)

		if !started {
			if !speech {
				pre.Add(frame)
				waited += dur
				if waited >= opt.Timeout {
					return nil, ErrNoSpeech
				}
				continue
			}
			started = true
			out = append(pre.Read(), frame...)
			spoken = dur
			continue
		}

		out = append(out, frame...)
		spoken += dur
		if speech {
			quiet = 0
		} else {
			quiet += dur
			if quiet >= opt.Silence {
				break
			}
		}
		if spoken >= opt.PhraseLimit {
			break
		}
	}
	return out, nil
}
