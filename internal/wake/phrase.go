package wake

import (
	"context"
	"strings"
	"time"
	"unicode"

	"aide/internal/audio"
	"aide/pkg/audioconv"
	"aide/pkg/ringbuf"
)

// Transcriber turns 16k mono PCM into text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []float32) (string, error)
}

type PhraseConfig struct {
	Phrase  string
	Window  time.Duration // audio transcribed per check
	Step    time.Duration // new audio between checks
	Timeout time.Duration // per transcription
}

// phraseDetector transcribes a rolling window of audio and looks for the
// phrase in the text. It trades latency for needing no keyword model.
type phraseDetector struct {
	tr      Transcriber
	phrase  string
	ring    *ringbuf.Ring[float32]
	step    int
	since   int
	timeout time.Duration
}

const phraseFrameLength = 512

func NewPhraseFactory(tr Transcriber, cfg PhraseConfig) DetectorFactory {
	if cfg.Phrase == "" {
		cfg.Phrase = DefaultKeyword
	}
	if cfg.Window <= 0 {
		cfg.Window = 2 * time.Second
	}
	if cfg.Step <= 0 {
		cfg.Step = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	// a check needs a full step of audio in the window
	cfg.Step = min(cfg.Step, cfg.Window)

	return func() (Detector, error) {
		return &phraseDetector{
			tr:      tr,
			phrase:  normalize(cfg.Phrase),
			ring:    ringbuf.New[float32](int(cfg.Window.Seconds() * audio.SampleRate)),
			step:    int(cfg.Step.Seconds() * audio.SampleRate),
			timeout: cfg.Timeout,
		}, nil
	}
}

func (d *phraseDetector) FrameLength() int { return phraseFrameLength }

func (d *phraseDetector) Process(frame []int16) (bool, error) {
	d.ring.Add(audioconv.Int16ToFloat32(frame))
	d.since += len(frame)
	if d.since < d.step || d.ring.Len() < d.step {
		return false, nil
	}
	d.since = 0

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	text, err := d.tr.Transcribe(ctx, d.ring.Read())
	if err != nil {
		// silence is not an error for a wake check
		return false, nil
	}
	if strings.Contains(normalize(text), d.phrase) {
		d.ring.Clear()
		return true, nil
	}
	return false, nil
}

func (d *phraseDetector) Close() error { return nil }

// normalize lowercases s and keeps only letters and digits, single-space separated.
func normalize(s string) string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(words, " ")
}
