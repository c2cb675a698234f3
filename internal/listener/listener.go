// Package listener captures one spoken command once the assistant has
// stopped talking, and turns it into text.
package listener

import (
	"context"
	"errors"
	log "log/slog"
	"time"

	"aide/internal/audio"
	"aide/internal/metrics"
	"aide/internal/router"
	"aide/pkg/stt"
)

// Speaker is the shared speech channel.
type Speaker interface {
	Enqueue(text string) error
	DrainBarrier(ctx context.Context) error
}

type Recorder interface {
	Record(ctx context.Context, opt audio.RecordOptions) ([]float32, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, pcm16k []float32) (text, tier string, err error)
}

type Config struct {
	Timeout           time.Duration
	PhraseLimit       time.Duration
	Silence           time.Duration
	Threshold         float64
	TranscribeTimeout time.Duration
}

type Listener struct {
	speaker Speaker
	rec     Recorder
	tr      Transcriber
	cfg     Config
	logger  *log.Logger
}

func New(speaker Speaker, rec Recorder, tr Transcriber, cfg Config, logger *log.Logger) *Listener {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.PhraseLimit <= 0 {
		cfg.PhraseLimit = 8 * time.Second
	}
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Listener{speaker: speaker, rec: rec, tr: tr, cfg: cfg, logger: logger}
}

// Listen runs CaptureAndTranscribe with the configured limits.
func (l *Listener) Listen(ctx context.Context) (router.Command, bool) {
	return l.CaptureAndTranscribe(ctx, l.cfg.Timeout, l.cfg.PhraseLimit)
}

// CaptureAndTranscribe waits for queued speech to finish, records one
// utterance and transcribes it. It reports false when nothing usable was heard.
func (l *Listener) CaptureAndTranscribe(ctx context.Context, timeout, phraseLimit time.Duration) (router.Command, bool) {
	if err := l.speaker.DrainBarrier(ctx); err != nil {
		l.logger.Warn("Speech did not drain before listening", "err", err)
		return router.Command{}, false
	}

	l.logger.Info("Listening started", "timeout", timeout, "phrase_limit", phraseLimit)
	pcm, err := l.rec.Record(ctx, audio.RecordOptions{
		Timeout:     timeout,
		PhraseLimit: phraseLimit,
		Silence:     l.cfg.Silence,
		Threshold:   l.cfg.Threshold,
	})
	switch {
	case errors.Is(err, audio.ErrNoSpeech):
		metrics.Transcriptions.WithLabelValues("no_speech").Inc()
		l.logger.Info("Listening ended, no speech")
		return router.Command{}, false
	case err != nil:
		metrics.Transcriptions.WithLabelValues("capture_error").Inc()
		l.logger.Error("Capture failed", "err", err)
		return router.Command{}, false
	}
	l.logger.Info("Listening ended", "seconds", float64(len(pcm))/audio.SampleRate)

	tctx, cancel := context.WithTimeout(ctx, l.cfg.TranscribeTimeout)
	defer cancel()

	text, tier, err := l.tr.Transcribe(tctx, pcm)
	switch {
	case errors.Is(err, stt.ErrNoTranscript), errors.Is(err, stt.ErrNoAudio):
		metrics.Transcriptions.WithLabelValues("not_understood").Inc()
		l.logger.Info("Speech not understood", "err", err)
		return router.Command{}, false
	case err != nil:
		metrics.Transcriptions.WithLabelValues("error").Inc()
		l.logger.Error("Transcription failed", "err", err)
		return router.Command{}, false
	}

	cmd := router.NewCommand(text)
	if cmd.Empty() {
		metrics.Transcriptions.WithLabelValues("not_understood").Inc()
		return router.Command{}, false
	}

	metrics.Transcriptions.WithLabelValues("ok").Inc()
	l.logger.Info("Heard", "command", cmd.Text, "tier", tier)
	return cmd, true
}

// Ask speaks question and listens for the answer.
func (l *Listener) Ask(ctx context.Context, question string) (router.Command, bool) {
	if err := l.speaker.Enqueue(question); err != nil {
		l.logger.Warn("Failed to queue question", "err", err)
		return router.Command{}, false
	}
	return l.Listen(ctx)
}
