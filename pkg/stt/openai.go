package stt

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync/atomic"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/spf13/afero"

	"aide/pkg/audioconv"
)

type OpenAIConfig struct {
	Name     string // tier name used in logs
	Model    string // e.g. "gpt-4o-mini-transcribe", "whisper-1"
	Language string // ISO-639-1, empty = detect
	Timeout  time.Duration

	// Fs stages the WAV upload. Defaults to an in-memory filesystem.
	Fs afero.Fs
	// Keep leaves the staged files in place (debugging with an on-disk Fs).
	Keep bool
	Dir  string
}

// OpenAITranscriber uploads a captured utterance to the OpenAI transcription API.
type OpenAITranscriber struct {
	client openai.Client
	cfg    OpenAIConfig
	seq    atomic.Uint64
}

func NewOpenAITranscriber(client openai.Client, cfg OpenAIConfig) *OpenAITranscriber {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewMemMapFs()
	}
	if cfg.Name == "" {
		cfg.Name = "openai-" + cfg.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &OpenAITranscriber{client: client, cfg: cfg}
}

func (o *OpenAITranscriber) Name() string { return o.cfg.Name }

func (o *OpenAITranscriber) Transcribe(ctx context.Context, pcm16k []float32) (string, error) {
	if len(pcm16k) == 0 {
		return "", ErrNoAudio
	}

	path := filepath.Join(o.cfg.Dir, fmt.Sprintf("utterance-%d-%d.wav", time.Now().Unix(), o.seq.Add(1)))
	if o.cfg.Dir != "" {
		if err := o.cfg.Fs.MkdirAll(o.cfg.Dir, 0o755); err != nil {
			return "", fmt.Errorf("create staging dir: %w", err)
		}
	}

	f, err := o.cfg.Fs.Create(path)
	if err != nil {
		return "", fmt.Errorf("stage wav: %w", err)
	}
	defer func() {
		f.Close()
		if !o.cfg.Keep {
			o.cfg.Fs.Remove(path)
		}
	}()

	if err := audioconv.EncodeWAV(f, pcm16k, audioconv.DefaultSampleRate); err != nil {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind wav: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	params := openai.AudioTranscriptionNewParams{
		File:  f,
		Model: openai.AudioModel(o.cfg.Model),
	}
	if o.cfg.Language != "" {
		params.Language = openai.String(o.cfg.Language)
	}

	resp, err := o.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}

	return cleanText(resp.Text), nil
}
