package stt

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
)

var (
	ErrNoAudio      = errors.New("no audio samples provided")
	ErrNoTranscript = errors.New("no tier produced a transcript")
)

// Tier is one transcription backend in a fallback chain.
type Tier interface {
	Name() string
	Transcribe(ctx context.Context, pcm16k []float32) (string, error)
}

// Chain tries each tier in order; the first non-empty transcript wins.
type Chain struct {
	tiers  []Tier
	logger *log.Logger
}

func NewChain(logger *log.Logger, tiers ...Tier) *Chain {
	if logger == nil {
		logger = log.Default()
	}
	return &Chain{
		tiers:  append([]Tier(nil), tiers...),
		logger: logger,
	}
}

func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.tiers))
	for _, t := range c.tiers {
		names = append(names, t.Name())
	}
	return names
}

// Transcribe returns the text and the name of the tier that produced it.
func (c *Chain) Transcribe(ctx context.Context, pcm16k []float32) (string, string, error) {
	if len(pcm16k) == 0 {
		return "", "", ErrNoAudio
	}

	var errs []error
	for _, tier := range c.tiers {
		if err := ctx.Err(); err != nil {
			return "", "", err
		}

		text, err := tier.Transcribe(ctx, pcm16k)
		if err != nil {
			c.logger.Warn("Transcription tier failed", "tier", tier.Name(), "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", tier.Name(), err))
			continue
		}

		text = strings.TrimSpace(text)
		if text == "" {
			c.logger.Debug("Transcription tier returned nothing", "tier", tier.Name())
			continue
		}
		return text, tier.Name(), nil
	}

	return "", "", errors.Join(append([]error{ErrNoTranscript}, errs...)...)
}
