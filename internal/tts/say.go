package tts

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

const defaultSayRate = 175

// Say speaks through the macOS `say` command.
type Say struct {
	voice string
	rate  int
}

func NewSay(voice string, rate int) *Say {
	return &Say{voice: voice, rate: rate}
}

func (s *Say) args(text string) []string {
	var args []string
	if s.voice != "" {
		args = append(args, "-v", s.voice)
	}
	if s.rate > 0 && s.rate != defaultSayRate {
		args = append(args, "-r", strconv.Itoa(s.rate))
	}
	return append(args, text)
}

func (s *Say) Speak(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	out, err := exec.CommandContext(ctx, "say", s.args(text)...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("say: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
