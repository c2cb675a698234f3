// Package tts holds the speech output backends.
package tts

import (
	"errors"
	"fmt"
	log "log/slog"
	"runtime"

	openai "github.com/openai/openai-go/v3"

	"aide/internal/speech"
)

type Config struct {
	Backend  string // auto, espeak, say, openai, log
	Voice    string
	Language string
	Rate     int
	Model    string // openai only
}

// Deps are the collaborators some backends need.
type Deps struct {
	OpenAI *openai.Client
	Player Player
	Logger *log.Logger
}

// New builds the backend named by cfg.Backend.
func New(cfg Config, deps Deps) (speech.Backend, error) {
	name := cfg.Backend
	if name == "" || name == "auto" {
		name = "espeak"
		if runtime.GOOS == "darwin" {
			name = "say"
		}
	}

	switch name {
	case "espeak":
		return NewEspeak(cfg.Language, cfg.Rate), nil
	case "say":
		return NewSay(cfg.Voice, cfg.Rate), nil
	case "openai":
		if deps.OpenAI == nil {
			return nil, errors.New("openai speech backend needs OPENAI_API_KEY")
		}
		if deps.Player == nil {
			return nil, errors.New("openai speech backend needs an audio player")
		}
		return NewOpenAI(*deps.OpenAI, deps.Player, cfg.Model, cfg.Voice), nil
	case "log":
		return NewLog(deps.Logger), nil
	default:
		return nil, fmt.Errorf("unknown speech backend %q", cfg.Backend)
	}
}
