package tts

import (
	"context"
	log "log/slog"
)

// Log prints utterances instead of playing them.
type Log struct {
	logger *log.Logger
}

func NewLog(logger *log.Logger) *Log {
	if logger == nil {
		logger = log.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Speak(_ context.Context, text string) error {
	l.logger.Info("Say", "text", text)
	return nil
}
