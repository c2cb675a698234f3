//go:build !linux

package tts

import (
	"context"
	"errors"
)

type Espeak struct{}

func NewEspeak(string, int) *Espeak { return &Espeak{} }

func (e *Espeak) Speak(context.Context, string) error {
	return errors.New("espeak backend is only built on linux")
}
