// Package router maps a transcribed command to the first skill whose keyword
// it contains.
package router

import (
	"context"
	"fmt"
	log "log/slog"
	"strings"

	"aide/internal/metrics"
)

const (
	NotRecognized = "I am sorry, I did not recognize that command."
	Apology       = "I am sorry, something went wrong while handling that."
)

// DefaultIgnore are phrases from the assistant's own greeting that the
// microphone sometimes picks up.
var DefaultIgnore = []string{"how may i help", "at your service"}

// Command is normalized transcribed text.
type Command struct {
	Text string
}

var apostrophes = strings.NewReplacer("’", "'", "‘", "'")

// NewCommand lower-cases raw, trims it and collapses internal whitespace.
func NewCommand(raw string) Command {
	fields := strings.Fields(strings.ToLower(apostrophes.Replace(raw)))
	return Command{Text: strings.Join(fields, " ")}
}

func (c Command) Empty() bool { return c.Text == "" }

func (c Command) String() string { return c.Text }

type Handler interface {
	Handle(ctx context.Context, cmd Command) (bool, error)
}

type HandlerFunc func(ctx context.Context, cmd Command) (bool, error)

func (f HandlerFunc) Handle(ctx context.Context, cmd Command) (bool, error) {
	return f(ctx, cmd)
}

// Binding routes commands containing any of Keywords to Handler.
type Binding struct {
	Name     string
	Keywords []string
	Handler  Handler
}

type Speaker interface {
	Enqueue(text string) error
}

type Router struct {
	bindings []Binding
	ignore   []string
	speaker  Speaker
	logger   *log.Logger
}

// New fixes the binding order. Earlier bindings win when keywords overlap.
func New(speaker Speaker, logger *log.Logger, bindings ...Binding) *Router {
	if logger == nil {
		logger = log.Default()
	}

	r := &Router{
		speaker: speaker,
		logger:  logger,
		ignore:  DefaultIgnore,
	}
	for _, b := range bindings {
		if b.Handler == nil {
			continue
		}
		kws := make([]string, 0, len(b.Keywords))
		for _, kw := range b.Keywords {
			if kw = NewCommand(kw).Text; kw != "" {
				kws = append(kws, kw)
			}
		}
		b.Keywords = kws
		r.bindings = append(r.bindings, b)
	}
	return r
}

// Match returns the first binding with a keyword contained in cmd.
func (r *Router) Match(cmd Command) (Binding, string, bool) {
	for _, b := range r.bindings {
		for _, kw := range b.Keywords {
			if strings.Contains(cmd.Text, kw) {
				return b, kw, true
			}
		}
	}
	return Binding{}, "", false
}

// Route runs the matching handler synchronously. Unmatched commands and
// handler failures are answered aloud.
func (r *Router) Route(ctx context.Context, cmd Command) bool {
	if cmd.Empty() {
		return false
	}

	for _, phrase := range r.ignore {
		if strings.Contains(cmd.Text, phrase) {
			r.logger.Debug("Ignoring own greeting", "command", cmd.Text)
			return true
		}
	}

	b, kw, ok := r.Match(cmd)
	if !ok {
		metrics.CommandsRouted.WithLabelValues("none").Inc()
		r.logger.Info("No skill matched", "command", cmd.Text)
		r.say(NotRecognized)
		return false
	}

	metrics.CommandsRouted.WithLabelValues(b.Name).Inc()
	r.logger.Info("Routing command", "skill", b.Name, "keyword", kw, "command", cmd.Text)

	handled, err := r.invoke(ctx, b, cmd)
	if err != nil {
		r.logger.Error("Skill failed", "skill", b.Name, "err", err)
		r.say(Apology)
		return false
	}
	return handled
}

func (r *Router) invoke(ctx context.Context, b Binding, cmd Command) (handled bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("skill %s panicked: %v", b.Name, rec)
		}
	}()
	return b.Handler.Handle(ctx, cmd)
}

func (r *Router) say(text string) {
	if err := r.speaker.Enqueue(text); err != nil {
		r.logger.Warn("Failed to queue reply", "err", err)
	}
}
