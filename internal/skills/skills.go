// Package skills implements the handlers the router dispatches to.
package skills

import (
	"context"
	"fmt"
	log "log/slog"
	"time"

	"aide/internal/nlu"
	"aide/internal/router"
	"aide/internal/schedule"
)

const (
	UpcomingWindow = 120 * time.Minute
	SilencePeriod  = 30 * time.Minute

	upcomingListed = 3
)

type Speaker interface {
	Enqueue(text string) error
}

// Asker speaks a question and returns the spoken answer.
type Asker interface {
	Ask(ctx context.Context, question string) (router.Command, bool)
}

type Store interface {
	Save(ctx context.Context, ev schedule.Event) (int64, error)
	ListAll(ctx context.Context) ([]schedule.Event, error)
	ListPending(ctx context.Context) ([]schedule.Event, error)
	DeleteByFuzzyName(ctx context.Context, substring string) (bool, error)
	UpdateTaskByFuzzyName(ctx context.Context, old, task string) (bool, error)
	ResetAllNotified(ctx context.Context) error
}

type Silencer interface {
	SilenceFor(d time.Duration) time.Time
}

// Drafter turns a spoken request into an event.
type Drafter interface {
	DraftEvent(ctx context.Context, transcript string) (schedule.Event, error)
}

type IntentAnalyzer interface {
	Analyze(ctx context.Context, transcript string) (nlu.Result, error)
}

type Deps struct {
	Store    Store
	Speaker  Speaker
	Asker    Asker
	Silencer Silencer

	// optional
	Drafter Drafter
	Intents IntentAnalyzer
	Hub     nlu.Hub

	Location *time.Location
	Now      func() time.Time
	Logger   *log.Logger
}

type Skills struct {
	d Deps
}

func New(d Deps) *Skills {
	if d.Location == nil {
		d.Location = time.Local
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = log.Default()
	}
	return &Skills{d: d}
}

// Bindings returns the skills in routing order. Overlapping keywords resolve
// to the earlier entry: "view schedule" before "schedule", "cancel" before
// "appointment".
func (s *Skills) Bindings() []router.Binding {
	bindings := []router.Binding{
		{Name: "clock", Keywords: []string{"what time", "current time"}, Handler: router.HandlerFunc(s.Clock)},
		{Name: "view_schedule", Keywords: []string{"view meeting", "show my schedule", "list my tasks", "view schedule", "show schedule"}, Handler: router.HandlerFunc(s.ViewSchedule)},
		{Name: "rename", Keywords: []string{"rename", "change task"}, Handler: router.HandlerFunc(s.Rename)},
		{Name: "upcoming", Keywords: []string{"what's next", "what's coming up", "upcoming", "next appointment"}, Handler: router.HandlerFunc(s.Upcoming)},
		{Name: "silence", Keywords: []string{"silence alarms", "stop reminders"}, Handler: router.HandlerFunc(s.Silence)},
		{Name: "reset", Keywords: []string{"reset notifications"}, Handler: router.HandlerFunc(s.Reset)},
		{Name: "delete", Keywords: deleteVerbs, Handler: router.HandlerFunc(s.Delete)},
		{Name: "create", Keywords: []string{"schedule", "calendar", "appointment", "add task"}, Handler: router.HandlerFunc(s.Create)},
	}
	if s.d.Hub != nil && s.d.Intents != nil {
		bindings = append(bindings, router.Binding{Name: "hub", Keywords: []string{"turn on", "turn off"}, Handler: router.HandlerFunc(s.Device)})
	}
	return bindings
}

func (s *Skills) say(text string) {
	if err := s.d.Speaker.Enqueue(text); err != nil {
		s.d.Logger.Warn("Failed to queue reply", "err", err)
	}
}

func (s *Skills) sayf(format string, args ...any) {
	s.say(fmt.Sprintf(format, args...))
}

func (s *Skills) Clock(_ context.Context, _ router.Command) (bool, error) {
	s.sayf("The time is %s.", s.d.Now().In(s.d.Location).Format(time.Kitchen))
	return true, nil
}

func (s *Skills) Device(ctx context.Context, cmd router.Command) (bool, error) {
	res, err := s.d.Intents.Analyze(ctx, cmd.Text)
	if err != nil {
		return false, fmt.Errorf("analyze device command: %w", err)
	}

	reply, err := nlu.Dispatch(ctx, res, s.d.Hub)
	if err != nil {
		s.d.Logger.Warn("Device command not dispatched", "intent", res.Intent, "err", err)
		s.say("I could not reach that device.")
		return false, nil
	}
	s.say(reply)
	return true, nil
}
