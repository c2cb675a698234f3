package skills

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"aide/internal/nlu"
	"aide/internal/router"
	"aide/internal/schedule"
)

var deleteVerbs = []string{"delete", "remove", "cancel"}

// words dropped when pulling the task name out of a command
var filler = []string{"my", "the", "a", "an", "please", "appointment", "appointments", "meeting", "event", "task", "from", "schedule", "calendar"}

func (s *Skills) ViewSchedule(ctx context.Context, _ router.Command) (bool, error) {
	events, err := s.d.Store.ListAll(ctx)
	if err != nil {
		return false, fmt.Errorf("list events: %w", err)
	}
	if len(events) == 0 {
		s.say("Your schedule is currently empty.")
		return true, nil
	}

	s.sayf("I found %s. %s", plural(len(events), "item"), describe(events[:min(len(events), upcomingListed)]))
	return true, nil
}

func describe(events []schedule.Event) string {
	parts := make([]string, 0, len(events))
	for _, ev := range events {
		parts = append(parts, fmt.Sprintf("%s on %s at %s", ev.Task, ev.Date, ev.Start))
	}
	return joinAnd(parts) + "."
}

func (s *Skills) Create(ctx context.Context, cmd router.Command) (bool, error) {
	if s.d.Drafter == nil {
		s.say("I cannot add appointments by voice. Use aide-ctl add to create one.")
		return true, nil
	}

	ev, err := s.d.Drafter.DraftEvent(ctx, cmd.Text)
	if errors.Is(err, nlu.ErrNoEvent) {
		s.say("I could not work out when that should be. Please include a day and a time.")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("draft event: %w", err)
	}

	if _, err := s.d.Store.Save(ctx, ev); err != nil {
		if errors.Is(err, schedule.ErrInvalidEvent) {
			s.d.Logger.Warn("Drafted event rejected", "event", ev, "err", err)
			s.say("That date did not make sense to me. The appointment was not saved.")
			return false, nil
		}
		return false, fmt.Errorf("save event: %w", err)
	}

	s.sayf("I have scheduled your %s for %s at %s. I will remind you %s before.", ev.Task, ev.Date, ev.Start, plural(ev.ReminderMinutes, "minute"))
	return true, nil
}

func (s *Skills) Delete(ctx context.Context, cmd router.Command) (bool, error) {
	target := subject(cmd.Text, deleteVerbs)
	if target == "" {
		answer, ok := s.d.Asker.Ask(ctx, "Which appointment should I cancel?")
		if ok {
			target = subject(answer.Text, deleteVerbs)
		}
		if target == "" {
			s.say("I didn't catch that. Cancellation aborted.")
			return true, nil
		}
	}

	deleted, err := s.d.Store.DeleteByFuzzyName(ctx, target)
	if err != nil {
		return false, fmt.Errorf("delete %q: %w", target, err)
	}
	if deleted {
		s.sayf("I have successfully removed %s from your schedule.", target)
	} else {
		s.sayf("I could not find any appointments matching %s.", target)
	}
	return true, nil
}

func (s *Skills) Rename(ctx context.Context, cmd router.Command) (bool, error) {
	rest := cmd.Text
	for _, kw := range []string{"rename", "change task"} {
		if _, after, ok := strings.Cut(rest, kw); ok {
			rest = after
			break
		}
	}

	oldPart, newPart, ok := strings.Cut(rest, " to ")
	oldName := subject(oldPart, nil)
	newName := strings.TrimSpace(newPart)
	if !ok || oldName == "" || newName == "" {
		s.say("Say rename, the current name, to, and the new name.")
		return false, nil
	}

	updated, err := s.d.Store.UpdateTaskByFuzzyName(ctx, oldName, newName)
	if err != nil {
		return false, fmt.Errorf("rename %q: %w", oldName, err)
	}
	if updated {
		s.sayf("I have renamed %s to %s.", oldName, newName)
	} else {
		s.sayf("I could not find any appointments matching %s.", oldName)
	}
	return true, nil
}

func (s *Skills) Upcoming(ctx context.Context, _ router.Command) (bool, error) {
	events, err := s.d.Store.ListPending(ctx)
	if err != nil {
		return false, fmt.Errorf("list events: %w", err)
	}

	now := s.d.Now()
	var upcoming []schedule.Candidate
	for _, ev := range events {
		c, err := schedule.Evaluate(ev, now, s.d.Location)
		if err != nil || c.StartAt.Before(now) || c.StartAt.Sub(now) > UpcomingWindow {
			continue
		}
		upcoming = append(upcoming, c)
	}

	switch len(upcoming) {
	case 0:
		s.say("You have no upcoming appointments in the next 2 hours.")
	case 1:
		c := upcoming[0]
		switch {
		case c.MinutesUntil <= 0:
			s.sayf("Your appointment for %s is starting now.", c.Event.Task)
		case c.MinutesUntil <= schedule.DefaultReminderMinutes:
			s.sayf("You have %s starting in %s.", c.Event.Task, plural(c.MinutesUntil, "minute"))
		default:
			s.sayf("Your next appointment is %s in %s.", c.Event.Task, plural(c.MinutesUntil, "minute"))
		}
	default:
		parts := make([]string, 0, upcomingListed)
		for _, c := range upcoming[:min(len(upcoming), upcomingListed)] {
			parts = append(parts, fmt.Sprintf("%s in %s", c.Event.Task, plural(c.MinutesUntil, "minute")))
		}
		s.sayf("You have %d upcoming appointments. %s.", len(upcoming), joinAnd(parts))
	}
	return true, nil
}

func (s *Skills) Silence(_ context.Context, _ router.Command) (bool, error) {
	until := s.d.Silencer.SilenceFor(SilencePeriod)
	s.sayf("I will silence schedule reminders until %s.", until.In(s.d.Location).Format(time.Kitchen))
	return true, nil
}

func (s *Skills) Reset(ctx context.Context, _ router.Command) (bool, error) {
	if err := s.d.Store.ResetAllNotified(ctx); err != nil {
		s.d.Logger.Error("Failed to reset notifications", "err", err)
		s.say("Failed to reset notifications.")
		return false, nil
	}
	s.say("All notification flags have been reset.")
	return true, nil
}

// subject drops verbs and filler words from text and returns what is left.
func subject(text string, verbs []string) string {
	var keep []string
	for _, w := range strings.Fields(strings.Trim(text, " .,!?")) {
		w = strings.Trim(w, ".,!?")
		if slices.Contains(verbs, w) || slices.Contains(filler, w) {
			continue
		}
		keep = append(keep, w)
	}
	return strings.Join(keep, " ")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func joinAnd(parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
	}
}
