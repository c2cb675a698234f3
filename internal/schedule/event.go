// Package schedule persists appointments and announces them before they start.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const DefaultReminderMinutes = 15

// Accepted layouts for the combined "date start" value. The first is what the
// calendar picker produces, the second is ISO.
var dateTimeLayouts = []string{
	"01/02/06 15:04",
	"2006-01-02 15:04",
}

var (
	ErrNotFound     = errors.New("event not found")
	ErrEmptyPattern = errors.New("empty task pattern")
	ErrInvalidEvent = errors.New("invalid event")
)

// Event is one row of the schedule table.
type Event struct {
	ID              int64
	Date            string
	Start           string
	Stop            string
	Task            string
	ReminderMinutes int
	Notified        bool
	CreatedAt       time.Time
}

// StartAt parses the event's date and start time in loc.
func (e Event) StartAt(loc *time.Location) (time.Time, error) {
	return parseDateTime(e.Date, e.Start, loc)
}

// StopAt parses the event's date and stop time in loc.
func (e Event) StopAt(loc *time.Location) (time.Time, error) {
	return parseDateTime(e.Date, e.Stop, loc)
}

func (e Event) Validate(loc *time.Location) error {
	if strings.TrimSpace(e.Task) == "" {
		return fmt.Errorf("%w: task is empty", ErrInvalidEvent)
	}
	if e.ReminderMinutes < 0 {
		return fmt.Errorf("%w: negative reminder lead %d", ErrInvalidEvent, e.ReminderMinutes)
	}
	if _, err := e.StartAt(loc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if e.Stop != "" {
		if _, err := e.StopAt(loc); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
	}
	return nil
}

func parseDateTime(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	value := strings.TrimSpace(date) + " " + strings.TrimSpace(clock)

	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date/time %q", value)
}

// Candidate is an event evaluated against the clock of one poll tick.
type Candidate struct {
	Event        Event
	StartAt      time.Time
	MinutesUntil int
	Eligible     bool
}

// Evaluate computes minutes-until-start and eligibility. An event is eligible when
// it is imminent (<= 1 minute, including already started) or inside its reminder
// lead. Both windows are kept as-is, so a long lead fires as soon as it is entered.
func Evaluate(ev Event, now time.Time, loc *time.Location) (Candidate, error) {
	start, err := ev.StartAt(loc)
	if err != nil {
		return Candidate{}, err
	}

	minutes := int(start.Sub(now).Minutes())

	return Candidate{
		Event:        ev,
		StartAt:      start,
		MinutesUntil: minutes,
		Eligible:     minutes <= 1 || minutes <= ev.ReminderMinutes,
	}, nil
}

// Announcement renders the spoken reminder for one candidate.
func Announcement(c Candidate) string {
	at := c.StartAt.Format("15:04")
	switch {
	case c.MinutesUntil < 0:
		return fmt.Sprintf("Attention! Your appointment for %s started at %s.", c.Event.Task, at)
	case c.MinutesUntil == 0:
		return fmt.Sprintf("Attention! Your appointment for %s is starting now at %s.", c.Event.Task, at)
	case c.MinutesUntil == 1:
		return fmt.Sprintf("Reminder: Your appointment for %s starts in 1 minute at %s.", c.Event.Task, at)
	default:
		return fmt.Sprintf("Reminder: Your appointment for %s starts in %d minutes at %s.", c.Event.Task, c.MinutesUntil, at)
	}
}

// Summary renders one utterance covering several due candidates, ordered soonest first.
func Summary(cs []Candidate) string {
	if len(cs) == 0 {
		return ""
	}
	first := cs[0]
	var lead string
	switch {
	case first.MinutesUntil < 0:
		lead = fmt.Sprintf("%s started at %s", first.Event.Task, first.StartAt.Format("15:04"))
	case first.MinutesUntil == 0:
		lead = fmt.Sprintf("%s is starting now", first.Event.Task)
	case first.MinutesUntil == 1:
		lead = fmt.Sprintf("%s starts in 1 minute", first.Event.Task)
	default:
		lead = fmt.Sprintf("%s starts in %d minutes", first.Event.Task, first.MinutesUntil)
	}
	return fmt.Sprintf("Reminder: You have %d appointments coming up. The first, %s.", len(cs), lead)
}
