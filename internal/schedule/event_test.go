package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func TestEvent_StartAt_BothFormats(t *testing.T) {
	for _, ev := range []Event{
		{Date: "03/10/26", Start: "09:00"},
		{Date: "2026-03-10", Start: "09:00"},
	} {
		got, err := ev.StartAt(time.UTC)
		require.NoError(t, err)
		assert.True(t, got.Equal(base), "date %q", ev.Date)
	}

	_, err := Event{Date: "10 March", Start: "9am"}.StartAt(time.UTC)
	assert.Error(t, err)
}

func TestEvaluate_Eligibility(t *testing.T) {
	tests := []struct {
		name     string
		offset   time.Duration
		lead     int
		minutes  int
		eligible bool
	}{
		{"outside lead", 20 * time.Minute, 15, 20, false},
		{"inside lead", 15 * time.Minute, 15, 15, true},
		{"imminent with zero lead", 90 * time.Second, 0, 1, true},
		{"starting now", 0, 15, 0, true},
		{"already started", -5 * time.Minute, 15, -5, true},
		{"long lead fires early", 59 * time.Minute, 60, 59, true},
		{"short lead waits", 6 * time.Minute, 5, 6, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Event{Date: "2026-03-10", Start: "09:00", ReminderMinutes: tt.lead}
			now := base.Add(-tt.offset)

			c, err := Evaluate(ev, now, time.UTC)
			require.NoError(t, err)
			assert.Equal(t, tt.minutes, c.MinutesUntil)
			assert.Equal(t, tt.eligible, c.Eligible)
		})
	}
}

func TestAnnouncement_Phrasing(t *testing.T) {
	c := Candidate{Event: Event{Task: "dentist"}, StartAt: base}

	c.MinutesUntil = 0
	assert.Equal(t, "Attention! Your appointment for dentist is starting now at 09:00.", Announcement(c))

	c.MinutesUntil = 1
	assert.Contains(t, Announcement(c), "starts in 1 minute at 09:00")

	c.MinutesUntil = 12
	assert.Contains(t, Announcement(c), "starts in 12 minutes at 09:00")

	c.MinutesUntil = -3
	assert.Contains(t, Announcement(c), "started at 09:00")
}

func TestSummary(t *testing.T) {
	s := Summary([]Candidate{
		{Event: Event{Task: "a"}, MinutesUntil: 2},
		{Event: Event{Task: "b"}, MinutesUntil: 5},
		{Event: Event{Task: "c"}, MinutesUntil: 9},
	})
	assert.Equal(t, "Reminder: You have 3 appointments coming up. The first, a starts in 2 minutes.", s)
	assert.Empty(t, Summary(nil))
}

func TestSummary_FirstAlreadyStarted(t *testing.T) {
	now := base.Add(30 * time.Minute)
	var cs []Candidate
	for _, ev := range []Event{
		{Task: "standup", Date: "2026-03-10", Start: "09:00", ReminderMinutes: 15},
		{Task: "review", Date: "2026-03-10", Start: "09:35", ReminderMinutes: 15},
		{Task: "lunch", Date: "2026-03-10", Start: "09:40", ReminderMinutes: 15},
	} {
		c, err := Evaluate(ev, now, time.UTC)
		require.NoError(t, err)
		cs = append(cs, c)
	}

	assert.Equal(t, "Reminder: You have 3 appointments coming up. The first, standup started at 09:00.", Summary(cs))

	cs[0].MinutesUntil = 0
	assert.Equal(t, "Reminder: You have 3 appointments coming up. The first, standup is starting now.", Summary(cs))
}
