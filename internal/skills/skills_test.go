package skills

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aide/internal/nlu"
	"aide/internal/router"
	"aide/internal/schedule"
	"aide/pkg/protocol"
)

var now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type spy struct{ said []string }

func (s *spy) Enqueue(text string) error {
	s.said = append(s.said, text)
	return nil
}

func (s *spy) last() string {
	if len(s.said) == 0 {
		return ""
	}
	return s.said[len(s.said)-1]
}

type asker struct {
	answer string
	asked  []string
}

func (a *asker) Ask(_ context.Context, q string) (router.Command, bool) {
	a.asked = append(a.asked, q)
	cmd := router.NewCommand(a.answer)
	return cmd, !cmd.Empty()
}

type silencer struct{ got time.Duration }

func (s *silencer) SilenceFor(d time.Duration) time.Time {
	s.got = d
	return now.Add(d)
}

type drafter struct {
	ev  schedule.Event
	err error
}

func (d drafter) DraftEvent(context.Context, string) (schedule.Event, error) { return d.ev, d.err }

type fixture struct {
	skills *Skills
	store  *schedule.Store
	spy    *spy
	asker  *asker
	silent *silencer
	router *router.Router
}

func newFixture(t *testing.T, mod func(*Deps)) *fixture {
	t.Helper()
	store, err := schedule.Open(filepath.Join(t.TempDir(), "s.db"), time.UTC, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{store: store, spy: &spy{}, asker: &asker{}, silent: &silencer{}}
	d := Deps{
		Store:    store,
		Speaker:  f.spy,
		Asker:    f.asker,
		Silencer: f.silent,
		Location: time.UTC,
		Now:      func() time.Time { return now },
	}
	if mod != nil {
		mod(&d)
	}
	f.skills = New(d)
	f.router = router.New(f.spy, nil, f.skills.Bindings()...)
	return f
}

func (f *fixture) add(t *testing.T, date, start, task string) {
	t.Helper()
	_, err := f.store.Save(context.Background(), schedule.Event{Date: date, Start: start, Task: task, ReminderMinutes: schedule.DefaultReminderMinutes})
	require.NoError(t, err)
}

func (f *fixture) route(text string) bool {
	return f.router.Route(context.Background(), router.NewCommand(text))
}

func TestDelete_FuzzyMatch(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t, "2026-03-10", "14:00", "dentist appointment")

	assert.True(t, f.route("cancel dentist"))
	assert.Equal(t, "I have successfully removed dentist from your schedule.", f.spy.last())

	all, err := f.store.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)

	assert.True(t, f.route("remove the dentist appointment"))
	assert.Equal(t, "I could not find any appointments matching dentist.", f.spy.last())
}

func TestDelete_AsksWhenNoTarget(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t, "2026-03-10", "14:00", "gym")
	f.asker.answer = "the gym"

	assert.True(t, f.route("cancel"))
	assert.Equal(t, []string{"Which appointment should I cancel?"}, f.asker.asked)
	assert.Contains(t, f.spy.last(), "removed gym")

	f.asker.answer = ""
	assert.True(t, f.route("delete"))
	assert.Equal(t, "I didn't catch that. Cancellation aborted.", f.spy.last())
}

func TestRouting_ViewScheduleBeatsCreate(t *testing.T) {
	f := newFixture(t, nil)
	assert.True(t, f.route("show my schedule"))
	assert.Equal(t, "Your schedule is currently empty.", f.spy.last())

	f.add(t, "2026-03-10", "14:00", "dentist")
	f.add(t, "03/10/26", "10:00", "standup")
	assert.True(t, f.route("view schedule"))
	assert.Equal(t, "I found 2 items. standup on 03/10/26 at 10:00 and dentist on 2026-03-10 at 14:00.", f.spy.last())
}

func TestCreate_WithoutDrafter(t *testing.T) {
	f := newFixture(t, nil)
	assert.True(t, f.route("schedule a haircut"))
	assert.Contains(t, f.spy.last(), "aide-ctl add")
}

func TestCreate_WithDrafter(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Drafter = drafter{ev: schedule.Event{Date: "2026-03-11", Start: "14:30", Task: "haircut", ReminderMinutes: schedule.DefaultReminderMinutes}}
	})

	assert.True(t, f.route("add task haircut tomorrow at 2:30 pm"))
	assert.Equal(t, "I have scheduled your haircut for 2026-03-11 at 14:30. I will remind you 15 minutes before.", f.spy.last())

	all, err := f.store.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "haircut", all[0].Task)
}

func TestCreate_DrafterFailures(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Drafter = drafter{err: nlu.ErrNoEvent} })
	assert.False(t, f.route("schedule something"))
	assert.Contains(t, f.spy.last(), "include a day and a time")

	f = newFixture(t, func(d *Deps) { d.Drafter = drafter{ev: schedule.Event{Date: "someday", Start: "9", Task: "x"}} })
	assert.False(t, f.route("schedule something"))
	assert.Contains(t, f.spy.last(), "was not saved")

	f = newFixture(t, func(d *Deps) { d.Drafter = drafter{err: errors.New("rate limited")} })
	assert.False(t, f.route("schedule something"))
	assert.Equal(t, router.Apology, f.spy.last())
}

func TestRename(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t, "2026-03-10", "14:00", "dentist")

	assert.True(t, f.route("rename dentist to orthodontist"))
	assert.Equal(t, "I have renamed dentist to orthodontist.", f.spy.last())

	assert.False(t, f.route("rename dentist"))
	assert.Contains(t, f.spy.last(), "Say rename")
}

func TestUpcoming(t *testing.T) {
	f := newFixture(t, nil)
	assert.True(t, f.route("what's next"))
	assert.Equal(t, "You have no upcoming appointments in the next 2 hours.", f.spy.last())

	f.add(t, "2026-03-10", "09:45", "review")
	f.add(t, "2026-03-10", "13:00", "too late")
	f.add(t, "2026-03-10", "08:00", "already over")
	assert.True(t, f.route("what's coming up"))
	assert.Equal(t, "Your next appointment is review in 45 minutes.", f.spy.last())

	f.add(t, "2026-03-10", "09:10", "standup")
	assert.True(t, f.route("next appointment"))
	assert.Equal(t, "You have 2 upcoming appointments. standup in 10 minutes and review in 45 minutes.", f.spy.last())
}

func TestSilenceResetClock(t *testing.T) {
	f := newFixture(t, nil)

	assert.True(t, f.route("silence alarms"))
	assert.Equal(t, SilencePeriod, f.silent.got)
	assert.Equal(t, "I will silence schedule reminders until 9:30AM.", f.spy.last())

	assert.True(t, f.route("reset notifications"))
	assert.Equal(t, "All notification flags have been reset.", f.spy.last())

	assert.True(t, f.route("what time is it"))
	assert.Equal(t, "The time is 9:00AM.", f.spy.last())
}

type intents struct{ res nlu.Result }

func (i intents) Analyze(context.Context, string) (nlu.Result, error) { return i.res, nil }

type hub struct{}

func (hub) TransmitReceive(context.Context, any) (*protocol.Message, error) {
	return &protocol.Message{Verb: "OK", Noun: "LAMP"}, nil
}

func TestDevice_OnlyBoundWithHub(t *testing.T) {
	f := newFixture(t, nil)
	assert.False(t, f.route("turn on the lamp"))
	assert.Equal(t, router.NotRecognized, f.spy.last())

	f = newFixture(t, func(d *Deps) {
		d.Hub = hub{}
		d.Intents = intents{res: nlu.Result{Intent: "turn_on", Entities: map[string]string{"device": "lamp"}}}
	})
	assert.True(t, f.route("turn on the lamp"))
	assert.Equal(t, "The lamp is on.", f.spy.last())
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "dentist", subject("cancel my dentist appointment.", deleteVerbs))
	assert.Equal(t, "", subject("please remove", deleteVerbs))
}
