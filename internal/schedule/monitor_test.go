package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnnouncer struct {
	mu   sync.Mutex
	said []string
	err  error
}

func (f *fakeAnnouncer) Enqueue(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.said = append(f.said, text)
	return nil
}

func (f *fakeAnnouncer) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.said...)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMonitor(t *testing.T, now time.Time) (*Monitor, *Store, *fakeAnnouncer, *clock) {
	t.Helper()
	store := newTestStore(t)
	speaker := &fakeAnnouncer{}
	clk := &clock{now: now}
	m := NewMonitor(store, speaker, MonitorConfig{
		CheckInterval: 10 * time.Millisecond,
		Location:      time.UTC,
		Now:           clk.Now,
	}, nil)
	return m, store, speaker, clk
}

func TestMonitor_StartingNow_AnnouncedOnce(t *testing.T) {
	m, store, speaker, _ := newTestMonitor(t, base)
	ctx := context.Background()

	_, err := store.Save(ctx, Event{Date: "03/10/26", Start: "09:00", Task: "standup", ReminderMinutes: 15})
	require.NoError(t, err)

	n, err := m.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, speaker.texts(), 1)
	assert.Equal(t, "Attention! Your appointment for standup is starting now at 09:00.", speaker.texts()[0])

	n, err = m.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, speaker.texts(), 1)

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMonitor_NoEarlyFire(t *testing.T) {
	m, store, speaker, clk := newTestMonitor(t, base.Add(-20*time.Minute))
	ctx := context.Background()

	_, err := store.Save(ctx, Event{Date: "2026-03-10", Start: "09:00", Task: "review", ReminderMinutes: 15})
	require.NoError(t, err)

	n, err := m.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, speaker.texts())

	clk.Advance(5 * time.Minute)
	n, err = m.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, speaker.texts()[0], "starts in 15 minutes at 09:00")
}

func TestMonitor_SummaryAboveThreshold(t *testing.T) {
	m, store, speaker, _ := newTestMonitor(t, base)
	ctx := context.Background()

	for _, ev := range []Event{
		{Date: "2026-03-10", Start: "09:05", Task: "second", ReminderMinutes: 15},
		{Date: "2026-03-10", Start: "09:01", Task: "first", ReminderMinutes: 15},
		{Date: "2026-03-10", Start: "09:10", Task: "third", ReminderMinutes: 15},
	} {
		_, err := store.Save(ctx, ev)
		require.NoError(t, err)
	}

	n, err := m.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, speaker.texts(), 1)
	assert.Equal(t, "Reminder: You have 3 appointments coming up. The first, first starts in 1 minute.", speaker.texts()[0])
}

func TestMonitor_IndividualAtThreshold(t *testing.T) {
	m, store, speaker, _ := newTestMonitor(t, base)
	ctx := context.Background()

	for _, ev := range []Event{
		{Date: "2026-03-10", Start: "09:05", Task: "later", ReminderMinutes: 15},
		{Date: "2026-03-10", Start: "09:00", Task: "now", ReminderMinutes: 15},
	} {
		_, err := store.Save(ctx, ev)
		require.NoError(t, err)
	}

	n, err := m.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	said := speaker.texts()
	require.Len(t, said, 2)
	assert.Contains(t, said[0], "for now is starting now")
	assert.Contains(t, said[1], "for later starts in 5 minutes")
}

func TestMonitor_SilenceKeepsEventsPending(t *testing.T) {
	m, store, speaker, clk := newTestMonitor(t, base)
	ctx := context.Background()

	_, err := store.Save(ctx, Event{Date: "2026-03-10", Start: "09:00", Task: "standup"})
	require.NoError(t, err)

	until := m.SilenceFor(30 * time.Minute)
	assert.Equal(t, base.Add(30*time.Minute), until)
	assert.Equal(t, until, m.Silenced())

	n, err := m.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, speaker.texts())

	clk.Advance(31 * time.Minute)
	assert.True(t, m.Silenced().IsZero())

	n, err = m.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, speaker.texts()[0], "started at 09:00")
}

func TestMonitor_SkipsUnreadableDates(t *testing.T) {
	m, store, speaker, _ := newTestMonitor(t, base)
	ctx := context.Background()

	// bypass Save validation to simulate a row written by another tool
	_, err := store.db.ExecContext(ctx,
		`INSERT INTO schedule (date, start_time, task, notified, reminder_minutes) VALUES ('someday', 'noon', 'broken', 0, 15)`)
	require.NoError(t, err)
	_, err = store.Save(ctx, Event{Date: "2026-03-10", Start: "09:00", Task: "fine"})
	require.NoError(t, err)

	n, err := m.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, speaker.texts(), 1)
	assert.Contains(t, speaker.texts()[0], "fine")

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "broken", pending[0].Task)
}

func TestMonitor_EnqueueFailureLeavesEventPending(t *testing.T) {
	m, store, speaker, _ := newTestMonitor(t, base)
	ctx := context.Background()
	speaker.err = errors.New("channel closed")

	_, err := store.Save(ctx, Event{Date: "2026-03-10", Start: "09:00", Task: "standup"})
	require.NoError(t, err)

	n, err := m.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestMonitor_StartStop(t *testing.T) {
	m, store, speaker, _ := newTestMonitor(t, base)
	ctx := context.Background()

	_, err := store.Save(ctx, Event{Date: "2026-03-10", Start: "09:00", Task: "standup"})
	require.NoError(t, err)

	m.Start(ctx)
	m.Start(ctx)

	require.Eventually(t, func() bool { return len(speaker.texts()) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, m.Stop(time.Second))
	assert.True(t, m.Stop(time.Second))

	// announced exactly once across many ticks
	assert.Len(t, speaker.texts(), 1)
}
