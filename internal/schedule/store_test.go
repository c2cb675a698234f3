package schedule

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "schedule.db"), time.UTC, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_SaveListAll_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	in := Event{Date: "03/10/26", Start: "14:30", Stop: "15:00", Task: "dentist appointment", ReminderMinutes: 30}
	id, err := store.Save(ctx, in)
	require.NoError(t, err)
	assert.Positive(t, id)

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	got := all[0]
	assert.Equal(t, id, got.ID)
	assert.Equal(t, in.Date, got.Date)
	assert.Equal(t, in.Start, got.Start)
	assert.Equal(t, in.Stop, got.Stop)
	assert.Equal(t, in.Task, got.Task)
	assert.Equal(t, in.ReminderMinutes, got.ReminderMinutes)
	assert.False(t, got.Notified)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestStore_Save_KeepsLeadAndValidates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, Event{Date: "2026-03-10", Start: "09:00", Task: "standup", ReminderMinutes: 0})
	require.NoError(t, err)
	_, err = store.Save(ctx, Event{Date: "2026-03-10", Start: "10:00", Task: "review", ReminderMinutes: DefaultReminderMinutes})
	require.NoError(t, err)

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 0, all[0].ReminderMinutes)
	assert.Equal(t, DefaultReminderMinutes, all[1].ReminderMinutes)

	_, err = store.Save(ctx, Event{Date: "2026-03-10", Start: "09:00", Task: "x", ReminderMinutes: -5})
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = store.Save(ctx, Event{Date: "tomorrow", Start: "09:00", Task: "x"})
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = store.Save(ctx, Event{Date: "2026-03-10", Start: "09:00", Task: "  "})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestStore_ListAll_OrdersAcrossDateFormats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, ev := range []Event{
		{Date: "2026-03-11", Start: "08:00", Task: "third"},
		{Date: "03/10/26", Start: "17:00", Task: "second"},
		{Date: "2026-03-10", Start: "09:00", Task: "first"},
	} {
		_, err := store.Save(ctx, ev)
		require.NoError(t, err)
	}

	all, err := store.ListAll(ctx)
	require.NoError(t, err)

	var tasks []string
	for _, ev := range all {
		tasks = append(tasks, ev.Task)
	}
	assert.Equal(t, []string{"first", "second", "third"}, tasks)
}

func TestStore_ListPending_MarkNotified(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, err := store.Save(ctx, Event{Date: "2026-03-10", Start: "09:00", Task: "a"})
	require.NoError(t, err)
	_, err = store.Save(ctx, Event{Date: "2026-03-10", Start: "10:00", Task: "b"})
	require.NoError(t, err)

	require.NoError(t, store.MarkNotified(ctx, a))

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].Task)

	assert.ErrorIs(t, store.MarkNotified(ctx, 9999), ErrNotFound)

	require.NoError(t, store.ResetAllNotified(ctx))
	pending, err = store.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestStore_DeleteByFuzzyName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, Event{Date: "2026-03-10", Start: "09:00", Task: "dentist appointment"})
	require.NoError(t, err)
	_, err = store.Save(ctx, Event{Date: "2026-03-10", Start: "11:00", Task: "gym"})
	require.NoError(t, err)

	deleted, err := store.DeleteByFuzzyName(ctx, "dentist")
	require.NoError(t, err)
	assert.True(t, deleted)

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "gym", all[0].Task)

	deleted, err = store.DeleteByFuzzyName(ctx, "dentist")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = store.DeleteByFuzzyName(ctx, "  ")
	assert.ErrorIs(t, err, ErrEmptyPattern)

	// wildcards in the needle are literal
	deleted, err = store.DeleteByFuzzyName(ctx, "%")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestStore_UpdateTaskByFuzzyName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, Event{Date: "2026-03-10", Start: "09:00", Task: "Dentist appointment"})
	require.NoError(t, err)

	updated, err := store.UpdateTaskByFuzzyName(ctx, "dentist", "orthodontist")
	require.NoError(t, err)
	assert.True(t, updated)

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "orthodontist", all[0].Task)

	updated, err = store.UpdateTaskByFuzzyName(ctx, "nothing", "x")
	require.NoError(t, err)
	assert.False(t, updated)
}

func TestStore_MigratesLegacyTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE schedule (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT, date TEXT, start_time TEXT, stop_time TEXT, task TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO schedule (timestamp, date, start_time, stop_time, task)
		VALUES ('2026-03-01 10:00:00', '03/10/26', '09:00', '10:00', 'legacy')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	store, err := Open(path, time.UTC, nil)
	require.NoError(t, err)
	defer store.Close()

	pending, err := store.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "legacy", pending[0].Task)
	assert.Equal(t, DefaultReminderMinutes, pending[0].ReminderMinutes)
	assert.False(t, pending[0].Notified)
}
