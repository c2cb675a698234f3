package assistant

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aide/internal/ipc"
	"aide/internal/router"
	"aide/internal/schedule"
	"aide/internal/wake"
)

// journal records the order in which collaborators are called.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	j.entries = append(j.entries, s)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type fakeGate struct {
	j     *journal
	errs  chan error
	calls int
	mu    sync.Mutex
}

func (g *fakeGate) WaitForTrigger(ctx context.Context, manual <-chan struct{}) (wake.Trigger, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	select {
	case <-ctx.Done():
		return wake.Trigger{}, ctx.Err()
	case err := <-g.errs:
		return wake.Trigger{}, err
	case <-manual:
		g.j.add("trigger")
		return wake.Trigger{Source: wake.SourceManual}, nil
	}
}

func (g *fakeGate) State() wake.State { return wake.Listening }

func (g *fakeGate) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeSpeech struct {
	j      *journal
	closed bool
}

func (s *fakeSpeech) Enqueue(text string) error {
	s.j.add("say:" + text)
	return nil
}

func (s *fakeSpeech) DrainBarrier(ctx context.Context) error {
	s.j.add("drain")
	return ctx.Err()
}

func (s *fakeSpeech) Close(context.Context) error {
	s.closed = true
	return nil
}

func (s *fakeSpeech) Idle() bool   { return true }
func (s *fakeSpeech) Pending() int { return 0 }

type fakeListener struct {
	j    *journal
	cmds []router.Command
}

func (l *fakeListener) Listen(context.Context) (router.Command, bool) {
	l.j.add("listen")
	if len(l.cmds) == 0 {
		return router.Command{}, false
	}
	cmd := l.cmds[0]
	l.cmds = l.cmds[1:]
	return cmd, true
}

type fakeRouter struct{ j *journal }

func (r *fakeRouter) Route(_ context.Context, cmd router.Command) bool {
	r.j.add("route:" + cmd.Text)
	return true
}

type fakeMonitor struct {
	mu       sync.Mutex
	started  bool
	stopped  bool
	silenced time.Time
}

func (m *fakeMonitor) Start(context.Context) {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
}

func (m *fakeMonitor) Stop(time.Duration) bool {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	return true
}

func (m *fakeMonitor) SilenceFor(d time.Duration) time.Time {
	m.silenced = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC).Add(d)
	return m.silenced
}

func (m *fakeMonitor) Silenced() time.Time { return m.silenced }

type fakeChime struct{ j *journal }

func (c *fakeChime) Play(context.Context) error {
	c.j.add("chime")
	return nil
}

type fixture struct {
	j       *journal
	gate    *fakeGate
	speech  *fakeSpeech
	listen  *fakeListener
	monitor *fakeMonitor
	store   *schedule.Store
	a       *Assistant
}

func newFixture(t *testing.T, cmds ...string) *fixture {
	t.Helper()
	j := &journal{}
	store, err := schedule.Open(filepath.Join(t.TempDir(), "schedule.db"), time.UTC, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		j:       j,
		gate:    &fakeGate{j: j, errs: make(chan error, 4)},
		speech:  &fakeSpeech{j: j},
		listen:  &fakeListener{j: j},
		monitor: &fakeMonitor{},
		store:   store,
	}
	for _, c := range cmds {
		f.listen.cmds = append(f.listen.cmds, router.NewCommand(c))
	}
	f.a = New(Deps{
		Gate:     f.gate,
		Speech:   f.speech,
		Listener: f.listen,
		Router:   &fakeRouter{j: j},
		Monitor:  f.monitor,
		Store:    store,
		Chime:    &fakeChime{j: j},
	}, Config{RetryDelay: 10 * time.Millisecond})
	return f
}

func TestCycleOrder(t *testing.T) {
	f := newFixture(t, "what time is it")
	require.True(t, f.a.Trigger())

	require.NoError(t, f.a.Cycle(context.Background()))
	assert.Equal(t, []string{
		"trigger",
		"drain",
		"chime",
		"say:" + Greeting,
		"listen",
		"route:what time is it",
	}, f.j.list())
}

func TestCycleNothingHeard(t *testing.T) {
	f := newFixture(t)
	f.a.Trigger()

	require.NoError(t, f.a.Cycle(context.Background()))
	for _, e := range f.j.list() {
		assert.False(t, strings.HasPrefix(e, "route:"), "routed %q", e)
	}
}

func TestTriggerIsNonBlocking(t *testing.T) {
	f := newFixture(t)
	assert.True(t, f.a.Trigger())
	assert.False(t, f.a.Trigger())
}

func TestRunRetriesAndShutsDown(t *testing.T) {
	f := newFixture(t)
	f.gate.errs <- errors.New("device busy")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.a.Run(ctx) }()

	require.Eventually(t, func() bool { return f.gate.Calls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	assert.True(t, f.monitor.started)
	assert.True(t, f.monitor.stopped)
	assert.True(t, f.speech.closed)
}

func TestRunServesControlSocket(t *testing.T) {
	f := newFixture(t)
	sock := filepath.Join(t.TempDir(), "aide.sock")
	f.a.cfg.Socket = sock

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.a.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	var reply ipc.ControlReply
	require.Eventually(t, func() bool {
		var err error
		reply, err = ipc.Send(context.Background(), sock, ipc.ControlMessage{Cmd: "say", Args: map[string]string{"text": "hello"}})
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, reply.OK)
	assert.Contains(t, f.j.list(), "say:hello")
}

func TestHandleControl(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	send := func(cmd string, args map[string]string) ipc.ControlReply {
		return f.a.HandleControl(ctx, ipc.ControlMessage{Cmd: cmd, Args: args})
	}

	r := send("list", nil)
	assert.True(t, r.OK)
	assert.Equal(t, "no events", r.Message)

	r = send("add", map[string]string{"date": "2026-03-10", "start": "09:00", "stop": "10:00", "task": "dentist", "remind": "30"})
	require.True(t, r.OK, r.Message)
	assert.Equal(t, "added #1 dentist on 2026-03-10 at 09:00", r.Message)

	r = send("add", map[string]string{"date": "tomorrow", "start": "09:00", "task": "gym"})
	assert.False(t, r.OK)

	r = send("add", map[string]string{"date": "2026-03-10", "start": "09:00", "task": "gym", "remind": "soon"})
	assert.False(t, r.OK)

	r = send("list", nil)
	require.True(t, r.OK)
	assert.Equal(t, "[ ] #1 2026-03-10 09:00-10:00 dentist (30 min)", r.Message)

	r = send("add", map[string]string{"date": "2026-03-11", "start": "08:00", "task": "standup"})
	require.True(t, r.OK, r.Message)
	r = send("add", map[string]string{"date": "2026-03-12", "start": "08:00", "task": "gym", "remind": "0"})
	require.True(t, r.OK, r.Message)

	events, err := f.store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, schedule.DefaultReminderMinutes, events[1].ReminderMinutes)
	assert.Equal(t, 0, events[2].ReminderMinutes)

	r = send("silence", map[string]string{"minutes": "45"})
	require.True(t, r.OK)
	assert.Equal(t, "reminders silenced until 9:45AM", r.Message)

	r = send("silence", map[string]string{"minutes": "-1"})
	assert.False(t, r.OK)

	r = send("status", nil)
	require.True(t, r.OK)
	assert.Equal(t, "wake: listening, speech: idle, reminders: silenced until 9:45AM", r.Message)

	assert.True(t, send("reset", nil).OK)
	assert.False(t, send("say", map[string]string{"text": "  "}).OK)

	r = send("trigger", nil)
	assert.Equal(t, "triggered", r.Message)
	r = send("trigger", nil)
	assert.Equal(t, "trigger already pending", r.Message)

	assert.False(t, send("dance", nil).OK)
}
