package schedule

import (
	"context"
	log "log/slog"
	"sort"
	"sync"
	"time"

	"aide/internal/metrics"
)

const (
	DefaultCheckInterval    = 10 * time.Second
	DefaultSummaryThreshold = 2
)

// PendingStore is the part of Store the monitor needs.
type PendingStore interface {
	ListPending(ctx context.Context) ([]Event, error)
	MarkNotified(ctx context.Context, id int64) error
}

// Announcer accepts speech for the shared output channel.
type Announcer interface {
	Enqueue(text string) error
}

type MonitorConfig struct {
	CheckInterval    time.Duration
	SummaryThreshold int // more due events than this are announced as one summary
	Location         *time.Location
	Now              func() time.Time
}

// Monitor polls pending events and announces each one once it becomes due.
type Monitor struct {
	store   PendingStore
	speaker Announcer
	cfg     MonitorConfig
	logger  *log.Logger

	mu       sync.Mutex
	silenced time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewMonitor(store PendingStore, speaker Announcer, cfg MonitorConfig, logger *log.Logger) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.SummaryThreshold <= 0 {
		cfg.SummaryThreshold = DefaultSummaryThreshold
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Monitor{
		store:   store,
		speaker: speaker,
		cfg:     cfg,
		logger:  logger,
	}
}

// Start launches the poll loop. A second Start while running is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(ctx, m.done)

	m.logger.Info("Schedule monitor started", "interval", m.cfg.CheckInterval)
}

// Stop asks the loop to finish and waits up to timeout. It reports whether
// the loop exited in time.
func (m *Monitor) Stop(timeout time.Duration) bool {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if done == nil {
		return true
	}
	cancel()

	select {
	case <-done:
		m.logger.Info("Schedule monitor stopped")
		return true
	case <-time.After(timeout):
		m.logger.Warn("Schedule monitor did not stop in time", "timeout", timeout)
		return false
	}
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		if _, err := m.Tick(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error("Schedule check failed", "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SilenceFor suppresses announcements for d. Suppressed events stay pending.
func (m *Monitor) SilenceFor(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.silenced = m.cfg.Now().Add(d)
	m.logger.Info("Reminders silenced", "until", m.silenced.Format(time.Kitchen))
	return m.silenced
}

// Silenced returns the end of the current silence window, zero when not silenced.
func (m *Monitor) Silenced() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.cfg.Now().Before(m.silenced) {
		return time.Time{}
	}
	return m.silenced
}

// Tick runs one poll cycle and returns how many events were marked notified.
func (m *Monitor) Tick(ctx context.Context) (int, error) {
	if until := m.Silenced(); !until.IsZero() {
		m.logger.Debug("Reminders silenced, skipping check", "until", until)
		return 0, nil
	}

	events, err := m.store.ListPending(ctx)
	if err != nil {
		return 0, err
	}

	now := m.cfg.Now()
	due := make([]Candidate, 0, len(events))
	for _, ev := range events {
		c, err := Evaluate(ev, now, m.cfg.Location)
		if err != nil {
			m.logger.Warn("Skipping event with unreadable date", "id", ev.ID, "date", ev.Date, "start", ev.Start, "err", err)
			continue
		}
		if c.Eligible {
			due = append(due, c)
		}
	}
	if len(due) == 0 {
		return 0, nil
	}

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].MinutesUntil < due[j].MinutesUntil
	})

	if len(due) > m.cfg.SummaryThreshold {
		if err := m.speaker.Enqueue(Summary(due)); err != nil {
			return 0, err
		}
		return m.markAll(ctx, due), nil
	}

	marked := 0
	for _, c := range due {
		if err := m.speaker.Enqueue(Announcement(c)); err != nil {
			// leave it pending, the next tick retries
			m.logger.Error("Failed to announce reminder", "id", c.Event.ID, "err", err)
			continue
		}
		marked += m.markAll(ctx, []Candidate{c})
	}
	return marked, nil
}

func (m *Monitor) markAll(ctx context.Context, cs []Candidate) int {
	marked := 0
	for _, c := range cs {
		if err := m.store.MarkNotified(ctx, c.Event.ID); err != nil {
			m.logger.Error("Failed to mark event notified", "id", c.Event.ID, "err", err)
			continue
		}
		marked++
		metrics.RemindersFired.Inc()
		m.logger.Info("Notification fired", "id", c.Event.ID, "task", c.Event.Task, "minutes_until", c.MinutesUntil)
	}
	return marked
}
