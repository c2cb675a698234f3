// Package assistant owns the component lifecycles and runs the
// trigger, listen and route cycle next to the schedule monitor.
package assistant

import (
	"context"
	"errors"
	log "log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"aide/internal/ipc"
	"aide/internal/metrics"
	"aide/internal/router"
	"aide/internal/schedule"
	"aide/internal/wake"
)

const (
	Greeting = "At your service. How may I help?"

	defaultRetryDelay  = time.Second
	defaultStopTimeout = 5 * time.Second
)

type Gate interface {
	WaitForTrigger(ctx context.Context, manual <-chan struct{}) (wake.Trigger, error)
	State() wake.State
}

// Speech is the shared output channel.
type Speech interface {
	Enqueue(text string) error
	DrainBarrier(ctx context.Context) error
	Close(ctx context.Context) error
	Idle() bool
	Pending() int
}

type Listener interface {
	Listen(ctx context.Context) (router.Command, bool)
}

type Router interface {
	Route(ctx context.Context, cmd router.Command) bool
}

type Monitor interface {
	Start(ctx context.Context)
	Stop(timeout time.Duration) bool
	SilenceFor(d time.Duration) time.Time
	Silenced() time.Time
}

type Chime interface {
	Play(ctx context.Context) error
}

// EventStore is what the control surface needs from the schedule.
type EventStore interface {
	Save(ctx context.Context, ev schedule.Event) (int64, error)
	ListAll(ctx context.Context) ([]schedule.Event, error)
	ResetAllNotified(ctx context.Context) error
}

type Config struct {
	Greeting    string
	StopTimeout time.Duration
	RetryDelay  time.Duration
	Socket      string // control socket, empty disables it
	MetricsAddr string // empty disables /metrics
}

type Deps struct {
	Gate     Gate
	Speech   Speech
	Listener Listener
	Router   Router
	Monitor  Monitor
	Store    EventStore

	// optional
	Chime  Chime
	Logger *log.Logger
}

type Assistant struct {
	d      Deps
	cfg    Config
	logger *log.Logger
	manual chan struct{}
}

func New(d Deps, cfg Config) *Assistant {
	if cfg.Greeting == "" {
		cfg.Greeting = Greeting
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	logger := d.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Assistant{
		d:      d,
		cfg:    cfg,
		logger: logger,
		manual: make(chan struct{}, 1),
	}
}

// Run blocks until ctx is done. The monitor is stopped and queued speech is
// flushed before it returns.
func (a *Assistant) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	a.d.Monitor.Start(gctx)

	if a.cfg.Socket != "" {
		g.Go(func() error {
			return ipc.Serve(gctx, a.cfg.Socket, a.HandleControl, a.logger.With("component", "ipc"))
		})
	}
	if a.cfg.MetricsAddr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, a.cfg.MetricsAddr)
		})
	}
	g.Go(func() error {
		a.loop(gctx)
		return nil
	})

	err := g.Wait()
	a.shutdown()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *Assistant) shutdown() {
	a.logger.Info("Shutting down")
	a.d.Monitor.Stop(a.cfg.StopTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.StopTimeout)
	defer cancel()
	if err := a.d.Speech.Close(ctx); err != nil {
		a.logger.Warn("Speech did not flush", "err", err)
	}
}

func (a *Assistant) loop(ctx context.Context) {
	a.logger.Info("Assistant ready")
	for ctx.Err() == nil {
		if err := a.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Error("Trigger wait failed", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(a.cfg.RetryDelay):
			}
		}
	}
}

// Cycle runs one trigger, listen and route pass. Only a failure to wait for
// the trigger is returned; everything after it is handled in place.
func (a *Assistant) Cycle(ctx context.Context) error {
	trig, err := a.d.Gate.WaitForTrigger(ctx, a.manual)
	if err != nil {
		return err
	}
	a.logger.Debug("Cycle started", "source", trig.Source)

	// anything the monitor queued while we waited goes out before the cue
	if err := a.d.Speech.DrainBarrier(ctx); err != nil {
		return nil
	}
	if a.d.Chime != nil {
		if err := a.d.Chime.Play(ctx); err != nil {
			a.logger.Warn("Chime failed", "err", err)
		}
	}
	if err := a.d.Speech.Enqueue(a.cfg.Greeting); err != nil {
		a.logger.Warn("Failed to queue greeting", "err", err)
	}

	cmd, ok := a.d.Listener.Listen(ctx)
	if !ok {
		return nil
	}
	a.d.Router.Route(ctx, cmd)
	return nil
}

// Trigger starts a cycle as if the wake word was heard. Extra triggers while
// one is pending are dropped.
func (a *Assistant) Trigger() bool {
	select {
	case a.manual <- struct{}{}:
		return true
	default:
		return false
	}
}

// Say queues text on the shared speech channel.
func (a *Assistant) Say(text string) error {
	return a.d.Speech.Enqueue(text)
}
