// Package speech serializes every spoken response through one playback worker.
package speech

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"aide/internal/metrics"
)

const DefaultUtteranceTimeout = 2 * time.Minute

var ErrClosed = errors.New("speech channel closed")

// Backend plays text and returns when playback has finished.
type Backend interface {
	Speak(ctx context.Context, text string) error
}

// Ducker lowers other applications while an utterance plays.
type Ducker interface {
	Duck(ctx context.Context) error
	Unduck(ctx context.Context) error
}

type Utterance struct {
	ID         uuid.UUID
	Text       string
	EnqueuedAt time.Time

	stop bool
}

type Options struct {
	UtteranceTimeout time.Duration
	Ducker           Ducker
}

// Channel is an unbounded FIFO of utterances drained by a single worker.
type Channel struct {
	backend Backend
	opt     Options
	logger  *log.Logger

	mu      sync.Mutex
	queue   []Utterance
	idle    bool
	drained chan struct{} // closed while idle
	closed  bool

	notify chan struct{}
	done   chan struct{}
}

// NewChannel creates the channel and starts its worker.
func NewChannel(backend Backend, opt Options, logger *log.Logger) *Channel {
	if opt.UtteranceTimeout <= 0 {
		opt.UtteranceTimeout = DefaultUtteranceTimeout
	}
	if logger == nil {
		logger = log.Default()
	}

	drained := make(chan struct{})
	close(drained)

	c := &Channel{
		backend: backend,
		opt:     opt,
		logger:  logger,
		idle:    true,
		drained: drained,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go c.worker()
	return c
}

// Enqueue appends text to the queue without waiting for playback.
// Blank text is ignored.
func (c *Channel) Enqueue(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	u := Utterance{ID: uuid.New(), Text: text, EnqueuedAt: time.Now()}
	if err := c.push(u); err != nil {
		return err
	}
	c.logger.Debug("Utterance queued", "id", u.ID, "text", text)
	return nil
}

func (c *Channel) push(u Utterance) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if u.stop {
		c.closed = true
	}

	c.queue = append(c.queue, u)
	if c.idle {
		c.idle = false
		c.drained = make(chan struct{})
	}
	metrics.SpeechQueueDepth.Set(float64(len(c.queue)))

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

// DrainBarrier blocks until the queue is empty and nothing is playing.
func (c *Channel) DrainBarrier(ctx context.Context) error {
	c.mu.Lock()
	drained := c.drained
	c.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Idle reports whether the queue is empty and nothing is playing.
func (c *Channel) Idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idle
}

// Pending returns the number of queued utterances, not counting the one playing.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Close queues a stop marker behind everything already queued and waits for the
// worker to reach it.
func (c *Channel) Close(ctx context.Context) error {
	if err := c.push(Utterance{stop: true}); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for speech worker: %w", ctx.Err())
	}
}

func (c *Channel) next() (Utterance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		if !c.idle {
			c.idle = true
			close(c.drained)
		}
		return Utterance{}, false
	}

	u := c.queue[0]
	c.queue[0] = Utterance{}
	c.queue = c.queue[1:]
	metrics.SpeechQueueDepth.Set(float64(len(c.queue)))
	return u, true
}

func (c *Channel) worker() {
	defer close(c.done)

	for {
		u, ok := c.next()
		if !ok {
			<-c.notify
			continue
		}

		if u.stop {
			c.next()
			c.logger.Debug("Speech worker stopped")
			return
		}

		c.speak(u)
	}
}

func (c *Channel) speak(u Utterance) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opt.UtteranceTimeout)
	defer cancel()

	if c.opt.Ducker != nil {
		if err := c.opt.Ducker.Duck(ctx); err != nil {
			c.logger.Warn("Failed to duck other streams", "err", err)
		}
		defer func() {
			if err := c.opt.Ducker.Unduck(context.Background()); err != nil {
				c.logger.Warn("Failed to restore other streams", "err", err)
			}
		}()
	}

	start := time.Now()
	err := c.play(ctx, u.Text)
	elapsed := time.Since(start)
	metrics.PlaybackDuration.Observe(elapsed.Seconds())

	if err != nil {
		metrics.UtterancesSpoken.WithLabelValues("error").Inc()
		c.logger.Error("Playback failed", "id", u.ID, "err", err)
		return
	}
	metrics.UtterancesSpoken.WithLabelValues("ok").Inc()
	c.logger.Info("Spoke", "id", u.ID, "text", u.Text, "took", elapsed.Round(time.Millisecond), "waited", start.Sub(u.EnqueuedAt).Round(time.Millisecond))
}

func (c *Channel) play(ctx context.Context, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend panic: %v", r)
		}
	}()
	return c.backend.Speak(ctx, text)
}
