// Package wake blocks on the microphone until the trigger phrase is heard.
package wake

import (
	"context"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"aide/internal/audio"
	"aide/internal/metrics"
)

type State int

const (
	Idle State = iota
	Listening
	Triggered
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Triggered:
		return "triggered"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	SourceWake   = "wake"
	SourceManual = "manual"
)

type Trigger struct {
	Source  string
	Keyword string
	At      time.Time
}

// Detector consumes fixed-size frames and reports when the keyword was heard.
type Detector interface {
	FrameLength() int
	Process(frame []int16) (bool, error)
	Close() error
}

// DetectorFactory builds a fresh detector for each wait.
type DetectorFactory func() (Detector, error)

type FrameSource interface {
	OpenFrames(frameLength int) (audio.Stream, error)
}

type Gate struct {
	source  FrameSource
	factory DetectorFactory
	keyword string
	logger  *log.Logger

	mu    sync.Mutex
	state State
}

func NewGate(source FrameSource, factory DetectorFactory, keyword string, logger *log.Logger) *Gate {
	if logger == nil {
		logger = log.Default()
	}
	return &Gate{
		source:  source,
		factory: factory,
		keyword: keyword,
		logger:  logger,
	}
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Gate) setState(s State) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
}

// Preflight builds and releases one detector so bad credentials fail at startup.
func (g *Gate) Preflight() error {
	det, err := g.factory()
	if err != nil {
		return fmt.Errorf("create detector: %w", err)
	}
	return det.Close()
}

// WaitForTrigger listens until the keyword is detected, a value arrives on
// manual, or ctx is done. The capture stream and the detector are released
// before it returns.
func (g *Gate) WaitForTrigger(ctx context.Context, manual <-chan struct{}) (trig Trigger, err error) {
	det, err := g.factory()
	if err != nil {
		return Trigger{}, fmt.Errorf("create detector: %w", err)
	}
	defer func() {
		if cerr := det.Close(); cerr != nil {
			g.logger.Warn("Failed to release detector", "err", cerr)
		}
	}()

	stream, err := g.source.OpenFrames(det.FrameLength())
	if err != nil {
		return Trigger{}, fmt.Errorf("open capture: %w", err)
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			g.logger.Warn("Failed to release capture stream", "err", cerr)
		}
	}()

	g.setState(Listening)
	defer func() {
		if err != nil {
			g.setState(Idle)
		}
	}()
	g.logger.Debug("Waiting for trigger", "keyword", g.keyword)

	for {
		select {
		case <-ctx.Done():
			return Trigger{}, ctx.Err()
		case <-manual:
			return g.fire(SourceManual), nil
		default:
		}

		frame, err := stream.Read()
		if err != nil {
			return Trigger{}, fmt.Errorf("read frame: %w", err)
		}

		heard, err := det.Process(frame)
		if err != nil {
			return Trigger{}, fmt.Errorf("process frame: %w", err)
		}
		if heard {
			return g.fire(SourceWake), nil
		}
	}
}

func (g *Gate) fire(source string) Trigger {
	g.setState(Triggered)
	metrics.Triggers.WithLabelValues(source).Inc()

	t := Trigger{Source: source, Keyword: g.keyword, At: time.Now()}
	g.logger.Info("Trigger detected", "source", source, "keyword", g.keyword)
	return t
}
