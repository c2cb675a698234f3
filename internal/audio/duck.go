package audio

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

var percentRe = regexp.MustCompile(`(\d+)\s*%`)

const maxVolume = 150

type streamInfo struct {
	ID      int
	Volume  int
	AppName string
}

type fadeTarget struct {
	id   int
	from int
	to   int
}

// Ducker fades other applications' PulseAudio sink inputs down while the
// assistant speaks. Streams whose application.name is in SelfNames are left alone.
type Ducker struct {
	cfg DuckerConfig

	mu          sync.Mutex
	active      bool
	originalVol map[int]int // sink input id -> volume % before ducking
}

type DuckerConfig struct {
	SelfNames []string
	Factor    float64 // ducked volume = current * Factor
	MinVolume int     // never duck below this %
	Fade      time.Duration
}

func NewDucker(cfg DuckerConfig) *Ducker {
	cfg.MinVolume = max(0, min(cfg.MinVolume, maxVolume))
	if cfg.Factor <= 0 || cfg.Factor > 1 {
		cfg.Factor = 0.3
	}
	return &Ducker{
		cfg:         cfg,
		originalVol: make(map[int]int),
	}
}

// Duck fades every foreign stream to current*Factor, not below MinVolume.
func (d *Ducker) Duck(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return nil
	}

	streams, err := listStreams(ctx)
	if err != nil {
		return err
	}

	d.originalVol = make(map[int]int)
	targets := duckTargets(streams, d.cfg)
	for _, t := range targets {
		d.originalVol[t.id] = t.from
	}

	// mark active before fading so a partial fade is still restored
	d.active = true
	return fadeInputs(ctx, targets, d.cfg.Fade)
}

// Unduck fades ducked streams back to their original volume. Streams that
// appeared after Duck are ignored.
func (d *Ducker) Unduck(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return nil
	}

	streams, err := listStreams(ctx)
	if err != nil {
		return err
	}

	var targets []fadeTarget
	for _, s := range streams {
		if d.isSelfStream(s) {
			continue
		}
		orig, ok := d.originalVol[s.ID]
		if !ok {
			continue
		}
		targets = append(targets, fadeTarget{id: s.ID, from: s.Volume, to: orig})
	}

	d.originalVol = make(map[int]int)
	d.active = false
	return fadeInputs(ctx, targets, d.cfg.Fade)
}

func duckTargets(streams []streamInfo, cfg DuckerConfig) []fadeTarget {
	var targets []fadeTarget
	for _, s := range streams {
		if slices.Contains(cfg.SelfNames, s.AppName) {
			continue
		}
		to := math.Max(float64(s.Volume)*cfg.Factor, float64(cfg.MinVolume))
		targets = append(targets, fadeTarget{
			id:   s.ID,
			from: s.Volume,
			to:   int(math.Round(math.Min(to, maxVolume))),
		})
	}
	return targets
}

func (d *Ducker) isSelfStream(s streamInfo) bool {
	return slices.Contains(d.cfg.SelfNames, s.AppName)
}

// fadeInputs steps every target linearly from its current to its target volume.
func fadeInputs(ctx context.Context, targets []fadeTarget, duration time.Duration) error {
	if len(targets) == 0 {
		return nil
	}
	if duration <= 0 {
		for _, t := range targets {
			if err := setSinkInputVolume(ctx, t.id, t.to); err != nil {
				return fmt.Errorf("set volume id=%d: %w", t.id, err)
			}
		}

		return nil
	}

	const minStepDuration = 10 * time.Millisecond

	steps := int(duration / minStepDuration)
	if steps < 1 {
		steps = 1
	}

	stepDuration := duration / time.Duration(steps)

	for i := 0; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		tFrac := float64(i) / float64(steps)

		for _, s := range targets {
			delta := s.to - s.from
			vFloat := float64(s.from) + float64(delta)*tFrac
			v := int(math.Round(vFloat))

			if err := setSinkInputVolume(ctx, s.id, v); err != nil {
				return fmt.Errorf("set volume id=%d: %w", s.id, err)
			}
		}

		if i < steps {
			time.Sleep(stepDuration)
		}
	}

	return nil
}

func listStreams(ctx context.Context) ([]streamInfo, error) {
	out, err := exec.CommandContext(ctx, "pactl", "list", "sink-inputs").Output()
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}
	return parseSinkInputs(string(out)), nil
}

// parseSinkInputs reads the id, first volume percentage and application.name of
// every block in `pactl list sink-inputs` output.
func parseSinkInputs(text string) []streamInfo {
	parts := strings.Split(text, "Sink Input #")

	var res []streamInfo
	for _, block := range parts[1:] {
		header, body, ok := strings.Cut(block, "\n")
		if !ok {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(header))
		if err != nil {
			continue
		}

		s := streamInfo{ID: id}
		for _, line := range strings.Split(body, "\n") {
			line = strings.TrimSpace(line)

			if strings.HasPrefix(line, "Volume:") && s.Volume == 0 {
				if m := percentRe.FindStringSubmatch(line); len(m) >= 2 {
					if v, err := strconv.Atoi(m[1]); err == nil {
						s.Volume = v
					}
				}
			}

			if after, ok := strings.CutPrefix(line, "application.name ="); ok && s.AppName == "" {
				s.AppName = strings.Trim(strings.TrimSpace(after), `"`)
			}
		}

		if s.Volume == 0 && s.AppName == "" {
			continue
		}
		res = append(res, s)
	}
	return res
}

func setSinkInputVolume(ctx context.Context, id int, percent int) error {
	percent = max(0, min(percent, maxVolume))
	arg := fmt.Sprintf("%d%%", percent)
	return exec.CommandContext(ctx, "pactl", "set-sink-input-volume", strconv.Itoa(id), arg).Run()
}
