package wake

import (
	"errors"
	"fmt"
	"strings"

	porcupine "github.com/Picovoice/porcupine/binding/go/v3"
)

const DefaultKeyword = "jarvis"

var ErrMissingAccessKey = errors.New("PICOVOICE_ACCESS_KEY is not set")

type PorcupineConfig struct {
	AccessKey   string
	Keyword     string  // built-in keyword, ignored when KeywordPath is set
	KeywordPath string  // custom .ppn file
	ModelPath   string
	Sensitivity float32 // 0..1
}

type porcupineDetector struct {
	engine porcupine.Porcupine
}

// NewPorcupineFactory returns a factory of Porcupine detectors for cfg.
func NewPorcupineFactory(cfg PorcupineConfig) (DetectorFactory, error) {
	if cfg.AccessKey == "" {
		return nil, ErrMissingAccessKey
	}
	if cfg.Sensitivity <= 0 || cfg.Sensitivity > 1 {
		cfg.Sensitivity = 0.5
	}
	if cfg.KeywordPath == "" {
		kw := porcupine.BuiltInKeyword(strings.ToLower(strings.TrimSpace(cfg.Keyword)))
		if kw == "" {
			kw = DefaultKeyword
		}
		if !kw.IsValid() {
			return nil, fmt.Errorf("unknown built-in keyword %q", cfg.Keyword)
		}
		cfg.Keyword = string(kw)
	}

	return func() (Detector, error) {
		engine := porcupine.Porcupine{
			AccessKey:     cfg.AccessKey,
			ModelPath:     cfg.ModelPath,
			Sensitivities: []float32{cfg.Sensitivity},
		}
		if cfg.KeywordPath != "" {
			engine.KeywordPaths = []string{cfg.KeywordPath}
		} else {
			engine.BuiltInKeywords = []porcupine.BuiltInKeyword{porcupine.BuiltInKeyword(cfg.Keyword)}
		}

		if err := engine.Init(); err != nil {
			return nil, fmt.Errorf("init porcupine: %w", err)
		}
		return &porcupineDetector{engine: engine}, nil
	}, nil
}

func (p *porcupineDetector) FrameLength() int { return porcupine.FrameLength }

func (p *porcupineDetector) Process(frame []int16) (bool, error) {
	idx, err := p.engine.Process(frame)
	if err != nil {
		return false, err
	}
	return idx >= 0, nil
}

func (p *porcupineDetector) Close() error {
	return p.engine.Delete()
}
