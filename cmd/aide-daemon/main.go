package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/lmittmann/tint"
	log "log/slog"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/spf13/afero"
	cli "github.com/spf13/pflag"

	"aide/internal/assistant"
	"aide/internal/audio"
	"aide/internal/config"
	"aide/internal/listener"
	"aide/internal/nlu"
	"aide/internal/notify"
	"aide/internal/proxy"
	"aide/internal/router"
	"aide/internal/schedule"
	"aide/internal/skills"
	"aide/internal/speech"
	"aide/internal/tts"
	"aide/internal/wake"
	"aide/pkg/protocol"
	"aide/pkg/stt"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func fatal(msg string, args ...any) {
	log.Error(msg, args...)
	os.Exit(1)
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, cli.ErrHelp) {
		return
	}

	level := log.LevelInfo
	if cfg != nil {
		if l, ok := logLevelMap[cfg.Log.Level]; ok {
			level = l
		}
	}
	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: level,
	})))

	if err != nil {
		fatal("Failed to load config", "err", err)
	}

	log.Info("Booting up")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, _ := cfg.Location()

	// OpenAI is optional: without a key the online tiers and the LLM skills are off.
	var client *openai.Client
	if cfg.OpenAI.APIKey != "" {
		httpClient, err := proxy.NewHTTPClient(cfg.OpenAI.Proxy, cfg.OpenAI.Timeout)
		if err != nil {
			fatal("Failed to dial socks proxy", "proxy", cfg.OpenAI.Proxy, "err", err)
		}
		c := openai.NewClient(
			option.WithAPIKey(cfg.OpenAI.APIKey),
			option.WithHTTPClient(httpClient),
		)
		client = &c
		log.Debug("Loaded API key", "proxy", cfg.OpenAI.Proxy)
	} else {
		log.Warn("OPENAI_API_KEY not set, online transcription and drafting disabled")
	}

	dev := audio.NewDevice(log.With("component", "audio"))
	if err := dev.Init(); err != nil {
		fatal("Failed to init audio", "err", err)
	}
	defer dev.Close()

	var whisper *stt.Transcriber
	if cfg.Wake.Detector == "whisper" || slices.Contains(cfg.Listen.Tiers, "whisper") {
		whisper, err = stt.NewTranscriber(cfg.Whisper.Model, stt.Options{
			Language: cfg.Whisper.Language,
			Threads:  cfg.Whisper.Threads,
		})
		if err != nil {
			fatal("Failed to init whisper", "model", cfg.Whisper.Model, "err", err)
		}
		defer whisper.Close()
		log.Debug("Loaded whisper", "model", cfg.Whisper.Model)
	}

	chain := stt.NewChain(log.With("component", "stt"), tiers(cfg, client, whisper)...)
	if len(chain.Names()) == 0 {
		fatal("No transcription tier available", "tiers", cfg.Listen.Tiers)
	}
	log.Info("Transcription tiers", "tiers", chain.Names())

	backend, err := tts.New(tts.Config{
		Backend:  cfg.Speech.Backend,
		Voice:    cfg.Speech.Voice,
		Language: cfg.Speech.Language,
		Rate:     cfg.Speech.Rate,
		Model:    cfg.Speech.Model,
	}, tts.Deps{
		OpenAI: client,
		Player: dev,
		Logger: log.With("component", "tts"),
	})
	if err != nil {
		fatal("Failed to init speech backend", "backend", cfg.Speech.Backend, "err", err)
	}

	speechOpt := speech.Options{UtteranceTimeout: cfg.Speech.UtteranceTimeout}
	if cfg.Speech.Duck {
		speechOpt.Ducker = audio.NewDucker(audio.DuckerConfig{
			SelfNames: []string{"aide", "aide-daemon", "espeak"},
			Factor:    cfg.Speech.DuckFactor,
			MinVolume: cfg.Speech.DuckMinVolume,
		})
	}
	out := speech.NewChannel(backend, speechOpt, log.With("component", "speech"))

	gate := wake.NewGate(dev, detectorFactory(cfg, whisper), cfg.Wake.Keyword, log.With("component", "wake"))
	if err := gate.Preflight(); err != nil {
		fatal("Failed to init wake detector", "detector", cfg.Wake.Detector, "err", err)
	}

	store, err := schedule.Open(cfg.Schedule.DBPath, loc, log.With("component", "store"))
	if err != nil {
		fatal("Failed to open schedule", "path", cfg.Schedule.DBPath, "err", err)
	}
	defer store.Close()

	monitor := schedule.NewMonitor(store, out, schedule.MonitorConfig{
		CheckInterval:    cfg.Schedule.CheckInterval,
		SummaryThreshold: cfg.Schedule.SummaryThreshold,
		Location:         loc,
	}, log.With("component", "monitor"))

	lst := listener.New(out, dev, chain, listener.Config{
		Timeout:           cfg.Listen.Timeout,
		PhraseLimit:       cfg.Listen.PhraseLimit,
		Silence:           cfg.Listen.Silence,
		Threshold:         cfg.Listen.Threshold,
		TranscribeTimeout: cfg.Listen.TranscribeTimeout,
	}, log.With("component", "listener"))

	deps := skills.Deps{
		Store:    store,
		Speaker:  out,
		Asker:    lst,
		Silencer: monitor,
		Location: loc,
		Logger:   log.With("component", "skills"),
	}
	if client != nil {
		llm := nlu.New(*client, cfg.OpenAI.ChatModel, log.With("component", "nlu"))
		deps.Intents = llm
		if cfg.OpenAI.Drafting {
			deps.Drafter = llm
		}
	}
	if cfg.Hub.URL != "" {
		hub, err := protocol.NewProtocol(protocol.PtclConfig{
			Shard:   cfg.Hub.Shard,
			Url:     cfg.Hub.URL,
			Reconn:  cfg.Hub.Reconnect,
			Timeout: cfg.Hub.Timeout,
			EmitOut: func(m *protocol.Message) {
				log.Info("Hub message", "msg", m.String())
			},
		})
		if err != nil {
			fatal("Failed to connect to hub", "url", cfg.Hub.URL, "err", err)
		}
		defer hub.Close()
		go hub.Run(ctx)
		deps.Hub = hub
	}

	rt := router.New(out, log.With("component", "router"), skills.New(deps).Bindings()...)

	a := assistant.New(assistant.Deps{
		Gate:     gate,
		Speech:   out,
		Listener: lst,
		Router:   rt,
		Monitor:  monitor,
		Store:    store,
		Chime:    notify.NewChime(cfg.Listen.Chime),
		Logger:   log.With("component", "assistant"),
	}, assistant.Config{
		StopTimeout: cfg.Schedule.StopTimeout,
		Socket:      cfg.IPC.Socket,
		MetricsAddr: cfg.Metrics.Addr,
	})

	log.Info("Boot up - successful", "detector", cfg.Wake.Detector, "keyword", cfg.Wake.Keyword)

	if err := a.Run(ctx); err != nil {
		fatal("Assistant stopped", "err", err)
	}
	log.Info("Bye")
}

func tiers(cfg *config.Config, client *openai.Client, whisper *stt.Transcriber) []stt.Tier {
	var fs afero.Fs
	if cfg.Listen.KeepRecordings {
		fs = afero.NewOsFs()
	}

	var out []stt.Tier
	for _, name := range cfg.Listen.Tiers {
		switch name {
		case "openai-fast", "openai-robust":
			if client == nil {
				log.Warn("Skipping transcription tier without API key", "tier", name)
				continue
			}
			model := cfg.OpenAI.FastModel
			if name == "openai-robust" {
				model = cfg.OpenAI.RobustModel
			}
			out = append(out, stt.NewOpenAITranscriber(*client, stt.OpenAIConfig{
				Name:     name,
				Model:    model,
				Language: cfg.Whisper.Language,
				Fs:       fs,
				Keep:     cfg.Listen.KeepRecordings,
				Dir:      cfg.Listen.RecordingsDir,
			}))
		case "whisper":
			out = append(out, whisper)
		}
	}
	return out
}

func detectorFactory(cfg *config.Config, whisper *stt.Transcriber) wake.DetectorFactory {
	if cfg.Wake.Detector == "whisper" {
		return wake.NewPhraseFactory(whisper, wake.PhraseConfig{
			Phrase: cfg.Wake.Keyword,
			Window: cfg.Wake.Window,
			Step:   cfg.Wake.Step,
		})
	}

	factory, err := wake.NewPorcupineFactory(wake.PorcupineConfig{
		AccessKey:   cfg.Wake.AccessKey,
		Keyword:     cfg.Wake.Keyword,
		KeywordPath: cfg.Wake.KeywordPath,
		ModelPath:   cfg.Wake.ModelPath,
		Sensitivity: float32(cfg.Wake.Sensitivity),
	})
	if err != nil {
		fatal("Failed to init wake detector", "detector", "porcupine", "err", err)
	}
	return factory
}
