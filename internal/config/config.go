// Package config loads daemon settings from flags, the environment, a .env
// file and an optional aide.yaml.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Log      LogConfig
	Wake     WakeConfig
	Listen   ListenConfig
	Speech   SpeechConfig
	Schedule ScheduleConfig
	Whisper  WhisperConfig
	OpenAI   OpenAIConfig
	Hub      HubConfig
	IPC      IPCConfig
	Metrics  MetricsConfig
}

type LogConfig struct {
	Level string
}

type WakeConfig struct {
	Detector    string // porcupine or whisper
	Keyword     string
	KeywordPath string
	ModelPath   string
	Sensitivity float64
	AccessKey   string
	Window      time.Duration
	Step        time.Duration
}

type ListenConfig struct {
	Timeout           time.Duration
	PhraseLimit       time.Duration
	Silence           time.Duration
	Threshold         float64
	TranscribeTimeout time.Duration
	Tiers             []string
	KeepRecordings    bool
	RecordingsDir     string
	Chime             string
}

type SpeechConfig struct {
	Backend          string
	Voice            string
	Language         string
	Rate             int
	Model            string
	UtteranceTimeout time.Duration
	Duck             bool
	DuckFactor       float64
	DuckMinVolume    int
}

type ScheduleConfig struct {
	DBPath           string
	CheckInterval    time.Duration
	SummaryThreshold int
	StopTimeout      time.Duration
	Timezone         string
}

type WhisperConfig struct {
	Model    string
	Language string
	Threads  int
}

type OpenAIConfig struct {
	APIKey      string
	Proxy       string
	Timeout     time.Duration
	FastModel   string
	RobustModel string
	ChatModel   string
	Drafting    bool
}

type HubConfig struct {
	URL       string
	Shard     string
	Timeout   time.Duration
	Reconnect uint
}

type IPCConfig struct {
	Socket string
}

type MetricsConfig struct {
	Addr string
}

var (
	Detectors = []string{"porcupine", "whisper"}
	Backends  = []string{"auto", "espeak", "say", "openai", "log"}
	Tiers     = []string{"openai-fast", "openai-robust", "whisper"}
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("wake.detector", "porcupine")
	v.SetDefault("wake.keyword", "jarvis")
	v.SetDefault("wake.sensitivity", 0.5)
	v.SetDefault("wake.window", 2*time.Second)
	v.SetDefault("wake.step", time.Second)

	v.SetDefault("listen.timeout", 10*time.Second)
	v.SetDefault("listen.phrase_limit", 8*time.Second)
	v.SetDefault("listen.silence", 600*time.Millisecond)
	v.SetDefault("listen.threshold", 0.015)
	v.SetDefault("listen.transcribe_timeout", 60*time.Second)
	v.SetDefault("listen.tiers", Tiers)
	v.SetDefault("listen.keep_recordings", false)
	v.SetDefault("listen.recordings_dir", "recordings")

	v.SetDefault("speech.backend", "auto")
	v.SetDefault("speech.language", "en")
	v.SetDefault("speech.utterance_timeout", 2*time.Minute)
	v.SetDefault("speech.duck", false)
	v.SetDefault("speech.duck_factor", 0.3)
	v.SetDefault("speech.duck_min_volume", 10)

	v.SetDefault("schedule.db_path", "data/schedule.db")
	v.SetDefault("schedule.check_interval", 10*time.Second)
	v.SetDefault("schedule.summary_threshold", 2)
	v.SetDefault("schedule.stop_timeout", 5*time.Second)
	v.SetDefault("schedule.timezone", "Local")

	v.SetDefault("whisper.model", "models/ggml-base.en.bin")
	v.SetDefault("whisper.language", "en")

	v.SetDefault("openai.timeout", 120*time.Second)
	v.SetDefault("openai.fast_model", "gpt-4o-mini-transcribe")
	v.SetDefault("openai.robust_model", "whisper-1")
	v.SetDefault("openai.chat_model", "gpt-5-nano")
	v.SetDefault("openai.drafting", true)

	v.SetDefault("hub.shard", "AIDE")
	v.SetDefault("hub.timeout", 5*time.Second)
	v.SetDefault("hub.reconnect", 3)

	v.SetDefault("ipc.socket", "/tmp/aide.sock")
}

// flag name -> config key
var flagKeys = map[string]string{
	"log":     "log.level",
	"proxy":   "openai.proxy",
	"db":      "schedule.db_path",
	"tts":     "speech.backend",
	"wake":    "wake.detector",
	"model":   "whisper.model",
	"socket":  "ipc.socket",
	"metrics": "metrics.addr",
	"hub":     "hub.url",
}

// Load parses args (without the program name) and resolves the configuration.
// Precedence: flags, AIDE_* environment, aide.yaml, defaults.
func Load(args []string) (*Config, error) {
	flags := cli.NewFlagSet("aide-daemon", cli.ContinueOnError)
	envFile := flags.StringP("env", "e", ".env", "Env file path")
	cfgFile := flags.StringP("config", "c", "", "Config file (default: aide.yaml in ., ~/.config/aide, /etc/aide)")
	flags.StringP("log", "l", "info", "Log level")
	flags.StringP("proxy", "p", "", "Socks proxy address for OpenAI requests")
	flags.String("db", "data/schedule.db", "Schedule database path")
	flags.String("tts", "auto", "Speech backend: "+strings.Join(Backends, ", "))
	flags.String("wake", "porcupine", "Wake detector: "+strings.Join(Detectors, ", "))
	flags.String("model", "models/ggml-base.en.bin", "Whisper model path")
	flags.String("socket", "/tmp/aide.sock", "Control socket path")
	flags.String("metrics", "", "Serve Prometheus metrics on this address")
	flags.String("hub", "", "Hub websocket URL")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", *envFile, err)
	}

	v := viper.New()
	v.SetConfigName("aide")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/aide")
	v.AddConfigPath("/etc/aide")
	if *cfgFile != "" {
		v.SetConfigFile(*cfgFile)
	}

	v.SetEnvPrefix("AIDE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := fromViper(v)

	// credentials keep their conventional names
	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Wake.AccessKey == "" {
		cfg.Wake.AccessKey = os.Getenv("PICOVOICE_ACCESS_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Log.Level = v.GetString("log.level")

	cfg.Wake.Detector = v.GetString("wake.detector")
	cfg.Wake.Keyword = v.GetString("wake.keyword")
	cfg.Wake.KeywordPath = v.GetString("wake.keyword_path")
	cfg.Wake.ModelPath = v.GetString("wake.model_path")
	cfg.Wake.Sensitivity = v.GetFloat64("wake.sensitivity")
	cfg.Wake.AccessKey = v.GetString("wake.access_key")
	cfg.Wake.Window = v.GetDuration("wake.window")
	cfg.Wake.Step = v.GetDuration("wake.step")

	cfg.Listen.Timeout = v.GetDuration("listen.timeout")
	cfg.Listen.PhraseLimit = v.GetDuration("listen.phrase_limit")
	cfg.Listen.Silence = v.GetDuration("listen.silence")
	cfg.Listen.Threshold = v.GetFloat64("listen.threshold")
	cfg.Listen.TranscribeTimeout = v.GetDuration("listen.transcribe_timeout")
	cfg.Listen.Tiers = v.GetStringSlice("listen.tiers")
	cfg.Listen.KeepRecordings = v.GetBool("listen.keep_recordings")
	cfg.Listen.RecordingsDir = v.GetString("listen.recordings_dir")
	cfg.Listen.Chime = v.GetString("listen.chime")

	cfg.Speech.Backend = v.GetString("speech.backend")
	cfg.Speech.Voice = v.GetString("speech.voice")
	cfg.Speech.Language = v.GetString("speech.language")
	cfg.Speech.Rate = v.GetInt("speech.rate")
	cfg.Speech.Model = v.GetString("speech.model")
	cfg.Speech.UtteranceTimeout = v.GetDuration("speech.utterance_timeout")
	cfg.Speech.Duck = v.GetBool("speech.duck")
	cfg.Speech.DuckFactor = v.GetFloat64("speech.duck_factor")
	cfg.Speech.DuckMinVolume = v.GetInt("speech.duck_min_volume")

	cfg.Schedule.DBPath = v.GetString("schedule.db_path")
	cfg.Schedule.CheckInterval = v.GetDuration("schedule.check_interval")
	cfg.Schedule.SummaryThreshold = v.GetInt("schedule.summary_threshold")
	cfg.Schedule.StopTimeout = v.GetDuration("schedule.stop_timeout")
	cfg.Schedule.Timezone = v.GetString("schedule.timezone")

	cfg.Whisper.Model = v.GetString("whisper.model")
	cfg.Whisper.Language = v.GetString("whisper.language")
	cfg.Whisper.Threads = v.GetInt("whisper.threads")

	cfg.OpenAI.APIKey = v.GetString("openai.api_key")
	cfg.OpenAI.Proxy = v.GetString("openai.proxy")
	cfg.OpenAI.Timeout = v.GetDuration("openai.timeout")
	cfg.OpenAI.FastModel = v.GetString("openai.fast_model")
	cfg.OpenAI.RobustModel = v.GetString("openai.robust_model")
	cfg.OpenAI.ChatModel = v.GetString("openai.chat_model")
	cfg.OpenAI.Drafting = v.GetBool("openai.drafting")

	cfg.Hub.URL = v.GetString("hub.url")
	cfg.Hub.Shard = v.GetString("hub.shard")
	cfg.Hub.Timeout = v.GetDuration("hub.timeout")
	cfg.Hub.Reconnect = v.GetUint("hub.reconnect")

	cfg.IPC.Socket = v.GetString("ipc.socket")

	cfg.Metrics.Addr = v.GetString("metrics.addr")

	return cfg
}

func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains(Detectors, c.Wake.Detector) {
		errs = append(errs, fmt.Errorf("wake.detector: unknown %q", c.Wake.Detector))
	}
	if !slices.Contains(Backends, c.Speech.Backend) {
		errs = append(errs, fmt.Errorf("speech.backend: unknown %q", c.Speech.Backend))
	}
	for _, t := range c.Listen.Tiers {
		if !slices.Contains(Tiers, t) {
			errs = append(errs, fmt.Errorf("listen.tiers: unknown %q", t))
		}
	}
	if c.Schedule.CheckInterval <= 0 {
		errs = append(errs, errors.New("schedule.check_interval must be positive"))
	}
	if c.Listen.Timeout <= 0 || c.Listen.PhraseLimit <= 0 {
		errs = append(errs, errors.New("listen.timeout and listen.phrase_limit must be positive"))
	}
	if c.Wake.Step > c.Wake.Window {
		errs = append(errs, fmt.Errorf("wake.step %s exceeds wake.window %s", c.Wake.Step, c.Wake.Window))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("schedule.timezone: %w", err))
	}
	return errors.Join(errs...)
}

// Location resolves schedule.timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Schedule.Timezone == "" || c.Schedule.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Schedule.Timezone)
}
