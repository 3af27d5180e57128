// Package conf loads voicelog configuration from file, environment and flags.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/sjzar/voicelog/internal/voicelog/scheduler"
	"github.com/sjzar/voicelog/internal/voicelog/transcription"
)

const (
	EnvPrefix      = "VOICELOG"
	ConfigName     = "voicelog"
	DefaultAddr    = "127.0.0.1:5070"
	defaultDirName = ".voicelog"
)

// Config is the full application configuration.
type Config struct {
	DataDir       string              `mapstructure:"data_dir" json:"data_dir"`
	HTTPAddr      string              `mapstructure:"http_addr" json:"http_addr"`
	LogLevel      string              `mapstructure:"log_level" json:"log_level"`
	Crypto        CryptoConfig        `mapstructure:"crypto" json:"crypto"`
	Speech        SpeechConfig        `mapstructure:"speech" json:"speech"`
	Transcription TranscriptionConfig `mapstructure:"transcription" json:"transcription"`
	Ingest        IngestConfig        `mapstructure:"ingest" json:"ingest"`
	Scheduler     scheduler.Config    `mapstructure:"scheduler" json:"scheduler"`
}

type CryptoConfig struct {
	Cipher  string `mapstructure:"cipher" json:"cipher"`
	KeyName string `mapstructure:"key_name" json:"key_name"`
}

type TranscriptionConfig struct {
	transcription.RetryPolicy `mapstructure:",squash"`
	Workers                   int     `mapstructure:"workers" json:"workers"`
	MinExportSeconds          float64 `mapstructure:"min_export_seconds" json:"min_export_seconds"`
	SegmentSeconds            float64 `mapstructure:"segment_seconds" json:"segment_seconds"`
	RecoverStale              bool    `mapstructure:"recover_stale" json:"recover_stale"`
	FFmpeg                    string  `mapstructure:"ffmpeg" json:"ffmpeg"`
}

type IngestConfig struct {
	InboxDir     string        `mapstructure:"inbox_dir" json:"inbox_dir"`
	RemoveSource bool          `mapstructure:"remove_source" json:"remove_source"`
	Settle       time.Duration `mapstructure:"settle" json:"settle"`
}

// Manager owns the viper instance and the decoded configuration. Speech
// settings can be changed at runtime and are written back to the config file.
type Manager struct {
	v *viper.Viper

	mu        sync.RWMutex
	cfg       Config
	listeners []func(SpeechConfig)
}

func setDefaults(v *viper.Viper) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	policy := transcription.DefaultRetryPolicy()

	v.SetDefault("data_dir", filepath.Join(home, defaultDirName))
	v.SetDefault("http_addr", DefaultAddr)
	v.SetDefault("log_level", "info")
	v.SetDefault("crypto.cipher", "aes-gcm")
	v.SetDefault("crypto.key_name", "audio-encryption-key")
	v.SetDefault("speech.provider", ProviderDeepgram)
	v.SetDefault("speech.smart_format", true)
	v.SetDefault("speech.endpoint", "")
	v.SetDefault("speech.model", "")
	v.SetDefault("speech.language", "")
	v.SetDefault("speech.api_key", "")
	v.SetDefault("speech.credential_name", DefaultCredentialName)
	v.SetDefault("speech.request_timeout_seconds", 120)
	v.SetDefault("speech.local.enabled", true)
	v.SetDefault("speech.local.engine", "whispercpp")
	v.SetDefault("speech.local.model", "ggml-base.en.bin")
	v.SetDefault("speech.local.consent", "")
	v.SetDefault("speech.local.threads", 0)
	v.SetDefault("speech.local.python", "")
	v.SetDefault("transcription.max_attempts", policy.MaxAttempts)
	v.SetDefault("transcription.base_delay", policy.BaseDelay)
	v.SetDefault("transcription.factor", policy.Factor)
	v.SetDefault("transcription.retry_jitter", policy.Jitter)
	v.SetDefault("transcription.workers", 4)
	v.SetDefault("transcription.min_export_seconds", 2.0)
	v.SetDefault("transcription.segment_seconds", 0)
	v.SetDefault("transcription.recover_stale", true)
	v.SetDefault("transcription.ffmpeg", "")
	v.SetDefault("ingest.inbox_dir", "")
	v.SetDefault("ingest.remove_source", false)
	v.SetDefault("ingest.settle", 3*time.Second)
	v.SetDefault("scheduler.interval", scheduler.DefaultInterval)
	v.SetDefault("scheduler.probe_interval", scheduler.DefaultProbeInterval)
}

// Load reads configuration. path may be empty, in which case voicelog.yaml is
// searched in the working directory and the default data directory. overrides
// take precedence over everything else (they come from command-line flags).
func Load(path string, overrides map[string]any) (*Manager, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for k, val := range overrides {
		v.Set(k, val)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(v.GetString("data_dir"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		log.Debug().Str("file", v.ConfigFileUsed()).Msg("config loaded")
	}

	m := &Manager{v: v}
	if err := v.Unmarshal(&m.cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := m.cfg.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Ingest.InboxDir == "" {
		c.Ingest.InboxDir = filepath.Join(c.DataDir, "inbox")
	}
	return c.Speech.validate()
}

func (c *SpeechConfig) validate() error {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	switch c.Provider {
	case "":
		c.Provider = ProviderDeepgram
	case ProviderDeepgram, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown speech provider %q", c.Provider)
	}
	if c.CredentialName == "" {
		c.CredentialName = DefaultCredentialName
	}
	return nil
}

// Get returns a snapshot of the current configuration.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Speech returns the current speech settings.
func (m *Manager) Speech() SpeechConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Speech
}

// OnSpeechChange registers fn to run after UpdateSpeech succeeds.
func (m *Manager) OnSpeechChange(fn func(SpeechConfig)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// UpdateSpeech applies a partial speech config, e.g. {"provider":"openai","local":{"consent":"denied"}},
// and persists it to the config file.
func (m *Manager) UpdateSpeech(patch map[string]any) (SpeechConfig, error) {
	m.mu.Lock()
	next := m.cfg.Speech
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &next,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		m.mu.Unlock()
		return SpeechConfig{}, err
	}
	if err := dec.Decode(patch); err != nil {
		m.mu.Unlock()
		return SpeechConfig{}, fmt.Errorf("decode speech config: %w", err)
	}
	if err := next.validate(); err != nil {
		m.mu.Unlock()
		return SpeechConfig{}, err
	}
	for key, val := range flatten("speech", patch) {
		m.v.Set(key, val)
	}
	m.cfg.Speech = next
	listeners := append([]func(SpeechConfig){}, m.listeners...)
	m.mu.Unlock()

	if err := m.save(); err != nil {
		log.Warn().Err(err).Msg("failed to persist speech config")
	}
	for _, fn := range listeners {
		fn(next)
	}
	return next, nil
}

func (m *Manager) save() error {
	if file := m.v.ConfigFileUsed(); file != "" {
		return m.v.WriteConfig()
	}
	dir := m.Get().DataDir
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	return m.v.WriteConfigAs(filepath.Join(dir, ConfigName+".yaml"))
}

// ConfigFile returns the file the configuration was read from, if any.
func (m *Manager) ConfigFile() string {
	return m.v.ConfigFileUsed()
}

func flatten(prefix string, in map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range in {
		key := prefix + "." + k
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}
