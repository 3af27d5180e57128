package conf

import (
	"time"

	"github.com/sjzar/voicelog/internal/speech"
)

const (
	ProviderDeepgram = "deepgram"
	ProviderOpenAI   = "openai"

	// DefaultCredentialName is the secret consulted when speech.api_key is empty.
	DefaultCredentialName = "remote-credential"
)

// SpeechConfig controls remote transcription and the on-device fallback.
type SpeechConfig struct {
	Provider              string      `mapstructure:"provider" json:"provider"`
	Endpoint              string      `mapstructure:"endpoint" json:"endpoint"`
	Model                 string      `mapstructure:"model" json:"model"`
	Language              string      `mapstructure:"language" json:"language"`
	SmartFormat           bool        `mapstructure:"smart_format" json:"smart_format"`
	APIKey                string      `mapstructure:"api_key" json:"api_key,omitempty"`
	CredentialName        string      `mapstructure:"credential_name" json:"credential_name"`
	RequestTimeoutSeconds int         `mapstructure:"request_timeout_seconds" json:"request_timeout_seconds"`
	Local                 LocalConfig `mapstructure:"local" json:"local"`
}

// LocalConfig controls the on-device recognizer.
type LocalConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// Consent is "granted", "denied", "restricted" or empty to ask on first use.
	Consent       string `mapstructure:"consent" json:"consent"`
	Engine        string `mapstructure:"engine" json:"engine"`
	Model         string `mapstructure:"model" json:"model"`
	ModelURL      string `mapstructure:"model_url" json:"model_url"`
	Threads       int    `mapstructure:"threads" json:"threads"`
	Language      string `mapstructure:"language" json:"language"`
	Translate     *bool  `mapstructure:"translate" json:"translate"`
	InitialPrompt string `mapstructure:"initial_prompt" json:"initial_prompt"`
	Python        string `mapstructure:"python" json:"python"`
}

// RequestTimeout returns the per-request remote timeout.
func (c *SpeechConfig) RequestTimeout() time.Duration {
	if c == nil || c.RequestTimeoutSeconds <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Redacted returns a copy without the inline API key.
func (c SpeechConfig) Redacted() SpeechConfig {
	if c.APIKey != "" {
		c.APIKey = "********"
	}
	return c
}

// ToOptions converts the local config into runtime options for an engine.
func (c *LocalConfig) ToOptions() speech.Options {
	var opts speech.Options

	if c == nil {
		return opts
	}

	if c.Language != "" {
		opts.Language = c.Language
		opts.LanguageSet = true
	}
	if c.Translate != nil {
		opts.Translate = *c.Translate
		opts.TranslateSet = true
	}
	if c.Threads > 0 {
		opts.Threads = c.Threads
		opts.ThreadsSet = true
	}
	if c.InitialPrompt != "" {
		opts.InitialPrompt = c.InitialPrompt
		opts.InitialPromptSet = true
	}

	return opts
}
