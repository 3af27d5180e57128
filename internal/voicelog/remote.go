package voicelog

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/sjzar/voicelog/internal/keystore"
	"github.com/sjzar/voicelog/internal/speech"
	"github.com/sjzar/voicelog/internal/speech/deepgram"
	"github.com/sjzar/voicelog/internal/speech/openai"
	"github.com/sjzar/voicelog/internal/voicelog/conf"
)

// NewRemote builds the remote client for the configured provider.
func NewRemote(cfg conf.SpeechConfig) speech.RemoteTranscriber {
	switch cfg.Provider {
	case conf.ProviderOpenAI:
		return openai.New(openai.Config{
			BaseURL:  cfg.Endpoint,
			Model:    cfg.Model,
			Language: cfg.Language,
			Timeout:  cfg.RequestTimeout(),
		}, nil)
	default:
		return deepgram.New(deepgram.Config{
			Endpoint:    cfg.Endpoint,
			Model:       cfg.Model,
			Language:    cfg.Language,
			SmartFormat: cfg.SmartFormat,
			Timeout:     cfg.RequestTimeout(),
		}, nil)
	}
}

// RemoteEndpoint returns the URL the connectivity probe should dial.
func RemoteEndpoint(cfg conf.SpeechConfig) string {
	if cfg.Endpoint != "" {
		return cfg.Endpoint
	}
	if cfg.Provider == conf.ProviderOpenAI {
		return "https://api.openai.com/v1"
	}
	return deepgram.DefaultEndpoint
}

// switchableRemote lets the provider change at runtime without restarting the pipeline.
type switchableRemote struct {
	current atomic.Pointer[speech.RemoteTranscriber]
}

func newSwitchableRemote(r speech.RemoteTranscriber) *switchableRemote {
	s := &switchableRemote{}
	s.set(r)
	return s
}

func (s *switchableRemote) set(r speech.RemoteTranscriber) {
	s.current.Store(&r)
}

func (s *switchableRemote) get() speech.RemoteTranscriber {
	return *s.current.Load()
}

func (s *switchableRemote) Name() string {
	return s.get().Name()
}

func (s *switchableRemote) Transcribe(ctx context.Context, path, credential string) (string, error) {
	return s.get().Transcribe(ctx, path, credential)
}

// credentialFunc prefers speech.api_key and falls back to the named secret.
func credentialFunc(cfg *conf.Manager, secrets *keystore.Store) func(ctx context.Context) string {
	return func(ctx context.Context) string {
		sc := cfg.Speech()
		if key := strings.TrimSpace(sc.APIKey); key != "" {
			return key
		}
		value, err := secrets.Get(sc.CredentialName)
		if err != nil {
			if !errors.Is(err, keystore.ErrNotFound) {
				log.Warn().Err(err).Str("name", sc.CredentialName).Msg("failed to read remote credential")
			}
			return ""
		}
		return strings.TrimSpace(string(value))
	}
}
