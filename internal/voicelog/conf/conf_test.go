package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	m, err := Load("", map[string]any{"data_dir": dir})
	require.NoError(t, err)

	cfg := m.Get()
	require.Equal(t, dir, cfg.DataDir)
	require.Equal(t, DefaultAddr, cfg.HTTPAddr)
	require.Equal(t, "aes-gcm", cfg.Crypto.Cipher)
	require.Equal(t, ProviderDeepgram, cfg.Speech.Provider)
	require.Equal(t, DefaultCredentialName, cfg.Speech.CredentialName)
	require.Equal(t, 2*time.Minute, cfg.Speech.RequestTimeout())
	require.Equal(t, 5, cfg.Transcription.MaxAttempts)
	require.Equal(t, 2*time.Second, cfg.Transcription.BaseDelay)
	require.InDelta(t, 0.1, cfg.Transcription.Jitter, 1e-9)
	require.True(t, cfg.Transcription.RecoverStale)
	require.Equal(t, filepath.Join(dir, "inbox"), cfg.Ingest.InboxDir)
	require.Equal(t, 15*time.Minute, cfg.Scheduler.Interval)
	require.Empty(t, m.ConfigFile())
}

func TestLoadFileEnvAndOverrides(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "voicelog.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
data_dir: `+dir+`
speech:
  provider: openai
  model: whisper-1
  local:
    consent: denied
transcription:
  max_attempts: 3
  base_delay: 500ms
scheduler:
  interval: 1m
`), 0o600))
	t.Setenv("VOICELOG_SPEECH_LANGUAGE", "de")
	t.Setenv("VOICELOG_TRANSCRIPTION_SEGMENT_SECONDS", "30")

	m, err := Load(file, map[string]any{"http_addr": "0.0.0.0:9000"})
	require.NoError(t, err)
	cfg := m.Get()
	require.Equal(t, ProviderOpenAI, cfg.Speech.Provider)
	require.Equal(t, "whisper-1", cfg.Speech.Model)
	require.Equal(t, "de", cfg.Speech.Language)
	require.Equal(t, "denied", cfg.Speech.Local.Consent)
	require.Equal(t, 3, cfg.Transcription.MaxAttempts)
	require.Equal(t, 500*time.Millisecond, cfg.Transcription.BaseDelay)
	require.Equal(t, 30.0, cfg.Transcription.SegmentSeconds)
	require.Equal(t, time.Minute, cfg.Scheduler.Interval)
	require.Equal(t, "0.0.0.0:9000", cfg.HTTPAddr)
	require.Equal(t, file, m.ConfigFile())
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	_, err := Load("", map[string]any{"data_dir": t.TempDir(), "speech.provider": "carrier-pigeon"})
	require.Error(t, err)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.Error(t, err)
}

func TestUpdateSpeechPersistsAndNotifies(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "voicelog.yaml")
	require.NoError(t, os.WriteFile(file, []byte("data_dir: "+dir+"\n"), 0o600))

	m, err := Load(file, nil)
	require.NoError(t, err)

	var notified []SpeechConfig
	m.OnSpeechChange(func(c SpeechConfig) { notified = append(notified, c) })

	updated, err := m.UpdateSpeech(map[string]any{
		"provider": "openai",
		"api_key":  "sk-test",
		"local":    map[string]any{"consent": "granted", "threads": "2", "translate": true},
	})
	require.NoError(t, err)
	require.Equal(t, ProviderOpenAI, updated.Provider)
	require.Equal(t, 2, updated.Local.Threads)
	require.True(t, updated.Local.Enabled, "untouched fields are kept")
	require.NotNil(t, updated.Local.Translate)
	require.Len(t, notified, 1)
	require.Equal(t, "********", updated.Redacted().APIKey)

	opts := updated.Local.ToOptions()
	require.True(t, opts.ThreadsSet)
	require.True(t, opts.TranslateSet)
	require.False(t, opts.LanguageSet)

	reloaded, err := Load(file, nil)
	require.NoError(t, err)
	require.Equal(t, ProviderOpenAI, reloaded.Speech().Provider)
	require.Equal(t, "granted", reloaded.Speech().Local.Consent)
	require.Equal(t, "sk-test", reloaded.Speech().APIKey)
}

func TestUpdateSpeechRejectsBadInput(t *testing.T) {
	m, err := Load("", map[string]any{"data_dir": t.TempDir()})
	require.NoError(t, err)

	_, err = m.UpdateSpeech(map[string]any{"no_such_key": 1})
	require.Error(t, err)
	_, err = m.UpdateSpeech(map[string]any{"provider": "fax"})
	require.Error(t, err)
	require.Equal(t, ProviderDeepgram, m.Speech().Provider)
}
