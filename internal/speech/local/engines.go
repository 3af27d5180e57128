package local

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sjzar/voicelog/internal/speech"
	"github.com/sjzar/voicelog/internal/speech/whispercpp"
	"github.com/sjzar/voicelog/internal/speech/whisperpy"
)

const (
	EngineWhisperCpp = "whispercpp"
	EnginePython     = "python"
)

// EngineConfig selects and configures the on-device recognizer.
type EngineConfig struct {
	Engine     string
	Model      string
	ModelDir   string
	ModelURL   string
	PythonPath string
	ScriptDir  string
	Defaults   speech.Options
}

// NewEngineLoader returns a loader for cfg.Engine. The whisper.cpp engine
// downloads its model on first load.
func NewEngineLoader(cfg EngineConfig) EngineLoader {
	switch strings.ToLower(strings.TrimSpace(cfg.Engine)) {
	case "", EngineWhisperCpp:
		return func(ctx context.Context) (speech.Engine, error) {
			model, err := NewDownloader(cfg.ModelDir, cfg.ModelURL).EnsureModel(ctx, cfg.Model)
			if err != nil {
				return nil, fmt.Errorf("ensure whisper model: %w", err)
			}
			log.Info().Str("model", model.Path).Bool("cached", model.Existed).Msg("loading whisper.cpp model")
			engine, err := whispercpp.New(whispercpp.Config{ModelPath: model.Path, DefaultOptions: cfg.Defaults})
			if err != nil {
				return nil, err
			}
			return engine, nil
		}
	case EnginePython:
		return func(ctx context.Context) (speech.Engine, error) {
			scriptDir := cfg.ScriptDir
			if scriptDir == "" {
				scriptDir = filepath.Join(cfg.ModelDir, "python")
			}
			engine, err := whisperpy.New(whisperpy.Config{
				ScriptDir:      scriptDir,
				PythonPath:     cfg.PythonPath,
				Model:          strings.TrimSuffix(strings.TrimPrefix(cfg.Model, "ggml-"), ".bin"),
				DefaultOptions: cfg.Defaults,
			})
			if err != nil {
				return nil, err
			}
			return engine, nil
		}
	default:
		log.Warn().Str("engine", cfg.Engine).Msg("unknown on-device engine")
		return nil
	}
}
