//go:build !cgo

package whispercpp

import (
	"context"
	"errors"

	"github.com/sjzar/voicelog/internal/speech"
)

// Config describes how to initialise the whisper.cpp backend.
type Config struct {
	ModelPath      string
	DefaultOptions speech.Options
}

// Transcriber is unavailable without CGO.
type Transcriber struct{}

// New always fails when built without CGO so callers report the fallback as unavailable.
func New(cfg Config) (*Transcriber, error) {
	return nil, errors.New("whisper.cpp unavailable: built without cgo")
}

func (t *Transcriber) Name() string { return "whispercpp" }

func (t *Transcriber) Close() {}

func (t *Transcriber) TranscribeFile(ctx context.Context, path string, opts speech.Options) (*speech.Result, error) {
	return nil, errors.New("whisper.cpp unavailable: built without cgo")
}
