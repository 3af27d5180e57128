// Package speech defines the transcription backends used by the pipeline.
package speech

import (
	"context"
	"time"
)

// Options configures an on-device transcription request.
type Options struct {
	Language         string // "auto" to let the model detect language
	LanguageSet      bool   // true when Language should override defaults
	Translate        bool   // translate non-English speech into English
	TranslateSet     bool
	Threads          int // <=0 uses runtime.NumCPU
	ThreadsSet       bool
	InitialPrompt    string
	InitialPromptSet bool
}

// Merge overlays the fields of override that are marked as set.
func (o Options) Merge(override Options) Options {
	result := o
	if override.LanguageSet {
		result.Language = override.Language
		result.LanguageSet = true
	}
	if override.TranslateSet {
		result.Translate = override.Translate
		result.TranslateSet = true
	}
	if override.ThreadsSet {
		result.Threads = override.Threads
		result.ThreadsSet = true
	}
	if override.InitialPromptSet {
		result.InitialPrompt = override.InitialPrompt
		result.InitialPromptSet = true
	}
	return result
}

// Segment is a timed piece of a transcript.
type Segment struct {
	ID    int           `json:"id"`
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Text  string        `json:"text"`
}

// Result is the final outcome of an engine run. Interim results are never returned.
type Result struct {
	Text     string        `json:"text"`
	Language string        `json:"language"`
	Duration time.Duration `json:"duration"`
	Segments []Segment     `json:"segments"`
}

// Engine is an on-device recognizer working on 16 kHz mono WAV files.
type Engine interface {
	Name() string
	TranscribeFile(ctx context.Context, path string, opts Options) (*Result, error)
	Close()
}

// RemoteTranscriber uploads one audio file per call. Retries belong to the caller.
type RemoteTranscriber interface {
	Name() string
	Transcribe(ctx context.Context, path, credential string) (string, error)
}

// LocalTranscriber is the fallback used after the remote path is exhausted.
type LocalTranscriber interface {
	TranscribeLocally(ctx context.Context, path string) (string, error)
}
