//go:build cgo

// Package whispercpp runs whisper.cpp models in-process.
package whispercpp

/*
#cgo CFLAGS: -I${SRCDIR}/../../../third_party/whisper/include
#cgo LDFLAGS: -L${SRCDIR}/../../../third_party/whisper/lib -lwhisper -lggml -lstdc++ -lm
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"
	"time"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/sjzar/voicelog/internal/media"
	"github.com/sjzar/voicelog/internal/speech"
)

// Config describes how to initialise the whisper.cpp backend.
type Config struct {
	ModelPath      string
	DefaultOptions speech.Options
}

// Transcriber wraps a whisper.cpp model instance. Calls are serialized.
type Transcriber struct {
	mu    sync.Mutex
	model whisper.Model
	cfg   Config
}

// New loads the model at cfg.ModelPath.
func New(cfg Config) (*Transcriber, error) {
	path := strings.TrimSpace(cfg.ModelPath)
	if path == "" {
		return nil, errors.New("whisper model path is required")
	}

	model, err := whisper.New(path)
	if err != nil {
		return nil, fmt.Errorf("load whisper model: %w", err)
	}
	return &Transcriber{model: model, cfg: cfg}, nil
}

func (t *Transcriber) Name() string { return "whispercpp" }

// Close releases the underlying model resources.
func (t *Transcriber) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.model != nil {
		_ = t.model.Close()
		t.model = nil
	}
}

// TranscribeFile decodes a WAV clip and recognizes it.
func (t *Transcriber) TranscribeFile(ctx context.Context, path string, opts speech.Options) (*speech.Result, error) {
	samples, rate, err := media.DecodeWAV(path)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, errors.New("empty audio samples")
	}
	return t.process(ctx, media.Resample(samples, rate, int(whisper.SampleRate)), opts)
}

func (t *Transcriber) process(ctx context.Context, samples []float32, override speech.Options) (*speech.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.model == nil {
		return nil, errors.New("transcriber closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wctx, err := t.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("create whisper context: %w", err)
	}

	effective := t.cfg.DefaultOptions.Merge(override)

	threads := effective.Threads
	if !effective.ThreadsSet || threads <= 0 {
		threads = runtime.NumCPU()
	}
	wctx.SetThreads(uint(threads))

	language := "auto"
	if effective.LanguageSet && strings.TrimSpace(effective.Language) != "" {
		language = strings.TrimSpace(effective.Language)
	}
	if err := wctx.SetLanguage(language); err != nil {
		return nil, err
	}
	wctx.SetTranslate(effective.TranslateSet && effective.Translate)
	if effective.InitialPromptSet && effective.InitialPrompt != "" {
		wctx.SetInitialPrompt(effective.InitialPrompt)
	}

	// 编码开始前检查取消
	encoderCb := func() bool {
		return ctx.Err() == nil
	}
	if err := wctx.Process(samples, encoderCb, nil, nil); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	segments := make([]speech.Segment, 0)
	var text strings.Builder
	for {
		seg, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		segments = append(segments, speech.Segment{
			ID:    seg.Num,
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		})
		if text.Len() > 0 {
			text.WriteByte(' ')
		}
		text.WriteString(strings.TrimSpace(seg.Text))
	}

	detected := wctx.DetectedLanguage()
	if detected == "" {
		detected = language
	}
	return &speech.Result{
		Text:     strings.TrimSpace(text.String()),
		Language: detected,
		Duration: time.Duration(float64(len(samples)) / float64(whisper.SampleRate) * float64(time.Second)),
		Segments: segments,
	}, nil
}
