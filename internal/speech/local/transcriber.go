// Package local runs on-device recognition as the pipeline's fallback path.
package local

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sjzar/voicelog/internal/errors"
	"github.com/sjzar/voicelog/internal/speech"
)

// EngineLoader creates the recognizer on first use.
type EngineLoader func(ctx context.Context) (speech.Engine, error)

// Transcriber gates an Engine behind the permission state machine. A
// not-determined state prompts once; the answer is kept for the process lifetime.
type Transcriber struct {
	mu        sync.Mutex
	state     Permission
	authorize Authorizer
	load      EngineLoader
	engine    speech.Engine
	opts      speech.Options
}

// New builds a Transcriber. load may be nil when no engine is available on this host.
func New(initial Permission, authorize Authorizer, load EngineLoader, opts speech.Options) *Transcriber {
	return &Transcriber{
		state:     initial,
		authorize: authorize,
		load:      load,
		opts:      opts,
	}
}

// Permission returns the current consent state.
func (t *Transcriber) Permission() Permission {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Authorize resolves a not-determined state by prompting, at most once.
func (t *Transcriber) Authorize(ctx context.Context) Permission {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.authorizeLocked(ctx)
}

func (t *Transcriber) authorizeLocked(ctx context.Context) Permission {
	if t.state != PermissionNotDetermined {
		return t.state
	}
	if t.authorize == nil {
		log.Info().Msg("on-device recognition consent not configured, treating as denied")
		t.state = PermissionDenied
		return t.state
	}
	granted, err := t.authorize(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// cancelled prompts stay undecided
			return PermissionNotDetermined
		}
		log.Warn().Err(err).Msg("consent prompt failed")
	}
	if granted {
		t.state = PermissionAuthorized
	} else {
		t.state = PermissionDenied
	}
	log.Info().Str("permission", t.state.String()).Msg("on-device recognition consent recorded")
	return t.state
}

// Available reports whether a call could run right now without prompting.
func (t *Transcriber) Available() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load != nil && t.state == PermissionAuthorized
}

func (t *Transcriber) acquire(ctx context.Context) (speech.Engine, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch state := t.authorizeLocked(ctx); state {
	case PermissionAuthorized:
	case PermissionNotDetermined:
		return nil, errors.FallbackUnavailable(ctx.Err(), "on-device recognition consent pending")
	default:
		return nil, errors.FallbackUnavailable(nil, "on-device recognition %s", state)
	}

	if t.engine != nil {
		return t.engine, nil
	}
	if t.load == nil {
		return nil, errors.FallbackUnavailable(nil, "no on-device recognizer on this host")
	}
	engine, err := t.load(ctx)
	if err != nil {
		return nil, errors.FallbackUnavailable(err, "load on-device recognizer")
	}
	t.engine = engine
	return engine, nil
}

// TranscribeLocally recognizes the file at path and returns the final result text.
func (t *Transcriber) TranscribeLocally(ctx context.Context, path string) (string, error) {
	engine, err := t.acquire(ctx)
	if err != nil {
		return "", err
	}

	res, err := engine.TranscribeFile(ctx, path, t.opts)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", errors.FallbackUnavailable(err, "%s recognition", engine.Name())
	}
	text := ""
	if res != nil {
		text = strings.TrimSpace(res.Text)
	}
	if text == "" {
		return "", errors.FallbackUnavailable(nil, "%s returned no speech", engine.Name())
	}
	return text, nil
}

// Close releases the engine if it was loaded.
func (t *Transcriber) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.engine != nil {
		t.engine.Close()
		t.engine = nil
	}
}
