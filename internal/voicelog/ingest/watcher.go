package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/sjzar/voicelog/internal/media"
)

// DefaultSettle is how long a file must stay unchanged before it is imported.
const DefaultSettle = 3 * time.Second

// ImportFunc is called for every settled audio file in the inbox.
type ImportFunc func(ctx context.Context, path string) error

// Watcher imports audio files dropped into an inbox directory once they stop
// changing. Files already present when it starts are picked up too.
type Watcher struct {
	dir    string
	settle time.Duration
	handle ImportFunc

	mu      sync.Mutex
	pending map[string]fileState
}

type fileState struct {
	size    int64
	mod     time.Time
	changed time.Time
}

func NewWatcher(dir string, settle time.Duration, handle ImportFunc) *Watcher {
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &Watcher{dir: dir, settle: settle, handle: handle, pending: make(map[string]fileState)}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return err
	}
	log.Info().Str("dir", w.dir).Dur("settle", w.settle).Msg("watching inbox")

	entries, err := os.ReadDir(w.dir)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				w.touch(filepath.Join(w.dir, e.Name()))
			}
		}
	}

	tick := time.NewTicker(w.settle / 2)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				w.touch(ev.Name)
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				w.forget(ev.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Str("dir", w.dir).Msg("inbox watcher error")
		case now := <-tick.C:
			for _, path := range w.settled(now) {
				if err := w.handle(ctx, path); err != nil {
					log.Error().Err(err).Str("path", path).Msg("inbox import failed")
				}
			}
		}
	}
}

func (w *Watcher) touch(path string) {
	if !media.IsAudioFile(path) || strings.HasPrefix(filepath.Base(path), ".") {
		return
	}
	st, err := os.Stat(path)
	if err != nil || st.IsDir() {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	prev, ok := w.pending[path]
	if ok && prev.size == st.Size() && prev.mod.Equal(st.ModTime()) {
		return
	}
	w.pending[path] = fileState{size: st.Size(), mod: st.ModTime(), changed: time.Now()}
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	w.mu.Unlock()
}

// settled returns the files unchanged for the settle period and stops tracking them.
func (w *Watcher) settled(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var ready []string
	for path, state := range w.pending {
		st, err := os.Stat(path)
		if err != nil {
			delete(w.pending, path)
			continue
		}
		if st.Size() != state.size || !st.ModTime().Equal(state.mod) {
			w.pending[path] = fileState{size: st.Size(), mod: st.ModTime(), changed: now}
			continue
		}
		if st.Size() > 0 && now.Sub(state.changed) >= w.settle {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	return ready
}
