// Package voicelog wires the storage, transcription, search and serving
// components into one application.
package voicelog

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sjzar/voicelog/internal/artifact"
	"github.com/sjzar/voicelog/internal/crypto"
	"github.com/sjzar/voicelog/internal/database"
	"github.com/sjzar/voicelog/internal/datalock"
	"github.com/sjzar/voicelog/internal/index"
	"github.com/sjzar/voicelog/internal/keystore"
	"github.com/sjzar/voicelog/internal/media"
	"github.com/sjzar/voicelog/internal/model"
	"github.com/sjzar/voicelog/internal/speech/local"
	"github.com/sjzar/voicelog/internal/voicelog/conf"
	vhttp "github.com/sjzar/voicelog/internal/voicelog/http"
	"github.com/sjzar/voicelog/internal/voicelog/ingest"
	"github.com/sjzar/voicelog/internal/voicelog/scheduler"
	"github.com/sjzar/voicelog/internal/voicelog/transcription"
)

// Options adjusts how the App is built for a particular command.
type Options struct {
	// Prompt, when set, is used to ask for on-device recognition consent.
	// Without it an undecided consent is treated as denied.
	Prompt      io.Reader
	PromptOut   io.Writer
	SkipIndex   bool
	SkipRecover bool
	// ReadOnly commands never transcribe. They do not register in the data
	// directory and never recover stale segments.
	ReadOnly bool
}

// App owns every long-lived component.
type App struct {
	Config    *conf.Manager
	Secrets   *keystore.Store
	Crypto    *crypto.Store
	Artifacts *artifact.Manager
	Store     *database.Store
	Exporter  *media.Exporter
	Local     *local.Transcriber
	Pipeline  *transcription.Manager
	Index     *index.Service
	Importer  *ingest.Importer

	remote   *switchableRemote
	rawIndex *index.Index
	lock     *datalock.Lock

	closeOnce sync.Once
}

// New builds the App from configuration. The caller must Close it.
func New(cfg *conf.Manager, opts Options) (*App, error) {
	c := cfg.Get()
	a := &App{Config: cfg}

	var err error
	if a.Secrets, err = keystore.Open(filepath.Join(c.DataDir, "secrets")); err != nil {
		return nil, fmt.Errorf("open secret store: %w", err)
	}
	if a.Crypto, err = crypto.New(a.Secrets, crypto.Config{Cipher: c.Crypto.Cipher, KeyName: c.Crypto.KeyName}); err != nil {
		return nil, err
	}
	if a.Artifacts, err = artifact.NewManager(c.DataDir, a.Crypto); err != nil {
		return nil, err
	}
	if n, err := a.Artifacts.CleanTemp(); err != nil {
		log.Warn().Err(err).Msg("failed to clean scratch directory")
	} else if n > 0 {
		log.Info().Int("files", n).Msg("removed leftover plaintext scratch files")
	}
	if a.Store, err = database.Open(database.DefaultDBPath(c.DataDir), a.Artifacts); err != nil {
		return nil, err
	}

	a.Exporter = media.NewExporter(media.Config{
		TempDir:    a.Artifacts.TempDir(),
		MinSeconds: c.Transcription.MinExportSeconds,
		FFmpegPath: c.Transcription.FFmpeg,
	})
	log.Debug().Str("trimmer", a.Exporter.Trimmer().Name()).Msg("segment exporter ready")

	a.Local = newLocal(c, opts)
	a.remote = newSwitchableRemote(NewRemote(c.Speech))
	cfg.OnSpeechChange(func(sc conf.SpeechConfig) {
		a.remote.set(NewRemote(sc))
		log.Info().Str("provider", sc.Provider).Msg("remote transcription provider updated")
	})

	a.Pipeline = transcription.New(transcription.Deps{
		Store:      a.Store,
		Decrypter:  a.Artifacts,
		Exporter:   a.Exporter,
		Remote:     a.remote,
		Local:      a.Local,
		Credential: credentialFunc(cfg, a.Secrets),
	}, transcription.Config{
		Retry:   c.Transcription.RetryPolicy,
		Workers: c.Transcription.Workers,
	})
	a.Importer = ingest.NewImporter(a.Store, a.Artifacts, a.Pipeline)

	if !opts.SkipIndex {
		if a.rawIndex, err = index.Open(filepath.Join(c.DataDir, "index")); err != nil {
			a.Close()
			return nil, err
		}
		a.Index = index.NewService(a.rawIndex, a.Store)
	}

	if !opts.ReadOnly {
		recoverStale := c.Transcription.RecoverStale && !opts.SkipRecover
		lock, sole, err := datalock.Acquire(c.DataDir, func() {
			if !recoverStale {
				return
			}
			if _, err := a.Pipeline.RecoverStale(context.Background()); err != nil {
				log.Warn().Err(err).Msg("failed to recover interrupted segments")
			}
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("register in data directory: %w", err)
		}
		a.lock = lock
		if recoverStale && !sole {
			log.Info().Msg("another voicelog process is active, leaving its segments alone")
		}
	}
	return a, nil
}

func newLocal(c conf.Config, opts Options) *local.Transcriber {
	lc := c.Speech.Local
	var authorize local.Authorizer
	if opts.Prompt != nil && opts.PromptOut != nil {
		authorize = local.TerminalAuthorizer(opts.Prompt, opts.PromptOut)
	}
	loader := local.NewEngineLoader(local.EngineConfig{
		Engine:     lc.Engine,
		Model:      lc.Model,
		ModelDir:   filepath.Join(c.DataDir, "models"),
		ModelURL:   lc.ModelURL,
		PythonPath: lc.Python,
		Defaults:   lc.ToOptions(),
	})
	return local.New(local.ParseConsent(lc.Enabled, lc.Consent), authorize, loader, lc.ToOptions())
}

// ImportFile imports one recording with the configured defaults.
func (a *App) ImportFile(ctx context.Context, path, title string, removeSource bool) (*ingest.Result, error) {
	c := a.Config.Get()
	return a.Importer.Import(ctx, path, ingest.Options{
		Title:          title,
		RemoveSource:   removeSource,
		SegmentSeconds: c.Transcription.SegmentSeconds,
	})
}

// DeleteSession removes the session, its artifact and its search documents.
func (a *App) DeleteSession(ctx context.Context, id string) error {
	if err := a.Store.DeleteSession(ctx, id); err != nil {
		return err
	}
	if a.Index != nil {
		return a.Index.RemoveSession(ctx, id)
	}
	return nil
}

// indexCompleted feeds completed segments to the search index until events closes.
func (a *App) indexCompleted(ctx context.Context, events <-chan transcription.Event) {
	for ev := range events {
		if ev.Status != model.StatusComplete || a.Index == nil {
			continue
		}
		if err := a.Index.IndexSegment(ctx, ev.SegmentID); err != nil {
			log.Warn().Err(err).Str("segment", ev.SegmentID).Msg("failed to index transcript")
		}
	}
}

// WatchIndex starts indexing completed segments in the background. The
// returned func stops it.
func (a *App) WatchIndex(ctx context.Context) func() {
	events, cancel := a.Pipeline.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.indexCompleted(ctx, events)
	}()
	return func() {
		cancel()
		<-done
	}
}

// Serve runs the HTTP API, the retry scheduler and the inbox watcher until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	c := a.Config.Get()

	if a.Index != nil {
		go func() {
			if err := a.Index.Sync(ctx); err != nil {
				log.Warn().Err(err).Msg("search index sync failed")
			}
		}()
	}
	stopIndex := a.WatchIndex(ctx)
	defer stopIndex()

	sched := scheduler.New(a.Pipeline, scheduler.DialProbe(RemoteEndpoint(c.Speech)), c.Scheduler)

	var search vhttp.Searcher
	if a.Index != nil {
		search = a.Index
	}
	svc := vhttp.NewService(c.HTTPAddr, vhttp.Deps{
		Store:           a.Store,
		Pipeline:        a.Pipeline,
		Importer:        a.Importer,
		Search:          search,
		Audio:           a.Artifacts,
		Config:          a.Config,
		UploadDir:       a.Artifacts.TempDir(),
		Online:          sched.Online,
		LocalPermission: func() string { return a.Local.Permission().String() },
	})
	if err := svc.Start(); err != nil {
		return err
	}
	defer svc.Stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		watcher := ingest.NewWatcher(c.Ingest.InboxDir, c.Ingest.Settle, func(ctx context.Context, path string) error {
			_, err := a.ImportFile(ctx, path, "", c.Ingest.RemoveSource)
			return err
		})
		if err := watcher.Run(ctx); err != nil {
			log.Error().Err(err).Msg("inbox watcher stopped")
		}
	}()

	<-ctx.Done()
	wg.Wait()
	return nil
}

// Close stops the pipeline, recording interrupted segments, and releases resources.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.Pipeline != nil {
			a.Pipeline.Close()
		}
		if a.Local != nil {
			a.Local.Close()
		}
		if a.rawIndex != nil {
			if err := a.rawIndex.Close(); err != nil {
				log.Debug().Err(err).Msg("close search index")
			}
		}
		if a.Store != nil {
			if err := a.Store.Close(); err != nil {
				log.Debug().Err(err).Msg("close database")
			}
		}
		// released last so interrupted segments are recorded while still registered
		if err := a.lock.Close(); err != nil {
			log.Debug().Err(err).Msg("release data directory")
		}
	})
}
