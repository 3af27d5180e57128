// Package ingest turns plaintext recordings into encrypted sessions and
// queues their segments for transcription.
package ingest

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash"
	"github.com/rs/zerolog/log"

	"github.com/sjzar/voicelog/internal/errors"
	"github.com/sjzar/voicelog/internal/media"
	"github.com/sjzar/voicelog/internal/model"
	"github.com/sjzar/voicelog/pkg/util/silk"
)

// Store is the session persistence used by Import.
type Store interface {
	CreateSession(ctx context.Context, sess *model.Session) error
	CountSessions(ctx context.Context, titleContains string) (int, error)
	SessionBySourceHash(ctx context.Context, hash string) (*model.Session, error)
}

// Sealer stores plaintext as an encrypted artifact.
type Sealer interface {
	Seal(plaintext []byte) (string, error)
	Remove(name string) error
}

// Enqueuer starts transcription of a session window.
type Enqueuer interface {
	EnqueueSegment(ctx context.Context, sessionID string, start, end float64) (*model.Segment, error)
}

// Options controls one import.
type Options struct {
	// Title overrides the generated "Recording at HH:MM" title.
	Title string
	// RemoveSource deletes the plaintext file once the artifact is written.
	RemoveSource bool
	// SegmentSeconds splits the recording into fixed windows; 0 keeps one segment.
	SegmentSeconds float64
}

// Importer implements Import.
type Importer struct {
	store    Store
	sealer   Sealer
	enqueuer Enqueuer
	now      func() time.Time
}

func NewImporter(store Store, sealer Sealer, enqueuer Enqueuer) *Importer {
	return &Importer{store: store, sealer: sealer, enqueuer: enqueuer, now: time.Now}
}

// Result describes an import. Duplicate is set when identical audio was
// already imported; Session is then the existing one and nothing is queued.
type Result struct {
	Session   *model.Session
	Segments  []*model.Segment
	Duplicate bool
}

// Import encrypts the recording at path into a new session and enqueues its segments.
func (im *Importer) Import(ctx context.Context, path string, opts Options) (*Result, error) {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	var info media.Info
	var err error
	if format != "silk" {
		if info, err = media.Probe(path); err != nil {
			return nil, err
		}
	}
	plain, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.KindInvalidArg, http.StatusBadRequest, err, "read %s", filepath.Base(path))
	}
	hash := fmt.Sprintf("%016x", xxhash.Sum64(plain))

	existing, err := im.store.SessionBySourceHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		log.Info().Str("session", existing.ID).Str("file", filepath.Base(path)).Msg("recording already imported")
		im.removeSource(path, opts)
		return &Result{Session: existing, Duplicate: true}, nil
	}

	if format == "silk" {
		if plain, info, err = transcodeSilk(path, plain); err != nil {
			return nil, err
		}
		format = info.Format
	}

	name, err := im.sealer.Seal(plain)
	if err != nil {
		if errors.KindOf(err) != errors.KindCrypto {
			err = errors.Crypto(err, "seal %s", filepath.Base(path))
		}
		return nil, err
	}

	title := strings.TrimSpace(opts.Title)
	if title == "" {
		if title, err = im.nextTitle(ctx); err != nil {
			_ = im.sealer.Remove(name)
			return nil, err
		}
	}

	sess := &model.Session{
		Title:      title,
		Filename:   name,
		Format:     format,
		Duration:   info.Duration,
		SourceHash: hash,
	}
	if err := im.store.CreateSession(ctx, sess); err != nil {
		_ = im.sealer.Remove(name)
		return nil, err
	}
	im.removeSource(path, opts)

	res := &Result{Session: sess}
	var firstErr error
	for _, w := range Windows(info.Duration, opts.SegmentSeconds) {
		seg, err := im.enqueuer.EnqueueSegment(ctx, sess.ID, w[0], w[1])
		if err != nil {
			log.Error().Err(err).Str("session", sess.ID).Float64("start", w[0]).Float64("end", w[1]).Msg("failed to enqueue segment")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		res.Segments = append(res.Segments, seg)
	}
	log.Info().Str("session", sess.ID).Str("title", sess.Title).Float64("duration", sess.Duration).
		Int("segments", len(res.Segments)).Msg("recording imported")
	return res, firstErr
}

// transcodeSilk decodes a SILK voice note into WAV bytes. The scratch file
// sits next to the source as a dotfile so the inbox watcher ignores it.
func transcodeSilk(path string, data []byte) ([]byte, media.Info, error) {
	pcm, rate, err := silk.Decode(data)
	if err != nil {
		return nil, media.Info{}, errors.Export(err, "decode %s", filepath.Base(path))
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".silk-*.wav")
	if err != nil {
		return nil, media.Info{}, errors.Export(err, "transcode %s", filepath.Base(path))
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	if err := media.WriteWAV(tmp.Name(), media.Int16ToFloat32(pcm), rate); err != nil {
		return nil, media.Info{}, errors.Export(err, "transcode %s", filepath.Base(path))
	}
	info, err := media.Probe(tmp.Name())
	if err != nil {
		return nil, media.Info{}, err
	}
	wav, err := os.ReadFile(tmp.Name())
	if err != nil {
		return nil, media.Info{}, errors.Export(err, "transcode %s", filepath.Base(path))
	}
	return wav, info, nil
}

func (im *Importer) removeSource(path string, opts Options) {
	if !opts.RemoveSource {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", path).Msg("failed to remove imported source")
	}
}

// nextTitle returns "Recording at HH:MM", numbered when that title is taken.
func (im *Importer) nextTitle(ctx context.Context) (string, error) {
	clock := im.now().Format("15:04")
	base := "Recording at " + clock
	n, err := im.store.CountSessions(ctx, base)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return base, nil
	}
	return fmt.Sprintf("Recording %d at %s", n+1, clock), nil
}

// Windows splits a recording of duration seconds into [start,end) windows of
// size seconds. A tail shorter than media.MinExportSeconds joins the previous
// window. Unknown durations and size <= 0 give a single window; a single
// window with unknown duration is the whole-file sentinel [0,0).
func Windows(duration, size float64) [][2]float64 {
	if duration <= 0 {
		return [][2]float64{{0, 0}}
	}
	if size <= 0 || size >= duration {
		return [][2]float64{{0, duration}}
	}

	n := int(math.Ceil(duration / size))
	out := make([][2]float64, 0, n)
	for start := 0.0; start < duration; start += size {
		end := math.Min(start+size, duration)
		if end-start < media.MinExportSeconds && len(out) > 0 {
			out[len(out)-1][1] = end
			break
		}
		out = append(out, [2]float64{start, end})
	}
	return out
}
