// Package transcription drives segments through decrypt, export, remote
// transcription with backoff, on-device fallback and offline re-queueing.
package transcription

import (
	"context"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sjzar/voicelog/internal/errors"
	"github.com/sjzar/voicelog/internal/media"
	"github.com/sjzar/voicelog/internal/model"
	"github.com/sjzar/voicelog/internal/speech"
)

// Store is the persistence the pipeline needs.
type Store interface {
	GetSession(ctx context.Context, id string) (*model.Session, error)
	GetSegment(ctx context.Context, id string) (*model.Segment, error)
	AppendSegment(ctx context.Context, sessionID string, seg *model.Segment) error
	UpdateSegmentStatus(ctx context.Context, id string, status model.SegmentStatus) error
	CompleteSegment(ctx context.Context, id, text string, source model.TextSource, attempts int) error
	FailSegment(ctx context.Context, id string, attempts int, queue *model.QueuedSegment) error
	SegmentsByStatus(ctx context.Context, status model.SegmentStatus) ([]*model.Segment, error)
	AddQueuedSegment(ctx context.Context, q *model.QueuedSegment) error
	ListQueuedSegments(ctx context.Context) ([]*model.QueuedSegment, error)
	DeleteQueuedSegment(ctx context.Context, id string) (bool, error)
	DeleteQueuedForWindow(ctx context.Context, w model.Window) (int, error)
}

// Decrypter writes a session artifact's plaintext to a private temp file.
type Decrypter interface {
	DecryptToTemp(name, ext string) (string, error)
}

// Exporter cuts the [start,end) window out of a plaintext recording.
type Exporter interface {
	Export(ctx context.Context, src string, start, end float64) (media.Export, error)
}

// CredentialFunc returns the remote credential, or "" when none is configured.
type CredentialFunc func(ctx context.Context) string

// Deps are the collaborators of a Manager. Remote and Local may be nil.
type Deps struct {
	Store      Store
	Decrypter  Decrypter
	Exporter   Exporter
	Remote     speech.RemoteTranscriber
	Local      speech.LocalTranscriber
	Credential CredentialFunc
}

// Config tunes the pipeline.
type Config struct {
	Retry   RetryPolicy `mapstructure:",squash"`
	Workers int         `mapstructure:"workers"`
}

// Option overrides runtime hooks, mostly for tests.
type Option func(*Manager)

// WithSleeper replaces the backoff sleep.
func WithSleeper(s Sleeper) Option {
	return func(m *Manager) { m.sleep = s }
}

// WithRand replaces the jitter source. nil disables jitter.
func WithRand(r func() float64) Option {
	return func(m *Manager) { m.rand = r }
}

// WithClock replaces the event clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

const persistAttempts = 3

var errClosed = errors.New(errors.KindInternal, http.StatusServiceUnavailable, nil, "transcription manager is closed")

// Manager owns the segment state machine. At most one attempt per
// (session, start, end) window runs at a time.
type Manager struct {
	deps   Deps
	policy RetryPolicy
	sleep  Sleeper
	rand   func() float64
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	slots  chan struct{}

	mu       sync.Mutex
	inflight map[model.Window]struct{}
	closed   bool

	subsMu  sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

func New(deps Deps, cfg Config, opts ...Option) *Manager {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		deps:     deps,
		policy:   cfg.Retry.normalized(),
		sleep:    sleepContext,
		rand:     defaultRand(),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		slots:    make(chan struct{}, workers),
		inflight: make(map[model.Window]struct{}),
		subs:     make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Policy returns the effective retry policy.
func (m *Manager) Policy() RetryPolicy {
	return m.policy
}

// InFlight returns the number of windows currently being processed.
func (m *Manager) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

// claim reserves w for one attempt. Every successful claim is paired with finish.
func (m *Manager) claim(w model.Window) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	if _, busy := m.inflight[w]; busy {
		return errors.Conflict("an attempt for %s is already in flight", w)
	}
	m.inflight[w] = struct{}{}
	m.wg.Add(1)
	return nil
}

func (m *Manager) finish(w model.Window) {
	m.mu.Lock()
	delete(m.inflight, w)
	m.mu.Unlock()
	m.wg.Done()
}

// EnqueueSegment creates a queued segment for [start,end) of the session and
// dispatches it. It returns once the segment is transcribing; the outcome is
// observed through the store or Subscribe.
func (m *Manager) EnqueueSegment(ctx context.Context, sessionID string, start, end float64) (*model.Segment, error) {
	if err := model.ValidateWindow(start, end); err != nil {
		return nil, errors.New(errors.KindInvalidArg, http.StatusBadRequest, err, "enqueue segment")
	}
	sess, err := m.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return m.enqueue(ctx, sess, start, end)
}

func (m *Manager) enqueue(ctx context.Context, sess *model.Session, start, end float64) (*model.Segment, error) {
	w := model.Window{SessionID: sess.ID, StartTime: start, EndTime: end}
	if err := m.claim(w); err != nil {
		return nil, err
	}
	seg := &model.Segment{StartTime: start, EndTime: end}
	if err := m.deps.Store.AppendSegment(ctx, sess.ID, seg); err != nil {
		m.finish(w)
		return nil, err
	}
	m.publish(segmentEvent(seg, nil))
	if err := m.dispatch(ctx, sess, seg); err != nil {
		return seg, err
	}
	return seg, nil
}

// ProcessSegment re-runs an existing queued or error segment. Offline
// records for the same window are consumed by the dispatch.
func (m *Manager) ProcessSegment(ctx context.Context, segmentID string) error {
	seg, err := m.deps.Store.GetSegment(ctx, segmentID)
	if err != nil {
		return err
	}
	if !seg.Status.CanTransition(model.StatusTranscribing) {
		return errors.Conflict("segment %s is %s", seg.ID, seg.Status)
	}
	sess, err := m.deps.Store.GetSession(ctx, seg.SessionID)
	if err != nil {
		return err
	}
	if err := m.claim(seg.Window()); err != nil {
		return err
	}
	if n, err := m.deps.Store.DeleteQueuedForWindow(ctx, seg.Window()); err != nil {
		log.Warn().Err(err).Str("segment", seg.ID).Msg("failed to consume queued records")
	} else if n > 0 {
		log.Debug().Str("segment", seg.ID).Int("records", n).Msg("consumed queued records")
	}
	return m.dispatch(ctx, sess, seg)
}

// dispatch moves a claimed segment to transcribing and starts its task.
// The claim is released when the task ends, or here on error.
func (m *Manager) dispatch(ctx context.Context, sess *model.Session, seg *model.Segment) error {
	if err := m.deps.Store.UpdateSegmentStatus(ctx, seg.ID, model.StatusTranscribing); err != nil {
		m.finish(seg.Window())
		return err
	}
	seg.Status = model.StatusTranscribing
	m.publish(segmentEvent(seg, nil))

	task := *seg
	go func() {
		defer m.finish(task.Window())
		m.run(sess, &task)
	}()
	return nil
}

func (m *Manager) run(sess *model.Session, seg *model.Segment) {
	ctx := m.ctx
	logger := log.With().Str("segment", seg.ID).Str("session", seg.SessionID).
		Float64("start", seg.StartTime).Float64("end", seg.EndTime).Logger()

	select {
	case m.slots <- struct{}{}:
		defer func() { <-m.slots }()
	case <-ctx.Done():
		m.fail(seg, 0, ctx.Err(), logger)
		return
	}

	text, source, attempts, err := m.transcribe(ctx, sess, seg, logger)
	if err != nil {
		m.fail(seg, attempts, err, logger)
		return
	}
	m.complete(seg, text, source, attempts, logger)
}

// transcribe runs decrypt, export, remote with backoff and fallback. All
// plaintext files it creates are gone when it returns.
func (m *Manager) transcribe(ctx context.Context, sess *model.Session, seg *model.Segment, logger zerolog.Logger) (string, model.TextSource, int, error) {
	plain, err := m.deps.Decrypter.DecryptToTemp(seg.AudioFilename, sess.Ext())
	if err != nil {
		if errors.KindOf(err) != errors.KindCrypto {
			err = errors.Crypto(err, "decrypt artifact %s", seg.AudioFilename)
		}
		return "", model.SourceNone, 0, err
	}
	defer removeTemp(plain)

	clip, err := m.deps.Exporter.Export(ctx, plain, seg.StartTime, seg.EndTime)
	if err != nil {
		return "", model.SourceNone, 0, err
	}
	defer clip.Cleanup()

	text, attempts, remoteErr := m.transcribeRemote(ctx, clip.Path, logger)
	if remoteErr == nil {
		return text, model.SourceRemote, attempts, nil
	}
	if ctx.Err() != nil {
		return "", model.SourceNone, attempts, ctx.Err()
	}
	logger.Warn().Err(remoteErr).Int("attempts", attempts).Msg("remote transcription unavailable, trying on-device fallback")

	if m.deps.Local == nil {
		return "", model.SourceNone, attempts, errors.FallbackUnavailable(nil, "no on-device recognizer configured")
	}
	text, err = m.deps.Local.TranscribeLocally(ctx, clip.Path)
	if err != nil {
		return "", model.SourceNone, attempts, err
	}
	return text, model.SourceFallback, attempts, nil
}

// transcribeRemote tries the remote client up to MaxAttempts times. Without
// a credential it makes no call at all.
func (m *Manager) transcribeRemote(ctx context.Context, path string, logger zerolog.Logger) (string, int, error) {
	credential := ""
	if m.deps.Credential != nil {
		credential = strings.TrimSpace(m.deps.Credential(ctx))
	}
	if m.deps.Remote == nil || credential == "" {
		return "", 0, errors.Remote(nil, "no remote credential configured")
	}

	var lastErr error
	for attempt := 1; attempt <= m.policy.MaxAttempts; attempt++ {
		text, err := m.deps.Remote.Transcribe(ctx, path, credential)
		if err == nil && strings.TrimSpace(text) == "" {
			err = errors.Remote(nil, "empty transcript")
		}
		if err == nil {
			return strings.TrimSpace(text), attempt, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", attempt, ctx.Err()
		}
		if attempt == m.policy.MaxAttempts {
			break
		}
		delay := m.policy.Delay(attempt, m.rand)
		logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Str("remote", m.deps.Remote.Name()).Msg("remote transcription failed, backing off")
		if err := m.sleep(ctx, delay); err != nil {
			return "", attempt, err
		}
	}
	return "", m.policy.MaxAttempts, lastErr
}

func (m *Manager) complete(seg *model.Segment, text string, source model.TextSource, attempts int, logger zerolog.Logger) {
	err := m.persist(func(ctx context.Context) error {
		return m.deps.Store.CompleteSegment(ctx, seg.ID, text, source, attempts)
	})
	if err != nil {
		// left in transcribing; RecoverStale demotes it on the next start
		logger.Error().Err(err).Msg("failed to persist transcript")
		return
	}
	seg.Status = model.StatusComplete
	seg.Text = text
	seg.Source = source
	seg.Attempts = attempts
	logger.Info().Str("source", string(source)).Int("attempts", attempts).Msg("segment transcribed")
	m.publish(segmentEvent(seg, nil))
}

// fail marks the segment error and records the offline retry entry.
func (m *Manager) fail(seg *model.Segment, attempts int, cause error, logger zerolog.Logger) {
	record := &model.QueuedSegment{SessionID: seg.SessionID, StartTime: seg.StartTime, EndTime: seg.EndTime}
	err := m.persist(func(ctx context.Context) error {
		return m.deps.Store.FailSegment(ctx, seg.ID, attempts, record)
	})
	if errors.Is(err, errors.ErrNotFound) {
		logger.Info().Err(cause).Msg("segment failed after its session was deleted")
		return
	}
	if err != nil {
		logger.Error().Err(err).AnErr("cause", cause).Msg("failed to persist segment failure")
		return
	}
	seg.Status = model.StatusError
	seg.Attempts = attempts
	logger.Warn().Err(cause).Str("kind", string(errors.KindOf(cause))).Str("queued", record.ID).Msg("segment failed, queued for offline retry")
	m.publish(segmentEvent(seg, cause))
}

// persist runs a store mutation detached from shutdown, retrying persistence failures.
func (m *Manager) persist(fn func(ctx context.Context) error) error {
	var err error
	for i := 0; i < persistAttempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = fn(ctx)
		cancel()
		if err == nil || !errors.Is(err, errors.ErrPersistence) {
			return err
		}
		time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
	}
	return err
}

// RetryQueuedSegments re-dispatches every offline record as a fresh segment.
// Each record is deleted as it is dispatched, before the outcome is known; a
// record whose session is gone is dropped. It returns the number dispatched.
func (m *Manager) RetryQueuedSegments(ctx context.Context) (int, error) {
	records, err := m.deps.Store.ListQueuedSegments(ctx)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	dispatched := 0
	for _, q := range records {
		if err := ctx.Err(); err != nil {
			return dispatched, err
		}
		deleted, err := m.deps.Store.DeleteQueuedSegment(ctx, q.ID)
		if err != nil {
			log.Error().Err(err).Str("queued", q.ID).Msg("failed to consume queued segment")
			continue
		}
		if !deleted {
			// another trigger took it
			continue
		}

		logger := log.With().Str("queued", q.ID).Str("session", q.SessionID).Logger()
		sess, err := m.deps.Store.GetSession(ctx, q.SessionID)
		if errors.Is(err, errors.ErrNotFound) {
			logger.Info().Msg("dropping queued segment of a deleted session")
			continue
		}
		if err != nil {
			logger.Error().Err(err).Msg("failed to resolve queued segment")
			m.requeue(q)
			continue
		}

		seg, err := m.enqueue(ctx, sess, q.StartTime, q.EndTime)
		switch {
		case err == nil:
			dispatched++
			logger.Info().Str("segment", seg.ID).Msg("queued segment dispatched")
		case errors.Is(err, errors.ErrConflict):
			logger.Info().Msg("window already in flight, dropping duplicate record")
		case err == errClosed:
			m.requeue(q)
			return dispatched, err
		default:
			logger.Error().Err(err).Msg("failed to dispatch queued segment")
			m.requeue(q)
		}
	}
	return dispatched, nil
}

func (m *Manager) requeue(q *model.QueuedSegment) {
	record := &model.QueuedSegment{SessionID: q.SessionID, StartTime: q.StartTime, EndTime: q.EndTime}
	if err := m.persist(func(ctx context.Context) error {
		return m.deps.Store.AddQueuedSegment(ctx, record)
	}); err != nil {
		log.Error().Err(err).Str("session", q.SessionID).Msg("failed to restore queued segment")
	}
}

// Recovery counts the segments touched by RecoverStale.
type Recovery struct {
	Demoted int `json:"demoted"`
	Resumed int `json:"resumed"`
}

// RecoverStale handles segments interrupted by a previous crash: transcribing
// segments not in flight become error with an offline record, and queued
// segments that were never dispatched are dispatched now.
func (m *Manager) RecoverStale(ctx context.Context) (Recovery, error) {
	var rec Recovery

	stuck, err := m.deps.Store.SegmentsByStatus(ctx, model.StatusTranscribing)
	if err != nil {
		return rec, err
	}
	for _, seg := range stuck {
		if m.isInFlight(seg.Window()) {
			continue
		}
		record := &model.QueuedSegment{SessionID: seg.SessionID, StartTime: seg.StartTime, EndTime: seg.EndTime}
		if err := m.deps.Store.FailSegment(ctx, seg.ID, seg.Attempts, record); err != nil {
			log.Error().Err(err).Str("segment", seg.ID).Msg("failed to demote stale segment")
			continue
		}
		rec.Demoted++
		seg.Status = model.StatusError
		m.publish(segmentEvent(seg, errors.New(errors.KindInternal, http.StatusInternalServerError, nil, "interrupted before completion")))
	}

	pending, err := m.deps.Store.SegmentsByStatus(ctx, model.StatusQueued)
	if err != nil {
		return rec, err
	}
	for _, seg := range pending {
		if err := m.ProcessSegment(ctx, seg.ID); err != nil {
			log.Warn().Err(err).Str("segment", seg.ID).Msg("failed to resume queued segment")
			continue
		}
		rec.Resumed++
	}

	if rec.Demoted > 0 || rec.Resumed > 0 {
		log.Info().Int("demoted", rec.Demoted).Int("resumed", rec.Resumed).Msg("recovered interrupted segments")
	}
	return rec, nil
}

func (m *Manager) isInFlight(w model.Window) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.inflight[w]
	return ok
}

// Wait blocks until every dispatched segment has reached a terminal state.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close cancels in-flight work, waits for it to record its outcome and
// closes subscriber channels.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	m.closeSubscribers()
}

func segmentEvent(seg *model.Segment, err error) Event {
	e := Event{
		SegmentID: seg.ID,
		SessionID: seg.SessionID,
		Status:    seg.Status,
		Text:      seg.Text,
		Source:    seg.Source,
		StartTime: seg.StartTime,
		EndTime:   seg.EndTime,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

func removeTemp(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", path).Msg("failed to remove plaintext temp file")
	}
}
