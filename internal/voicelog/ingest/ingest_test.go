package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sjzar/voicelog/internal/errors"
	"github.com/sjzar/voicelog/internal/media"
	"github.com/sjzar/voicelog/internal/model"
)

type fakeStore struct {
	mu       sync.Mutex
	sessions []*model.Session
	failNext error
}

func (f *fakeStore) CreateSession(ctx context.Context, sess *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	sess.ID = "sess-" + string(rune('a'+len(f.sessions)))
	f.sessions = append(f.sessions, sess)
	return nil
}

func (f *fakeStore) CountSessions(ctx context.Context, titleContains string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sessions {
		if strings.Contains(s.Title, titleContains) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) SessionBySourceHash(ctx context.Context, hash string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.SourceHash == hash {
			return s, nil
		}
	}
	return nil, nil
}

type fakeSealer struct {
	mu      sync.Mutex
	sealed  map[string][]byte
	removed []string
}

func (f *fakeSealer) Seal(plaintext []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sealed == nil {
		f.sealed = map[string][]byte{}
	}
	name := "artifact-" + string(rune('0'+len(f.sealed))) + ".enc"
	f.sealed[name] = plaintext
	return name, nil
}

func (f *fakeSealer) Remove(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, name)
	delete(f.sealed, name)
	return nil
}

type fakeEnqueuer struct {
	mu      sync.Mutex
	windows [][2]float64
}

func (f *fakeEnqueuer) EnqueueSegment(ctx context.Context, sessionID string, start, end float64) (*model.Segment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows = append(f.windows, [2]float64{start, end})
	return &model.Segment{SessionID: sessionID, StartTime: start, EndTime: end}, nil
}

func writeRecording(t *testing.T, dir, name string, seconds float64, level float32) string {
	t.Helper()
	samples := make([]float32, int(seconds*8000))
	for i := range samples {
		samples[i] = level
	}
	path := filepath.Join(dir, name)
	require.NoError(t, media.WriteWAV(path, samples, 8000))
	return path
}

func newImporter() (*Importer, *fakeStore, *fakeSealer, *fakeEnqueuer) {
	store, sealer, enq := &fakeStore{}, &fakeSealer{}, &fakeEnqueuer{}
	im := NewImporter(store, sealer, enq)
	im.now = func() time.Time { return time.Date(2026, 3, 1, 9, 15, 0, 0, time.Local) }
	return im, store, sealer, enq
}

func TestImportCreatesSessionAndQueuesWholeRecording(t *testing.T) {
	dir := t.TempDir()
	src := writeRecording(t, dir, "memo.wav", 4, 0.1)
	im, store, sealer, enq := newImporter()

	res, err := im.Import(context.Background(), src, Options{})
	require.NoError(t, err)
	require.False(t, res.Duplicate)
	require.Equal(t, "Recording at 09:15", res.Session.Title)
	require.Equal(t, "wav", res.Session.Format)
	require.InDelta(t, 4.0, res.Session.Duration, 0.01)
	require.NotEmpty(t, res.Session.SourceHash)
	require.Len(t, store.sessions, 1)
	require.Contains(t, sealer.sealed, res.Session.Filename)
	require.Len(t, enq.windows, 1)
	require.Equal(t, 0.0, enq.windows[0][0])
	require.InDelta(t, 4.0, enq.windows[0][1], 0.01)

	_, err = os.Stat(src)
	require.NoError(t, err, "source kept without RemoveSource")
}

func TestImportNumbersRepeatedTitles(t *testing.T) {
	dir := t.TempDir()
	im, _, _, _ := newImporter()

	titles := make([]string, 0, 3)
	for i, level := range []float32{0.1, 0.2, 0.3} {
		src := writeRecording(t, dir, "take"+string(rune('0'+i))+".wav", 1, level)
		res, err := im.Import(context.Background(), src, Options{})
		require.NoError(t, err)
		titles = append(titles, res.Session.Title)
	}
	// only titles containing the base are counted
	require.Equal(t, []string{"Recording at 09:15", "Recording 2 at 09:15", "Recording 2 at 09:15"}, titles)
}

func TestImportDeduplicatesAndRemovesSource(t *testing.T) {
	dir := t.TempDir()
	im, store, _, enq := newImporter()

	first := writeRecording(t, dir, "a.wav", 2, 0.4)
	res, err := im.Import(context.Background(), first, Options{RemoveSource: true, Title: "standup"})
	require.NoError(t, err)
	require.Equal(t, "standup", res.Session.Title)
	_, err = os.Stat(first)
	require.True(t, os.IsNotExist(err))

	again := writeRecording(t, dir, "b.wav", 2, 0.4)
	dup, err := im.Import(context.Background(), again, Options{RemoveSource: true})
	require.NoError(t, err)
	require.True(t, dup.Duplicate)
	require.Equal(t, res.Session.ID, dup.Session.ID)
	require.Len(t, store.sessions, 1)
	require.Len(t, enq.windows, 1)
	_, err = os.Stat(again)
	require.True(t, os.IsNotExist(err))
}

func TestImportRemovesArtifactWhenSessionInsertFails(t *testing.T) {
	im, store, sealer, enq := newImporter()
	store.failNext = errors.Persistence(nil, "disk full")
	src := writeRecording(t, t.TempDir(), "a.wav", 1, 0.2)

	_, err := im.Import(context.Background(), src, Options{})
	require.ErrorIs(t, err, errors.ErrPersistence)
	require.Len(t, sealer.removed, 1)
	require.Empty(t, sealer.sealed)
	require.Empty(t, enq.windows)
}

func TestImportRejectsUnplayableFile(t *testing.T) {
	im, store, _, _ := newImporter()
	path := filepath.Join(t.TempDir(), "broken.wav")
	require.NoError(t, os.WriteFile(path, []byte("nope"), 0o600))

	_, err := im.Import(context.Background(), path, Options{})
	require.ErrorIs(t, err, errors.ErrExport)
	require.Empty(t, store.sessions)
}

func TestImportRejectsCorruptSilk(t *testing.T) {
	im, store, sealer, _ := newImporter()
	dir := t.TempDir()
	path := filepath.Join(dir, "note.silk")
	require.NoError(t, os.WriteFile(path, []byte("not a voice note"), 0o600))

	_, err := im.Import(context.Background(), path, Options{})
	require.ErrorIs(t, err, errors.ErrExport)
	require.Empty(t, store.sessions)
	require.Empty(t, sealer.sealed)

	left, err := filepath.Glob(filepath.Join(dir, ".silk-*"))
	require.NoError(t, err)
	require.Empty(t, left)
}

func TestImportSplitsIntoWindows(t *testing.T) {
	im, _, _, enq := newImporter()
	src := writeRecording(t, t.TempDir(), "long.wav", 25, 0.2)

	res, err := im.Import(context.Background(), src, Options{SegmentSeconds: 10})
	require.NoError(t, err)
	require.Len(t, res.Segments, 3)
	require.Equal(t, [2]float64{0, 10}, enq.windows[0])
	require.Equal(t, [2]float64{10, 20}, enq.windows[1])
	require.InDelta(t, 25, enq.windows[2][1], 0.01)
}

func TestWindows(t *testing.T) {
	require.Equal(t, [][2]float64{{0, 0}}, Windows(0, 10))
	require.Equal(t, [][2]float64{{0, 5}}, Windows(5, 0))
	require.Equal(t, [][2]float64{{0, 5}}, Windows(5, 10))
	require.Equal(t, [][2]float64{{0, 10}, {10, 20}}, Windows(20, 10))
	// 1s tail merges into the previous window
	require.Equal(t, [][2]float64{{0, 10}, {10, 21}}, Windows(21, 10))
	require.Equal(t, [][2]float64{{0, 10}, {10, 20}, {20, 23}}, Windows(23, 10))
}

func TestWatcherImportsSettledFiles(t *testing.T) {
	dir := t.TempDir()
	var (
		mu   sync.Mutex
		seen []string
	)
	w := NewWatcher(dir, 100*time.Millisecond, func(ctx context.Context, path string) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, filepath.Base(path))
		return nil
	})

	existing := writeRecording(t, dir, "before.wav", 1, 0.1)
	require.FileExists(t, existing)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	writeRecording(t, dir, "after.wav", 1, 0.2)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	mu.Lock()
	defer mu.Unlock()
	require.ElementsMatch(t, []string{"before.wav", "after.wav"}, seen)
}
