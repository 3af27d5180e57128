package database

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sjzar/voicelog/internal/errors"
	"github.com/sjzar/voicelog/internal/model"
)

type fakeArtifacts struct {
	mu      sync.Mutex
	removed []string
	err     error
}

func (f *fakeArtifacts) Remove(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, name)
	return f.err
}

func openTestStore(t *testing.T) (*Store, *fakeArtifacts) {
	t.Helper()
	artifacts := &fakeArtifacts{}
	store, err := Open(filepath.Join(t.TempDir(), "test.sqlite"), artifacts)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, artifacts
}

func createSession(t *testing.T, store *Store, title string) *model.Session {
	t.Helper()
	sess := &model.Session{Title: title, Filename: fmt.Sprintf("%s.enc", filepath.Base(t.Name())), Duration: 30}
	require.NoError(t, store.CreateSession(context.Background(), sess))
	return sess
}

func TestCreateAndGetSession(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	sess := createSession(t, store, "Recording at 10:00")
	require.NotEmpty(t, sess.ID)

	got, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, "Recording at 10:00", got.Title)
	require.Equal(t, sess.Filename, got.Filename)
	require.Empty(t, got.Segments)

	_, err = store.GetSession(ctx, "missing")
	require.ErrorIs(t, err, errors.ErrNotFound)
}

func TestAppendSegmentAssignsSeq(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	sess := createSession(t, store, "s")

	for i := 0; i < 3; i++ {
		seg := &model.Segment{StartTime: float64(i * 10), EndTime: float64(i*10 + 10)}
		require.NoError(t, store.AppendSegment(ctx, sess.ID, seg))
		require.Equal(t, i+1, seg.Seq)
		require.Equal(t, sess.Filename, seg.AudioFilename)
		require.Equal(t, model.StatusQueued, seg.Status)
	}

	got, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, got.Segments, 3)
	for i, seg := range got.Segments {
		require.Equal(t, i+1, seg.Seq)
		require.Equal(t, float64(i*10), seg.StartTime)
	}
}

func TestAppendSegmentUnknownSession(t *testing.T) {
	store, _ := openTestStore(t)
	err := store.AppendSegment(context.Background(), "nope", &model.Segment{StartTime: 0, EndTime: 5})
	require.ErrorIs(t, err, errors.ErrNotFound)

	n, err := store.CountSessions(context.Background(), "")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestAppendSegmentRejectsBadWindow(t *testing.T) {
	store, _ := openTestStore(t)
	sess := createSession(t, store, "s")
	err := store.AppendSegment(context.Background(), sess.ID, &model.Segment{StartTime: 5, EndTime: 2})
	require.ErrorIs(t, err, errors.ErrInvalidArg)

	require.NoError(t, store.AppendSegment(context.Background(), sess.ID, &model.Segment{}))
}

func TestStatusTransitions(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	sess := createSession(t, store, "s")
	seg := &model.Segment{StartTime: 0, EndTime: 10}
	require.NoError(t, store.AppendSegment(ctx, sess.ID, seg))

	// queued cannot jump straight to complete
	require.Error(t, store.CompleteSegment(ctx, seg.ID, "hi", model.SourceRemote, 1))

	require.NoError(t, store.UpdateSegmentStatus(ctx, seg.ID, model.StatusTranscribing))
	require.NoError(t, store.CompleteSegment(ctx, seg.ID, "hello world", model.SourceRemote, 1))

	got, err := store.GetSegment(ctx, seg.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusComplete, got.Status)
	require.Equal(t, "hello world", got.Text)
	require.Equal(t, model.SourceRemote, got.Source)

	// complete never regresses
	require.Error(t, store.UpdateSegmentStatus(ctx, seg.ID, model.StatusTranscribing))
	require.Error(t, store.FailSegment(ctx, seg.ID, 0, nil))
}

func TestFailSegmentQueuesAtomically(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	sess := createSession(t, store, "s")
	seg := &model.Segment{StartTime: 0, EndTime: 10}
	require.NoError(t, store.AppendSegment(ctx, sess.ID, seg))
	require.NoError(t, store.UpdateSegmentStatus(ctx, seg.ID, model.StatusTranscribing))

	q := &model.QueuedSegment{SessionID: sess.ID, StartTime: 0, EndTime: 10}
	require.NoError(t, store.FailSegment(ctx, seg.ID, 5, q))

	got, err := store.GetSegment(ctx, seg.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusError, got.Status)
	require.Equal(t, "", got.Text)
	require.Equal(t, 5, got.Attempts)

	queued, err := store.ListQueuedSegments(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	require.Equal(t, sess.ID, queued[0].SessionID)
	require.Equal(t, 10.0, queued[0].EndTime)

	// a failed transition must not leave a queue record behind
	require.Error(t, store.FailSegment(ctx, seg.ID, 1, &model.QueuedSegment{SessionID: sess.ID}))
	n, err := store.CountQueuedSegments(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestDeleteQueuedSegmentOnce(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	q := &model.QueuedSegment{SessionID: "s1", StartTime: 1, EndTime: 4}
	require.NoError(t, store.AddQueuedSegment(ctx, q))

	ok, err := store.DeleteQueuedSegment(ctx, q.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.DeleteQueuedSegment(ctx, q.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteSessionCascades(t *testing.T) {
	store, artifacts := openTestStore(t)
	ctx := context.Background()
	sess := createSession(t, store, "s")
	seg := &model.Segment{StartTime: 0, EndTime: 10}
	require.NoError(t, store.AppendSegment(ctx, sess.ID, seg))

	artifacts.err = fmt.Errorf("disk on fire")
	require.NoError(t, store.DeleteSession(ctx, sess.ID))
	require.Equal(t, []string{sess.Filename}, artifacts.removed)

	_, err := store.GetSegment(ctx, seg.ID)
	require.ErrorIs(t, err, errors.ErrNotFound)
	require.ErrorIs(t, store.DeleteSession(ctx, sess.ID), errors.ErrNotFound)
}

func TestListAndCountByTitle(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	createSession(t, store, "Recording at 09:15")
	createSession(t, store, "Recording 2 at 09:15")
	createSession(t, store, "Standup 100%")

	n, err := store.CountSessions(ctx, "at 09:15")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	list, err := store.ListSessions(ctx, model.SessionFilter{TitleContains: "100%"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "Standup 100%", list[0].Title)

	list, err = store.ListSessions(ctx, model.SessionFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestSegmentsByStatusAndFingerprint(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	sess := createSession(t, store, "s")

	empty, err := store.Fingerprint(ctx)
	require.NoError(t, err)
	require.Equal(t, "", empty)

	seg := &model.Segment{StartTime: 0, EndTime: 10}
	require.NoError(t, store.AppendSegment(ctx, sess.ID, seg))
	require.NoError(t, store.UpdateSegmentStatus(ctx, seg.ID, model.StatusTranscribing))

	stuck, err := store.SegmentsByStatus(ctx, model.StatusTranscribing)
	require.NoError(t, err)
	require.Len(t, stuck, 1)

	require.NoError(t, store.CompleteSegment(ctx, seg.ID, "text", model.SourceFallback, 5))
	fp, err := store.Fingerprint(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, fp)

	counts, err := store.CountSegmentsByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counts["complete"])
}

func TestSessionBySourceHash(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	sess := &model.Session{Title: "t", Filename: "a.enc", SourceHash: "abc123"}
	require.NoError(t, store.CreateSession(ctx, sess))

	found, err := store.SessionBySourceHash(ctx, "abc123")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, sess.ID, found.ID)

	found, err = store.SessionBySourceHash(ctx, "other")
	require.NoError(t, err)
	require.Nil(t, found)
}
