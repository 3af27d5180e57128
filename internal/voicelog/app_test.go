package voicelog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sjzar/voicelog/internal/model"
	"github.com/sjzar/voicelog/internal/voicelog/conf"
)

func newTestApp(t *testing.T, cfg *conf.Manager, opts Options) *App {
	t.Helper()
	opts.SkipIndex = true
	app, err := New(cfg, opts)
	require.NoError(t, err)
	t.Cleanup(app.Close)
	return app
}

func segmentStatus(t *testing.T, app *App, id string) model.SegmentStatus {
	t.Helper()
	seg, err := app.Store.GetSegment(context.Background(), id)
	require.NoError(t, err)
	return seg.Status
}

func queuedCount(t *testing.T, app *App) int {
	t.Helper()
	n, err := app.Store.CountQueuedSegments(context.Background())
	require.NoError(t, err)
	return n
}

func TestStaleRecoveryLeavesActiveProcessAlone(t *testing.T) {
	cfg, err := conf.Load("", map[string]any{"data_dir": t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	server := newTestApp(t, cfg, Options{})
	name, err := server.Artifacts.Seal([]byte("RIFF-not-really-audio"))
	require.NoError(t, err)
	sess := &model.Session{Title: "Recording at 08:00", Filename: name, Format: "wav", Duration: 30}
	require.NoError(t, server.Store.CreateSession(ctx, sess))
	live := &model.Segment{StartTime: 0, EndTime: 10}
	require.NoError(t, server.Store.AppendSegment(ctx, sess.ID, live))
	require.NoError(t, server.Store.UpdateSegmentStatus(ctx, live.ID, model.StatusTranscribing))

	// a second pipeline on the same store, as `voicelog retry` from cron
	retry := newTestApp(t, cfg, Options{})
	require.Equal(t, model.StatusTranscribing, segmentStatus(t, retry, live.ID))
	require.Zero(t, queuedCount(t, retry))

	n, err := retry.Pipeline.RetryQueuedSegments(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	retry.Close()

	// nobody active any more: the segment really was abandoned
	server.Close()
	readOnly := newTestApp(t, cfg, Options{ReadOnly: true})
	require.Equal(t, model.StatusTranscribing, segmentStatus(t, readOnly, live.ID), "read-only commands never recover")
	readOnly.Close()

	next := newTestApp(t, cfg, Options{})
	require.Equal(t, model.StatusError, segmentStatus(t, next, live.ID))
	require.Equal(t, 1, queuedCount(t, next))
}

func TestSkipRecoverStillRegisters(t *testing.T) {
	cfg, err := conf.Load("", map[string]any{"data_dir": t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	importer := newTestApp(t, cfg, Options{SkipRecover: true})
	name, err := importer.Artifacts.Seal([]byte("RIFF-not-really-audio"))
	require.NoError(t, err)
	sess := &model.Session{Title: "Recording at 08:00", Filename: name, Format: "wav", Duration: 30}
	require.NoError(t, importer.Store.CreateSession(ctx, sess))
	live := &model.Segment{StartTime: 0, EndTime: 10}
	require.NoError(t, importer.Store.AppendSegment(ctx, sess.ID, live))
	require.NoError(t, importer.Store.UpdateSegmentStatus(ctx, live.ID, model.StatusTranscribing))

	server := newTestApp(t, cfg, Options{})
	require.Equal(t, model.StatusTranscribing, segmentStatus(t, server, live.ID))
}
