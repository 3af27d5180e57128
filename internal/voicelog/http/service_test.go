package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sjzar/voicelog/internal/artifact"
	"github.com/sjzar/voicelog/internal/crypto"
	"github.com/sjzar/voicelog/internal/database"
	"github.com/sjzar/voicelog/internal/errors"
	"github.com/sjzar/voicelog/internal/index"
	"github.com/sjzar/voicelog/internal/keystore"
	"github.com/sjzar/voicelog/internal/media"
	"github.com/sjzar/voicelog/internal/model"
	"github.com/sjzar/voicelog/internal/voicelog/conf"
	"github.com/sjzar/voicelog/internal/voicelog/ingest"
	"github.com/sjzar/voicelog/internal/voicelog/transcription"
)

// fakePipeline appends queued segments to the real store without transcribing them.
type fakePipeline struct {
	store *database.Store

	mu       sync.Mutex
	windows  [][2]float64
	retried  []string
	retryErr error
	passes   int
}

func (f *fakePipeline) EnqueueSegment(ctx context.Context, sessionID string, start, end float64) (*model.Segment, error) {
	if err := model.ValidateWindow(start, end); err != nil {
		return nil, errors.InvalidArg("window")
	}
	seg := &model.Segment{StartTime: start, EndTime: end}
	if err := f.store.AppendSegment(ctx, sessionID, seg); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.windows = append(f.windows, [2]float64{start, end})
	f.mu.Unlock()
	return seg, nil
}

func (f *fakePipeline) ProcessSegment(ctx context.Context, segmentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried = append(f.retried, segmentID)
	return f.retryErr
}

func (f *fakePipeline) RetryQueuedSegments(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passes++
	return 2, nil
}

func (f *fakePipeline) InFlight() int { return 0 }

func (f *fakePipeline) Policy() transcription.RetryPolicy { return transcription.DefaultRetryPolicy() }

type harness struct {
	dir       string
	store     *database.Store
	artifacts *artifact.Manager
	pipeline  *fakePipeline
	search    *index.Service
	svc       *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	secrets, err := keystore.Open(filepath.Join(dir, "secrets"))
	require.NoError(t, err)
	sealer, err := crypto.New(secrets, crypto.Config{})
	require.NoError(t, err)
	artifacts, err := artifact.NewManager(dir, sealer)
	require.NoError(t, err)
	store, err := database.Open(database.DefaultDBPath(dir), artifacts)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	idx, err := index.Open(filepath.Join(dir, "index"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	search := index.NewService(idx, store)

	cfg, err := conf.Load("", map[string]any{"data_dir": dir})
	require.NoError(t, err)

	pipeline := &fakePipeline{store: store}
	svc := NewService("127.0.0.1:0", Deps{
		Store:           store,
		Pipeline:        pipeline,
		Importer:        ingest.NewImporter(store, artifacts, pipeline),
		Search:          search,
		Audio:           artifacts,
		Config:          cfg,
		UploadDir:       artifacts.TempDir(),
		Online:          func() bool { return false },
		LocalPermission: func() string { return "authorized" },
	})
	return &harness{dir: dir, store: store, artifacts: artifacts, pipeline: pipeline, search: search, svc: svc}
}

func (h *harness) do(t *testing.T, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.svc.GetRouter().ServeHTTP(w, req)
	return w
}

func (h *harness) upload(t *testing.T, name string, data []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return h.do(t, http.MethodPost, "/api/v1/sessions", buf.Bytes(), mw.FormDataContentType())
}

func wavBytes(t *testing.T, seconds float64, level float32) []byte {
	t.Helper()
	samples := make([]float32, int(seconds*8000))
	for i := range samples {
		samples[i] = level
	}
	path := filepath.Join(t.TempDir(), "tone.wav")
	require.NoError(t, media.WriteWAV(path, samples, 8000))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type uploadResponse struct {
	Session   model.Session    `json:"session"`
	Segments  []*model.Segment `json:"segments"`
	Duplicate bool             `json:"duplicate"`
}

func (h *harness) completeAll(t *testing.T, sessionID, text string) {
	t.Helper()
	ctx := context.Background()
	sess, err := h.store.GetSession(ctx, sessionID)
	require.NoError(t, err)
	for _, seg := range sess.Segments {
		require.NoError(t, h.store.UpdateSegmentStatus(ctx, seg.ID, model.StatusTranscribing))
		require.NoError(t, h.store.CompleteSegment(ctx, seg.ID, text, model.SourceRemote, 1))
		require.NoError(t, h.search.IndexSegment(ctx, seg.ID))
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, http.MethodGet, "/api/v1/nothing-here", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadListAndDuplicate(t *testing.T) {
	h := newHarness(t)
	audio := wavBytes(t, 25, 0.2)

	w := h.upload(t, "standup.wav", audio, map[string]string{"title": "Standup", "segment_seconds": "10"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[uploadResponse](t, w)
	require.Equal(t, "Standup", res.Session.Title)
	require.Equal(t, "wav", res.Session.Format)
	require.Len(t, res.Segments, 3)
	require.Len(t, h.pipeline.windows, 3)
	require.True(t, h.artifacts.Exists(res.Session.Filename))

	entries, err := os.ReadDir(h.artifacts.TempDir())
	require.NoError(t, err)
	require.Empty(t, entries, "uploaded plaintext is removed")

	w = h.upload(t, "again.wav", audio, nil)
	require.Equal(t, http.StatusOK, w.Code)
	dup := decode[uploadResponse](t, w)
	require.True(t, dup.Duplicate)
	require.Equal(t, res.Session.ID, dup.Session.ID)

	w = h.upload(t, "notes.txt", []byte("hello"), nil)
	require.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	w = h.do(t, http.MethodGet, "/api/v1/sessions?title=stand", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Total    int              `json:"total"`
		Sessions []*model.Session `json:"sessions"`
	}](t, w)
	require.Equal(t, 1, list.Total)
	require.Len(t, list.Sessions, 1)

	w = h.do(t, http.MethodGet, "/api/v1/sessions?title=nomatch", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"sessions":[]`)
}

func TestSessionTranscriptAudioAndDelete(t *testing.T) {
	h := newHarness(t)
	audio := wavBytes(t, 3, 0.3)
	res := decode[uploadResponse](t, h.upload(t, "memo.wav", audio, map[string]string{"title": "Memo"}))
	h.completeAll(t, res.Session.ID, "buy more coffee")

	w := h.do(t, http.MethodGet, "/api/v1/sessions/"+res.Session.ID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[struct {
		Session    model.Session  `json:"session"`
		Transcript string         `json:"transcript"`
		Counts     map[string]int `json:"counts"`
	}](t, w)
	require.Equal(t, "buy more coffee", got.Transcript)
	require.Equal(t, 1, got.Counts["complete"])

	w = h.do(t, http.MethodGet, "/api/v1/sessions/"+res.Session.ID+"/transcript", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "# Memo\n\n[0:00-0:03] buy more coffee\n", w.Body.String())

	w = h.do(t, http.MethodGet, "/api/v1/sessions/"+res.Session.ID+"/audio", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "audio/wav", w.Header().Get("Content-Type"))
	require.Equal(t, audio, w.Body.Bytes())

	w = h.do(t, http.MethodGet, "/api/v1/sessions/"+res.Session.ID+"/audio?format=mp3", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Body.Bytes())

	w = h.do(t, http.MethodGet, "/api/v1/search?q=coffee", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, decode[model.SearchResponse](t, w).Total)

	w = h.do(t, http.MethodDelete, "/api/v1/sessions/"+res.Session.ID, nil, "")
	require.Equal(t, http.StatusNoContent, w.Code)
	require.False(t, h.artifacts.Exists(res.Session.Filename))

	w = h.do(t, http.MethodGet, "/api/v1/sessions/"+res.Session.ID, nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), `"kind":"not_found"`)

	w = h.do(t, http.MethodGet, "/api/v1/search?q=coffee", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Zero(t, decode[model.SearchResponse](t, w).Total)
}

func TestEnqueueAndRetryEndpoints(t *testing.T) {
	h := newHarness(t)
	res := decode[uploadResponse](t, h.upload(t, "memo.wav", wavBytes(t, 60, 0.1), nil))

	w := h.do(t, http.MethodPost, "/api/v1/sessions/"+res.Session.ID+"/segments", []byte(`{"start":10,"end":20}`), "application/json")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	seg := decode[model.Segment](t, w)
	require.Equal(t, 2, seg.Seq)

	w = h.do(t, http.MethodPost, "/api/v1/sessions/"+res.Session.ID+"/segments", []byte(`{"start":20,"end":10}`), "application/json")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodPost, "/api/v1/sessions/missing/segments", []byte(`{"start":0,"end":10}`), "application/json")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(t, http.MethodPost, "/api/v1/segments/"+seg.ID+"/retry", nil, "")
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, []string{seg.ID}, h.pipeline.retried)

	h.pipeline.retryErr = errors.Conflict("segment is complete")
	w = h.do(t, http.MethodPost, "/api/v1/segments/"+seg.ID+"/retry", nil, "")
	require.Equal(t, http.StatusConflict, w.Code)

	w = h.do(t, http.MethodPost, "/api/v1/retry", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"dispatched":2}`, w.Body.String())
}

func TestQueueAndStatus(t *testing.T) {
	h := newHarness(t)
	res := decode[uploadResponse](t, h.upload(t, "memo.wav", wavBytes(t, 4, 0.1), nil))
	ctx := context.Background()
	require.NoError(t, h.store.AddQueuedSegment(ctx, &model.QueuedSegment{SessionID: res.Session.ID, StartTime: 0, EndTime: 4}))

	w := h.do(t, http.MethodGet, "/api/v1/queue", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	q := decode[struct {
		Total  int                    `json:"total"`
		Queued []*model.QueuedSegment `json:"queued"`
	}](t, w)
	require.Equal(t, 1, q.Total)
	require.Equal(t, res.Session.ID, q.Queued[0].SessionID)

	w = h.do(t, http.MethodGet, "/api/v1/status", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[Status](t, w)
	require.Equal(t, 1, st.Queued)
	require.Equal(t, 1, st.Segments["queued"])
	require.False(t, st.Online)
	require.Equal(t, "authorized", st.LocalPermission)
	require.Equal(t, conf.ProviderDeepgram, st.Provider)
	require.Equal(t, 5, st.MaxAttempts)
	require.NotNil(t, st.Disk)
	require.Equal(t, h.dir, st.Disk.Path)
	require.NotNil(t, st.Index)
}

func TestSearchRequiresQuery(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/api/v1/search?q=%20", nil, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSpeechConfigEndpoints(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPut, "/api/v1/config/speech", []byte(`{"provider":"openai","api_key":"sk-1","local":{"threads":2}}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[conf.SpeechConfig](t, w)
	require.Equal(t, conf.ProviderOpenAI, got.Provider)
	require.Equal(t, 2, got.Local.Threads)
	require.Equal(t, "********", got.APIKey)

	w = h.do(t, http.MethodGet, "/api/v1/config/speech", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.False(t, strings.Contains(w.Body.String(), "sk-1"))

	w = h.do(t, http.MethodPut, "/api/v1/config/speech", []byte(`{"bogus":true}`), "application/json")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodPut, "/api/v1/config/speech", []byte(`not json`), "application/json")
	require.Equal(t, http.StatusBadRequest, w.Code)
}
