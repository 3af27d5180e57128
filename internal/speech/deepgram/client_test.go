package deepgram

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjzar/voicelog/internal/errors"
)

func writeClip(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF....WAVE"), 0o600))
	return path
}

func TestTranscribeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Token secret", r.Header.Get("Authorization"))
		assert.Equal(t, "audio/wav", r.Header.Get("Content-Type"))
		assert.Equal(t, "nova-2", r.URL.Query().Get("model"))
		assert.Equal(t, "true", r.URL.Query().Get("smart_format"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "RIFF....WAVE", string(body))
		io.WriteString(w, `{"results":{"channels":[{"alternatives":[{"transcript":"hello world"}]}]}}`)
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, Model: "nova-2", SmartFormat: true}, srv.Client())
	text, err := c.Transcribe(context.Background(), writeClip(t), "secret")
	require.NoError(t, err)
	require.Equal(t, "hello world", text)
}

func TestTranscribeFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `oops`},
		{"not json", http.StatusOK, `<html>`},
		{"wrong shape", http.StatusOK, `{"results":{"channels":[]}}`},
		{"missing transcript", http.StatusOK, `{"results":{"channels":[{"alternatives":[{}]}]}}`},
		{"empty transcript", http.StatusOK, `{"results":{"channels":[{"alternatives":[{"transcript":"  "}]}]}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			c := New(Config{Endpoint: srv.URL}, srv.Client())
			_, err := c.Transcribe(context.Background(), writeClip(t), "secret")
			require.ErrorIs(t, err, errors.ErrRemote)
		})
	}
}

func TestTranscribeWithoutCredentialMakesNoCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL}, srv.Client())
	_, err := c.Transcribe(context.Background(), writeClip(t), " ")
	require.ErrorIs(t, err, errors.ErrRemote)
	require.Zero(t, calls.Load())
}

func TestTranscribeTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(Config{Endpoint: url}, nil)
	_, err := c.Transcribe(context.Background(), writeClip(t), "secret")
	require.ErrorIs(t, err, errors.ErrRemote)
}
