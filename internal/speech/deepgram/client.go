// Package deepgram is the client for Deepgram-style pre-recorded transcription endpoints.
package deepgram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sjzar/voicelog/internal/errors"
	"github.com/sjzar/voicelog/internal/media"
)

// DefaultEndpoint is the hosted pre-recorded audio endpoint.
const DefaultEndpoint = "https://api.deepgram.com/v1/listen"

// Config configures a Client.
type Config struct {
	Endpoint    string
	Model       string
	Language    string
	SmartFormat bool
	Timeout     time.Duration
}

// Client performs a single upload per Transcribe call.
type Client struct {
	cfg  Config
	http *http.Client
}

// New returns a Client. A nil httpClient gets one with cfg.Timeout.
func New(cfg Config, httpClient *http.Client) *Client {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, http: httpClient}
}

func (c *Client) Name() string { return "deepgram" }

// response mirrors {results:{channels:[{alternatives:[{transcript}]}]}}.
type response struct {
	Results *struct {
		Channels []struct {
			Alternatives []struct {
				Transcript *string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe uploads the file at path and returns the first channel's first
// alternative. Absent credentials, transport errors, non-2xx responses,
// unexpected shapes and empty transcripts are all remote errors.
func (c *Client) Transcribe(ctx context.Context, path, credential string) (string, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", errors.Remote(nil, "no remote credential configured")
	}

	f, err := os.Open(path)
	if err != nil {
		return "", errors.Remote(err, "open upload")
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return "", errors.Remote(err, "stat upload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.requestURL(), f)
	if err != nil {
		return "", errors.Remote(err, "build request")
	}
	req.ContentLength = st.Size()
	req.Header.Set("Authorization", "Token "+credential)
	req.Header.Set("Content-Type", media.ContentType(path))
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Remote(err, "upload")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", errors.Remote(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.Remote(nil, "remote returned %s: %s", resp.Status, snippet(body))
	}

	var parsed response
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", errors.Remote(err, "parse response")
	}
	if parsed.Results == nil || len(parsed.Results.Channels) == 0 ||
		len(parsed.Results.Channels[0].Alternatives) == 0 ||
		parsed.Results.Channels[0].Alternatives[0].Transcript == nil {
		return "", errors.Remote(nil, "unexpected response shape: %s", snippet(body))
	}

	text := strings.TrimSpace(*parsed.Results.Channels[0].Alternatives[0].Transcript)
	if text == "" {
		return "", errors.Remote(nil, "empty transcript")
	}
	log.Debug().Str("file", path).Int("chars", len(text)).Msg("remote transcript received")
	return text, nil
}

func (c *Client) requestURL() string {
	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return c.cfg.Endpoint
	}
	q := u.Query()
	if c.cfg.Model != "" {
		q.Set("model", c.cfg.Model)
	}
	if c.cfg.SmartFormat {
		q.Set("smart_format", strconv.FormatBool(true))
	}
	if c.cfg.Language != "" {
		q.Set("language", c.cfg.Language)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func snippet(body []byte) string {
	const max = 256
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
