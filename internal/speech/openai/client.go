// Package openai transcribes through the OpenAI audio API.
package openai

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/sjzar/voicelog/internal/errors"
)

const DefaultModel = "whisper-1"

type Config struct {
	BaseURL  string
	Model    string
	Language string
	Timeout  time.Duration
}

// Client wraps the SDK with its own retries disabled; the pipeline owns backoff.
type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config, httpClient *http.Client) *Client {
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, http: httpClient}
}

func (c *Client) Name() string { return "openai" }

func (c *Client) Transcribe(ctx context.Context, path, credential string) (string, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", errors.Remote(nil, "no remote credential configured")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(credential),
		option.WithMaxRetries(0),
		option.WithHTTPClient(c.http),
	}
	if c.cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(c.cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	f, err := os.Open(path)
	if err != nil {
		return "", errors.Remote(err, "open upload")
	}
	defer f.Close()

	params := openai.AudioTranscriptionNewParams{
		File:  f,
		Model: openai.AudioModel(c.cfg.Model),
	}
	if c.cfg.Language != "" {
		params.Language = openai.String(c.cfg.Language)
	}

	res, err := client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", errors.Remote(err, "openai transcription")
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return "", errors.Remote(nil, "empty transcript")
	}
	return text, nil
}
