package local

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultModel is the whisper.cpp model fetched when none is configured.
const DefaultModel = "ggml-base.en.bin"

// DefaultBaseURL is the upstream location for official whisper.cpp models.
const DefaultBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

// ModelFile describes the state of an ensured model.
type ModelFile struct {
	Path    string
	Existed bool
	Bytes   int64
}

// Downloader keeps whisper.cpp models in a local cache directory.
type Downloader struct {
	dest    string
	baseURL string
	client  *http.Client
}

// NewDownloader caches models under dest. An empty baseURL uses DefaultBaseURL.
func NewDownloader(dest, baseURL string) *Downloader {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Downloader{
		dest:    dest,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Minute,
		},
	}
}

// Path returns where the named model lives in the cache.
func (d *Downloader) Path(modelName string) string {
	return filepath.Join(d.dest, NormalizeModelName(modelName))
}

// EnsureModel downloads the named model unless a non-empty copy is cached.
func (d *Downloader) EnsureModel(ctx context.Context, modelName string) (ModelFile, error) {
	if err := os.MkdirAll(d.dest, 0o755); err != nil {
		return ModelFile{}, err
	}

	localName := NormalizeModelName(modelName)
	localPath := filepath.Join(d.dest, localName)
	if info, err := os.Stat(localPath); err == nil && info.Size() > 0 {
		return ModelFile{Path: localPath, Existed: true, Bytes: info.Size()}, nil
	}

	url := d.baseURL + localName
	tmpPath := localPath + ".downloading"
	written, err := d.download(ctx, url, tmpPath)
	if err != nil {
		_ = os.Remove(tmpPath)
		return ModelFile{}, err
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		return ModelFile{}, err
	}
	return ModelFile{Path: localPath, Bytes: written}, nil
}

func (d *Downloader) download(ctx context.Context, url, destPath string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download model: %s", resp.Status)
	}

	file, err := os.Create(destPath)
	if err != nil {
		return 0, err
	}
	written, err := io.Copy(file, resp.Body)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, err
	}

	log.Info().Str("url", url).Str("path", destPath).Int64("bytes", written).Msg("downloaded whisper model")
	return written, nil
}

// NormalizeModelName turns "base.en" into "ggml-base.en.bin".
func NormalizeModelName(name string) string {
	normalized := strings.TrimSpace(name)
	if normalized == "" {
		return DefaultModel
	}
	if !strings.HasSuffix(normalized, ".bin") {
		normalized += ".bin"
	}
	if !strings.HasPrefix(normalized, "ggml-") {
		normalized = "ggml-" + normalized
	}
	return normalized
}
