// Package media trims and transcodes recorded audio into upload-ready clips.
package media

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sjzar/voicelog/internal/errors"
)

// MinExportSeconds is the shortest window worth transcoding. Shorter windows
// are passed through untouched.
const MinExportSeconds = 2.0

// TargetSampleRate is the sample rate of exported clips.
const TargetSampleRate = 16000

// Export is the result of exporting a window. When Temp is set the caller
// owns Path and must remove it.
type Export struct {
	Path string
	Temp bool
}

// Cleanup removes the exported file if it is a temporary one.
func (e Export) Cleanup() {
	if !e.Temp || e.Path == "" {
		return
	}
	if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", e.Path).Msg("failed to remove exported clip")
	}
}

// Trimmer writes the [start,end) window of src to dst as 16 kHz mono WAV.
type Trimmer interface {
	Name() string
	Trim(ctx context.Context, src, dst string, start, end float64) error
}

// Config configures NewExporter.
type Config struct {
	TempDir    string  `mapstructure:"-"`
	MinSeconds float64 `mapstructure:"min_export_seconds"`
	FFmpegPath string  `mapstructure:"ffmpeg_path"`
}

// Exporter applies the passthrough policy and delegates real trims to a Trimmer.
type Exporter struct {
	trimmer    Trimmer
	tempDir    string
	minSeconds float64
}

// NewExporter picks ffmpeg when it is on PATH and the pure Go WAV trimmer otherwise.
func NewExporter(cfg Config) *Exporter {
	var trimmer Trimmer
	if ff, err := NewFFmpegTrimmer(cfg.FFmpegPath); err == nil {
		trimmer = ff
	} else {
		log.Debug().Err(err).Msg("ffmpeg not found, exporting with the WAV trimmer")
		trimmer = WAVTrimmer{}
	}
	return NewExporterWith(trimmer, cfg)
}

// NewExporterWith builds an Exporter around an explicit trimmer.
func NewExporterWith(trimmer Trimmer, cfg Config) *Exporter {
	min := cfg.MinSeconds
	if min <= 0 {
		min = MinExportSeconds
	}
	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Exporter{trimmer: trimmer, tempDir: tempDir, minSeconds: min}
}

// Trimmer returns the backend in use.
func (e *Exporter) Trimmer() Trimmer {
	return e.trimmer
}

// Passthrough reports whether the window is exported without trimming: the
// whole-file sentinel or anything shorter than the minimum.
func (e *Exporter) Passthrough(start, end float64) bool {
	if start == 0 && end == 0 {
		return true
	}
	return end-start < e.minSeconds
}

// Export produces the [start,end) window of src.
func (e *Exporter) Export(ctx context.Context, src string, start, end float64) (Export, error) {
	if _, err := os.Stat(src); err != nil {
		return Export{}, errors.Export(err, "source audio")
	}
	if e.Passthrough(start, end) {
		return Export{Path: src}, nil
	}
	if start < 0 || end <= start {
		return Export{}, errors.Export(nil, "invalid window [%v,%v)", start, end)
	}

	if err := os.MkdirAll(e.tempDir, 0o700); err != nil {
		return Export{}, errors.Export(err, "create temp dir")
	}
	dst := filepath.Join(e.tempDir, "clip-"+uuid.NewString()+".wav")
	if err := e.trimmer.Trim(ctx, src, dst, start, end); err != nil {
		_ = os.Remove(dst)
		if ctx.Err() != nil {
			return Export{}, ctx.Err()
		}
		if errors.KindOf(err) == errors.KindExport {
			return Export{}, err
		}
		return Export{}, errors.Export(err, "%s trim", e.trimmer.Name())
	}
	return Export{Path: dst, Temp: true}, nil
}

// ContentType maps an audio file extension to its MIME type.
func ContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return "audio/wav"
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".aac":
		return "audio/aac"
	case ".mp3":
		return "audio/mpeg"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	case ".webm":
		return "audio/webm"
	case ".caf":
		return "audio/x-caf"
	case ".silk":
		return "audio/silk"
	default:
		return "application/octet-stream"
	}
}

// IsAudioFile reports whether path has an extension voicelog can ingest.
func IsAudioFile(path string) bool {
	return ContentType(path) != "application/octet-stream"
}
