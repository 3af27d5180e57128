package media

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sjzar/voicelog/internal/errors"
)

// FFmpegTrimmer trims and transcodes with the ffmpeg binary.
type FFmpegTrimmer struct {
	bin string
}

// NewFFmpegTrimmer resolves the ffmpeg binary, defaulting to "ffmpeg" on PATH.
func NewFFmpegTrimmer(bin string) (*FFmpegTrimmer, error) {
	if strings.TrimSpace(bin) == "" {
		bin = "ffmpeg"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, err
	}
	return &FFmpegTrimmer{bin: path}, nil
}

func (f *FFmpegTrimmer) Name() string { return "ffmpeg" }

func (f *FFmpegTrimmer) Trim(ctx context.Context, src, dst string, start, end float64) error {
	args := []string{
		"-y", "-v", "error",
		"-ss", formatSeconds(start),
		"-t", formatSeconds(end - start),
		"-i", src,
		"-ac", "1",
		"-ar", strconv.Itoa(TargetSampleRate),
		"-c:a", "pcm_s16le",
		"-f", "wav",
		dst,
	}
	log.Debug().Str("bin", f.bin).Strs("args", args).Msg("ffmpeg trim")

	cmd := exec.CommandContext(ctx, f.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return errors.Export(err, "ffmpeg: %s", strings.TrimSpace(stderr.String()))
	}
	return nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
