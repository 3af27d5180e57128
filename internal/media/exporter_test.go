package media

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sjzar/voicelog/internal/errors"
)

type countingTrimmer struct {
	calls int
}

func (c *countingTrimmer) Name() string { return "counting" }

func (c *countingTrimmer) Trim(ctx context.Context, src, dst string, start, end float64) error {
	c.calls++
	return os.WriteFile(dst, []byte("clip"), 0o600)
}

func writeTone(t *testing.T, dir string, seconds float64, rate int) string {
	t.Helper()
	n := int(seconds * float64(rate))
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(i%100) / 200
	}
	path := filepath.Join(dir, "tone.wav")
	require.NoError(t, WriteWAV(path, samples, rate))
	return path
}

func TestExportWholeFileIsPassthrough(t *testing.T) {
	dir := t.TempDir()
	src := writeTone(t, dir, 1, 8000)
	trimmer := &countingTrimmer{}
	exp := NewExporterWith(trimmer, Config{TempDir: dir})

	out, err := exp.Export(context.Background(), src, 0, 0)
	require.NoError(t, err)
	require.Equal(t, src, out.Path)
	require.False(t, out.Temp)
	require.Zero(t, trimmer.calls)
}

func TestExportShortWindowIsPassthrough(t *testing.T) {
	dir := t.TempDir()
	src := writeTone(t, dir, 5, 8000)
	trimmer := &countingTrimmer{}
	exp := NewExporterWith(trimmer, Config{TempDir: dir})

	out, err := exp.Export(context.Background(), src, 1, 2.5)
	require.NoError(t, err)
	require.Equal(t, src, out.Path)
	require.False(t, out.Temp)
	require.Zero(t, trimmer.calls)

	out, err = exp.Export(context.Background(), src, 1, 3)
	require.NoError(t, err)
	require.True(t, out.Temp)
	require.Equal(t, 1, trimmer.calls)
	out.Cleanup()
	_, err = os.Stat(out.Path)
	require.True(t, os.IsNotExist(err))
}

func TestExportMissingSource(t *testing.T) {
	exp := NewExporterWith(&countingTrimmer{}, Config{TempDir: t.TempDir()})
	_, err := exp.Export(context.Background(), "/nonexistent/a.wav", 0, 10)
	require.ErrorIs(t, err, errors.ErrExport)
}

func TestWAVTrimmerProducesWindow(t *testing.T) {
	dir := t.TempDir()
	src := writeTone(t, dir, 6, 8000)
	exp := NewExporterWith(WAVTrimmer{}, Config{TempDir: filepath.Join(dir, "tmp")})

	out, err := exp.Export(context.Background(), src, 1, 4)
	require.NoError(t, err)
	defer out.Cleanup()
	require.True(t, out.Temp)

	samples, rate, err := DecodeWAV(out.Path)
	require.NoError(t, err)
	require.Equal(t, TargetSampleRate, rate)
	require.InDelta(t, 3*TargetSampleRate, len(samples), 2)

	info, err := Probe(out.Path)
	require.NoError(t, err)
	require.InDelta(t, 3.0, info.Duration, 0.01)
}

func TestWAVTrimmerRejectsCorruptSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "broken.wav")
	require.NoError(t, os.WriteFile(src, []byte("definitely not riff data"), 0o600))
	exp := NewExporterWith(WAVTrimmer{}, Config{TempDir: dir})

	_, err := exp.Export(context.Background(), src, 0, 5)
	require.ErrorIs(t, err, errors.ErrExport)

	entries, err := filepath.Glob(filepath.Join(dir, "clip-*"))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestProbeRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.ogg")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	_, err := Probe(path)
	require.ErrorIs(t, err, errors.ErrExport)
}

func TestResample(t *testing.T) {
	src := []float32{0, 1, 0, -1}
	require.Len(t, Resample(src, 8000, 16000), 8)
	require.Equal(t, src, Resample(src, 16000, 16000))
	require.Nil(t, Resample(nil, 8000, 16000))
}
