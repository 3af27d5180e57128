package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/sjzar/voicelog/internal/errors"
)

// DecodeWAV reads a PCM WAV file as mono float samples.
func DecodeWAV(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	samples, rate, err := decodeWAV(f)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", path, err)
	}
	return samples, rate, nil
}

// DecodeWAVBytes is DecodeWAV for an in-memory file.
func DecodeWAVBytes(data []byte) ([]float32, int, error) {
	return decodeWAV(bytes.NewReader(data))
}

func decodeWAV(r io.ReadSeeker) ([]float32, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("not a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 {
		return nil, 0, fmt.Errorf("missing wav format")
	}

	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	samples := intsToFloat(buf.Data, int(dec.BitDepth))
	return downmix(samples, channels), buf.Format.SampleRate, nil
}

// WriteWAV writes mono float samples as 16-bit PCM WAV.
func WriteWAV(path string, samples []float32, rate int) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: 1,
			SampleRate:  rate,
		},
		Data:           Float32ToInt16(samples),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func intsToFloat(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	switch bitDepth {
	case 8:
		for i, v := range data {
			out[i] = float32(v-128) / 128
		}
	case 0:
		bitDepth = 16
		fallthrough
	default:
		scale := float32(int64(1) << uint(bitDepth-1))
		for i, v := range data {
			out[i] = float32(v) / scale
		}
	}
	return out
}

// WAVTrimmer trims PCM WAV sources in pure Go. Other containers need ffmpeg.
type WAVTrimmer struct{}

func (WAVTrimmer) Name() string { return "wav" }

func (WAVTrimmer) Trim(ctx context.Context, src, dst string, start, end float64) error {
	samples, rate, err := DecodeWAV(src)
	if err != nil {
		return errors.Export(err, "unplayable source")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	from := int(start * float64(rate))
	to := int(end * float64(rate))
	if to > len(samples) {
		to = len(samples)
	}
	if from >= to {
		return errors.Export(nil, "window [%v,%v) is outside the recording", start, end)
	}

	clip := Resample(samples[from:to], rate, TargetSampleRate)
	if err := WriteWAV(dst, clip, TargetSampleRate); err != nil {
		return errors.Export(err, "write clip")
	}
	return nil
}
