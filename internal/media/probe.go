package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/go-audio/wav"

	"github.com/sjzar/voicelog/internal/errors"
)

// Info describes a probed recording.
type Info struct {
	Format   string  `json:"format"`
	Duration float64 `json:"duration"`
}

// Probe checks that path is a playable recording and returns its duration.
// Containers without a native parser are accepted with an unknown (0) duration.
func Probe(path string) (Info, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".wav":
		d, err := probeWAV(path)
		if err != nil {
			return Info{}, errors.Export(err, "probe %s", filepath.Base(path))
		}
		return Info{Format: "wav", Duration: d}, nil
	case ".m4a", ".mp4", ".aac":
		d, err := probeMP4(path)
		if err != nil {
			return Info{}, errors.Export(err, "probe %s", filepath.Base(path))
		}
		return Info{Format: "mp4", Duration: d}, nil
	default:
		st, err := os.Stat(path)
		if err != nil {
			return Info{}, errors.Export(err, "probe %s", filepath.Base(path))
		}
		if st.Size() == 0 {
			return Info{}, errors.Export(nil, "probe %s: empty file", filepath.Base(path))
		}
		return Info{Format: strings.TrimPrefix(ext, ".")}, nil
	}
}

func probeWAV(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("not a valid wav file")
	}
	d, err := dec.Duration()
	if err != nil {
		return 0, err
	}
	return d.Seconds(), nil
}

func probeMP4(path string) (float64, error) {
	f, err := mp4.ReadMP4File(path)
	if err != nil {
		return 0, err
	}
	if f.Moov == nil || f.Moov.Mvhd == nil {
		return 0, fmt.Errorf("missing movie header")
	}
	mvhd := f.Moov.Mvhd
	if mvhd.Timescale == 0 {
		return 0, fmt.Errorf("zero timescale")
	}
	return float64(mvhd.Duration) / float64(mvhd.Timescale), nil
}
