//go:build cgo

package mp3

import (
	"encoding/binary"
	"fmt"

	"github.com/sjzar/go-lame"
)

// DefaultBitrate is the mp3 bitrate (kbps) used for voice downloads.
const DefaultBitrate = 32

// EncodePCM16 编码单声道 16-bit PCM 为 mp3。
func EncodePCM16(samples []int16, sampleRate, bitrate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("empty pcm input")
	}
	if bitrate <= 0 {
		bitrate = DefaultBitrate
	}

	le := lame.Init()
	defer le.Close()

	le.SetInSamplerate(sampleRate)
	le.SetOutSamplerate(sampleRate)
	le.SetNumChannels(1)
	le.SetBitrate(bitrate)
	// IMPORTANT!
	le.InitParams()

	// go-lame 期望的是小端 PCM 字节序列
	pcmBytes := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(pcmBytes[i*2:], uint16(sample))
	}
	data := le.Encode(pcmBytes)
	if len(data) == 0 {
		return nil, fmt.Errorf("mp3 encode failed")
	}
	return data, nil
}
