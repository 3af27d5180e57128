//go:build !cgo

package mp3

import "fmt"

// DefaultBitrate is the mp3 bitrate (kbps) used for voice downloads.
const DefaultBitrate = 32

// EncodePCM16 returns an error when built without CGO so callers can serve the original audio.
func EncodePCM16(samples []int16, sampleRate, bitrate int) ([]byte, error) {
	return nil, fmt.Errorf("mp3 encode unavailable: built without cgo")
}
