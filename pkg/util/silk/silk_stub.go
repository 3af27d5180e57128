//go:build !cgo

package silk

import "fmt"

// SampleRate is the rate Decode produces.
const SampleRate = 24000

// Decode returns an error when built without CGO; silk voice notes are then rejected at import.
func Decode(data []byte) ([]int16, int, error) {
	return nil, 0, fmt.Errorf("silk decode unavailable: built without cgo")
}
