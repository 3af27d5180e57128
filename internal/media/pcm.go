package media

import "math"

// Int16ToFloat32 scales 16-bit PCM into [-1, 1).
func Int16ToFloat32(src []int16) []float32 {
	const scale = 1.0 / 32768.0
	out := make([]float32, len(src))
	for i, s := range src {
		out[i] = float32(float64(s) * scale)
	}
	return out
}

// Float32ToInt16 clamps and scales samples back to 16-bit PCM.
func Float32ToInt16(src []float32) []int {
	out := make([]int, len(src))
	for i, s := range src {
		v := float64(s) * 32767
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int(math.Round(v))
	}
	return out
}

// PCM16 converts samples to signed 16-bit values.
func PCM16(src []float32) []int16 {
	ints := Float32ToInt16(src)
	out := make([]int16, len(ints))
	for i, v := range ints {
		out[i] = int16(v)
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate by linear interpolation.
func Resample(src []float32, srcRate, dstRate int) []float32 {
	if len(src) == 0 {
		return nil
	}
	if srcRate <= 0 {
		srcRate = dstRate
	}
	if dstRate <= 0 || srcRate == dstRate {
		out := make([]float32, len(src))
		copy(out, src)
		return out
	}

	ratio := float64(srcRate) / float64(dstRate)
	targetLen := int(math.Ceil(float64(len(src)) / ratio))
	if targetLen <= 0 {
		targetLen = 1
	}

	out := make([]float32, targetLen)
	for i := 0; i < targetLen; i++ {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		frac := float32(srcPos - float64(idx))
		if idx >= len(src)-1 {
			out[i] = src[len(src)-1]
			continue
		}
		val := src[idx]
		next := src[idx+1]
		out[i] = val + (next-val)*frac
	}
	return out
}

// downmix averages interleaved channels into mono.
func downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
