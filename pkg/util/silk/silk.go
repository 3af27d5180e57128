//go:build cgo

package silk

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/sjzar/go-silk"
)

// SampleRate is the rate Decode produces.
const SampleRate = 24000

// 部分客户端导出的文件在 SILK 头前带有一个 0x02 字节
var header = []byte("#!SILK_V3")

// Decode 解码 Silk 数据，返回单声道 16-bit PCM 采样数据及采样率。
func Decode(data []byte) ([]int16, int, error) {
	if !bytes.HasPrefix(data, header) && !bytes.HasPrefix(data, append([]byte{0x02}, header...)) {
		return nil, 0, fmt.Errorf("missing silk v3 header")
	}

	sd := silk.SilkInit()
	defer sd.Close()

	pcmBytes := sd.Decode(data)
	if len(pcmBytes) == 0 {
		return nil, 0, fmt.Errorf("silk decode failed")
	}
	if len(pcmBytes)%2 != 0 {
		return nil, 0, fmt.Errorf("invalid pcm length: %d", len(pcmBytes))
	}

	samples := make([]int16, len(pcmBytes)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcmBytes[2*i:]))
	}
	return samples, SampleRate, nil
}
