package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// RMS16 returns the root mean square amplitude of 16-bit little-endian PCM
// audio, normalized to [0, 1]. An empty or sub-sample slice yields 0.
func RMS16(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	var sum float64
	n := 0
	for i := 0; i+1 < len(pcm); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i:])))
		sum += s * s
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum/float64(n)) / 32768.0
}

// FrameDuration returns the play time of n bytes of 16-bit PCM in the given
// format. Returns 0 for a zero or invalid format.
func FrameDuration(n int, f Format) time.Duration {
	bytesPerSecond := f.SampleRate * f.Channels * 2
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bytesPerSecond)
}
