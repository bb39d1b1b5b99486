package audio

import "math"

// FrameFunc receives one captured PCM16LE mono frame together with its
// normalized RMS loudness estimate.
type FrameFunc func(pcm []byte, rms float64)

// Capture yields fixed-size PCM frames from the local microphone. Start and
// Stop are idempotent; Stop must guarantee no further FrameFunc invocations
// once it returns.
type Capture interface {
	Start(fn FrameFunc) error
	Stop()
}

// Player accepts PCM16LE chunks for output-device playback in arrival order.
type Player interface {
	Enqueue(pcm []byte)
	Flush()
	Close() error
}

// RMS16 computes the root-mean-square amplitude of PCM16LE samples,
// normalized to [0, 1]. Odd trailing bytes are ignored.
func RMS16(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(pcm[i]) | int16(pcm[i+1])<<8
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
