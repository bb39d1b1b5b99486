package audio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioCapture reads fixed-size PCM16 frames from the default input
// device. A 20 ms frame at 16 kHz (320 samples) is the usual configuration.
type PortAudioCapture struct {
	sampleRate int
	frameSize  int

	mu      sync.Mutex
	stream  *portaudio.Stream
	stop    chan struct{}
	stopped chan struct{}
	running bool
}

// NewPortAudioCapture initializes the portaudio host API. Callers must Close
// the capture when done to release it.
func NewPortAudioCapture(sampleRate, frameSize int) (*PortAudioCapture, error) {
	if sampleRate <= 0 || frameSize <= 0 {
		return nil, fmt.Errorf("invalid capture config: rate=%d frame=%d", sampleRate, frameSize)
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	return &PortAudioCapture{sampleRate: sampleRate, frameSize: frameSize}, nil
}

func (c *PortAudioCapture) Start(fn FrameFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	buf := make([]int16, c.frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(c.sampleRate), len(buf), buf)
	if err != nil {
		return fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("start input stream: %w", err)
	}

	c.stream = stream
	c.stop = make(chan struct{})
	c.stopped = make(chan struct{})
	c.running = true

	// The reader goroutine owns the stream from here and closes it on exit,
	// so Stop never has to wait for an in-flight frame callback.
	go func(stream *portaudio.Stream, stop chan struct{}, stopped chan struct{}) {
		defer close(stopped)
		defer stream.Close()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if err := stream.Read(); err != nil {
				return
			}
			pcm := pcm16Bytes(buf)
			fn(pcm, RMS16(pcm))
		}
	}(stream, c.stop, c.stopped)

	return nil
}

// Stop signals the reader to exit and returns immediately. A final frame
// callback may still be in flight when Stop returns.
func (c *PortAudioCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	close(c.stop)
	_ = c.stream.Stop()
	c.stream = nil
	c.running = false
}

func (c *PortAudioCapture) Close() error {
	c.Stop()
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped != nil {
		<-stopped
	}
	return portaudio.Terminate()
}

func pcm16Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}
