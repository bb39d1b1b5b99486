package voice

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/adarshbhattarai/airabook-voice/internal/audio"
	"github.com/adarshbhattarai/airabook-voice/internal/channel"
	"github.com/adarshbhattarai/airabook-voice/internal/protocol"
)

// fakeChannel records outbound traffic and lets tests inject inbound events
// through the handlers captured at dial time.
type fakeChannel struct {
	mu       sync.Mutex
	open     bool
	sent     []protocol.MessageType
	binary   [][]byte
	closes   []int
	handlers channel.Handlers
}

func (f *fakeChannel) SendJSON(v any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return false
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return false
	}
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false
	}
	f.sent = append(f.sent, env.Type)
	return true
}

func (f *fakeChannel) SendBinary(data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return false
	}
	f.binary = append(f.binary, append([]byte(nil), data...))
	return true
}

func (f *fakeChannel) Close(code int, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.closes = append(f.closes, code)
}

func (f *fakeChannel) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeChannel) sentCount(t protocol.MessageType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sent {
		if s == t {
			n++
		}
	}
	return n
}

func (f *fakeChannel) binaryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.binary)
}

// serverJSON injects one inbound control message as the peer would send it.
func (f *fakeChannel) serverJSON(raw string) {
	f.handlers.OnJSON([]byte(raw))
}

func (f *fakeChannel) serverBinary(data []byte) {
	f.handlers.OnBinary(data)
}

func (f *fakeChannel) serverClose(code int, reason string) {
	f.mu.Lock()
	f.open = false
	f.mu.Unlock()
	f.handlers.OnClose(code, reason)
}

// fakeDialer hands out one fakeChannel per dial and counts attempts.
type fakeDialer struct {
	mu    sync.Mutex
	dials int
	ch    *fakeChannel
	err   error
}

func (d *fakeDialer) dial(_ context.Context, _ string, h channel.Handlers) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	ch := &fakeChannel{open: true, handlers: h}
	d.ch = ch
	return ch, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// fakeCapture delivers frames only while started, like a real device.
type fakeCapture struct {
	mu     sync.Mutex
	fn     audio.FrameFunc
	on     bool
	starts int
	stops  int
}

func (f *fakeCapture) Start(fn audio.FrameFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn = fn
	f.on = true
	f.starts++
	return nil
}

func (f *fakeCapture) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.on = false
	f.stops++
}

func (f *fakeCapture) running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on
}

// feed pushes one frame at the given loudness. The callback runs outside the
// fake's lock, the way a real device goroutine would deliver it.
func (f *fakeCapture) feed(rms float64) {
	f.mu.Lock()
	fn, on := f.fn, f.on
	f.mu.Unlock()
	if !on || fn == nil {
		return
	}
	fn(make([]byte, 640), rms)
}

type fakePlayer struct {
	mu      sync.Mutex
	chunks  [][]byte
	flushes int
}

func (f *fakePlayer) Enqueue(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, append([]byte(nil), data...))
}

func (f *fakePlayer) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
}

func (f *fakePlayer) Close() error {
	return nil
}

func (f *fakePlayer) chunkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks)
}

func (f *fakePlayer) flushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushes
}
