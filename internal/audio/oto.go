package audio

import (
	"fmt"
	"sync"

	"github.com/hajimehoshi/oto"
)

const (
	otoBufferBytes = 8192
	playerQueueLen = 128
)

// OtoPlayer plays PCM16LE mono chunks on the default output device in
// arrival order. Enqueue never blocks the caller: when the queue is
// saturated the oldest chunk is dropped, which only happens if the device
// has already fallen hopelessly behind the stream.
type OtoPlayer struct {
	ctx *oto.Context

	mu     sync.Mutex
	player *oto.Player
	queue  chan []byte
	done   chan struct{}
	closed bool
}

func NewOtoPlayer(sampleRate int) (*OtoPlayer, error) {
	ctx, err := oto.NewContext(sampleRate, 1, 2, otoBufferBytes)
	if err != nil {
		return nil, fmt.Errorf("open output device: %w", err)
	}
	p := &OtoPlayer{
		ctx:   ctx,
		queue: make(chan []byte, playerQueueLen),
		done:  make(chan struct{}),
	}
	p.player = ctx.NewPlayer()
	go p.run()
	return p, nil
}

func (p *OtoPlayer) run() {
	for {
		select {
		case <-p.done:
			return
		case chunk := <-p.queue:
			p.mu.Lock()
			pl := p.player
			p.mu.Unlock()
			if pl == nil {
				continue
			}
			_, _ = pl.Write(chunk)
		}
	}
}

func (p *OtoPlayer) Enqueue(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	chunk := append([]byte(nil), pcm...)
	for {
		select {
		case p.queue <- chunk:
			return
		default:
		}
		select {
		case <-p.queue: // drop oldest
		default:
		}
	}
}

// Flush discards queued chunks and recreates the device player so pending
// device-buffered audio is cut off as fast as the backend allows. Used on
// interrupt and teardown.
func (p *OtoPlayer) Flush() {
	for {
		select {
		case <-p.queue:
			continue
		default:
		}
		break
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if p.player != nil {
		_ = p.player.Close()
	}
	p.player = p.ctx.NewPlayer()
}

func (p *OtoPlayer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	pl := p.player
	p.player = nil
	p.mu.Unlock()

	close(p.done)
	if pl != nil {
		_ = pl.Close()
	}
	return p.ctx.Close()
}
