package flow

import (
	"sync"

	"github.com/adarshbhattarai/airabook-voice/internal/protocol"
)

// Gate applies server-issued pause/resume signals to the outbound audio path.
// It is a transport-level throttle, orthogonal to the conversational state
// machine: pausing never changes session state, and frames produced while
// paused are dropped rather than buffered.
type Gate struct {
	mu     sync.Mutex
	paused bool
}

func NewGate() *Gate {
	return &Gate{}
}

// Apply processes a flow control message. Unknown actions are ignored; the
// protocol layer rejects them before they get here.
func (g *Gate) Apply(action string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch action {
	case protocol.FlowActionPause:
		g.paused = true
	case protocol.FlowActionResume:
		g.paused = false
	}
}

// Paused is checked by the outbound path immediately before every frame send.
func (g *Gate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Reset reopens the gate. Called when a session is torn down so a stale pause
// never leaks into the next connection.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = false
}
