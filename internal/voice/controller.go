package voice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adarshbhattarai/airabook-voice/internal/audio"
	"github.com/adarshbhattarai/airabook-voice/internal/channel"
	"github.com/adarshbhattarai/airabook-voice/internal/flow"
	"github.com/adarshbhattarai/airabook-voice/internal/identity"
	"github.com/adarshbhattarai/airabook-voice/internal/observability"
	"github.com/adarshbhattarai/airabook-voice/internal/protocol"
	"github.com/adarshbhattarai/airabook-voice/internal/reliability"
	"github.com/adarshbhattarai/airabook-voice/internal/transcript"
	"github.com/adarshbhattarai/airabook-voice/internal/vad"
)

var (
	ErrMissingBookID = errors.New("book id is required before connect")
	ErrNotConnected  = errors.New("session channel is not connected")
)

// SessionError is the last error surfaced by the session, kept for display.
// Advisory errors (backpressure and the like) do not interrupt the
// conversation; fatal ones leave the session in the error state until the
// caller reconnects.
type SessionError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Advisory  bool   `json:"advisory"`
	Retryable bool   `json:"retryable"`
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Channel is the slice of the websocket client the controller drives.
type Channel interface {
	SendJSON(v any) bool
	SendBinary(data []byte) bool
	Close(code int, reason string)
	IsOpen() bool
}

// DialFunc opens the session channel. Overridable in tests.
type DialFunc func(ctx context.Context, url string, h channel.Handlers) (Channel, error)

func defaultDial(ctx context.Context, url string, h channel.Handlers) (Channel, error) {
	return channel.Dial(ctx, url, h)
}

// Config carries the per-conversation settings for one controller.
type Config struct {
	ChannelURL string
	BookID     string
	ChapterID  string
	PageID     string

	Voice protocol.VoiceSelection
	Mode  string

	InputAudio  protocol.AudioFormat
	OutputAudio protocol.AudioFormat

	VAD           vad.Config
	SilenceWindow time.Duration

	Dial DialFunc
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = "conversation"
	}
	if c.InputAudio.Format == "" {
		c.InputAudio = protocol.DefaultInputFormat()
	}
	if c.OutputAudio.Format == "" {
		c.OutputAudio = protocol.DefaultOutputFormat()
	}
	if c.SilenceWindow <= 0 {
		c.SilenceWindow = 650 * time.Millisecond
	}
	if c.Dial == nil {
		c.Dial = defaultDial
	}
	return c
}

// Deps are the controller's collaborators. Tokens, Capture and Player are
// required; the rest are optional.
type Deps struct {
	Tokens  identity.TokenSource
	Capture audio.Capture
	Player  audio.Player
	Metrics *observability.Metrics
	Latency *observability.LatencyWindow
	Archive transcript.Store
}

// Callbacks is the controller's event surface. Callbacks run synchronously
// from the controller's own handlers and must not call back into the
// controller's public methods.
type Callbacks struct {
	OnState             func(State)
	OnPartialTranscript func(text string)
	OnFinalTranscript   func(text string)
	OnAssistantText     func(text string)
	OnLevel             func(rms float64)
	OnError             func(err *SessionError)
}

// Snapshot is the read-only view of the session, always available for
// display regardless of state.
type Snapshot struct {
	SessionID      string        `json:"session_id"`
	State          State         `json:"state"`
	Active         bool          `json:"active"`
	FlowPaused     bool          `json:"flow_paused"`
	LastError      *SessionError `json:"last_error,omitempty"`
	UserTurns      int           `json:"user_turns"`
	AssistantTurns int           `json:"assistant_turns"`
	Interruptions  int           `json:"interruptions"`
	FramesSent     uint64        `json:"frames_sent"`
	FramesDropped  uint64        `json:"frames_dropped"`
	GeneratedAt    time.Time     `json:"generated_at"`
}

// Controller orchestrates one voice conversation: the state machine, the
// channel, voice-activity detection, outbound flow control and
// playback-driven turn taking. All internal state is mutated under mu; timer
// and channel callbacks re-enter through the same mutex, so no two
// state-mutating handlers interleave.
type Controller struct {
	cfg  Config
	deps Deps
	cb   Callbacks

	det  *vad.Detector
	gate *flow.Gate

	mu            sync.Mutex
	state         State
	sessionID     string
	active        bool
	captureOn     bool
	conn          Channel
	connectCancel context.CancelFunc

	silence    *time.Timer
	silenceGen uint64
	connGen    uint64

	lastErr        *SessionError
	userTurns      int
	assistantTurns int
	interruptions  int
	framesSent     uint64
	framesDropped  uint64

	connectAt     time.Time
	speechEndAt   time.Time
	assistAudioAt time.Time
}

func New(cfg Config, deps Deps, cb Callbacks) (*Controller, error) {
	if deps.Tokens == nil {
		return nil, errors.New("token source is required")
	}
	if deps.Capture == nil {
		return nil, errors.New("capture device is required")
	}
	if deps.Player == nil {
		return nil, errors.New("playback device is required")
	}

	c := &Controller{
		cfg:   cfg.withDefaults(),
		deps:  deps,
		cb:    cb,
		gate:  flow.NewGate(),
		state: StateIdle,
	}
	c.det = vad.New(cfg.VAD, c.permitDetection, vad.Events{
		OnSpeechStart: c.onSpeechStart,
		OnSpeechEnd:   c.onSpeechEnd,
		OnLevel:       c.onLevel,
	})
	return c, nil
}

// Connect opens the channel and authenticates. Idempotent while a connect is
// in flight or the channel is open. Missing identifiers fail synchronously;
// handshake failures are also recorded on the error surface so the caller
// can render status without inspecting the return.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnecting || (c.conn != nil && c.conn.IsOpen()) {
		c.mu.Unlock()
		return nil
	}
	if strings.TrimSpace(c.cfg.BookID) == "" {
		c.mu.Unlock()
		return ErrMissingBookID
	}

	dialCtx, cancel := context.WithCancel(ctx)
	c.connectCancel = cancel
	c.sessionID = uuid.NewString()
	c.lastErr = nil
	c.gate.Reset()
	c.det.Reset()
	c.connectAt = time.Now()
	// Events from any previous connection carry an older generation and are
	// ignored, so a late close from a dead socket cannot touch this session.
	c.connGen++
	gen := c.connGen
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	token, err := c.deps.Tokens.Token(dialCtx)
	if err != nil {
		c.failConnect(gen, "auth_token", err)
		return fmt.Errorf("fetch token: %w", err)
	}

	conn, err := c.cfg.Dial(dialCtx, c.cfg.ChannelURL, channel.Handlers{
		OnJSON:   func(raw []byte) { c.handleJSON(gen, raw) },
		OnBinary: func(data []byte) { c.handleBinary(gen, data) },
		OnClose:  func(code int, reason string) { c.handleClose(gen, code, reason) },
		OnError:  func(err error) { c.handleChannelError(gen, err) },
	})
	if err != nil {
		c.failConnect(gen, "channel_dial", err)
		return fmt.Errorf("dial channel: %w", err)
	}

	c.mu.Lock()
	if gen != c.connGen || c.state != StateConnecting {
		// Disconnect raced the handshake; do not resurrect the session.
		c.mu.Unlock()
		conn.Close(channel.CloseNormal, "superseded")
		return nil
	}
	c.conn = conn
	c.sendJSONLocked(protocol.Auth{
		Type:      protocol.TypeAuth,
		Token:     token,
		BookID:    c.cfg.BookID,
		ChapterID: c.cfg.ChapterID,
		PageID:    c.cfg.PageID,
	}, protocol.TypeAuth)
	c.mu.Unlock()
	return nil
}

// StartListening negotiates audio formats, marks the session active and
// begins microphone capture. Connects first if needed.
func (c *Controller) StartListening(ctx context.Context) error {
	c.mu.Lock()
	connected := c.conn != nil && c.conn.IsOpen()
	c.mu.Unlock()
	if !connected {
		if err := c.Connect(ctx); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || !c.conn.IsOpen() {
		return ErrNotConnected
	}
	if c.active {
		return nil
	}
	c.sendJSONLocked(protocol.Start{
		Type:        protocol.TypeStart,
		InputAudio:  c.cfg.InputAudio,
		OutputAudio: c.cfg.OutputAudio,
		Voice:       c.cfg.Voice,
		Mode:        c.cfg.Mode,
	}, protocol.TypeStart)
	c.active = true
	if err := c.startCaptureLocked(); err != nil {
		c.lastErr = &SessionError{Code: "capture_failed", Message: err.Error()}
		c.deps.Metrics.ObserveSessionError("capture_failed", "fatal")
		c.teardownLocked(StateError, channel.CloseNormal, "capture failed")
		return fmt.Errorf("start capture: %w", err)
	}
	c.setStateLocked(StateListening)
	return nil
}

// StopListening ends the user's participation in the turn: stops capture,
// closes any open speech turn, sends the end message and returns to idle.
// Idempotent; only the first call emits the end message.
func (c *Controller) StopListening() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return nil
	}
	c.active = false
	c.stopCaptureLocked()
	c.cancelSilenceLocked()
	if c.state == StateUserSpeaking {
		c.sendJSONLocked(protocol.SpeechEnd{Type: protocol.TypeSpeechEnd}, protocol.TypeSpeechEnd)
		c.userTurns++
	}
	c.det.Reset()
	c.sendJSONLocked(protocol.End{Type: protocol.TypeEnd}, protocol.TypeEnd)
	c.setStateLocked(StateIdle)
	return nil
}

// Interrupt lets the user barge in over assistant speech: playback is
// flushed immediately, the peer's in-flight turn is cancelled and, while the
// session is still active, capture resumes.
func (c *Controller) Interrupt() error {
	begin := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || (c.state != StateAssistantSpeaking && c.state != StateThinking) {
		return nil
	}
	c.deps.Player.Flush()
	c.cancelSilenceLocked()
	c.det.Reset()
	if c.state == StateAssistantSpeaking {
		c.interruptions++
		c.deps.Metrics.ObserveInterruption()
		c.deps.Latency.ObserveIndicator("barge_in")
	}
	c.sendJSONLocked(protocol.Cancel{Type: protocol.TypeCancel}, protocol.TypeCancel)
	if c.active {
		if err := c.startCaptureLocked(); err != nil {
			c.lastErr = &SessionError{Code: "capture_failed", Message: err.Error()}
			c.deps.Metrics.ObserveSessionError("capture_failed", "fatal")
			c.teardownLocked(StateError, channel.CloseNormal, "capture failed")
			return fmt.Errorf("restart capture: %w", err)
		}
		c.setStateLocked(StateListening)
	} else {
		c.setStateLocked(StateIdle)
	}
	c.deps.Latency.Observe(observability.StageInterruptToListening, time.Since(begin))
	return nil
}

// Disconnect cancels any in-flight connect and tears the session down with a
// normal close. Safe to call at any time.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectCancel != nil {
		c.connectCancel()
		c.connectCancel = nil
	}
	c.teardownLocked(StateIdle, channel.CloseNormal, "client disconnect")
}

// Snapshot returns the current display surface of the session.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		SessionID:      c.sessionID,
		State:          c.state,
		Active:         c.active,
		FlowPaused:     c.gate.Paused(),
		LastError:      c.lastErr,
		UserTurns:      c.userTurns,
		AssistantTurns: c.assistantTurns,
		Interruptions:  c.interruptions,
		FramesSent:     c.framesSent,
		FramesDropped:  c.framesDropped,
		GeneratedAt:    time.Now().UTC(),
	}
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// --- microphone path ---

func (c *Controller) permitDetection() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.allowsDetection()
}

// handleFrame is the capture callback: every frame feeds the detector, and
// frames belonging to an open speech turn go out on the channel. The flow
// gate is consulted immediately before each send; paused frames are dropped,
// never buffered.
func (c *Controller) handleFrame(pcm []byte, rms float64) {
	c.det.Process(rms)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUserSpeaking || c.conn == nil {
		return
	}
	if c.gate.Paused() {
		c.framesDropped++
		c.deps.Metrics.ObserveFrameDropped("flow_paused")
		return
	}
	if c.conn.SendBinary(pcm) {
		c.framesSent++
		c.deps.Metrics.ObserveFrameSent()
	} else {
		c.framesDropped++
		c.deps.Metrics.ObserveFrameDropped("channel_closed")
	}
}

func (c *Controller) onSpeechStart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	// The permit check ran outside the lock; re-check so a transition that
	// landed in between cannot open a turn mid-assistant-speech.
	if c.conn == nil || !c.state.allowsDetection() || c.state == StateUserSpeaking {
		return
	}
	c.sendJSONLocked(protocol.SpeechStart{Type: protocol.TypeSpeechStart}, protocol.TypeSpeechStart)
	c.setStateLocked(StateUserSpeaking)
}

func (c *Controller) onSpeechEnd() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUserSpeaking {
		return
	}
	c.stopCaptureLocked()
	c.sendJSONLocked(protocol.SpeechEnd{Type: protocol.TypeSpeechEnd}, protocol.TypeSpeechEnd)
	c.userTurns++
	c.speechEndAt = time.Now()
	c.setStateLocked(StateThinking)
}

func (c *Controller) onLevel(rms float64) {
	if c.cb.OnLevel != nil {
		c.cb.OnLevel(rms)
	}
}

// --- channel path ---

// stale reports whether an event belongs to a connection that has since
// been superseded or torn down.
func (c *Controller) stale(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen != c.connGen
}

func (c *Controller) handleJSON(gen uint64, raw []byte) {
	if c.stale(gen) {
		return
	}
	msg, err := protocol.ParseServerMessage(raw)
	if err != nil {
		log.Printf("voice: dropping inbound message: %v", err)
		c.deps.Metrics.ObserveWSMessage("in", "invalid")
		return
	}

	switch m := msg.(type) {
	case protocol.Ready:
		c.deps.Metrics.ObserveWSMessage("in", string(protocol.TypeReady))
		c.mu.Lock()
		if gen == c.connGen && c.state == StateConnecting {
			c.deps.Latency.Observe(observability.StageConnectToReady, time.Since(c.connectAt))
			c.setStateLocked(StateIdle)
		}
		c.mu.Unlock()
	case protocol.Flow:
		c.deps.Metrics.ObserveWSMessage("in", string(protocol.TypeFlow))
		if !c.stale(gen) {
			c.gate.Apply(m.Action)
		}
	case protocol.PartialTranscript:
		c.deps.Metrics.ObserveWSMessage("in", string(protocol.TypePartialTranscript))
		if c.cb.OnPartialTranscript != nil {
			c.cb.OnPartialTranscript(m.Text)
		}
	case protocol.FinalTranscript:
		c.deps.Metrics.ObserveWSMessage("in", string(protocol.TypeFinalTranscript))
		if c.cb.OnFinalTranscript != nil {
			c.cb.OnFinalTranscript(m.Text)
		}
		c.archiveTurn(transcript.RoleUser, m.Text)
	case protocol.AssistantText:
		c.deps.Metrics.ObserveWSMessage("in", string(protocol.TypeAssistantText))
		if c.cb.OnAssistantText != nil {
			c.cb.OnAssistantText(m.Text)
		}
		c.archiveTurn(transcript.RoleAssistant, m.Text)
	case protocol.ErrorMessage:
		c.deps.Metrics.ObserveWSMessage("in", string(protocol.TypeError))
		c.handlePeerError(gen, m)
	}
}

func (c *Controller) handlePeerError(gen uint64, m protocol.ErrorMessage) {
	advisory := reliability.IsAdvisoryErrorCode(m.Code)
	sessErr := &SessionError{
		Code:     m.Code,
		Message:  m.Message,
		Advisory: advisory,
	}
	severity := "fatal"
	if advisory {
		severity = "advisory"
	}
	c.deps.Metrics.ObserveSessionError(m.Code, severity)

	c.mu.Lock()
	if gen != c.connGen {
		c.mu.Unlock()
		return
	}
	c.lastErr = sessErr
	if !advisory {
		c.teardownLocked(StateError, channel.CloseNormal, "peer error")
	}
	c.mu.Unlock()

	log.Printf("voice: peer error code=%s advisory=%t: %s", m.Code, advisory, m.Message)
	if c.cb.OnError != nil {
		c.cb.OnError(sessErr)
	}
}

// handleBinary implements the playback-driven turn: capture stops before the
// chunk is queued so the microphone never hears the speakers, and each chunk
// pushes the silence window out again.
func (c *Controller) handleBinary(gen uint64, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.connGen || c.conn == nil {
		return
	}
	c.stopCaptureLocked()
	if c.state != StateAssistantSpeaking {
		c.assistantTurns++
		c.assistAudioAt = time.Now()
		if !c.speechEndAt.IsZero() {
			d := time.Since(c.speechEndAt)
			c.deps.Metrics.ObserveFirstAudioLatency(d)
			c.deps.Latency.Observe(observability.StageSpeechEndToFirstAudio, d)
			c.speechEndAt = time.Time{}
		}
		c.setStateLocked(StateAssistantSpeaking)
	}
	c.resetSilenceLocked()
	c.deps.Player.Enqueue(data)
}

func (c *Controller) handleClose(gen uint64, code int, reason string) {
	c.mu.Lock()
	if gen != c.connGen || c.conn == nil {
		// Locally initiated teardown already ran.
		c.mu.Unlock()
		return
	}
	if code == channel.CloseNormal {
		c.teardownLocked(StateIdle, channel.CloseNormal, "peer closed")
		c.mu.Unlock()
		return
	}
	sessErr := &SessionError{
		Code:      "channel_closed",
		Message:   fmt.Sprintf("close %d: %s", code, reason),
		Retryable: reliability.IsRetryableCloseCode(code),
	}
	c.lastErr = sessErr
	c.deps.Metrics.ObserveSessionError("channel_closed", "fatal")
	c.teardownLocked(StateError, code, reason)
	c.mu.Unlock()

	log.Printf("voice: channel closed code=%d reason=%q", code, reason)
	if c.cb.OnError != nil {
		c.cb.OnError(sessErr)
	}
}

func (c *Controller) handleChannelError(gen uint64, err error) {
	sessErr := &SessionError{Code: "channel_error", Message: err.Error()}

	c.mu.Lock()
	if gen != c.connGen || c.conn == nil {
		c.mu.Unlock()
		return
	}
	c.lastErr = sessErr
	c.mu.Unlock()

	c.deps.Metrics.ObserveSessionError("channel_error", "fatal")
	log.Printf("voice: channel error: %v", err)
	if c.cb.OnError != nil {
		c.cb.OnError(sessErr)
	}
}

// --- timers and teardown ---

// silenceFired returns the turn to the user once assistant audio has been
// quiet for the full window. The transition completes under the controller
// mutex before any concurrently arriving mic sample is evaluated, so a
// speech start racing the timer opens a fresh turn strictly afterwards.
func (c *Controller) silenceFired(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.silenceGen || c.state != StateAssistantSpeaking {
		return
	}
	c.silence = nil
	if !c.assistAudioAt.IsZero() {
		c.deps.Latency.Observe(observability.StageFirstAudioToListening, time.Since(c.assistAudioAt))
		c.assistAudioAt = time.Time{}
	}
	if !c.active {
		c.setStateLocked(StateIdle)
		return
	}
	if err := c.startCaptureLocked(); err != nil {
		c.lastErr = &SessionError{Code: "capture_failed", Message: err.Error()}
		c.deps.Metrics.ObserveSessionError("capture_failed", "fatal")
		c.teardownLocked(StateError, channel.CloseNormal, "capture failed")
		return
	}
	c.setStateLocked(StateListening)
}

func (c *Controller) resetSilenceLocked() {
	if c.silence != nil {
		c.silence.Stop()
	}
	c.silenceGen++
	gen := c.silenceGen
	c.silence = time.AfterFunc(c.cfg.SilenceWindow, func() {
		c.silenceFired(gen)
	})
}

func (c *Controller) cancelSilenceLocked() {
	if c.silence != nil {
		c.silence.Stop()
		c.silence = nil
	}
	c.silenceGen++
}

// teardownLocked is the single cleanup routine every exit path converges on:
// normal disconnect, fatal peer error, abnormal close and connect abort all
// land here, so no path can leak a timer, a device or the socket.
func (c *Controller) teardownLocked(final State, code int, reason string) {
	c.connGen++
	c.stopCaptureLocked()
	c.cancelSilenceLocked()
	c.det.Reset()
	c.gate.Reset()
	c.deps.Player.Flush()
	if c.conn != nil {
		conn := c.conn
		c.conn = nil
		conn.Close(code, reason)
	}
	c.active = false
	c.speechEndAt = time.Time{}
	c.assistAudioAt = time.Time{}
	c.setStateLocked(final)
}

func (c *Controller) failConnect(gen uint64, code string, err error) {
	sessErr := &SessionError{Code: code, Message: err.Error(), Retryable: true}

	c.mu.Lock()
	if gen != c.connGen || c.state != StateConnecting {
		// Disconnect or a newer attempt already resolved this one.
		c.mu.Unlock()
		return
	}
	c.lastErr = sessErr
	c.teardownLocked(StateError, channel.CloseNormal, "connect failed")
	c.mu.Unlock()

	c.deps.Metrics.ObserveSessionError(code, "fatal")
	if c.cb.OnError != nil {
		c.cb.OnError(sessErr)
	}
}

func (c *Controller) startCaptureLocked() error {
	if c.captureOn {
		return nil
	}
	if err := c.deps.Capture.Start(c.handleFrame); err != nil {
		return err
	}
	c.captureOn = true
	return nil
}

func (c *Controller) stopCaptureLocked() {
	if !c.captureOn {
		return
	}
	c.deps.Capture.Stop()
	c.captureOn = false
}

func (c *Controller) sendJSONLocked(msg any, t protocol.MessageType) {
	if c.conn == nil {
		return
	}
	if c.conn.SendJSON(msg) {
		c.deps.Metrics.ObserveWSMessage("out", string(t))
	}
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.deps.Metrics.ObserveTransition(string(s))
	if c.cb.OnState != nil {
		c.cb.OnState(s)
	}
}

// archiveTurn persists one finished utterance when an archive store is
// configured. Failures are logged and never affect the session.
func (c *Controller) archiveTurn(role transcript.Role, text string) {
	if c.deps.Archive == nil || strings.TrimSpace(text) == "" {
		return
	}
	c.mu.Lock()
	sid := c.sessionID
	c.mu.Unlock()

	turn := transcript.Turn{
		ID:        uuid.NewString(),
		SessionID: sid,
		BookID:    c.cfg.BookID,
		ChapterID: c.cfg.ChapterID,
		PageID:    c.cfg.PageID,
		Role:      role,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.deps.Archive.SaveTurn(ctx, turn); err != nil {
			log.Printf("voice: transcript archive failed: %v", err)
		}
	}()
}
