package voice

// State is the session's conversational phase. Exactly one value is active
// at a time and only the controller mutates it.
type State string

const (
	StateIdle              State = "idle"
	StateConnecting        State = "connecting"
	StateListening         State = "listening"
	StateUserSpeaking      State = "user_speaking"
	StateThinking          State = "thinking"
	StateAssistantSpeaking State = "assistant_speaking"
	StateError             State = "error"
	StateDisconnected      State = "disconnected"
)

// allowsDetection reports whether voice-activity boundaries may open a new
// turn in this state. Speech detected while the assistant is mid-turn is
// suppressed, not queued.
func (s State) allowsDetection() bool {
	return s == StateListening || s == StateUserSpeaking
}
