package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies control message variants on the session channel.
type MessageType string

const (
	// Outbound: client to assistant backend.
	TypeAuth        MessageType = "auth"
	TypeStart       MessageType = "start"
	TypeSpeechStart MessageType = "speechStart"
	TypeSpeechEnd   MessageType = "speechEnd"
	TypeEnd         MessageType = "end"
	TypeCancel      MessageType = "cancel"

	// Inbound: assistant backend to client.
	TypeReady             MessageType = "ready"
	TypeFlow              MessageType = "flow"
	TypePartialTranscript MessageType = "partialTranscript"
	TypeFinalTranscript   MessageType = "finalTranscript"
	TypeAssistantText     MessageType = "assistantText"
	TypeError             MessageType = "error"
)

const (
	FlowActionPause  = "pause"
	FlowActionResume = "resume"
)

// FormatPCM16LE is the only audio encoding the session channel carries.
const FormatPCM16LE = "pcm_s16le"

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// AudioFormat is negotiated once in Start and fixed for the session lifetime.
type AudioFormat struct {
	Format     string `json:"format"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

func DefaultInputFormat() AudioFormat {
	return AudioFormat{Format: FormatPCM16LE, SampleRate: 16000, Channels: 1}
}

func DefaultOutputFormat() AudioFormat {
	return AudioFormat{Format: FormatPCM16LE, SampleRate: 24000, Channels: 1}
}

type VoiceSelection struct {
	Provider string `json:"provider"`
	VoiceID  string `json:"voiceId"`
}

type Auth struct {
	Type      MessageType `json:"type"`
	Token     string      `json:"token"`
	BookID    string      `json:"bookId"`
	ChapterID string      `json:"chapterId,omitempty"`
	PageID    string      `json:"pageId,omitempty"`
}

type Start struct {
	Type        MessageType    `json:"type"`
	InputAudio  AudioFormat    `json:"inputAudio"`
	OutputAudio AudioFormat    `json:"outputAudio"`
	Voice       VoiceSelection `json:"voice"`
	Mode        string         `json:"mode"`
}

type SpeechStart struct {
	Type MessageType `json:"type"`
}

type SpeechEnd struct {
	Type MessageType `json:"type"`
}

type End struct {
	Type MessageType `json:"type"`
}

type Cancel struct {
	Type MessageType `json:"type"`
}

type Ready struct {
	Type MessageType `json:"type"`
}

type Flow struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
}

type PartialTranscript struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type FinalTranscript struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type AssistantText struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

// ParseServerMessage decodes one inbound control message from the backend.
func ParseServerMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeReady:
		return Ready{Type: TypeReady}, nil
	case TypeFlow:
		var msg Flow
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Action != FlowActionPause && msg.Action != FlowActionResume {
			return nil, fmt.Errorf("invalid flow action %q", msg.Action)
		}
		return msg, nil
	case TypePartialTranscript:
		var msg PartialTranscript
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeFinalTranscript:
		var msg FinalTranscript
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeAssistantText:
		var msg AssistantText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeError:
		var msg ErrorMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Code == "" {
			return nil, errors.New("invalid error message: missing code")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
