package realtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Event is the decoded form of one inbound protocol frame. Every frame kind
// has its own concrete type so consumers dispatch with a single type switch
// and the unknown case stays explicit.
type Event interface {
	eventType() string
}

// ErrorInfo is the error payload carried by error frames and transcription
// failures.
type ErrorInfo struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Item is one conversation or response output item.
type Item struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Role      string        `json:"role"`
	Name      string        `json:"name"`
	CallID    string        `json:"call_id"`
	Arguments string        `json:"arguments"`
	Content   []ItemContent `json:"content"`
}

type ItemContent struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	Transcript string `json:"transcript"`
}

// Response is the payload of response.created and response.done frames.
type Response struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output []Item `json:"output"`
}

type SessionCreated struct {
	Session json.RawMessage
}

type SessionUpdated struct {
	Session json.RawMessage
}

// TranscriptDelta is an incremental piece of the assistant's spoken text.
type TranscriptDelta struct {
	ResponseID string
	ItemID     string
	Delta      string
}

// TranscriptDone carries the finalized assistant transcript.
type TranscriptDone struct {
	ResponseID string
	ItemID     string
	Transcript string
}

// AudioDelta is one decoded PCM frame tagged with the response it belongs to.
type AudioDelta struct {
	ResponseID string
	ItemID     string
	PCM        []byte
}

type AudioDone struct {
	ResponseID string
}

type ResponseCreated struct {
	ResponseID string
}

type ResponseDone struct {
	Response Response
}

// OutputItemAdded reports an item appearing in the in-flight response. Used to
// track the assistant item id for later truncation.
type OutputItemAdded struct {
	Item Item
}

type ItemCreated struct {
	Item Item
}

type ItemTruncated struct {
	ItemID string
}

// SpeechStarted and SpeechStopped are server-side voice-activity events for
// the user's audio buffer.
type SpeechStarted struct {
	ItemID string
}

type SpeechStopped struct {
	ItemID string
}

// BufferCommitted reports that the server accepted the user's audio buffer
// and will generate a response for it.
type BufferCommitted struct {
	ItemID string
}

type UserTranscriptCompleted struct {
	ItemID     string
	Transcript string
}

type UserTranscriptFailed struct {
	ItemID string
	Error  ErrorInfo
}

type ErrorEvent struct {
	Error ErrorInfo
}

type RateLimitsUpdated struct{}

// Unknown is the catch-all for frame kinds this client does not understand.
// Unknown frames are logged and never fatal.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

// Closed is a synthetic event reporting that the transport went away. It is
// not a wire frame; the read loop emits it exactly once when the connection
// ends, with Err set for abnormal closure.
type Closed struct {
	Code   int
	Reason string
	Err    error
}

func (SessionCreated) eventType() string          { return "session.created" }
func (SessionUpdated) eventType() string          { return "session.updated" }
func (TranscriptDelta) eventType() string         { return "response.audio_transcript.delta" }
func (TranscriptDone) eventType() string          { return "response.audio_transcript.done" }
func (AudioDelta) eventType() string              { return "response.audio.delta" }
func (AudioDone) eventType() string               { return "response.audio.done" }
func (ResponseCreated) eventType() string         { return "response.created" }
func (ResponseDone) eventType() string            { return "response.done" }
func (OutputItemAdded) eventType() string         { return "response.output_item.added" }
func (ItemCreated) eventType() string             { return "conversation.item.created" }
func (ItemTruncated) eventType() string           { return "conversation.item.truncated" }
func (SpeechStarted) eventType() string           { return "input_audio_buffer.speech_started" }
func (SpeechStopped) eventType() string           { return "input_audio_buffer.speech_stopped" }
func (BufferCommitted) eventType() string         { return "input_audio_buffer.committed" }
func (UserTranscriptCompleted) eventType() string { return "conversation.item.input_audio_transcription.completed" }
func (UserTranscriptFailed) eventType() string    { return "conversation.item.input_audio_transcription.failed" }
func (ErrorEvent) eventType() string              { return "error" }
func (RateLimitsUpdated) eventType() string       { return "rate_limits.updated" }
func (Unknown) eventType() string                 { return "unknown" }
func (Closed) eventType() string                  { return "closed" }

// Handler receives every decoded inbound event. Implementations must not
// block; slow work belongs on a separate worker.
type Handler interface {
	HandleEvent(Event)
}

type frameEnvelope struct {
	Type       string          `json:"type"`
	Delta      string          `json:"delta"`
	Transcript string          `json:"transcript"`
	ResponseID string          `json:"response_id"`
	ItemID     string          `json:"item_id"`
	Session    json.RawMessage `json:"session"`
	Response   *Response       `json:"response"`
	Item       *Item           `json:"item"`
	Error      *ErrorInfo      `json:"error"`
}

// DecodeEvent parses one inbound frame into its typed event. The generally
// available endpoint renamed the audio and transcript frames; both spellings
// decode to the same event type.
func DecodeEvent(data []byte) (Event, error) {
	var frame frameEnvelope
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("failed to parse frame: %w", err)
	}

	switch frame.Type {
	case "session.created":
		return SessionCreated{Session: frame.Session}, nil
	case "session.updated":
		return SessionUpdated{Session: frame.Session}, nil

	case "response.audio_transcript.delta", "response.output_audio_transcript.delta":
		return TranscriptDelta{ResponseID: frame.ResponseID, ItemID: frame.ItemID, Delta: frame.Delta}, nil
	case "response.audio_transcript.done", "response.output_audio_transcript.done":
		return TranscriptDone{ResponseID: frame.ResponseID, ItemID: frame.ItemID, Transcript: frame.Transcript}, nil

	case "response.audio.delta", "response.output_audio.delta":
		pcm, err := base64.StdEncoding.DecodeString(frame.Delta)
		if err != nil {
			return nil, fmt.Errorf("failed to decode audio delta: %w", err)
		}
		return AudioDelta{ResponseID: frame.ResponseID, ItemID: frame.ItemID, PCM: pcm}, nil
	case "response.audio.done", "response.output_audio.done":
		return AudioDone{ResponseID: frame.ResponseID}, nil

	case "response.created":
		event := ResponseCreated{}
		if frame.Response != nil {
			event.ResponseID = frame.Response.ID
		}
		return event, nil
	case "response.done":
		event := ResponseDone{}
		if frame.Response != nil {
			event.Response = *frame.Response
		}
		return event, nil

	case "response.output_item.added":
		event := OutputItemAdded{}
		if frame.Item != nil {
			event.Item = *frame.Item
		}
		return event, nil
	case "conversation.item.created", "conversation.item.added":
		event := ItemCreated{}
		if frame.Item != nil {
			event.Item = *frame.Item
		}
		return event, nil
	case "conversation.item.truncated":
		return ItemTruncated{ItemID: frame.ItemID}, nil

	case "input_audio_buffer.speech_started":
		return SpeechStarted{ItemID: frame.ItemID}, nil
	case "input_audio_buffer.speech_stopped":
		return SpeechStopped{ItemID: frame.ItemID}, nil
	case "input_audio_buffer.committed":
		return BufferCommitted{ItemID: frame.ItemID}, nil

	case "conversation.item.input_audio_transcription.completed":
		return UserTranscriptCompleted{ItemID: frame.ItemID, Transcript: frame.Transcript}, nil
	case "conversation.item.input_audio_transcription.failed":
		event := UserTranscriptFailed{ItemID: frame.ItemID}
		if frame.Error != nil {
			event.Error = *frame.Error
		}
		return event, nil

	case "error":
		event := ErrorEvent{}
		if frame.Error != nil {
			event.Error = *frame.Error
		}
		return event, nil

	case "rate_limits.updated":
		return RateLimitsUpdated{}, nil
	}

	return Unknown{Type: frame.Type, Raw: json.RawMessage(data)}, nil
}
