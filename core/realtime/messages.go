package realtime

import (
	"encoding/base64"
	"encoding/json"
)

// SessionConfig is the session-configuration payload sent in the session.update
// handshake frame and on any later settings change.
type SessionConfig struct {
	Voice             string         `json:"voice,omitempty"`
	Temperature       float64        `json:"temperature,omitempty"`
	Instructions      string         `json:"instructions,omitempty"`
	OutputAudioFormat string         `json:"output_audio_format,omitempty"`
	InputAudioFormat  string         `json:"input_audio_format,omitempty"`
	// TurnDetection is marshalled even when nil: an explicit null disables
	// server-side voice-activity detection.
	TurnDetection           *TurnDetection      `json:"turn_detection"`
	InputAudioTranscription *AudioTranscription `json:"input_audio_transcription,omitempty"`
	Tools                   []ToolSchema        `json:"tools,omitempty"`
}

// TurnDetection holds the server-side voice-activity detector parameters.
type TurnDetection struct {
	Type              string  `json:"type,omitempty"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

type AudioTranscription struct {
	Model string `json:"model,omitempty"`
}

// ToolSchema is one advertised function tool.
type ToolSchema struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type sessionUpdateFrame struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

type itemCreateFrame struct {
	Type string     `json:"type"`
	Item createItem `json:"item"`
}

type createItem struct {
	Type    string              `json:"type"`
	Role    string              `json:"role,omitempty"`
	CallID  string              `json:"call_id,omitempty"`
	Output  string              `json:"output,omitempty"`
	Content []createItemContent `json:"content,omitempty"`
}

type createItemContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type responseCreateFrame struct {
	Type     string          `json:"type"`
	Response responseDetails `json:"response"`
}

type responseDetails struct {
	Modalities []string `json:"modalities"`
}

type responseCancelFrame struct {
	Type string `json:"type"`
}

type itemTruncateFrame struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMs   int    `json:"audio_end_ms"`
}

type audioAppendFrame struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

func newUserTextFrame(text string) itemCreateFrame {
	return itemCreateFrame{
		Type: "conversation.item.create",
		Item: createItem{
			Type:    "message",
			Role:    "user",
			Content: []createItemContent{{Type: "input_text", Text: text}},
		},
	}
}

func newUserImageFrame(dataURL string) itemCreateFrame {
	return itemCreateFrame{
		Type: "conversation.item.create",
		Item: createItem{
			Type:    "message",
			Role:    "user",
			Content: []createItemContent{{Type: "input_image", ImageURL: dataURL}},
		},
	}
}

func newToolResultFrame(callID, output string) itemCreateFrame {
	return itemCreateFrame{
		Type: "conversation.item.create",
		Item: createItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	}
}

func newResponseCreateFrame() responseCreateFrame {
	return responseCreateFrame{
		Type:     "response.create",
		Response: responseDetails{Modalities: []string{"audio", "text"}},
	}
}

func newAudioAppendFrame(pcm []byte) audioAppendFrame {
	return audioAppendFrame{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	}
}
