package agent

import (
	"github.com/hrilab/voiceagent-core/core/speechtotext"
	"github.com/hrilab/voiceagent-core/core/tools"
)

type Option func(*Engine)

// WithToolRegistry replaces the engine's tool registry.
func WithToolRegistry(registry *tools.Registry) Option {
	return func(e *Engine) {
		if registry != nil {
			e.registry = registry
		}
	}
}

// WithTools registers additional tools with the engine's registry.
func WithTools(extraTools ...tools.Tool) Option {
	return func(e *Engine) {
		for _, tool := range extraTools {
			if err := e.registry.Register(tool); err != nil {
				logger.Warn("skipping tool registration", "tool", tool.Name, "error", err)
			}
		}
	}
}

// WithAudioInput configures the capture device.
func WithAudioInput(device AudioInput) Option {
	return func(e *Engine) {
		e.input.setDevice(device)
	}
}

// WithAudioOutput configures the playback device.
func WithAudioOutput(output AudioOutput) Option {
	return func(e *Engine) {
		e.speaker.setOutput(output)
	}
}

// WithTranscriber configures the external recognizer backend for the
// transcriber input mode.
func WithTranscriber(transcriber speechtotext.Transcriber) Option {
	return func(e *Engine) {
		e.transcriber = transcriber
	}
}

// WithInputMode selects the initial input mode.
func WithInputMode(mode InputMode) Option {
	return func(e *Engine) {
		e.input.mode.Store(mode)
	}
}

// WithTranscriptCallback is invoked with the full transcript after every
// change.
func WithTranscriptCallback(callback func(messages []Message)) Option {
	return func(e *Engine) {
		e.callbacks.onTranscript = callback
	}
}

// WithTurnStateCallback is invoked on every turn transition.
func WithTurnStateCallback(callback func(previous, next TurnState)) Option {
	return func(e *Engine) {
		e.callbacks.onTurnState = callback
	}
}

func WithToolCallStartedCallback(callback func(call tools.Call)) Option {
	return func(e *Engine) {
		e.callbacks.onToolCallStarted = callback
	}
}

func WithToolCallCompletedCallback(callback func(call tools.Call, result string, failed bool)) Option {
	return func(e *Engine) {
		e.callbacks.onToolCallCompleted = callback
	}
}

// WithErrorCallback is invoked for session errors that are not part of a
// known harmless race.
func WithErrorCallback(callback func(err error)) Option {
	return func(e *Engine) {
		e.callbacks.onError = callback
	}
}

// WithDisconnectCallback is invoked when the session closes without the
// engine asking for it.
func WithDisconnectCallback(callback func(err error)) Option {
	return func(e *Engine) {
		e.callbacks.onDisconnect = callback
	}
}

type engineCallbacks struct {
	onTranscript        func(messages []Message)
	onTurnState         func(previous, next TurnState)
	onToolCallStarted   func(call tools.Call)
	onToolCallCompleted func(call tools.Call, result string, failed bool)
	onError             func(err error)
	onDisconnect        func(err error)
}
