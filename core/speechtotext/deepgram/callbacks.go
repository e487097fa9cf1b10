package deepgram

import "github.com/hrilab/voiceagent-core/core/speechtotext"

// callbackConfig is the options' callback set with every slot filled, so the
// message processing path never nil-checks. websocketConfig records which
// recognizer features the configured callbacks actually need.
type callbackConfig struct {
	partialInterimTranscriptionCallback func(transcript string)
	interimTranscriptionCallback        func(transcript string)
	partialTranscriptionCallback        func(transcript string)
	transcriptionCallback               func(transcript string)

	startSpeechCallback func()
	endSpeechCallback   func()

	wantsTranscription      bool
	wantsPartialInterim     bool
	wantsAccumulatedInterim bool
}

type websocketConfig struct {
	shouldDetectSpeechStart            bool
	shouldEnhanceSpeechEndingDetection bool
	shouldRequestInterimResults        bool
}

func newCallbackConfig(options speechtotext.TranscriptionOptions) (callbackConfig, websocketConfig) {
	callbacks := callbackConfig{
		partialInterimTranscriptionCallback: options.PartialInterimTranscriptionCallback,
		interimTranscriptionCallback:        options.InterimTranscriptionCallback,
		partialTranscriptionCallback:        options.PartialTranscriptionCallback,
		transcriptionCallback:               options.TranscriptionCallback,
		startSpeechCallback:                 options.SpeechStartedCallback,
		endSpeechCallback:                   options.SpeechEndedCallback,

		wantsTranscription:      options.TranscriptionCallback != nil,
		wantsPartialInterim:     options.PartialInterimTranscriptionCallback != nil,
		wantsAccumulatedInterim: options.InterimTranscriptionCallback != nil,
	}

	wsConfig := websocketConfig{
		shouldDetectSpeechStart: options.SpeechStartedCallback != nil,
		shouldEnhanceSpeechEndingDetection: options.TranscriptionCallback != nil ||
			options.SpeechEndedCallback != nil,
		shouldRequestInterimResults: options.PartialInterimTranscriptionCallback != nil ||
			options.InterimTranscriptionCallback != nil,
	}

	noopText := func(string) {}
	noop := func() {}
	if callbacks.partialInterimTranscriptionCallback == nil {
		callbacks.partialInterimTranscriptionCallback = noopText
	}
	if callbacks.interimTranscriptionCallback == nil {
		callbacks.interimTranscriptionCallback = noopText
	}
	if callbacks.partialTranscriptionCallback == nil {
		callbacks.partialTranscriptionCallback = noopText
	}
	if callbacks.transcriptionCallback == nil {
		callbacks.transcriptionCallback = noopText
	}
	if callbacks.startSpeechCallback == nil {
		callbacks.startSpeechCallback = noop
	}
	if callbacks.endSpeechCallback == nil {
		callbacks.endSpeechCallback = noop
	}

	return callbacks, wsConfig
}
