// Package agent orchestrates a realtime voice conversation: it owns the
// duplex session, the microphone and speaker, the turn state machine, the
// transcript, and tool-call execution.
package agent

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/codes"

	"github.com/hrilab/voiceagent-core/core/realtime"
	"github.com/hrilab/voiceagent-core/core/speechtotext"
	"github.com/hrilab/voiceagent-core/core/tools"
)

const (
	// truncateSafetyMarginMs is subtracted from the playback estimate when
	// truncating interrupted assistant audio, so the server-side history
	// never claims words the user did not hear.
	truncateSafetyMarginMs = 500

	// sessionRestartGrace gives the remote time to release the old session
	// before a fresh one is established.
	sessionRestartGrace = 500 * time.Millisecond

	// recognizerTeardownGrace lets in-flight recognizer messages drain
	// before the microphone moves to another backend.
	recognizerTeardownGrace = 150 * time.Millisecond
)

// session is the duplex-connection surface the engine drives. *realtime.Client
// implements it; tests substitute fakes.
type session interface {
	Connect(ctx context.Context, connectURL string, headers http.Header) error
	Close(code int, reason string)
	IsConnected() bool
	SetSessionConfig(config realtime.SessionConfig)
	UpdateSession(config realtime.SessionConfig) bool

	SendUserText(text string) bool
	SendUserImage(dataURL string) bool
	AppendAudio(pcm []byte) bool
	RequestResponse() bool
	SendToolResult(callID, result string) bool
	CancelResponse() bool
	TruncateItem(itemID string, audioEndMs int) bool
}

// Engine is the conversation controller. Construct with NewEngine, then
// Connect; every method is safe for concurrent use.
type Engine struct {
	config  Config
	session session

	registry    *tools.Registry
	transcriber speechtotext.Transcriber

	turn       *turnManager
	responses  *responseContext
	transcript *transcriptStore
	speaker    *speaker
	input      *audioInputController
	runner     *toolRunner

	callbacks engineCallbacks

	// closing suppresses the disconnect callback while the engine itself is
	// tearing the session down.
	closing atomic.Bool

	baseContext context.Context
	closeOnce   sync.Once
}

func NewEngine(config Config, opts ...Option) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	e := &Engine{
		config:      config,
		registry:    tools.NewRegistry(tools.Builtins()...),
		turn:        newTurnManager(),
		responses:   newResponseContext(),
		baseContext: context.Background(),
	}

	e.transcript = newTranscriptStore(func(messages []Message) {
		if e.callbacks.onTranscript != nil {
			e.callbacks.onTranscript(messages)
		}
	})

	e.turn.onChange = func(previous, next TurnState) {
		if e.callbacks.onTurnState != nil {
			e.callbacks.onTurnState(previous, next)
		}
	}

	e.speaker = newSpeaker(nil)
	e.speaker.onPlaybackStart = func(string) {
		e.turn.Set(TurnStateSpeaking)
	}
	e.speaker.onPlaybackEnd = func(string) {
		if e.turn.Current() != TurnStateSpeaking {
			return
		}
		if e.responses.isGenerating() {
			e.turn.Set(TurnStateThinking)
			return
		}
		e.turn.Set(TurnStateListening)
	}

	e.input = newAudioInputController(nil, func(mode InputMode, frame []byte) {
		switch mode {
		case InputModeTranscriber:
			if e.transcriber != nil {
				if err := e.transcriber.SendAudio(frame); err != nil {
					logger.Debug("failed to forward audio to recognizer", "error", err)
				}
			}
		default:
			e.session.AppendAudio(frame)
		}
	})

	e.runner = newToolRunner(e.registry, engineToolSender{engine: e})
	e.runner.onStarted = func(call tools.Call) {
		if e.callbacks.onToolCallStarted != nil {
			e.callbacks.onToolCallStarted(call)
		}
	}
	e.runner.onCompleted = func(call tools.Call, result string, failed bool) {
		if e.callbacks.onToolCallCompleted != nil {
			e.callbacks.onToolCallCompleted(call, result, failed)
		}
	}

	e.session = realtime.NewClient(e)

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// TurnState reports the current turn state.
func (e *Engine) TurnState() TurnState { return e.turn.Current() }

// Transcript returns a copy of the conversation transcript.
func (e *Engine) Transcript() []Message { return e.transcript.Messages() }

func (e *Engine) IsConnected() bool { return e.session.IsConnected() }

// Connect establishes the session and starts the configured input backend.
// Connecting an already connected engine is a no-op.
func (e *Engine) Connect(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "connect voice session")
	defer span.End()

	if e.session.IsConnected() {
		return nil
	}
	e.closing.Store(false)

	connectURL, err := e.config.Provider.URL(e.config.Endpoint, e.config.Model)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	headers := e.config.Provider.Headers(e.config.APIKey, e.config.Model)

	e.session.SetSessionConfig(e.buildSessionConfig())
	if err := e.session.Connect(ctx, connectURL, headers); err != nil {
		recordedErr := fmt.Errorf("failed to establish session: %w", err)
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())
		return recordedErr
	}

	e.baseContext = context.WithoutCancel(ctx)
	e.turn.Set(TurnStateListening)

	if err := e.startInput(e.baseContext); err != nil {
		logger.Error("failed to start audio input", "error", err)
	}
	return nil
}

func (e *Engine) buildSessionConfig() realtime.SessionConfig {
	config := realtime.SessionConfig{
		Voice:                   e.config.Voice,
		Temperature:             e.config.Temperature,
		Instructions:            e.config.Instructions,
		InputAudioFormat:        "pcm16",
		OutputAudioFormat:       "pcm16",
		InputAudioTranscription: &realtime.AudioTranscription{Model: "whisper-1"},
		Tools:                   e.registry.Schemas(),
	}

	// Server-side voice-activity detection only runs when the microphone
	// streams into the session; nil marshals as an explicit null.
	if e.input.Mode() == InputModeRealtime {
		config.TurnDetection = &realtime.TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 500,
		}
	}
	return config
}

func (e *Engine) startInput(ctx context.Context) error {
	if e.input.Mode() == InputModeTranscriber {
		if err := e.startTranscriber(ctx); err != nil {
			return err
		}
	}
	return e.input.Start(ctx)
}

func (e *Engine) startTranscriber(ctx context.Context) error {
	if e.transcriber == nil {
		return fmt.Errorf("no transcriber configured")
	}

	return e.transcriber.Transcribe(ctx,
		speechtotext.WithEncodingInfo(e.input.EncodingInfo()),
		speechtotext.WithTranscriptionCallback(e.handleUserUtterance),
		speechtotext.WithSpeechStartedCallback(func() {
			if e.turn.Current() == TurnStateSpeaking {
				e.Interrupt()
			}
		}),
	)
}

// handleUserUtterance feeds a finished recognizer utterance into the
// conversation. Utterances arriving outside the listening state, or while
// muted, are dropped without side effects.
func (e *Engine) handleUserUtterance(transcript string) {
	if e.input.IsMuted() || e.turn.Current() != TurnStateListening {
		logger.Debug("dropping utterance outside listening state", "state", string(e.turn.Current()))
		return
	}

	if err := e.SendText(transcript); err != nil {
		logger.Error("failed to submit utterance", "error", err)
	}
}

// SendText injects a user text message and requests a response. Sending while
// the assistant is audible interrupts it first.
func (e *Engine) SendText(text string) error {
	if !e.session.IsConnected() {
		return fmt.Errorf("session not connected")
	}

	if e.turn.Current() == TurnStateSpeaking || e.responses.isGenerating() {
		e.Interrupt()
	}

	e.transcript.AddUserMessage(text)
	if !e.session.SendUserText(text) {
		return fmt.Errorf("failed to send message")
	}
	e.turn.Set(TurnStateThinking)
	if !e.session.RequestResponse() {
		return fmt.Errorf("failed to request response")
	}
	return nil
}

// SendImage injects a user image (as a data URL) and requests a response.
func (e *Engine) SendImage(dataURL string) error {
	if !e.session.IsConnected() {
		return fmt.Errorf("session not connected")
	}

	if e.turn.Current() == TurnStateSpeaking || e.responses.isGenerating() {
		e.Interrupt()
	}

	if !e.session.SendUserImage(dataURL) {
		return fmt.Errorf("failed to send image")
	}
	e.turn.Set(TurnStateThinking)
	if !e.session.RequestResponse() {
		return fmt.Errorf("failed to request response")
	}
	return nil
}

// Interrupt stops the in-flight response and whatever is audibly playing,
// truncating the server-side item to roughly what was heard. Interrupting an
// idle engine is a no-op.
func (e *Engine) Interrupt() {
	interrupted := false

	if _, ok := e.responses.cancel(); ok {
		e.session.CancelResponse()
		interrupted = true
	}

	if e.speaker.IsPlaying() {
		itemID, playedMs := e.speaker.Position()
		if itemID == "" {
			itemID = e.responses.assistantItem()
		}
		if itemID != "" {
			audioEndMs := playedMs - truncateSafetyMarginMs
			if audioEndMs < 0 {
				audioEndMs = 0
			}
			e.session.TruncateItem(itemID, audioEndMs)
		}
		interrupted = true
	}
	e.speaker.Clear()

	if interrupted {
		e.turn.Set(TurnStateListening)
	}
}

// Mute keeps capture running but stops audio from reaching any backend. The
// intent persists across session restarts and mode switches.
func (e *Engine) Mute() { e.input.Mute() }

func (e *Engine) Unmute() { e.input.Unmute() }

func (e *Engine) IsMuted() bool { return e.input.IsMuted() }

// InputMode reports the active input mode.
func (e *Engine) InputMode() InputMode { return e.input.Mode() }

// SwitchInputMode moves the microphone to the other backend, stopping the
// current one first. The session's voice-activity configuration follows the
// mode.
func (e *Engine) SwitchInputMode(mode InputMode) error {
	if mode != InputModeRealtime && mode != InputModeTranscriber {
		return fmt.Errorf("unknown input mode: %q", string(mode))
	}
	if mode == e.input.Mode() {
		return nil
	}

	if e.input.Mode() == InputModeTranscriber && e.transcriber != nil {
		if err := e.transcriber.StopStream(); err != nil {
			logger.Warn("failed to stop recognizer stream", "error", err)
		}
		time.Sleep(recognizerTeardownGrace)
	}

	changed, err := e.input.Switch(e.baseContext, mode)
	if err != nil {
		return fmt.Errorf("failed to switch input mode: %w", err)
	}
	if !changed {
		return nil
	}

	if mode == InputModeTranscriber {
		if err := e.startTranscriber(e.baseContext); err != nil {
			return err
		}
	}

	if e.session.IsConnected() {
		e.session.UpdateSession(e.buildSessionConfig())
	}
	return nil
}

// StartNewSession drops the current conversation and establishes a fresh
// session: the transcript, response bookkeeping and server-side history all
// start over. The mute intent is preserved.
func (e *Engine) StartNewSession(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "restart voice session")
	defer span.End()

	e.teardown("starting new session")
	time.Sleep(sessionRestartGrace)

	e.transcript.Reset()
	return e.Connect(ctx)
}

// Disconnect closes the session deliberately. The disconnect callback does
// not fire.
func (e *Engine) Disconnect() {
	e.teardown("client disconnect")
}

func (e *Engine) teardown(reason string) {
	e.closing.Store(true)

	// Cancel whatever is generating so the remote does not keep producing
	// into a closed session.
	if _, ok := e.responses.cancel(); ok {
		e.session.CancelResponse()
	}

	if err := e.input.Stop(); err != nil {
		logger.Warn("failed to stop audio input", "error", err)
	}
	if e.input.Mode() == InputModeTranscriber && e.transcriber != nil {
		if err := e.transcriber.StopStream(); err != nil {
			logger.Debug("failed to stop recognizer stream", "error", err)
		}
	}

	e.speaker.Clear()
	e.session.Close(websocket.CloseNormalClosure, reason)
	e.responses.reset()
	e.turn.Set(TurnStateIdle)
}

// Close shuts the engine down. Safe to call more than once.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.teardown("engine closed")
	})
}

// engineToolSender routes tool results through the engine's current session
// so a swapped session keeps receiving them.
type engineToolSender struct {
	engine *Engine
}

func (s engineToolSender) SendToolResult(callID, result string) bool {
	return s.engine.session.SendToolResult(callID, result)
}

func (s engineToolSender) RequestResponse() bool {
	return s.engine.session.RequestResponse()
}
