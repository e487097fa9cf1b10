package agent

import (
	"fmt"
	"strings"

	"github.com/hrilab/voiceagent-core/core/realtime"
	"github.com/hrilab/voiceagent-core/core/tools"
)

// HandleEvent dispatches one inbound session event. It runs on the session's
// read goroutine, so anything slow is handed off.
func (e *Engine) HandleEvent(event realtime.Event) {
	switch ev := event.(type) {
	case realtime.SessionCreated:
		logger.Info("session created")

	case realtime.SessionUpdated:
		logger.Debug("session configuration acknowledged")

	case realtime.ResponseCreated:
		e.responses.begin(ev.ResponseID)
		if e.turn.Current() != TurnStateSpeaking {
			e.turn.Set(TurnStateThinking)
		}

	case realtime.TranscriptDelta:
		if _, cancelled := e.responses.observe(ev.ResponseID); cancelled {
			return
		}
		e.transcript.AppendAssistantDelta(ev.ResponseID, ev.Delta)

	case realtime.TranscriptDone:
		// The transcript was already accumulated from deltas.

	case realtime.AudioDelta:
		if _, cancelled := e.responses.observe(ev.ResponseID); cancelled {
			return
		}
		e.speaker.Enqueue(ev.ResponseID, ev.ItemID, ev.PCM)

	case realtime.AudioDone:
		if _, cancelled := e.responses.observe(ev.ResponseID); cancelled {
			return
		}
		e.speaker.Finish(ev.ResponseID)

	case realtime.OutputItemAdded:
		if ev.Item.Type == "message" && ev.Item.ID != "" {
			e.responses.setAssistantItem(ev.Item.ID)
		}

	case realtime.ResponseDone:
		e.handleResponseDone(ev.Response)

	case realtime.SpeechStarted:
		// The user started talking; stop the assistant if it is audible.
		if e.turn.Current() == TurnStateSpeaking {
			e.Interrupt()
		}

	case realtime.SpeechStopped:

	case realtime.BufferCommitted:
		e.transcript.AddPendingUserMessage(ev.ItemID)
		if e.turn.Current() == TurnStateListening {
			e.turn.Set(TurnStateThinking)
		}

	case realtime.UserTranscriptCompleted:
		e.transcript.ResolvePendingUserMessage(ev.ItemID, ev.Transcript)

	case realtime.UserTranscriptFailed:
		logger.Warn("user transcription failed", "item_id", ev.ItemID, "error", ev.Error.Message)
		e.transcript.DropPendingUserMessage(ev.ItemID)

	case realtime.ItemCreated, realtime.ItemTruncated, realtime.RateLimitsUpdated:

	case realtime.ErrorEvent:
		e.handleSessionError(ev)

	case realtime.Closed:
		e.handleClosed(ev)

	case realtime.Unknown:
		logger.Debug("ignoring unknown frame", "type", ev.Type)
	}
}

func (e *Engine) handleResponseDone(response realtime.Response) {
	_, cancelled := e.responses.observe(response.ID)
	e.responses.finish(response.ID)

	if cancelled {
		if !e.speaker.IsPlaying() && e.turn.Current() == TurnStateThinking {
			e.turn.Set(TurnStateListening)
		}
		return
	}

	requestedTools := false
	for _, item := range response.Output {
		if item.Type != "function_call" {
			continue
		}
		requestedTools = true
		// Armed before the tool runs, so a fast follow-up delta already
		// starts its own bubble.
		e.transcript.ExpectFinalAnswer()
		e.runner.Submit(e.baseContext, tools.Call{
			ID:        item.CallID,
			Name:      item.Name,
			Arguments: item.Arguments,
		})
	}

	// Tool calls keep the turn in thinking until the follow-up response; a
	// response that produced no audio hands the floor straight back.
	if !requestedTools && !e.speaker.IsPlaying() && e.turn.Current() == TurnStateThinking {
		e.turn.Set(TurnStateListening)
	}
}

// handleSessionError separates real failures from the benign races that a
// user interrupt can produce: cancelling a response that just finished, or
// truncating an item that is already shorter than the requested position.
func (e *Engine) handleSessionError(ev realtime.ErrorEvent) {
	if isHarmlessErrorRace(ev.Error) {
		logger.Debug("ignoring benign session error", "code", ev.Error.Code, "message", ev.Error.Message)
		return
	}

	logger.Error("session error", "code", ev.Error.Code, "message", ev.Error.Message)
	if e.callbacks.onError != nil {
		e.callbacks.onError(fmt.Errorf("session error %s: %s", ev.Error.Code, ev.Error.Message))
	}
}

func isHarmlessErrorRace(errInfo realtime.ErrorInfo) bool {
	if errInfo.Code == "response_cancel_not_active" {
		return true
	}
	if errInfo.Code == "invalid_value" && strings.Contains(errInfo.Message, "already shorter than") {
		return true
	}
	return false
}

func (e *Engine) handleClosed(ev realtime.Closed) {
	deliberate := e.closing.Load()

	if err := e.input.Stop(); err != nil {
		logger.Debug("failed to stop audio input", "error", err)
	}
	e.speaker.Clear()
	e.responses.reset()
	// Transcriptions for committed utterances can no longer arrive.
	e.transcript.DropAllPendingUserMessages()
	e.turn.Set(TurnStateIdle)

	if deliberate {
		return
	}

	logger.Error("session closed unexpectedly", "code", ev.Code, "reason", ev.Reason, "error", ev.Err)
	if e.callbacks.onDisconnect != nil {
		e.callbacks.onDisconnect(ev.Err)
	}
}
