package agent

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/hrilab/voiceagent-core/core/realtime"
	"github.com/hrilab/voiceagent-core/core/tools"
)

func speakingEngine(t *testing.T, responseID, itemID string) (*Engine, *fakeSession, *fakeOutput) {
	t.Helper()

	output := &fakeOutput{}
	engine, session := newTestEngine(t, WithAudioOutput(output))

	engine.HandleEvent(realtime.ResponseCreated{ResponseID: responseID})
	for range playbackHeadroomChunks {
		engine.HandleEvent(realtime.AudioDelta{ResponseID: responseID, ItemID: itemID, PCM: make([]byte, 480)})
	}
	if engine.TurnState() != TurnStateSpeaking {
		t.Fatalf("expected the assistant to be speaking, got %q", engine.TurnState())
	}
	return engine, session, output
}

func TestAssistantDeltasBuildTranscript(t *testing.T) {
	engine, _ := newTestEngine(t)

	engine.HandleEvent(realtime.ResponseCreated{ResponseID: "resp_1"})
	if engine.TurnState() != TurnStateThinking {
		t.Errorf("expected thinking once generation starts, got %q", engine.TurnState())
	}

	engine.HandleEvent(realtime.TranscriptDelta{ResponseID: "resp_1", Delta: "Hel"})
	engine.HandleEvent(realtime.TranscriptDelta{ResponseID: "resp_1", Delta: "lo"})

	messages := engine.Transcript()
	if len(messages) != 1 {
		t.Fatalf("expected one transcript message, got %d", len(messages))
	}
	if messages[0].Text != "Hello" {
		t.Errorf("expected the deltas to accumulate, got %q", messages[0].Text)
	}
	if messages[0].Speaker != SpeakerAssistant {
		t.Errorf("expected an assistant message, got %q", messages[0].Speaker)
	}
}

func TestCancelledResponseFramesAreDropped(t *testing.T) {
	output := &fakeOutput{}
	engine, session := newTestEngine(t, WithAudioOutput(output))

	engine.HandleEvent(realtime.ResponseCreated{ResponseID: "resp_1"})
	engine.Interrupt()

	session.mu.Lock()
	cancels := session.cancels
	session.mu.Unlock()
	if cancels != 1 {
		t.Fatalf("expected one response cancel, got %d", cancels)
	}

	engine.HandleEvent(realtime.TranscriptDelta{ResponseID: "resp_1", Delta: "stale"})
	engine.HandleEvent(realtime.AudioDelta{ResponseID: "resp_1", ItemID: "item_1", PCM: make([]byte, 480)})
	engine.HandleEvent(realtime.AudioDone{ResponseID: "resp_1"})

	if len(engine.Transcript()) != 0 {
		t.Error("expected cancelled transcript deltas to be dropped")
	}
	if output.sentCount() != 0 {
		t.Error("expected cancelled audio to be dropped")
	}
}

func TestSpeechStartedWhileSpeakingInterrupts(t *testing.T) {
	engine, session, output := speakingEngine(t, "resp_1", "item_1")

	engine.HandleEvent(realtime.SpeechStarted{})

	session.mu.Lock()
	defer session.mu.Unlock()
	if session.cancels != 1 {
		t.Errorf("expected the in-flight response to be cancelled, got %d cancels", session.cancels)
	}
	if len(session.truncates) != 1 {
		t.Fatalf("expected one truncate, got %d", len(session.truncates))
	}
	if session.truncates[0].itemID != "item_1" {
		t.Errorf("expected item_1 to be truncated, got %q", session.truncates[0].itemID)
	}
	// Playback just started, so the heard estimate minus the safety margin
	// clamps to zero.
	if session.truncates[0].audioEndMs != 0 {
		t.Errorf("expected the truncate position to clamp at zero, got %d", session.truncates[0].audioEndMs)
	}
	if engine.TurnState() != TurnStateListening {
		t.Errorf("expected listening after the barge-in, got %q", engine.TurnState())
	}
	if engine.speaker.IsPlaying() {
		t.Error("expected playback to be stopped")
	}
	if output.cleared == 0 {
		t.Error("expected the playback buffer to be flushed")
	}
}

func TestSpeechStartedWhileListeningIsIgnored(t *testing.T) {
	engine, session := newTestEngine(t)
	engine.turn.Set(TurnStateListening)

	engine.HandleEvent(realtime.SpeechStarted{})

	session.mu.Lock()
	defer session.mu.Unlock()
	if session.cancels != 0 || len(session.truncates) != 0 {
		t.Error("expected no interruption while nothing is playing")
	}
}

func TestResponseDoneWithoutOutputReturnsFloor(t *testing.T) {
	engine, _ := newTestEngine(t)

	engine.HandleEvent(realtime.ResponseCreated{ResponseID: "resp_1"})
	engine.HandleEvent(realtime.ResponseDone{Response: realtime.Response{ID: "resp_1", Status: "completed"}})

	if engine.TurnState() != TurnStateListening {
		t.Errorf("expected listening after an empty response, got %q", engine.TurnState())
	}
	if engine.responses.isGenerating() {
		t.Error("expected generation bookkeeping to be cleared")
	}
}

func TestFunctionCallRunsToolAndAnswersInNewBubble(t *testing.T) {
	echo := tools.Tool{
		Name:        "lookup",
		Description: "looks things up",
		Handle: func(context.Context, json.RawMessage) (string, error) {
			return `{"answer":42}`, nil
		},
	}
	engine, session := newTestEngine(t, WithTools(echo))

	engine.HandleEvent(realtime.ResponseCreated{ResponseID: "resp_1"})
	engine.HandleEvent(realtime.TranscriptDelta{ResponseID: "resp_1", Delta: "Checking."})
	engine.HandleEvent(realtime.ResponseDone{Response: realtime.Response{
		ID:     "resp_1",
		Status: "completed",
		Output: []realtime.Item{{
			Type:      "function_call",
			Name:      "lookup",
			CallID:    "call_1",
			Arguments: `{"q":"meaning"}`,
		}},
	}})

	session.waitSent(t, "tool_result")
	session.waitSent(t, "response_request")

	session.mu.Lock()
	if session.toolResults[0].callID != "call_1" || session.toolResults[0].result != `{"answer":42}` {
		t.Errorf("unexpected tool result delivery: %+v", session.toolResults[0])
	}
	session.mu.Unlock()

	// A tool call holds the floor; the turn stays in thinking.
	if engine.TurnState() != TurnStateThinking {
		t.Errorf("expected thinking while the tool runs, got %q", engine.TurnState())
	}

	// The follow-up answer starts its own transcript bubble; the pre-call
	// text stays where it was.
	engine.HandleEvent(realtime.ResponseCreated{ResponseID: "resp_2"})
	engine.HandleEvent(realtime.TranscriptDelta{ResponseID: "resp_2", Delta: "Found it."})

	messages := engine.Transcript()
	if len(messages) != 2 {
		t.Fatalf("expected the answer in a new bubble, got %d bubbles", len(messages))
	}
	if messages[0].Text != "Checking." || messages[1].Text != "Found it." {
		t.Errorf("unexpected transcript: %+v", messages)
	}
}

func TestFastDeltaBeforeToolFinishesStartsNewBubble(t *testing.T) {
	release := make(chan struct{})
	blocked := tools.Tool{
		Name:        "slow_lookup",
		Description: "blocks until released",
		Handle: func(context.Context, json.RawMessage) (string, error) {
			<-release
			return "done", nil
		},
	}
	engine, session := newTestEngine(t, WithTools(blocked))

	engine.HandleEvent(realtime.ResponseCreated{ResponseID: "resp_1"})
	engine.HandleEvent(realtime.TranscriptDelta{ResponseID: "resp_1", Delta: "One sec."})
	engine.HandleEvent(realtime.ResponseDone{Response: realtime.Response{
		ID:     "resp_1",
		Output: []realtime.Item{{Type: "function_call", Name: "slow_lookup", CallID: "call_1"}},
	}})

	// The next response races ahead of the still-running tool.
	engine.HandleEvent(realtime.ResponseCreated{ResponseID: "resp_2"})
	engine.HandleEvent(realtime.TranscriptDelta{ResponseID: "resp_2", Delta: "Here it is."})

	messages := engine.Transcript()
	if len(messages) != 2 {
		t.Fatalf("expected the racing delta in its own bubble, got %d bubbles", len(messages))
	}
	if messages[1].Text != "Here it is." {
		t.Errorf("unexpected racing bubble: %q", messages[1].Text)
	}

	close(release)
	session.waitSent(t, "tool_result")
}

func TestToolCallCallbacksAreForwarded(t *testing.T) {
	var mu sync.Mutex
	var startedCalls, completedCalls []string

	slow := tools.Tool{
		Name:        "slow",
		Description: "returns eventually",
		Handle: func(context.Context, json.RawMessage) (string, error) {
			return "done", nil
		},
	}
	engine, session := newTestEngine(t,
		WithTools(slow),
		WithToolCallStartedCallback(func(call tools.Call) {
			mu.Lock()
			startedCalls = append(startedCalls, call.Name)
			mu.Unlock()
		}),
		WithToolCallCompletedCallback(func(call tools.Call, _ string, failed bool) {
			mu.Lock()
			completedCalls = append(completedCalls, call.Name)
			mu.Unlock()
			if failed {
				t.Error("expected the tool call to succeed")
			}
		}),
	)

	engine.HandleEvent(realtime.ResponseDone{Response: realtime.Response{
		ID:     "resp_1",
		Output: []realtime.Item{{Type: "function_call", Name: "slow", CallID: "call_1"}},
	}})

	session.waitSent(t, "tool_result")
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(startedCalls) == 1 && len(completedCalls) == 1
	})
}

func TestHarmlessErrorRacesAreSuppressed(t *testing.T) {
	var mu sync.Mutex
	var errors []error

	engine, _ := newTestEngine(t, WithErrorCallback(func(err error) {
		mu.Lock()
		errors = append(errors, err)
		mu.Unlock()
	}))

	engine.HandleEvent(realtime.ErrorEvent{Error: realtime.ErrorInfo{
		Code: "response_cancel_not_active", Message: "no active response",
	}})
	engine.HandleEvent(realtime.ErrorEvent{Error: realtime.ErrorInfo{
		Code: "invalid_value", Message: "audio is already shorter than 300ms",
	}})

	mu.Lock()
	suppressed := len(errors)
	mu.Unlock()
	if suppressed != 0 {
		t.Fatalf("expected interrupt races to be suppressed, got %d errors", suppressed)
	}

	engine.HandleEvent(realtime.ErrorEvent{Error: realtime.ErrorInfo{
		Code: "server_error", Message: "something broke",
	}})

	mu.Lock()
	defer mu.Unlock()
	if len(errors) != 1 {
		t.Fatalf("expected the real error to surface, got %d", len(errors))
	}
}

func TestBufferCommittedShowsPlaceholderUntilTranscribed(t *testing.T) {
	engine, _ := newTestEngine(t)
	engine.turn.Set(TurnStateListening)

	engine.HandleEvent(realtime.BufferCommitted{ItemID: "item_1"})

	if engine.TurnState() != TurnStateThinking {
		t.Errorf("expected thinking after the utterance committed, got %q", engine.TurnState())
	}
	messages := engine.Transcript()
	if len(messages) != 1 || !messages[0].Pending {
		t.Fatalf("expected a pending user bubble, got %+v", messages)
	}

	engine.HandleEvent(realtime.UserTranscriptCompleted{ItemID: "item_1", Transcript: "what time is it"})

	messages = engine.Transcript()
	if messages[0].Pending || messages[0].Text != "what time is it" {
		t.Errorf("expected the transcript to resolve in place, got %+v", messages[0])
	}
}

func TestFailedUserTranscriptionDropsPlaceholder(t *testing.T) {
	engine, _ := newTestEngine(t)
	engine.turn.Set(TurnStateListening)

	engine.HandleEvent(realtime.BufferCommitted{ItemID: "item_1"})
	engine.HandleEvent(realtime.UserTranscriptFailed{
		ItemID: "item_1",
		Error:  realtime.ErrorInfo{Message: "audio unintelligible"},
	})

	if len(engine.Transcript()) != 0 {
		t.Error("expected the placeholder to be removed")
	}
}

func TestSendTextInterruptsAudiblePlayback(t *testing.T) {
	engine, session, _ := speakingEngine(t, "resp_1", "item_1")

	if err := engine.SendText("actually, stop"); err != nil {
		t.Fatalf("failed to send text: %v", err)
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if session.cancels != 1 || len(session.truncates) != 1 {
		t.Error("expected the audible response to be interrupted first")
	}
	if len(session.userTexts) != 1 || session.userTexts[0] != "actually, stop" {
		t.Errorf("expected the text to reach the session, got %v", session.userTexts)
	}
	if session.responseRequests != 1 {
		t.Errorf("expected one response request, got %d", session.responseRequests)
	}
	if engine.TurnState() != TurnStateThinking {
		t.Errorf("expected thinking after sending, got %q", engine.TurnState())
	}

	messages := engine.Transcript()
	if len(messages) != 1 || messages[0].Speaker != SpeakerUser {
		t.Fatalf("expected the user message in the transcript, got %+v", messages)
	}
}

func TestSendTextRequiresConnection(t *testing.T) {
	engine, session := newTestEngine(t)
	session.Close(1000, "gone")

	if err := engine.SendText("hello"); err == nil {
		t.Error("expected sending on a closed session to fail")
	}
	if len(engine.Transcript()) != 0 {
		t.Error("expected no transcript entry for the failed send")
	}
}

func TestRealtimeAudioIsForwardedToSession(t *testing.T) {
	device := &fakeInputDevice{}
	engine, session := newTestEngine(t, WithAudioInput(device))

	if err := engine.input.Start(context.Background()); err != nil {
		t.Fatalf("failed to start capture: %v", err)
	}

	device.emit([]byte{1, 2, 3})
	session.mu.Lock()
	appended := len(session.appended)
	session.mu.Unlock()
	if appended != 1 {
		t.Fatalf("expected the frame to reach the session, got %d", appended)
	}

	engine.Mute()
	device.emit([]byte{4})
	session.mu.Lock()
	appended = len(session.appended)
	session.mu.Unlock()
	if appended != 1 {
		t.Error("expected muted frames to be dropped")
	}
}

func TestTranscriberModeRoutesAudioToRecognizer(t *testing.T) {
	device := &fakeInputDevice{}
	transcriber := &fakeTranscriber{}
	engine, session := newTestEngine(t,
		WithAudioInput(device),
		WithTranscriber(transcriber),
		WithInputMode(InputModeTranscriber),
	)

	if err := engine.startInput(context.Background()); err != nil {
		t.Fatalf("failed to start input: %v", err)
	}

	device.emit([]byte{1, 2})

	transcriber.mu.Lock()
	forwarded := len(transcriber.audio)
	opened := transcriber.opened
	transcriber.mu.Unlock()
	if forwarded != 1 {
		t.Fatalf("expected the frame to reach the recognizer, got %d", forwarded)
	}
	if opened != 1 {
		t.Errorf("expected the recognizer stream to be opened, got %d", opened)
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if len(session.appended) != 0 {
		t.Error("expected no audio to reach the session in transcriber mode")
	}
}

func TestSwitchInputModeMovesTheMicrophone(t *testing.T) {
	device := &fakeInputDevice{}
	transcriber := &fakeTranscriber{}
	engine, _ := newTestEngine(t, WithAudioInput(device), WithTranscriber(transcriber))

	if err := engine.input.Start(context.Background()); err != nil {
		t.Fatalf("failed to start capture: %v", err)
	}

	if err := engine.SwitchInputMode(InputModeTranscriber); err != nil {
		t.Fatalf("failed to switch to the recognizer: %v", err)
	}
	if engine.InputMode() != InputModeTranscriber {
		t.Errorf("expected transcriber mode, got %q", engine.InputMode())
	}

	transcriber.mu.Lock()
	opened := transcriber.opened
	transcriber.mu.Unlock()
	if opened != 1 {
		t.Errorf("expected the recognizer stream to be opened, got %d", opened)
	}

	// The old backend stopped before the new one started.
	want := []string{"start", "stop", "start"}
	if got := device.recorded(); len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("expected device calls %v, got %v", want, got)
	}

	if err := engine.SwitchInputMode(InputModeRealtime); err != nil {
		t.Fatalf("failed to switch back: %v", err)
	}
	transcriber.mu.Lock()
	stopped := transcriber.stopped
	transcriber.mu.Unlock()
	if stopped != 1 {
		t.Errorf("expected the recognizer stream to be stopped, got %d", stopped)
	}
}

func TestSwitchInputModeRejectsUnknownMode(t *testing.T) {
	engine, _ := newTestEngine(t)
	if err := engine.SwitchInputMode(InputMode("semaphore")); err == nil {
		t.Error("expected an unknown input mode to be rejected")
	}
}

func TestRecognizedUtteranceOutsideListeningIsDropped(t *testing.T) {
	engine, session := newTestEngine(t)
	engine.turn.Set(TurnStateThinking)

	engine.handleUserUtterance("late words")

	session.mu.Lock()
	defer session.mu.Unlock()
	if len(session.userTexts) != 0 {
		t.Error("expected the utterance to be dropped outside listening")
	}
}

func TestDeliberateCloseSuppressesDisconnectCallback(t *testing.T) {
	disconnects := make(chan error, 1)
	engine, session := newTestEngine(t, WithDisconnectCallback(func(err error) {
		disconnects <- err
	}))

	engine.Disconnect()
	engine.HandleEvent(realtime.Closed{Code: 1000, Reason: "client disconnect"})

	select {
	case <-disconnects:
		t.Fatal("expected no disconnect callback for a deliberate close")
	case <-time.After(50 * time.Millisecond):
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if session.closes != 1 {
		t.Errorf("expected the session to be closed once, got %d", session.closes)
	}
	if engine.TurnState() != TurnStateIdle {
		t.Errorf("expected idle after disconnect, got %q", engine.TurnState())
	}
}

func TestUnexpectedCloseDropsPendingPlaceholders(t *testing.T) {
	engine, _ := newTestEngine(t)
	engine.turn.Set(TurnStateListening)

	engine.HandleEvent(realtime.BufferCommitted{ItemID: "item_1"})
	if len(engine.Transcript()) != 1 {
		t.Fatal("expected a pending bubble before the drop")
	}

	engine.HandleEvent(realtime.Closed{Code: 1006, Reason: "abnormal closure"})

	if got := engine.Transcript(); len(got) != 0 {
		t.Errorf("expected the dangling placeholder to be removed, got %+v", got)
	}
}

func TestUnexpectedCloseFiresDisconnectCallback(t *testing.T) {
	disconnects := make(chan error, 1)
	engine, _ := newTestEngine(t, WithDisconnectCallback(func(err error) {
		disconnects <- err
	}))
	engine.turn.Set(TurnStateListening)

	engine.HandleEvent(realtime.Closed{Code: 1006, Reason: "abnormal closure"})

	select {
	case <-disconnects:
	case <-time.After(time.Second):
		t.Fatal("expected the disconnect callback to fire")
	}
	if engine.TurnState() != TurnStateIdle {
		t.Errorf("expected idle after the drop, got %q", engine.TurnState())
	}
}

func TestStartNewSessionResetsConversation(t *testing.T) {
	engine, session := newTestEngine(t)

	engine.HandleEvent(realtime.ResponseCreated{ResponseID: "resp_1"})
	engine.HandleEvent(realtime.TranscriptDelta{ResponseID: "resp_1", Delta: "Old talk."})
	if engine.TurnState() != TurnStateThinking {
		t.Fatalf("expected thinking before the restart, got %q", engine.TurnState())
	}

	if err := engine.StartNewSession(context.Background()); err != nil {
		t.Fatalf("failed to start a new session: %v", err)
	}

	if len(engine.Transcript()) != 0 {
		t.Error("expected the transcript to be cleared")
	}
	if engine.responses.isGenerating() {
		t.Error("expected response bookkeeping to be cleared")
	}
	if engine.TurnState() != TurnStateListening {
		t.Errorf("expected listening after the restart, got %q", engine.TurnState())
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if session.closes != 1 {
		t.Errorf("expected the old session to be closed once, got %d", session.closes)
	}
}

func TestTurnStateCallbackSeesTransitions(t *testing.T) {
	var mu sync.Mutex
	var transitions [][2]TurnState

	engine, _ := newTestEngine(t, WithTurnStateCallback(func(previous, next TurnState) {
		mu.Lock()
		transitions = append(transitions, [2]TurnState{previous, next})
		mu.Unlock()
	}))

	engine.HandleEvent(realtime.ResponseCreated{ResponseID: "resp_1"})

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 {
		t.Fatalf("expected one transition, got %d", len(transitions))
	}
	if transitions[0] != [2]TurnState{TurnStateIdle, TurnStateThinking} {
		t.Errorf("unexpected transition: %v", transitions[0])
	}
}
