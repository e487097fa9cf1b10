package agent

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/hrilab/voiceagent-core/core/audio"
	"github.com/hrilab/voiceagent-core/core/realtime"
	"github.com/hrilab/voiceagent-core/core/speechtotext"
)

// fakeSession records every outbound call so tests can assert protocol
// behavior without a transport.
type fakeSession struct {
	mu        sync.Mutex
	connected bool

	userTexts   []string
	userImages  []string
	toolResults []fakeToolResult
	truncates   []fakeTruncate
	appended    [][]byte

	responseRequests int
	cancels          int
	closes           int

	// refuse makes every send fail, simulating a dropped session.
	refuse bool

	sent chan string
}

type fakeToolResult struct {
	callID string
	result string
}

type fakeTruncate struct {
	itemID     string
	audioEndMs int
}

func newFakeSession() *fakeSession {
	return &fakeSession{connected: true, sent: make(chan string, 64)}
}

func (f *fakeSession) record(kind string) {
	select {
	case f.sent <- kind:
	default:
	}
}

func (f *fakeSession) Connect(context.Context, string, http.Header) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeSession) Close(int, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.closes++
}

func (f *fakeSession) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSession) SetSessionConfig(realtime.SessionConfig) {}

func (f *fakeSession) UpdateSession(realtime.SessionConfig) bool { return !f.failing() }

func (f *fakeSession) failing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refuse || !f.connected
}

func (f *fakeSession) SendUserText(text string) bool {
	if f.failing() {
		return false
	}
	f.mu.Lock()
	f.userTexts = append(f.userTexts, text)
	f.mu.Unlock()
	f.record("user_text")
	return true
}

func (f *fakeSession) SendUserImage(dataURL string) bool {
	if f.failing() {
		return false
	}
	f.mu.Lock()
	f.userImages = append(f.userImages, dataURL)
	f.mu.Unlock()
	f.record("user_image")
	return true
}

func (f *fakeSession) AppendAudio(pcm []byte) bool {
	if f.failing() {
		return false
	}
	f.mu.Lock()
	f.appended = append(f.appended, pcm)
	f.mu.Unlock()
	f.record("audio")
	return true
}

func (f *fakeSession) RequestResponse() bool {
	if f.failing() {
		return false
	}
	f.mu.Lock()
	f.responseRequests++
	f.mu.Unlock()
	f.record("response_request")
	return true
}

func (f *fakeSession) SendToolResult(callID, result string) bool {
	if f.failing() {
		return false
	}
	f.mu.Lock()
	f.toolResults = append(f.toolResults, fakeToolResult{callID: callID, result: result})
	f.mu.Unlock()
	f.record("tool_result")
	return true
}

func (f *fakeSession) CancelResponse() bool {
	if f.failing() {
		return false
	}
	f.mu.Lock()
	f.cancels++
	f.mu.Unlock()
	f.record("cancel")
	return true
}

func (f *fakeSession) TruncateItem(itemID string, audioEndMs int) bool {
	if f.failing() {
		return false
	}
	f.mu.Lock()
	f.truncates = append(f.truncates, fakeTruncate{itemID: itemID, audioEndMs: audioEndMs})
	f.mu.Unlock()
	f.record("truncate")
	return true
}

func (f *fakeSession) waitSent(t *testing.T, kind string) {
	t.Helper()
	for {
		select {
		case got := <-f.sent:
			if got == kind {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s to be sent", kind)
		}
	}
}

// fakeOutput is an instantly draining playback device.
type fakeOutput struct {
	mu      sync.Mutex
	sent    [][]byte
	cleared int
}

func (f *fakeOutput) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, pcm)
	return nil
}

func (f *fakeOutput) ClearBuffer() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
}

func (f *fakeOutput) AwaitMark() error { return nil }

func (f *fakeOutput) EncodingInfo() audio.EncodingInfo {
	return audio.RealtimeEncodingInfo()
}

func (f *fakeOutput) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeInputDevice records capture start/stop ordering.
type fakeInputDevice struct {
	mu      sync.Mutex
	events  []string
	onAudio func(audio []byte)
}

func (f *fakeInputDevice) StartCapture(_ context.Context, onAudio func(audio []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "start")
	f.onAudio = onAudio
	return nil
}

func (f *fakeInputDevice) StopCapture() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "stop")
	f.onAudio = nil
	return nil
}

func (f *fakeInputDevice) EncodingInfo() audio.EncodingInfo {
	return audio.RealtimeEncodingInfo()
}

func (f *fakeInputDevice) emit(pcm []byte) {
	f.mu.Lock()
	onAudio := f.onAudio
	f.mu.Unlock()
	if onAudio != nil {
		onAudio(pcm)
	}
}

func (f *fakeInputDevice) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := make([]string, len(f.events))
	copy(events, f.events)
	return events
}

// fakeTranscriber records stream lifecycle and captured audio.
type fakeTranscriber struct {
	mu      sync.Mutex
	opened  int
	stopped int
	audio   [][]byte
	options speechtotext.TranscriptionOptions
}

func (f *fakeTranscriber) Transcribe(_ context.Context, opts ...speechtotext.TranscriptionOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	f.options = speechtotext.TranscriptionOptions{}
	for _, opt := range opts {
		opt(&f.options)
	}
	return nil
}

func (f *fakeTranscriber) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, pcm)
	return nil
}

func (f *fakeTranscriber) StopStream() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

// newTestEngine builds an engine wired to a fake session.
func newTestEngine(t *testing.T, opts ...Option) (*Engine, *fakeSession) {
	t.Helper()

	engine, err := NewEngine(Config{APIKey: "test-key"}, opts...)
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}

	session := newFakeSession()
	engine.session = session
	return engine, session
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}
