package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hrilab/voiceagent-core/core/audio"
)

// InputMode selects which backend consumes the microphone. The two backends
// are mutually exclusive; switching stops one before starting the other.
type InputMode string

const (
	// InputModeRealtime streams captured audio straight into the duplex
	// session, leaving voice-activity detection to the server.
	InputModeRealtime InputMode = "realtime"
	// InputModeTranscriber runs captured audio through the external
	// recognizer and injects finished utterances as text.
	InputModeTranscriber InputMode = "transcriber"
)

// AudioInput is the capture device surface the engine drives.
type AudioInput interface {
	StartCapture(ctx context.Context, onAudio func(audio []byte)) error
	EncodingInfo() audio.EncodingInfo
}

// AudioInputWithControls is implemented by devices that can stop capture
// explicitly instead of relying on context cancellation.
type AudioInputWithControls interface {
	AudioInput
	StopCapture() error
}

// audioInputController owns the microphone. Mute is a persistent user intent
// that survives session restarts and mode switches: capture keeps running,
// frames are dropped at the routing point.
type audioInputController struct {
	// mu serializes start, stop and mode switches so a new backend never
	// starts before the old one stopped.
	mu       sync.Mutex
	device   AudioInput
	controls AudioInputWithControls

	// mode is read lock-free from the capture callback; device stop can
	// block on that callback, so the hot path must not take mu.
	mode atomic.Value

	muted     atomic.Bool
	capturing atomic.Bool

	captureCancel context.CancelFunc

	onAudio func(mode InputMode, audio []byte)
}

func newAudioInputController(device AudioInput, onAudio func(mode InputMode, audio []byte)) *audioInputController {
	if onAudio == nil {
		onAudio = func(InputMode, []byte) {}
	}

	controller := &audioInputController{onAudio: onAudio}
	controller.mode.Store(InputModeRealtime)
	controller.setDevice(device)
	return controller
}

func (a *audioInputController) setDevice(device AudioInput) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.device = device
	a.controls = nil
	if controls, ok := device.(AudioInputWithControls); ok {
		a.controls = controls
	}
}

func (a *audioInputController) Mode() InputMode {
	return a.mode.Load().(InputMode)
}

func (a *audioInputController) IsConfigured() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.device != nil
}

func (a *audioInputController) IsCapturing() bool { return a.capturing.Load() }

func (a *audioInputController) Mute()         { a.muted.Store(true) }
func (a *audioInputController) Unmute()       { a.muted.Store(false) }
func (a *audioInputController) IsMuted() bool { return a.muted.Load() }

func (a *audioInputController) EncodingInfo() audio.EncodingInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.device == nil {
		return audio.RealtimeEncodingInfo()
	}
	return a.device.EncodingInfo()
}

// Start begins capture in the current mode. Starting an already capturing
// controller is a no-op.
func (a *audioInputController) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startLocked(ctx)
}

func (a *audioInputController) startLocked(ctx context.Context) error {
	if a.device == nil {
		return nil
	}
	if !a.capturing.CompareAndSwap(false, true) {
		return nil
	}

	captureCtx, cancel := context.WithCancel(ctx)
	a.captureCancel = cancel

	onFrame := func(frame []byte) {
		if a.muted.Load() {
			return
		}
		a.onAudio(a.Mode(), frame)
	}

	if a.controls != nil {
		if err := a.controls.StartCapture(captureCtx, onFrame); err != nil {
			a.capturing.Store(false)
			a.captureCancel = nil
			cancel()
			return fmt.Errorf("failed to start audio capture: %w", err)
		}
		return nil
	}

	// Blocking capture devices run until the capture context is cancelled.
	go func() {
		if err := a.device.StartCapture(captureCtx, onFrame); err != nil {
			a.capturing.Store(false)
			logger.Error("audio capture stopped", "error", err)
		}
	}()
	return nil
}

// Stop halts capture. Safe to call when not capturing.
func (a *audioInputController) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopLocked()
}

func (a *audioInputController) stopLocked() error {
	if !a.capturing.CompareAndSwap(true, false) {
		return nil
	}

	if a.captureCancel != nil {
		a.captureCancel()
		a.captureCancel = nil
	}
	if a.controls != nil {
		if err := a.controls.StopCapture(); err != nil {
			return fmt.Errorf("failed to stop audio capture: %w", err)
		}
	}
	return nil
}

// Switch changes the input mode, stopping the running capture first so both
// backends never consume the microphone at once. Reports whether the mode
// actually changed.
func (a *audioInputController) Switch(ctx context.Context, mode InputMode) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if mode == a.Mode() {
		return false, nil
	}

	wasCapturing := a.capturing.Load()
	if err := a.stopLocked(); err != nil {
		return false, err
	}
	a.mode.Store(mode)

	if wasCapturing {
		if err := a.startLocked(ctx); err != nil {
			return true, err
		}
	}
	return true, nil
}
