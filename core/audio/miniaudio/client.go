package miniaudio

import (
	"context"
	"fmt"

	"github.com/gen2brain/malgo"

	"github.com/hrilab/voiceagent-core/core/audio"
)

// Client owns one miniaudio context with a capture and a playback device,
// both opened at the requested encoding.
type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext
	encoding     audio.EncodingInfo

	playbackClient
	captureClient
}

func NewClient(encoding audio.EncodingInfo) (*Client, error) {
	if encoding.IsZero() {
		encoding = audio.RealtimeEncodingInfo()
	}
	if encoding.Format != audio.FormatLinear16 {
		return nil, fmt.Errorf("unsupported device format: %s", encoding.Format.Name())
	}

	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	client := Client{
		audioContext: audioCtx,
		encoding:     encoding,
	}

	if err := client.playbackClient.Init(audioCtx, encoding); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize playback device: %w", err)
	}

	if err := client.playbackClient.Start(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}

	if err := client.captureClient.Init(audioCtx, encoding); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize capture device: %w", err)
	}

	return &client, nil
}

func (c *Client) StartCapture(_ context.Context, onAudio func(audio []byte)) error {
	return c.captureClient.Start(onAudio)
}

func (c *Client) StopCapture() error {
	return c.captureClient.Stop()
}

func (c *Client) StartPlayback(_ context.Context) error {
	return c.playbackClient.Start()
}

func (c *Client) StopPlayback() error {
	return c.playbackClient.Stop()
}

func (c *Client) Close() {
	_ = c.captureClient.Uninit()
	_ = c.playbackClient.Uninit()
	_ = c.audioContext.Uninit()
	c.audioContext.Free()
}

func (c *Client) SendAudio(audio []byte) error {
	return c.playbackClient.SendAudio(audio)
}

// BufferedBytes reports how much queued audio has not reached the device yet.
func (c *Client) BufferedBytes() int {
	return c.playbackClient.BufferedBytes()
}

func (c *Client) ClearBuffer() {
	c.playbackClient.ClearBuffer()
}

// AwaitMark suspends until everything queued before the call has been played.
func (c *Client) AwaitMark() error {
	return c.playbackClient.AwaitMark()
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return c.encoding
}
