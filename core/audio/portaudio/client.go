package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/hrilab/voiceagent-core/core/audio"
)

// Client is a blocking-I/O alternative to the miniaudio backend. It drives a
// single duplex stream and is mainly useful on platforms where miniaudio
// misbehaves.
type Client struct {
	bufferSize int
	encoding   audio.EncodingInfo
	stream     *portaudio.Stream

	pendingMu sync.Mutex
	pending   []byte

	in  []int16
	out []int16
}

func NewClient(bufferSize int, encoding audio.EncodingInfo) (*Client, error) {
	if encoding.IsZero() {
		encoding = audio.RealtimeEncodingInfo()
	}
	if encoding.Format != audio.FormatLinear16 {
		return nil, fmt.Errorf("unsupported device format: %s", encoding.Format.Name())
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize audio backend: %w", err)
	}

	in := make([]int16, bufferSize)
	out := make([]int16, bufferSize)
	stream, err := portaudio.OpenDefaultStream(1, 1, float64(encoding.SampleRate), bufferSize, in, out)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}

	return &Client{
		bufferSize: bufferSize,
		encoding:   encoding,
		stream:     stream,
		in:         in,
		out:        out,
	}, nil
}

// StartCapture reads microphone frames until ctx is cancelled, handing each
// buffer to onAudio. It blocks the calling goroutine.
func (c *Client) StartCapture(ctx context.Context, onAudio func(audio []byte)) error {
	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("failed to start audio stream: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := c.stream.Read(); err != nil {
				return fmt.Errorf("failed to read from audio stream: %w", err)
			}

			audioBuffer := bytes.Buffer{}
			if err := binary.Write(&audioBuffer, binary.LittleEndian, c.in); err != nil {
				return fmt.Errorf("failed to encode captured audio: %w", err)
			}
			onAudio(audioBuffer.Bytes())
		}
	}
}

func (c *Client) Close() {
	_ = c.stream.Close()
	_ = portaudio.Terminate()
}

// SendAudio writes full device buffers synchronously and holds back the
// remainder until the next call.
func (c *Client) SendAudio(audio []byte) error {
	bufferSize := c.bufferSize * 2

	c.pendingMu.Lock()
	audio = append(c.pending, audio...)
	c.pending = nil
	c.pendingMu.Unlock()

	offset := 0
	for ; offset+bufferSize <= len(audio); offset += bufferSize {
		if err := binary.Read(bytes.NewReader(audio[offset:offset+bufferSize]), binary.LittleEndian, c.out); err != nil {
			return fmt.Errorf("failed to decode playback audio: %w", err)
		}
		if err := c.stream.Write(); err != nil {
			return fmt.Errorf("failed to write to audio stream: %w", err)
		}
	}

	if offset < len(audio) {
		c.pendingMu.Lock()
		c.pending = append(c.pending, audio[offset:]...)
		c.pendingMu.Unlock()
	}

	return nil
}

func (c *Client) BufferedBytes() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

func (c *Client) ClearBuffer() {
	c.pendingMu.Lock()
	c.pending = nil
	c.pendingMu.Unlock()
}

// AwaitMark flushes the held-back remainder, padding the final device buffer
// with silence. The synchronous write path means everything earlier has
// already been played.
func (c *Client) AwaitMark() error {
	bufferSize := c.bufferSize * 2

	c.pendingMu.Lock()
	audio := c.pending
	c.pending = nil
	c.pendingMu.Unlock()

	if len(audio) == 0 {
		return nil
	}

	if rem := len(audio) % bufferSize; rem != 0 {
		padding := make([]byte, bufferSize-rem)
		for i := range padding {
			padding[i] = c.encoding.Format.SilenceValue()
		}
		audio = append(audio, padding...)
	}

	for offset := 0; offset < len(audio); offset += bufferSize {
		if err := binary.Read(bytes.NewReader(audio[offset:offset+bufferSize]), binary.LittleEndian, c.out); err != nil {
			return fmt.Errorf("failed to decode playback audio: %w", err)
		}
		if err := c.stream.Write(); err != nil {
			return fmt.Errorf("failed to write to audio stream: %w", err)
		}
	}
	return nil
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return c.encoding
}
