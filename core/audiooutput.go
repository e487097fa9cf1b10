package agent

import (
	"sync"
	"time"

	"github.com/hrilab/voiceagent-core/core/audio"
)

// AudioOutput is the playback device surface the engine drives. AwaitMark
// blocks until everything queued before the call has been played.
type AudioOutput interface {
	SendAudio(audio []byte) error
	ClearBuffer()
	AwaitMark() error
	EncodingInfo() audio.EncodingInfo
}

// playbackHeadroomChunks is how many audio frames are held back before
// playback starts, so short network stalls do not cause audible underruns.
const playbackHeadroomChunks = 6

// speaker owns assistant audio playback for one response at a time. Frames
// of a new response id reset the position bookkeeping; cleared playback
// suppresses the end callback of whatever was playing.
type speaker struct {
	output AudioOutput

	mu         sync.Mutex
	responseID string
	itemID     string
	held       [][]byte
	started    bool
	startedAt  time.Time
	queued     int
	generation int

	onPlaybackStart func(responseID string)
	onPlaybackEnd   func(responseID string)
}

func newSpeaker(output AudioOutput) *speaker {
	return &speaker{output: output}
}

func (s *speaker) setOutput(output AudioOutput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.output = output
}

// Enqueue queues one PCM frame of the given response for playback.
func (s *speaker) Enqueue(responseID, itemID string, pcm []byte) {
	s.mu.Lock()

	if responseID != s.responseID {
		s.responseID = responseID
		s.held = nil
		s.started = false
		s.queued = 0
	}
	if itemID != "" {
		s.itemID = itemID
	}
	s.queued += len(pcm)

	if s.started {
		output := s.output
		s.mu.Unlock()
		s.send(output, pcm)
		return
	}

	s.held = append(s.held, pcm)
	if len(s.held) < playbackHeadroomChunks {
		s.mu.Unlock()
		return
	}
	s.startLocked(responseID)
}

// startLocked flushes the held frames and fires the start callback. Expects
// s.mu held; releases it.
func (s *speaker) startLocked(responseID string) {
	held := s.held
	s.held = nil
	s.started = true
	s.startedAt = time.Now()
	output := s.output
	callback := s.onPlaybackStart
	s.mu.Unlock()

	for _, frame := range held {
		s.send(output, frame)
	}
	if callback != nil {
		callback(responseID)
	}
}

func (s *speaker) send(output AudioOutput, pcm []byte) {
	if output == nil {
		return
	}
	if err := output.SendAudio(pcm); err != nil {
		logger.Error("failed to send audio to output", "error", err)
	}
}

// Finish reports that the response's audio stream is complete. Playback that
// never reached the headroom threshold starts now; the end callback fires
// once the device drains, unless the playback was cleared meanwhile.
func (s *speaker) Finish(responseID string) {
	s.mu.Lock()
	if responseID != s.responseID {
		s.mu.Unlock()
		return
	}

	if !s.started && len(s.held) > 0 {
		generation := s.generation
		s.startLocked(responseID)
		s.awaitEnd(responseID, generation)
		return
	}

	if !s.started {
		s.mu.Unlock()
		return
	}
	generation := s.generation
	s.mu.Unlock()
	s.awaitEnd(responseID, generation)
}

func (s *speaker) awaitEnd(responseID string, generation int) {
	s.mu.Lock()
	output := s.output
	s.mu.Unlock()

	go func() {
		if output != nil {
			if err := output.AwaitMark(); err != nil {
				logger.Error("failed to await playback end", "error", err)
			}
		}

		s.mu.Lock()
		stale := generation != s.generation || responseID != s.responseID
		if !stale {
			s.started = false
		}
		callback := s.onPlaybackEnd
		s.mu.Unlock()

		if !stale && callback != nil {
			callback(responseID)
		}
	}()
}

func (s *speaker) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Position reports the playing item and an estimate of how much of it has
// been heard, in milliseconds.
func (s *speaker) Position() (itemID string, playedMs int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return s.itemID, 0
	}

	elapsed := int(time.Since(s.startedAt).Milliseconds())
	total := s.encoding().DurationMs(s.queued)
	if elapsed > total {
		elapsed = total
	}
	return s.itemID, elapsed
}

func (s *speaker) encoding() audio.EncodingInfo {
	if s.output == nil {
		return audio.RealtimeEncodingInfo()
	}
	return s.output.EncodingInfo()
}

// Clear drops everything queued and suppresses the pending end callback.
func (s *speaker) Clear() {
	s.mu.Lock()
	s.generation++
	s.responseID = ""
	s.itemID = ""
	s.held = nil
	s.started = false
	s.queued = 0
	output := s.output
	s.mu.Unlock()

	if output != nil {
		output.ClearBuffer()
	}
}
