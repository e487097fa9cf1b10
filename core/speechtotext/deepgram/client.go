package deepgram

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// TranscriptionClient streams audio to the hosted recognizer over a
// websocket and folds its responses into utterance-level callbacks.
type TranscriptionClient struct {
	apiKey string

	// connMu serializes writes; the connection handle is replaced on
	// reconnect and nulled when the read loop exits.
	connMu sync.Mutex
	conn   *websocket.Conn

	// lastMsgNano is the unix time of the last real audio write, read by
	// the silence generator.
	lastMsgNano atomic.Int64

	accumulatedTranscript string
	unendedSegment        bool
}

type ClientOption func(*TranscriptionClient)

// WithAPIKey overrides the key otherwise taken from DEEPGRAM_API_KEY.
func WithAPIKey(apiKey string) ClientOption {
	return func(c *TranscriptionClient) {
		c.apiKey = apiKey
	}
}

func NewTranscriptionClient(opts ...ClientOption) (*TranscriptionClient, error) {
	client := &TranscriptionClient{}
	for _, opt := range opts {
		opt(client)
	}

	if client.apiKey == "" {
		apiKey, ok := os.LookupEnv("DEEPGRAM_API_KEY")
		if !ok {
			return nil, fmt.Errorf("transcription api key not found")
		}
		client.apiKey = apiKey
	}

	return client, nil
}
