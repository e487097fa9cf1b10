package deepgram

import (
	"fmt"

	"github.com/hrilab/voiceagent-core/core/audio"
)

type encodingInfo struct {
	SampleRate int
	Format     encodingFormat
}

type encodingFormat string

func (e encodingFormat) Name() string { return string(e) }

const (
	encodingLinear16 encodingFormat = "linear16"
	encodingALaw     encodingFormat = "alaw"
	encodingMulaw    encodingFormat = "mulaw"
)

// convertEncoding maps a local stream description onto what the recognizer
// accepts. Companded formats are only served at telephony rates.
func convertEncoding(encoding audio.EncodingInfo) (*encodingInfo, error) {
	converted := encodingInfo{}
	switch encoding.SampleRate {
	case 8000, 16000, 24000, 32000, 48000:
		converted.SampleRate = encoding.SampleRate
	default:
		return nil, fmt.Errorf("unsupported sample rate: %d", encoding.SampleRate)
	}

	switch encoding.Format {
	case audio.FormatLinear16:
		converted.Format = encodingLinear16
	case audio.FormatALaw:
		converted.Format = encodingALaw
		if converted.SampleRate != 8000 {
			return nil, fmt.Errorf("unsupported sample rate for alaw encoding")
		}
	case audio.FormatMulaw:
		converted.Format = encodingMulaw
		if converted.SampleRate != 8000 {
			return nil, fmt.Errorf("unsupported sample rate for mulaw encoding")
		}
	default:
		return nil, fmt.Errorf("unsupported encoding: %s", encoding.Format.Name())
	}

	return &converted, nil
}
