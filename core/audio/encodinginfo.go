package audio

const (
	// DefaultSampleRate is the capture rate used by the transcription path.
	DefaultSampleRate = 16000
	// RealtimeSampleRate is the rate the duplex voice session speaks and
	// listens at.
	RealtimeSampleRate = 24000
)

type Format string

const (
	FormatMulaw    Format = "mulaw"
	FormatALaw     Format = "alaw"
	FormatLinear16 Format = "linear16"
)

func (f Format) Name() string {
	return string(f)
}

// ByteSize is the width of one sample, or -1 for unknown formats.
func (f Format) ByteSize() int {
	switch f {
	case FormatMulaw, FormatALaw:
		return 1
	case FormatLinear16:
		return 2
	}
	return -1
}

// SilenceValue is the byte that encodes silence in this format.
func (f Format) SilenceValue() byte {
	switch f {
	case FormatALaw:
		return 0x55
	case FormatMulaw:
		return 0xFF
	}
	return 0
}

// EncodingInfo describes a raw mono audio stream.
type EncodingInfo struct {
	SampleRate int
	Format     Format
}

func DefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Format: FormatLinear16}
}

func RealtimeEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: RealtimeSampleRate, Format: FormatLinear16}
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

func (e EncodingInfo) BytesPerSecond() int {
	return e.SampleRate * e.Format.ByteSize()
}

// DurationMs converts a byte count of this stream into milliseconds. Used to
// estimate how much of a buffer has been heard.
func (e EncodingInfo) DurationMs(byteLen int) int {
	bps := e.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return byteLen * 1000 / bps
}
