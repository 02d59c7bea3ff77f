// Package codec is the uniform encode/decode interface over the telephony
// audio codecs this stack understands: G.711 µ-law/A-law, G.722, G.729A and
// Opus. Dispatch is by a tag (CodecID), never by an inheritance hierarchy —
// the registry hands back one of a small closed set of concrete Codec
// implementations, per the "dynamic dispatch over codecs" design note.
package codec

import "github.com/arzzra/voxcore/pkg/verrors"

// CodecID names one of the supported audio codecs.
type CodecID int

const (
	G711Mu CodecID = iota
	G711A
	G722
	G729A
	Opus
)

func (id CodecID) String() string {
	switch id {
	case G711Mu:
		return "PCMU"
	case G711A:
		return "PCMA"
	case G722:
		return "G722"
	case G729A:
		return "G729A"
	case Opus:
		return "opus"
	default:
		return "unknown"
	}
}

// AudioFrame is an immutable, ordered block of signed-16 PCM samples.
// Ownership passes from producer to consumer; a frame must not be mutated
// once handed to Encode or to a subscriber.
type AudioFrame struct {
	Samples      []int16
	SampleRate   uint32
	Channels     uint8
	TimestampRTP uint32 // timestamp in samples, RTP clock units
}

// Metadata describes a codec's fixed wire properties.
type Metadata struct {
	ID              CodecID
	PayloadType      uint8 // static RTP payload type; Opus reports its default dynamic PT, 111
	DefaultSampleRate uint32
	DefaultBitrate    int
	PtimeMillis       int
	// SamplesPerFrame lists every accepted sample count per Encode call:
	// G.711 lists 80/160/240, G.722 160/320, G.729A and Opus one size each.
	SamplesPerFrame []int
}

// Codec is the uniform interface every codec implementation satisfies.
type Codec interface {
	// Encode compresses one PCM frame. The frame's sample count must be one
	// of Metadata().SamplesPerFrame or encode fails with InvalidFrameSize.
	Encode(frame AudioFrame) ([]byte, error)

	// Decode expands exactly one packetized unit into exactly one PCM frame.
	Decode(payload []byte) (AudioFrame, error)

	// Reset clears any internal codec state (e.g. ADPCM predictor, Opus
	// decoder PLC history) without reallocating the codec.
	Reset()

	Metadata() Metadata
}

// Config parametrizes Factory.New.
type Config struct {
	ID         CodecID
	SampleRate uint32
	Channels   uint8
	Bitrate    int
	// Params carries codec-specific tuning (Opus application/complexity,
	// G.729A VAD/DTX flags, ...).
	Params map[string]any
}

// Factory builds fresh encoder/decoder pairs. A single Factory instance is
// constructed once (no process-wide singleton) and shared by every Media
// Session that needs to instantiate codecs.
type Factory struct{}

// NewFactory returns a codec Factory.
func NewFactory() *Factory { return &Factory{} }

// New returns a fresh Codec instance for cfg, or UnsupportedConfiguration.
func (f *Factory) New(cfg Config) (Codec, error) {
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	switch cfg.ID {
	case G711Mu:
		return newG711(cfg, false)
	case G711A:
		return newG711(cfg, true)
	case G722:
		return newG722(cfg)
	case G729A:
		return newG729A(cfg)
	case Opus:
		return newOpus(cfg)
	default:
		return nil, verrors.Newf(verrors.UnsupportedConfiguration, "unknown codec id %v", cfg.ID)
	}
}

func checkFrameSize(got int, allowed []int) error {
	for _, want := range allowed {
		if got == want {
			return nil
		}
	}
	return verrors.Newf(verrors.InvalidFrameSize, "unsupported frame size").
		WithContext("expected", allowed).WithContext("actual", got)
}
