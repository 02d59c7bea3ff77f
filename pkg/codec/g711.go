package codec

import (
	"github.com/arzzra/voxcore/pkg/verrors"
	"github.com/zaf/g711"
)

// g711Codec wraps zaf/g711's compand tables. µ-law (PT 0) and A-law (PT 8)
// share everything but the encode/decode function pointers — RFC 3551
// defines both as 8kHz, 64kbps, one byte per sample.
type g711Codec struct {
	alaw       bool
	sampleRate uint32
	ptimeMs    int
}

func newG711(cfg Config, alaw bool) (Codec, error) {
	rate := cfg.SampleRate
	if rate == 0 {
		rate = 8000
	}
	if rate != 8000 {
		return nil, verrors.Newf(verrors.InvalidSampleRate, "G.711 requires 8kHz, got %d", rate)
	}
	if cfg.Channels != 0 && cfg.Channels != 1 {
		return nil, verrors.Newf(verrors.InvalidChannelCount, "G.711 is mono, got %d", cfg.Channels)
	}
	return &g711Codec{alaw: alaw, sampleRate: rate, ptimeMs: 20}, nil
}

func (c *g711Codec) samplesPerFrame() []int {
	// 10/20/30ms frames at 8kHz: 80/160/240 samples. Any of these is a valid
	// packetization; the session picks one via ptime and sticks to it.
	return []int{80, 160, 240}
}

func (c *g711Codec) Encode(frame AudioFrame) ([]byte, error) {
	if err := checkFrameSize(len(frame.Samples), c.samplesPerFrame()); err != nil {
		return nil, err
	}
	if c.alaw {
		return g711.EncodeAlaw(frame.Samples), nil
	}
	return g711.EncodeUlaw(frame.Samples), nil
}

func (c *g711Codec) Decode(payload []byte) (AudioFrame, error) {
	if len(payload) == 0 {
		return AudioFrame{}, verrors.New(verrors.InvalidFrameSize, "empty G.711 payload")
	}
	var samples []int16
	if c.alaw {
		samples = g711.DecodeAlaw(payload)
	} else {
		samples = g711.DecodeUlaw(payload)
	}
	return AudioFrame{Samples: samples, SampleRate: c.sampleRate, Channels: 1}, nil
}

func (c *g711Codec) Reset() {} // compand tables carry no state across frames

func (c *g711Codec) Metadata() Metadata {
	pt := uint8(0)
	if c.alaw {
		pt = 8
	}
	return Metadata{
		ID:                codecIDFor(c.alaw),
		PayloadType:       pt,
		DefaultSampleRate: 8000,
		DefaultBitrate:    64000,
		PtimeMillis:       c.ptimeMs,
		SamplesPerFrame:   c.samplesPerFrame(),
	}
}

func codecIDFor(alaw bool) CodecID {
	if alaw {
		return G711A
	}
	return G711Mu
}
