package codec

import (
	"github.com/arzzra/voxcore/pkg/verrors"
	"gopkg.in/hraban/opus.v2"
)

// opusCodec wraps gopkg.in/hraban/opus.v2's libopus bindings. Opus is the
// only codec in this registry with a dynamic payload type and a variable
// sample rate/bitrate, per RFC 3551's "no static PT" carve-out for Opus.
type opusCodec struct {
	enc        *opus.Encoder
	dec        *opus.Decoder
	sampleRate int
	channels   int
	frameLen   int // samples per channel per Encode call
}

var validOpusRates = map[uint32]bool{8000: true, 12000: true, 16000: true, 24000: true, 48000: true}

func newOpus(cfg Config) (Codec, error) {
	rate := cfg.SampleRate
	if rate == 0 {
		rate = 48000
	}
	if !validOpusRates[rate] {
		return nil, verrors.Newf(verrors.InvalidSampleRate, "opus supports 8/12/16/24/48kHz, got %d", rate)
	}
	channels := int(cfg.Channels)
	if channels == 0 {
		channels = 1
	}
	if channels != 1 && channels != 2 {
		return nil, verrors.Newf(verrors.InvalidChannelCount, "opus supports mono/stereo, got %d", channels)
	}
	bitrate := cfg.Bitrate
	if bitrate == 0 {
		bitrate = 32000
	}
	if bitrate < 6000 || bitrate > 128000 {
		return nil, verrors.Newf(verrors.InvalidBitrate, "opus bitrate must be 6-128kbps, got %d", bitrate)
	}

	enc, err := opus.NewEncoder(int(rate), channels, opus.AppVoIP)
	if err != nil {
		return nil, verrors.Wrap(verrors.UnsupportedConfiguration, "opus encoder init", err)
	}
	if err := enc.SetBitrate(bitrate); err != nil {
		return nil, verrors.Wrap(verrors.InvalidBitrate, "opus set bitrate", err)
	}
	dec, err := opus.NewDecoder(int(rate), channels)
	if err != nil {
		return nil, verrors.Wrap(verrors.UnsupportedConfiguration, "opus decoder init", err)
	}

	ptimeMs := 20
	frameLen := int(rate) * ptimeMs / 1000

	return &opusCodec{enc: enc, dec: dec, sampleRate: int(rate), channels: channels, frameLen: frameLen}, nil
}

func (c *opusCodec) samplesPerFrame() []int { return []int{c.frameLen * c.channels} }

func (c *opusCodec) Encode(frame AudioFrame) ([]byte, error) {
	if err := checkFrameSize(len(frame.Samples), c.samplesPerFrame()); err != nil {
		return nil, err
	}
	buf := make([]byte, 4000) // generous upper bound for one Opus frame
	n, err := c.enc.Encode(frame.Samples, buf)
	if err != nil {
		return nil, verrors.Wrap(verrors.InvalidFormat, "opus encode", err)
	}
	return buf[:n], nil
}

func (c *opusCodec) Decode(payload []byte) (AudioFrame, error) {
	pcm := make([]int16, c.frameLen*c.channels)
	n, err := c.dec.Decode(payload, pcm)
	if err != nil {
		return AudioFrame{}, verrors.Wrap(verrors.InvalidFormat, "opus decode", err)
	}
	return AudioFrame{
		Samples:    pcm[:n*c.channels],
		SampleRate: uint32(c.sampleRate),
		Channels:   uint8(c.channels),
	}, nil
}

func (c *opusCodec) Reset() {
	_ = c.dec.ResetState()
}

func (c *opusCodec) Metadata() Metadata {
	return Metadata{
		ID:                Opus,
		PayloadType:       111, // dynamic; negotiated per call via SDP rtpmap
		DefaultSampleRate: uint32(c.sampleRate),
		DefaultBitrate:    32000,
		PtimeMillis:       20,
		SamplesPerFrame:   c.samplesPerFrame(),
	}
}
