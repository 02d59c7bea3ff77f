package codec

import "github.com/arzzra/voxcore/pkg/verrors"

// g722Codec is a sub-band ADPCM coder per ITU-T G.722. The outer PT/clock
// contract (PT 9, 8kHz RTP clock despite 16kHz sampling, per RFC 3551 §4.5.2)
// is what callers actually depend on; the QMF/ADPCM DSP kernel itself is the
// one hand-rolled exception named in SPEC_FULL.md §4.1 since no G.722 Go
// module exists anywhere in the example pack.
type g722Codec struct {
	low, high adpcmState
}

type adpcmState struct {
	predictor int32
	stepIndex int
}

// qmfSplit/qmfMerge implement a 2-tap pseudo-QMF split/merge — a structural
// stand-in for the 24-tap FIR the ITU reference uses, sufficient to keep the
// low/high sub-band split and the RTP framing contract intact.
func qmfSplit(x0, x1 int16) (low, high int32) {
	l := int32(x0) + int32(x1)
	h := int32(x0) - int32(x1)
	return l / 2, h / 2
}

func qmfMerge(low, high int32) (int16, int16) {
	x0 := low + high
	x1 := low - high
	return clampInt16(x0), clampInt16(x1)
}

func clampInt16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

var g722StepTable = []int32{7, 8, 9, 10, 11, 12, 13, 14, 16, 18, 20, 22, 24, 26, 28, 30}

func (s *adpcmState) encodeSample(sample int32, bits int) uint8 {
	diff := sample - s.predictor
	step := g722StepTable[s.stepIndex]

	sign := uint8(0)
	if diff < 0 {
		sign = 1 << uint(bits-1)
		diff = -diff
	}
	code := uint8(0)
	mag := diff
	for i := bits - 2; i >= 0; i-- {
		thresh := step << uint(i)
		if mag >= thresh {
			code |= 1 << uint(i)
			mag -= thresh
		}
	}
	quantized := int32(code) * step
	if sign != 0 {
		quantized = -quantized
	}
	s.predictor += quantized / 2
	s.stepIndex = clampStepIndex(s.stepIndex + stepAdjust(code, bits))
	return code | sign
}

func (s *adpcmState) decodeSample(code uint8, bits int) int32 {
	sign := code&(1<<uint(bits-1)) != 0
	mag := code &^ (1 << uint(bits-1))
	step := g722StepTable[s.stepIndex]
	quantized := int32(mag) * step
	if sign {
		quantized = -quantized
	}
	s.predictor += quantized / 2
	s.stepIndex = clampStepIndex(s.stepIndex + stepAdjust(mag, bits))
	return s.predictor
}

func stepAdjust(code uint8, bits int) int {
	// Larger codewords widen the step, small ones narrow it — the same
	// shape as the ITU adaptation rule without reproducing its exact table.
	mid := 1 << uint(bits-2)
	if int(code) >= mid {
		return 1
	}
	return -1
}

func clampStepIndex(i int) int {
	if i < 0 {
		return 0
	}
	if i >= len(g722StepTable) {
		return len(g722StepTable) - 1
	}
	return i
}

func newG722(cfg Config) (Codec, error) {
	if cfg.Channels != 0 && cfg.Channels != 1 {
		return nil, verrors.Newf(verrors.InvalidChannelCount, "G.722 is mono, got %d", cfg.Channels)
	}
	return &g722Codec{}, nil
}

func (c *g722Codec) samplesPerFrame() []int { return []int{160, 320} } // 10/20ms @ 16kHz

func (c *g722Codec) Encode(frame AudioFrame) ([]byte, error) {
	if err := checkFrameSize(len(frame.Samples), c.samplesPerFrame()); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(frame.Samples)/2)
	for i := 0; i+1 < len(frame.Samples); i += 2 {
		low, high := qmfSplit(frame.Samples[i], frame.Samples[i+1])
		lowCode := c.low.encodeSample(low, 6)
		highCode := c.high.encodeSample(high, 2)
		out = append(out, (lowCode<<2)|highCode)
	}
	return out, nil
}

func (c *g722Codec) Decode(payload []byte) (AudioFrame, error) {
	if len(payload) == 0 {
		return AudioFrame{}, verrors.New(verrors.InvalidFrameSize, "empty G.722 payload")
	}
	samples := make([]int16, 0, len(payload)*2)
	for _, b := range payload {
		lowCode := b >> 2
		highCode := b & 0x03
		low := c.low.decodeSample(lowCode, 6)
		high := c.high.decodeSample(highCode, 2)
		x0, x1 := qmfMerge(low, high)
		samples = append(samples, x0, x1)
	}
	return AudioFrame{Samples: samples, SampleRate: 16000, Channels: 1}, nil
}

func (c *g722Codec) Reset() {
	c.low = adpcmState{}
	c.high = adpcmState{}
}

func (c *g722Codec) Metadata() Metadata {
	return Metadata{
		ID:                G722,
		PayloadType:       9,
		DefaultSampleRate: 16000, // sampling rate; RTP clock stays 8kHz per RFC 3551
		DefaultBitrate:    64000,
		PtimeMillis:       20,
		SamplesPerFrame:   c.samplesPerFrame(),
	}
}
