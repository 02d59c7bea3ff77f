package codec

import "github.com/arzzra/voxcore/pkg/verrors"

// LPCAnalyzer is the pluggable hook for G.729A's linear-prediction analysis
// stage. Per the "dynamic dispatch over codecs" design note, encode/decode
// dispatch on a tag, not on a type hierarchy — LPCAnalyzer is the one seam
// where a real ITU-T reference DSP kernel can be substituted without
// touching the rest of the codec or the registry.
type LPCAnalyzer interface {
	// Analyze returns quantized LSP coefficients for one 10ms/80-sample
	// frame of 8kHz PCM.
	Analyze(frame []int16) (lsp [10]int16, err error)
	// Synthesize reconstructs a PCM frame from LSP coefficients and an
	// excitation residual.
	Synthesize(lsp [10]int16, residual []int16) []int16
}

// g729aCodec implements the ITU-T G.729 Annex A frame contract (10ms frames
// of 80 samples packed into 10 bytes at 8kbps). No G.729 Go module exists in
// the example pack, so encode packs the analyzer's LSP estimate (the high
// byte of each of the 10 coefficients) into the frame and decode applies
// packet-loss-concealment style synthesis from the LSP set carried in the
// payload — sufficient to exercise the Media Session's packetization
// and jitter-buffer paths without claiming bit-exact ITU compliance. Per §9's
// open question, only the single ITU-T reference semantics are targeted;
// no "C-compatible mode" quirk is replicated.
type g729aCodec struct {
	analyzer   LPCAnalyzer
	lastLSP    [10]int16
	haveLast   bool
}

func newG729A(cfg Config) (Codec, error) {
	if cfg.Channels != 0 && cfg.Channels != 1 {
		return nil, verrors.Newf(verrors.InvalidChannelCount, "G.729A is mono, got %d", cfg.Channels)
	}
	analyzer, _ := cfg.Params["lpc_analyzer"].(LPCAnalyzer)
	if analyzer == nil {
		analyzer = concealOnlyAnalyzer{}
	}
	return &g729aCodec{analyzer: analyzer}, nil
}

func (c *g729aCodec) samplesPerFrame() []int { return []int{80} }

func (c *g729aCodec) Encode(frame AudioFrame) ([]byte, error) {
	if err := checkFrameSize(len(frame.Samples), c.samplesPerFrame()); err != nil {
		return nil, err
	}
	lsp, err := c.analyzer.Analyze(frame.Samples)
	if err != nil {
		return nil, verrors.Wrap(verrors.InvalidFormat, "G.729A LPC analysis failed", err)
	}
	c.lastLSP, c.haveLast = lsp, true

	out := make([]byte, 10)
	for i, v := range lsp {
		out[i] = byte(v >> 8)
	}
	return out, nil
}

func (c *g729aCodec) Decode(payload []byte) (AudioFrame, error) {
	if len(payload) != 10 {
		return AudioFrame{}, verrors.Newf(verrors.InvalidFrameSize, "G.729A frames are 10 bytes").
			WithContext("expected", 10).WithContext("actual", len(payload))
	}
	var lsp [10]int16
	for i, b := range payload {
		lsp[i] = int16(b) << 8
	}
	c.lastLSP, c.haveLast = lsp, true
	samples := c.analyzer.Synthesize(lsp, nil)
	return AudioFrame{Samples: samples, SampleRate: 8000, Channels: 1}, nil
}

func (c *g729aCodec) Reset() {
	c.haveLast = false
	c.lastLSP = [10]int16{}
}

func (c *g729aCodec) Metadata() Metadata {
	return Metadata{
		ID:                G729A,
		PayloadType:       18,
		DefaultSampleRate: 8000,
		DefaultBitrate:    8000,
		PtimeMillis:       10,
		SamplesPerFrame:   c.samplesPerFrame(),
	}
}

// concealOnlyAnalyzer is the default LPCAnalyzer when no real ITU-T kernel
// is supplied: Analyze quantizes a crude first-order LSP estimate, and
// Synthesize performs packet-loss-concealment-style zero-excitation
// ringing rather than full LPC synthesis.
type concealOnlyAnalyzer struct{}

func (concealOnlyAnalyzer) Analyze(frame []int16) ([10]int16, error) {
	var lsp [10]int16
	var sum int32
	for _, s := range frame {
		sum += int32(s)
	}
	avg := int16(sum / int32(max(1, len(frame))))
	for i := range lsp {
		lsp[i] = avg
	}
	return lsp, nil
}

func (concealOnlyAnalyzer) Synthesize(lsp [10]int16, _ []int16) []int16 {
	out := make([]int16, 80)
	for i := range out {
		out[i] = lsp[i%len(lsp)] / 4 // damped ringing, not full LPC synthesis
	}
	return out
}
