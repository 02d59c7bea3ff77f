package mediasession

import (
	"github.com/arzzra/voxcore/pkg/codec"
	"github.com/arzzra/voxcore/pkg/rtpsession"
)

// ieEffTable is the per-codec equipment-impairment-vs-loss table referenced
// by spec §7's R-factor formula. Values follow the shape published in
// ITU-T G.113 Appendix I for the codecs this module supports; Opus has no
// published row and gets a wideband estimate set slightly below G.722's.
var ieEffTable = map[codec.CodecID]struct {
	ie       float64 // base equipment impairment at zero loss
	bplDegr  float64 // burst-loss degradation factor per percent lost
}{
	codec.G711Mu: {ie: 0, bplDegr: 2.5},
	codec.G711A:  {ie: 0, bplDegr: 2.5},
	codec.G722:   {ie: 10, bplDegr: 1.4},
	codec.G729A:  {ie: 11, bplDegr: 3.0},
	codec.Opus:   {ie: 8, bplDegr: 1.2},
}

// EstimateMOS applies spec §7's R-factor approximation: R = 93.2 - Id -
// Ie_eff, Id from RTT, Ie_eff from codec + loss rate, then MOS from R via
// the standard G.107 cubic, clamped to [1.0, 4.5].
func EstimateMOS(stats rtpsession.Stats, id codec.CodecID, rttSeconds float64) float64 {
	row, ok := ieEffTable[id]
	if !ok {
		row = ieEffTable[codec.G711Mu]
	}

	lossRate := 0.0
	total := stats.PacketsReceived + uint64(stats.PacketsLost)
	if total > 0 {
		lossRate = float64(stats.PacketsLost) / float64(total) * 100
	}

	rttMs := rttSeconds * 1000
	id_ := 0.024*rttMs + 0.11*(rttMs-177.3)*heaviside(rttMs-177.3)
	ieEff := row.ie + row.bplDegr*lossRate

	r := 93.2 - id_ - ieEff
	if r < 0 {
		r = 0
	}
	if r > 100 {
		r = 100
	}

	mos := 1 + 0.035*r + 7e-6*r*(r-60)*(100-r)
	if mos < 1.0 {
		mos = 1.0
	}
	if mos > 4.5 {
		mos = 4.5
	}
	return mos
}

// heaviside is the unit step function H(x) used by the Id term: 1 for
// x > 0, 0 otherwise.
func heaviside(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}
