package sdpneg

import (
	"net"
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/voxcore/pkg/codec"
	"github.com/arzzra/voxcore/pkg/verrors"
)

func testCapabilities() []Capability {
	return []Capability{
		{CodecID: codec.G711Mu, PayloadType: 0, ClockRate: 8000},
		{CodecID: codec.G729A, PayloadType: 18, ClockRate: 8000},
	}
}

func fixedPortAllocator(port int) func() (int, error) {
	return func() (int, error) { return port, nil }
}

func TestBuildOfferAdvertisesAllCapabilitiesInOrder(t *testing.T) {
	n := New(LocalConfig{
		Capabilities: testCapabilities(),
		Address:      net.IPv4(10, 0, 0, 1),
		AllocatePort: fixedPortAllocator(20000),
	})
	offer, port, err := n.BuildOffer("test", false)
	require.NoError(t, err)
	require.Equal(t, 20000, port)
	require.Equal(t, []string{"0", "18"}, offer.MediaDescriptions[0].MediaName.Formats)
}

func TestBuildOfferHoldUsesSendOnly(t *testing.T) {
	n := New(LocalConfig{Capabilities: testCapabilities(), Address: net.IPv4(10, 0, 0, 1), AllocatePort: fixedPortAllocator(20000)})
	offer, _, err := n.BuildOffer("test", true)
	require.NoError(t, err)
	require.Equal(t, DirectionSendOnly, directionOf(offer.MediaDescriptions[0]))
}

func TestBuildAnswerPicksFirstCommonCodecInRemoteOrder(t *testing.T) {
	offerer := New(LocalConfig{
		Capabilities: []Capability{{CodecID: codec.G729A, PayloadType: 18, ClockRate: 8000}, {CodecID: codec.G711Mu, PayloadType: 0, ClockRate: 8000}},
		Address:      net.IPv4(10, 0, 0, 1),
		AllocatePort: fixedPortAllocator(20000),
	})
	offer, _, err := offerer.BuildOffer("caller", false)
	require.NoError(t, err)

	answerer := New(LocalConfig{
		Capabilities: testCapabilities(), // only has PCMU(0) + G729(18), remote prefers 18 first
		Address:      net.IPv4(10, 0, 0, 2),
		AllocatePort: fixedPortAllocator(30000),
	})
	_, negotiated, err := answerer.BuildAnswer(offer, "callee")
	require.NoError(t, err)
	require.Equal(t, codec.G729A, negotiated.CodecID)
	require.Equal(t, uint8(18), negotiated.PayloadType)
}

func TestBuildAnswerNoCommonCodec(t *testing.T) {
	offerer := New(LocalConfig{
		Capabilities: []Capability{{CodecID: codec.Opus, PayloadType: 111, ClockRate: 48000}},
		Address:      net.IPv4(10, 0, 0, 1),
		AllocatePort: fixedPortAllocator(20000),
	})
	offer, _, err := offerer.BuildOffer("caller", false)
	require.NoError(t, err)

	answerer := New(LocalConfig{Capabilities: testCapabilities(), Address: net.IPv4(10, 0, 0, 2), AllocatePort: fixedPortAllocator(30000)})
	_, _, err = answerer.BuildAnswer(offer, "callee")
	require.Error(t, err)
	kind, ok := verrors.KindOf(err)
	require.True(t, ok)
	require.Equal(t, verrors.NoCommonCodec, kind)
}

func TestDirectionResolutionTable(t *testing.T) {
	require.Equal(t, DirectionSendRecv, resolveDirection(DirectionSendRecv, DirectionSendRecv))
	require.Equal(t, DirectionRecvOnly, resolveDirection(DirectionSendOnly, DirectionSendRecv))
	require.Equal(t, DirectionSendOnly, resolveDirection(DirectionRecvOnly, DirectionSendRecv))
	require.Equal(t, DirectionInactive, resolveDirection(DirectionInactive, DirectionSendRecv))
}

func TestApplyAnswerDetectsHoldTransition(t *testing.T) {
	offerer := New(LocalConfig{Capabilities: testCapabilities(), Address: net.IPv4(10, 0, 0, 1), AllocatePort: fixedPortAllocator(20000)})
	answerer := New(LocalConfig{Capabilities: testCapabilities(), Address: net.IPv4(10, 0, 0, 2), AllocatePort: fixedPortAllocator(30000)})

	offer, _, err := offerer.BuildOffer("caller", false)
	require.NoError(t, err)
	answer, _, err := answerer.BuildAnswer(offer, "callee")
	require.NoError(t, err)

	// Simulate the answerer later re-answering with sendonly (hold).
	answer.MediaDescriptions[0].Attributes = []sdp.Attribute{sdp.NewPropertyAttribute("sendonly")}

	_, holdTransition, err := offerer.ApplyAnswer(answer, DirectionSendRecv)
	require.NoError(t, err)
	require.True(t, holdTransition)
}
