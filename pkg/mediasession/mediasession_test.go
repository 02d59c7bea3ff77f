package mediasession

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arzzra/voxcore/pkg/codec"
	"github.com/arzzra/voxcore/pkg/rtpsession"
)

type fakeTransport struct {
	sent [][]byte
}

func (f *fakeTransport) WriteTo(b []byte, _ net.Addr) (int, error) {
	cp := append([]byte(nil), b...)
	f.sent = append(f.sent, cp)
	return len(b), nil
}
func (f *fakeTransport) LocalAddr() net.Addr { return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5000} }

func newConfiguredSession(t *testing.T) (*Session, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	s := New(Config{})
	err := s.Configure(rtpsession.Config{
		Transport:  tr,
		RemoteAddr: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6000},
	}, NegotiatedMedia{
		CodecID:     codec.G711Mu,
		PayloadType: 0,
		ClockRate:   8000,
		Direction:   rtpsession.DirectionSendRecv,
	}, 160)
	require.NoError(t, err)
	return s, tr
}

func TestSendAudioRejectedBeforeConfigure(t *testing.T) {
	s := New(Config{})
	err := s.SendAudio(codec.AudioFrame{Samples: make([]int16, 160), SampleRate: 8000})
	require.Error(t, err)
}

func TestSendAudioTransmitsAfterConfigure(t *testing.T) {
	s, tr := newConfiguredSession(t)
	require.Equal(t, StateActive, s.State())
	err := s.SendAudio(codec.AudioFrame{Samples: make([]int16, 160), SampleRate: 8000})
	require.NoError(t, err)
	require.Len(t, tr.sent, 1)
}

func TestMuteSuppressesSend(t *testing.T) {
	s, tr := newConfiguredSession(t)
	s.Mute(MuteSend)
	require.NoError(t, s.SendAudio(codec.AudioFrame{Samples: make([]int16, 160), SampleRate: 8000}))
	require.Empty(t, tr.sent)
}

func TestHoldRequiresActive(t *testing.T) {
	s := New(Config{})
	require.Error(t, s.Hold())
}

func TestHoldThenResumeRoundTrips(t *testing.T) {
	s, _ := newConfiguredSession(t)
	require.NoError(t, s.Hold())
	require.Equal(t, StateHeld, s.State())
	require.Error(t, s.SendAudio(codec.AudioFrame{Samples: make([]int16, 160), SampleRate: 8000}))
	require.NoError(t, s.Resume())
	require.Equal(t, StateActive, s.State())
}

func TestTickHoldEmitsSilenceWithoutMoHConfigured(t *testing.T) {
	s, tr := newConfiguredSession(t)
	require.NoError(t, s.Hold())
	require.NoError(t, s.TickHold(160))
	require.Len(t, tr.sent, 1)
}

func TestSendDTMFEmitsEndRepeats(t *testing.T) {
	s, tr := newConfiguredSession(t)
	require.NoError(t, s.SendDTMF(DTMF5, 100))
	// 100ms / 20ms = 5 event packets + 3 redundant end packets.
	require.Len(t, tr.sent, 8)
}

func TestEstimateMOSClampedRange(t *testing.T) {
	mos := EstimateMOS(rtpsession.Stats{}, codec.G711Mu, 0)
	require.GreaterOrEqual(t, mos, 1.0)
	require.LessOrEqual(t, mos, 4.5)
}

func TestEstimateMOSDegradesWithLoss(t *testing.T) {
	clean := EstimateMOS(rtpsession.Stats{PacketsReceived: 100}, codec.G711Mu, 0)
	lossy := EstimateMOS(rtpsession.Stats{PacketsReceived: 80, PacketsLost: 20}, codec.G711Mu, 0)
	require.Greater(t, clean, lossy)
}
