package rtpsession

import (
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
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

func newTestSession(t *testing.T) (*Session, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	s, err := New(Config{
		PayloadType: 0,
		ClockRate:   8000,
		Transport:   tr,
		RemoteAddr:  &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6000},
	})
	require.NoError(t, err)
	s.Start(160)
	return s, tr
}

func TestSequenceNumbersMonotonicallyIncrease(t *testing.T) {
	s, tr := newTestSession(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.SendPacket([]byte{1, 2, 3}, false))
	}
	require.Len(t, tr.sent, 5)

	var lastSeq uint16
	for i, raw := range tr.sent {
		pkt := &rtp.Packet{}
		require.NoError(t, pkt.Unmarshal(raw))
		if i > 0 {
			require.Equal(t, lastSeq+1, pkt.SequenceNumber)
		}
		lastSeq = pkt.SequenceNumber
	}
}

func TestSendPacketRejectedWhenNotActive(t *testing.T) {
	tr := &fakeTransport{}
	s, err := New(Config{PayloadType: 0, ClockRate: 8000, Transport: tr, RemoteAddr: tr.LocalAddr()})
	require.NoError(t, err)
	err = s.SendPacket([]byte{1}, false)
	require.Error(t, err)
}

func TestDuplicateDetection(t *testing.T) {
	s, _ := newTestSession(t)
	pkt := &rtp.Packet{Header: rtp.Header{Version: 2, SequenceNumber: 10, Timestamp: 1600, SSRC: 42}, Payload: []byte{1}}
	raw, err := pkt.Marshal()
	require.NoError(t, err)

	s.OnPacket(raw, time.Now())
	s.OnPacket(raw, time.Now())
	require.EqualValues(t, 1, s.Statistics().Duplicates)
}

func TestJitterBufferPreservesOrderAndDeclaresLoss(t *testing.T) {
	jb := newJitterBuffer(20*time.Millisecond, 200*time.Millisecond, 3)
	var lost []uint16
	base := time.Now()
	seqs := []uint16{1, 2, 4, 3, 5, 7, 8}
	for _, seq := range seqs {
		pkt := &rtp.Packet{Header: rtp.Header{SequenceNumber: seq, Timestamp: uint32(seq) * 160}}
		jb.Insert(pkt, base, func(s uint16) { lost = append(lost, s) })
	}

	var emitted []uint16
	for {
		pkt, ok := jb.Pop(base)
		if !ok {
			break
		}
		emitted = append(emitted, pkt.SequenceNumber)
	}

	require.Equal(t, []uint16{1, 2, 3, 4, 5, 7, 8}, emitted)
	require.Equal(t, []uint16{6}, lost)
	require.EqualValues(t, 1, jb.LostCount())
}

func TestMalformedPacketDroppedSilently(t *testing.T) {
	s, _ := newTestSession(t)
	s.OnPacket([]byte{0x00}, time.Now())
	require.EqualValues(t, 0, s.Statistics().PacketsReceived)
}

func TestFeedbackRateLimiting(t *testing.T) {
	limiter := &FeedbackLimiter{}
	now := time.Now()
	require.True(t, limiter.AllowPLI(now))
	require.False(t, limiter.AllowPLI(now.Add(100*time.Millisecond)))
	require.True(t, limiter.AllowPLI(now.Add(600*time.Millisecond)))
}

func TestRTCPIntervalFloor(t *testing.T) {
	interval := RTCPInterval(2, 160, 1000)
	require.GreaterOrEqual(t, interval, 5*time.Second)
}
