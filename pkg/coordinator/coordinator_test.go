package coordinator

import (
	"context"
	"net"
	"testing"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/voxcore/internal/config"
	"github.com/arzzra/voxcore/pkg/codec"
	"github.com/arzzra/voxcore/pkg/dialogfsm"
	"github.com/arzzra/voxcore/pkg/sdpneg"
)

type fakeTransport struct{}

func (fakeTransport) WriteTo(b []byte, _ net.Addr) (int, error) { return len(b), nil }
func (fakeTransport) LocalAddr() net.Addr                       { return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 20000} }

func testURI(user string) sip.Uri { return sip.Uri{User: user, Host: "example.com"} }

func newTestCoordinator(events *[]Event) *Coordinator {
	cfg := config.New(config.WithCodecPreferences(config.CodecPreference{ID: codec.G711Mu, PayloadType: 0, ClockRate: 8000}))
	return New(cfg, nil,
		WithEventHandler(func(e Event) { *events = append(*events, e) }),
		WithTransportFactory(func(int) (Transport, error) { return fakeTransport{}, nil }),
	)
}

func TestCreateOutgoingCallStartsInInitial(t *testing.T) {
	var events []Event
	c := newTestCoordinator(&events)
	callID, err := c.CreateOutgoingCall(context.Background(), testURI("alice"), testURI("bob"))
	require.NoError(t, err)
	require.NotEmpty(t, callID)
}

func TestIncomingCallAcceptReachesConfirmedAndActivatesMedia(t *testing.T) {
	var events []Event
	c := newTestCoordinator(&events)
	ctx := context.Background()

	dlg := dialogfsm.New("call-1", testURI("bob"), testURI("alice"), nil)
	callID := CallID("call-1")
	require.NoError(t, c.RegisterIncomingCall(ctx, callID, dlg, "alice-tag", testURI("alice"), 1))

	require.NoError(t, c.CompleteNegotiation(callID, sdpneg.NegotiatedMedia{
		LocalAddr:   &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 20000},
		RemoteAddr:  &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 30000},
		CodecID:     codec.G711Mu,
		PayloadType: 0,
		ClockRate:   8000,
	}))

	require.NoError(t, c.AcceptIncomingCall(ctx, callID))

	var kinds []EventKind
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	require.Contains(t, kinds, EventIncomingCall)
	require.Contains(t, kinds, EventCallAnswered)
	require.Contains(t, kinds, EventMediaActive)
}

func TestHoldRequiresActiveMedia(t *testing.T) {
	var events []Event
	c := newTestCoordinator(&events)
	ctx := context.Background()
	// Confirmed dialog without CompleteNegotiation: no Media Session exists.
	dlg := dialogfsm.New("call-3", testURI("bob"), testURI("alice"), nil)
	callID := CallID("call-3")
	require.NoError(t, c.RegisterIncomingCall(ctx, callID, dlg, "alice-tag", testURI("alice"), 1))
	require.NoError(t, c.AcceptIncomingCall(ctx, callID))
	err := c.Hold(ctx, callID)
	require.Error(t, err)
}

func TestTerminateRemovesCallAndEmitsEvent(t *testing.T) {
	var events []Event
	c := newTestCoordinator(&events)
	ctx := context.Background()

	dlg := dialogfsm.New("call-2", testURI("bob"), testURI("alice"), nil)
	callID := CallID("call-2")
	require.NoError(t, c.RegisterIncomingCall(ctx, callID, dlg, "alice-tag", testURI("alice"), 1))
	require.NoError(t, c.AcceptIncomingCall(ctx, callID))

	require.NoError(t, c.Terminate(ctx, callID, "normal"))
	_, err := c.lookup(callID)
	require.Error(t, err)

	var found bool
	for _, e := range events {
		if e.Kind == EventCallTerminated && e.Reason == "normal" {
			found = true
		}
	}
	require.True(t, found)
}

func TestBridgeRequiresBothConfirmed(t *testing.T) {
	var events []Event
	c := newTestCoordinator(&events)
	ctx := context.Background()
	callA, _ := c.CreateOutgoingCall(ctx, testURI("alice"), testURI("bob"))
	callB, _ := c.CreateOutgoingCall(ctx, testURI("alice"), testURI("carol"))
	err := c.Bridge(callA, callB)
	require.Error(t, err)
}

func TestPortAllocatorExhaustion(t *testing.T) {
	alloc := newPortAllocator(20000, 20002)
	p1, err := alloc.Allocate()
	require.NoError(t, err)
	require.Equal(t, 20000, p1)
	_, err = alloc.Allocate()
	require.Error(t, err)
	alloc.Release(p1)
	_, err = alloc.Allocate()
	require.NoError(t, err)
}
