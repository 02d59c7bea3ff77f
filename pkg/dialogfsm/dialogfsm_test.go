package dialogfsm

import (
	"context"
	"testing"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/require"
)

func testURI(user string) sip.Uri {
	return sip.Uri{User: user, Host: "example.com"}
}

func TestOutgoingCallReachesConfirmed(t *testing.T) {
	ctx := context.Background()
	d := New("call-1", testURI("alice"), testURI("bob"), nil)
	require.Equal(t, StateInitial, d.State())

	require.NoError(t, d.SendInvite(ctx))
	require.EqualValues(t, 1, d.LocalCSeq())

	require.NoError(t, d.RecvProvisional(ctx, "bob-tag", testURI("bob"), nil))
	require.Equal(t, StateEarly, d.State())

	require.NoError(t, d.Recv2xx(ctx, "bob-tag", nil))
	require.Equal(t, StateConfirmed, d.State())

	localTag, remoteTag, bothSet := d.Tags()
	require.NotEmpty(t, localTag)
	require.Equal(t, "bob-tag", remoteTag)
	require.True(t, bothSet)
}

func TestIncomingCallReachesConfirmed(t *testing.T) {
	ctx := context.Background()
	d := New("call-2", testURI("bob"), testURI("alice"), nil)
	require.NoError(t, d.RecvIncomingInvite(ctx, "alice-tag", testURI("alice"), 1))
	require.Equal(t, StateEarly, d.State())
	require.NoError(t, d.Recv2xx(ctx, "alice-tag", nil))
	require.Equal(t, StateConfirmed, d.State())
}

func TestFailureResponseTerminatesDialog(t *testing.T) {
	ctx := context.Background()
	d := New("call-3", testURI("alice"), testURI("bob"), nil)
	require.NoError(t, d.SendInvite(ctx))
	require.NoError(t, d.RecvFailure(ctx))
	require.Equal(t, StateTerminated, d.State())
}

func TestByeFromConfirmedTerminates(t *testing.T) {
	ctx := context.Background()
	d := New("call-4", testURI("alice"), testURI("bob"), nil)
	require.NoError(t, d.SendInvite(ctx))
	require.NoError(t, d.RecvProvisional(ctx, "bob-tag", testURI("bob"), nil))
	require.NoError(t, d.Recv2xx(ctx, "bob-tag", nil))

	require.NoError(t, d.SendBye(ctx))
	require.Equal(t, StateTerminating, d.State())
	require.NoError(t, d.ByeComplete(ctx))
	require.Equal(t, StateTerminated, d.State())
}

func TestHoldResumeRoundTrip(t *testing.T) {
	ctx := context.Background()
	d := New("call-5", testURI("alice"), testURI("bob"), nil)
	require.NoError(t, d.SendInvite(ctx))
	require.NoError(t, d.RecvProvisional(ctx, "bob-tag", testURI("bob"), nil))
	require.NoError(t, d.Recv2xx(ctx, "bob-tag", nil))

	require.NoError(t, d.SendReinviteHold(ctx))
	require.Equal(t, StateOnHoldPending, d.State())
	require.NoError(t, d.Recv2xxReinvite(ctx))
	require.Equal(t, StateOnHold, d.State())

	require.NoError(t, d.SendReinviteResume(ctx))
	require.Equal(t, StateOnHoldPending, d.State())
	require.NoError(t, d.Recv2xxResume(ctx))
	require.Equal(t, StateConfirmed, d.State())
}

func TestInvalidTransitionRejected(t *testing.T) {
	ctx := context.Background()
	d := New("call-6", testURI("alice"), testURI("bob"), nil)
	err := d.SendBye(ctx) // Initial -> SendBye is not a valid transition
	require.Error(t, err)
}

func TestStateChangeCallbackFires(t *testing.T) {
	ctx := context.Background()
	d := New("call-7", testURI("alice"), testURI("bob"), nil)
	var seen []State
	d.OnStateChange(func(s State) { seen = append(seen, s) })
	require.NoError(t, d.SendInvite(ctx))
	require.NoError(t, d.RecvProvisional(ctx, "bob-tag", testURI("bob"), nil))
	require.Equal(t, []State{StateEarly}, seen)
}
