// Package dialogfsm implements the SIP Dialog state machine (spec §4.6,
// RFC 3261): per-dialog state, tag/CSeq discipline, and the
// Initial/Early/Confirmed/OnHold/Terminating/Terminated transitions, using
// github.com/looplab/fsm for transition bookkeeping the same way the
// teacher repo's pkg/dialog/dialog.go does, and github.com/emiago/sipgo for
// SIP message types.
package dialogfsm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/arzzra/voxcore/internal/telemetry"
	"github.com/arzzra/voxcore/pkg/verrors"
)

// State is the RFC 3261 dialog lifecycle (spec §4.6).
type State int

const (
	StateInitial State = iota
	StateEarly
	StateConfirmed
	StateOnHold
	StateOnHoldPending
	StateTerminating
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "Initial"
	case StateEarly:
		return "Early"
	case StateConfirmed:
		return "Confirmed"
	case StateOnHold:
		return "OnHold"
	case StateOnHoldPending:
		return "OnHoldPending"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

func parseState(s string) State {
	switch s {
	case StateInitial.String():
		return StateInitial
	case StateEarly.String():
		return StateEarly
	case StateConfirmed.String():
		return StateConfirmed
	case StateOnHold.String():
		return StateOnHold
	case StateOnHoldPending.String():
		return StateOnHoldPending
	case StateTerminating.String():
		return StateTerminating
	case StateTerminated.String():
		return StateTerminated
	default:
		return StateTerminated
	}
}

// Key identifies a dialog by Call-ID plus the local/remote tag pair (spec
// §4.6's DialogFSM storage fields).
type Key struct {
	CallID     string
	LocalTag   string
	RemoteTag  string
}

func (k Key) String() string {
	return fmt.Sprintf("%s;local=%s;remote=%s", k.CallID, k.LocalTag, k.RemoteTag)
}

// Dialog holds the RFC 3261 dialog fields (spec §4.6) plus its FSM.
type Dialog struct {
	mu sync.Mutex

	callID       string
	localTag     string
	remoteTag    string
	localURI     sip.Uri
	remoteURI    sip.Uri
	remoteTarget sip.Uri
	localCSeq    uint32
	remoteCSeq   uint32
	haveRemoteCSeq bool
	routeSet     []sip.Uri
	secure       bool

	state State
	fsm   *fsm.FSM

	log telemetry.Telemetry

	onStateChange []func(State)
}

// New constructs a dialog in Initial with a freshly generated local tag.
func New(callID string, localURI, remoteURI sip.Uri, tel *telemetry.Telemetry) *Dialog {
	if tel == nil {
		tel = telemetry.Noop()
	}
	d := &Dialog{
		callID:   callID,
		localTag: uuid.NewString()[:8],
		localURI: localURI,
		remoteURI: remoteURI,
		state:    StateInitial,
		log:      *tel.Sub("dialogfsm"),
	}
	d.initFSM()
	return d
}

// initFSM wires the transition table from spec §4.6's table, mirroring the
// teacher's looplab/fsm event/after_event idiom.
func (d *Dialog) initFSM() {
	d.fsm = fsm.NewFSM(
		StateInitial.String(),
		fsm.Events{
			{Name: "send_invite", Src: []string{StateInitial.String()}, Dst: StateInitial.String()},
			{Name: "recv_provisional", Src: []string{StateInitial.String()}, Dst: StateEarly.String()},
			{Name: "recv_2xx", Src: []string{StateInitial.String(), StateEarly.String()}, Dst: StateConfirmed.String()},
			{Name: "recv_failure", Src: []string{StateInitial.String(), StateEarly.String()}, Dst: StateTerminated.String()},
			{Name: "recv_incoming_invite", Src: []string{StateInitial.String()}, Dst: StateEarly.String()},
			{Name: "send_bye", Src: []string{StateConfirmed.String(), StateOnHold.String()}, Dst: StateTerminating.String()},
			{Name: "recv_bye", Src: []string{StateConfirmed.String(), StateOnHold.String()}, Dst: StateTerminating.String()},
			{Name: "bye_complete", Src: []string{StateTerminating.String()}, Dst: StateTerminated.String()},
			{Name: "send_reinvite_hold", Src: []string{StateConfirmed.String()}, Dst: StateOnHoldPending.String()},
			{Name: "recv_2xx_reinvite", Src: []string{StateOnHoldPending.String()}, Dst: StateOnHold.String()},
			{Name: "send_reinvite_resume", Src: []string{StateOnHold.String()}, Dst: StateOnHoldPending.String()},
			{Name: "recv_2xx_resume", Src: []string{StateOnHoldPending.String()}, Dst: StateConfirmed.String()},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				d.updateState(parseState(e.Dst))
			},
		},
	)
}

func (d *Dialog) updateState(s State) {
	old := d.state
	d.state = s
	if old != s {
		for _, cb := range d.onStateChange {
			cb(s)
		}
		d.log.Log.Debug().Str("from", old.String()).Str("to", s.String()).Msg("dialog state transition")
	}
}

// OnStateChange registers a callback invoked after every state transition.
func (d *Dialog) OnStateChange(cb func(State)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onStateChange = append(d.onStateChange, cb)
}

// State returns the current dialog state.
func (d *Dialog) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Key returns the dialog's current identifying key.
func (d *Dialog) Key() Key {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Key{CallID: d.callID, LocalTag: d.localTag, RemoteTag: d.remoteTag}
}

// SendInvite records the outgoing INVITE (spec §4.6: "send INVITE: Initial
// -> Initial, local-cseq += 1").
func (d *Dialog) SendInvite(ctx context.Context) error {
	d.mu.Lock()
	d.localCSeq++
	d.mu.Unlock()
	return d.event(ctx, "send_invite")
}

// RecvProvisional handles a 1xx with a To-tag: Initial -> Early, capturing
// remote-tag/remote-target/route-set (spec §4.6).
func (d *Dialog) RecvProvisional(ctx context.Context, remoteTag string, remoteTarget sip.Uri, routeSet []sip.Uri) error {
	d.mu.Lock()
	d.remoteTag = remoteTag
	d.remoteTarget = remoteTarget
	d.routeSet = routeSet
	d.mu.Unlock()
	return d.event(ctx, "recv_provisional")
}

// RecvIncomingInvite handles a server-side incoming INVITE: Initial -> Early.
func (d *Dialog) RecvIncomingInvite(ctx context.Context, remoteTag string, remoteTarget sip.Uri, cseq uint32) error {
	d.mu.Lock()
	d.remoteTag = remoteTag
	d.remoteTarget = remoteTarget
	d.remoteCSeq = cseq
	d.haveRemoteCSeq = true
	d.mu.Unlock()
	return d.event(ctx, "recv_incoming_invite")
}

// Recv2xx handles the 2xx response to INVITE: Initial/Early -> Confirmed,
// setting tags if unset and capturing route-set (spec §4.6).
func (d *Dialog) Recv2xx(ctx context.Context, remoteTag string, routeSet []sip.Uri) error {
	d.mu.Lock()
	if d.remoteTag == "" {
		d.remoteTag = remoteTag
	}
	if routeSet != nil {
		d.routeSet = routeSet
	}
	d.mu.Unlock()
	return d.event(ctx, "recv_2xx")
}

// RecvFailure handles a 3xx-6xx final response to INVITE: -> Terminated.
func (d *Dialog) RecvFailure(ctx context.Context) error {
	return d.event(ctx, "recv_failure")
}

// SendBye originates a BYE: Confirmed/OnHold -> Terminating.
func (d *Dialog) SendBye(ctx context.Context) error {
	d.mu.Lock()
	d.localCSeq++
	d.mu.Unlock()
	return d.event(ctx, "send_bye")
}

// RecvBye handles an inbound BYE: Confirmed/OnHold -> Terminating.
func (d *Dialog) RecvBye(ctx context.Context, cseq uint32) error {
	d.mu.Lock()
	d.remoteCSeq = cseq
	d.haveRemoteCSeq = true
	d.mu.Unlock()
	return d.event(ctx, "recv_bye")
}

// ByeComplete finalizes the BYE transaction: Terminating -> Terminated.
func (d *Dialog) ByeComplete(ctx context.Context) error {
	return d.event(ctx, "bye_complete")
}

// SendReinviteHold originates a hold re-INVITE: Confirmed -> OnHold(pending).
func (d *Dialog) SendReinviteHold(ctx context.Context) error {
	d.mu.Lock()
	d.localCSeq++
	d.mu.Unlock()
	return d.event(ctx, "send_reinvite_hold")
}

// Recv2xxReinvite completes a pending hold re-INVITE: -> OnHold.
func (d *Dialog) Recv2xxReinvite(ctx context.Context) error {
	return d.event(ctx, "recv_2xx_reinvite")
}

// SendReinviteResume originates a resume re-INVITE: OnHold -> OnHold(pending).
func (d *Dialog) SendReinviteResume(ctx context.Context) error {
	d.mu.Lock()
	d.localCSeq++
	d.mu.Unlock()
	return d.event(ctx, "send_reinvite_resume")
}

// Recv2xxResume completes a pending resume re-INVITE: -> Confirmed.
func (d *Dialog) Recv2xxResume(ctx context.Context) error {
	return d.event(ctx, "recv_2xx_resume")
}

func (d *Dialog) event(ctx context.Context, name string) error {
	if err := d.fsm.Event(ctx, name); err != nil {
		// looplab/fsm reports a transition whose source and destination
		// match (send_invite: Initial -> Initial) as NoTransitionError.
		var noTransition fsm.NoTransitionError
		if errors.As(err, &noTransition) && noTransition.Err == nil {
			return nil
		}
		return verrors.Wrap(verrors.InvalidState, fmt.Sprintf("dialogfsm: event %q rejected in state %s", name, d.State()), err)
	}
	return nil
}

// LocalCSeq returns the current local CSeq counter (spec testable property
// 1: local_cseq(after) = local_cseq(before) + 1 for every outgoing
// in-dialog request except ACK).
func (d *Dialog) LocalCSeq() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.localCSeq
}

// Tags returns (local-tag, remote-tag, bothSet) — testable property 2
// requires both be Some once Confirmed and never change thereafter.
func (d *Dialog) Tags() (string, string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.localTag, d.remoteTag, d.localTag != "" && d.remoteTag != ""
}

// RouteSet returns the captured route set, applied in order to in-dialog
// requests per spec §4.6's tag/CSeq discipline.
func (d *Dialog) RouteSet() []sip.Uri {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sip.Uri(nil), d.routeSet...)
}
