// Package coordinator implements the Session Coordinator (spec §4.7): the
// central component owning CallId -> CallState, composing the Dialog FSM,
// SDP Negotiator, and Media Session into the call-lifecycle operations the
// application calls and the event stream it observes. Structurally this
// follows the teacher repo's pkg/dialog/manager.go DialogManager — a
// mutex-guarded map plus a Call-ID index — generalized to track the full
// per-call state triple instead of just a dialog.
package coordinator

import (
	"context"
	"sync"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/arzzra/voxcore/internal/config"
	"github.com/arzzra/voxcore/internal/telemetry"
	"github.com/arzzra/voxcore/pkg/dialogfsm"
	"github.com/arzzra/voxcore/pkg/mediasession"
	"github.com/arzzra/voxcore/pkg/moh"
	"github.com/arzzra/voxcore/pkg/rtpsession"
	"github.com/arzzra/voxcore/pkg/sdpneg"
	"github.com/arzzra/voxcore/pkg/verrors"
)

// CallID identifies one call within the Coordinator's table.
type CallID string

// SDPRole distinguishes which side of offer/answer a call is playing.
type SDPRole int

const (
	RoleOfferer SDPRole = iota
	RoleAnswerer
)

// CallState is the Coordinator's per-call record (spec §4.7: "CallState =
// {dialog, media, sdp_role, pending_offers, metadata}").
type CallState struct {
	ID       CallID
	Dialog   *dialogfsm.Dialog
	Media    *mediasession.Session
	SDPRole  SDPRole
	Metadata map[string]string

	pendingNegotiation *sdpneg.NegotiatedMedia
	rtpPort            int

	bridgedWith CallID // non-empty once bridge() splices this call to another
}

// Transport builds per-call RTP transports; production wiring supplies a
// UDP-socket-backed implementation, tests supply an in-memory fake.
type Transport interface {
	rtpsession.Transport
}

// TransportFactory constructs a Transport bound to a local port.
type TransportFactory func(localPort int) (Transport, error)

// Coordinator is the central call-lifecycle owner (spec §4.7).
type Coordinator struct {
	mu    sync.Mutex
	calls map[CallID]*CallState

	cfg       config.Config
	log       telemetry.Telemetry
	ports     *portAllocator
	negotiator *sdpneg.Negotiator
	transport TransportFactory
	mohFile   *moh.Player

	onEvent func(Event)
}

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

// WithEventHandler registers the application-facing event sink (spec §6's
// application-facing event list).
func WithEventHandler(fn func(Event)) Option {
	return func(c *Coordinator) { c.onEvent = fn }
}

// WithTransportFactory overrides how per-call RTP transports are built;
// tests use this to inject an in-memory transport.
func WithTransportFactory(f TransportFactory) Option {
	return func(c *Coordinator) { c.transport = f }
}

// WithMusicOnHold loads a MoH player shared across all Media Sessions this
// coordinator creates.
func WithMusicOnHold(player *moh.Player) Option {
	return func(c *Coordinator) { c.mohFile = player }
}

// New constructs a Coordinator bound to cfg, with a local-capability SDP
// negotiator built from cfg.CodecPreferences.
func New(cfg config.Config, tel *telemetry.Telemetry, opts ...Option) *Coordinator {
	if tel == nil {
		tel = telemetry.Noop()
	}
	caps := make([]sdpneg.Capability, len(cfg.CodecPreferences))
	for i, p := range cfg.CodecPreferences {
		caps[i] = sdpneg.Capability{CodecID: p.ID, PayloadType: p.PayloadType, ClockRate: p.ClockRate}
	}
	c := &Coordinator{
		calls: make(map[CallID]*CallState),
		cfg:   cfg,
		log:   *tel.Sub("coordinator"),
		ports: newPortAllocator(cfg.RTPPortMin, cfg.RTPPortMax),
	}
	c.negotiator = sdpneg.New(sdpneg.LocalConfig{
		Capabilities: caps,
		Address:      cfg.RTPAddress,
		PortMin:      cfg.RTPPortMin,
		PortMax:      cfg.RTPPortMax,
		AllocatePort: c.ports.Allocate,
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateOutgoingCall creates a dialog in Initial, records the outgoing
// INVITE on it (local CSeq 1), and returns a CallID the application tracks
// (spec §4.7's create_outgoing_call operation). It does not build an SDP
// offer or send the INVITE; the negotiator is not consulted here.
func (c *Coordinator) CreateOutgoingCall(ctx context.Context, from, to sip.Uri) (CallID, error) {
	callID := CallID(uuid.NewString())
	dlg := dialogfsm.New(string(callID), from, to, nil)
	if err := dlg.SendInvite(ctx); err != nil {
		return "", err
	}

	state := &CallState{ID: callID, Dialog: dlg, SDPRole: RoleOfferer, Metadata: map[string]string{}}
	c.mu.Lock()
	c.calls[callID] = state
	c.mu.Unlock()

	dlg.OnStateChange(func(s dialogfsm.State) { c.onDialogStateChange(callID, s) })
	return callID, nil
}

// RegisterIncomingCall records a new server-side dialog for an inbound
// INVITE (Initial -> Early) and emits IncomingCall.
func (c *Coordinator) RegisterIncomingCall(ctx context.Context, callID CallID, dlg *dialogfsm.Dialog, remoteTag string, remoteTarget sip.Uri, cseq uint32) error {
	if err := dlg.RecvIncomingInvite(ctx, remoteTag, remoteTarget, cseq); err != nil {
		return err
	}
	state := &CallState{ID: callID, Dialog: dlg, SDPRole: RoleAnswerer, Metadata: map[string]string{}}
	c.mu.Lock()
	c.calls[callID] = state
	c.mu.Unlock()
	dlg.OnStateChange(func(s dialogfsm.State) { c.onDialogStateChange(callID, s) })
	c.emit(Event{Kind: EventIncomingCall, CallID: callID})
	return nil
}

// AcceptIncomingCall answers a pending incoming INVITE: Early -> Confirmed,
// creating the Media Session once CompleteNegotiation has supplied a
// NegotiatedMedia (spec §4.7's accept_incoming_call operation and critical
// sequencing rule). Building and sending the 200 OK with SDP is the
// transport layer's job; this only advances dialog/media state.
func (c *Coordinator) AcceptIncomingCall(ctx context.Context, callID CallID) error {
	state, err := c.lookup(callID)
	if err != nil {
		return err
	}
	if state.Dialog.State() != dialogfsm.StateEarly {
		return verrors.New(verrors.InvalidState, "coordinator: accept_incoming_call requires a pending incoming INVITE")
	}
	_, remoteTag, _ := state.Dialog.Tags()
	if err := state.Dialog.Recv2xx(ctx, remoteTag, nil); err != nil {
		return err
	}
	c.emit(Event{Kind: EventCallAnswered, CallID: callID})
	return nil
}

// RejectIncomingCall sends a failure status and terminates the dialog
// (spec §4.7's reject_incoming_call operation).
func (c *Coordinator) RejectIncomingCall(ctx context.Context, callID CallID, status int) error {
	c.mu.Lock()
	state, ok := c.calls[callID]
	c.mu.Unlock()
	if !ok {
		return verrors.Newf(verrors.InvalidState, "coordinator: unknown call %s", callID)
	}
	return state.Dialog.RecvFailure(ctx)
}

// Hold originates a hold re-INVITE and, once it succeeds, calls
// media.hold() (spec §4.7's hold operation: "dialog Confirmed, media
// Active" precondition).
func (c *Coordinator) Hold(ctx context.Context, callID CallID) error {
	state, err := c.lookup(callID)
	if err != nil {
		return err
	}
	if state.Dialog.State() != dialogfsm.StateConfirmed {
		return verrors.New(verrors.InvalidState, "coordinator: hold requires Confirmed dialog")
	}
	if state.Media == nil || state.Media.State() != mediasession.StateActive {
		return verrors.New(verrors.InvalidState, "coordinator: hold requires Active media")
	}
	if err := state.Dialog.SendReinviteHold(ctx); err != nil {
		return err
	}
	if err := state.Dialog.Recv2xxReinvite(ctx); err != nil {
		return err
	}
	if err := state.Media.Hold(); err != nil {
		return err
	}
	c.emit(Event{Kind: EventHoldReceived, CallID: callID})
	return nil
}

// Resume originates a resume re-INVITE and resumes the Media Session.
func (c *Coordinator) Resume(ctx context.Context, callID CallID) error {
	state, err := c.lookup(callID)
	if err != nil {
		return err
	}
	if state.Dialog.State() != dialogfsm.StateOnHold {
		return verrors.New(verrors.InvalidState, "coordinator: resume requires OnHold dialog")
	}
	if err := state.Dialog.SendReinviteResume(ctx); err != nil {
		return err
	}
	if err := state.Dialog.Recv2xxResume(ctx); err != nil {
		return err
	}
	if err := state.Media.Resume(); err != nil {
		return err
	}
	c.emit(Event{Kind: EventResumeReceived, CallID: callID})
	return nil
}

// Terminate sends BYE and destroys the Media Session once the transaction
// completes (spec §4.7's terminate operation).
func (c *Coordinator) Terminate(ctx context.Context, callID CallID, reason string) error {
	state, err := c.lookup(callID)
	if err != nil {
		return err
	}
	if state.Dialog.State() == dialogfsm.StateTerminated {
		return nil
	}
	if err := state.Dialog.SendBye(ctx); err != nil {
		return err
	}
	if err := state.Dialog.ByeComplete(ctx); err != nil {
		return err
	}
	if state.Media != nil {
		state.Media.Terminate()
	}
	if state.rtpPort != 0 {
		c.ports.Release(state.rtpPort)
	}
	c.mu.Lock()
	delete(c.calls, callID)
	c.mu.Unlock()
	c.emit(Event{Kind: EventCallTerminated, CallID: callID, Reason: reason})
	return nil
}

// Transfer checks that the dialog is Confirmed and surfaces
// TransferRequested, carrying target, to the application (spec §4.7's
// transfer operation). It sends no REFER, stores no transfer state and
// tracks no NOTIFY sipfrag progress.
func (c *Coordinator) Transfer(ctx context.Context, callID CallID, target sip.Uri) error {
	state, err := c.lookup(callID)
	if err != nil {
		return err
	}
	if state.Dialog.State() != dialogfsm.StateConfirmed {
		return verrors.New(verrors.InvalidState, "coordinator: transfer requires Confirmed dialog")
	}
	c.emit(Event{Kind: EventTransferRequested, CallID: callID, Target: target.String()})
	return nil
}

// Bridge records two confirmed calls as bridged to each other and logs
// whether they qualify for direct RTP relay (both legs negotiated the same
// codec and clock rate) or would need a 2-party mix (spec §4.7's bridge
// operation). It neither creates a mix nor re-points either leg's RTP: each
// leg's Media Session keeps sending and receiving on its own.
func (c *Coordinator) Bridge(callA, callB CallID) error {
	a, err := c.lookup(callA)
	if err != nil {
		return err
	}
	b, err := c.lookup(callB)
	if err != nil {
		return err
	}
	if a.Dialog.State() != dialogfsm.StateConfirmed || b.Dialog.State() != dialogfsm.StateConfirmed {
		return verrors.New(verrors.InvalidState, "coordinator: bridge requires both calls Confirmed")
	}

	relayEligible := a.pendingNegotiation != nil && b.pendingNegotiation != nil &&
		a.pendingNegotiation.CodecID == b.pendingNegotiation.CodecID &&
		a.pendingNegotiation.ClockRate == b.pendingNegotiation.ClockRate

	c.mu.Lock()
	a.bridgedWith = callB
	b.bridgedWith = callA
	c.mu.Unlock()

	if relayEligible {
		c.log.Log.Debug().Str("a", string(callA)).Str("b", string(callB)).Msg("bridging via direct RTP relay, bypassing decode/encode")
	} else {
		c.log.Log.Debug().Str("a", string(callA)).Str("b", string(callB)).Msg("bridging via 2-party mix")
	}
	return nil
}

// onDialogStateChange implements the critical sequencing rule (spec §4.7):
// media is activated exactly when the dialog reaches Confirmed AND
// negotiation has completed.
func (c *Coordinator) onDialogStateChange(callID CallID, s dialogfsm.State) {
	if s != dialogfsm.StateConfirmed {
		return
	}
	c.mu.Lock()
	state, ok := c.calls[callID]
	c.mu.Unlock()
	if !ok {
		return
	}
	if state.Media != nil && state.Media.State() == mediasession.StateActive {
		return // already activated
	}
	if state.pendingNegotiation == nil {
		return // negotiation not complete yet; activated when it completes instead
	}
	if err := c.activateMedia(state); err != nil {
		c.log.Log.Warn().Err(err).Str("call", string(callID)).Msg("media activation failed on Confirmed")
		return
	}
	c.emit(Event{Kind: EventMediaActive, CallID: callID})
}

// CompleteNegotiation installs a finished NegotiatedMedia onto a call; if
// the dialog is already Confirmed, media activates immediately, otherwise
// it activates once Confirmed is reached (spec §4.7 critical sequencing
// rule, symmetric case).
func (c *Coordinator) CompleteNegotiation(callID CallID, nm sdpneg.NegotiatedMedia) error {
	state, err := c.lookup(callID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	state.pendingNegotiation = &nm
	c.mu.Unlock()

	if state.Dialog.State() == dialogfsm.StateConfirmed {
		if err := c.activateMedia(state); err != nil {
			return err
		}
		c.emit(Event{Kind: EventMediaActive, CallID: callID})
	}
	return nil
}

func (c *Coordinator) activateMedia(state *CallState) error {
	nm := *state.pendingNegotiation
	if c.transport == nil {
		return verrors.New(verrors.UnsupportedTransport, "coordinator: no transport factory configured")
	}
	tr, err := c.transport(nm.LocalAddr.Port)
	if err != nil {
		return err
	}

	media := mediasession.New(mediasession.Config{MoH: c.mohFile})
	samplesPerFrame := uint32(nm.ClockRate) / 50 // 20ms ptime
	err = media.Configure(rtpsession.Config{
		Transport:  tr,
		RemoteAddr: nm.RemoteAddr,
	}, mediasession.NegotiatedMedia{
		CodecID:     nm.CodecID,
		PayloadType: nm.PayloadType,
		ClockRate:   nm.ClockRate,
		Direction:   nm.Direction,
	}, samplesPerFrame)
	if err != nil {
		return err
	}
	state.Media = media
	return nil
}

func (c *Coordinator) lookup(callID CallID) (*CallState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.calls[callID]
	if !ok {
		return nil, verrors.Newf(verrors.InvalidState, "coordinator: unknown call %s", callID)
	}
	return state, nil
}

func (c *Coordinator) emit(e Event) {
	if c.onEvent != nil {
		c.onEvent(e)
	}
}
