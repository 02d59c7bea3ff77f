// Package mediasession implements the Media Session (spec §4.3): owns one
// RTP session + codec pair, exposes send-frame/receive-frame, hold/mute/MoH,
// DTMF, and statistics including a MOS estimate.
package mediasession

import (
	"errors"
	"net"
	"sync"

	"github.com/arzzra/voxcore/internal/telemetry"
	"github.com/arzzra/voxcore/pkg/codec"
	"github.com/arzzra/voxcore/pkg/moh"
	"github.com/arzzra/voxcore/pkg/rtpsession"
	"github.com/arzzra/voxcore/pkg/verrors"
)

// State is the Media Session's lifecycle (spec §4.3's state diagram).
type State int

const (
	StateIdle State = iota
	StateNegotiating
	StateActive
	StateHeld
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateNegotiating:
		return "Negotiating"
	case StateActive:
		return "Active"
	case StateHeld:
		return "Held"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// NegotiatedMedia is the atomically-produced result of SDP negotiation
// (spec §3) that configure() installs.
type NegotiatedMedia struct {
	LocalAddr, RemoteAddr string
	CodecID               codec.CodecID
	PayloadType           uint8
	ClockRate             uint32
	PtimeMillis           int
	Direction             rtpsession.Direction
	SRTP                  *rtpKeys
}

type rtpKeys struct {
	Local, Remote []byte
}

// MuteDirection selects which path mute() suppresses.
type MuteDirection int

const (
	MuteNone MuteDirection = iota
	MuteSend
	MuteReceive
	MuteBoth
)

// Event is emitted to the owning Coordinator on significant state changes.
type Event struct {
	Kind  EventKind
	Cause error
}

type EventKind int

const (
	EventMediaFailed EventKind = iota
)

// Session owns one RTP session + codec pair (spec §3 ownership rules: a
// Media Session exclusively owns its Codec instance and its RTP Session).
type Session struct {
	mu    sync.Mutex
	state State
	log   telemetry.Telemetry

	codecFactory *codec.Factory
	activeCodec  codec.Codec
	rtp          *rtpsession.Session
	negotiated   NegotiatedMedia

	sendMuted, recvMuted bool
	onHold               bool
	mohPlayer            *moh.Player

	receiveCh chan codec.AudioFrame
	closed    chan struct{}
	closeOnce sync.Once

	onEvent func(Event)

	newRTPSession func(rtpsession.Config) (*rtpsession.Session, error)
}

// Config parametrizes New.
type Config struct {
	CodecFactory *codec.Factory
	Telemetry    *telemetry.Telemetry
	MoH          *moh.Player
	OnEvent      func(Event)

	// newRTPSessionForTest overrides RTP session construction in tests;
	// production callers leave it nil and get rtpsession.New.
	newRTPSessionForTest func(rtpsession.Config) (*rtpsession.Session, error)
}

// New constructs an idle Media Session.
func New(cfg Config) *Session {
	tel := cfg.Telemetry
	if tel == nil {
		tel = telemetry.Noop()
	}
	factory := cfg.CodecFactory
	if factory == nil {
		factory = codec.NewFactory()
	}
	ctor := cfg.newRTPSessionForTest
	if ctor == nil {
		ctor = rtpsession.New
	}
	return &Session{
		state:         StateIdle,
		log:           *tel.Sub("mediasession"),
		codecFactory:  factory,
		mohPlayer:     cfg.MoH,
		receiveCh:     make(chan codec.AudioFrame, 64),
		closed:        make(chan struct{}),
		onEvent:       cfg.OnEvent,
		newRTPSession: ctor,
	}
}

// Configure installs a codec instance and starts the RTP session bound to
// the negotiated addresses. Allowed in Idle/Negotiating only (spec §4.3).
func (s *Session) Configure(rtpCfg rtpsession.Config, nm NegotiatedMedia, samplesPerFrame uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle && s.state != StateNegotiating {
		return verrors.Newf(verrors.InvalidState, "Configure called in state %s", s.state)
	}
	s.state = StateNegotiating

	c, err := s.codecFactory.New(codec.Config{ID: nm.CodecID, SampleRate: nm.ClockRate, Channels: 1})
	if err != nil {
		s.state = StateIdle
		return err
	}

	rtpCfg.PayloadType = nm.PayloadType
	rtpCfg.ClockRate = nm.ClockRate
	rtpCfg.Direction = nm.Direction
	sess, err := s.newRTPSession(rtpCfg)
	if err != nil {
		s.state = StateIdle
		return err
	}
	sess.Start(samplesPerFrame)

	s.activeCodec = c
	s.rtp = sess
	s.negotiated = nm
	s.state = StateActive
	return nil
}

// SendAudio encodes and transmits one frame. Allowed only in Active (spec
// §4.3); best-effort — transient transport failure is logged (not counted)
// and not surfaced per packet, while a closed socket moves the session to
// Terminated and emits EventMediaFailed (spec §4.3 failure semantics).
func (s *Session) SendAudio(frame codec.AudioFrame) error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return verrors.Newf(verrors.InvalidState, "SendAudio called in state %s", s.state)
	}
	if s.sendMuted {
		s.mu.Unlock()
		return nil
	}
	c := s.activeCodec
	sess := s.rtp
	s.mu.Unlock()

	encoded, err := c.Encode(frame)
	if err != nil {
		return err
	}
	if err := sess.SendPacket(encoded, false); err != nil {
		s.log.Log.Warn().Err(err).Msg("transient RTP send failure")
		if errors.Is(err, net.ErrClosed) {
			s.failPersistent(err)
		}
		return nil
	}
	return nil
}

func (s *Session) failPersistent(cause error) {
	s.mu.Lock()
	s.state = StateTerminated
	s.mu.Unlock()
	if s.onEvent != nil {
		s.onEvent(Event{Kind: EventMediaFailed, Cause: cause})
	}
}

// SubscribeAudio returns a lazy, infinite, non-restartable channel of
// received audio frames — call exactly once per Session (spec §4.3). A
// frame arrives on it for each DeliverFromJitterBuffer call; the Session
// runs no timer of its own, so the cadence is that of those calls.
func (s *Session) SubscribeAudio() <-chan codec.AudioFrame {
	return s.receiveCh
}

// DeliverFromJitterBuffer decodes one packetized payload and publishes it
// to SubscribeAudio's channel. The caller passes in each payload the RTP
// session's jitter buffer releases; no goroutine in this package does so.
func (s *Session) DeliverFromJitterBuffer(payload []byte) {
	s.mu.Lock()
	c := s.activeCodec
	muted := s.recvMuted
	s.mu.Unlock()
	if c == nil || muted {
		return
	}
	frame, err := c.Decode(payload)
	if err != nil {
		s.log.Log.Debug().Err(err).Msg("dropped undecodable payload")
		return
	}
	select {
	case s.receiveCh <- frame:
	default:
		// Bounded channel overflow: drop oldest by draining one slot, per
		// the conference/media backpressure policy (spec §5).
		select {
		case <-s.receiveCh:
		default:
		}
		select {
		case s.receiveCh <- frame:
		default:
		}
	}
}

// Hold stops local sending and rewinds the MoH player if one is configured
// (spec §4.3). MoH frames (or silence) are then sent one per TickHold call;
// Hold itself starts no timer.
func (s *Session) Hold() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return verrors.Newf(verrors.InvalidState, "Hold called in state %s", s.state)
	}
	s.state = StateHeld
	s.onHold = true
	if s.mohPlayer != nil {
		s.mohPlayer.Reset()
	}
	return nil
}

// Resume stops MoH and resumes the live send path (spec §4.3).
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateHeld {
		return verrors.Newf(verrors.InvalidState, "Resume called in state %s", s.state)
	}
	s.state = StateActive
	s.onHold = false
	return nil
}

// TickHold is called once per ptime while Held (neither this package nor
// the coordinator schedules it); it emits one MoH frame (or silence if no
// file is configured), satisfying
// testable property 5: no live capture samples leave a Held session.
func (s *Session) TickHold(samplesPerFrame int) error {
	s.mu.Lock()
	if s.state != StateHeld {
		s.mu.Unlock()
		return nil
	}
	c := s.activeCodec
	sess := s.rtp
	player := s.mohPlayer
	s.mu.Unlock()

	var samples []int16
	if player != nil {
		samples = player.Next(samplesPerFrame)
	} else {
		samples = make([]int16, samplesPerFrame) // silence
	}
	encoded, err := c.Encode(codec.AudioFrame{Samples: samples, SampleRate: s.negotiated.ClockRate, Channels: 1})
	if err != nil {
		return err
	}
	return sess.SendPacket(encoded, false)
}

// Mute suppresses send and/or receive paths without touching SDP (spec
// §4.3).
func (s *Session) Mute(dir MuteDirection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendMuted = dir == MuteSend || dir == MuteBoth
	s.recvMuted = dir == MuteReceive || dir == MuteBoth
}

// Statistics returns a point-in-time snapshot including a MOS estimate.
func (s *Session) Statistics() Statistics {
	s.mu.Lock()
	sess := s.rtp
	negotiated := s.negotiated
	s.mu.Unlock()
	if sess == nil {
		return Statistics{}
	}
	rtpStats := sess.Statistics()
	mos := EstimateMOS(rtpStats, negotiated.CodecID, 0)
	return Statistics{RTP: rtpStats, MOS: mos}
}

// Statistics bundles RTP statistics with the derived MOS estimate.
type Statistics struct {
	RTP rtpsession.Stats
	MOS float64
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Terminate moves the session to Terminated from any state (spec §4.3).
func (s *Session) Terminate() {
	s.mu.Lock()
	s.state = StateTerminated
	sess := s.rtp
	s.mu.Unlock()
	if sess != nil {
		sess.Close()
	}
	s.closeOnce.Do(func() { close(s.closed) })
}
