// Package rtpsession implements the RTP/RTCP media transport (spec §4.2):
// SSRC and sequence/timestamp management, packetization, depacketization,
// RTCP SR/RR, a reordering jitter buffer, and optional SRTP wrap/unwrap. It is
// built directly on github.com/pion/rtp for header (de)serialization, the
// same dependency the teacher repo's pkg/rtp package pins.
package rtpsession

import (
	"crypto/rand"
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"

	"github.com/arzzra/voxcore/internal/telemetry"
	"github.com/arzzra/voxcore/pkg/srtp"
	"github.com/arzzra/voxcore/pkg/verrors"
)

// State mirrors the allowed RTP session lifecycle stages.
type State int

const (
	StateIdle State = iota
	StateActive
	StateClosed
)

// Direction mirrors the negotiated SDP media direction.
type Direction int

const (
	DirectionSendRecv Direction = iota
	DirectionSendOnly
	DirectionRecvOnly
	DirectionInactive
)

// Transport is the pluggable socket abstraction this session writes
// packets to and reads packets from — UDP/TCP/TLS/WS framing is an external
// collaborator per spec §1, never implemented here.
type Transport interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
	LocalAddr() net.Addr
}

// Config parametrizes New. It carries no SSRC source or RTCP timer: New
// draws SSRC, sequence and timestamp from crypto/rand, and nothing in this
// package runs an RTCP timer.
type Config struct {
	PayloadType   uint8
	ClockRate     uint32
	Transport     Transport
	RemoteAddr    net.Addr
	Direction     Direction
	SRTP          *srtp.Context // nil disables SRTP
	ReorderWindow int           // packets; default 3
	JitterMin     time.Duration // default 20ms
	JitterMax     time.Duration // default 200ms
	Telemetry     *telemetry.Telemetry

	OnPacketLoss func(seq uint16) // PLC hook invoked on a declared gap
}

// Stats is a point-in-time snapshot of session statistics (spec §4.2).
type Stats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	PacketsLost     uint32
	Duplicates      uint64
	OutOfOrder      uint64
	AuthFailures    uint64
	Jitter          float64
	BufferDepth     int
}

// Session is one RTP/RTCP session: SSRC, sequencing, packetization, jitter
// buffering and optional SRTP. Per spec's ownership rules it exclusively
// owns its SSRC state, sequence counter, and jitter buffer.
type Session struct {
	cfg Config
	log telemetry.Telemetry

	mu          sync.Mutex
	state       State
	ssrc        uint32
	nextSeq     uint16
	nextTS      uint32
	remoteSSRC  uint32
	haveRemote  bool
	samplesPerFrame uint32

	seen        map[uint16]struct{} // small duplicate-detection window
	seenOrder   []uint16

	jitter      *jitterBuffer
	srtpCtx     *srtp.Context

	lastArrival   time.Time
	lastTransitTS uint32
	jitterEstimate float64

	stats Stats

	sr senderReportState
}

type senderReportState struct {
	packetsSent uint64
	octetsSent  uint64
}

// New constructs an RTP Session bound to cfg.Transport/cfg.RemoteAddr. SSRC
// and the initial sequence/timestamp are drawn from crypto/rand, never from
// a shared PRNG, so concurrent sessions never collide.
func New(cfg Config) (*Session, error) {
	if cfg.Transport == nil {
		return nil, verrors.New(verrors.InvalidFormat, "rtpsession: Transport is required")
	}
	if cfg.ReorderWindow == 0 {
		cfg.ReorderWindow = 3
	}
	if cfg.JitterMin == 0 {
		cfg.JitterMin = 20 * time.Millisecond
	}
	if cfg.JitterMax == 0 {
		cfg.JitterMax = 200 * time.Millisecond
	}
	tel := cfg.Telemetry
	if tel == nil {
		tel = telemetry.Noop()
	}

	ssrc, err := randomUint32()
	if err != nil {
		return nil, verrors.Wrap(verrors.InvalidFormat, "rtpsession: SSRC generation", err)
	}
	seq, err := randomUint16()
	if err != nil {
		return nil, verrors.Wrap(verrors.InvalidFormat, "rtpsession: sequence seed", err)
	}
	ts, err := randomUint32()
	if err != nil {
		return nil, verrors.Wrap(verrors.InvalidFormat, "rtpsession: timestamp seed", err)
	}

	s := &Session{
		cfg:     cfg,
		log:     *tel.Sub("rtpsession"),
		state:   StateIdle,
		ssrc:    ssrc,
		nextSeq: seq,
		nextTS:  ts,
		seen:    make(map[uint16]struct{}, 128),
		jitter:  newJitterBuffer(cfg.JitterMin, cfg.JitterMax, cfg.ReorderWindow),
		srtpCtx: cfg.SRTP,
	}
	return s, nil
}

func randomUint32() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func randomUint16() (uint16, error) {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

// Start transitions the session to Active. Safe to call once.
func (s *Session) Start(samplesPerFrame uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samplesPerFrame = samplesPerFrame
	s.state = StateActive
}

// Close transitions the session to Closed; subsequent sends fail with
// InvalidState.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
}

// SendPacket builds an RTP header, optionally SRTP-wraps, and hands the
// packet to the transport — spec §4.2 send path steps 1-3.
func (s *Session) SendPacket(payload []byte, marker bool) error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return verrors.New(verrors.InvalidState, "rtpsession: SendPacket called while not Active")
	}
	if s.cfg.Direction == DirectionRecvOnly || s.cfg.Direction == DirectionInactive {
		s.mu.Unlock()
		return verrors.New(verrors.InvalidState, "rtpsession: session is not sending")
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    s.cfg.PayloadType,
			SequenceNumber: s.nextSeq,
			Timestamp:      s.nextTS,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}
	s.nextSeq++
	s.nextTS += s.samplesPerFrame
	s.mu.Unlock()

	raw, err := pkt.Marshal()
	if err != nil {
		return verrors.Wrap(verrors.InvalidFormat, "rtpsession: marshal", err)
	}

	if s.srtpCtx != nil {
		headerLen := len(raw) - len(payload)
		protected, err := s.srtpCtx.Protect(pkt.SSRC, pkt.SequenceNumber, raw[:headerLen], payload)
		if err != nil {
			return err
		}
		raw = append(raw[:headerLen:headerLen], protected...)
	}

	if _, err := s.cfg.Transport.WriteTo(raw, s.cfg.RemoteAddr); err != nil {
		return verrors.Wrap(verrors.TransportError, "rtpsession: transport write", err)
	}

	atomic.AddUint64(&s.stats.PacketsSent, 1)
	s.mu.Lock()
	s.sr.packetsSent++
	s.sr.octetsSent += uint64(len(payload))
	s.mu.Unlock()
	return nil
}

// OnPacket parses and validates an inbound wire packet, then runs the full
// receive path: SRTP unwrap, duplicate detection, jitter estimation, and
// jitter-buffer insertion (spec §4.2 receive path steps 1-5). Malformed or
// auth-failed packets are dropped silently per spec §7 — this method never
// returns an error for those cases, it only counts them.
func (s *Session) OnPacket(raw []byte, arrival time.Time) {
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(raw); err != nil || pkt.Version != 2 {
		s.log.Log.Debug().Msg("dropped malformed RTP packet")
		return
	}

	s.mu.Lock()
	if !s.haveRemote {
		s.remoteSSRC = pkt.SSRC
		s.haveRemote = true
	}
	if pkt.SSRC != s.remoteSSRC {
		// SSRC change: reset dup-detection state for the new source. The
		// SRTP context is kept as it is; no key rotation happens here.
		s.remoteSSRC = pkt.SSRC
		s.seen = make(map[uint16]struct{}, 128)
		s.seenOrder = nil
	}

	payload := pkt.Payload
	if s.srtpCtx != nil {
		headerLen := len(raw) - len(pkt.Payload)
		plain, err := s.srtpCtx.Unprotect(pkt.SSRC, pkt.SequenceNumber, raw[:headerLen], raw[headerLen:])
		if err != nil {
			s.stats.AuthFailures = s.srtpCtx.AuthFailures()
			s.mu.Unlock()
			s.log.Log.Debug().Uint16("seq", pkt.SequenceNumber).Msg("dropped SRTP auth failure")
			return
		}
		payload = plain
	}

	if s.isDuplicate(pkt.SequenceNumber) {
		s.stats.Duplicates++
		s.mu.Unlock()
		return
	}
	s.recordSeen(pkt.SequenceNumber)

	s.updateJitter(pkt.Timestamp, arrival)
	s.stats.PacketsReceived++
	s.mu.Unlock()

	pkt.Payload = payload
	s.jitter.Insert(pkt, arrival, s.cfg.OnPacketLoss)
}

func (s *Session) isDuplicate(seq uint16) bool {
	_, dup := s.seen[seq]
	return dup
}

func (s *Session) recordSeen(seq uint16) {
	const window = 64
	s.seen[seq] = struct{}{}
	s.seenOrder = append(s.seenOrder, seq)
	if len(s.seenOrder) > window {
		delete(s.seen, s.seenOrder[0])
		s.seenOrder = s.seenOrder[1:]
	}
}

// updateJitter applies the RFC 3550 §A.8 recursive jitter estimator:
// J += (|D(i,j)| - J) / 16, where D is inter-arrival minus inter-timestamp.
func (s *Session) updateJitter(ts uint32, arrival time.Time) {
	if s.lastArrival.IsZero() {
		s.lastArrival = arrival
		s.lastTransitTS = ts
		return
	}
	clockRate := float64(s.cfg.ClockRate)
	if clockRate == 0 {
		clockRate = 8000
	}
	arrivalDeltaRTP := arrival.Sub(s.lastArrival).Seconds() * clockRate
	tsDelta := float64(int64(ts) - int64(s.lastTransitTS))
	d := arrivalDeltaRTP - tsDelta
	if d < 0 {
		d = -d
	}
	s.jitterEstimate += (d - s.jitterEstimate) / 16
	s.stats.Jitter = s.jitterEstimate / clockRate

	s.lastArrival = arrival
	s.lastTransitTS = ts
}

// NextEmittedPacket returns the next packet the jitter buffer has released
// for playout, if any is due at this time.
func (s *Session) NextEmittedPacket(now time.Time) (*rtp.Packet, bool) {
	return s.jitter.Pop(now)
}

// Statistics returns a point-in-time snapshot.
func (s *Session) Statistics() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.stats
	snap.PacketsSent = atomic.LoadUint64(&s.stats.PacketsSent)
	snap.BufferDepth = s.jitter.Depth()
	snap.PacketsLost = s.jitter.LostCount()
	return snap
}

// SSRC returns this session's own synchronization source.
func (s *Session) SSRC() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ssrc
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
