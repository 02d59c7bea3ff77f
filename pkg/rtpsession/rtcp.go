package rtpsession

import (
	"encoding/binary"
	"time"

	"github.com/arzzra/voxcore/pkg/verrors"
)

// RTCP packet type constants per RFC 3550 §12.
const (
	rtcpSR   = 200
	rtcpRR   = 201
	rtcpPLI  = 206 // payload-specific FB, FMT=1 (RFC 4585)
	rtcpFIR  = 206 // FMT=4
)

// ntpEpochOffset converts between Go's Unix epoch and NTP's 1900 epoch.
const ntpEpochOffset = 2208988800

// SenderReport is RFC 3550 §6.4.1's SR body.
type SenderReport struct {
	SSRC          uint32
	NTPSeconds    uint32
	NTPFraction   uint32
	RTPTimestamp  uint32
	PacketCount   uint32
	OctetCount    uint32
}

// ReceiverReport is RFC 3550 §6.4.2's RR body (one reception report block).
type ReceiverReport struct {
	SSRC             uint32
	SourceSSRC       uint32
	FractionLost     uint8
	CumulativeLost   int32 // 24-bit signed, widened
	HighestSeq       uint32
	Jitter           uint32
	LastSR           uint32
	DelaySinceLastSR uint32
}

// BuildSenderReport snapshots s's send-path counters into an SR, per spec
// §4.2's periodic RTCP requirement.
func (s *Session) BuildSenderReport(now time.Time) SenderReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	unixNTP := uint64(now.Unix()+ntpEpochOffset)<<32 | uint64(now.Nanosecond())<<32/1e9
	return SenderReport{
		SSRC:         s.ssrc,
		NTPSeconds:   uint32(unixNTP >> 32),
		NTPFraction:  uint32(unixNTP),
		RTPTimestamp: s.nextTS,
		PacketCount:  uint32(s.sr.packetsSent),
		OctetCount:   uint32(s.sr.octetsSent),
	}
}

// BuildReceiverReport snapshots s's receive-path counters into an RR.
func (s *Session) BuildReceiverReport() ReceiverReport {
	stats := s.Statistics()
	s.mu.Lock()
	remote := s.remoteSSRC
	s.mu.Unlock()

	var fraction uint8
	if stats.PacketsReceived+uint64(stats.PacketsLost) > 0 {
		fraction = uint8(256 * uint64(stats.PacketsLost) / (stats.PacketsReceived + uint64(stats.PacketsLost)))
	}
	return ReceiverReport{
		SSRC:           s.ssrc,
		SourceSSRC:     remote,
		FractionLost:   fraction,
		CumulativeLost: int32(stats.PacketsLost),
		HighestSeq:     uint32(s.nextSeq),
		Jitter:         uint32(stats.Jitter * float64(s.cfg.ClockRate)),
	}
}

// Marshal encodes a SenderReport per RFC 3550 §6.4.1 wire format (header +
// sender info, no reception report blocks — those travel in a following RR
// in this implementation, matching the teacher's split SR/RR encoding).
func (sr SenderReport) Marshal() []byte {
	buf := make([]byte, 28)
	buf[0] = 0x80 // V=2, P=0, RC=0
	buf[1] = rtcpSR
	binary.BigEndian.PutUint16(buf[2:4], 6) // length in 32-bit words - 1
	binary.BigEndian.PutUint32(buf[4:8], sr.SSRC)
	binary.BigEndian.PutUint32(buf[8:12], sr.NTPSeconds)
	binary.BigEndian.PutUint32(buf[12:16], sr.NTPFraction)
	binary.BigEndian.PutUint32(buf[16:20], sr.RTPTimestamp)
	binary.BigEndian.PutUint32(buf[20:24], sr.PacketCount)
	binary.BigEndian.PutUint32(buf[24:28], sr.OctetCount)
	return buf
}

// Marshal encodes a ReceiverReport with exactly one reception report block.
func (rr ReceiverReport) Marshal() []byte {
	buf := make([]byte, 32)
	buf[0] = 0x81 // V=2, P=0, RC=1
	buf[1] = rtcpRR
	binary.BigEndian.PutUint16(buf[2:4], 7)
	binary.BigEndian.PutUint32(buf[4:8], rr.SSRC)
	binary.BigEndian.PutUint32(buf[8:12], rr.SourceSSRC)
	buf[12] = rr.FractionLost
	buf[13] = byte(rr.CumulativeLost >> 16)
	buf[14] = byte(rr.CumulativeLost >> 8)
	buf[15] = byte(rr.CumulativeLost)
	binary.BigEndian.PutUint32(buf[16:20], rr.HighestSeq)
	binary.BigEndian.PutUint32(buf[20:24], rr.Jitter)
	binary.BigEndian.PutUint32(buf[24:28], rr.LastSR)
	binary.BigEndian.PutUint32(buf[28:32], rr.DelaySinceLastSR)
	return buf
}

// FeedbackLimiter rate-limits PLI and FIR feedback per spec §4.2: PLI >=
// 500ms apart, FIR >= 2s apart, PLI+FIR together <= 10pps. It has no
// REMB or transport-CC gate.
type FeedbackLimiter struct {
	lastPLI  time.Time
	lastFIR  time.Time
	window   []time.Time // sliding 1s window for the 10pps cap
}

// AllowPLI reports whether a PLI may be sent now, and records it if so.
func (f *FeedbackLimiter) AllowPLI(now time.Time) bool {
	if now.Sub(f.lastPLI) < 500*time.Millisecond {
		return false
	}
	if !f.admit(now) {
		return false
	}
	f.lastPLI = now
	return true
}

// AllowFIR reports whether a FIR may be sent now, and records it if so.
func (f *FeedbackLimiter) AllowFIR(now time.Time) bool {
	if now.Sub(f.lastFIR) < 2*time.Second {
		return false
	}
	if !f.admit(now) {
		return false
	}
	f.lastFIR = now
	return true
}

func (f *FeedbackLimiter) admit(now time.Time) bool {
	cutoff := now.Add(-time.Second)
	kept := f.window[:0]
	for _, t := range f.window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	f.window = kept
	if len(f.window) >= 10 {
		return false
	}
	f.window = append(f.window, now)
	return true
}

// RTCPInterval computes the minimum reporting interval per RFC 3550's
// bandwidth calculation, floored at 5s as spec §4.2 requires. memberCount
// and avgPacketSize feed the standard bandwidth-proportional formula; a
// fixed fraction of session bandwidth (rtcpFractionOfBandwidth) is assumed
// since no separate bandwidth negotiation exists in this module's scope.
func RTCPInterval(memberCount int, avgPacketSize int, bandwidthBps float64) time.Duration {
	if memberCount < 1 {
		memberCount = 1
	}
	const rtcpFractionOfBandwidth = 0.05
	rtcpBandwidth := bandwidthBps * rtcpFractionOfBandwidth
	if rtcpBandwidth <= 0 {
		return 5 * time.Second
	}
	interval := time.Duration(float64(memberCount*avgPacketSize*8) / rtcpBandwidth * float64(time.Second))
	if interval < 5*time.Second {
		return 5 * time.Second
	}
	return interval
}

// ErrFeedbackUnsupported is returned when a caller requests a feedback type
// this session was not configured to send.
var ErrFeedbackUnsupported = verrors.New(verrors.UnsupportedConfiguration, "feedback type not enabled for this session")
