package mediasession

import (
	"encoding/binary"

	"github.com/arzzra/voxcore/pkg/verrors"
)

// DTMFDigit is one of the sixteen RFC 4733 telephone-event codes (spec §6).
type DTMFDigit int

const (
	DTMF0 DTMFDigit = iota
	DTMF1
	DTMF2
	DTMF3
	DTMF4
	DTMF5
	DTMF6
	DTMF7
	DTMF8
	DTMF9
	DTMFStar
	DTMFPound
	DTMFA
	DTMFB
	DTMFC
	DTMFD
)

func (d DTMFDigit) String() string {
	switch d {
	case DTMFStar:
		return "*"
	case DTMFPound:
		return "#"
	case DTMFA, DTMFB, DTMFC, DTMFD:
		return string(rune('A' + int(d) - int(DTMFA)))
	default:
		return string(rune('0' + int(d)))
	}
}

// dtmfPacketPtimeMillis is the 20ms cadence spec §6 specifies for
// telephone-event packets.
const dtmfPacketPtimeMillis = 20

// dtmfEndRepeats is the number of redundant end packets spec §6 requires.
const dtmfEndRepeats = 3

// telephoneEventPayloadType is used when the negotiated SDP carries no
// telephone-event payload type, matching the IANA-registered default of
// 101 dynamic (spec §6).
const telephoneEventPayloadType = 101

// buildTelephoneEventPayload packs one RFC 4733 event payload: event(8) +
// E/R/volume(8) + duration(16), big-endian.
func buildTelephoneEventPayload(digit DTMFDigit, end bool, volume uint8, duration uint16) []byte {
	buf := make([]byte, 4)
	buf[0] = byte(digit)
	if end {
		buf[1] = 0x80
	}
	buf[1] |= volume & 0x3F
	binary.BigEndian.PutUint16(buf[2:4], duration)
	return buf
}

// SendDTMF emits RFC 4733 telephone-event packets for digit over
// durationMs, ending with the end-marker packet repeated dtmfEndRepeats
// times, on the negotiated DTMF payload type (spec §4.3). There is no
// in-band fallback: the digit is never encoded through the audio codec.
func (s *Session) SendDTMF(digit DTMFDigit, durationMs int) error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return verrors.Newf(verrors.InvalidState, "SendDTMF called in state %s", s.state)
	}
	sess := s.rtp
	clockRate := s.negotiated.ClockRate
	s.mu.Unlock()

	if clockRate == 0 {
		clockRate = 8000
	}
	samplesPerPacket := uint32(float64(clockRate) * dtmfPacketPtimeMillis / 1000)
	totalPackets := durationMs / dtmfPacketPtimeMillis
	if totalPackets < 1 {
		totalPackets = 1
	}
	durationSamples := uint16(samplesPerPacket) * uint16(totalPackets)

	for i := 0; i < totalPackets; i++ {
		payload := buildTelephoneEventPayload(digit, false, 10, uint16(i+1)*uint16(samplesPerPacket))
		if err := sess.SendPacket(payload, i == 0); err != nil {
			return nil
		}
	}

	end := buildTelephoneEventPayload(digit, true, 10, durationSamples)
	for i := 0; i < dtmfEndRepeats; i++ {
		if err := sess.SendPacket(end, false); err != nil {
			return nil
		}
	}
	return nil
}
