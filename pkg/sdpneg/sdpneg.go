// Package sdpneg implements the SDP Offer/Answer negotiator (spec §4.5):
// offer/answer construction, codec intersection, direction resolution and
// hold/resume detection, built on github.com/pion/sdp/v3 — the same SDP
// library the teacher repo's pkg/media_sdp package imports directly.
package sdpneg

import (
	"fmt"
	"net"
	"strconv"

	"github.com/pion/sdp/v3"

	"github.com/arzzra/voxcore/pkg/codec"
	"github.com/arzzra/voxcore/pkg/rtpsession"
	"github.com/arzzra/voxcore/pkg/verrors"
)

// Direction mirrors rtpsession.Direction; kept as a distinct type here so
// SDP-layer direction resolution stays decoupled from the RTP session's
// notion of direction, per the "three separate FSMs" design note (spec §9).
type Direction int

const (
	DirectionSendRecv Direction = iota
	DirectionSendOnly
	DirectionRecvOnly
	DirectionInactive
)

func (d Direction) rtpsessionDirection() rtpsession.Direction {
	switch d {
	case DirectionSendOnly:
		return rtpsession.DirectionSendOnly
	case DirectionRecvOnly:
		return rtpsession.DirectionRecvOnly
	case DirectionInactive:
		return rtpsession.DirectionInactive
	default:
		return rtpsession.DirectionSendRecv
	}
}

// Capability describes one locally supported codec in preference order.
type Capability struct {
	CodecID     codec.CodecID
	PayloadType uint8
	ClockRate   uint32
}

// LocalConfig is the offerer/answerer's own capability set and transport
// parameters.
type LocalConfig struct {
	Capabilities []Capability
	Address      net.IP
	PortMin      int
	PortMax      int
	AllocatePort func() (int, error) // nil uses the built-in range allocator
}

// NegotiatedMedia is the atomic result of a completed negotiation (spec
// §4.5 "emit a fully-populated NegotiatedMedia or an error").
type NegotiatedMedia struct {
	LocalAddr   *net.UDPAddr
	RemoteAddr  *net.UDPAddr
	CodecID     codec.CodecID
	PayloadType uint8
	ClockRate   uint32
	Direction   rtpsession.Direction
}

// Negotiator builds offers and answers against a fixed local capability
// list.
type Negotiator struct {
	local LocalConfig
}

// New constructs a Negotiator bound to the given local capabilities.
func New(local LocalConfig) *Negotiator {
	return &Negotiator{local: local}
}

// BuildOffer constructs a UAC offer (spec §4.5): allocate a port, advertise
// codecs in preference order, direction sendrecv unless hold is requested.
func (n *Negotiator) BuildOffer(sessionName string, hold bool) (*sdp.SessionDescription, int, error) {
	port, err := n.allocatePort()
	if err != nil {
		return nil, 0, err
	}

	direction := DirectionSendRecv
	if hold {
		direction = DirectionSendOnly
	}

	desc := baseSessionDescription(sessionName, n.local.Address)
	media := buildMediaDescription(port, n.local.Capabilities, direction)
	desc.MediaDescriptions = []*sdp.MediaDescription{media}
	return desc, port, nil
}

// BuildAnswer constructs a UAS answer (spec §4.5): intersect codecs
// preserving remote order, pick direction per the resolution table, answer
// with exactly one codec.
func (n *Negotiator) BuildAnswer(offer *sdp.SessionDescription, sessionName string) (*sdp.SessionDescription, NegotiatedMedia, error) {
	if len(offer.MediaDescriptions) == 0 {
		return nil, NegotiatedMedia{}, verrors.New(verrors.MalformedSdp, "sdpneg: offer has no media descriptions")
	}
	md := offer.MediaDescriptions[0]
	if md.MediaName.Media != "audio" {
		return nil, NegotiatedMedia{}, verrors.New(verrors.UnsupportedTransport, "sdpneg: only audio media is supported")
	}

	remoteCap, err := n.intersectCodecs(md)
	if err != nil {
		return nil, NegotiatedMedia{}, err
	}

	remoteDir := directionOf(md)
	remoteAddr, remotePort, holdSignaled := remoteMediaTarget(offer, md)
	if holdSignaled {
		remoteDir = DirectionInactive
	}
	resultDir := resolveDirection(remoteDir, DirectionSendRecv)

	localPort, err := n.allocatePort()
	if err != nil {
		return nil, NegotiatedMedia{}, err
	}

	desc := baseSessionDescription(sessionName, n.local.Address)
	media := buildMediaDescription(localPort, []Capability{remoteCap}, resultDir)
	desc.MediaDescriptions = []*sdp.MediaDescription{media}

	negotiated := NegotiatedMedia{
		LocalAddr:   &net.UDPAddr{IP: n.local.Address, Port: localPort},
		RemoteAddr:  &net.UDPAddr{IP: remoteAddr, Port: remotePort},
		CodecID:     remoteCap.CodecID,
		PayloadType: remoteCap.PayloadType,
		ClockRate:   remoteCap.ClockRate,
		Direction:   resultDir.rtpsessionDirection(),
	}
	return desc, negotiated, nil
}

// ApplyAnswer completes a UAC's view of negotiation once the UAS's answer
// arrives: intersect (the answer already chose one codec, so this mostly
// validates it's one we offered), resolve direction, detect hold/resume.
func (n *Negotiator) ApplyAnswer(answer *sdp.SessionDescription, previousDirection Direction) (NegotiatedMedia, bool, error) {
	if len(answer.MediaDescriptions) == 0 {
		return NegotiatedMedia{}, false, verrors.New(verrors.MalformedSdp, "sdpneg: answer has no media descriptions")
	}
	md := answer.MediaDescriptions[0]

	answeredCap, err := n.intersectCodecs(md)
	if err != nil {
		return NegotiatedMedia{}, false, err
	}

	remoteDir := directionOf(md)
	remoteAddr, remotePort, holdSignaled := remoteMediaTarget(answer, md)
	if holdSignaled {
		remoteDir = DirectionInactive
	}
	resultDir := resolveDirection(remoteDir, DirectionSendRecv)

	// Hold detection (spec §4.5): remote direction regressed from
	// sendrecv to sendonly/inactive, or c= went to 0.0.0.0.
	wasActive := previousDirection == DirectionSendRecv
	nowHeld := resultDir == DirectionRecvOnly || resultDir == DirectionInactive
	holdTransition := wasActive && nowHeld

	negotiated := NegotiatedMedia{
		RemoteAddr:  &net.UDPAddr{IP: remoteAddr, Port: remotePort},
		CodecID:     answeredCap.CodecID,
		PayloadType: answeredCap.PayloadType,
		ClockRate:   answeredCap.ClockRate,
		Direction:   resultDir.rtpsessionDirection(),
	}
	return negotiated, holdTransition, nil
}

// intersectCodecs walks md's payload types in the order the remote offered
// them and returns the first one present in n.local.Capabilities (spec
// §4.5 "intersect ... preserving remote's order").
func (n *Negotiator) intersectCodecs(md *sdp.MediaDescription) (Capability, error) {
	for _, fmtStr := range md.MediaName.Formats {
		pt, err := strconv.Atoi(fmtStr)
		if err != nil {
			continue
		}
		for _, cap := range n.local.Capabilities {
			if int(cap.PayloadType) == pt {
				return cap, nil
			}
		}
	}
	return Capability{}, verrors.New(verrors.NoCommonCodec, "sdpneg: no codec in common with remote offer")
}

func (n *Negotiator) allocatePort() (int, error) {
	if n.local.AllocatePort != nil {
		return n.local.AllocatePort()
	}
	if n.local.PortMin == 0 || n.local.PortMax == 0 {
		return 0, verrors.New(verrors.NoAvailablePort, "sdpneg: no port range configured")
	}
	// Fallback single-shot allocator; production negotiators should supply
	// LocalConfig.AllocatePort backed by the coordinator's port pool.
	return n.local.PortMin, nil
}

func baseSessionDescription(name string, addr net.IP) *sdp.SessionDescription {
	if addr == nil {
		addr = net.IPv4zero
	}
	return &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      1,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    ipAddressType(addr),
			UnicastAddress: addr.String(),
		},
		SessionName: sdp.SessionName(name),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: ipAddressType(addr),
			Address:     &sdp.Address{Address: addr.String()},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{StartTime: 0, StopTime: 0}}},
	}
}

func buildMediaDescription(port int, caps []Capability, dir Direction) *sdp.MediaDescription {
	formats := make([]string, len(caps))
	md := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "audio",
			Port:    sdp.RangedPort{Value: port},
			Protos:  []string{"RTP", "AVP"},
			Formats: formats,
		},
	}
	for i, c := range caps {
		formats[i] = strconv.Itoa(int(c.PayloadType))
		md.Attributes = append(md.Attributes, sdp.NewAttribute("rtpmap",
			fmt.Sprintf("%d %s/%d", c.PayloadType, rtpmapName(c.CodecID), c.ClockRate)))
	}
	md.Attributes = append(md.Attributes, sdp.NewPropertyAttribute(directionAttr(dir)))
	return md
}

func rtpmapName(id codec.CodecID) string {
	switch id {
	case codec.G711Mu:
		return "PCMU"
	case codec.G711A:
		return "PCMA"
	case codec.G722:
		return "G722"
	case codec.G729A:
		return "G729"
	case codec.Opus:
		return "opus"
	default:
		return "UNKNOWN"
	}
}

func directionAttr(d Direction) string {
	switch d {
	case DirectionSendOnly:
		return "sendonly"
	case DirectionRecvOnly:
		return "recvonly"
	case DirectionInactive:
		return "inactive"
	default:
		return "sendrecv"
	}
}

func directionOf(md *sdp.MediaDescription) Direction {
	for _, a := range md.Attributes {
		switch a.Key {
		case "sendonly":
			return DirectionSendOnly
		case "recvonly":
			return DirectionRecvOnly
		case "inactive":
			return DirectionInactive
		case "sendrecv":
			return DirectionSendRecv
		}
	}
	return DirectionSendRecv
}

// resolveDirection applies spec §4.5's direction resolution table.
func resolveDirection(remote, localPreference Direction) Direction {
	switch remote {
	case DirectionSendOnly:
		return DirectionRecvOnly
	case DirectionRecvOnly:
		return DirectionSendOnly
	case DirectionInactive:
		return DirectionInactive
	default: // sendrecv
		return localPreference
	}
}

// remoteMediaTarget extracts the c= address and m= port for md, falling
// back to the session-level connection line; also reports whether the
// address/port signals hold (0.0.0.0 or port 0), per spec §4.5.
func remoteMediaTarget(sess *sdp.SessionDescription, md *sdp.MediaDescription) (net.IP, int, bool) {
	addr := ""
	if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
		addr = md.ConnectionInformation.Address.Address
	} else if sess.ConnectionInformation != nil && sess.ConnectionInformation.Address != nil {
		addr = sess.ConnectionInformation.Address.Address
	}
	ip := net.ParseIP(addr)
	port := md.MediaName.Port.Value
	hold := port == 0 || addr == "0.0.0.0" || ip.Equal(net.IPv4zero)
	return ip, port, hold
}

func ipAddressType(ip net.IP) string {
	if ip.To4() == nil {
		return "IP6"
	}
	return "IP4"
}
