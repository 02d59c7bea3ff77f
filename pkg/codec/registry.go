package codec

// PayloadTypeTelephoneEvent is the default dynamic RTP payload type for
// RFC 4733 telephone-event (DTMF) packets. It is a standalone constant:
// StaticPayloadTypes and Factory do not list it, since it never encodes or
// decodes audio.
const PayloadTypeTelephoneEvent = 101

// StaticPayloadTypes maps RFC 3551 static payload types to CodecIDs. Opus
// has no static assignment — it is always negotiated dynamically via SDP.
var StaticPayloadTypes = map[uint8]CodecID{
	0: G711Mu,
	8: G711A,
	9: G722,
	18: G729A,
}

// Registry resolves codec preference lists to concrete metadata without
// instantiating a live Codec — used by the SDP Negotiator (C5) to intersect
// offered/local codec lists before any Media Session exists.
type Registry struct {
	factory *Factory
}

// NewRegistry constructs a Registry over a Factory. One Registry instance is
// owned by each isolated stack (no process-wide singleton).
func NewRegistry(factory *Factory) *Registry {
	if factory == nil {
		factory = NewFactory()
	}
	return &Registry{factory: factory}
}

// Factory exposes the underlying codec Factory for components (Media
// Session) that need to instantiate, not just describe, a codec.
func (r *Registry) Factory() *Factory { return r.factory }

// MetadataFor returns the default Metadata for id by constructing a Codec
// with a default Config and immediately discarding it — the
// registry has no separate static metadata table to keep in sync with the
// codec implementations.
func (r *Registry) MetadataFor(id CodecID) (Metadata, error) {
	c, err := r.factory.New(Config{ID: id})
	if err != nil {
		return Metadata{}, err
	}
	return c.Metadata(), nil
}

// PayloadTypeForStatic reports the static RTP payload type for codecs that
// have one (everything but Opus), and false otherwise.
func PayloadTypeForStatic(id CodecID) (uint8, bool) {
	for pt, cid := range StaticPayloadTypes {
		if cid == id {
			return pt, true
		}
	}
	return 0, false
}
