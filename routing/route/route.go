package route

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnpay/lnwire"
)

// VertexSize is the size of the array to store a vertex.
const VertexSize = 33

var (
	// ErrNoRouteHopsProvided is returned when a caller attempts to
	// construct a route from an empty set of hops.
	ErrNoRouteHopsProvided = fmt.Errorf("empty route hops provided")

	// ErrFeeMismatch is returned when the fees of the hops don't add up
	// to the difference between the sent and the received amount.
	ErrFeeMismatch = errors.New("route hop fees don't match route amount")
)

// Vertex is a simple alias for the serialization of a compressed Bitcoin
// public key.
type Vertex [VertexSize]byte

// NewVertex returns a new Vertex given a public key.
func NewVertex(pub *btcec.PublicKey) Vertex {
	var v Vertex
	copy(v[:], pub.SerializeCompressed())
	return v
}

// NewVertexFromBytes returns a new Vertex based on a serialized pubkey in a
// byte slice.
func NewVertexFromBytes(b []byte) (Vertex, error) {
	vertexLen := len(b)
	if vertexLen != VertexSize {
		return Vertex{}, fmt.Errorf("invalid vertex length of %v, "+
			"want %v", vertexLen, VertexSize)
	}

	var v Vertex
	copy(v[:], b)
	return v, nil
}

// NewVertexFromStr returns a new Vertex given its hex-encoded string format.
func NewVertexFromStr(v string) (Vertex, error) {
	// Return error if hex string is of incorrect length.
	if len(v) != VertexSize*2 {
		return Vertex{}, fmt.Errorf("invalid vertex string length of "+
			"%v, want %v", len(v), VertexSize*2)
	}

	vertex, err := hex.DecodeString(v)
	if err != nil {
		return Vertex{}, err
	}

	return NewVertexFromBytes(vertex)
}

// String returns a human readable version of the Vertex which is the
// hex-encoding of the serialized compressed public key.
func (v Vertex) String() string {
	return fmt.Sprintf("%x", v[:])
}

// Hop represents an intermediate or final node of the route. This naming
// is in line with the definition given in BOLT #4: Onion Routing Protocol.
// The hop's node forwards AmtToForward over the next channel of the route
// and keeps Fee.
type Hop struct {
	// PubKeyBytes is the raw bytes of the public key of the target node.
	PubKeyBytes Vertex

	// ChannelID is the short channel id of the channel that reaches
	// this hop.
	ChannelID uint64

	// AmtToForward is the amount that this hop will forward to the next
	// hop. For the final hop this is the amount received.
	AmtToForward lnwire.MilliSatoshi

	// Fee is what this hop charges for forwarding. Zero for the final
	// hop.
	Fee lnwire.MilliSatoshi

	// CltvExpiryDelta is the time lock this hop adds. For the final hop
	// this is the final cltv delta of the payment.
	CltvExpiryDelta uint32
}

// AmtToReceive is the amount this hop receives on its incoming channel.
func (h *Hop) AmtToReceive() lnwire.MilliSatoshi {
	return h.AmtToForward + h.Fee
}

// Copy returns a deep copy of the Hop.
func (h *Hop) Copy() *Hop {
	c := *h
	return &c
}

// Route represents a path through the channel graph which runs over one or
// more channels in succession. A route is only selected as valid if all the
// channels have sufficient capacity to carry the payment amount after fees
// are accounted for. Routes are computed per attempt and never modified.
type Route struct {
	// TotalCltvDelta is the sum of the time locks of all hops.
	TotalCltvDelta uint32

	// TotalAmount is the total amount of funds required to complete a
	// payment over this route. This value includes the cumulative fees at
	// each hop. As a result, the HTLC extended to the first-hop in the
	// route will need to have at least this many satoshis, otherwise the
	// route will fail at an intermediate node due to an insufficient
	// amount of fees.
	TotalAmount lnwire.MilliSatoshi

	// SourcePubKey is the pubkey of the node where this route originates
	// from.
	SourcePubKey Vertex

	// Hops contains details concerning the specific forwarding details at
	// each hop.
	Hops []*Hop
}

// Copy returns a deep copy of the Route.
func (r *Route) Copy() *Route {
	c := *r

	c.Hops = make([]*Hop, len(r.Hops))
	for i, hop := range r.Hops {
		c.Hops[i] = hop.Copy()
	}

	return &c
}

// HopFee returns the fee charged by the route hop indicated by hopIndex.
func (r *Route) HopFee(hopIndex int) lnwire.MilliSatoshi {
	return r.Hops[hopIndex].Fee
}

// TotalFees is used to calculate the total fee amount paid by the sender
// along this route.
func (r *Route) TotalFees() lnwire.MilliSatoshi {
	if len(r.Hops) == 0 {
		return 0
	}

	return r.TotalAmount - r.ReceiverAmt()
}

// ReceiverAmt is the amount received by the final hop of this route.
func (r *Route) ReceiverAmt() lnwire.MilliSatoshi {
	if len(r.Hops) == 0 {
		return 0
	}

	return r.Hops[len(r.Hops)-1].AmtToForward
}

// FirstHopChannel returns the channel the route leaves the source on.
func (r *Route) FirstHopChannel() lnwire.ShortChannelID {
	if len(r.Hops) == 0 {
		return lnwire.ShortChannelID{}
	}

	return lnwire.NewShortChanIDFromInt(r.Hops[0].ChannelID)
}

// NewRouteFromHops creates a new Route structure from the minimally
// required information to perform the payment. The hop fees must add up to
// the difference between the sent and the received amount.
func NewRouteFromHops(amtToSend lnwire.MilliSatoshi,
	sourceVertex Vertex, hops []*Hop) (*Route, error) {

	if len(hops) == 0 {
		return nil, ErrNoRouteHopsProvided
	}

	var (
		fees     lnwire.MilliSatoshi
		timeLock uint32
	)
	for _, hop := range hops {
		fees += hop.Fee
		timeLock += hop.CltvExpiryDelta
	}

	receiverAmt := hops[len(hops)-1].AmtToForward
	if receiverAmt+fees != amtToSend {
		return nil, fmt.Errorf("%w: sent %v, received %v, fees %v",
			ErrFeeMismatch, amtToSend, receiverAmt, fees)
	}

	return &Route{
		SourcePubKey:   sourceVertex,
		Hops:           hops,
		TotalCltvDelta: timeLock,
		TotalAmount:    amtToSend,
	}, nil
}

// String returns a human readable representation of the route.
func (r *Route) String() string {
	var b strings.Builder

	for i, hop := range r.Hops {
		if i > 0 {
			b.WriteString(" -> ")
		}
		b.WriteString(strconv.FormatUint(hop.ChannelID, 10))
	}

	return fmt.Sprintf("amt=%v, fees=%v, tl=%v, chans=%v",
		r.TotalAmount-r.TotalFees(), r.TotalFees(), r.TotalCltvDelta,
		b.String(),
	)
}
