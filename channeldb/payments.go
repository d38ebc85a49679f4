package channeldb

import (
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/lightningnetwork/lnpay/lntypes"
	"github.com/lightningnetwork/lnpay/lnwire"
	"github.com/lightningnetwork/lnpay/payments"
	"github.com/lightningnetwork/lnpay/routing/route"
)

const (
	paySeqType      tlv.Type = 0
	payHashType     tlv.Type = 1
	payValueType    tlv.Type = 2
	payDestType     tlv.Type = 3
	payCreationType tlv.Type = 4
	payPayReqType   tlv.Type = 5
	payStatusType   tlv.Type = 6
	payReasonType   tlv.Type = 7
	payHTLCsType    tlv.Type = 8
)

const (
	htlcIDType          tlv.Type = 0
	htlcRouteType       tlv.Type = 1
	htlcAttemptTimeType tlv.Type = 2
	htlcSettleTimeType  tlv.Type = 3
	htlcFailTimeType    tlv.Type = 4
	htlcFailSourceType  tlv.Type = 5
	htlcFailMsgType     tlv.Type = 6
)

const (
	routeTimeLockType tlv.Type = 0
	routeAmountType   tlv.Type = 1
	routeSourceType   tlv.Type = 2
	routeHopsType     tlv.Type = 3
)

const (
	hopPubKeyType    tlv.Type = 0
	hopChanIDType    tlv.Type = 1
	hopAmtType       tlv.Type = 2
	hopFeeType       tlv.Type = 3
	hopCltvDeltaType tlv.Type = 4
)

// A compile time check to ensure DB implements payments.Persister.
var _ payments.Persister = (*DB)(nil)

// serializeHop encodes a route hop.
func serializeHop(h *route.Hop) ([]byte, error) {
	var (
		pub       = [33]byte(h.PubKeyBytes)
		chanID    = h.ChannelID
		amt       = uint64(h.AmtToForward)
		fee       = uint64(h.Fee)
		cltvDelta = h.CltvExpiryDelta
	)

	return serializeRecords(
		tlv.MakePrimitiveRecord(hopPubKeyType, &pub),
		tlv.MakePrimitiveRecord(hopChanIDType, &chanID),
		tlv.MakePrimitiveRecord(hopAmtType, &amt),
		tlv.MakePrimitiveRecord(hopFeeType, &fee),
		tlv.MakePrimitiveRecord(hopCltvDeltaType, &cltvDelta),
	)
}

// deserializeHop decodes a route hop.
func deserializeHop(data []byte) (*route.Hop, error) {
	var (
		pub       [33]byte
		chanID    uint64
		amt       uint64
		fee       uint64
		cltvDelta uint32
	)

	_, err := deserializeRecords(data,
		tlv.MakePrimitiveRecord(hopPubKeyType, &pub),
		tlv.MakePrimitiveRecord(hopChanIDType, &chanID),
		tlv.MakePrimitiveRecord(hopAmtType, &amt),
		tlv.MakePrimitiveRecord(hopFeeType, &fee),
		tlv.MakePrimitiveRecord(hopCltvDeltaType, &cltvDelta),
	)
	if err != nil {
		return nil, err
	}

	return &route.Hop{
		PubKeyBytes:     route.Vertex(pub),
		ChannelID:       chanID,
		AmtToForward:    lnwire.MilliSatoshi(amt),
		Fee:             lnwire.MilliSatoshi(fee),
		CltvExpiryDelta: cltvDelta,
	}, nil
}

// serializeRoute encodes a route with its hops.
func serializeRoute(r *route.Route) ([]byte, error) {
	hopBlobs := make([][]byte, 0, len(r.Hops))
	for _, hop := range r.Hops {
		blob, err := serializeHop(hop)
		if err != nil {
			return nil, err
		}
		hopBlobs = append(hopBlobs, blob)
	}

	hops, err := encodeBlobs(hopBlobs)
	if err != nil {
		return nil, err
	}

	var (
		timeLock = r.TotalCltvDelta
		amount   = uint64(r.TotalAmount)
		source   = [33]byte(r.SourcePubKey)
	)

	return serializeRecords(
		tlv.MakePrimitiveRecord(routeTimeLockType, &timeLock),
		tlv.MakePrimitiveRecord(routeAmountType, &amount),
		tlv.MakePrimitiveRecord(routeSourceType, &source),
		tlv.MakePrimitiveRecord(routeHopsType, &hops),
	)
}

// deserializeRoute decodes a route.
func deserializeRoute(data []byte) (*route.Route, error) {
	var (
		timeLock uint32
		amount   uint64
		source   [33]byte
		hops     []byte
	)

	_, err := deserializeRecords(data,
		tlv.MakePrimitiveRecord(routeTimeLockType, &timeLock),
		tlv.MakePrimitiveRecord(routeAmountType, &amount),
		tlv.MakePrimitiveRecord(routeSourceType, &source),
		tlv.MakePrimitiveRecord(routeHopsType, &hops),
	)
	if err != nil {
		return nil, err
	}

	hopBlobs, err := decodeBlobs(hops)
	if err != nil {
		return nil, err
	}

	r := &route.Route{
		TotalCltvDelta: timeLock,
		TotalAmount:    lnwire.MilliSatoshi(amount),
		SourcePubKey:   route.Vertex(source),
		Hops:           make([]*route.Hop, 0, len(hopBlobs)),
	}
	for _, blob := range hopBlobs {
		hop, err := deserializeHop(blob)
		if err != nil {
			return nil, err
		}
		r.Hops = append(r.Hops, hop)
	}

	return r, nil
}

// serializeHTLCAttempt encodes an attempt with its outcome.
func serializeHTLCAttempt(a *payments.HTLCAttempt) ([]byte, error) {
	rt, err := serializeRoute(&a.Route)
	if err != nil {
		return nil, err
	}

	var (
		id          = a.AttemptID
		attemptTime = encodeTime(a.AttemptTime)
	)
	records := []tlv.Record{
		tlv.MakePrimitiveRecord(htlcIDType, &id),
		tlv.MakePrimitiveRecord(htlcRouteType, &rt),
		tlv.MakePrimitiveRecord(htlcAttemptTimeType, &attemptTime),
	}

	var settleTime uint64
	if a.Settle != nil {
		settleTime = encodeTime(a.Settle.SettleTime)
		records = append(records, tlv.MakePrimitiveRecord(
			htlcSettleTimeType, &settleTime,
		))
	}

	var (
		failTime   uint64
		failSource uint32
		failMsg    []byte
	)
	if a.Failure != nil {
		failTime = encodeTime(a.Failure.FailTime)
		failSource = a.Failure.FailureSourceIndex
		failMsg = []byte(a.Failure.Message)

		records = append(records,
			tlv.MakePrimitiveRecord(htlcFailTimeType, &failTime),
			tlv.MakePrimitiveRecord(htlcFailSourceType, &failSource),
			tlv.MakePrimitiveRecord(htlcFailMsgType, &failMsg),
		)
	}

	return serializeRecords(records...)
}

// deserializeHTLCAttempt decodes an attempt.
func deserializeHTLCAttempt(data []byte) (*payments.HTLCAttempt, error) {
	var (
		id          uint64
		rt          []byte
		attemptTime uint64
		settleTime  uint64
		failTime    uint64
		failSource  uint32
		failMsg     []byte
	)

	typeMap, err := deserializeRecords(data,
		tlv.MakePrimitiveRecord(htlcIDType, &id),
		tlv.MakePrimitiveRecord(htlcRouteType, &rt),
		tlv.MakePrimitiveRecord(htlcAttemptTimeType, &attemptTime),
		tlv.MakePrimitiveRecord(htlcSettleTimeType, &settleTime),
		tlv.MakePrimitiveRecord(htlcFailTimeType, &failTime),
		tlv.MakePrimitiveRecord(htlcFailSourceType, &failSource),
		tlv.MakePrimitiveRecord(htlcFailMsgType, &failMsg),
	)
	if err != nil {
		return nil, err
	}

	r, err := deserializeRoute(rt)
	if err != nil {
		return nil, err
	}

	attempt := &payments.HTLCAttempt{
		HTLCAttemptInfo: payments.HTLCAttemptInfo{
			AttemptID:   id,
			Route:       *r,
			AttemptTime: decodeTime(attemptTime),
		},
	}
	if hasType(typeMap, htlcSettleTimeType) {
		attempt.Settle = &payments.HTLCSettleInfo{
			SettleTime: decodeTime(settleTime),
		}
	}
	if hasType(typeMap, htlcFailTimeType) {
		attempt.Failure = &payments.HTLCFailInfo{
			FailTime:           decodeTime(failTime),
			FailureSourceIndex: failSource,
			Message:            string(failMsg),
		}
	}

	return attempt, nil
}

// serializePayment encodes a payment with all of its attempts.
func serializePayment(p *payments.Payment) ([]byte, error) {
	htlcBlobs := make([][]byte, 0, len(p.HTLCs))
	for i := range p.HTLCs {
		blob, err := serializeHTLCAttempt(&p.HTLCs[i])
		if err != nil {
			return nil, err
		}
		htlcBlobs = append(htlcBlobs, blob)
	}

	htlcs, err := encodeBlobs(htlcBlobs)
	if err != nil {
		return nil, err
	}

	var (
		seq      = p.SequenceNum
		hash     = [32]byte(p.Info.PaymentHash)
		value    = uint64(p.Info.Value)
		dest     = [33]byte(p.Info.Destination)
		creation = encodeTime(p.Info.CreationTime)
		payReq   = []byte(p.Info.PaymentRequest)
		status   = uint8(p.Status)
	)
	records := []tlv.Record{
		tlv.MakePrimitiveRecord(paySeqType, &seq),
		tlv.MakePrimitiveRecord(payHashType, &hash),
		tlv.MakePrimitiveRecord(payValueType, &value),
		tlv.MakePrimitiveRecord(payDestType, &dest),
		tlv.MakePrimitiveRecord(payCreationType, &creation),
		tlv.MakePrimitiveRecord(payPayReqType, &payReq),
		tlv.MakePrimitiveRecord(payStatusType, &status),
	}

	var reason uint8
	p.FailureReason.WhenSome(func(r payments.FailureReason) {
		reason = uint8(r)
		records = append(records, tlv.MakePrimitiveRecord(
			payReasonType, &reason,
		))
	})

	records = append(records, tlv.MakePrimitiveRecord(
		payHTLCsType, &htlcs,
	))

	return serializeRecords(records...)
}

// deserializePayment decodes a payment.
func deserializePayment(data []byte) (*payments.Payment, error) {
	var (
		seq      uint64
		hash     [32]byte
		value    uint64
		dest     [33]byte
		creation uint64
		payReq   []byte
		status   uint8
		reason   uint8
		htlcs    []byte
	)

	typeMap, err := deserializeRecords(data,
		tlv.MakePrimitiveRecord(paySeqType, &seq),
		tlv.MakePrimitiveRecord(payHashType, &hash),
		tlv.MakePrimitiveRecord(payValueType, &value),
		tlv.MakePrimitiveRecord(payDestType, &dest),
		tlv.MakePrimitiveRecord(payCreationType, &creation),
		tlv.MakePrimitiveRecord(payPayReqType, &payReq),
		tlv.MakePrimitiveRecord(payStatusType, &status),
		tlv.MakePrimitiveRecord(payReasonType, &reason),
		tlv.MakePrimitiveRecord(payHTLCsType, &htlcs),
	)
	if err != nil {
		return nil, err
	}

	htlcBlobs, err := decodeBlobs(htlcs)
	if err != nil {
		return nil, err
	}

	p := &payments.Payment{
		SequenceNum: seq,
		Info: &payments.PaymentCreationInfo{
			PaymentHash:    lntypes.Hash(hash),
			Value:          lnwire.MilliSatoshi(value),
			Destination:    route.Vertex(dest),
			CreationTime:   decodeTime(creation),
			PaymentRequest: string(payReq),
		},
		FailureReason: fn.None[payments.FailureReason](),
		Status:        payments.PaymentStatus(status),
	}
	if hasType(typeMap, payReasonType) {
		p.FailureReason = fn.Some(payments.FailureReason(reason))
	}

	for _, blob := range htlcBlobs {
		attempt, err := deserializeHTLCAttempt(blob)
		if err != nil {
			return nil, err
		}
		p.HTLCs = append(p.HTLCs, *attempt)
	}

	return p, nil
}

// PutPayment inserts or replaces a payment.
func (d *DB) PutPayment(p *payments.Payment) error {
	value, err := serializePayment(p)
	if err != nil {
		return err
	}

	return d.putRecord(paymentBucket, p.Info.PaymentHash[:], value)
}

// FetchPayments returns every stored payment.
func (d *DB) FetchPayments() ([]*payments.Payment, error) {
	var result []*payments.Payment
	err := d.forEachRecord(paymentBucket, func() {
		result = nil
	}, func(_, v []byte) error {
		p, err := deserializePayment(v)
		if err != nil {
			return err
		}
		result = append(result, p)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
