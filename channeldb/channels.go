package channeldb

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/lightningnetwork/lnpay/chanstore"
	"github.com/lightningnetwork/lnpay/lnwire"
)

const (
	chanIDType       tlv.Type = 0
	chanShortIDType  tlv.Type = 1
	chanPeerType     tlv.Type = 2
	chanCapacityType tlv.Type = 3
	chanPushType     tlv.Type = 4
	chanLocalType    tlv.Type = 5
	chanRemoteType   tlv.Type = 6
	chanStateType    tlv.Type = 7
	chanOpenedAtType tlv.Type = 8
	chanClosedAtType tlv.Type = 9
)

// A compile time check to ensure DB implements chanstore.Persister.
var _ chanstore.Persister = (*DB)(nil)

// serializeChannel encodes a channel record.
func serializeChannel(c *chanstore.Channel) ([]byte, error) {
	var (
		chanID   = [32]byte(c.ChanID)
		scid     = c.ShortChanID
		peer     = c.PeerPub
		capacity = uint64(c.Capacity)
		push     = uint64(c.PushAmount)
		local    = uint64(c.LocalBalance)
		remote   = uint64(c.RemoteBalance)
		state    = uint8(c.State)
		openedAt = encodeTime(c.OpenedAt)
		closedAt = encodeTime(c.ClosedAt)
	)

	return serializeRecords(
		tlv.MakePrimitiveRecord(chanIDType, &chanID),
		scid.Record(chanShortIDType),
		tlv.MakePrimitiveRecord(chanPeerType, &peer),
		tlv.MakePrimitiveRecord(chanCapacityType, &capacity),
		tlv.MakePrimitiveRecord(chanPushType, &push),
		tlv.MakePrimitiveRecord(chanLocalType, &local),
		tlv.MakePrimitiveRecord(chanRemoteType, &remote),
		tlv.MakePrimitiveRecord(chanStateType, &state),
		tlv.MakePrimitiveRecord(chanOpenedAtType, &openedAt),
		tlv.MakePrimitiveRecord(chanClosedAtType, &closedAt),
	)
}

// deserializeChannel decodes a channel record.
func deserializeChannel(data []byte) (*chanstore.Channel, error) {
	var (
		chanID   [32]byte
		scid     lnwire.ShortChannelID
		peer     [33]byte
		capacity uint64
		push     uint64
		local    uint64
		remote   uint64
		state    uint8
		openedAt uint64
		closedAt uint64
	)

	_, err := deserializeRecords(data,
		tlv.MakePrimitiveRecord(chanIDType, &chanID),
		scid.Record(chanShortIDType),
		tlv.MakePrimitiveRecord(chanPeerType, &peer),
		tlv.MakePrimitiveRecord(chanCapacityType, &capacity),
		tlv.MakePrimitiveRecord(chanPushType, &push),
		tlv.MakePrimitiveRecord(chanLocalType, &local),
		tlv.MakePrimitiveRecord(chanRemoteType, &remote),
		tlv.MakePrimitiveRecord(chanStateType, &state),
		tlv.MakePrimitiveRecord(chanOpenedAtType, &openedAt),
		tlv.MakePrimitiveRecord(chanClosedAtType, &closedAt),
	)
	if err != nil {
		return nil, err
	}

	return &chanstore.Channel{
		ChanID:        lnwire.ChannelID(chanID),
		ShortChanID:   scid,
		PeerPub:       peer,
		Capacity:      btcutil.Amount(capacity),
		PushAmount:    btcutil.Amount(push),
		LocalBalance:  lnwire.MilliSatoshi(local),
		RemoteBalance: lnwire.MilliSatoshi(remote),
		State:         chanstore.ChannelState(state),
		OpenedAt:      decodeTime(openedAt),
		ClosedAt:      decodeTime(closedAt),
	}, nil
}

// PutChannel inserts or replaces the record of a channel.
func (d *DB) PutChannel(c *chanstore.Channel) error {
	value, err := serializeChannel(c)
	if err != nil {
		return err
	}

	return d.putRecord(channelBucket, c.ChanID[:], value)
}

// PutChannelCommit stores the channel and a marker for ref in one
// transaction, so the marker exists exactly when the new balance does.
func (d *DB) PutChannelCommit(c *chanstore.Channel, ref []byte) error {
	value, err := serializeChannel(c)
	if err != nil {
		return err
	}

	return kvdb.Update(d, func(tx kvdb.RwTx) error {
		err := tx.ReadWriteBucket(channelBucket).Put(c.ChanID[:], value)
		if err != nil {
			return err
		}

		return tx.ReadWriteBucket(channelCommitBucket).Put(
			ref, c.ChanID[:],
		)
	}, func() {})
}

// FetchCommitRefs returns every stored commit marker.
func (d *DB) FetchCommitRefs() ([][]byte, error) {
	var refs [][]byte
	err := d.forEachRecord(channelCommitBucket, func() {
		refs = nil
	}, func(k, _ []byte) error {
		refs = append(refs, append([]byte(nil), k...))

		return nil
	})
	if err != nil {
		return nil, err
	}

	return refs, nil
}

// DeleteCommitRef removes a commit marker.
func (d *DB) DeleteCommitRef(ref []byte) error {
	return d.deleteRecord(channelCommitBucket, ref)
}

// FetchChannels returns every stored channel.
func (d *DB) FetchChannels() ([]*chanstore.Channel, error) {
	var channels []*chanstore.Channel
	err := d.forEachRecord(channelBucket, func() {
		channels = nil
	}, func(_, v []byte) error {
		c, err := deserializeChannel(v)
		if err != nil {
			return err
		}
		channels = append(channels, c)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return channels, nil
}
