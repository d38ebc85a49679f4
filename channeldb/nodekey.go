package channeldb

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/kvdb"
)

// nodeKeyKey is the key of the node identity key in metaBucket.
var nodeKeyKey = []byte("node-key")

// FetchOrCreateNodeKey returns the identity key of the node. A fresh key is
// generated and stored on first use.
func (d *DB) FetchOrCreateNodeKey() (*btcec.PrivateKey, error) {
	var key *btcec.PrivateKey
	err := kvdb.Update(d, func(tx kvdb.RwTx) error {
		meta := tx.ReadWriteBucket(metaBucket)
		if raw := meta.Get(nodeKeyKey); raw != nil {
			if len(raw) != btcec.PrivKeyBytesLen {
				return ErrCorruptRecord
			}
			key, _ = btcec.PrivKeyFromBytes(raw)

			return nil
		}

		var err error
		key, err = btcec.NewPrivateKey()
		if err != nil {
			return err
		}

		log.Infof("Generated node identity key %x",
			key.PubKey().SerializeCompressed())

		return meta.Put(nodeKeyKey, key.Serialize())
	}, func() {
		key = nil
	})
	if err != nil {
		return nil, err
	}

	return key, nil
}
