package channeldb

import (
	"errors"

	"github.com/lightningnetwork/lnd/kvdb"
)

// PutSettings replaces the stored settings with settings in a single
// transaction.
func (d *DB) PutSettings(settings map[string]string) error {
	return kvdb.Update(d, func(tx kvdb.RwTx) error {
		err := tx.DeleteTopLevelBucket(settingsBucket)
		if err != nil && !errors.Is(err, kvdb.ErrBucketNotFound) {
			return err
		}

		bucket, err := tx.CreateTopLevelBucket(settingsBucket)
		if err != nil {
			return err
		}

		for key, value := range settings {
			err := bucket.Put([]byte(key), []byte(value))
			if err != nil {
				return err
			}
		}

		return nil
	}, func() {})
}

// FetchSettings returns the stored settings. The map is empty when none
// were stored yet.
func (d *DB) FetchSettings() (map[string]string, error) {
	var settings map[string]string
	err := d.forEachRecord(settingsBucket, func() {
		settings = make(map[string]string)
	}, func(k, v []byte) error {
		settings[string(k)] = string(v)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return settings, nil
}
