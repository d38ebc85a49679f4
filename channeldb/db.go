package channeldb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lightningnetwork/lnd/kvdb"
)

const (
	dbName           = "lnpay.db"
	dbFilePermission = 0700
)

var (
	// metaBucket stores the schema version.
	metaBucket = []byte("metadata")

	// dbVersionKey is the key of the schema version in metaBucket.
	dbVersionKey = []byte("dbp")

	// channelBucket maps channel ids to channel records.
	channelBucket = []byte("channels")

	// invoiceBucket maps payment hashes to invoices.
	invoiceBucket = []byte("invoices")

	// paymentBucket maps payment hashes to payments.
	paymentBucket = []byte("payments")

	// escrowBucket maps escrow ids to escrows.
	escrowBucket = []byte("escrows")

	// graphNodeBucket maps node keys to graph nodes.
	graphNodeBucket = []byte("graph-nodes")

	// graphEdgeBucket maps short channel ids to graph edges.
	graphEdgeBucket = []byte("graph-edges")

	// settingsBucket maps panel setting keys to their textual values.
	settingsBucket = []byte("settings")

	// channelCommitBucket maps commit refs to the channel the commit
	// moved balance on.
	channelCommitBucket = []byte("channel-commits")

	topLevelBuckets = [][]byte{
		metaBucket, channelBucket, invoiceBucket, paymentBucket,
		escrowBucket, graphNodeBucket, graphEdgeBucket, settingsBucket,
		channelCommitBucket,
	}

	// Big endian is the preferred byte order, due to cursor scans over
	// integer keys iterating in order.
	byteOrder = binary.BigEndian
)

// latestDBVersion is the schema version written by this package.
const latestDBVersion = 1

var (
	// ErrDBReversion is returned when the database was written by a
	// newer version.
	ErrDBReversion = errors.New("channel db cannot revert to prior " +
		"version")

	// ErrCorruptRecord is returned when a stored record can't be decoded.
	ErrCorruptRecord = errors.New("corrupt database record")
)

// Options tune how the database is opened.
type Options struct {
	// NoFreelistSync skips syncing the bolt freelist to disk.
	NoFreelistSync bool

	// AutoCompact compacts the database file on open.
	AutoCompact bool

	// AutoCompactMinAge is the minimum age of the last compaction before
	// the file is compacted again.
	AutoCompactMinAge time.Duration

	// DBTimeout is how long to wait for the file lock.
	DBTimeout time.Duration
}

// OptionModifier is a function signature for modifying the default Options.
type OptionModifier func(*Options)

// DefaultOptions returns an Options populated with default values.
func DefaultOptions() Options {
	return Options{
		NoFreelistSync:    true,
		AutoCompactMinAge: kvdb.DefaultBoltAutoCompactMinAge,
		DBTimeout:         kvdb.DefaultDBTimeout,
	}
}

// OptionNoFreelistSync sets the NoFreelistSync option.
func OptionNoFreelistSync(b bool) OptionModifier {
	return func(o *Options) {
		o.NoFreelistSync = b
	}
}

// OptionDBTimeout sets the DBTimeout option.
func OptionDBTimeout(timeout time.Duration) OptionModifier {
	return func(o *Options) {
		o.DBTimeout = timeout
	}
}

// OptionAutoCompact sets the AutoCompact and AutoCompactMinAge options.
func OptionAutoCompact(b bool, minAge time.Duration) OptionModifier {
	return func(o *Options) {
		o.AutoCompact = b
		o.AutoCompactMinAge = minAge
	}
}

// DB is the persistent store of the node. It keeps channels, invoices,
// payments, escrows and the channel graph in a single bolt database.
type DB struct {
	kvdb.Backend

	dbPath string
}

// Open opens or creates the database in dbPath.
func Open(dbPath string, modifiers ...OptionModifier) (*DB, error) {
	opts := DefaultOptions()
	for _, modifier := range modifiers {
		modifier(&opts)
	}

	if err := os.MkdirAll(dbPath, dbFilePermission); err != nil {
		return nil, err
	}

	backend, err := kvdb.GetBoltBackend(&kvdb.BoltBackendConfig{
		DBPath:            dbPath,
		DBFileName:        dbName,
		NoFreelistSync:    opts.NoFreelistSync,
		AutoCompact:       opts.AutoCompact,
		AutoCompactMinAge: opts.AutoCompactMinAge,
		DBTimeout:         opts.DBTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to open %v: %w",
			filepath.Join(dbPath, dbName), err)
	}

	db, err := CreateWithBackend(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	db.dbPath = dbPath

	log.Infof("Opened database at %v", filepath.Join(dbPath, dbName))

	return db, nil
}

// CreateWithBackend creates the buckets of the database on the backend and
// checks its schema version.
func CreateWithBackend(backend kvdb.Backend) (*DB, error) {
	err := kvdb.Update(backend, func(tx kvdb.RwTx) error {
		for _, bucket := range topLevelBuckets {
			if _, err := tx.CreateTopLevelBucket(bucket); err != nil {
				return err
			}
		}

		meta := tx.ReadWriteBucket(metaBucket)
		version := meta.Get(dbVersionKey)
		if version == nil {
			var b [4]byte
			byteOrder.PutUint32(b[:], latestDBVersion)

			return meta.Put(dbVersionKey, b[:])
		}

		if v := byteOrder.Uint32(version); v > latestDBVersion {
			return fmt.Errorf("%w: have %d, know %d",
				ErrDBReversion, v, latestDBVersion)
		}

		return nil
	}, func() {})
	if err != nil {
		return nil, err
	}

	return &DB{Backend: backend}, nil
}

// Path returns the directory of the database file.
func (d *DB) Path() string {
	return d.dbPath
}

// Ping checks that the database answers a read transaction.
func (d *DB) Ping() error {
	return kvdb.View(d, func(tx kvdb.RTx) error {
		if tx.ReadBucket(metaBucket) == nil {
			return errors.New("metadata bucket missing")
		}

		return nil
	}, func() {})
}

// putRecord writes an encoded record under key in a top level bucket.
func (d *DB) putRecord(bucket, key []byte, value []byte) error {
	return kvdb.Update(d, func(tx kvdb.RwTx) error {
		return tx.ReadWriteBucket(bucket).Put(key, value)
	}, func() {})
}

// deleteRecord removes key from a top level bucket.
func (d *DB) deleteRecord(bucket, key []byte) error {
	return kvdb.Update(d, func(tx kvdb.RwTx) error {
		return tx.ReadWriteBucket(bucket).Delete(key)
	}, func() {})
}

// forEachRecord calls cb for every record of a top level bucket in key
// order.
func (d *DB) forEachRecord(bucket []byte, reset func(),
	cb func(k, v []byte) error) error {

	return kvdb.View(d, func(tx kvdb.RTx) error {
		return tx.ReadBucket(bucket).ForEach(cb)
	}, reset)
}
