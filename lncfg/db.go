package lncfg

import (
	"fmt"

	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/lightningnetwork/lnpay/channeldb"
)

const (
	// BoltBackend is the only supported database backend.
	BoltBackend = "bolt"
)

// DB holds database configuration for lnpayd.
//
//nolint:lll
type DB struct {
	Backend string `long:"backend" description:"The selected database backend." choice:"bolt"`

	Bolt *kvdb.BoltConfig `group:"bolt" namespace:"bolt" description:"Bolt settings."`
}

// DefaultDB creates and returns a new default DB config.
func DefaultDB() *DB {
	return &DB{
		Backend: BoltBackend,
		Bolt: &kvdb.BoltConfig{
			NoFreelistSync:    true,
			AutoCompactMinAge: kvdb.DefaultBoltAutoCompactMinAge,
			DBTimeout:         kvdb.DefaultDBTimeout,
		},
	}
}

// Validate validates the DB config.
//
// NOTE: this is part of the Validator interface.
func (db *DB) Validate() error {
	switch db.Backend {
	case BoltBackend:

	default:
		return configErr("db.backend", db.Backend, fmt.Errorf(
			"%w: must be %q", ErrInvalidValue, BoltBackend,
		))
	}

	if db.Bolt.DBTimeout <= 0 {
		return configErr("db.bolt.dbtimeout", db.Bolt.DBTimeout,
			ErrOutOfRange)
	}

	return nil
}

// Open opens the node database in dbPath with the bolt settings of the
// config.
func (db *DB) Open(dbPath string) (*channeldb.DB, error) {
	return channeldb.Open(
		dbPath,
		channeldb.OptionNoFreelistSync(db.Bolt.NoFreelistSync),
		channeldb.OptionAutoCompact(
			db.Bolt.AutoCompact, db.Bolt.AutoCompactMinAge,
		),
		channeldb.OptionDBTimeout(db.Bolt.DBTimeout),
	)
}

// Compile-time constraint to ensure DB implements the Validator interface.
var _ Validator = (*DB)(nil)
