package factory

import (
	"github.com/alphabill-org/stakepool/internal/keyvaluedb"
	"github.com/alphabill-org/stakepool/pool"
)

type (
	options struct {
		db          keyvaluedb.KeyValueDB
		poolOptions []pool.Option
	}

	Option func(*options)
)

// WithDB makes the factory persist the registry and pool snapshots in db.
func WithDB(db keyvaluedb.KeyValueDB) Option {
	return func(o *options) {
		o.db = db
	}
}

// WithPoolOptions sets options applied to every pool the factory creates or restores,
// typically the shared registrar and payer.
func WithPoolOptions(opts ...pool.Option) Option {
	return func(o *options) {
		o.poolOptions = append(o.poolOptions, opts...)
	}
}
