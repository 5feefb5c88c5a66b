package pool

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alphabill-org/stakepool/deposit"
)

var DefaultUnitSize = uint256.NewInt(0).Mul(uint256.NewInt(32), uint256.NewInt(1_000_000_000_000_000_000))

type (
	Options struct {
		unitSize          *uint256.Int
		requireActivation bool
		monitor           common.Address
		registrar         deposit.Registrar
		payer             Payer
		metadata          MetadataRenderer
		royalty           RoyaltyOracle
		commitHandler     func(*Snapshot)
		clock             func() time.Time
	}

	Option func(*Options)
)

func defaultOptions() *Options {
	return &Options{
		unitSize:  DefaultUnitSize.Clone(),
		registrar: deposit.NewRecorder(),
		payer:     discardPayer{},
		clock:     time.Now,
	}
}

// WithUnitSize sets the capital required to form one deposit unit.
func WithUnitSize(size *uint256.Int) Option {
	return func(o *Options) {
		if size == nil {
			o.unitSize = nil
			return
		}
		o.unitSize = size.Clone()
	}
}

// WithRequireActivation keeps the pool in Staking after the first dispatch
// until the operator calls ConfirmActivation.
func WithRequireActivation(require bool) Option {
	return func(o *Options) {
		o.requireActivation = require
	}
}

// WithMonitor authorizes an address, besides the operator, to mark the pool failed.
func WithMonitor(monitor common.Address) Option {
	return func(o *Options) {
		o.monitor = monitor
	}
}

func WithRegistrar(r deposit.Registrar) Option {
	return func(o *Options) {
		o.registrar = r
	}
}

func WithPayer(p Payer) Option {
	return func(o *Options) {
		o.payer = p
	}
}

func WithMetadataRenderer(m MetadataRenderer) Option {
	return func(o *Options) {
		o.metadata = m
	}
}

func WithRoyaltyOracle(r RoyaltyOracle) Option {
	return func(o *Options) {
		o.royalty = r
	}
}

// WithCommitHandler registers a function called with the pool snapshot after every
// committed mutation. The handler runs while the pool lock is held and must not call
// back into the pool.
func WithCommitHandler(f func(*Snapshot)) Option {
	return func(o *Options) {
		o.commitHandler = f
	}
}

func WithClock(clock func() time.Time) Option {
	return func(o *Options) {
		o.clock = clock
	}
}
