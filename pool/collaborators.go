package pool

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type (
	// Payer moves funds out of the pool. A returned error means nothing was paid.
	Payer interface {
		Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error
	}

	// MetadataRenderer renders the token URI of a position.
	MetadataRenderer interface {
		TokenURI(pool common.Address, position Position) (string, error)
	}

	// RoyaltyOracle returns the royalty rate, in basis points, for secondary sales of a position.
	RoyaltyOracle interface {
		RoyaltyRate(pool common.Address, positionID uint64) (uint16, error)
	}

	discardPayer struct{}
)

func (discardPayer) Transfer(context.Context, common.Address, *uint256.Int) error {
	return nil
}
