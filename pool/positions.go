package pool

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func (p *Pool) OwnerOf(id uint64) (common.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, err := p.ledger.get(id)
	if err != nil {
		return common.Address{}, err
	}
	return pos.Owner, nil
}

// Position returns a copy of position id.
func (p *Pool) Position(id uint64) (Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, err := p.ledger.get(id)
	if err != nil {
		return Position{}, err
	}
	return *pos, nil
}

// PositionsOf returns the positions currently held by owner, ordered by id.
func (p *Pool) PositionsOf(owner common.Address) []Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ledger.positionsOf(owner)
}

// PositionCount returns the number of positions ever opened.
func (p *Pool) PositionCount() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ledger.count()
}

// Transfer moves position id from its current holder to another address. Pending
// rewards move with the position.
func (p *Pool) Transfer(from, to common.Address, id uint64) error {
	return p.update("transfer", func(tx *txn) error {
		return tx.ledger.transfer(from, to, id)
	})
}

func (p *Pool) TokenURI(id uint64) (string, error) {
	pos, err := p.Position(id)
	if err != nil {
		return "", err
	}
	if p.opts.metadata == nil {
		return "", ErrMetadataUnavailable
	}
	return p.opts.metadata.TokenURI(p.address, pos)
}

// RoyaltyInfo returns the royalty receiver and amount for a sale of position id at salePrice.
// The rate comes from the royalty oracle when one is configured, otherwise the pool fee rate applies.
func (p *Pool) RoyaltyInfo(id uint64, salePrice *uint256.Int) (common.Address, *uint256.Int, error) {
	if _, err := p.Position(id); err != nil {
		return common.Address{}, nil, err
	}
	if salePrice == nil {
		return common.Address{}, nil, fmt.Errorf("%w: sale price is nil", ErrInvalidAmount)
	}
	rate := p.feeRate
	if p.opts.royalty != nil {
		r, err := p.opts.royalty.RoyaltyRate(p.address, id)
		if err != nil {
			return common.Address{}, nil, fmt.Errorf("royalty rate lookup: %w", err)
		}
		if r > MaxFeeRate {
			return common.Address{}, nil, fmt.Errorf("%w: royalty rate %d exceeds %d", ErrInvalidFeeRate, r, MaxFeeRate)
		}
		rate = r
	}
	royalty, _ := new(uint256.Int).MulDivOverflow(salePrice, uint256.NewInt(uint64(rate)), uint256.NewInt(MaxFeeRate))
	return p.feeRecipient, royalty, nil
}
