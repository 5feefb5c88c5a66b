package pool

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// absorb adds contribution to the carried remainder and splits the sum into whole
// deposit units and the new remainder.
func absorb(remainder, contribution, unitSize *uint256.Int) (uint64, *uint256.Int, error) {
	total, overflow := new(uint256.Int).AddOverflow(remainder, contribution)
	if overflow {
		return 0, nil, fmt.Errorf("%w: contribution overflows", ErrInvalidAmount)
	}
	units := new(uint256.Int).Div(total, unitSize)
	rem := new(uint256.Int).Mod(total, unitSize)
	if !units.IsUint64() {
		return 0, nil, fmt.Errorf("%w: contribution too large", ErrInvalidAmount)
	}
	return units.Uint64(), rem, nil
}

// Participate records a contribution of amount by contributor and returns the id of the new position.
// Every accepted call creates exactly one position holding the raw contributed amount.
func (p *Pool) Participate(contributor common.Address, amount *uint256.Int) (uint64, error) {
	var id uint64
	err := p.update("participate", func(tx *txn) error {
		state := tx.acc.state
		if state.Terminal() {
			return fmt.Errorf("%w: pool is %s", ErrPoolTerminated, state)
		}
		if !state.AcceptsContributions() {
			return fmt.Errorf("%w: pool is %s", ErrPoolNotAccepting, state)
		}
		if amount == nil || amount.IsZero() {
			return fmt.Errorf("%w: contribution must be positive", ErrInvalidAmount)
		}
		units, rem, err := absorb(&tx.acc.pendingRemainder, amount, p.opts.unitSize)
		if err != nil {
			return err
		}
		total, overflow := new(uint256.Int).AddOverflow(&tx.acc.totalContributed, amount)
		if overflow {
			return fmt.Errorf("%w: total contribution overflows", ErrInvalidAmount)
		}
		balance, overflow := new(uint256.Int).AddOverflow(&tx.acc.balance, amount)
		if overflow {
			return fmt.Errorf("%w: pool balance overflows", ErrInvalidAmount)
		}
		pos, err := tx.ledger.recordContribution(contributor, amount, &tx.acc.rewardPerShare, p.now())
		if err != nil {
			return err
		}
		tx.acc.totalContributed = *total
		tx.acc.balance = *balance
		tx.acc.pendingRemainder = *rem
		tx.acc.readyUnits += units
		id = pos.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	p.log.Debug("position %d opened by %s for %s wei", id, contributor, amount.ToBig())
	return id, nil
}
