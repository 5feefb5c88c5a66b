package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alphabill-org/stakepool/deposit"
)

// WithdrawalCredentials returns the credentials every deposit of this pool must carry.
func (p *Pool) WithdrawalCredentials() []byte {
	return deposit.WithdrawalCredentials(p.address)
}

// DispatchToStake forwards exactly one ready unit to the upstream registrar using the
// supplied validator credentials. Counters advance only after the registrar accepted the unit.
func (p *Pool) DispatchToStake(ctx context.Context, caller common.Address, data *deposit.Data) error {
	return p.update("dispatch", func(tx *txn) error {
		return p.dispatchUnit(ctx, tx, caller, data)
	})
}

// DispatchReadyUnits forwards one unit per credential set, one at a time. Each unit is
// committed on its own: when a unit fails the units before it stay dispatched and the
// returned count tells how many went through.
func (p *Pool) DispatchReadyUnits(ctx context.Context, caller common.Address, data []*deposit.Data) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkDispatchBatch(caller, data); err != nil {
		p.log.Debug("batch dispatch rejected: %v", err)
		return 0, err
	}
	for i, d := range data {
		err := p.updateLocked("dispatch", func(tx *txn) error {
			return p.dispatchUnit(ctx, tx, caller, d)
		})
		if err != nil {
			return i, fmt.Errorf("dispatching unit %d of %d: %w", i+1, len(data), err)
		}
	}
	return len(data), nil
}

func (p *Pool) checkDispatchBatch(caller common.Address, data []*deposit.Data) error {
	if err := p.requireOperator(caller); err != nil {
		return err
	}
	if p.acc.state.Terminal() {
		return fmt.Errorf("%w: pool is %s", ErrPoolTerminated, p.acc.state)
	}
	if p.acc.readyUnits == 0 {
		return ErrNoUnitsReady
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: no credential sets supplied", ErrInvalidDepositData)
	}
	if uint64(len(data)) > p.acc.readyUnits {
		return fmt.Errorf("%w: %d credential sets supplied but only %d units ready", ErrNoUnitsReady, len(data), p.acc.readyUnits)
	}
	var errs []error
	seen := make(map[string]struct{}, len(data))
	for i, d := range data {
		if err := d.Validate(p.address); err != nil {
			errs = append(errs, fmt.Errorf("credential set %d: %w", i, err))
			continue
		}
		if _, ok := seen[string(d.PubKey)]; ok {
			errs = append(errs, fmt.Errorf("credential set %d: %w: %x", i, ErrDuplicateDeposit, d.PubKey))
		}
		seen[string(d.PubKey)] = struct{}{}
	}
	return errors.Join(errs...)
}

func (p *Pool) dispatchUnit(ctx context.Context, tx *txn, caller common.Address, data *deposit.Data) error {
	if err := p.requireOperator(caller); err != nil {
		return err
	}
	if tx.acc.state.Terminal() {
		return fmt.Errorf("%w: pool is %s", ErrPoolTerminated, tx.acc.state)
	}
	if tx.acc.readyUnits == 0 {
		return ErrNoUnitsReady
	}
	if err := data.Validate(p.address); err != nil {
		return err
	}
	if _, used := p.usedPubKey[string(data.PubKey)]; used {
		return fmt.Errorf("%w: %x", ErrDuplicateDeposit, data.PubKey)
	}
	unitSize := p.opts.unitSize
	balance, underflow := new(uint256.Int).SubOverflow(&tx.acc.balance, unitSize)
	if underflow {
		return fmt.Errorf("%w: pool balance %s is below unit size", ErrNoUnitsReady, tx.acc.balance.ToBig())
	}

	if err := p.opts.registrar.Register(ctx, data.Clone(), unitSize.Clone()); err != nil {
		return fmt.Errorf("registering validator %x: %w", data.PubKey, err)
	}

	tx.acc.balance = *balance
	tx.acc.readyUnits--
	tx.acc.dispatchedUnits++
	tx.deposits = append(tx.deposits, DepositRecord{
		Index:                 tx.acc.dispatchedUnits - 1,
		PubKey:                common.CopyBytes(data.PubKey),
		WithdrawalCredentials: common.CopyBytes(data.WithdrawalCredentials),
		DepositDataRoot:       common.CopyBytes(data.DepositDataRoot),
		DispatchedAt:          p.now(),
	})
	if tx.acc.state == Open {
		tx.acc.state = Staking
		if !p.opts.requireActivation {
			tx.acc.state = Active
		}
	}
	return nil
}
