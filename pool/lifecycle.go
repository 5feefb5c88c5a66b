package pool

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ConfirmActivation moves a Staking pool to Active. Only needed when the pool was
// created with WithRequireActivation.
func (p *Pool) ConfirmActivation(caller common.Address) error {
	return p.update("confirm activation", func(tx *txn) error {
		if err := p.requireOperator(caller); err != nil {
			return err
		}
		if err := tx.acc.state.transition(Active); err != nil {
			return err
		}
		tx.acc.state = Active
		return nil
	})
}

// TopUp adds operator capital to the pool. Top-ups are never treated as rewards.
func (p *Pool) TopUp(caller common.Address, amount *uint256.Int) error {
	return p.update("top up", func(tx *txn) error {
		if err := p.requireOperator(caller); err != nil {
			return err
		}
		if tx.acc.state.Terminal() {
			return fmt.Errorf("%w: pool is %s", ErrPoolTerminated, tx.acc.state)
		}
		if amount == nil || amount.IsZero() {
			return fmt.Errorf("%w: top-up must be positive", ErrInvalidAmount)
		}
		if err := credit(&tx.acc.balance, amount); err != nil {
			return err
		}
		return credit(&tx.acc.shortfallCovered, amount)
	})
}

// Receive credits rewards sent to the pool from outside, e.g. consensus layer reward
// withdrawals. Everything received this way is distributable and charged the pool fee,
// principal of exited validators must come in through ReceiveWithdrawal.
func (p *Pool) Receive(amount *uint256.Int) error {
	return p.update("receive", func(tx *txn) error {
		if tx.acc.state.Terminal() {
			return fmt.Errorf("%w: pool is %s", ErrPoolTerminated, tx.acc.state)
		}
		if amount == nil || amount.IsZero() {
			return fmt.Errorf("%w: received amount must be positive", ErrInvalidAmount)
		}
		if err := credit(&tx.acc.balance, amount); err != nil {
			return err
		}
		return credit(&tx.acc.received, amount)
	})
}

// ReceiveWithdrawal credits validator principal returned by the consensus layer. Returned
// principal is held for the positions and never distributed as reward. At most the
// principal of the dispatched units can be returned.
func (p *Pool) ReceiveWithdrawal(amount *uint256.Int) error {
	return p.update("receive withdrawal", func(tx *txn) error {
		if tx.acc.state.Terminal() {
			return fmt.Errorf("%w: pool is %s", ErrPoolTerminated, tx.acc.state)
		}
		if amount == nil || amount.IsZero() {
			return fmt.Errorf("%w: withdrawn amount must be positive", ErrInvalidAmount)
		}
		returned, overflow := new(uint256.Int).AddOverflow(&tx.acc.returnedPrincipal, amount)
		if overflow || returned.Gt(tx.acc.dispatchedPrincipal(p.opts.unitSize)) {
			return fmt.Errorf("%w: returning %s wei would exceed dispatched principal %s wei, already returned %s wei",
				ErrInvalidAmount, amount.ToBig(), tx.acc.dispatchedPrincipal(p.opts.unitSize).ToBig(), tx.acc.returnedPrincipal.ToBig())
		}
		if err := credit(&tx.acc.balance, amount); err != nil {
			return err
		}
		tx.acc.returnedPrincipal = *returned
		return nil
	})
}

// DismissPool winds down an Active pool. The pool must hold enough capital, beyond
// rewards already owed, to refund every unclaimed position. The declared amount is
// what the operator reports as returned by the validators and must not exceed that capital.
func (p *Pool) DismissPool(caller common.Address, declared *uint256.Int) error {
	return p.update("dismiss", func(tx *txn) error {
		if err := p.requireOperator(caller); err != nil {
			return err
		}
		if err := tx.acc.state.transition(Dismissed); err != nil {
			return err
		}
		if declared == nil || declared.IsZero() {
			return fmt.Errorf("%w: declared return must be positive", ErrInvalidAmount)
		}
		available := tx.acc.available()
		outstanding := tx.acc.outstandingPrincipal()
		if available.Lt(outstanding) {
			return fmt.Errorf("%w: pool holds %s wei, outstanding principal is %s wei, shortfall %s wei",
				ErrInsufficientCapitalForDismissal, available.ToBig(), outstanding.ToBig(),
				new(uint256.Int).Sub(outstanding, available).ToBig())
		}
		if declared.Gt(available) {
			return fmt.Errorf("%w: declared return %s wei exceeds pool capital %s wei", ErrInvalidAmount, declared.ToBig(), available.ToBig())
		}
		tx.acc.declaredReturn = *declared
		tx.acc.settle(Dismissed)
		return nil
	})
}

// SetFailedStatus marks the pool non-viable. Allowed for the operator and the monitor.
// Whatever capital the pool holds at this point is shared between unclaimed positions.
func (p *Pool) SetFailedStatus(caller common.Address) error {
	return p.update("set failed", func(tx *txn) error {
		if !p.isOperator(caller) && (p.opts.monitor == (common.Address{}) || caller != p.opts.monitor) {
			return fmt.Errorf("%w: %s may not fail the pool", ErrUnauthorized, caller)
		}
		if err := tx.acc.state.transition(Failed); err != nil {
			return err
		}
		tx.acc.settle(Failed)
		return nil
	})
}

// settle takes the settlement snapshot used by the exit payouts and moves to the terminal state.
func (a *accounting) settle(terminal State) {
	a.settlementPool = *a.available()
	a.settlementPrincipal = *a.outstandingPrincipal()
	a.state = terminal
}

func credit(dst *uint256.Int, amount *uint256.Int) error {
	if _, overflow := dst.AddOverflow(dst, amount); overflow {
		return fmt.Errorf("%w: amount overflows", ErrInvalidAmount)
	}
	return nil
}
