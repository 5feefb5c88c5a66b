package pool

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// rewardPrecision scales rewardPerShare so that small rewards over large principal do not round to zero.
var rewardPrecision = uint256.NewInt(1_000_000_000_000_000_000)

type (
	Distribution struct {
		// Reward is the unreserved balance considered in this round, including dust carried over.
		Reward *uint256.Int
		Fee    *uint256.Int
		// Credited is the part of Reward added to positions. Reward-Fee-Credited carries over.
		Credited       *uint256.Int
		RewardPerShare *uint256.Int
	}

	Payout struct {
		PositionID uint64
		Recipient  common.Address
		Principal  *uint256.Int
		Rewards    *uint256.Int
	}
)

// Total returns principal plus rewards paid.
func (p *Payout) Total() *uint256.Int {
	return new(uint256.Int).Add(p.Principal, p.Rewards)
}

// accrued returns amount*rewardPerShare/rewardPrecision.
func accrued(amount, rewardPerShare *uint256.Int) *uint256.Int {
	if rewardPerShare == nil || rewardPerShare.IsZero() {
		return new(uint256.Int)
	}
	// amount and rewardPerShare are both bounded by the wei supply, the product fits 512 bits
	// and the quotient fits 256.
	z, _ := new(uint256.Int).MulDivOverflow(amount, rewardPerShare, rewardPrecision)
	return z
}

func pendingRewards(pos *Position, rewardPerShare *uint256.Int) *uint256.Int {
	return subSaturating(accrued(&pos.Amount, rewardPerShare), &pos.RewardDebt)
}

// DistributeRewards folds the unreserved pool balance into the reward index. The fee share
// is paid to the fee recipient immediately. Repeated calls only settle what arrived since
// the previous call.
func (p *Pool) DistributeRewards(ctx context.Context, caller common.Address) (*Distribution, error) {
	var d *Distribution
	err := p.update("distribute rewards", func(tx *txn) error {
		if err := p.requireOperator(caller); err != nil {
			return err
		}
		acc := &tx.acc
		if acc.state.Terminal() {
			return fmt.Errorf("%w: pool is %s", ErrPoolTerminated, acc.state)
		}
		if acc.state != Active {
			return fmt.Errorf("%w: rewards can be distributed only when pool is %s, pool is %s", ErrWrongState, Active, acc.state)
		}
		d = &Distribution{
			Reward:         subSaturating(&acc.balance, acc.reserved(p.opts.unitSize)),
			Fee:            new(uint256.Int),
			Credited:       new(uint256.Int),
			RewardPerShare: acc.rewardPerShare.Clone(),
		}
		principal := acc.outstandingPrincipal()
		if d.Reward.IsZero() || principal.IsZero() {
			return nil
		}
		// dust left over from earlier rounds has already been charged the fee
		fresh := subSaturating(d.Reward, &acc.rewardDust)
		fee, _ := new(uint256.Int).MulDivOverflow(fresh, uint256.NewInt(uint64(p.feeRate)), uint256.NewInt(MaxFeeRate))
		net := new(uint256.Int).Sub(d.Reward, fee)
		delta, _ := new(uint256.Int).MulDivOverflow(net, rewardPrecision, principal)
		credited, _ := new(uint256.Int).MulDivOverflow(delta, principal, rewardPrecision)

		if err := p.pay(ctx, p.feeRecipient, fee); err != nil {
			return fmt.Errorf("paying fee: %w", err)
		}
		acc.balance.Sub(&acc.balance, fee)
		acc.feesPaid.Add(&acc.feesPaid, fee)
		acc.rewardPerShare.Add(&acc.rewardPerShare, delta)
		acc.rewardsOwed.Add(&acc.rewardsOwed, credited)
		acc.rewardsDistributed.Add(&acc.rewardsDistributed, credited)
		acc.rewardDust = *new(uint256.Int).Sub(net, credited)

		d.Fee = fee
		d.Credited = credited
		d.RewardPerShare = acc.rewardPerShare.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !d.Credited.IsZero() || !d.Fee.IsZero() {
		p.log.Info("distributed %s wei rewards, fee %s wei", d.Credited.ToBig(), d.Fee.ToBig())
	}
	return d, nil
}

// PendingRewards returns the rewards position id could claim now.
func (p *Pool) PendingRewards(id uint64) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, err := p.ledger.get(id)
	if err != nil {
		return nil, err
	}
	if pos.Claimed {
		return new(uint256.Int), nil
	}
	return pendingRewards(pos, &p.acc.rewardPerShare), nil
}

// ClaimRewards pays the position's rewards accrued since its last settlement. Claiming
// when nothing has accrued since the previous claim fails with ErrAlreadyClaimed.
func (p *Pool) ClaimRewards(ctx context.Context, caller common.Address, id uint64) (*Payout, error) {
	var payout *Payout
	err := p.update("claim rewards", func(tx *txn) error {
		pos, err := p.holderPosition(tx, caller, id)
		if err != nil {
			return err
		}
		if pos.Claimed {
			return fmt.Errorf("%w: position %d", ErrAlreadyClaimed, id)
		}
		rewards := pendingRewards(pos, &tx.acc.rewardPerShare)
		if rewards.IsZero() {
			return fmt.Errorf("%w: no unclaimed rewards for position %d", ErrAlreadyClaimed, id)
		}
		pos.RewardDebt = *accrued(&pos.Amount, &tx.acc.rewardPerShare)
		payout = &Payout{PositionID: id, Recipient: pos.Owner, Principal: new(uint256.Int), Rewards: rewards}
		return p.disburse(ctx, tx, payout)
	})
	return payout, err
}

// ExitFromDismissPool pays the position's share of the dismissal settlement plus its
// pending rewards and marks the position claimed.
func (p *Pool) ExitFromDismissPool(ctx context.Context, caller common.Address, id uint64) (*Payout, error) {
	return p.exit(ctx, Dismissed, caller, id)
}

// ExitFromFailedPool pays the position's share of the capital left at failure plus its
// pending rewards and marks the position claimed.
func (p *Pool) ExitFromFailedPool(ctx context.Context, caller common.Address, id uint64) (*Payout, error) {
	return p.exit(ctx, Failed, caller, id)
}

func (p *Pool) exit(ctx context.Context, required State, caller common.Address, id uint64) (*Payout, error) {
	var payout *Payout
	err := p.update("exit", func(tx *txn) error {
		if tx.acc.state != required {
			return fmt.Errorf("%w: exit requires %s pool, pool is %s", ErrWrongState, required, tx.acc.state)
		}
		pos, err := p.holderPosition(tx, caller, id)
		if err != nil {
			return err
		}
		amount, err := tx.ledger.markClaimed(id)
		if err != nil {
			return err
		}
		refund, _ := new(uint256.Int).MulDivOverflow(amount, &tx.acc.settlementPool, &tx.acc.settlementPrincipal)
		rewards := pendingRewards(pos, &tx.acc.rewardPerShare)
		pos.RewardDebt = *accrued(&pos.Amount, &tx.acc.rewardPerShare)
		tx.acc.claimedPrincipal.Add(&tx.acc.claimedPrincipal, amount)

		payout = &Payout{PositionID: id, Recipient: pos.Owner, Principal: refund, Rewards: rewards}
		return p.disburse(ctx, tx, payout)
	})
	if err != nil {
		return nil, err
	}
	p.log.Debug("position %d exited, paid %s wei to %s", id, payout.Total().ToBig(), payout.Recipient)
	return payout, nil
}

func (p *Pool) holderPosition(tx *txn, caller common.Address, id uint64) (*Position, error) {
	pos, err := tx.ledger.get(id)
	if err != nil {
		return nil, err
	}
	if pos.Owner != caller {
		return nil, fmt.Errorf("%w: %s does not hold position %d", ErrUnauthorized, caller, id)
	}
	return pos, nil
}

// disburse debits the staged balance and pays the recipient. Must be the last step of a mutation.
func (p *Pool) disburse(ctx context.Context, tx *txn, payout *Payout) error {
	total := payout.Total()
	balance, underflow := new(uint256.Int).SubOverflow(&tx.acc.balance, total)
	if underflow {
		return fmt.Errorf("pool balance %s wei does not cover payout of %s wei", tx.acc.balance.ToBig(), total.ToBig())
	}
	tx.acc.balance = *balance
	tx.acc.rewardsOwed = *subSaturating(&tx.acc.rewardsOwed, payout.Rewards)
	if err := p.pay(ctx, payout.Recipient, total); err != nil {
		return fmt.Errorf("paying position %d: %w", payout.PositionID, err)
	}
	return nil
}

func (p *Pool) pay(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	return p.opts.payer.Transfer(ctx, to, amount.Clone())
}
