package pool

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	test "github.com/alphabill-org/stakepool/internal/testutils"
)

func TestDistributeRewards(t *testing.T) {
	ctx := context.Background()
	env, alice, bob := newActivePool(t, 1000)

	_, err := env.pool.DistributeRewards(ctx, alice)
	require.ErrorIs(t, err, ErrUnauthorized)

	env.receive(t, test.Ether(1))
	d, err := env.pool.DistributeRewards(ctx, env.operator)
	require.NoError(t, err)
	require.Equal(t, test.Ether(1), d.Reward)
	require.Equal(t, test.Wei("100000000000000000"), d.Fee)
	require.Equal(t, test.Wei("900000000000000000"), d.Credited)
	require.Equal(t, test.Wei("28125000000000000"), d.RewardPerShare)
	require.Equal(t, d.Fee, env.funds.BalanceOf(env.feeRecipient))

	pa, err := env.pool.PendingRewards(1)
	require.NoError(t, err)
	require.Equal(t, test.Wei("675000000000000000"), pa)
	pb, err := env.pool.PendingRewards(2)
	require.NoError(t, err)
	require.Equal(t, test.Wei("225000000000000000"), pb)

	// nothing new arrived: nothing is distributed again
	d, err = env.pool.DistributeRewards(ctx, env.operator)
	require.NoError(t, err)
	require.True(t, d.Reward.IsZero())
	require.True(t, d.Fee.IsZero())
	require.Equal(t, test.Wei("100000000000000000"), env.funds.BalanceOf(env.feeRecipient))

	payout, err := env.pool.ClaimRewards(ctx, alice, 1)
	require.NoError(t, err)
	require.Equal(t, pa, payout.Rewards)
	require.True(t, payout.Principal.IsZero())
	require.Equal(t, pa, env.funds.BalanceOf(alice))
	_, err = env.pool.ClaimRewards(ctx, alice, 1)
	require.ErrorIs(t, err, ErrAlreadyClaimed)

	// second round only settles the delta
	env.receive(t, test.Wei("500000000000000000"))
	d, err = env.pool.DistributeRewards(ctx, env.operator)
	require.NoError(t, err)
	require.Equal(t, test.Wei("500000000000000000"), d.Reward)
	require.Equal(t, test.Wei("450000000000000000"), d.Credited)

	pa, err = env.pool.PendingRewards(1)
	require.NoError(t, err)
	require.Equal(t, test.Wei("337500000000000000"), pa)
	pb, err = env.pool.PendingRewards(2)
	require.NoError(t, err)
	require.Equal(t, test.Wei("337500000000000000"), pb)

	payout, err = env.pool.ClaimRewards(ctx, bob, 2)
	require.NoError(t, err)
	require.Equal(t, test.Wei("337500000000000000"), payout.Rewards)
	env.requireConservation(t)
}

func TestDistributeRewards_ExcludesUndispatchedCapital(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0)
	env.participate(t, test.RandomAddress(), test.Ether(80))
	env.dispatch(t)
	// 32 ETH unit still ready, 16 ETH remainder
	env.receive(t, test.Ether(2))
	d, err := env.pool.DistributeRewards(ctx, env.operator)
	require.NoError(t, err)
	require.Equal(t, test.Ether(2), d.Reward)
	require.Equal(t, test.Ether(2), d.Credited)
	env.requireConservation(t)
}

func TestDistributeRewards_Proportionality(t *testing.T) {
	ctx := context.Background()
	rnd := rand.New(rand.NewSource(42))
	env := newTestEnv(t, 750)

	owners := make(map[uint64]common.Address)
	for env.pool.Info().ReadyUnits == 0 {
		a := test.RandomAddress()
		amount := new(uint256.Int).Mul(uint256.NewInt(uint64(rnd.Int63n(5_000_000)+1)), uint256.NewInt(1_000_000_000_000))
		owners[env.participate(t, a, amount)] = a
	}
	env.dispatch(t)
	require.Equal(t, Active, env.pool.State())

	reward := test.Wei("1234567890123456789")
	env.receive(t, reward)
	d, err := env.pool.DistributeRewards(ctx, env.operator)
	require.NoError(t, err)

	fee := new(uint256.Int).Div(new(uint256.Int).Mul(reward, uint256.NewInt(750)), uint256.NewInt(MaxFeeRate))
	require.Equal(t, fee, d.Fee)
	net := new(uint256.Int).Sub(reward, fee)

	info := env.pool.Info()
	sum := new(uint256.Int)
	for id := range owners {
		pending, err := env.pool.PendingRewards(id)
		require.NoError(t, err)
		pos, err := env.pool.Position(id)
		require.NoError(t, err)
		// index rounding loses less than amount/1e18 wei per position
		exact, _ := new(uint256.Int).MulDivOverflow(net, &pos.Amount, info.TotalContributed)
		require.True(t, pending.Cmp(exact) <= 0)
		require.True(t, new(uint256.Int).Sub(exact, pending).Cmp(uint256.NewInt(6)) <= 0, "position %d pending %s exact %s", id, pending.ToBig(), exact.ToBig())
		sum.Add(sum, pending)
	}
	require.True(t, sum.Cmp(d.Credited) <= 0)
	require.True(t, new(uint256.Int).Sub(net, sum).Cmp(uint256.NewInt(uint64(6*len(owners)+64))) <= 0)

	for id, owner := range owners {
		_, err := env.pool.ClaimRewards(ctx, owner, id)
		if err != nil {
			require.ErrorIs(t, err, ErrAlreadyClaimed)
		}
	}
	env.requireConservation(t)
}

func TestDistributeRewards_DustCarriedOver(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, WithUnitSize(test.Ether(3)))
	env.participate(t, test.RandomAddress(), test.Ether(1))
	env.participate(t, test.RandomAddress(), test.Ether(1))
	env.participate(t, test.RandomAddress(), test.Ether(1))
	env.dispatch(t)

	// 1e18 wei of reward index precision over 3e18 principal: 1 wei cannot be credited
	env.receive(t, uint256.NewInt(1))
	d, err := env.pool.DistributeRewards(ctx, env.operator)
	require.NoError(t, err)
	require.True(t, d.Credited.IsZero())

	env.receive(t, uint256.NewInt(2))
	d, err = env.pool.DistributeRewards(ctx, env.operator)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(3), d.Reward)
	require.Equal(t, uint256.NewInt(3), d.Credited)
	env.requireConservation(t)
}

func TestDistributeRewards_FeeFailureLeavesPoolUnchanged(t *testing.T) {
	ctx := context.Background()
	env, _, _ := newActivePool(t, 500)
	env.receive(t, test.Ether(1))
	before := env.pool.Snapshot()

	boom := errors.New("transfer failed")
	env.funds.FailTransfers(boom)
	_, err := env.pool.DistributeRewards(ctx, env.operator)
	require.ErrorIs(t, err, boom)
	require.Equal(t, before, env.pool.Snapshot())

	env.funds.FailTransfers(nil)
	d, err := env.pool.DistributeRewards(ctx, env.operator)
	require.NoError(t, err)
	require.Equal(t, test.Wei("50000000000000000"), d.Fee)
	env.requireConservation(t)
}

func TestDistributeRewards_StateGating(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0)
	_, err := env.pool.DistributeRewards(ctx, env.operator)
	require.ErrorIs(t, err, ErrWrongState)

	env, _, _ = newActivePool(t, 0)
	require.NoError(t, env.pool.SetFailedStatus(env.operator))
	_, err = env.pool.DistributeRewards(ctx, env.operator)
	require.ErrorIs(t, err, ErrPoolTerminated)
}

func TestClaimRewards(t *testing.T) {
	ctx := context.Background()
	env, alice, bob := newActivePool(t, 0)

	_, err := env.pool.ClaimRewards(ctx, alice, 1)
	require.ErrorIs(t, err, ErrAlreadyClaimed)
	_, err = env.pool.ClaimRewards(ctx, alice, 5)
	require.ErrorIs(t, err, ErrUnknownPosition)

	env.receive(t, test.Ether(4))
	_, err = env.pool.DistributeRewards(ctx, env.operator)
	require.NoError(t, err)

	_, err = env.pool.ClaimRewards(ctx, bob, 1)
	require.ErrorIs(t, err, ErrUnauthorized)

	// rewards follow the position
	require.NoError(t, env.pool.Transfer(alice, bob, 1))
	payout, err := env.pool.ClaimRewards(ctx, bob, 1)
	require.NoError(t, err)
	require.Equal(t, test.Ether(3), payout.Rewards)
	require.Equal(t, bob, payout.Recipient)
	require.Equal(t, test.Ether(3), env.funds.BalanceOf(bob))
	require.True(t, env.funds.BalanceOf(alice).IsZero())

	boom := errors.New("boom")
	env.funds.FailTransfers(boom)
	_, err = env.pool.ClaimRewards(ctx, bob, 2)
	require.ErrorIs(t, err, boom)
	pending, err := env.pool.PendingRewards(2)
	require.NoError(t, err)
	require.Equal(t, test.Ether(1), pending)
	require.Equal(t, test.Ether(1), env.pool.Info().RewardsOwed)
	env.requireConservation(t)
}

func TestExit_StateGating(t *testing.T) {
	ctx := context.Background()
	env, alice, _ := newActivePool(t, 0)
	_, err := env.pool.ExitFromDismissPool(ctx, alice, 1)
	require.ErrorIs(t, err, ErrWrongState)
	_, err = env.pool.ExitFromFailedPool(ctx, alice, 1)
	require.ErrorIs(t, err, ErrWrongState)

	require.NoError(t, env.pool.SetFailedStatus(env.operator))
	_, err = env.pool.ExitFromDismissPool(ctx, alice, 1)
	require.ErrorIs(t, err, ErrWrongState)
	_, err = env.pool.ExitFromFailedPool(ctx, alice, 1)
	require.NoError(t, err)
}

// After failure two positions exit once each and a third attempt on a claimed id fails.
func TestExitFromFailedPool(t *testing.T) {
	ctx := context.Background()

	t.Run("before dispatch full refund", func(t *testing.T) {
		env := newTestEnv(t, 0)
		alice := test.RandomAddress()
		bob := test.RandomAddress()
		env.participate(t, alice, test.Ether(1))
		env.participate(t, bob, test.Ether(2))
		require.NoError(t, env.pool.SetFailedStatus(env.operator))

		p1, err := env.pool.ExitFromFailedPool(ctx, alice, 1)
		require.NoError(t, err)
		require.Equal(t, test.Ether(1), p1.Total())
		p2, err := env.pool.ExitFromFailedPool(ctx, bob, 2)
		require.NoError(t, err)
		require.Equal(t, test.Ether(2), p2.Total())

		_, err = env.pool.ExitFromFailedPool(ctx, alice, 1)
		require.ErrorIs(t, err, ErrAlreadyClaimed)
		_, err = env.pool.ExitFromFailedPool(ctx, bob, 3)
		require.ErrorIs(t, err, ErrUnknownPosition)

		pos, err := env.pool.Position(1)
		require.NoError(t, err)
		require.True(t, pos.Claimed)
		info := env.pool.Info()
		require.Equal(t, test.Ether(3), info.ClaimedPrincipal)
		require.True(t, info.Balance.IsZero())
		env.requireConservation(t)
	})
	t.Run("after dispatch haircut", func(t *testing.T) {
		env := newTestEnv(t, 0)
		alice := test.RandomAddress()
		bob := test.RandomAddress()
		env.participate(t, alice, test.Ether(30))
		env.participate(t, bob, test.Ether(10))
		env.dispatch(t)
		require.NoError(t, env.pool.SetFailedStatus(env.operator))

		// 8 ETH left for 40 ETH of principal
		p1, err := env.pool.ExitFromFailedPool(ctx, alice, 1)
		require.NoError(t, err)
		require.Equal(t, test.Ether(6), p1.Principal)
		p2, err := env.pool.ExitFromFailedPool(ctx, bob, 2)
		require.NoError(t, err)
		require.Equal(t, test.Ether(2), p2.Principal)
		_, err = env.pool.ExitFromFailedPool(ctx, bob, 2)
		require.ErrorIs(t, err, ErrAlreadyClaimed)
		env.requireConservation(t)
	})
	t.Run("pending rewards paid with refund", func(t *testing.T) {
		env, alice, bob := newActivePool(t, 0)
		env.receive(t, test.Ether(4))
		_, err := env.pool.DistributeRewards(ctx, env.operator)
		require.NoError(t, err)
		_, err = env.pool.ClaimRewards(ctx, bob, 2)
		require.NoError(t, err)

		env.receive(t, test.Ether(16))
		require.NoError(t, env.pool.SetFailedStatus(env.operator))
		info := env.pool.Info()
		require.Equal(t, test.Ether(16), info.SettlementPool)

		p1, err := env.pool.ExitFromFailedPool(ctx, alice, 1)
		require.NoError(t, err)
		require.Equal(t, test.Ether(12), p1.Principal)
		require.Equal(t, test.Ether(3), p1.Rewards)
		p2, err := env.pool.ExitFromFailedPool(ctx, bob, 2)
		require.NoError(t, err)
		require.Equal(t, test.Ether(4), p2.Principal)
		require.True(t, p2.Rewards.IsZero())

		_, err = env.pool.ClaimRewards(ctx, alice, 1)
		require.ErrorIs(t, err, ErrAlreadyClaimed)
		require.True(t, env.pool.Info().Balance.IsZero())
		env.requireConservation(t)
	})
	t.Run("holder only", func(t *testing.T) {
		env, _, bob := newActivePool(t, 0)
		require.NoError(t, env.pool.SetFailedStatus(env.operator))
		_, err := env.pool.ExitFromFailedPool(ctx, bob, 1)
		require.ErrorIs(t, err, ErrUnauthorized)
		_, err = env.pool.ExitFromFailedPool(ctx, env.operator, 1)
		require.ErrorIs(t, err, ErrUnauthorized)
	})
	t.Run("payment failure keeps position unclaimed", func(t *testing.T) {
		env := newTestEnv(t, 0)
		alice := test.RandomAddress()
		env.participate(t, alice, test.Ether(1))
		require.NoError(t, env.pool.SetFailedStatus(env.operator))
		env.funds.FailTransfers(errors.New("boom"))
		_, err := env.pool.ExitFromFailedPool(ctx, alice, 1)
		require.ErrorContains(t, err, "paying position 1: boom")
		pos, err := env.pool.Position(1)
		require.NoError(t, err)
		require.False(t, pos.Claimed)

		env.funds.FailTransfers(nil)
		_, err = env.pool.ExitFromFailedPool(ctx, alice, 1)
		require.NoError(t, err)
		env.requireConservation(t)
	})
}

// Random operation sequences never break conservation and never pay a position twice.
func TestPool_RandomOperations(t *testing.T) {
	ctx := context.Background()
	for seed := int64(1); seed <= 20; seed++ {
		rnd := rand.New(rand.NewSource(seed))
		env := newTestEnv(t, uint16(rnd.Intn(MaxFeeRate+1)), WithUnitSize(test.Ether(4)))
		holders := []common.Address{test.RandomAddress(), test.RandomAddress(), test.RandomAddress()}
		exited := make(map[uint64]bool)

		for step := 0; step < 60; step++ {
			who := holders[rnd.Intn(len(holders))]
			switch rnd.Intn(8) {
			case 0, 1:
				amount := test.Wei("100000000000000000")
				amount.Mul(amount, uint256.NewInt(uint64(rnd.Intn(30)+1)))
				if _, err := env.pool.Participate(who, amount); err == nil {
					env.inflow.Add(env.inflow, amount)
				}
			case 2:
				_ = env.pool.DispatchToStake(ctx, env.operator, env.depositData(t))
			case 3:
				amount := test.Wei("10000000000000001")
				if err := env.pool.Receive(amount); err == nil {
					env.inflow.Add(env.inflow, amount)
				}
			case 4:
				_, _ = env.pool.DistributeRewards(ctx, env.operator)
			case 5:
				for _, pos := range env.pool.PositionsOf(who) {
					_, _ = env.pool.ClaimRewards(ctx, who, pos.ID)
				}
			case 6:
				if rnd.Intn(4) == 0 {
					_ = env.pool.SetFailedStatus(env.operator)
				} else if rnd.Intn(3) == 0 {
					amount := test.Ether(4)
					if err := env.pool.TopUp(env.operator, amount); err == nil {
						env.inflow.Add(env.inflow, amount)
					}
					_ = env.pool.DismissPool(env.operator, uint256.NewInt(1))
				} else {
					amount := test.Ether(4)
					if err := env.pool.ReceiveWithdrawal(amount); err == nil {
						env.inflow.Add(env.inflow, amount)
					}
				}
			case 7:
				for _, pos := range env.pool.PositionsOf(who) {
					_, errD := env.pool.ExitFromDismissPool(ctx, who, pos.ID)
					_, errF := env.pool.ExitFromFailedPool(ctx, who, pos.ID)
					if errD == nil || errF == nil {
						require.False(t, exited[pos.ID], "seed %d: position %d paid twice", seed, pos.ID)
						exited[pos.ID] = true
					}
				}
			}
			env.requireConservation(t)
		}
	}
}
