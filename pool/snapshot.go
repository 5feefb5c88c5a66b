package pool

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const snapshotVersion = 1

var ErrCorruptSnapshot = errors.New("corrupt pool snapshot")

type (
	// Snapshot is the serializable form of a pool. Amounts are big-endian byte strings
	// so that the snapshot encodes the same way with JSON and CBOR.
	Snapshot struct {
		Version           uint32         `json:"version"`
		Address           common.Address `json:"address"`
		Operator          common.Address `json:"operator"`
		FeeRecipient      common.Address `json:"feeRecipient"`
		Monitor           common.Address `json:"monitor"`
		FeeRate           uint16         `json:"feeRate"`
		UnitSize          []byte         `json:"unitSize"`
		RequireActivation bool           `json:"requireActivation"`

		State           State  `json:"state"`
		DispatchedUnits uint64 `json:"dispatchedUnits"`
		ReadyUnits      uint64 `json:"readyUnits"`

		TotalContributed    []byte `json:"totalContributed"`
		PendingRemainder    []byte `json:"pendingRemainder"`
		Balance             []byte `json:"balance"`
		ShortfallCovered    []byte `json:"shortfallCovered"`
		Received            []byte `json:"received"`
		ReturnedPrincipal   []byte `json:"returnedPrincipal"`
		RewardPerShare      []byte `json:"rewardPerShare"`
		RewardsOwed         []byte `json:"rewardsOwed"`
		RewardDust          []byte `json:"rewardDust"`
		RewardsDistributed  []byte `json:"rewardsDistributed"`
		FeesPaid            []byte `json:"feesPaid"`
		ClaimedPrincipal    []byte `json:"claimedPrincipal"`
		SettlementPool      []byte `json:"settlementPool"`
		SettlementPrincipal []byte `json:"settlementPrincipal"`
		DeclaredReturn      []byte `json:"declaredReturn"`

		NextPositionID uint64             `json:"nextPositionId"`
		Positions      []PositionSnapshot `json:"positions"`
		Deposits       []DepositSnapshot  `json:"deposits"`
	}

	PositionSnapshot struct {
		ID         uint64         `json:"id"`
		Owner      common.Address `json:"owner"`
		Amount     []byte         `json:"amount"`
		RewardDebt []byte         `json:"rewardDebt"`
		Claimed    bool           `json:"claimed"`
		CreatedAt  int64          `json:"createdAt"`
	}

	DepositSnapshot struct {
		PubKey                []byte `json:"pubkey"`
		WithdrawalCredentials []byte `json:"withdrawalCredentials"`
		DepositDataRoot       []byte `json:"depositDataRoot"`
		DispatchedAt          int64  `json:"dispatchedAt"`
	}
)

func (p *Pool) Snapshot() *Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Pool) snapshotLocked() *Snapshot {
	a := &p.acc
	s := &Snapshot{
		Version:             snapshotVersion,
		Address:             p.address,
		Operator:            p.operator,
		FeeRecipient:        p.feeRecipient,
		Monitor:             p.opts.monitor,
		FeeRate:             p.feeRate,
		UnitSize:            p.opts.unitSize.Bytes(),
		RequireActivation:   p.opts.requireActivation,
		State:               a.state,
		DispatchedUnits:     a.dispatchedUnits,
		ReadyUnits:          a.readyUnits,
		TotalContributed:    a.totalContributed.Bytes(),
		PendingRemainder:    a.pendingRemainder.Bytes(),
		Balance:             a.balance.Bytes(),
		ShortfallCovered:    a.shortfallCovered.Bytes(),
		Received:            a.received.Bytes(),
		ReturnedPrincipal:   a.returnedPrincipal.Bytes(),
		RewardPerShare:      a.rewardPerShare.Bytes(),
		RewardsOwed:         a.rewardsOwed.Bytes(),
		RewardDust:          a.rewardDust.Bytes(),
		RewardsDistributed:  a.rewardsDistributed.Bytes(),
		FeesPaid:            a.feesPaid.Bytes(),
		ClaimedPrincipal:    a.claimedPrincipal.Bytes(),
		SettlementPool:      a.settlementPool.Bytes(),
		SettlementPrincipal: a.settlementPrincipal.Bytes(),
		DeclaredReturn:      a.declaredReturn.Bytes(),
		NextPositionID:      p.ledger.nextID,
	}
	for _, id := range p.ledger.ids() {
		pos := p.ledger.positions[id]
		s.Positions = append(s.Positions, PositionSnapshot{
			ID:         pos.ID,
			Owner:      pos.Owner,
			Amount:     pos.Amount.Bytes(),
			RewardDebt: pos.RewardDebt.Bytes(),
			Claimed:    pos.Claimed,
			CreatedAt:  pos.CreatedAt.UnixMilli(),
		})
	}
	for _, d := range p.deposits {
		s.Deposits = append(s.Deposits, DepositSnapshot{
			PubKey:                d.PubKey,
			WithdrawalCredentials: d.WithdrawalCredentials,
			DepositDataRoot:       d.DepositDataRoot,
			DispatchedAt:          d.DispatchedAt.UnixMilli(),
		})
	}
	return s
}

// Restore rebuilds a pool from its snapshot. Collaborators (registrar, payer, renderers,
// commit handler) are not part of the snapshot and come from opts; unit size, activation
// mode and monitor are taken from the snapshot.
func Restore(s *Snapshot, opts ...Option) (*Pool, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: snapshot is nil", ErrCorruptSnapshot)
	}
	if s.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, s.Version)
	}
	opts = append(opts,
		WithUnitSize(amountFromBytes(s.UnitSize)),
		WithRequireActivation(s.RequireActivation),
		WithMonitor(s.Monitor),
	)
	p, err := New(s.Address, s.FeeRecipient, s.Operator, s.FeeRate, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}
	if s.State > Failed {
		return nil, fmt.Errorf("%w: unknown state %d", ErrCorruptSnapshot, s.State)
	}
	// position ids start from 1
	if s.NextPositionID < 1 {
		return nil, fmt.Errorf("%w: next position id %d", ErrCorruptSnapshot, s.NextPositionID)
	}
	p.acc = accounting{
		state:               s.State,
		dispatchedUnits:     s.DispatchedUnits,
		readyUnits:          s.ReadyUnits,
		totalContributed:    *amountFromBytes(s.TotalContributed),
		pendingRemainder:    *amountFromBytes(s.PendingRemainder),
		balance:             *amountFromBytes(s.Balance),
		shortfallCovered:    *amountFromBytes(s.ShortfallCovered),
		received:            *amountFromBytes(s.Received),
		returnedPrincipal:   *amountFromBytes(s.ReturnedPrincipal),
		rewardPerShare:      *amountFromBytes(s.RewardPerShare),
		rewardsOwed:         *amountFromBytes(s.RewardsOwed),
		rewardDust:          *amountFromBytes(s.RewardDust),
		rewardsDistributed:  *amountFromBytes(s.RewardsDistributed),
		feesPaid:            *amountFromBytes(s.FeesPaid),
		claimedPrincipal:    *amountFromBytes(s.ClaimedPrincipal),
		settlementPool:      *amountFromBytes(s.SettlementPool),
		settlementPrincipal: *amountFromBytes(s.SettlementPrincipal),
		declaredReturn:      *amountFromBytes(s.DeclaredReturn),
	}
	p.ledger.nextID = s.NextPositionID
	for _, ps := range s.Positions {
		if ps.ID == 0 || ps.ID >= s.NextPositionID {
			return nil, fmt.Errorf("%w: position id %d out of range", ErrCorruptSnapshot, ps.ID)
		}
		if _, ok := p.ledger.positions[ps.ID]; ok {
			return nil, fmt.Errorf("%w: duplicate position %d", ErrCorruptSnapshot, ps.ID)
		}
		p.ledger.positions[ps.ID] = &Position{
			ID:         ps.ID,
			Owner:      ps.Owner,
			Amount:     *amountFromBytes(ps.Amount),
			RewardDebt: *amountFromBytes(ps.RewardDebt),
			Claimed:    ps.Claimed,
			CreatedAt:  time.UnixMilli(ps.CreatedAt),
		}
	}
	for i, ds := range s.Deposits {
		p.deposits = append(p.deposits, DepositRecord{
			Index:                 uint64(i),
			PubKey:                ds.PubKey,
			WithdrawalCredentials: ds.WithdrawalCredentials,
			DepositDataRoot:       ds.DepositDataRoot,
			DispatchedAt:          time.UnixMilli(ds.DispatchedAt),
		})
		p.usedPubKey[string(ds.PubKey)] = struct{}{}
	}
	if err := p.checkInvariants(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}
	return p, nil
}

// checkInvariants verifies the accounting identities between the counters and the ledger.
func (p *Pool) checkInvariants() error {
	a := &p.acc
	sum := new(uint256.Int)
	for _, pos := range p.ledger.positions {
		sum.Add(sum, &pos.Amount)
	}
	if !sum.Eq(&a.totalContributed) {
		return fmt.Errorf("total contributed %s does not match sum of positions %s", a.totalContributed.ToBig(), sum.ToBig())
	}
	unitSize := p.opts.unitSize
	if !a.pendingRemainder.Lt(unitSize) {
		return fmt.Errorf("pending remainder %s is not below unit size %s", a.pendingRemainder.ToBig(), unitSize.ToBig())
	}
	formed := new(uint256.Int).Mul(uint256.NewInt(a.dispatchedUnits+a.readyUnits), unitSize)
	formed.Add(formed, &a.pendingRemainder)
	if !formed.Eq(&a.totalContributed) {
		return fmt.Errorf("units and remainder %s do not add up to total contributed %s", formed.ToBig(), a.totalContributed.ToBig())
	}
	if dispatched := a.dispatchedPrincipal(unitSize); a.returnedPrincipal.Gt(dispatched) {
		return fmt.Errorf("returned principal %s exceeds dispatched principal %s", a.returnedPrincipal.ToBig(), dispatched.ToBig())
	}
	if uint64(len(p.deposits)) != a.dispatchedUnits {
		return fmt.Errorf("%d deposits recorded for %d dispatched units", len(p.deposits), a.dispatchedUnits)
	}
	return nil
}

func amountFromBytes(b []byte) *uint256.Int {
	return new(uint256.Int).SetBytes(b)
}
