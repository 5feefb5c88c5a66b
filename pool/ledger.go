package pool

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Position is a transferable claim on a single contribution.
type Position struct {
	ID     uint64
	Owner  common.Address
	Amount uint256.Int
	// RewardDebt is the part of Amount*rewardPerShare already settled with the owner.
	RewardDebt uint256.Int
	Claimed    bool
	CreatedAt  time.Time
}

// ledger owns the committed positions. Mutations go through a ledgerTx.
type ledger struct {
	positions map[uint64]*Position
	nextID    uint64
}

func newLedger() *ledger {
	return &ledger{positions: make(map[uint64]*Position), nextID: 1}
}

// ledgerTx stages position changes on top of the committed ledger.
type ledgerTx struct {
	base   *ledger
	dirty  map[uint64]*Position
	nextID uint64
}

func (l *ledger) begin() *ledgerTx {
	return &ledgerTx{base: l, dirty: make(map[uint64]*Position), nextID: l.nextID}
}

func (l *ledger) get(id uint64) (*Position, error) {
	p, ok := l.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPosition, id)
	}
	return p, nil
}

func (l *ledger) count() uint64 {
	return l.nextID - 1
}

// ids returns committed position ids in ascending order.
func (l *ledger) ids() []uint64 {
	ids := maps.Keys(l.positions)
	slices.Sort(ids)
	return ids
}

func (l *ledger) positionsOf(owner common.Address) []Position {
	var res []Position
	for _, id := range l.ids() {
		if p := l.positions[id]; p.Owner == owner {
			res = append(res, *p)
		}
	}
	return res
}

// recordContribution opens a new position for the raw contributed amount.
func (t *ledgerTx) recordContribution(contributor common.Address, amount *uint256.Int, rewardPerShare *uint256.Int, now time.Time) (*Position, error) {
	if amount == nil || amount.IsZero() {
		return nil, fmt.Errorf("%w: contribution must be positive", ErrInvalidAmount)
	}
	if contributor == (common.Address{}) {
		return nil, fmt.Errorf("%w: contributor is zero address", ErrInvalidAddress)
	}
	p := &Position{
		ID:        t.nextID,
		Owner:     contributor,
		Amount:    *amount,
		CreatedAt: now,
	}
	p.RewardDebt = *accrued(amount, rewardPerShare)
	t.dirty[p.ID] = p
	t.nextID++
	return p, nil
}

// get returns a staged copy of the position which may be modified freely.
func (t *ledgerTx) get(id uint64) (*Position, error) {
	if p, ok := t.dirty[id]; ok {
		return p, nil
	}
	p, err := t.base.get(id)
	if err != nil {
		return nil, err
	}
	cp := *p
	t.dirty[id] = &cp
	return &cp, nil
}

func (t *ledgerTx) ownerOf(id uint64) (common.Address, error) {
	p, err := t.get(id)
	if err != nil {
		return common.Address{}, err
	}
	return p.Owner, nil
}

// markClaimed flips the claimed flag and returns the position's amount.
func (t *ledgerTx) markClaimed(id uint64) (*uint256.Int, error) {
	p, err := t.get(id)
	if err != nil {
		return nil, err
	}
	if p.Claimed {
		return nil, fmt.Errorf("%w: position %d", ErrAlreadyClaimed, id)
	}
	p.Claimed = true
	return p.Amount.Clone(), nil
}

func (t *ledgerTx) transfer(from, to common.Address, id uint64) error {
	if to == (common.Address{}) {
		return fmt.Errorf("%w: cannot transfer to zero address", ErrInvalidAddress)
	}
	p, err := t.get(id)
	if err != nil {
		return err
	}
	if p.Owner != from {
		return fmt.Errorf("%w: %s is not the owner of position %d", ErrUnauthorized, from, id)
	}
	p.Owner = to
	return nil
}

func (t *ledgerTx) commit() {
	for id, p := range t.dirty {
		t.base.positions[id] = p
	}
	t.base.nextID = t.nextID
}
