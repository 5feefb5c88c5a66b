package pool

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alphabill-org/stakepool/internal/logger"
)

const MaxFeeRate = 10_000

var log = logger.CreateForPackage()

type (
	// Pool is a single staking pool. All exported methods are safe for concurrent use,
	// mutating calls are serialized and either fully applied or not applied at all.
	Pool struct {
		mu           sync.Mutex
		address      common.Address
		operator     common.Address
		feeRecipient common.Address
		feeRate      uint16
		opts         *Options

		acc        accounting
		ledger     *ledger
		deposits   []DepositRecord
		usedPubKey map[string]struct{}
		log        logger.Logger
	}

	// accounting holds the mutable pool state. It is a plain value so that a copy can
	// be used for staging a mutation.
	accounting struct {
		state           State
		dispatchedUnits uint64
		readyUnits      uint64

		totalContributed uint256.Int
		pendingRemainder uint256.Int
		balance          uint256.Int
		shortfallCovered uint256.Int
		received         uint256.Int
		// returnedPrincipal is validator principal paid back by the consensus layer.
		returnedPrincipal uint256.Int

		rewardPerShare     uint256.Int
		rewardsOwed        uint256.Int
		rewardDust         uint256.Int
		rewardsDistributed uint256.Int
		feesPaid           uint256.Int

		claimedPrincipal    uint256.Int
		settlementPool      uint256.Int
		settlementPrincipal uint256.Int
		declaredReturn      uint256.Int
	}

	DepositRecord struct {
		Index                 uint64
		PubKey                []byte
		WithdrawalCredentials []byte
		DepositDataRoot       []byte
		DispatchedAt          time.Time
	}

	txn struct {
		acc      accounting
		ledger   *ledgerTx
		deposits []DepositRecord
	}

	// Info is a point in time view of the pool accounting.
	Info struct {
		Address           common.Address
		Operator          common.Address
		FeeRecipient      common.Address
		Monitor           common.Address
		FeeRate           uint16
		RequireActivation bool
		State             State
		UnitSize          *uint256.Int
		Positions         uint64
		DispatchedUnits   uint64
		ReadyUnits        uint64

		TotalContributed    *uint256.Int
		PendingRemainder    *uint256.Int
		Balance             *uint256.Int
		ShortfallCovered    *uint256.Int
		Received            *uint256.Int
		ReturnedPrincipal   *uint256.Int
		RewardPerShare      *uint256.Int
		RewardsOwed         *uint256.Int
		RewardsDistributed  *uint256.Int
		FeesPaid            *uint256.Int
		ClaimedPrincipal    *uint256.Int
		SettlementPool      *uint256.Int
		SettlementPrincipal *uint256.Int
		DeclaredReturn      *uint256.Int
	}
)

// New creates a pool in Open state. Operator and fee recipient are fixed for the lifetime of the pool.
func New(address, feeRecipient, operator common.Address, feeRate uint16, opts ...Option) (*Pool, error) {
	if address == (common.Address{}) {
		return nil, fmt.Errorf("%w: pool address is zero", ErrInvalidAddress)
	}
	if operator == (common.Address{}) {
		return nil, fmt.Errorf("%w: operator is zero address", ErrInvalidAddress)
	}
	if feeRecipient == (common.Address{}) {
		return nil, fmt.Errorf("%w: fee recipient is zero address", ErrInvalidAddress)
	}
	if feeRate > MaxFeeRate {
		return nil, fmt.Errorf("%w: %d basis points exceeds %d", ErrInvalidFeeRate, feeRate, MaxFeeRate)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.unitSize == nil || o.unitSize.IsZero() {
		return nil, fmt.Errorf("%w: unit size must be positive", ErrInvalidAmount)
	}
	if o.registrar == nil {
		return nil, fmt.Errorf("upstream registrar is nil")
	}
	if o.payer == nil {
		return nil, fmt.Errorf("payer is nil")
	}
	return &Pool{
		address:      address,
		operator:     operator,
		feeRecipient: feeRecipient,
		feeRate:      feeRate,
		opts:         o,
		ledger:       newLedger(),
		usedPubKey:   make(map[string]struct{}),
		log:          log.With("pool", address.Hex()),
	}, nil
}

func (p *Pool) Address() common.Address {
	return p.address
}

func (p *Pool) Operator() common.Address {
	return p.operator
}

func (p *Pool) FeeRecipient() common.Address {
	return p.feeRecipient
}

func (p *Pool) FeeRate() uint16 {
	return p.feeRate
}

func (p *Pool) UnitSize() *uint256.Int {
	return p.opts.unitSize.Clone()
}

func (p *Pool) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acc.state
}

func (p *Pool) Info() *Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := &p.acc
	return &Info{
		Address:             p.address,
		Operator:            p.operator,
		FeeRecipient:        p.feeRecipient,
		Monitor:             p.opts.monitor,
		FeeRate:             p.feeRate,
		RequireActivation:   p.opts.requireActivation,
		State:               a.state,
		UnitSize:            p.opts.unitSize.Clone(),
		Positions:           p.ledger.count(),
		DispatchedUnits:     a.dispatchedUnits,
		ReadyUnits:          a.readyUnits,
		TotalContributed:    a.totalContributed.Clone(),
		PendingRemainder:    a.pendingRemainder.Clone(),
		Balance:             a.balance.Clone(),
		ShortfallCovered:    a.shortfallCovered.Clone(),
		Received:            a.received.Clone(),
		ReturnedPrincipal:   a.returnedPrincipal.Clone(),
		RewardPerShare:      a.rewardPerShare.Clone(),
		RewardsOwed:         a.rewardsOwed.Clone(),
		RewardsDistributed:  a.rewardsDistributed.Clone(),
		FeesPaid:            a.feesPaid.Clone(),
		ClaimedPrincipal:    a.claimedPrincipal.Clone(),
		SettlementPool:      a.settlementPool.Clone(),
		SettlementPrincipal: a.settlementPrincipal.Clone(),
		DeclaredReturn:      a.declaredReturn.Clone(),
	}
}

// Deposits returns the dispatched deposit units in dispatch order.
func (p *Pool) Deposits() []DepositRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]DepositRecord(nil), p.deposits...)
}

func (p *Pool) now() time.Time {
	return p.opts.clock()
}

func (p *Pool) isOperator(addr common.Address) bool {
	return addr == p.operator
}

func (p *Pool) requireOperator(caller common.Address) error {
	if !p.isOperator(caller) {
		return fmt.Errorf("%w: %s is not the pool operator", ErrUnauthorized, caller)
	}
	return nil
}

// update runs fn against a staged copy of the pool state and commits the result when
// fn succeeds. External side effects must be the last thing fn does.
func (p *Pool) update(op string, fn func(tx *txn) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updateLocked(op, fn)
}

func (p *Pool) updateLocked(op string, fn func(tx *txn) error) error {
	tx := &txn{acc: p.acc, ledger: p.ledger.begin()}
	if err := fn(tx); err != nil {
		p.log.Debug("%s rejected: %v", op, err)
		return err
	}
	p.commit(tx)
	return nil
}

func (p *Pool) commit(tx *txn) {
	prev := p.acc.state
	p.acc = tx.acc
	tx.ledger.commit()
	for _, d := range tx.deposits {
		p.usedPubKey[string(d.PubKey)] = struct{}{}
		p.deposits = append(p.deposits, d)
	}
	if prev != p.acc.state {
		p.log.Info("state changed from %s to %s", prev, p.acc.state)
	}
	if p.opts.commitHandler != nil {
		p.opts.commitHandler(p.snapshotLocked())
	}
}

// reserved is the capital which must not be treated as reward: undispatched principal,
// principal returned by validators, operator top-ups and rewards already credited to positions.
func (a *accounting) reserved(unitSize *uint256.Int) *uint256.Int {
	r := new(uint256.Int).Mul(uint256.NewInt(a.readyUnits), unitSize)
	r.Add(r, &a.pendingRemainder)
	r.Add(r, &a.returnedPrincipal)
	r.Add(r, &a.shortfallCovered)
	r.Add(r, &a.rewardsOwed)
	return r
}

func (a *accounting) dispatchedPrincipal(unitSize *uint256.Int) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(a.dispatchedUnits), unitSize)
}

// outstandingPrincipal is the sum of amounts of positions not yet claimed.
func (a *accounting) outstandingPrincipal() *uint256.Int {
	return subSaturating(&a.totalContributed, &a.claimedPrincipal)
}

// available is the capital the pool holds beyond rewards owed to positions.
func (a *accounting) available() *uint256.Int {
	return subSaturating(&a.balance, &a.rewardsOwed)
}

func subSaturating(x, y *uint256.Int) *uint256.Int {
	z, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return new(uint256.Int)
	}
	return z
}
