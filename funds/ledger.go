package funds

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alphabill-org/stakepool/internal/keyvaluedb"
	"github.com/alphabill-org/stakepool/internal/logger"
)

var (
	accountPrefix = []byte("acct/")

	ErrInvalidTransfer = errors.New("invalid transfer")

	log = logger.CreateForPackage()
)

// Ledger is an account ledger receiving payments from pools. When backed by a
// key-value store every credited balance is written through.
type Ledger struct {
	mu       sync.RWMutex
	balances map[common.Address]*uint256.Int
	db       keyvaluedb.KeyValueDB
	failWith error
}

// NewLedger returns a ledger loaded from db. db may be nil for a purely in-memory ledger.
func NewLedger(db keyvaluedb.KeyValueDB) (*Ledger, error) {
	l := &Ledger{balances: make(map[common.Address]*uint256.Int), db: db}
	if db == nil {
		return l, nil
	}
	it := db.Find(accountPrefix)
	defer func() {
		if err := it.Close(); err != nil {
			log.Warning("closing account iterator: %v", err)
		}
	}()
	for ; it.Valid() && bytes.HasPrefix(it.Key(), accountPrefix); it.Next() {
		var balance []byte
		if err := it.Value(&balance); err != nil {
			return nil, fmt.Errorf("reading account %x: %w", it.Key(), err)
		}
		addr := common.BytesToAddress(it.Key()[len(accountPrefix):])
		l.balances[addr] = new(uint256.Int).SetBytes(balance)
	}
	return l, nil
}

// Transfer credits amount to the account of to.
func (l *Ledger) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return fmt.Errorf("%w: recipient is zero address", ErrInvalidTransfer)
	}
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidTransfer)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failWith != nil {
		return l.failWith
	}
	balance := new(uint256.Int)
	if b, ok := l.balances[to]; ok {
		balance.Set(b)
	}
	if _, overflow := balance.AddOverflow(balance, amount); overflow {
		return fmt.Errorf("%w: balance of %s overflows", ErrInvalidTransfer, to)
	}
	if l.db != nil {
		if err := l.db.Write(accountKey(to), balance.Bytes()); err != nil {
			return fmt.Errorf("storing balance of %s: %w", to, err)
		}
	}
	l.balances[to] = balance
	log.Trace("credited %s wei to %s", amount.ToBig(), to)
	return nil
}

func (l *Ledger) BalanceOf(addr common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.balances[addr]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

// Total returns the sum of all account balances.
func (l *Ledger) Total() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := new(uint256.Int)
	for _, b := range l.balances {
		total.Add(total, b)
	}
	return total
}

// FailTransfers makes every following transfer fail with err, nil restores normal operation.
func (l *Ledger) FailTransfers(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failWith = err
}

func accountKey(addr common.Address) []byte {
	return append(append([]byte{}, accountPrefix...), addr.Bytes()...)
}
