package factory

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alphabill-org/stakepool/internal/keyvaluedb"
	"github.com/alphabill-org/stakepool/internal/logger"
	"github.com/alphabill-org/stakepool/pool"
)

var (
	ErrPoolNotFound = errors.New("pool not found")

	metaKey    = []byte("meta")
	poolPrefix = []byte("pool/")

	log = logger.CreateForPackage()
)

type (
	// Factory creates pools and keeps an ordered registry of them. Each pool is an
	// independent instance, pools share only the collaborators passed in as options.
	Factory struct {
		mu      sync.RWMutex
		address common.Address
		nonce   uint64
		pools   []*pool.Pool
		byAddr  map[common.Address]int
		opts    []pool.Option
		db      keyvaluedb.KeyValueDB
	}

	meta struct {
		Address common.Address `json:"address"`
		Nonce   uint64         `json:"nonce"`
	}
)

// New returns a factory deriving pool addresses from address. When a database is
// configured (WithDB) previously created pools are restored from it.
func New(address common.Address, opts ...Option) (*Factory, error) {
	if address == (common.Address{}) {
		return nil, fmt.Errorf("%w: factory address is zero", pool.ErrInvalidAddress)
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	f := &Factory{
		address: address,
		byAddr:  make(map[common.Address]int),
		opts:    o.poolOptions,
		db:      o.db,
	}
	if f.db != nil {
		if err := f.load(); err != nil {
			return nil, fmt.Errorf("loading pools: %w", err)
		}
	}
	return f, nil
}

func (f *Factory) Address() common.Address {
	return f.address
}

// Create instantiates a new pool in Open state and appends it to the registry.
// opts are applied after the factory wide pool options.
func (f *Factory) Create(feeRecipient, operator common.Address, feeRate uint16, opts ...pool.Option) (*pool.Pool, error) {
	p, _, err := f.CreateIndexed(feeRecipient, operator, feeRate, opts...)
	return p, err
}

// CreateIndexed is Create that also returns the registry index assigned to the new pool.
func (f *Factory) CreateIndexed(feeRecipient, operator common.Address, feeRate uint16, opts ...pool.Option) (*pool.Pool, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	addr := crypto.CreateAddress(f.address, f.nonce)
	index := len(f.pools)
	poolOpts := append(append([]pool.Option{}, f.opts...), opts...)
	poolOpts = append(poolOpts, f.persistOption(index))
	p, err := pool.New(addr, feeRecipient, operator, feeRate, poolOpts...)
	if err != nil {
		return nil, 0, fmt.Errorf("creating pool: %w", err)
	}
	if f.db != nil {
		if err := f.storeNew(index, p); err != nil {
			return nil, 0, fmt.Errorf("storing pool %s: %w", addr, err)
		}
	}
	f.nonce++
	f.pools = append(f.pools, p)
	f.byAddr[addr] = index
	log.Info("pool %d created at %s, operator %s, fee recipient %s, fee rate %d", index, addr, operator, feeRecipient, feeRate)
	return p, uint64(index), nil
}

// PoolByIndex returns the i-th created pool.
func (f *Factory) PoolByIndex(i uint64) (*pool.Pool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if i >= uint64(len(f.pools)) {
		return nil, fmt.Errorf("%w: index %d, registry holds %d pools", ErrPoolNotFound, i, len(f.pools))
	}
	return f.pools[i], nil
}

func (f *Factory) PoolByAddress(addr common.Address) (*pool.Pool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	i, ok := f.byAddr[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, addr)
	}
	return f.pools[i], nil
}

func (f *Factory) Count() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return uint64(len(f.pools))
}

// Pools returns the addresses of all pools in creation order.
func (f *Factory) Pools() []common.Address {
	f.mu.RLock()
	defer f.mu.RUnlock()
	res := make([]common.Address, len(f.pools))
	for i, p := range f.pools {
		res[i] = p.Address()
	}
	return res
}

func (f *Factory) storeNew(index int, p *pool.Pool) (rErr error) {
	tx, err := f.db.StartTx()
	if err != nil {
		return err
	}
	defer func() {
		if rErr != nil {
			if err := tx.Rollback(); err != nil {
				rErr = errors.Join(rErr, fmt.Errorf("rollback: %w", err))
			}
		}
	}()
	if err := tx.Write(poolKey(index), p.Snapshot()); err != nil {
		return err
	}
	if err := tx.Write(metaKey, &meta{Address: f.address, Nonce: f.nonce + 1}); err != nil {
		return err
	}
	return tx.Commit()
}

// persistOption writes the pool snapshot after every committed mutation. The pool state
// already includes external effects at that point, so a failed write is logged, not returned.
func (f *Factory) persistOption(index int) pool.Option {
	return pool.WithCommitHandler(func(s *pool.Snapshot) {
		if f.db == nil {
			return
		}
		if err := f.db.Write(poolKey(index), s); err != nil {
			log.Error("persisting pool %s: %v", s.Address, err)
		}
	})
}

func (f *Factory) load() (rErr error) {
	var m meta
	found, err := f.db.Read(metaKey, &m)
	if err != nil {
		return fmt.Errorf("reading factory metadata: %w", err)
	}
	if !found {
		return nil
	}
	if m.Address != f.address {
		return fmt.Errorf("database belongs to factory %s, not %s", m.Address, f.address)
	}
	f.nonce = m.Nonce

	it := f.db.Find(poolPrefix)
	defer func() { rErr = errors.Join(rErr, it.Close()) }()
	for ; it.Valid() && bytes.HasPrefix(it.Key(), poolPrefix); it.Next() {
		index := len(f.pools)
		if want := poolKey(index); !bytes.Equal(want, it.Key()) {
			return fmt.Errorf("unexpected pool key %x, expected %x", it.Key(), want)
		}
		var s pool.Snapshot
		if err := it.Value(&s); err != nil {
			return fmt.Errorf("reading pool %d: %w", index, err)
		}
		opts := append(append([]pool.Option{}, f.opts...), f.persistOption(index))
		p, err := pool.Restore(&s, opts...)
		if err != nil {
			return fmt.Errorf("restoring pool %d: %w", index, err)
		}
		f.pools = append(f.pools, p)
		f.byAddr[p.Address()] = index
	}
	log.Info("restored %d pools", len(f.pools))
	return nil
}

func poolKey(index int) []byte {
	return binary.BigEndian.AppendUint64(append([]byte{}, poolPrefix...), uint64(index))
}
