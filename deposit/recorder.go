package deposit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/alphabill-org/stakepool/internal/logger"
)

var (
	gwei      = uint256.NewInt(1_000_000_000)
	minAmount = uint256.NewInt(1_000_000_000_000_000_000)

	ErrDepositRejected = errors.New("deposit rejected")

	log = logger.CreateForPackage()
)

type (
	// Recorder is an in-memory stand-in for the beacon deposit contract. It applies the
	// contract's acceptance rules and keeps every accepted deposit in order.
	Recorder struct {
		mu         sync.Mutex
		deposits   []*Record
		verifyRoot bool
		hook       func(*Data) error
	}

	Record struct {
		Index      uint64
		Data       *Data
		Amount     *uint256.Int
		RecordedAt time.Time
	}

	RecorderOption func(*Recorder)
)

// WithRootVerification makes the recorder recompute the deposit data root and reject mismatches.
func WithRootVerification() RecorderOption {
	return func(r *Recorder) {
		r.verifyRoot = true
	}
}

// WithRegisterHook installs a function called before a deposit is accepted, a non-nil
// return value rejects the deposit. Used to simulate upstream failures.
func WithRegisterHook(f func(*Data) error) RecorderOption {
	return func(r *Recorder) {
		r.hook = f
	}
}

func NewRecorder(opts ...RecorderOption) *Recorder {
	r := &Recorder{}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Recorder) Register(ctx context.Context, data *Data, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("%w: deposit data is nil", ErrInvalidDepositData)
	}
	if amount == nil || amount.Lt(minAmount) {
		return fmt.Errorf("%w: deposit value too low", ErrDepositRejected)
	}
	if !new(uint256.Int).Mod(amount, gwei).IsZero() {
		return fmt.Errorf("%w: deposit value not multiple of gwei", ErrDepositRejected)
	}
	amountGwei := new(uint256.Int).Div(amount, gwei)
	if !amountGwei.IsUint64() {
		return fmt.Errorf("%w: deposit value too high", ErrDepositRejected)
	}
	if r.verifyRoot {
		root, err := HashTreeRoot(data, amountGwei.Uint64())
		if err != nil {
			return err
		}
		if !bytes.Equal(root[:], data.DepositDataRoot) {
			return fmt.Errorf("%w: reconstructed deposit data root %x does not match supplied %x", ErrDepositRejected, root, data.DepositDataRoot)
		}
	}
	if r.hook != nil {
		if err := r.hook(data); err != nil {
			return fmt.Errorf("%w: %w", ErrDepositRejected, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rec := &Record{
		Index:      uint64(len(r.deposits)),
		Data:       data.Clone(),
		Amount:     amount.Clone(),
		RecordedAt: time.Now(),
	}
	r.deposits = append(r.deposits, rec)
	log.Debug("deposit %d accepted, pubkey %x, amount %s gwei", rec.Index, data.PubKey, amountGwei.ToBig())
	return nil
}

func (r *Recorder) Count() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint64(len(r.deposits))
}

// Deposits returns accepted deposits in acceptance order.
func (r *Recorder) Deposits() []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Record(nil), r.deposits...)
}
