package deposit

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	PubKeyLength                = 48
	WithdrawalCredentialsLength = 32
	SignatureLength             = 96
	DepositDataRootLength       = 32

	// ETH1AddressWithdrawalPrefix marks withdrawal credentials which point to an execution layer address.
	ETH1AddressWithdrawalPrefix byte = 0x01
)

var ErrInvalidDepositData = errors.New("invalid deposit data")

type (
	// Data is the validator credential set the operator supplies out-of-band for a single deposit unit.
	Data struct {
		PubKey                []byte `json:"pubkey"`
		WithdrawalCredentials []byte `json:"withdrawalCredentials"`
		Signature             []byte `json:"signature"`
		DepositDataRoot       []byte `json:"depositDataRoot"`
	}

	// Registrar is the upstream validator registration endpoint. Register is not idempotent
	// and can't be reverted, callers must invoke it at most once per deposit unit.
	Registrar interface {
		Register(ctx context.Context, data *Data, amount *uint256.Int) error
	}
)

// WithdrawalCredentials returns the 0x01 type credentials pointing to addr:
// prefix byte, 11 zero bytes and the 20 byte address.
func WithdrawalCredentials(addr common.Address) []byte {
	wc := make([]byte, WithdrawalCredentialsLength)
	wc[0] = ETH1AddressWithdrawalPrefix
	copy(wc[12:], addr.Bytes())
	return wc
}

// Validate checks field lengths and that the withdrawal credentials point to withdrawalAddress.
// All problems are reported, wrapped with ErrInvalidDepositData.
func (d *Data) Validate(withdrawalAddress common.Address) error {
	if d == nil {
		return fmt.Errorf("%w: deposit data is nil", ErrInvalidDepositData)
	}
	var errs []error
	if len(d.PubKey) != PubKeyLength {
		errs = append(errs, fmt.Errorf("pubkey must be %d bytes, got %d", PubKeyLength, len(d.PubKey)))
	}
	if len(d.WithdrawalCredentials) != WithdrawalCredentialsLength {
		errs = append(errs, fmt.Errorf("withdrawal credentials must be %d bytes, got %d", WithdrawalCredentialsLength, len(d.WithdrawalCredentials)))
	} else if want := WithdrawalCredentials(withdrawalAddress); string(want) != string(d.WithdrawalCredentials) {
		errs = append(errs, fmt.Errorf("withdrawal credentials %x do not match pool credentials %x", d.WithdrawalCredentials, want))
	}
	if len(d.Signature) != SignatureLength {
		errs = append(errs, fmt.Errorf("signature must be %d bytes, got %d", SignatureLength, len(d.Signature)))
	}
	if len(d.DepositDataRoot) != DepositDataRootLength {
		errs = append(errs, fmt.Errorf("deposit data root must be %d bytes, got %d", DepositDataRootLength, len(d.DepositDataRoot)))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidDepositData, errors.Join(errs...))
	}
	return nil
}

// Clone returns a deep copy of d.
func (d *Data) Clone() *Data {
	if d == nil {
		return nil
	}
	return &Data{
		PubKey:                common.CopyBytes(d.PubKey),
		WithdrawalCredentials: common.CopyBytes(d.WithdrawalCredentials),
		Signature:             common.CopyBytes(d.Signature),
		DepositDataRoot:       common.CopyBytes(d.DepositDataRoot),
	}
}
