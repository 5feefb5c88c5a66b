package deposit

import (
	"fmt"

	ssz "github.com/ferranbt/fastssz"
)

// HashTreeRoot computes the SSZ hash_tree_root of the DepositData container
// (pubkey, withdrawal_credentials, amount, signature) with amount given in gwei.
func HashTreeRoot(d *Data, amountGwei uint64) ([32]byte, error) {
	if d == nil {
		return [32]byte{}, fmt.Errorf("%w: deposit data is nil", ErrInvalidDepositData)
	}
	if len(d.PubKey) != PubKeyLength || len(d.WithdrawalCredentials) != WithdrawalCredentialsLength || len(d.Signature) != SignatureLength {
		return [32]byte{}, fmt.Errorf("%w: unexpected field lengths pubkey=%d credentials=%d signature=%d",
			ErrInvalidDepositData, len(d.PubKey), len(d.WithdrawalCredentials), len(d.Signature))
	}

	hh := ssz.NewHasher()
	indx := hh.Index()
	hh.PutBytes(d.PubKey)
	hh.PutBytes(d.WithdrawalCredentials)
	hh.PutUint64(amountGwei)
	hh.PutBytes(d.Signature)
	hh.Merkleize(indx)

	root, err := hh.HashRoot()
	if err != nil {
		return [32]byte{}, fmt.Errorf("hashing deposit data: %w", err)
	}
	return root, nil
}
