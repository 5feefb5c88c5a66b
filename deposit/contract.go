package deposit

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const depositContractABI = `[{"inputs":[{"internalType":"bytes","name":"pubkey","type":"bytes"},{"internalType":"bytes","name":"withdrawal_credentials","type":"bytes"},{"internalType":"bytes","name":"signature","type":"bytes"},{"internalType":"bytes32","name":"deposit_data_root","type":"bytes32"}],"name":"deposit","outputs":[],"stateMutability":"payable","type":"function"}]`

type (
	// TxSender submits a value carrying call to the execution layer.
	TxSender interface {
		SendTransaction(ctx context.Context, to common.Address, value *big.Int, data []byte) error
	}

	// ContractRegistrar registers validators through the canonical deposit contract.
	ContractRegistrar struct {
		contract common.Address
		abi      abi.ABI
		sender   TxSender
	}
)

func NewContractRegistrar(contract common.Address, sender TxSender) (*ContractRegistrar, error) {
	if sender == nil {
		return nil, errors.New("transaction sender is nil")
	}
	parsed, err := abi.JSON(strings.NewReader(depositContractABI))
	if err != nil {
		return nil, fmt.Errorf("parsing deposit contract abi: %w", err)
	}
	return &ContractRegistrar{contract: contract, abi: parsed, sender: sender}, nil
}

func (c *ContractRegistrar) Register(ctx context.Context, data *Data, amount *uint256.Int) error {
	input, err := c.PackDeposit(data)
	if err != nil {
		return err
	}
	if err := c.sender.SendTransaction(ctx, c.contract, amount.ToBig(), input); err != nil {
		return fmt.Errorf("sending deposit transaction: %w", err)
	}
	return nil
}

// PackDeposit returns the call data of deposit(bytes,bytes,bytes,bytes32).
func (c *ContractRegistrar) PackDeposit(data *Data) ([]byte, error) {
	if data == nil || len(data.DepositDataRoot) != DepositDataRootLength {
		return nil, fmt.Errorf("%w: deposit data root must be %d bytes", ErrInvalidDepositData, DepositDataRootLength)
	}
	var root [32]byte
	copy(root[:], data.DepositDataRoot)
	input, err := c.abi.Pack("deposit", data.PubKey, data.WithdrawalCredentials, data.Signature, root)
	if err != nil {
		return nil, fmt.Errorf("packing deposit call: %w", err)
	}
	return input, nil
}
