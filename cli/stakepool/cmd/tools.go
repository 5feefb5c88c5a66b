package cmd

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/alphabill-org/stakepool/deposit"
	"github.com/alphabill-org/stakepool/rpc"
)

const (
	poolAddrCmdName   = "pool"
	pubKeyCmdName     = "pubkey"
	signatureCmdName  = "signature"
	amountGweiCmdName = "amount-gwei"

	defaultAmountGwei = 32_000_000_000
)

func newWithdrawalCredentialsCmd() *cobra.Command {
	var poolAddr string
	cmd := &cobra.Command{
		Use:   "withdrawal-credentials",
		Short: "Prints the withdrawal credentials validators of a pool must use",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := rpc.ParseAddress(poolAddr)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", poolAddrCmdName, err)
			}
			consoleWriter.Println(hexutil.Encode(deposit.WithdrawalCredentials(addr)))
			return nil
		},
	}
	cmd.Flags().StringVar(&poolAddr, poolAddrCmdName, "", "pool address")
	if err := cmd.MarkFlagRequired(poolAddrCmdName); err != nil {
		panic(err)
	}
	return cmd
}

func newDepositRootCmd() *cobra.Command {
	var (
		poolAddr   string
		pubKey     string
		signature  string
		amountGwei uint64
	)
	cmd := &cobra.Command{
		Use:   "deposit-root",
		Short: "Computes the deposit data root of a validator deposit to a pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := rpc.ParseAddress(poolAddr)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", poolAddrCmdName, err)
			}
			pk, err := hexutil.Decode(pubKey)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", pubKeyCmdName, err)
			}
			sig, err := hexutil.Decode(signature)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", signatureCmdName, err)
			}
			root, err := deposit.HashTreeRoot(&deposit.Data{
				PubKey:                pk,
				WithdrawalCredentials: deposit.WithdrawalCredentials(addr),
				Signature:             sig,
			}, amountGwei)
			if err != nil {
				return err
			}
			consoleWriter.Println(hexutil.Encode(root[:]))
			return nil
		},
	}
	cmd.Flags().StringVar(&poolAddr, poolAddrCmdName, "", "pool address")
	cmd.Flags().StringVar(&pubKey, pubKeyCmdName, "", "hex encoded validator public key")
	cmd.Flags().StringVar(&signature, signatureCmdName, "", "hex encoded deposit signature")
	cmd.Flags().Uint64Var(&amountGwei, amountGweiCmdName, defaultAmountGwei, "deposit amount in gwei")
	for _, name := range []string{poolAddrCmdName, pubKeyCmdName, signatureCmdName} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(err)
		}
	}
	return cmd
}
