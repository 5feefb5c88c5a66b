package rpc

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alphabill-org/stakepool/deposit"
	"github.com/alphabill-org/stakepool/pool"
)

type (
	InfoResponse struct {
		Factory common.Address `json:"factory"`
		Pools   uint64         `json:"pools,string"`
	}

	CreatePoolRequest struct {
		FeeRecipient      string `json:"feeRecipient"`
		Operator          string `json:"operator"`
		FeeRate           uint16 `json:"feeRate"`
		Monitor           string `json:"monitor,omitempty"`
		UnitSize          string `json:"unitSize,omitempty"`
		RequireActivation bool   `json:"requireActivation,omitempty"`
	}

	CreatePoolResponse struct {
		Address common.Address `json:"address"`
		Index   uint64         `json:"index,string"`
	}

	PoolListResponse struct {
		Pools []common.Address `json:"pools"`
	}

	PoolResponse struct {
		Address             common.Address `json:"address"`
		Operator            common.Address `json:"operator"`
		FeeRecipient        common.Address `json:"feeRecipient"`
		Monitor             common.Address `json:"monitor"`
		FeeRate             uint16         `json:"feeRate"`
		RequireActivation   bool           `json:"requireActivation"`
		State               pool.State     `json:"state"`
		UnitSize            string         `json:"unitSize"`
		Positions           uint64         `json:"positions,string"`
		DispatchedUnits     uint64         `json:"dispatchedUnits,string"`
		ReadyUnits          uint64         `json:"readyUnits,string"`
		TotalContributed    string         `json:"totalContributed"`
		PendingRemainder    string         `json:"pendingRemainder"`
		Balance             string         `json:"balance"`
		ShortfallCovered    string         `json:"shortfallCovered"`
		Received            string         `json:"received"`
		ReturnedPrincipal   string         `json:"returnedPrincipal"`
		RewardPerShare      string         `json:"rewardPerShare"`
		RewardsOwed         string         `json:"rewardsOwed"`
		RewardsDistributed  string         `json:"rewardsDistributed"`
		FeesPaid            string         `json:"feesPaid"`
		ClaimedPrincipal    string         `json:"claimedPrincipal"`
		SettlementPool      string         `json:"settlementPool"`
		SettlementPrincipal string         `json:"settlementPrincipal"`
		DeclaredReturn      string         `json:"declaredReturn"`
	}

	// CallRequest is the body of every state changing pool call. From identifies the caller.
	CallRequest struct {
		From   string `json:"from"`
		Amount string `json:"amount,omitempty"`
		To     string `json:"to,omitempty"`
	}

	DispatchRequest struct {
		From     string        `json:"from"`
		Deposits []DepositData `json:"deposits"`
	}

	DepositData struct {
		PubKey                hexutil.Bytes `json:"pubkey"`
		WithdrawalCredentials hexutil.Bytes `json:"withdrawalCredentials"`
		Signature             hexutil.Bytes `json:"signature"`
		DepositDataRoot       hexutil.Bytes `json:"depositDataRoot"`
	}

	DispatchResponse struct {
		Dispatched int `json:"dispatched"`
	}

	ParticipateResponse struct {
		PositionID uint64 `json:"positionId,string"`
	}

	DistributionResponse struct {
		Reward         string `json:"reward"`
		Fee            string `json:"fee"`
		Credited       string `json:"credited"`
		RewardPerShare string `json:"rewardPerShare"`
	}

	PayoutResponse struct {
		PositionID uint64         `json:"positionId,string"`
		Recipient  common.Address `json:"recipient"`
		Principal  string         `json:"principal"`
		Rewards    string         `json:"rewards"`
		Total      string         `json:"total"`
	}

	PositionResponse struct {
		ID             uint64         `json:"id,string"`
		Owner          common.Address `json:"owner"`
		Amount         string         `json:"amount"`
		Claimed        bool           `json:"claimed"`
		PendingRewards string         `json:"pendingRewards"`
		CreatedAt      time.Time      `json:"createdAt"`
	}

	PositionListResponse struct {
		Positions []*PositionResponse `json:"positions"`
	}

	RoyaltyResponse struct {
		Receiver common.Address `json:"receiver"`
		Amount   string         `json:"amount"`
	}

	TokenURIResponse struct {
		URI string `json:"uri"`
	}

	DepositResponse struct {
		Index                 uint64        `json:"index,string"`
		PubKey                hexutil.Bytes `json:"pubkey"`
		WithdrawalCredentials hexutil.Bytes `json:"withdrawalCredentials"`
		DepositDataRoot       hexutil.Bytes `json:"depositDataRoot"`
		DispatchedAt          time.Time     `json:"dispatchedAt"`
	}

	DepositListResponse struct {
		Deposits []*DepositResponse `json:"deposits"`
	}

	WithdrawalCredentialsResponse struct {
		WithdrawalCredentials hexutil.Bytes `json:"withdrawalCredentials"`
	}

	BalanceResponse struct {
		Address common.Address `json:"address"`
		Balance string         `json:"balance"`
	}
)

func newPoolResponse(i *pool.Info) *PoolResponse {
	return &PoolResponse{
		Address:             i.Address,
		Operator:            i.Operator,
		FeeRecipient:        i.FeeRecipient,
		Monitor:             i.Monitor,
		FeeRate:             i.FeeRate,
		RequireActivation:   i.RequireActivation,
		State:               i.State,
		UnitSize:            formatAmount(i.UnitSize),
		Positions:           i.Positions,
		DispatchedUnits:     i.DispatchedUnits,
		ReadyUnits:          i.ReadyUnits,
		TotalContributed:    formatAmount(i.TotalContributed),
		PendingRemainder:    formatAmount(i.PendingRemainder),
		Balance:             formatAmount(i.Balance),
		ShortfallCovered:    formatAmount(i.ShortfallCovered),
		Received:            formatAmount(i.Received),
		ReturnedPrincipal:   formatAmount(i.ReturnedPrincipal),
		RewardPerShare:      formatAmount(i.RewardPerShare),
		RewardsOwed:         formatAmount(i.RewardsOwed),
		RewardsDistributed:  formatAmount(i.RewardsDistributed),
		FeesPaid:            formatAmount(i.FeesPaid),
		ClaimedPrincipal:    formatAmount(i.ClaimedPrincipal),
		SettlementPool:      formatAmount(i.SettlementPool),
		SettlementPrincipal: formatAmount(i.SettlementPrincipal),
		DeclaredReturn:      formatAmount(i.DeclaredReturn),
	}
}

func newPayoutResponse(p *pool.Payout) *PayoutResponse {
	return &PayoutResponse{
		PositionID: p.PositionID,
		Recipient:  p.Recipient,
		Principal:  formatAmount(p.Principal),
		Rewards:    formatAmount(p.Rewards),
		Total:      formatAmount(p.Total()),
	}
}

func (d *DepositData) toDepositData() *deposit.Data {
	return &deposit.Data{
		PubKey:                d.PubKey,
		WithdrawalCredentials: d.WithdrawalCredentials,
		Signature:             d.Signature,
		DepositDataRoot:       d.DepositDataRoot,
	}
}
