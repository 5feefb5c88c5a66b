package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"

	"github.com/alphabill-org/stakepool/deposit"
	"github.com/alphabill-org/stakepool/factory"
	"github.com/alphabill-org/stakepool/internal/logger"
	"github.com/alphabill-org/stakepool/pool"
)

const (
	paramPool     = "pool"
	paramIndex    = "index"
	paramPosition = "positionId"
	paramOwner    = "owner"
	paramAddress  = "address"
	paramPrice    = "salePrice"

	maxBodySize = 1 << 20
)

var log = logger.CreateForPackage()

type (
	BalanceReader interface {
		BalanceOf(addr common.Address) *uint256.Int
	}

	RestAPI struct {
		Factory *factory.Factory
		// Balances is optional, when nil the balance endpoint is not registered.
		Balances BalanceReader
		rw       *ResponseWriter
	}
)

func NewRestAPI(f *factory.Factory, balances BalanceReader) *RestAPI {
	return &RestAPI{Factory: f, Balances: balances, rw: &ResponseWriter{LogErr: log.Error}}
}

func (api *RestAPI) Router() *mux.Router {
	router := mux.NewRouter().StrictSlash(true)

	apiRouter := router.PathPrefix("/api").Subrouter()
	// content-type needs to be explicitly allowed, OPTIONS method needs to be defined for each handler func
	apiRouter.Use(handlers.CORS(handlers.AllowedHeaders([]string{ContentType})))

	apiV1 := apiRouter.PathPrefix("/v1").Subrouter()
	apiV1.HandleFunc("/info", api.getInfo).Methods("GET", "OPTIONS")
	apiV1.HandleFunc("/pools", api.listPools).Methods("GET", "OPTIONS")
	apiV1.HandleFunc("/pools", api.createPool).Methods("POST", "OPTIONS")
	apiV1.HandleFunc("/pools/index/{index}", api.getPoolByIndex).Methods("GET", "OPTIONS")

	poolRouter := apiV1.PathPrefix("/pools/{pool}").Subrouter()
	poolRouter.HandleFunc("", api.getPool).Methods("GET", "OPTIONS")
	poolRouter.HandleFunc("/withdrawal-credentials", api.getWithdrawalCredentials).Methods("GET", "OPTIONS")
	poolRouter.HandleFunc("/deposits", api.listDeposits).Methods("GET", "OPTIONS")
	poolRouter.HandleFunc("/participate", api.participate).Methods("POST", "OPTIONS")
	poolRouter.HandleFunc("/dispatch", api.dispatch).Methods("POST", "OPTIONS")
	poolRouter.HandleFunc("/confirm-activation", api.confirmActivation).Methods("POST", "OPTIONS")
	poolRouter.HandleFunc("/distribute-rewards", api.distributeRewards).Methods("POST", "OPTIONS")
	poolRouter.HandleFunc("/top-up", api.topUp).Methods("POST", "OPTIONS")
	poolRouter.HandleFunc("/receive", api.receive).Methods("POST", "OPTIONS")
	poolRouter.HandleFunc("/receive-withdrawal", api.receiveWithdrawal).Methods("POST", "OPTIONS")
	poolRouter.HandleFunc("/dismiss", api.dismiss).Methods("POST", "OPTIONS")
	poolRouter.HandleFunc("/fail", api.fail).Methods("POST", "OPTIONS")
	poolRouter.HandleFunc("/positions", api.listPositions).Methods("GET", "OPTIONS")
	poolRouter.HandleFunc("/positions/{positionId}", api.getPosition).Methods("GET", "OPTIONS")
	poolRouter.HandleFunc("/positions/{positionId}/transfer", api.transferPosition).Methods("POST", "OPTIONS")
	poolRouter.HandleFunc("/positions/{positionId}/claim-rewards", api.claimRewards).Methods("POST", "OPTIONS")
	poolRouter.HandleFunc("/positions/{positionId}/exit-dismissed", api.exitDismissed).Methods("POST", "OPTIONS")
	poolRouter.HandleFunc("/positions/{positionId}/exit-failed", api.exitFailed).Methods("POST", "OPTIONS")
	poolRouter.HandleFunc("/positions/{positionId}/royalty", api.getRoyalty).Methods("GET", "OPTIONS")
	poolRouter.HandleFunc("/positions/{positionId}/token-uri", api.getTokenURI).Methods("GET", "OPTIONS")

	if api.Balances != nil {
		apiV1.HandleFunc("/accounts/{address}/balance", api.getBalance).Methods("GET", "OPTIONS")
	}
	return router
}

func (api *RestAPI) getInfo(w http.ResponseWriter, r *http.Request) {
	api.rw.WriteResponse(w, &InfoResponse{Factory: api.Factory.Address(), Pools: api.Factory.Count()})
}

func (api *RestAPI) listPools(w http.ResponseWriter, r *http.Request) {
	api.rw.WriteResponse(w, &PoolListResponse{Pools: api.Factory.Pools()})
}

func (api *RestAPI) createPool(w http.ResponseWriter, r *http.Request) {
	req := &CreatePoolRequest{}
	if !api.decodeRequest(w, r, req) {
		return
	}
	feeRecipient, err := ParseAddress(req.FeeRecipient)
	if err != nil {
		api.rw.InvalidParamResponse(w, "feeRecipient", err)
		return
	}
	operator, err := ParseAddress(req.Operator)
	if err != nil {
		api.rw.InvalidParamResponse(w, "operator", err)
		return
	}
	opts := []pool.Option{pool.WithRequireActivation(req.RequireActivation)}
	if req.Monitor != "" {
		monitor, err := ParseAddress(req.Monitor)
		if err != nil {
			api.rw.InvalidParamResponse(w, "monitor", err)
			return
		}
		opts = append(opts, pool.WithMonitor(monitor))
	}
	if req.UnitSize != "" {
		unitSize, err := ParseAmount(req.UnitSize)
		if err != nil {
			api.rw.InvalidParamResponse(w, "unitSize", err)
			return
		}
		opts = append(opts, pool.WithUnitSize(unitSize))
	}
	p, index, err := api.Factory.CreateIndexed(feeRecipient, operator, req.FeeRate, opts...)
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	api.rw.WriteCreatedResponse(w, &CreatePoolResponse{Address: p.Address(), Index: index})
}

func (api *RestAPI) getPoolByIndex(w http.ResponseWriter, r *http.Request) {
	index, err := parseUint64(mux.Vars(r)[paramIndex])
	if err != nil {
		api.rw.InvalidParamResponse(w, paramIndex, err)
		return
	}
	p, err := api.Factory.PoolByIndex(index)
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	api.rw.WriteResponse(w, newPoolResponse(p.Info()))
}

func (api *RestAPI) getPool(w http.ResponseWriter, r *http.Request) {
	p, ok := api.pool(w, r)
	if !ok {
		return
	}
	api.rw.WriteResponse(w, newPoolResponse(p.Info()))
}

func (api *RestAPI) getWithdrawalCredentials(w http.ResponseWriter, r *http.Request) {
	p, ok := api.pool(w, r)
	if !ok {
		return
	}
	api.rw.WriteResponse(w, &WithdrawalCredentialsResponse{WithdrawalCredentials: p.WithdrawalCredentials()})
}

func (api *RestAPI) listDeposits(w http.ResponseWriter, r *http.Request) {
	p, ok := api.pool(w, r)
	if !ok {
		return
	}
	res := &DepositListResponse{Deposits: []*DepositResponse{}}
	for _, d := range p.Deposits() {
		res.Deposits = append(res.Deposits, &DepositResponse{
			Index:                 d.Index,
			PubKey:                d.PubKey,
			WithdrawalCredentials: d.WithdrawalCredentials,
			DepositDataRoot:       d.DepositDataRoot,
			DispatchedAt:          d.DispatchedAt,
		})
	}
	api.rw.WriteResponse(w, res)
}

func (api *RestAPI) participate(w http.ResponseWriter, r *http.Request) {
	p, req, from, ok := api.poolCall(w, r)
	if !ok {
		return
	}
	amount, err := ParseAmount(req.Amount)
	if err != nil {
		api.rw.InvalidParamResponse(w, "amount", err)
		return
	}
	id, err := p.Participate(from, amount)
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	api.rw.WriteResponse(w, &ParticipateResponse{PositionID: id})
}

func (api *RestAPI) dispatch(w http.ResponseWriter, r *http.Request) {
	p, ok := api.pool(w, r)
	if !ok {
		return
	}
	req := &DispatchRequest{}
	if !api.decodeRequest(w, r, req) {
		return
	}
	from, err := ParseAddress(req.From)
	if err != nil {
		api.rw.InvalidParamResponse(w, "from", err)
		return
	}
	data := make([]*deposit.Data, len(req.Deposits))
	for i := range req.Deposits {
		data[i] = req.Deposits[i].toDepositData()
	}
	n, err := p.DispatchReadyUnits(r.Context(), from, data)
	if err != nil {
		if n > 0 {
			err = fmt.Errorf("%d of %d units dispatched: %w", n, len(data), err)
		}
		api.rw.WriteErrorResponse(w, err)
		return
	}
	api.rw.WriteResponse(w, &DispatchResponse{Dispatched: n})
}

func (api *RestAPI) confirmActivation(w http.ResponseWriter, r *http.Request) {
	p, _, from, ok := api.poolCall(w, r)
	if !ok {
		return
	}
	api.writeResult(w, newPoolResponse, p, p.ConfirmActivation(from))
}

func (api *RestAPI) distributeRewards(w http.ResponseWriter, r *http.Request) {
	p, _, from, ok := api.poolCall(w, r)
	if !ok {
		return
	}
	d, err := p.DistributeRewards(r.Context(), from)
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	api.rw.WriteResponse(w, &DistributionResponse{
		Reward:         formatAmount(d.Reward),
		Fee:            formatAmount(d.Fee),
		Credited:       formatAmount(d.Credited),
		RewardPerShare: formatAmount(d.RewardPerShare),
	})
}

func (api *RestAPI) topUp(w http.ResponseWriter, r *http.Request) {
	p, req, from, ok := api.poolCall(w, r)
	if !ok {
		return
	}
	amount, err := ParseAmount(req.Amount)
	if err != nil {
		api.rw.InvalidParamResponse(w, "amount", err)
		return
	}
	api.writeResult(w, newPoolResponse, p, p.TopUp(from, amount))
}

func (api *RestAPI) receive(w http.ResponseWriter, r *http.Request) {
	api.credit(w, r, (*pool.Pool).Receive)
}

func (api *RestAPI) receiveWithdrawal(w http.ResponseWriter, r *http.Request) {
	api.credit(w, r, (*pool.Pool).ReceiveWithdrawal)
}

// credit handles the permissionless endpoints crediting funds to a pool.
func (api *RestAPI) credit(w http.ResponseWriter, r *http.Request, call func(*pool.Pool, *uint256.Int) error) {
	p, ok := api.pool(w, r)
	if !ok {
		return
	}
	req := &CallRequest{}
	if !api.decodeRequest(w, r, req) {
		return
	}
	amount, err := ParseAmount(req.Amount)
	if err != nil {
		api.rw.InvalidParamResponse(w, "amount", err)
		return
	}
	api.writeResult(w, newPoolResponse, p, call(p, amount))
}

func (api *RestAPI) dismiss(w http.ResponseWriter, r *http.Request) {
	p, req, from, ok := api.poolCall(w, r)
	if !ok {
		return
	}
	amount, err := ParseAmount(req.Amount)
	if err != nil {
		api.rw.InvalidParamResponse(w, "amount", err)
		return
	}
	api.writeResult(w, newPoolResponse, p, p.DismissPool(from, amount))
}

func (api *RestAPI) fail(w http.ResponseWriter, r *http.Request) {
	p, _, from, ok := api.poolCall(w, r)
	if !ok {
		return
	}
	api.writeResult(w, newPoolResponse, p, p.SetFailedStatus(from))
}

func (api *RestAPI) listPositions(w http.ResponseWriter, r *http.Request) {
	p, ok := api.pool(w, r)
	if !ok {
		return
	}
	owner, err := ParseAddress(r.URL.Query().Get(paramOwner))
	if err != nil {
		api.rw.InvalidParamResponse(w, paramOwner, err)
		return
	}
	res := &PositionListResponse{Positions: []*PositionResponse{}}
	for _, pos := range p.PositionsOf(owner) {
		pr, err := positionResponse(p, pos)
		if err != nil {
			api.rw.WriteErrorResponse(w, err)
			return
		}
		res.Positions = append(res.Positions, pr)
	}
	api.rw.WriteResponse(w, res)
}

func (api *RestAPI) getPosition(w http.ResponseWriter, r *http.Request) {
	p, id, ok := api.position(w, r)
	if !ok {
		return
	}
	pos, err := p.Position(id)
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	res, err := positionResponse(p, pos)
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	api.rw.WriteResponse(w, res)
}

func (api *RestAPI) transferPosition(w http.ResponseWriter, r *http.Request) {
	p, id, ok := api.position(w, r)
	if !ok {
		return
	}
	req, from, ok := api.callRequest(w, r)
	if !ok {
		return
	}
	to, err := ParseAddress(req.To)
	if err != nil {
		api.rw.InvalidParamResponse(w, "to", err)
		return
	}
	if err := p.Transfer(from, to, id); err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	pos, err := p.Position(id)
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	res, err := positionResponse(p, pos)
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	api.rw.WriteResponse(w, res)
}

func (api *RestAPI) claimRewards(w http.ResponseWriter, r *http.Request) {
	api.payout(w, r, (*pool.Pool).ClaimRewards)
}

func (api *RestAPI) exitDismissed(w http.ResponseWriter, r *http.Request) {
	api.payout(w, r, (*pool.Pool).ExitFromDismissPool)
}

func (api *RestAPI) exitFailed(w http.ResponseWriter, r *http.Request) {
	api.payout(w, r, (*pool.Pool).ExitFromFailedPool)
}

func (api *RestAPI) getRoyalty(w http.ResponseWriter, r *http.Request) {
	p, id, ok := api.position(w, r)
	if !ok {
		return
	}
	price, err := ParseAmount(r.URL.Query().Get(paramPrice))
	if err != nil {
		api.rw.InvalidParamResponse(w, paramPrice, err)
		return
	}
	receiver, amount, err := p.RoyaltyInfo(id, price)
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	api.rw.WriteResponse(w, &RoyaltyResponse{Receiver: receiver, Amount: formatAmount(amount)})
}

func (api *RestAPI) getTokenURI(w http.ResponseWriter, r *http.Request) {
	p, id, ok := api.position(w, r)
	if !ok {
		return
	}
	uri, err := p.TokenURI(id)
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	api.rw.WriteResponse(w, &TokenURIResponse{URI: uri})
}

func (api *RestAPI) getBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := ParseAddress(mux.Vars(r)[paramAddress])
	if err != nil {
		api.rw.InvalidParamResponse(w, paramAddress, err)
		return
	}
	api.rw.WriteResponse(w, &BalanceResponse{Address: addr, Balance: formatAmount(api.Balances.BalanceOf(addr))})
}

func (api *RestAPI) payout(w http.ResponseWriter, r *http.Request, call func(*pool.Pool, context.Context, common.Address, uint64) (*pool.Payout, error)) {
	p, id, ok := api.position(w, r)
	if !ok {
		return
	}
	_, from, ok := api.callRequest(w, r)
	if !ok {
		return
	}
	payout, err := call(p, r.Context(), from, id)
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	api.rw.WriteResponse(w, newPayoutResponse(payout))
}

func (api *RestAPI) pool(w http.ResponseWriter, r *http.Request) (*pool.Pool, bool) {
	addr, err := ParseAddress(mux.Vars(r)[paramPool])
	if err != nil {
		api.rw.InvalidParamResponse(w, paramPool, err)
		return nil, false
	}
	p, err := api.Factory.PoolByAddress(addr)
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return nil, false
	}
	return p, true
}

func (api *RestAPI) position(w http.ResponseWriter, r *http.Request) (*pool.Pool, uint64, bool) {
	p, ok := api.pool(w, r)
	if !ok {
		return nil, 0, false
	}
	id, err := parseUint64(mux.Vars(r)[paramPosition])
	if err != nil {
		api.rw.InvalidParamResponse(w, paramPosition, err)
		return nil, 0, false
	}
	return p, id, true
}

// poolCall resolves the pool and decodes the call request of a state changing pool endpoint.
func (api *RestAPI) poolCall(w http.ResponseWriter, r *http.Request) (*pool.Pool, *CallRequest, common.Address, bool) {
	p, ok := api.pool(w, r)
	if !ok {
		return nil, nil, common.Address{}, false
	}
	req, from, ok := api.callRequest(w, r)
	return p, req, from, ok
}

func (api *RestAPI) callRequest(w http.ResponseWriter, r *http.Request) (*CallRequest, common.Address, bool) {
	req := &CallRequest{}
	if !api.decodeRequest(w, r, req) {
		return nil, common.Address{}, false
	}
	from, err := ParseAddress(req.From)
	if err != nil {
		api.rw.InvalidParamResponse(w, "from", err)
		return nil, common.Address{}, false
	}
	return req, from, true
}

func (api *RestAPI) decodeRequest(w http.ResponseWriter, r *http.Request, req any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		api.rw.ErrorResponse(w, http.StatusBadRequest, fmt.Errorf("failed to decode request body: %w", err))
		return false
	}
	return true
}

func (api *RestAPI) writeResult(w http.ResponseWriter, render func(*pool.Info) *PoolResponse, p *pool.Pool, err error) {
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	api.rw.WriteResponse(w, render(p.Info()))
}

func positionResponse(p *pool.Pool, pos pool.Position) (*PositionResponse, error) {
	pending, err := p.PendingRewards(pos.ID)
	if err != nil {
		return nil, err
	}
	return &PositionResponse{
		ID:             pos.ID,
		Owner:          pos.Owner,
		Amount:         formatAmount(&pos.Amount),
		Claimed:        pos.Claimed,
		PendingRewards: formatAmount(pending),
		CreatedAt:      pos.CreatedAt,
	}, nil
}
