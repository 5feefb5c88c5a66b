package rpc

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/stakepool/deposit"
	"github.com/alphabill-org/stakepool/factory"
	"github.com/alphabill-org/stakepool/funds"
	test "github.com/alphabill-org/stakepool/internal/testutils"
	testhttp "github.com/alphabill-org/stakepool/internal/testutils/http"
	"github.com/alphabill-org/stakepool/pool"
)

type testServer struct {
	url      string
	factory  *factory.Factory
	recorder *deposit.Recorder
	funds    *funds.Ledger
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	fl, err := funds.NewLedger(nil)
	require.NoError(t, err)
	rec := deposit.NewRecorder()
	f, err := factory.New(test.RandomAddress(), factory.WithPoolOptions(pool.WithRegistrar(rec), pool.WithPayer(fl)))
	require.NoError(t, err)
	srv := httptest.NewServer(NewRestAPI(f, fl).Router())
	t.Cleanup(srv.Close)
	return &testServer{url: srv.URL + "/api/v1", factory: f, recorder: rec, funds: fl}
}

func (s *testServer) createPool(t *testing.T, operator, feeRecipient common.Address, feeRate uint16) common.Address {
	t.Helper()
	res := &CreatePoolResponse{}
	httpRes := testhttp.DoPost(t, s.url+"/pools", &CreatePoolRequest{
		FeeRecipient: feeRecipient.Hex(),
		Operator:     operator.Hex(),
		FeeRate:      feeRate,
	}, res)
	require.Equal(t, http.StatusCreated, httpRes.StatusCode)
	return res.Address
}

func (s *testServer) poolURL(addr common.Address, path string) string {
	return fmt.Sprintf("%s/pools/%s%s", s.url, addr.Hex(), path)
}

func (s *testServer) call(t *testing.T, url string, req any, expectedCode int, res any) {
	t.Helper()
	httpRes := testhttp.DoPost(t, url, req, res)
	require.Equal(t, expectedCode, httpRes.StatusCode)
}

func depositDataFor(t *testing.T, s *testServer, addr common.Address) DepositData {
	t.Helper()
	wc := &WithdrawalCredentialsResponse{}
	testhttp.DoGet(t, s.poolURL(addr, "/withdrawal-credentials"), wc)
	return DepositData{
		PubKey:                test.RandomBytes(deposit.PubKeyLength),
		WithdrawalCredentials: wc.WithdrawalCredentials,
		Signature:             test.RandomBytes(deposit.SignatureLength),
		DepositDataRoot:       test.RandomBytes(deposit.DepositDataRootLength),
	}
}

func TestRestAPI_PoolLifecycle(t *testing.T) {
	s := startServer(t)
	operator := test.RandomAddress()
	feeRecipient := test.RandomAddress()
	alice := test.RandomAddress()
	bob := test.RandomAddress()
	carol := test.RandomAddress()

	addr := s.createPool(t, operator, feeRecipient, 1000)

	info := &InfoResponse{}
	testhttp.DoGet(t, s.url+"/info", info)
	require.Equal(t, s.factory.Address(), info.Factory)
	require.EqualValues(t, 1, info.Pools)

	list := &PoolListResponse{}
	testhttp.DoGet(t, s.url+"/pools", list)
	require.Equal(t, []common.Address{addr}, list.Pools)

	byIndex := &PoolResponse{}
	testhttp.DoGet(t, s.url+"/pools/index/0", byIndex)
	require.Equal(t, addr, byIndex.Address)
	require.Equal(t, pool.Open, byIndex.State)
	require.Equal(t, "32000000000000000000", byIndex.UnitSize)

	// contributions
	part := &ParticipateResponse{}
	s.call(t, s.poolURL(addr, "/participate"), &CallRequest{From: alice.Hex(), Amount: "24000000000000000000"}, http.StatusOK, part)
	require.EqualValues(t, 1, part.PositionID)
	s.call(t, s.poolURL(addr, "/participate"), &CallRequest{From: bob.Hex(), Amount: "0x6f05b59d3b200000"}, http.StatusOK, part)
	require.EqualValues(t, 2, part.PositionID)

	// only the operator dispatches
	dispatchRes := &DispatchResponse{}
	errRes := &ErrorResponse{}
	req := &DispatchRequest{From: alice.Hex(), Deposits: []DepositData{depositDataFor(t, s, addr)}}
	s.call(t, s.poolURL(addr, "/dispatch"), req, http.StatusForbidden, errRes)
	require.Contains(t, errRes.Message, "unauthorized")

	req.From = operator.Hex()
	s.call(t, s.poolURL(addr, "/dispatch"), req, http.StatusOK, dispatchRes)
	require.Equal(t, 1, dispatchRes.Dispatched)
	require.EqualValues(t, 1, s.recorder.Count())

	deposits := &DepositListResponse{}
	testhttp.DoGet(t, s.poolURL(addr, "/deposits"), deposits)
	require.Len(t, deposits.Deposits, 1)
	require.EqualValues(t, req.Deposits[0].PubKey, deposits.Deposits[0].PubKey)

	// nothing left to dispatch
	s.call(t, s.poolURL(addr, "/dispatch"), req, http.StatusConflict, errRes)

	// rewards
	poolRes := &PoolResponse{}
	s.call(t, s.poolURL(addr, "/receive"), &CallRequest{Amount: "1000000000000000000"}, http.StatusOK, poolRes)
	require.Equal(t, pool.Active, poolRes.State)
	require.Equal(t, "1000000000000000000", poolRes.Balance)

	dist := &DistributionResponse{}
	s.call(t, s.poolURL(addr, "/distribute-rewards"), &CallRequest{From: operator.Hex()}, http.StatusOK, dist)
	require.Equal(t, "1000000000000000000", dist.Reward)
	require.Equal(t, "100000000000000000", dist.Fee)
	require.Equal(t, "900000000000000000", dist.Credited)
	require.Equal(t, "28125000000000000", dist.RewardPerShare)

	position := &PositionResponse{}
	testhttp.DoGet(t, s.poolURL(addr, "/positions/2"), position)
	require.Equal(t, bob, position.Owner)
	require.Equal(t, "8000000000000000000", position.Amount)
	require.Equal(t, "225000000000000000", position.PendingRewards)

	payout := &PayoutResponse{}
	s.call(t, s.poolURL(addr, "/positions/1/claim-rewards"), &CallRequest{From: bob.Hex()}, http.StatusForbidden, errRes)
	s.call(t, s.poolURL(addr, "/positions/1/claim-rewards"), &CallRequest{From: alice.Hex()}, http.StatusOK, payout)
	require.Equal(t, alice, payout.Recipient)
	require.Equal(t, "675000000000000000", payout.Rewards)
	require.Equal(t, "0", payout.Principal)
	s.call(t, s.poolURL(addr, "/positions/1/claim-rewards"), &CallRequest{From: alice.Hex()}, http.StatusConflict, errRes)

	balance := &BalanceResponse{}
	testhttp.DoGet(t, fmt.Sprintf("%s/accounts/%s/balance", s.url, alice.Hex()), balance)
	require.Equal(t, "675000000000000000", balance.Balance)
	testhttp.DoGet(t, fmt.Sprintf("%s/accounts/%s/balance", s.url, feeRecipient.Hex()), balance)
	require.Equal(t, "100000000000000000", balance.Balance)

	// position transfer
	s.call(t, s.poolURL(addr, "/positions/2/transfer"), &CallRequest{From: bob.Hex(), To: carol.Hex()}, http.StatusOK, position)
	require.Equal(t, carol, position.Owner)
	positions := &PositionListResponse{}
	testhttp.DoGet(t, s.poolURL(addr, "/positions?owner="+carol.Hex()), positions)
	require.Len(t, positions.Positions, 1)
	require.EqualValues(t, 2, positions.Positions[0].ID)
	testhttp.DoGet(t, s.poolURL(addr, "/positions?owner="+bob.Hex()), positions)
	require.Empty(t, positions.Positions)

	royalty := &RoyaltyResponse{}
	testhttp.DoGet(t, s.poolURL(addr, "/positions/2/royalty?salePrice=1000000000000000000"), royalty)
	require.Equal(t, feeRecipient, royalty.Receiver)
	require.Equal(t, "100000000000000000", royalty.Amount)

	httpRes := testhttp.DoGet(t, s.poolURL(addr, "/positions/2/token-uri"), errRes)
	require.Equal(t, http.StatusNotImplemented, httpRes.StatusCode)

	// dismissal needs the staked capital back in the pool
	s.call(t, s.poolURL(addr, "/dismiss"), &CallRequest{From: operator.Hex(), Amount: "32000000000000000000"}, http.StatusConflict, errRes)
	require.Contains(t, errRes.Message, "shortfall")
	s.call(t, s.poolURL(addr, "/receive-withdrawal"), &CallRequest{Amount: "32000000000000000001"}, http.StatusBadRequest, errRes)
	require.Contains(t, errRes.Message, "exceed dispatched principal")
	s.call(t, s.poolURL(addr, "/receive-withdrawal"), &CallRequest{Amount: "32000000000000000000"}, http.StatusOK, poolRes)
	require.Equal(t, "32000000000000000000", poolRes.ReturnedPrincipal)
	// returned principal is not a reward
	s.call(t, s.poolURL(addr, "/distribute-rewards"), &CallRequest{From: operator.Hex()}, http.StatusOK, dist)
	require.Equal(t, "0", dist.Reward)
	require.Equal(t, "0", dist.Fee)
	testhttp.DoGet(t, fmt.Sprintf("%s/accounts/%s/balance", s.url, feeRecipient.Hex()), balance)
	require.Equal(t, "100000000000000000", balance.Balance)
	s.call(t, s.poolURL(addr, "/dismiss"), &CallRequest{From: operator.Hex(), Amount: "32000000000000000000"}, http.StatusOK, poolRes)
	require.Equal(t, pool.Dismissed, poolRes.State)

	s.call(t, s.poolURL(addr, "/positions/2/exit-failed"), &CallRequest{From: carol.Hex()}, http.StatusConflict, errRes)
	s.call(t, s.poolURL(addr, "/positions/2/exit-dismissed"), &CallRequest{From: carol.Hex()}, http.StatusOK, payout)
	require.Equal(t, "8000000000000000000", payout.Principal)
	require.Equal(t, "225000000000000000", payout.Rewards)
	require.Equal(t, "8225000000000000000", payout.Total)
	s.call(t, s.poolURL(addr, "/positions/1/exit-dismissed"), &CallRequest{From: alice.Hex()}, http.StatusOK, payout)
	require.Equal(t, "24000000000000000000", payout.Principal)
	s.call(t, s.poolURL(addr, "/positions/1/exit-dismissed"), &CallRequest{From: alice.Hex()}, http.StatusConflict, errRes)

	s.call(t, s.poolURL(addr, "/participate"), &CallRequest{From: alice.Hex(), Amount: "1"}, http.StatusConflict, errRes)
	testhttp.DoGet(t, s.poolURL(addr, ""), poolRes)
	require.Equal(t, "0", poolRes.Balance)
}

func TestRestAPI_FailPool(t *testing.T) {
	s := startServer(t)
	operator := test.RandomAddress()
	alice := test.RandomAddress()
	addr := s.createPool(t, operator, test.RandomAddress(), 0)

	s.call(t, s.poolURL(addr, "/participate"), &CallRequest{From: alice.Hex(), Amount: "5000000000000000000"}, http.StatusOK, &ParticipateResponse{})

	errRes := &ErrorResponse{}
	s.call(t, s.poolURL(addr, "/fail"), &CallRequest{From: alice.Hex()}, http.StatusForbidden, errRes)
	poolRes := &PoolResponse{}
	s.call(t, s.poolURL(addr, "/fail"), &CallRequest{From: operator.Hex()}, http.StatusOK, poolRes)
	require.Equal(t, pool.Failed, poolRes.State)
	require.Equal(t, "5000000000000000000", poolRes.SettlementPool)

	payout := &PayoutResponse{}
	s.call(t, s.poolURL(addr, "/positions/1/exit-failed"), &CallRequest{From: alice.Hex()}, http.StatusOK, payout)
	require.Equal(t, "5000000000000000000", payout.Total)
	require.Equal(t, "5000000000000000000", s.funds.BalanceOf(alice).ToBig().String())
}

func TestRestAPI_CreatePoolOptions(t *testing.T) {
	s := startServer(t)
	monitor := test.RandomAddress()
	res := &CreatePoolResponse{}
	httpRes := testhttp.DoPost(t, s.url+"/pools", &CreatePoolRequest{
		FeeRecipient:      test.RandomAddress().Hex(),
		Operator:          test.RandomAddress().Hex(),
		FeeRate:           250,
		Monitor:           monitor.Hex(),
		UnitSize:          "1000000000000000000",
		RequireActivation: true,
	}, res)
	require.Equal(t, http.StatusCreated, httpRes.StatusCode)
	require.EqualValues(t, 0, res.Index)

	second := &CreatePoolResponse{}
	httpRes = testhttp.DoPost(t, s.url+"/pools", &CreatePoolRequest{
		FeeRecipient: test.RandomAddress().Hex(),
		Operator:     test.RandomAddress().Hex(),
	}, second)
	require.Equal(t, http.StatusCreated, httpRes.StatusCode)
	require.EqualValues(t, 1, second.Index)
	byIndex := &PoolResponse{}
	testhttp.DoGet(t, s.url+"/pools/index/1", byIndex)
	require.Equal(t, second.Address, byIndex.Address)

	poolRes := &PoolResponse{}
	testhttp.DoGet(t, s.poolURL(res.Address, ""), poolRes)
	require.Equal(t, monitor, poolRes.Monitor)
	require.Equal(t, "1000000000000000000", poolRes.UnitSize)
	require.True(t, poolRes.RequireActivation)
	require.EqualValues(t, 250, poolRes.FeeRate)

	// the monitor may fail the pool
	s.call(t, s.poolURL(res.Address, "/fail"), &CallRequest{From: monitor.Hex()}, http.StatusOK, poolRes)
	require.Equal(t, pool.Failed, poolRes.State)

	errRes := &ErrorResponse{}
	httpRes = testhttp.DoPost(t, s.url+"/pools", &CreatePoolRequest{
		FeeRecipient: test.RandomAddress().Hex(),
		Operator:     test.RandomAddress().Hex(),
		FeeRate:      pool.MaxFeeRate + 1,
	}, errRes)
	require.Equal(t, http.StatusBadRequest, httpRes.StatusCode)
	require.Contains(t, errRes.Message, "fee rate")
}

func TestRestAPI_InvalidRequests(t *testing.T) {
	s := startServer(t)
	operator := test.RandomAddress()
	addr := s.createPool(t, operator, test.RandomAddress(), 0)

	tests := []struct {
		name string
		url  string
		body any
		code int
		msg  string
	}{
		{name: "unknown pool", url: s.poolURL(test.RandomAddress(), ""), code: http.StatusNotFound, msg: "pool not found"},
		{name: "invalid pool address", url: s.url + "/pools/0x1234", code: http.StatusBadRequest, msg: `invalid parameter "pool"`},
		{name: "pool index out of range", url: s.url + "/pools/index/5", code: http.StatusNotFound},
		{name: "invalid pool index", url: s.url + "/pools/index/abc", code: http.StatusBadRequest},
		{name: "unknown position", url: s.poolURL(addr, "/positions/7"), code: http.StatusNotFound},
		{name: "missing owner", url: s.poolURL(addr, "/positions"), code: http.StatusBadRequest, msg: `invalid parameter "owner"`},
		{name: "invalid amount", url: s.poolURL(addr, "/participate"), body: &CallRequest{From: operator.Hex(), Amount: "one"}, code: http.StatusBadRequest, msg: `invalid parameter "amount"`},
		{name: "zero amount", url: s.poolURL(addr, "/participate"), body: &CallRequest{From: operator.Hex(), Amount: "0"}, code: http.StatusBadRequest, msg: "invalid amount"},
		{name: "missing caller", url: s.poolURL(addr, "/top-up"), body: &CallRequest{Amount: "1"}, code: http.StatusBadRequest, msg: `invalid parameter "from"`},
		{name: "unknown field", url: s.poolURL(addr, "/participate"), body: map[string]string{"from": operator.Hex(), "value": "1"}, code: http.StatusBadRequest, msg: "unknown field"},
		{name: "nothing to dispatch", url: s.poolURL(addr, "/dispatch"), body: &DispatchRequest{From: operator.Hex(), Deposits: []DepositData{{}}}, code: http.StatusConflict},
		{name: "rewards before activation", url: s.poolURL(addr, "/distribute-rewards"), body: &CallRequest{From: operator.Hex()}, code: http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errRes := &ErrorResponse{}
			var httpRes *http.Response
			if tt.body == nil {
				httpRes = testhttp.DoGet(t, tt.url, errRes)
			} else {
				httpRes = testhttp.DoPost(t, tt.url, tt.body, errRes)
			}
			require.Equal(t, tt.code, httpRes.StatusCode)
			require.Equal(t, ApplicationJson, httpRes.Header.Get(ContentType))
			require.NotEmpty(t, errRes.Message)
			require.Contains(t, errRes.Message, tt.msg)
		})
	}
}

func TestRestAPI_MalformedBody(t *testing.T) {
	s := startServer(t)
	addr := s.createPool(t, test.RandomAddress(), test.RandomAddress(), 0)
	res, err := http.Post(s.poolURL(addr, "/participate"), ApplicationJson, bytes.NewBufferString("{"))
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestRestAPI_CORS(t *testing.T) {
	s := startServer(t)
	req, err := http.NewRequest(http.MethodOptions, s.url+"/pools", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", ContentType)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
}

func TestStatusCode(t *testing.T) {
	require.Equal(t, http.StatusBadGateway, statusCode(fmt.Errorf("registering validator: %w", deposit.ErrDepositRejected)))
	require.Equal(t, http.StatusInternalServerError, statusCode(fmt.Errorf("boom")))
	require.Equal(t, http.StatusBadRequest, statusCode(pool.ErrInvalidDepositData))
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("0x10")
	require.NoError(t, err)
	require.EqualValues(t, 16, v.Uint64())
	v, err = ParseAmount("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	require.NoError(t, err)
	require.Equal(t, hexutil.EncodeBig(v.ToBig()), "0x"+string(bytes.Repeat([]byte("f"), 64)))
	_, err = ParseAmount("115792089237316195423570985008687907853269984665640564039457584007913129639936")
	require.Error(t, err)
	_, err = ParseAmount("-1")
	require.Error(t, err)
	_, err = ParseAmount("")
	require.ErrorContains(t, err, "required")
}
