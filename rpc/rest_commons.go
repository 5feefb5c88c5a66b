package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/holiman/uint256"

	"github.com/alphabill-org/stakepool/deposit"
	"github.com/alphabill-org/stakepool/factory"
	"github.com/alphabill-org/stakepool/pool"
)

const (
	ContentType     = "Content-Type"
	ApplicationJson = "application/json"
)

type (
	ErrorResponse struct {
		Message string `json:"message"`
	}

	ResponseWriter struct {
		LogErr func(format string, args ...any)
	}
)

func (rw *ResponseWriter) logError(err error) {
	if rw.LogErr != nil {
		rw.LogErr("%v", err)
	}
}

func (rw *ResponseWriter) WriteResponse(w http.ResponseWriter, data any) {
	rw.writeJSON(w, http.StatusOK, data)
}

func (rw *ResponseWriter) WriteCreatedResponse(w http.ResponseWriter, data any) {
	rw.writeJSON(w, http.StatusCreated, data)
}

func (rw *ResponseWriter) writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set(ContentType, ApplicationJson)
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		rw.logError(fmt.Errorf("failed to encode response data as json: %w", err))
	}
}

// WriteErrorResponse maps pool errors to HTTP status codes. Unexpected errors are logged.
func (rw *ResponseWriter) WriteErrorResponse(w http.ResponseWriter, err error) {
	code := statusCode(err)
	if code == http.StatusInternalServerError {
		rw.logError(err)
	}
	rw.ErrorResponse(w, code, err)
}

func (rw *ResponseWriter) InvalidParamResponse(w http.ResponseWriter, name string, err error) {
	rw.ErrorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid parameter %q: %w", name, err))
}

func (rw *ResponseWriter) ErrorResponse(w http.ResponseWriter, code int, err error) {
	w.Header().Set(ContentType, ApplicationJson)
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Message: err.Error()}); err != nil {
		rw.logError(fmt.Errorf("failed to encode error response as json: %w", err))
	}
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, pool.ErrInvalidAmount),
		errors.Is(err, pool.ErrInvalidAddress),
		errors.Is(err, pool.ErrInvalidFeeRate),
		errors.Is(err, pool.ErrInvalidDepositData),
		errors.Is(err, pool.ErrDuplicateDeposit):
		return http.StatusBadRequest
	case errors.Is(err, pool.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, pool.ErrUnknownPosition),
		errors.Is(err, factory.ErrPoolNotFound):
		return http.StatusNotFound
	case errors.Is(err, pool.ErrPoolNotAccepting),
		errors.Is(err, pool.ErrPoolTerminated),
		errors.Is(err, pool.ErrWrongState),
		errors.Is(err, pool.ErrAlreadyClaimed),
		errors.Is(err, pool.ErrNoUnitsReady),
		errors.Is(err, pool.ErrInsufficientCapitalForDismissal):
		return http.StatusConflict
	case errors.Is(err, pool.ErrMetadataUnavailable):
		return http.StatusNotImplemented
	case errors.Is(err, deposit.ErrDepositRejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ParseAmount parses a decimal or 0x prefixed hex wei amount.
func ParseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("amount is required")
	}
	b, ok := math.ParseBig256(s)
	if !ok || b.Sign() < 0 {
		return nil, fmt.Errorf("%q is not a valid 256 bit amount", s)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("%q overflows 256 bits", s)
	}
	return v, nil
}

func ParseAddress(s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, fmt.Errorf("address is required")
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%q is not a hex encoded address", s)
	}
	return common.HexToAddress(s), nil
}

func parseUint64(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("parameter is required")
	}
	return strconv.ParseUint(s, 10, 64)
}

func formatAmount(v *uint256.Int) string {
	return v.ToBig().String()
}
