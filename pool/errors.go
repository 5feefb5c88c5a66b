package pool

import (
	"errors"

	"github.com/alphabill-org/stakepool/deposit"
)

var (
	ErrInvalidAmount                   = errors.New("invalid amount")
	ErrInvalidAddress                  = errors.New("invalid address")
	ErrInvalidFeeRate                  = errors.New("invalid fee rate")
	ErrPoolNotAccepting                = errors.New("pool is not accepting contributions")
	ErrPoolTerminated                  = errors.New("pool is terminated")
	ErrWrongState                      = errors.New("operation not allowed in current pool state")
	ErrUnauthorized                    = errors.New("unauthorized")
	ErrUnknownPosition                 = errors.New("unknown position")
	ErrAlreadyClaimed                  = errors.New("already claimed")
	ErrNoUnitsReady                    = errors.New("no deposit units ready")
	ErrInsufficientCapitalForDismissal = errors.New("insufficient capital for dismissal")
	ErrDuplicateDeposit                = errors.New("validator pubkey already used by this pool")
	ErrMetadataUnavailable             = errors.New("metadata renderer not configured")

	// ErrInvalidDepositData is returned for malformed validator credentials.
	ErrInvalidDepositData = deposit.ErrInvalidDepositData
)
