package server

import (
	"errors"
	"net/http"

	"pynthchain/core"
	"pynthchain/native/collateral"
	nativecommon "pynthchain/native/common"
	"pynthchain/native/crosschain"
	"pynthchain/native/debtledger"
	"pynthchain/native/feepool"
	"pynthchain/native/issuer"
	"pynthchain/native/liquidations"
	"pynthchain/native/params"
	"pynthchain/native/staking"
)

var errBadRequest = errors.New("bad request")

var (
	conflictErrors = []error{
		nativecommon.ErrRateInvalid,
		issuer.ErrPynthExists,
		issuer.ErrPynthHasSupply,
		liquidations.ErrAlreadyFlagged,
		staking.ErrTokenExists,
		collateral.ErrLoanClosed,
		collateral.ErrRecentlyInteracted,
		crosschain.ErrReportConflict,
		feepool.ErrPeriodNotElapsed,
	}
	forbiddenErrors = []error{
		nativecommon.ErrUnauthorized,
		issuer.ErrSelfLiquidation,
		collateral.ErrUnknownCollateral,
		crosschain.ErrSelfNetwork,
		core.ErrPynthNotFundable,
	}
	unavailableErrors = []error{
		nativecommon.ErrSystemSuspended,
		nativecommon.ErrIssuanceSuspended,
		nativecommon.ErrSectionSuspended,
	}
	notFoundErrors = []error{
		core.ErrUnknownCollateralType,
		collateral.ErrLoanNotFound,
		issuer.ErrUnknownPynth,
		staking.ErrUnknownToken,
		crosschain.ErrUnknownNetwork,
		feepool.ErrPeriodOutOfRange,
		debtledger.ErrEntryOutOfRange,
	}
	badRequestErrors = []error{
		errBadRequest,
		issuer.ErrInvalidAmount,
		feepool.ErrInvalidAmount,
		collateral.ErrInvalidAmount,
		staking.ErrInvalidAmount,
		crosschain.ErrInvalidAmount,
		crosschain.ErrInvalidReport,
		debtledger.ErrInvalidAmount,
		params.ErrNegativeValue,
	}
)

// statusFor maps ledger errors onto HTTP statuses: stale or conflicting state
// 409, authorization 403, suspension 503, missing entities 404, malformed
// input 400 and every other economic rejection 422.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case matchesAny(err, badRequestErrors):
		return http.StatusBadRequest
	case matchesAny(err, unavailableErrors):
		return http.StatusServiceUnavailable
	case matchesAny(err, forbiddenErrors):
		return http.StatusForbidden
	case matchesAny(err, notFoundErrors):
		return http.StatusNotFound
	case matchesAny(err, conflictErrors):
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
