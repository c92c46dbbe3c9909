package market

import "errors"

// Sentinel errors for the marketplace core. Operations wrap these with the
// offending context (song id, required vs supplied amount) so callers can
// self-correct without a second read; match with errors.Is.
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrSongNotFound        = errors.New("song not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrCapacityExceeded    = errors.New("capacity exceeded")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrArithmeticOverflow  = errors.New("arithmetic overflow")
	ErrTransferFailed      = errors.New("transfer failed")
	ErrMarketPaused        = errors.New("marketplace is paused")
	ErrReentrantCall       = errors.New("reentrant call rejected")
)

// ErrorKind maps an error to a stable label for metrics and API responses.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrSongNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrInsufficientPayment):
		return "insufficient_payment"
	case errors.Is(err, ErrArithmeticOverflow):
		return "arithmetic_overflow"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrMarketPaused):
		return "paused"
	case errors.Is(err, ErrReentrantCall):
		return "reentrant_call"
	default:
		return "internal"
	}
}
