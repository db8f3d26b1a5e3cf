package types

import "errors"

var (
	ErrInvalidDomain              = errors.New("invalid domain")
	ErrGatewayClosed              = errors.New("gateway closed")
	ErrInsufficientBalance        = errors.New("insufficient balance")
	ErrInsufficientAllowance      = errors.New("insufficient allowance")
	ErrNothingToFlush             = errors.New("nothing to flush")
	ErrBelowThreshold             = errors.New("below threshold")
	ErrDuplicateOrUnorderedSigner = errors.New("duplicate or unordered signer")
	ErrReplayedGUID               = errors.New("replayed guid")

	ErrNotAuthorized    = errors.New("not authorized")
	ErrInvalidParam     = errors.New("unrecognized param")
	ErrInvalidData      = errors.New("invalid data")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidGUID      = errors.New("invalid guid")
	ErrUnknownSigner    = errors.New("unknown signer")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidThreshold = errors.New("invalid threshold")
	ErrNotOperator      = errors.New("not receiver or operator")
	ErrFeeTooHigh       = errors.New("fee too high")
	ErrDebtUnderflow    = errors.New("settlement exceeds debt")
	ErrUnknownMessage   = errors.New("unknown message")
	ErrInvalidMessage   = errors.New("invalid message")
	ErrNotMinted        = errors.New("nothing pending to mint")
)

// IsRecoverable reports whether retrying the failed operation later may succeed
// without an operator changing configuration.
func IsRecoverable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrBelowThreshold),
		errors.Is(err, ErrNothingToFlush),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrInsufficientAllowance),
		errors.Is(err, ErrDuplicateOrUnorderedSigner):
		return true
	default:
		return false
	}
}
