package types

import "errors"

// Failure kinds surfaced by the exchange core. Callers match with errors.Is;
// the returned errors wrap these with operation context.
var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrAlreadyRegistered   = errors.New("token already registered")
	ErrUnknownToken        = errors.New("unknown token")
	ErrInvalidSide         = errors.New("invalid side")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransferFailed      = errors.New("token transfer failed")
	// ErrTransferPending means a transfer was broadcast but its outcome is
	// not known yet. Withdrawals keep their debit and deposits are not
	// credited until the transfer settles.
	ErrTransferPending = errors.New("token transfer pending")

	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidPrice   = errors.New("invalid price")
	ErrInvalidSymbol  = errors.New("invalid symbol")
	ErrInvalidToken   = errors.New("invalid token")
	ErrAlreadyClaimed = errors.New("deposit already claimed")
	ErrClosed         = errors.New("exchange closed")
)

// Code returns the stable wire name of the failure kind wrapped by err, or
// "internal" when err carries none of the kinds above.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrAlreadyRegistered):
		return "already_registered"
	case errors.Is(err, ErrUnknownToken):
		return "unknown_token"
	case errors.Is(err, ErrInvalidSide):
		return "invalid_side"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrTransferPending):
		return "transfer_pending"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, ErrInvalidSymbol):
		return "invalid_symbol"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "internal"
	}
}
