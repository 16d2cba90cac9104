package types

import (
	"fmt"
	"strings"
)

// Side of a limit order. Values match the contract encoding (BUY=0, SELL=1).
type Side uint8

const (
	Buy  Side = 0
	Sell Side = 1
)

// ParseSide validates a raw side value. Anything outside {0, 1} is rejected,
// never coerced.
func ParseSide(v uint8) (Side, error) {
	switch Side(v) {
	case Buy, Sell:
		return Side(v), nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidSide, v)
	}
}

// ParseSideString accepts "buy", "sell", "0" or "1" (case-insensitive).
func ParseSideString(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "buy", "0":
		return Buy, nil
	case "sell", "1":
		return Sell, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidSide, s)
	}
}

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}
