package types

import (
	"bytes"
	"fmt"
)

// Symbol is a fixed-width, zero-padded ticker (bytes32 on the wire).
type Symbol [32]byte

// ETH is the native-currency pseudo-symbol. It is never registered.
var ETH = MustSymbol("ETH")

// NewSymbol packs a ticker such as "LINK" into a Symbol.
func NewSymbol(s string) (Symbol, error) {
	var sym Symbol
	if s == "" {
		return sym, fmt.Errorf("%w: empty ticker", ErrInvalidSymbol)
	}
	if len(s) > len(sym) {
		return sym, fmt.Errorf("%w: ticker %q longer than %d bytes", ErrInvalidSymbol, s, len(sym))
	}
	if bytes.IndexByte([]byte(s), 0) >= 0 {
		return sym, fmt.Errorf("%w: ticker contains NUL", ErrInvalidSymbol)
	}
	copy(sym[:], s)
	return sym, nil
}

// MustSymbol is NewSymbol for constants and tests.
func MustSymbol(s string) Symbol {
	sym, err := NewSymbol(s)
	if err != nil {
		panic(err)
	}
	return sym
}

func (s Symbol) String() string {
	return string(bytes.TrimRight(s[:], "\x00"))
}

// IsZero reports whether the symbol is unset.
func (s Symbol) IsZero() bool {
	return s == Symbol{}
}

func (s Symbol) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Symbol) UnmarshalText(text []byte) error {
	sym, err := NewSymbol(string(text))
	if err != nil {
		return err
	}
	*s = sym
	return nil
}
