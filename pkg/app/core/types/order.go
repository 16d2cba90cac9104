package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Order is a resting limit order. Amount is in units of Symbol, Price is ETH
// per unit.
type Order struct {
	ID        uint64
	Trader    common.Address
	Side      Side
	Symbol    Symbol
	Amount    *uint256.Int
	Price     *uint256.Int
	CreatedAt int64 // unix millis
}

// Clone returns a deep copy so callers cannot mutate book state.
func (o *Order) Clone() Order {
	cp := *o
	if o.Amount != nil {
		cp.Amount = o.Amount.Clone()
	}
	if o.Price != nil {
		cp.Price = o.Price.Clone()
	}
	return cp
}

// Notional returns amount × price and whether the product overflowed 256 bits.
func (o *Order) Notional() (*uint256.Int, bool) {
	return new(uint256.Int).MulOverflow(o.Amount, o.Price)
}
