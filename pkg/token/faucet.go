package token

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/dexcore/pkg/app/core/types"
)

// Faucet mints devnet memory tokens and approves custody to pull them, so a
// funded account can deposit straight away.
type Faucet struct {
	custody common.Address

	mu     sync.RWMutex
	tokens map[types.Symbol]*Memory
}

func NewFaucet(custody common.Address) *Faucet {
	return &Faucet{custody: custody, tokens: make(map[types.Symbol]*Memory)}
}

// Add makes tok fundable under symbol.
func (f *Faucet) Add(symbol types.Symbol, tok *Memory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[symbol] = tok
}

// Fund mints amount to `to` and raises its custody allowance by the same amount.
func (f *Faucet) Fund(_ context.Context, symbol types.Symbol, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return fmt.Errorf("%w: faucet amount must be positive", types.ErrInvalidAmount)
	}
	f.mu.RLock()
	tok, ok := f.tokens[symbol]
	f.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s has no faucet", types.ErrUnknownToken, symbol)
	}

	if err := tok.Mint(to, amount); err != nil {
		return err
	}
	allowance, overflow := new(uint256.Int).AddOverflow(tok.Allowance(to, f.custody), amount)
	if overflow {
		allowance.SetAllOne() // unlimited approval
	}
	tok.Approve(to, f.custody, allowance)
	return nil
}
