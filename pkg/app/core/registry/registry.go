package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/dexcore/pkg/app/core/types"
)

// Registry is the owner-controlled allow-list of tradable symbols.
// Entries are never removed.
type Registry struct {
	owner common.Address

	mu     sync.RWMutex
	tokens map[types.Symbol]types.Token
}

// Listing is one registry entry, for display.
type Listing struct {
	Symbol  types.Symbol
	Address common.Address
}

// New creates an empty registry administered by owner. The owner cannot be
// changed afterwards.
func New(owner common.Address) *Registry {
	return &Registry{
		owner:  owner,
		tokens: make(map[types.Symbol]types.Token),
	}
}

func (r *Registry) Owner() common.Address { return r.owner }

// Register adds symbol → token. Only the owner may register, and a symbol can
// be registered once. ETH is reserved for native currency.
func (r *Registry) Register(caller common.Address, symbol types.Symbol, token types.Token) error {
	if caller != r.owner {
		return fmt.Errorf("%w: %s is not the registry owner", types.ErrUnauthorized, caller.Hex())
	}
	if symbol.IsZero() {
		return fmt.Errorf("%w: empty symbol", types.ErrInvalidSymbol)
	}
	if symbol == types.ETH {
		return fmt.Errorf("%w: %s is the native currency", types.ErrAlreadyRegistered, symbol)
	}
	if token == nil {
		return fmt.Errorf("%w: cannot register %s with nil token", types.ErrInvalidToken, symbol)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[symbol]; exists {
		return fmt.Errorf("%w: %s", types.ErrAlreadyRegistered, symbol)
	}
	r.tokens[symbol] = token
	return nil
}

// IsRegistered reports whether symbol maps to an external token. Always false
// for ETH.
func (r *Registry) IsRegistered(symbol types.Symbol) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tokens[symbol]
	return ok
}

// IsTradable reports whether symbol is usable as an asset: registered, or ETH.
func (r *Registry) IsTradable(symbol types.Symbol) bool {
	return symbol == types.ETH || r.IsRegistered(symbol)
}

// Resolve returns the token handle for symbol.
func (r *Registry) Resolve(symbol types.Symbol) (types.Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	token, ok := r.tokens[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownToken, symbol)
	}
	return token, nil
}

// List returns all entries sorted by symbol.
func (r *Registry) List() []Listing {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Listing, 0, len(r.tokens))
	for sym, token := range r.tokens {
		out = append(out, Listing{Symbol: sym, Address: token.Address()})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Symbol.String() < out[j].Symbol.String()
	})
	return out
}

// Count returns the number of registered tokens.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}
