package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/dexcore/pkg/app/core/registry"
	"github.com/uhyunpark/dexcore/pkg/app/core/types"
)

// Ledger tracks custodied balances per (account, symbol).
// Missing entries read as zero; balances never go negative or wrap.
type Ledger struct {
	registry *registry.Registry
	custody  common.Address

	mu       sync.RWMutex
	balances map[common.Address]map[types.Symbol]*uint256.Int
	pending  map[string]Pending // by transfer ref
}

// Direction of a pending transfer relative to custody.
type Direction uint8

const (
	Inbound  Direction = iota // deposit: credited once confirmed
	Outbound                  // withdrawal: already debited, credited back if it fails
)

// Pending is a token transfer that was broadcast without a known outcome.
type Pending struct {
	Ref       string
	Direction Direction
	Account   common.Address
	Symbol    types.Symbol
	Amount    *uint256.Int
}

// Settlement is a pending transfer whose outcome is now known.
type Settlement struct {
	Pending
	OK bool
}

// New creates a ledger whose token deposits are pulled into custody.
func New(reg *registry.Registry, custody common.Address) *Ledger {
	return &Ledger{
		registry: reg,
		custody:  custody,
		balances: make(map[common.Address]map[types.Symbol]*uint256.Int),
		pending:  make(map[string]Pending),
	}
}

// Custody returns the address that holds deposited tokens.
func (l *Ledger) Custody() common.Address { return l.custody }

// Deposit pulls amount of symbol from account into custody and credits it.
// Nothing is credited if the pull fails. A pull with unknown outcome is
// parked and credited by Settle once it confirms.
func (l *Ledger) Deposit(ctx context.Context, account common.Address, symbol types.Symbol, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("%w: deposit must be positive", types.ErrInvalidAmount)
	}
	token, err := l.registry.Resolve(symbol)
	if err != nil {
		return err
	}
	if err := l.checkHeadroom(account, symbol, amount); err != nil {
		return err
	}

	if err := token.TransferFrom(ctx, account, l.custody, amount); err != nil {
		if l.park(err, Inbound, account, symbol, amount) {
			return fmt.Errorf("deposit %s %s from %s: %w", amount.Dec(), symbol, account.Hex(), err)
		}
		return fmt.Errorf("%w: deposit %s %s from %s: %v", types.ErrTransferFailed, amount.Dec(), symbol, account.Hex(), err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.creditLocked(account, symbol, amount)
}

// DepositEth credits native currency that arrived with the call.
func (l *Ledger) DepositEth(account common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("%w: deposit must be positive", types.ErrInvalidAmount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.creditLocked(account, types.ETH, amount)
}

// Withdraw debits amount and sends it from custody back to account.
// If the outbound transfer definitely fails the debit is reverted; if its
// outcome is unknown the debit stands until Settle resolves it.
func (l *Ledger) Withdraw(ctx context.Context, account common.Address, symbol types.Symbol, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("%w: withdrawal must be positive", types.ErrInvalidAmount)
	}
	token, err := l.registry.Resolve(symbol)
	if err != nil {
		return err
	}
	if err := l.Reserve(account, symbol, amount); err != nil {
		return err
	}
	if err := token.Transfer(ctx, account, amount); err != nil {
		if l.park(err, Outbound, account, symbol, amount) {
			return fmt.Errorf("withdraw %s %s to %s: %w", amount.Dec(), symbol, account.Hex(), err)
		}
		if rerr := l.Release(account, symbol, amount); rerr != nil {
			return rerr
		}
		return fmt.Errorf("%w: withdraw %s %s to %s: %v", types.ErrTransferFailed, amount.Dec(), symbol, account.Hex(), err)
	}
	return nil
}

// Pending lists transfers waiting for confirmation.
func (l *Ledger) Pending() []Pending {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Pending, 0, len(l.pending))
	for _, p := range l.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out
}

// Settle asks each token about its pending transfers and applies the ones
// that have an outcome: confirmed deposits are credited, failed withdrawals
// are credited back. Unsettled transfers stay parked.
func (l *Ledger) Settle(ctx context.Context) ([]Settlement, error) {
	var settled []Settlement
	var errs []error
	for _, p := range l.Pending() {
		token, err := l.registry.Resolve(p.Symbol)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		confirmer, ok := token.(types.Confirmer)
		if !ok {
			continue
		}
		done, success, err := confirmer.Confirm(ctx, p.Ref)
		if err != nil {
			errs = append(errs, fmt.Errorf("confirm %s: %w", p.Ref, err))
			continue
		}
		if !done {
			continue
		}

		l.mu.Lock()
		if (p.Direction == Inbound) == success {
			err = l.creditLocked(p.Account, p.Symbol, p.Amount)
		}
		if err == nil {
			delete(l.pending, p.Ref)
		}
		l.mu.Unlock()
		if err != nil {
			errs = append(errs, fmt.Errorf("settle %s: %w", p.Ref, err))
			continue
		}
		settled = append(settled, Settlement{Pending: p, OK: success})
	}
	return settled, errors.Join(errs...)
}

// park records err's transfer as pending if err says the outcome is unknown.
func (l *Ledger) park(err error, dir Direction, account common.Address, symbol types.Symbol, amount *uint256.Int) bool {
	var pt *types.PendingTransfer
	if !errors.As(err, &pt) {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending[pt.Ref] = Pending{
		Ref:       pt.Ref,
		Direction: dir,
		Account:   account,
		Symbol:    symbol,
		Amount:    amount.Clone(),
	}
	return true
}

// Reserve debits amount immediately. There is no separate hold state.
func (l *Ledger) Reserve(account common.Address, symbol types.Symbol, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balanceLocked(account, symbol)
	if bal.Lt(amount) {
		return fmt.Errorf("%w: %s has %s %s, needs %s", types.ErrInsufficientBalance, account.Hex(), bal.Dec(), symbol, amount.Dec())
	}
	bal.Sub(bal, amount)
	return nil
}

// Release credits back a previous Reserve.
func (l *Ledger) Release(account common.Address, symbol types.Symbol, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.creditLocked(account, symbol, amount)
}

// BalanceOf returns a copy of the balance.
func (l *Ledger) BalanceOf(account common.Address, symbol types.Symbol) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if bal, ok := l.balances[account][symbol]; ok {
		return bal.Clone()
	}
	return new(uint256.Int)
}

// Balances returns copies of every non-zero balance held by account.
func (l *Ledger) Balances(account common.Address) map[types.Symbol]*uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[types.Symbol]*uint256.Int, len(l.balances[account]))
	for sym, bal := range l.balances[account] {
		if !bal.IsZero() {
			out[sym] = bal.Clone()
		}
	}
	return out
}

// checkHeadroom fails if crediting amount would overflow the balance.
func (l *Ledger) checkHeadroom(account common.Address, symbol types.Symbol, amount *uint256.Int) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	bal := new(uint256.Int)
	if b, ok := l.balances[account][symbol]; ok {
		bal = b
	}
	if _, overflow := new(uint256.Int).AddOverflow(bal, amount); overflow {
		return fmt.Errorf("%w: crediting %s %s to %s overflows", types.ErrInvalidAmount, amount.Dec(), symbol, account.Hex())
	}
	return nil
}

// creditLocked adds amount, leaving the balance untouched on overflow.
// Caller holds mu.
func (l *Ledger) creditLocked(account common.Address, symbol types.Symbol, amount *uint256.Int) error {
	bal := l.balanceLocked(account, symbol)
	sum, overflow := new(uint256.Int).AddOverflow(bal, amount)
	if overflow {
		return fmt.Errorf("%w: crediting %s %s to %s overflows", types.ErrInvalidAmount, amount.Dec(), symbol, account.Hex())
	}
	bal.Set(sum)
	return nil
}

func (l *Ledger) balanceLocked(account common.Address, symbol types.Symbol) *uint256.Int {
	byAccount, ok := l.balances[account]
	if !ok {
		byAccount = make(map[types.Symbol]*uint256.Int)
		l.balances[account] = byAccount
	}
	bal, ok := byAccount[symbol]
	if !ok {
		bal = new(uint256.Int)
		byAccount[symbol] = bal
	}
	return bal
}
