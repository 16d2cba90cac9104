package types

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Token is the handle to an external fungible-token contract. The exchange
// only pulls approved funds into custody and pays them back out; approve is
// called by the owner directly on the token.
type Token interface {
	Address() common.Address
	// TransferFrom moves amount from `from` to `to` using the allowance
	// `from` granted to `to`.
	TransferFrom(ctx context.Context, from, to common.Address, amount *uint256.Int) error
	// Transfer pays amount out of custody to `to`.
	Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error
	BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error)
}

// Confirmer is implemented by tokens whose transfers can end up pending.
// Confirm reports whether the transfer identified by ref has settled and, if
// so, whether it succeeded.
type Confirmer interface {
	Confirm(ctx context.Context, ref string) (settled, ok bool, err error)
}

// PendingTransfer is returned by a Token when a transfer was broadcast but
// its outcome could not be confirmed. It matches ErrTransferPending.
type PendingTransfer struct {
	Ref string // transaction hash
	Err error  // last error seen while waiting, may be nil
}

func (e *PendingTransfer) Error() string {
	if e.Err != nil {
		return "transfer " + e.Ref + " pending: " + e.Err.Error()
	}
	return "transfer " + e.Ref + " pending"
}

func (e *PendingTransfer) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrTransferPending, e.Err}
	}
	return []error{ErrTransferPending}
}
