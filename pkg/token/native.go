package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/dexcore/pkg/app/core/types"
)

// NativeBackend is the subset of *ethclient.Client used by NativeDeposits.
type NativeBackend interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *ethtypes.Transaction, isPending bool, err error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// NativeDeposits checks that an on-chain transaction paid ETH into custody.
type NativeDeposits struct {
	backend NativeBackend
	custody common.Address
	signer  ethtypes.Signer
}

func NewNativeDeposits(backend NativeBackend, custody common.Address, chainID *big.Int) *NativeDeposits {
	return &NativeDeposits{
		backend: backend,
		custody: custody,
		signer:  ethtypes.LatestSignerForChainID(chainID),
	}
}

// Verify returns the value of transaction hash if it was mined successfully,
// sent by from and paid to custody.
func (n *NativeDeposits) Verify(ctx context.Context, hash common.Hash, from common.Address) (*uint256.Int, error) {
	tx, isPending, err := n.backend.TransactionByHash(ctx, hash)
	switch {
	case errors.Is(err, ethereum.NotFound):
		return nil, fmt.Errorf("%w: transaction %s not found", types.ErrInvalidAmount, hash.Hex())
	case err != nil:
		return nil, fmt.Errorf("%w: lookup %s: %v", types.ErrTransferPending, hash.Hex(), err)
	case isPending:
		return nil, fmt.Errorf("%w: %s is not mined yet", types.ErrTransferPending, hash.Hex())
	}

	if tx.To() == nil || *tx.To() != n.custody {
		return nil, fmt.Errorf("%w: %s does not pay custody %s", types.ErrInvalidAmount, hash.Hex(), n.custody.Hex())
	}
	sender, err := ethtypes.Sender(n.signer, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s sender: %v", types.ErrInvalidAmount, hash.Hex(), err)
	}
	if sender != from {
		return nil, fmt.Errorf("%w: %s was sent by %s", types.ErrUnauthorized, hash.Hex(), sender.Hex())
	}

	receipt, err := n.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("%w: receipt %s: %v", types.ErrTransferPending, hash.Hex(), err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: %s: %w", types.ErrTransferFailed, hash.Hex(), ErrReverted)
	}

	value, overflow := uint256.FromBig(tx.Value())
	if overflow || value.IsZero() {
		return nil, fmt.Errorf("%w: %s carries no value", types.ErrInvalidAmount, hash.Hex())
	}
	return value, nil
}
