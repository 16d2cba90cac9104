package token

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/dexcore/pkg/app/core/types"
)

type chainTx struct {
	tx      *ethtypes.Transaction
	pending bool
	status  uint64
}

// nativeChain serves transactions by hash.
type nativeChain struct {
	txs        map[common.Hash]chainTx
	receiptErr error
}

func (c *nativeChain) TransactionByHash(_ context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error) {
	ct, ok := c.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return ct.tx, ct.pending, nil
}

func (c *nativeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	if c.receiptErr != nil {
		return nil, c.receiptErr
	}
	return &ethtypes.Receipt{Status: c.txs[hash].status, TxHash: hash}, nil
}

func (c *nativeChain) pay(t *testing.T, to common.Address, wei int64, status uint64, pending bool) (common.Hash, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	tx, err := ethtypes.SignTx(
		ethtypes.NewTx(&ethtypes.LegacyTx{Nonce: 0, To: &to, Value: big.NewInt(wei), Gas: 21_000, GasPrice: big.NewInt(1)}),
		ethtypes.LatestSignerForChainID(big.NewInt(1337)),
		key,
	)
	require.NoError(t, err)
	c.txs[tx.Hash()] = chainTx{tx: tx, pending: pending, status: status}
	return tx.Hash(), crypto.PubkeyToAddress(key.PublicKey)
}

func TestNativeDepositsVerify(t *testing.T) {
	ctx := context.Background()
	chain := &nativeChain{txs: map[common.Hash]chainTx{}}
	v := NewNativeDeposits(chain, custody, big.NewInt(1337))

	good, sender := chain.pay(t, custody, 5_000, ethtypes.ReceiptStatusSuccessful, false)
	value, err := v.Verify(ctx, good, sender)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), value.Uint64())

	_, err = v.Verify(ctx, good, alice)
	require.ErrorIs(t, err, types.ErrUnauthorized)

	elsewhere, sender2 := chain.pay(t, bob, 5_000, ethtypes.ReceiptStatusSuccessful, false)
	_, err = v.Verify(ctx, elsewhere, sender2)
	require.ErrorIs(t, err, types.ErrInvalidAmount)

	empty, sender3 := chain.pay(t, custody, 0, ethtypes.ReceiptStatusSuccessful, false)
	_, err = v.Verify(ctx, empty, sender3)
	require.ErrorIs(t, err, types.ErrInvalidAmount)

	reverted, sender4 := chain.pay(t, custody, 10, ethtypes.ReceiptStatusFailed, false)
	_, err = v.Verify(ctx, reverted, sender4)
	require.ErrorIs(t, err, types.ErrTransferFailed)
	require.ErrorIs(t, err, ErrReverted)

	waiting, sender5 := chain.pay(t, custody, 10, ethtypes.ReceiptStatusSuccessful, true)
	_, err = v.Verify(ctx, waiting, sender5)
	require.ErrorIs(t, err, types.ErrTransferPending)

	_, err = v.Verify(ctx, common.HexToHash("0xdead"), sender)
	require.ErrorIs(t, err, types.ErrInvalidAmount)

	chain.receiptErr = errors.New("rpc timeout")
	_, err = v.Verify(ctx, good, sender)
	require.ErrorIs(t, err, types.ErrTransferPending)
}
