package token

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/dexcore/pkg/app/core/ledger"
	"github.com/uhyunpark/dexcore/pkg/app/core/registry"
	"github.com/uhyunpark/dexcore/pkg/app/core/types"
	"github.com/uhyunpark/dexcore/pkg/util"
)

type fakeBackend struct {
	mu          sync.Mutex
	balance     *big.Int
	sent        []*ethtypes.Transaction
	pendingPoll int
	status      uint64
	estimateErr error
	receiptErr  error // returned by every receipt lookup when set
	lookups     int
}

func (f *fakeBackend) CallContract(_ context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return parsedERC20.Methods["balanceOf"].Outputs.Pack(f.balance)
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 60_000, f.estimateErr
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *ethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*ethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	if f.pendingPoll > 0 {
		f.pendingPoll--
		return nil, ethereum.NotFound
	}
	return &ethtypes.Receipt{Status: f.status}, nil
}

func (f *fakeBackend) set(fn func(*fakeBackend)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func newTestERC20(t *testing.T, be *fakeBackend) *ERC20 {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	tok, err := NewERC20(ERC20Config{
		Backend:        be,
		Address:        common.HexToAddress("0x514910771af9ca656af840dff83e8264ecf986ca"),
		CustodyKey:     key,
		ChainID:        big.NewInt(31337),
		Clock:          util.FixedClock{},
		PollInterval:   time.Second,
		ReceiptTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return tok
}

func TestERC20BalanceOf(t *testing.T) {
	be := &fakeBackend{balance: big.NewInt(42)}
	tok := newTestERC20(t, be)

	bal, err := tok.BalanceOf(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), bal.Uint64())
}

func TestERC20TransferWaitsForReceipt(t *testing.T) {
	be := &fakeBackend{pendingPoll: 3, status: ethtypes.ReceiptStatusSuccessful}
	tok := newTestERC20(t, be)

	require.NoError(t, tok.Transfer(context.Background(), bob, uint256.NewInt(5)))
	require.Len(t, be.sent, 1)
	assert.Equal(t, 0, be.pendingPoll)

	tx := be.sent[0]
	assert.Equal(t, tok.Address(), *tx.To())
	sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(big.NewInt(31337)), tx)
	require.NoError(t, err)
	assert.Equal(t, tok.Custody(), sender)
}

func TestERC20RevertedReceipt(t *testing.T) {
	be := &fakeBackend{status: ethtypes.ReceiptStatusFailed}
	tok := newTestERC20(t, be)

	err := tok.TransferFrom(context.Background(), alice, tok.Custody(), uint256.NewInt(5))
	require.ErrorIs(t, err, ErrReverted)
}

func TestERC20TransferFromRequiresCustody(t *testing.T) {
	be := &fakeBackend{status: ethtypes.ReceiptStatusSuccessful}
	tok := newTestERC20(t, be)

	err := tok.TransferFrom(context.Background(), alice, bob, uint256.NewInt(5))
	require.Error(t, err)
	assert.Empty(t, be.sent)
}

func TestERC20EstimateFailureSendsNothing(t *testing.T) {
	be := &fakeBackend{estimateErr: assert.AnError}
	tok := newTestERC20(t, be)

	err := tok.Transfer(context.Background(), bob, uint256.NewInt(1))
	require.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, be.sent)
}

func TestERC20ReceiptLookupFailureIsPending(t *testing.T) {
	reset := errors.New("rpc: connection reset")
	be := &fakeBackend{receiptErr: reset}
	tok := newTestERC20(t, be)

	err := tok.Transfer(context.Background(), bob, uint256.NewInt(5))
	require.ErrorIs(t, err, types.ErrTransferPending)
	require.ErrorIs(t, err, reset)
	assert.NotErrorIs(t, err, ErrReverted)

	var pt *types.PendingTransfer
	require.ErrorAs(t, err, &pt)
	require.Len(t, be.sent, 1)
	assert.Equal(t, be.sent[0].Hash().Hex(), pt.Ref)
	assert.Equal(t, 5, be.lookups, "lookups are retried until the receipt timeout")
}

func TestERC20ReceiptRecoversAfterTransientError(t *testing.T) {
	be := &fakeBackend{status: ethtypes.ReceiptStatusSuccessful}
	flaky := &flakyReceipts{fakeBackend: be, failures: 2}
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	tok, err := NewERC20(ERC20Config{
		Backend:    flaky,
		Address:    common.HexToAddress("0x514910771af9ca656af840dff83e8264ecf986ca"),
		CustodyKey: key,
		ChainID:    big.NewInt(31337),
		Clock:      util.FixedClock{},
	})
	require.NoError(t, err)

	require.NoError(t, tok.Transfer(context.Background(), bob, uint256.NewInt(1)))
	assert.Len(t, be.sent, 1)
}

// flakyReceipts fails the first few receipt lookups with a transport error.
type flakyReceipts struct {
	*fakeBackend
	failures int
}

func (f *flakyReceipts) TransactionReceipt(ctx context.Context, h common.Hash) (*ethtypes.Receipt, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("rpc: eof")
	}
	return f.fakeBackend.TransactionReceipt(ctx, h)
}

func TestERC20Confirm(t *testing.T) {
	be := &fakeBackend{pendingPoll: 1, status: ethtypes.ReceiptStatusFailed}
	tok := newTestERC20(t, be)
	ctx := context.Background()
	ref := common.HexToHash("0x01").Hex()

	settled, _, err := tok.Confirm(ctx, ref)
	require.NoError(t, err)
	assert.False(t, settled)

	settled, ok, err := tok.Confirm(ctx, ref)
	require.NoError(t, err)
	assert.True(t, settled)
	assert.False(t, ok)
}

func TestLedgerWithdrawKeepsDebitWhilePayoutPending(t *testing.T) {
	ctx := context.Background()
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	link := types.MustSymbol("LINK")

	be := &fakeBackend{status: ethtypes.ReceiptStatusSuccessful}
	tok := newTestERC20(t, be)
	reg := registry.New(owner)
	require.NoError(t, reg.Register(owner, link, tok))
	l := ledger.New(reg, tok.Custody())

	require.NoError(t, l.Deposit(ctx, alice, link, uint256.NewInt(100)))
	require.Equal(t, uint64(100), l.BalanceOf(alice, link).Uint64())

	be.set(func(f *fakeBackend) { f.receiptErr = errors.New("rpc: connection reset") })
	err := l.Withdraw(ctx, alice, link, uint256.NewInt(40))
	require.ErrorIs(t, err, types.ErrTransferPending)
	assert.NotErrorIs(t, err, types.ErrTransferFailed)
	assert.Equal(t, uint64(60), l.BalanceOf(alice, link).Uint64(), "broadcast payout must not be credited back")
	require.Len(t, l.Pending(), 1)

	// node still unreachable: nothing settles
	settled, err := l.Settle(ctx)
	require.Error(t, err)
	assert.Empty(t, settled)

	// payout turns out to have reverted: the debit is returned
	be.set(func(f *fakeBackend) {
		f.receiptErr = nil
		f.status = ethtypes.ReceiptStatusFailed
	})
	settled, err = l.Settle(ctx)
	require.NoError(t, err)
	require.Len(t, settled, 1)
	assert.False(t, settled[0].OK)
	assert.Equal(t, uint64(100), l.BalanceOf(alice, link).Uint64())
	assert.Empty(t, l.Pending())
}

func TestLedgerDepositCreditedOnceConfirmed(t *testing.T) {
	ctx := context.Background()
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	link := types.MustSymbol("LINK")

	be := &fakeBackend{receiptErr: errors.New("rpc: timeout"), status: ethtypes.ReceiptStatusSuccessful}
	tok := newTestERC20(t, be)
	reg := registry.New(owner)
	require.NoError(t, reg.Register(owner, link, tok))
	l := ledger.New(reg, tok.Custody())

	err := l.Deposit(ctx, alice, link, uint256.NewInt(25))
	require.ErrorIs(t, err, types.ErrTransferPending)
	assert.True(t, l.BalanceOf(alice, link).IsZero())

	be.set(func(f *fakeBackend) { f.receiptErr = nil })
	settled, err := l.Settle(ctx)
	require.NoError(t, err)
	require.Len(t, settled, 1)
	assert.True(t, settled[0].OK)
	assert.Equal(t, uint64(25), l.BalanceOf(alice, link).Uint64())
}
