package token

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/dexcore/pkg/app/core/types"
	"github.com/uhyunpark/dexcore/pkg/util"
)

const erc20ABI = `[
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var parsedERC20 abi.ABI

func init() {
	var err error
	parsedERC20, err = abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		panic(fmt.Sprintf("erc20 abi: %v", err))
	}
}

// ErrReverted is returned when a mined transfer transaction has failed status.
var ErrReverted = errors.New("transaction reverted")

// Backend is the subset of *ethclient.Client used by ERC20.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// ERC20 talks to a deployed token contract. Transfers are sent from the
// custody key and block until mined.
type ERC20 struct {
	backend Backend
	address common.Address
	key     *ecdsa.PrivateKey
	custody common.Address
	chainID *big.Int

	clock        util.Clock
	pollInterval time.Duration
	maxPolls     int
	log          *zap.SugaredLogger
}

var (
	_ types.Token     = (*ERC20)(nil)
	_ types.Confirmer = (*ERC20)(nil)
)

type ERC20Config struct {
	Backend      Backend
	Address      common.Address
	CustodyKey   *ecdsa.PrivateKey
	ChainID      *big.Int
	Clock        util.Clock
	PollInterval time.Duration
	// ReceiptTimeout bounds how long a broadcast transfer is polled before
	// it is reported as pending. Default 2m.
	ReceiptTimeout time.Duration
	Logger         *zap.SugaredLogger
}

func NewERC20(cfg ERC20Config) (*ERC20, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("erc20 %s: nil backend", cfg.Address.Hex())
	}
	if cfg.CustodyKey == nil {
		return nil, fmt.Errorf("erc20 %s: nil custody key", cfg.Address.Hex())
	}
	if cfg.ChainID == nil {
		return nil, fmt.Errorf("erc20 %s: nil chain id", cfg.Address.Hex())
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ReceiptTimeout == 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	maxPolls := int(cfg.ReceiptTimeout / cfg.PollInterval)
	if maxPolls < 1 {
		maxPolls = 1
	}
	return &ERC20{
		backend:      cfg.Backend,
		address:      cfg.Address,
		key:          cfg.CustodyKey,
		custody:      crypto.PubkeyToAddress(cfg.CustodyKey.PublicKey),
		chainID:      cfg.ChainID,
		clock:        cfg.Clock,
		pollInterval: cfg.PollInterval,
		maxPolls:     maxPolls,
		log:          cfg.Logger,
	}, nil
}

func (t *ERC20) Address() common.Address { return t.address }

// Custody returns the address holding deposited tokens.
func (t *ERC20) Custody() common.Address { return t.custody }

func (t *ERC20) BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error) {
	data, err := parsedERC20.Pack("balanceOf", owner)
	if err != nil {
		return nil, err
	}
	out, err := t.backend.CallContract(ctx, ethereum.CallMsg{To: &t.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf call: %w", err)
	}
	vals, err := parsedERC20.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("balanceOf decode: %w", err)
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("balanceOf decode: %d outputs", len(vals))
	}
	b, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf decode: unexpected %T", vals[0])
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("balanceOf decode: %s overflows uint256", b)
	}
	return v, nil
}

// TransferFrom pulls amount from `from` into `to`. `to` must be the custody
// address because only custody can spend the allowance it was granted.
func (t *ERC20) TransferFrom(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if to != t.custody {
		return fmt.Errorf("transferFrom recipient %s is not custody %s", to.Hex(), t.custody.Hex())
	}
	data, err := parsedERC20.Pack("transferFrom", from, to, amount.ToBig())
	if err != nil {
		return err
	}
	return t.send(ctx, "transferFrom", data)
}

func (t *ERC20) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error {
	data, err := parsedERC20.Pack("transfer", to, amount.ToBig())
	if err != nil {
		return err
	}
	return t.send(ctx, "transfer", data)
}

func (t *ERC20) send(ctx context.Context, method string, data []byte) error {
	nonce, err := t.backend.PendingNonceAt(ctx, t.custody)
	if err != nil {
		return fmt.Errorf("%s nonce: %w", method, err)
	}
	gasPrice, err := t.backend.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("%s gas price: %w", method, err)
	}
	// EstimateGas runs the call, so a transfer that would revert fails here
	// before anything is broadcast.
	gas, err := t.backend.EstimateGas(ctx, ethereum.CallMsg{From: t.custody, To: &t.address, Data: data})
	if err != nil {
		return fmt.Errorf("%s estimate: %w", method, err)
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &t.address,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(t.chainID), t.key)
	if err != nil {
		return fmt.Errorf("%s sign: %w", method, err)
	}
	if err := t.backend.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("%s send: %w", method, err)
	}
	t.log.Infow("erc20_tx_sent", "token", t.address.Hex(), "method", method, "tx", signed.Hash().Hex())

	// From here on the transaction may be mined, so nothing but a receipt
	// decides the outcome.
	receipt, err := t.waitMined(ctx, signed.Hash())
	if err != nil {
		t.log.Warnw("erc20_tx_pending", "token", t.address.Hex(), "method", method, "tx", signed.Hash().Hex(), "err", err)
		return &types.PendingTransfer{Ref: signed.Hash().Hex(), Err: err}
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return fmt.Errorf("%s %s: %w", method, signed.Hash().Hex(), ErrReverted)
	}
	return nil
}

// waitMined polls for the receipt. Lookup errors are retried like a missing
// receipt; it gives up after maxPolls attempts or when ctx is done.
func (t *ERC20) waitMined(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	var lastErr error
	for i := 0; i < t.maxPolls; i++ {
		receipt, err := t.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			t.log.Debugw("erc20_receipt_retry", "tx", hash.Hex(), "err", err)
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.clock.After(t.pollInterval):
		}
	}
	if lastErr == nil {
		lastErr = ethereum.NotFound
	}
	return nil, lastErr
}

// Confirm looks up the receipt of a pending transfer.
func (t *ERC20) Confirm(ctx context.Context, ref string) (settled, ok bool, err error) {
	receipt, err := t.backend.TransactionReceipt(ctx, common.HexToHash(ref))
	if errors.Is(err, ethereum.NotFound) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return true, receipt.Status == ethtypes.ReceiptStatusSuccessful, nil
}
