package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/dexcore/pkg/app/core/ledger"
	"github.com/uhyunpark/dexcore/pkg/app/core/orderbook"
	"github.com/uhyunpark/dexcore/pkg/app/core/registry"
	"github.com/uhyunpark/dexcore/pkg/app/core/sequencer"
	"github.com/uhyunpark/dexcore/pkg/app/core/types"
	"github.com/uhyunpark/dexcore/pkg/metrics"
	"github.com/uhyunpark/dexcore/pkg/util"
)

// EventSink receives every event after the operation that produced it has
// been applied. Sink failures are logged and never undo the operation.
type EventSink interface {
	Publish(ctx context.Context, ev types.Event) error
}

// NativeVerifier checks an on-chain ETH payment into custody and returns its value.
type NativeVerifier interface {
	Verify(ctx context.Context, hash common.Hash, from common.Address) (*uint256.Int, error)
}

type Config struct {
	Owner   common.Address // registry owner, fixed for the life of the exchange
	Custody common.Address // holder of deposited tokens

	// Native enables ClaimEthDeposit. Claimed lists transactions already
	// credited by an earlier run.
	Native  NativeVerifier
	Claimed []common.Hash

	Clock  util.Clock
	Logger *zap.Logger
	Sinks  []EventSink

	// QueueSize is the sequencer admission buffer.
	QueueSize int
	// LastEventSeq resumes event numbering after an existing journal.
	LastEventSeq uint64
}

// Depth is the aggregated view of one symbol's book.
type Depth struct {
	Symbol types.Symbol
	Bids   []orderbook.PriceLevel
	Asks   []orderbook.PriceLevel
}

// Exchange admits deposits, withdrawals and limit orders. Every operation,
// reads included, runs on a single sequencer so each one sees the settled
// result of all earlier ones.
type Exchange struct {
	registry *registry.Registry
	ledger   *ledger.Ledger
	books    *orderbook.Books
	seq      *sequencer.Sequencer
	matcher  orderbook.Matcher

	sinks  []EventSink
	clock  util.Clock
	log    *zap.SugaredLogger
	native NativeVerifier

	// owned by the sequencer goroutine
	lastOrderID  uint64
	lastEventSeq uint64
	claimed      map[common.Hash]struct{}
}

func New(cfg Config) *Exchange {
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	reg := registry.New(cfg.Owner)
	claimed := make(map[common.Hash]struct{}, len(cfg.Claimed))
	for _, h := range cfg.Claimed {
		claimed[h] = struct{}{}
	}
	return &Exchange{
		registry:     reg,
		ledger:       ledger.New(reg, cfg.Custody),
		books:        orderbook.NewBooks(),
		seq:          sequencer.New(cfg.QueueSize),
		sinks:        cfg.Sinks,
		clock:        cfg.Clock,
		log:          cfg.Logger.Sugar().Named("exchange"),
		native:       cfg.Native,
		lastEventSeq: cfg.LastEventSeq,
		claimed:      claimed,
	}
}

func (e *Exchange) Owner() common.Address   { return e.registry.Owner() }
func (e *Exchange) Custody() common.Address { return e.ledger.Custody() }

// Close drains admitted operations. Later calls fail with types.ErrClosed.
func (e *Exchange) Close() { e.seq.Close() }

// AddSink attaches another event sink. Events already emitted are not replayed.
func (e *Exchange) AddSink(ctx context.Context, sink EventSink) error {
	return e.do(ctx, "add_sink", func(context.Context) error {
		e.sinks = append(e.sinks, sink)
		return nil
	})
}

// SetMatcher installs the crossing hook run after every order insert.
func (e *Exchange) SetMatcher(ctx context.Context, m orderbook.Matcher) error {
	return e.do(ctx, "set_matcher", func(context.Context) error {
		e.matcher = m
		return nil
	})
}

// Register lists symbol for trading. Only the owner may call it.
func (e *Exchange) Register(ctx context.Context, caller common.Address, symbol types.Symbol, token types.Token) error {
	return e.do(ctx, "register", func(ctx context.Context) error {
		if err := e.registry.Register(caller, symbol, token); err != nil {
			return err
		}
		e.log.Infow("token_registered", "symbol", symbol.String(), "token", token.Address().Hex())
		e.emit(ctx, types.Event{
			Kind:    types.EventTokenRegistered,
			Account: caller.Hex(),
			Symbol:  symbol.String(),
			Token:   token.Address().Hex(),
		})
		return nil
	})
}

func (e *Exchange) Deposit(ctx context.Context, caller common.Address, symbol types.Symbol, amount *uint256.Int) error {
	return e.do(ctx, "deposit", func(ctx context.Context) error {
		if err := e.ledger.Deposit(ctx, caller, symbol, amount); err != nil {
			e.logPending("deposit", err)
			return err
		}
		e.emit(ctx, types.Event{
			Kind:    types.EventDeposit,
			Account: caller.Hex(),
			Symbol:  symbol.String(),
			Amount:  amount.Dec(),
		})
		return nil
	})
}

// DepositEth credits native currency attached to the call. The amount is
// taken on trust, so only dev nodes expose it.
func (e *Exchange) DepositEth(ctx context.Context, caller common.Address, amount *uint256.Int) error {
	return e.do(ctx, "deposit_eth", func(ctx context.Context) error {
		if err := e.ledger.DepositEth(caller, amount); err != nil {
			return err
		}
		e.emit(ctx, types.Event{
			Kind:    types.EventDepositEth,
			Account: caller.Hex(),
			Symbol:  types.ETH.String(),
			Amount:  amount.Dec(),
		})
		return nil
	})
}

// VerifiesNative reports whether ClaimEthDeposit is available.
func (e *Exchange) VerifiesNative() bool { return e.native != nil }

// ClaimEthDeposit credits the ETH that transaction hash paid into custody.
// Each transaction is credited at most once, and only to its sender.
func (e *Exchange) ClaimEthDeposit(ctx context.Context, caller common.Address, hash common.Hash) (*uint256.Int, error) {
	var amount *uint256.Int
	err := e.do(ctx, "claim_eth_deposit", func(ctx context.Context) error {
		if e.native == nil {
			return fmt.Errorf("%w: native deposits are not verified by this node", types.ErrUnauthorized)
		}
		if _, ok := e.claimed[hash]; ok {
			return fmt.Errorf("%w: %s", types.ErrAlreadyClaimed, hash.Hex())
		}
		value, err := e.native.Verify(ctx, hash, caller)
		if err != nil {
			return err
		}
		if err := e.ledger.DepositEth(caller, value); err != nil {
			return err
		}
		e.claimed[hash] = struct{}{}
		amount = value
		e.emit(ctx, types.Event{
			Kind:    types.EventDepositEth,
			Account: caller.Hex(),
			Symbol:  types.ETH.String(),
			Amount:  value.Dec(),
			TxHash:  hash.Hex(),
		})
		return nil
	})
	return amount, err
}

func (e *Exchange) Withdraw(ctx context.Context, caller common.Address, symbol types.Symbol, amount *uint256.Int) error {
	return e.do(ctx, "withdraw", func(ctx context.Context) error {
		if err := e.ledger.Withdraw(ctx, caller, symbol, amount); err != nil {
			e.logPending("withdraw", err)
			return err
		}
		e.emit(ctx, types.Event{
			Kind:    types.EventWithdraw,
			Account: caller.Hex(),
			Symbol:  symbol.String(),
			Amount:  amount.Dec(),
		})
		return nil
	})
}

// Pending lists token transfers whose outcome is not known yet.
func (e *Exchange) Pending(ctx context.Context) ([]ledger.Pending, error) {
	var out []ledger.Pending
	err := e.do(ctx, "pending", func(context.Context) error {
		out = e.ledger.Pending()
		return nil
	})
	return out, err
}

// Settle resolves pending transfers. A confirmed deposit is credited and a
// confirmed withdrawal emitted; a reverted withdrawal is credited back.
func (e *Exchange) Settle(ctx context.Context) ([]ledger.Settlement, error) {
	var settled []ledger.Settlement
	err := e.do(ctx, "settle", func(ctx context.Context) error {
		var err error
		settled, err = e.ledger.Settle(ctx)
		for _, s := range settled {
			e.log.Infow("transfer_settled",
				"ref", s.Ref,
				"account", s.Account.Hex(),
				"symbol", s.Symbol.String(),
				"amount", s.Amount.Dec(),
				"ok", s.OK,
			)
			if !s.OK {
				continue
			}
			kind := types.EventDeposit
			if s.Direction == ledger.Outbound {
				kind = types.EventWithdraw
			}
			e.emit(ctx, types.Event{
				Kind:    kind,
				Account: s.Account.Hex(),
				Symbol:  s.Symbol.String(),
				Amount:  s.Amount.Dec(),
				TxHash:  s.Ref,
			})
		}
		return err
	})
	return settled, err
}

// BalanceOf returns the spendable balance. Unknown symbols read as zero.
func (e *Exchange) BalanceOf(ctx context.Context, account common.Address, symbol types.Symbol) (*uint256.Int, error) {
	var bal *uint256.Int
	err := e.do(ctx, "balance_of", func(context.Context) error {
		bal = e.ledger.BalanceOf(account, symbol)
		return nil
	})
	return bal, err
}

// Balances returns every non-zero balance of account.
func (e *Exchange) Balances(ctx context.Context, account common.Address) (map[types.Symbol]*uint256.Int, error) {
	var out map[types.Symbol]*uint256.Int
	err := e.do(ctx, "balances", func(context.Context) error {
		out = e.ledger.Balances(account)
		return nil
	})
	return out, err
}

// CreateLimitOrder reserves the funds backing the order and rests it in the
// book. BUY reserves amount×price ETH, SELL reserves amount of symbol.
// Returns the new order id.
func (e *Exchange) CreateLimitOrder(ctx context.Context, caller common.Address, symbol types.Symbol, side uint8, amount, price *uint256.Int) (uint64, error) {
	var id uint64
	err := e.do(ctx, "create_limit_order", func(ctx context.Context) error {
		s, err := types.ParseSide(side)
		if err != nil {
			return err
		}
		if !e.registry.IsRegistered(symbol) {
			return fmt.Errorf("%w: %s", types.ErrUnknownToken, symbol)
		}
		if amount == nil || amount.IsZero() {
			return fmt.Errorf("%w: order amount must be positive", types.ErrInvalidAmount)
		}
		if price == nil || price.IsZero() {
			return fmt.Errorf("%w: order price must be positive", types.ErrInvalidPrice)
		}

		order := types.Order{
			ID:        e.lastOrderID + 1,
			Trader:    caller,
			Side:      s,
			Symbol:    symbol,
			Amount:    amount.Clone(),
			Price:     price.Clone(),
			CreatedAt: e.clock.Now().UnixMilli(),
		}

		reserveSym, reserveAmt := symbol, amount
		if s == types.Buy {
			notional, overflow := order.Notional()
			if overflow {
				return fmt.Errorf("%w: %s * %s overflows", types.ErrInvalidAmount, amount.Dec(), price.Dec())
			}
			reserveSym, reserveAmt = types.ETH, notional
		}
		if err := e.ledger.Reserve(caller, reserveSym, reserveAmt); err != nil {
			return err
		}

		e.lastOrderID = order.ID
		book := e.books.Insert(order)
		id = order.ID

		metrics.OrdersCreated.WithLabelValues(symbol.String(), s.String()).Inc()
		metrics.BookDepth.WithLabelValues(symbol.String(), s.String()).Set(float64(book.Len(s)))
		e.log.Infow("order_created",
			"id", order.ID,
			"trader", caller.Hex(),
			"symbol", symbol.String(),
			"side", s.String(),
			"amount", amount.Dec(),
			"price", price.Dec(),
		)

		if e.matcher != nil {
			if err := e.matcher.Match(book); err != nil {
				e.log.Warnw("matcher_failed", "symbol", symbol.String(), "order", order.ID, "err", err)
			}
		}

		e.emit(ctx, types.Event{
			Kind:    types.EventOrderCreated,
			Account: caller.Hex(),
			Symbol:  symbol.String(),
			Side:    s.String(),
			OrderID: order.ID,
			Amount:  amount.Dec(),
			Price:   price.Dec(),
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetOrderBook returns one side of symbol's book in matching order.
func (e *Exchange) GetOrderBook(ctx context.Context, symbol types.Symbol, side uint8) ([]types.Order, error) {
	var out []types.Order
	err := e.do(ctx, "get_order_book", func(context.Context) error {
		s, err := types.ParseSide(side)
		if err != nil {
			return err
		}
		if !e.registry.IsRegistered(symbol) {
			return fmt.Errorf("%w: %s", types.ErrUnknownToken, symbol)
		}
		out = e.books.Query(symbol, s)
		return nil
	})
	return out, err
}

// Depth returns symbol's book aggregated by price level.
func (e *Exchange) Depth(ctx context.Context, symbol types.Symbol) (Depth, error) {
	d := Depth{Symbol: symbol}
	err := e.do(ctx, "depth", func(context.Context) error {
		if !e.registry.IsRegistered(symbol) {
			return fmt.Errorf("%w: %s", types.ErrUnknownToken, symbol)
		}
		if book := e.books.Book(symbol); book != nil {
			d.Bids = book.BidLevels()
			d.Asks = book.AskLevels()
		}
		return nil
	})
	return d, err
}

// Tokens lists registered symbols.
func (e *Exchange) Tokens(ctx context.Context) ([]registry.Listing, error) {
	var out []registry.Listing
	err := e.do(ctx, "tokens", func(context.Context) error {
		out = e.registry.List()
		return nil
	})
	return out, err
}

// Token resolves a registered symbol to its handle.
func (e *Exchange) Token(ctx context.Context, symbol types.Symbol) (types.Token, error) {
	var tok types.Token
	err := e.do(ctx, "token", func(context.Context) error {
		var err error
		tok, err = e.registry.Resolve(symbol)
		return err
	})
	return tok, err
}

// do runs fn on the sequencer. fn gets a context that is never cancelled:
// an admitted operation always runs to completion.
func (e *Exchange) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	detached := context.WithoutCancel(ctx)
	err := e.seq.Do(ctx, func() error { return fn(detached) })
	metrics.SequencerQueue.Set(float64(e.seq.Len()))
	if err != nil {
		metrics.OperationsRejected.WithLabelValues(op, types.Code(err)).Inc()
		e.log.Debugw("operation_rejected", "op", op, "err", err)
	}
	return err
}

func (e *Exchange) logPending(op string, err error) {
	var pt *types.PendingTransfer
	if errors.As(err, &pt) {
		e.log.Warnw("transfer_pending", "op", op, "ref", pt.Ref, "err", err)
	}
}

// emit numbers ev and hands it to every sink. Runs on the sequencer.
func (e *Exchange) emit(ctx context.Context, ev types.Event) {
	e.lastEventSeq++
	ev.Seq = e.lastEventSeq
	ev.Time = e.clock.Now().UnixMilli()

	for _, sink := range e.sinks {
		name := fmt.Sprintf("%T", sink)
		if err := sink.Publish(ctx, ev); err != nil {
			metrics.EventsPublished.WithLabelValues(name, "error").Inc()
			e.log.Warnw("event_publish_failed", "sink", name, "seq", ev.Seq, "kind", string(ev.Kind), "err", err)
			continue
		}
		metrics.EventsPublished.WithLabelValues(name, "ok").Inc()
	}
}
