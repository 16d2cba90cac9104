package main

import (
	"context"
	"fmt"
	"log"
	"maps"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/uhyunpark/dexcore/params"
	"github.com/uhyunpark/dexcore/pkg/api"
	"github.com/uhyunpark/dexcore/pkg/app/core/types"
	"github.com/uhyunpark/dexcore/pkg/app/exchange"
	"github.com/uhyunpark/dexcore/pkg/crypto"
	"github.com/uhyunpark/dexcore/pkg/p2p"
	"github.com/uhyunpark/dexcore/pkg/storage"
	"github.com/uhyunpark/dexcore/pkg/token"
	"github.com/uhyunpark/dexcore/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	logger, closeLog, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer closeLog()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	if err := cfg.Validate(); err != nil {
		sugar.Fatalw("invalid_config", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		sugar.Errorw("node_failed", "err", err)
		closeLog()
		os.Exit(1)
	}
	sugar.Info("node_stopped")
}

func run(ctx context.Context, cfg params.Config, logger *zap.Logger) error {
	sugar := logger.Sugar()

	// ---- Event journal ----
	store, err := storage.OpenEventStore(filepath.Join(cfg.Node.DataDir, "events"))
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer store.Close()
	sinks := []exchange.EventSink{store}

	// ---- Event gossip (optional) ----
	if cfg.P2P.ListenAddr != "" {
		gossip, err := p2p.NewGossip(ctx, p2p.GossipConfig{
			ListenAddr: cfg.P2P.ListenAddr,
			Bootstrap:  cfg.P2P.Bootstrap,
			Logger:     sugar.Named("p2p"),
		})
		if err != nil {
			return fmt.Errorf("libp2p: %w", err)
		}
		defer gossip.Close()
		gossip.OnEvent(func(_ context.Context, origin string, ev types.Event) {
			sugar.Debugw("remote_event", "origin", origin, "seq", ev.Seq, "kind", ev.Kind)
		})
		sugar.Infow("gossip_enabled", "addrs", gossip.Addrs())
		sinks = append(sinks, gossip)
	}

	// ---- Custody ----
	custodian, factory, faucet, native, err := custodySetup(ctx, cfg, sugar)
	if err != nil {
		return err
	}
	owner := common.HexToAddress(cfg.Node.Owner)

	exCfg := exchange.Config{
		Owner:        owner,
		Custody:      custodian.Address(),
		Logger:       logger,
		Sinks:        sinks,
		LastEventSeq: store.LastSeq(),
	}
	if native != nil {
		claimed, err := store.Claimed()
		if err != nil {
			return fmt.Errorf("load claimed deposits: %w", err)
		}
		exCfg.Native = native
		exCfg.Claimed = claimed
	}
	ex := exchange.New(exCfg)
	defer ex.Close()

	// ---- API Server ----
	srvCfg := api.Config{
		Exchange:     ex,
		Events:       store,
		TokenFactory: factory,
		Logger:       logger,
		CORSOrigins:  cfg.Node.CORSOrigins,
		DevDeposits:  !cfg.ChainMode(),
	}
	if faucet != nil {
		srvCfg.Faucet = faucet
	}
	server := api.NewServer(srvCfg)
	if err := ex.AddSink(ctx, server.Hub()); err != nil {
		return err
	}

	// ---- Genesis tokens ----
	if err := registerGenesis(ctx, cfg, ex, owner, factory); err != nil {
		return err
	}

	if cfg.ChainMode() {
		go settleLoop(ctx, ex, cfg.Chain.SettleInterval, sugar)
	}

	sugar.Infow("node_starting",
		"owner", owner.Hex(),
		"custody", custodian.Address().Hex(),
		"chain_mode", cfg.ChainMode(),
		"api", cfg.Node.APIAddr,
		"last_event_seq", store.LastSeq(),
	)
	return server.Run(ctx, cfg.Node.APIAddr)
}

// settleLoop periodically resolves token transfers whose outcome was unknown.
func settleLoop(ctx context.Context, ex *exchange.Exchange, every time.Duration, sugar *zap.SugaredLogger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		settled, err := ex.Settle(ctx)
		if err != nil {
			sugar.Warnw("settle_failed", "err", err)
		}
		if len(settled) > 0 {
			sugar.Infow("transfers_settled", "count", len(settled))
		}
	}
}

// custodySetup builds the custody signer and the token factory: ERC-20
// contracts plus native deposit checks in chain mode, memory tokens (plus
// faucet) otherwise.
func custodySetup(ctx context.Context, cfg params.Config, sugar *zap.SugaredLogger) (*crypto.Signer, api.TokenFactory, *token.Faucet, *token.NativeDeposits, error) {
	var custodian *crypto.Signer
	var err error
	if cfg.Chain.CustodyKey != "" {
		custodian, err = crypto.FromPrivateKeyHex(cfg.Chain.CustodyKey)
	} else {
		custodian, err = crypto.GenerateKey()
	}
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("custody key: %w", err)
	}

	if cfg.ChainMode() {
		client, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("dial %s: %w", cfg.Chain.RPCURL, err)
		}
		chainID := big.NewInt(cfg.Chain.ChainID)
		factory := func(symbol types.Symbol, address common.Address) (types.Token, error) {
			if address == (common.Address{}) {
				return nil, fmt.Errorf("%w: token address is required on chain", types.ErrInvalidToken)
			}
			return token.NewERC20(token.ERC20Config{
				Backend:    client,
				Address:    address,
				CustodyKey: custodian.PrivateKey(),
				ChainID:    chainID,
				Logger:     sugar.Named("erc20").With("symbol", symbol.String()),
			})
		}
		native := token.NewNativeDeposits(client, custodian.Address(), chainID)
		return custodian, factory, nil, native, nil
	}

	var faucet *token.Faucet
	if cfg.Dev.Faucet {
		faucet = token.NewFaucet(custodian.Address())
	}
	factory := func(symbol types.Symbol, _ common.Address) (types.Token, error) {
		tok := token.NewMemory(symbol.String(), custodian.Address())
		if faucet != nil {
			faucet.Add(symbol, tok)
		}
		return tok, nil
	}
	return custodian, factory, faucet, nil, nil
}

func registerGenesis(ctx context.Context, cfg params.Config, ex *exchange.Exchange, owner common.Address, factory api.TokenFactory) error {
	listing := map[string]common.Address{}
	if cfg.ChainMode() {
		for sym, addr := range cfg.Chain.Tokens {
			listing[sym] = common.HexToAddress(addr)
		}
	} else {
		for _, sym := range cfg.Dev.Tokens {
			listing[sym] = common.Address{}
		}
	}

	for _, name := range slices.Sorted(maps.Keys(listing)) {
		addr := listing[name]
		symbol, err := types.NewSymbol(name)
		if err != nil {
			return fmt.Errorf("genesis token %q: %w", name, err)
		}
		tok, err := factory(symbol, addr)
		if err != nil {
			return fmt.Errorf("genesis token %s: %w", name, err)
		}
		if err := ex.Register(ctx, owner, symbol, tok); err != nil {
			return fmt.Errorf("genesis token %s: %w", name, err)
		}
	}
	return nil
}
