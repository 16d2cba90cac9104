package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Node struct {
	// Owner is the only account allowed to register tokens.
	Owner       string
	APIAddr     string
	LogFile     string
	DataDir     string // pebble event journal lives under DataDir/events
	CORSOrigins []string
}

type P2P struct {
	// ListenAddr enables event gossip when set, e.g. /ip4/0.0.0.0/tcp/9000
	ListenAddr string
	Bootstrap  []string
}

// Chain configures custody against a real EVM chain. Empty RPCURL means
// devnet mode with in-process tokens.
type Chain struct {
	RPCURL     string
	ChainID    int64
	CustodyKey string            // hex private key of the custody account
	Tokens     map[string]string // symbol -> ERC-20 contract address
	// SettleInterval is how often transfers with an unknown outcome are
	// re-checked.
	SettleInterval time.Duration
}

type Dev struct {
	Tokens []string // memory tokens registered at genesis
	Faucet bool
}

type Config struct {
	Node  Node
	P2P   P2P
	Chain Chain
	Dev   Dev
}

func Default() Config {
	return Config{
		Node: Node{
			APIAddr: ":8080",
			LogFile: "data/node.log",
			DataDir: "data",
		},
		Chain: Chain{
			ChainID:        1337,
			Tokens:         map[string]string{},
			SettleInterval: 15 * time.Second,
		},
		Dev: Dev{
			Tokens: []string{"LINK", "USDC"},
			Faucet: true,
		},
	}
}

// ChainMode reports whether custody runs against a real chain.
func (c Config) ChainMode() bool { return c.Chain.RPCURL != "" }

// Validate checks the values the node cannot start without.
func (c Config) Validate() error {
	if !common.IsHexAddress(c.Node.Owner) {
		return fmt.Errorf("DEX_OWNER: %q is not an address", c.Node.Owner)
	}
	if !c.ChainMode() {
		return nil
	}
	if c.Chain.CustodyKey == "" {
		return fmt.Errorf("CUSTODY_KEY is required when CHAIN_RPC_URL is set")
	}
	for sym, addr := range c.Chain.Tokens {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("TOKENS: %s has invalid address %q", sym, addr)
		}
	}
	return nil
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Node.Owner = getEnv("DEX_OWNER", cfg.Node.Owner)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.Node.CORSOrigins = splitList(origins)
	}

	cfg.P2P.ListenAddr = getEnv("P2P_LISTEN", cfg.P2P.ListenAddr)
	if peers := os.Getenv("P2P_BOOTSTRAP"); peers != "" {
		cfg.P2P.Bootstrap = splitList(peers)
	}

	cfg.Chain.RPCURL = getEnv("CHAIN_RPC_URL", cfg.Chain.RPCURL)
	if id := os.Getenv("CHAIN_ID"); id != "" {
		if v, err := strconv.ParseInt(id, 10, 64); err == nil {
			cfg.Chain.ChainID = v
		}
	}
	cfg.Chain.CustodyKey = getEnv("CUSTODY_KEY", cfg.Chain.CustodyKey)
	if d := os.Getenv("SETTLE_INTERVAL"); d != "" {
		if v, err := time.ParseDuration(d); err == nil && v > 0 {
			cfg.Chain.SettleInterval = v
		}
	}
	// Example: "LINK=0x514910771AF9Ca656af840dff83E8264EcF986CA,USDC=0xA0b8..."
	if tokens := os.Getenv("TOKENS"); tokens != "" {
		cfg.Chain.Tokens = map[string]string{}
		for _, pair := range splitList(tokens) {
			sym, addr, ok := strings.Cut(pair, "=")
			if !ok {
				continue
			}
			cfg.Chain.Tokens[strings.TrimSpace(sym)] = strings.TrimSpace(addr)
		}
	}

	if tokens, ok := os.LookupEnv("DEV_TOKENS"); ok {
		cfg.Dev.Tokens = splitList(tokens)
	}
	if faucet := os.Getenv("DEV_FAUCET"); faucet != "" {
		cfg.Dev.Faucet = faucet == "true"
	}

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
