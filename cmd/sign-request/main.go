package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/uhyunpark/dexcore/pkg/api"
	"github.com/uhyunpark/dexcore/pkg/crypto"
)

// sign-request prints a signed request envelope ready for curl, e.g.
//
//	sign-request -key $KEY -type order -symbol LINK -side 0 -amount 10 -price 25 -nonce 3 |
//	    curl -d @- localhost:8080/api/v1/orders
func main() {
	keyHex := flag.String("key", os.Getenv("SIGNER_KEY"), "hex private key (generated when empty)")
	kind := flag.String("type", "order", "register | deposit | deposit-eth | withdraw | order")
	symbol := flag.String("symbol", "LINK", "token symbol")
	tokenAddr := flag.String("token", "", "token contract address (register)")
	amount := flag.String("amount", "1", "decimal amount")
	txHash := flag.String("tx", "", "hash of an ETH payment to custody (deposit-eth on chain nodes)")
	price := flag.String("price", "1", "decimal price (order)")
	side := flag.Int64("side", 0, "0 = BUY, 1 = SELL (order)")
	nonce := flag.Uint64("nonce", 1, "request nonce, must exceed the last accepted one")
	flag.Parse()

	signer, err := loadSigner(*keyHex)
	if err != nil {
		fail("key: %v", err)
	}
	if *keyHex == "" {
		fmt.Fprintf(os.Stderr, "Generated key for %s\nPrivate Key: %s (KEEP SECRET!)\n", signer.Address().Hex(), signer.PrivateKeyHex())
	}

	var payload any
	switch *kind {
	case "register":
		payload = api.RegisterTokenPayload{Action: api.ActionRegisterToken, Symbol: *symbol, Token: *tokenAddr, Nonce: *nonce}
	case "deposit":
		payload = api.DepositPayload{Action: api.ActionDeposit, Symbol: *symbol, Amount: *amount, Nonce: *nonce}
	case "deposit-eth":
		p := api.DepositEthPayload{Action: api.ActionDepositEth, TxHash: *txHash, Nonce: *nonce}
		if *txHash == "" {
			p.Amount = *amount
		}
		payload = p
	case "withdraw":
		payload = api.WithdrawPayload{Action: api.ActionWithdraw, Symbol: *symbol, Amount: *amount, Nonce: *nonce}
	case "order":
		payload = api.OrderPayload{Action: api.ActionCreateOrder, Symbol: *symbol, Side: *side, Amount: *amount, Price: *price, Nonce: *nonce}
	default:
		fail("unknown request type %q", *kind)
	}

	env, err := crypto.Seal(signer, payload)
	if err != nil {
		fail("sign: %v", err)
	}

	// Verify before printing
	recovered, err := env.Signer()
	if err != nil || recovered != signer.Address() {
		fail("signature does not recover to %s", signer.Address().Hex())
	}

	out, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		fail("marshal: %v", err)
	}
	fmt.Println(string(out))
}

func loadSigner(keyHex string) (*crypto.Signer, error) {
	if keyHex == "" {
		return crypto.GenerateKey()
	}
	return crypto.FromPrivateKeyHex(keyHex)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
