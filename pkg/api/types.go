package api

import "github.com/uhyunpark/dexcore/pkg/app/core/types"

// API request and response types for REST endpoints and WebSocket messages.
// Amounts and prices travel as decimal strings; they are 256-bit integers.

// ==============================
// Signed request payloads
// ==============================
//
// Every mutation arrives as crypto.Envelope{payload, signature}. The signer
// recovered from the signature is the caller. Nonce must exceed the last
// nonce accepted from that signer. Action must name the endpoint the
// envelope is posted to, so a signature is only good for one operation.

// Payload actions
const (
	ActionRegisterToken = "register_token"
	ActionDeposit       = "deposit"
	ActionDepositEth    = "deposit_eth"
	ActionWithdraw      = "withdraw"
	ActionCreateOrder   = "create_order"
)

// RegisterTokenPayload is the payload for POST /api/v1/tokens
type RegisterTokenPayload struct {
	Action string `json:"action"`
	Symbol string `json:"symbol"`
	Token  string `json:"token"` // contract address; ignored by devnet memory tokens
	Nonce  uint64 `json:"nonce"`
}

// DepositPayload is the payload for POST /api/v1/deposits
type DepositPayload struct {
	Action string `json:"action"`
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
	Nonce  uint64 `json:"nonce"`
}

// DepositEthPayload is the payload for POST /api/v1/deposits/eth.
// Dev nodes credit Amount as given. Chain nodes ignore Amount and credit the
// value TxHash paid into custody.
type DepositEthPayload struct {
	Action string `json:"action"`
	Amount string `json:"amount,omitempty"`
	TxHash string `json:"txHash,omitempty"`
	Nonce  uint64 `json:"nonce"`
}

// WithdrawPayload is the payload for POST /api/v1/withdrawals
type WithdrawPayload struct {
	Action string `json:"action"`
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
	Nonce  uint64 `json:"nonce"`
}

// OrderPayload is the payload for POST /api/v1/orders
type OrderPayload struct {
	Action string `json:"action"`
	Symbol string `json:"symbol"`
	Side   int64  `json:"side"` // 0 = BUY, 1 = SELL
	Amount string `json:"amount"`
	Price  string `json:"price"`
	Nonce  uint64 `json:"nonce"`
}

// FaucetRequest is the (unsigned, devnet only) body for POST /api/v1/dev/faucet
type FaucetRequest struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
	Amount  string `json:"amount"`
}

// ==============================
// REST Response Types
// ==============================

// TokenInfo is one registry entry
type TokenInfo struct {
	Symbol  string `json:"symbol"`
	Address string `json:"address"`
}

// AccountBalances lists every non-zero balance of an account
type AccountBalances struct {
	Address  string            `json:"address"`
	Balances map[string]string `json:"balances"` // symbol -> amount
}

// BalanceInfo is a single (account, symbol) balance
type BalanceInfo struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
	Balance string `json:"balance"`
}

// OrderInfo represents a resting limit order
type OrderInfo struct {
	ID        uint64 `json:"id"`
	Trader    string `json:"trader"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"` // "BUY" or "SELL"
	Amount    string `json:"amount"`
	Price     string `json:"price"`
	CreatedAt int64  `json:"createdAt"` // Unix milliseconds
}

// OrderbookSide is one side of a book in matching order
type OrderbookSide struct {
	Symbol string      `json:"symbol"`
	Side   string      `json:"side"`
	Orders []OrderInfo `json:"orders"` // index 0 is the best price
}

// OrderbookSnapshot represents aggregated depth
type OrderbookSnapshot struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`      // Sorted high to low
	Asks      []PriceLevel `json:"asks"`      // Sorted low to high
	Timestamp int64        `json:"timestamp"` // Unix milliseconds
}

// PriceLevel aggregates orders at one price
type PriceLevel struct {
	Price  string `json:"price"`
	Amount string `json:"amount"`
	Orders int    `json:"orders"`
}

// SubmitResponse acknowledges an applied mutation
type SubmitResponse struct {
	Status  string `json:"status"` // "ok"
	Account string `json:"account"`
	OrderID uint64 `json:"orderId,omitempty"`
	Amount  string `json:"amount,omitempty"` // credited by a native deposit claim
}

// EventsPage is a slice of the event journal
type EventsPage struct {
	Events []types.Event `json:"events"`
	Next   uint64        `json:"next"` // pass as ?from= to continue
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the envelope for every pushed message
type WSMessage struct {
	Type    string      `json:"type"`    // event kind, e.g. "order_created"
	Channel string      `json:"channel"` // e.g. "events", "orderbook:LINK", "account:0x..."
	Data    interface{} `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["events", "orderbook:LINK", "account:0x..."]
}
