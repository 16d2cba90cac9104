package types

// EventKind names what an Event records.
type EventKind string

const (
	EventTokenRegistered EventKind = "token_registered"
	EventDeposit         EventKind = "deposit"
	EventDepositEth      EventKind = "deposit_eth"
	EventWithdraw        EventKind = "withdraw"
	EventOrderCreated    EventKind = "order_created"
)

// Event is the informational record published for indexers after a
// successful operation. Amounts are decimal strings.
type Event struct {
	Seq     uint64    `json:"seq"`
	Kind    EventKind `json:"kind"`
	Time    int64     `json:"time"` // unix millis
	Account string    `json:"account,omitempty"`
	Symbol  string    `json:"symbol,omitempty"`
	Side    string    `json:"side,omitempty"`
	OrderID uint64    `json:"orderId,omitempty"`
	Amount  string    `json:"amount,omitempty"`
	Price   string    `json:"price,omitempty"`
	Token   string    `json:"token,omitempty"`
	TxHash  string    `json:"txHash,omitempty"`
}
