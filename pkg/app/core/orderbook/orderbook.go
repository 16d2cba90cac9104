package orderbook

import (
	"sort"
	"sync"

	"github.com/holiman/uint256"
	"github.com/tidwall/btree"

	"github.com/uhyunpark/dexcore/pkg/app/core/types"
)

// PriceLevel aggregates resting orders at one price.
type PriceLevel struct {
	Price  *uint256.Int
	Amount *uint256.Int // total amount at this price
	Orders int
}

// Matcher crosses resting orders. It runs after every insert; none ships
// with the core.
type Matcher interface {
	Match(book *OrderBook) error
}

type entry struct {
	seq   uint64
	order types.Order
}

// side is one half of a book kept in matching order.
type side struct {
	tree    *btree.BTreeG[*entry]
	nextSeq uint64
}

// bids: highest price first. Equal prices keep arrival order.
func bidLess(a, b *entry) bool {
	if c := a.order.Price.Cmp(b.order.Price); c != 0 {
		return c > 0
	}
	return a.seq < b.seq
}

// asks: lowest price first. Equal prices keep arrival order.
func askLess(a, b *entry) bool {
	if c := a.order.Price.Cmp(b.order.Price); c != 0 {
		return c < 0
	}
	return a.seq < b.seq
}

func newSide(less func(a, b *entry) bool) *side {
	return &side{tree: btree.NewBTreeG[*entry](less)}
}

func (s *side) insert(o types.Order) {
	s.nextSeq++
	s.tree.Set(&entry{seq: s.nextSeq, order: o})
}

func (s *side) snapshot() []types.Order {
	out := make([]types.Order, 0, s.tree.Len())
	s.tree.Scan(func(e *entry) bool {
		out = append(out, e.order.Clone())
		return true
	})
	return out
}

func (s *side) levels() []PriceLevel {
	var levels []PriceLevel
	s.tree.Scan(func(e *entry) bool {
		n := len(levels)
		if n > 0 && levels[n-1].Price.Eq(e.order.Price) {
			levels[n-1].Amount.Add(levels[n-1].Amount, e.order.Amount)
			levels[n-1].Orders++
			return true
		}
		levels = append(levels, PriceLevel{
			Price:  e.order.Price.Clone(),
			Amount: e.order.Amount.Clone(),
			Orders: 1,
		})
		return true
	})
	return levels
}

func (s *side) best() (*uint256.Int, bool) {
	e, ok := s.tree.Min()
	if !ok {
		return nil, false
	}
	return e.order.Price.Clone(), true
}

// OrderBook holds the open orders of one symbol.
type OrderBook struct {
	symbol types.Symbol

	mu   sync.RWMutex
	bids *side
	asks *side
}

func NewOrderBook(symbol types.Symbol) *OrderBook {
	return &OrderBook{
		symbol: symbol,
		bids:   newSide(bidLess),
		asks:   newSide(askLess),
	}
}

func (ob *OrderBook) Symbol() types.Symbol { return ob.symbol }

// Insert places o on its side. O(log n).
func (ob *OrderBook) Insert(o types.Order) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	if o.Side == types.Buy {
		ob.bids.insert(o.Clone())
	} else {
		ob.asks.insert(o.Clone())
	}
}

// Orders returns a copy of one side in matching order.
func (ob *OrderBook) Orders(s types.Side) []types.Order {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.sideLocked(s).snapshot()
}

func (ob *OrderBook) Bids() []types.Order { return ob.Orders(types.Buy) }
func (ob *OrderBook) Asks() []types.Order { return ob.Orders(types.Sell) }

// BidLevels returns bids aggregated by price, best first.
func (ob *OrderBook) BidLevels() []PriceLevel {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.bids.levels()
}

// AskLevels returns asks aggregated by price, best first.
func (ob *OrderBook) AskLevels() []PriceLevel {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.asks.levels()
}

func (ob *OrderBook) BestBid() (*uint256.Int, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.bids.best()
}

func (ob *OrderBook) BestAsk() (*uint256.Int, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.asks.best()
}

// Len returns the number of resting orders on a side.
func (ob *OrderBook) Len(s types.Side) int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.sideLocked(s).tree.Len()
}

func (ob *OrderBook) sideLocked(s types.Side) *side {
	if s == types.Buy {
		return ob.bids
	}
	return ob.asks
}

// Books keeps one OrderBook per symbol, created on first insert.
type Books struct {
	mu    sync.RWMutex
	books map[types.Symbol]*OrderBook
}

func NewBooks() *Books {
	return &Books{books: make(map[types.Symbol]*OrderBook)}
}

// Insert adds o to the book for o.Symbol and returns that book.
func (b *Books) Insert(o types.Order) *OrderBook {
	b.mu.Lock()
	ob, ok := b.books[o.Symbol]
	if !ok {
		ob = NewOrderBook(o.Symbol)
		b.books[o.Symbol] = ob
	}
	b.mu.Unlock()

	ob.Insert(o)
	return ob
}

// Query returns one side of a symbol's book in matching order. Unknown
// symbols yield an empty slice.
func (b *Books) Query(symbol types.Symbol, s types.Side) []types.Order {
	ob := b.Book(symbol)
	if ob == nil {
		return []types.Order{}
	}
	return ob.Orders(s)
}

// Book returns the book for symbol or nil.
func (b *Books) Book(symbol types.Symbol) *OrderBook {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.books[symbol]
}

// Symbols lists symbols that have a book, sorted.
func (b *Books) Symbols() []types.Symbol {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]types.Symbol, 0, len(b.books))
	for sym := range b.books {
		out = append(out, sym)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
