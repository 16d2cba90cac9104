package orderbook

import (
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/dexcore/pkg/app/core/types"
)

var (
	link   = types.MustSymbol("LINK")
	trader = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func order(id uint64, s types.Side, amount, price uint64) types.Order {
	return types.Order{
		ID:     id,
		Trader: trader,
		Side:   s,
		Symbol: link,
		Amount: uint256.NewInt(amount),
		Price:  uint256.NewInt(price),
	}
}

func prices(orders []types.Order) []uint64 {
	out := make([]uint64, len(orders))
	for i, o := range orders {
		out[i] = o.Price.Uint64()
	}
	return out
}

func ids(orders []types.Order) []uint64 {
	out := make([]uint64, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}

func TestBuySideOrdering(t *testing.T) {
	b := NewBooks()
	b.Insert(order(1, types.Buy, 20, 30))
	b.Insert(order(2, types.Buy, 20, 15))
	b.Insert(order(3, types.Buy, 20, 20))

	assert.Equal(t, []uint64{30, 20, 15}, prices(b.Query(link, types.Buy)))
	assert.Empty(t, b.Query(link, types.Sell))
}

func TestSellSideOrdering(t *testing.T) {
	b := NewBooks()
	b.Insert(order(1, types.Sell, 20, 30))
	b.Insert(order(2, types.Sell, 20, 15))
	b.Insert(order(3, types.Sell, 20, 20))

	assert.Equal(t, []uint64{15, 20, 30}, prices(b.Query(link, types.Sell)))
}

func TestEqualPricesKeepArrivalOrder(t *testing.T) {
	b := NewBooks()
	b.Insert(order(1, types.Buy, 1, 10))
	b.Insert(order(2, types.Buy, 1, 12))
	b.Insert(order(3, types.Buy, 1, 10))
	b.Insert(order(4, types.Buy, 1, 10))

	assert.Equal(t, []uint64{2, 1, 3, 4}, ids(b.Query(link, types.Buy)))

	b.Insert(order(5, types.Sell, 1, 7))
	b.Insert(order(6, types.Sell, 1, 7))
	b.Insert(order(7, types.Sell, 1, 5))
	assert.Equal(t, []uint64{7, 5, 6}, ids(b.Query(link, types.Sell)))
}

func TestRandomInsertKeepsInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	b := NewBooks()
	for i := uint64(1); i <= 500; i++ {
		s := types.Side(rng.Intn(2))
		b.Insert(order(i, s, 1, uint64(rng.Intn(50)+1)))
	}

	bids := b.Query(link, types.Buy)
	for i := 1; i < len(bids); i++ {
		require.False(t, bids[i].Price.Gt(bids[i-1].Price), "bid %d above bid %d", i, i-1)
		if bids[i].Price.Eq(bids[i-1].Price) {
			require.Greater(t, bids[i].ID, bids[i-1].ID)
		}
	}
	asks := b.Query(link, types.Sell)
	for i := 1; i < len(asks); i++ {
		require.False(t, asks[i].Price.Lt(asks[i-1].Price), "ask %d below ask %d", i, i-1)
		if asks[i].Price.Eq(asks[i-1].Price) {
			require.Greater(t, asks[i].ID, asks[i-1].ID)
		}
	}
	assert.Equal(t, 500, len(bids)+len(asks))
}

func TestQueryUnknownSymbol(t *testing.T) {
	b := NewBooks()
	got := b.Query(types.MustSymbol("DOGE"), types.Buy)
	require.NotNil(t, got)
	assert.Empty(t, got)
	assert.Nil(t, b.Book(types.MustSymbol("DOGE")))
}

func TestQueryReturnsSnapshot(t *testing.T) {
	b := NewBooks()
	b.Insert(order(1, types.Sell, 5, 10))

	snap := b.Query(link, types.Sell)
	snap[0].Price.SetUint64(1)
	b.Insert(order(2, types.Sell, 5, 3))

	assert.Len(t, snap, 1)
	assert.Equal(t, []uint64{3, 10}, prices(b.Query(link, types.Sell)))
}

func TestLevelsAndBest(t *testing.T) {
	ob := NewOrderBook(link)
	_, ok := ob.BestBid()
	assert.False(t, ok)

	ob.Insert(order(1, types.Buy, 2, 10))
	ob.Insert(order(2, types.Buy, 3, 10))
	ob.Insert(order(3, types.Buy, 1, 12))
	ob.Insert(order(4, types.Sell, 4, 15))

	levels := ob.BidLevels()
	require.Len(t, levels, 2)
	assert.Equal(t, uint64(12), levels[0].Price.Uint64())
	assert.Equal(t, uint64(10), levels[1].Price.Uint64())
	assert.Equal(t, uint64(5), levels[1].Amount.Uint64())
	assert.Equal(t, 2, levels[1].Orders)

	bid, ok := ob.BestBid()
	require.True(t, ok)
	assert.Equal(t, uint64(12), bid.Uint64())
	ask, ok := ob.BestAsk()
	require.True(t, ok)
	assert.Equal(t, uint64(15), ask.Uint64())

	assert.Equal(t, 3, ob.Len(types.Buy))
	assert.Equal(t, 1, ob.Len(types.Sell))
	assert.Len(t, ob.AskLevels(), 1)
}

func TestSymbols(t *testing.T) {
	b := NewBooks()
	b.Insert(types.Order{ID: 1, Side: types.Buy, Symbol: types.MustSymbol("USDC"), Amount: uint256.NewInt(1), Price: uint256.NewInt(1)})
	b.Insert(order(2, types.Buy, 1, 1))
	syms := b.Symbols()
	require.Len(t, syms, 2)
	assert.Equal(t, "LINK", syms[0].String())
	assert.Equal(t, "USDC", syms[1].String())
}
