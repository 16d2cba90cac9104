package orderbook

import (
	"testing"

	"github.com/uhyunpark/dexcore/pkg/app/core/types"
)

// prefilled returns a book with 100 price levels on each side.
func prefilled() *OrderBook {
	ob := NewOrderBook(link)
	for i := uint64(0); i < 100; i++ {
		ob.Insert(order(2*i+1, types.Buy, 100, 1000-i))
		ob.Insert(order(2*i+2, types.Sell, 100, 1100+i))
	}
	return ob
}

// BenchmarkInsert measures resting-order insertion into a deep book
func BenchmarkInsert(b *testing.B) {
	ob := prefilled()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		side := types.Buy
		if i%2 == 0 {
			side = types.Sell
		}
		ob.Insert(order(uint64(1000+i), side, 10, 1050))
	}
}

func BenchmarkOrdersSnapshot(b *testing.B) {
	ob := prefilled()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ob.Orders(types.Buy)
	}
}

func BenchmarkBidLevels(b *testing.B) {
	ob := prefilled()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ob.BidLevels()
	}
}
