package p2p

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/dexcore/pkg/app/core/types"
)

func TestEventWireRoundTrip(t *testing.T) {
	in := EventWire{Origin: "12D3KooW", Event: types.Event{Seq: 4, Kind: types.EventOrderCreated, OrderID: 9, Price: "30"}}
	data, err := gobEncode(in)
	require.NoError(t, err)

	var out EventWire
	require.NoError(t, gobDecode(data, &out))
	assert.Equal(t, in, out)
}

func TestGossipDeliversToPeer(t *testing.T) {
	if testing.Short() {
		t.Skip("opens local libp2p hosts")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	a, err := NewGossip(ctx, GossipConfig{ListenAddr: "/ip4/127.0.0.1/tcp/0"})
	require.NoError(t, err)
	defer a.Close()

	b, err := NewGossip(ctx, GossipConfig{ListenAddr: "/ip4/127.0.0.1/tcp/0", Bootstrap: a.Addrs()})
	require.NoError(t, err)
	defer b.Close()

	var mu sync.Mutex
	var got []types.Event
	b.OnEvent(func(_ context.Context, origin string, ev types.Event) {
		assert.Equal(t, a.Host().ID().String(), origin)
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	// the gossipsub mesh needs a heartbeat or two before delivery starts
	seq := uint64(0)
	require.Eventually(t, func() bool {
		seq++
		_ = a.Publish(ctx, types.Event{Seq: seq, Kind: types.EventDepositEth, Amount: "1"})
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 15*time.Second, 250*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, types.EventDepositEth, got[0].Kind)
}
