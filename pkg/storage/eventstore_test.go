package storage

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/dexcore/pkg/app/core/types"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func TestEventStoreAppendAndRange(t *testing.T) {
	s, err := OpenEventStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	for i := uint64(1); i <= 12; i++ {
		acct := alice
		if i%3 == 0 {
			acct = bob
		}
		require.NoError(t, s.Publish(ctx, types.Event{Seq: i, Kind: types.EventDepositEth, Account: acct.Hex(), Amount: "1"}))
	}
	assert.Equal(t, uint64(12), s.LastSeq())

	got, err := s.Range(5, 4)
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i, ev := range got {
		assert.Equal(t, uint64(5+i), ev.Seq)
	}

	all, err := s.Range(0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 12)

	// zero padding keeps 10..12 after 9
	tail, err := s.Range(9, 0)
	require.NoError(t, err)
	require.Len(t, tail, 4)
	assert.Equal(t, uint64(9), tail[0].Seq)
	assert.Equal(t, uint64(12), tail[3].Seq)

	bobs, err := s.ByAccount(bob, 4, 10)
	require.NoError(t, err)
	require.Len(t, bobs, 3)
	assert.Equal(t, []uint64{6, 9, 12}, []uint64{bobs[0].Seq, bobs[1].Seq, bobs[2].Seq})
}

func TestEventStoreRejectsOutOfOrder(t *testing.T) {
	s, err := OpenEventStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Publish(ctx, types.Event{Seq: 2, Kind: types.EventDeposit}))
	require.ErrorIs(t, s.Publish(ctx, types.Event{Seq: 2, Kind: types.EventDeposit}), ErrOutOfOrder)
	require.ErrorIs(t, s.Publish(ctx, types.Event{Seq: 1, Kind: types.EventDeposit}), ErrOutOfOrder)
}

func TestEventStoreRecoversLastSeq(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenEventStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Publish(context.Background(), types.Event{Seq: 41, Kind: types.EventOrderCreated, OrderID: 7}))
	require.NoError(t, s.Close())

	s, err = OpenEventStore(dir)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, uint64(41), s.LastSeq())

	ev, ok, err := s.Get(41)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(7), ev.OrderID)

	_, ok, err = s.Get(40)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSeqFromKey(t *testing.T) {
	seq, err := seqFromKey(eventKey(123))
	require.NoError(t, err)
	assert.Equal(t, uint64(123), seq)

	seq, err = seqFromKey(accountEventKey(alice, 9))
	require.NoError(t, err)
	assert.Equal(t, uint64(9), seq)

	_, err = seqFromKey([]byte("ev:"))
	assert.Error(t, err)
}

func TestEventStoreClaimedSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenEventStore(dir)
	require.NoError(t, err)

	hash := common.HexToHash("0x5eed")
	ctx := context.Background()
	require.NoError(t, s.Publish(ctx, types.Event{Seq: 1, Kind: types.EventDepositEth, Account: alice.Hex(), Amount: "1"}))
	require.NoError(t, s.Publish(ctx, types.Event{Seq: 2, Kind: types.EventDepositEth, Account: bob.Hex(), Amount: "7", TxHash: hash.Hex()}))
	require.NoError(t, s.Close())

	s, err = OpenEventStore(dir)
	require.NoError(t, err)
	defer s.Close()

	claimed, err := s.Claimed()
	require.NoError(t, err)
	assert.Equal(t, []common.Hash{hash}, claimed)

	all, err := s.Range(0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
