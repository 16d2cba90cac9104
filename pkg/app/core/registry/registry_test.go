package registry

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/dexcore/pkg/app/core/types"
	"github.com/uhyunpark/dexcore/pkg/token"
)

var (
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	custody  = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	link     = types.MustSymbol("LINK")
)

func TestRegisterOwnerOnly(t *testing.T) {
	r := New(owner)
	tok := token.NewMemory("LINK", custody)

	err := r.Register(stranger, link, tok)
	require.ErrorIs(t, err, types.ErrUnauthorized)
	assert.False(t, r.IsRegistered(link))
	assert.Equal(t, 0, r.Count())

	require.NoError(t, r.Register(owner, link, tok))
	assert.True(t, r.IsRegistered(link))

	got, err := r.Resolve(link)
	require.NoError(t, err)
	assert.Equal(t, tok.Address(), got.Address())
}

func TestRegisterRejections(t *testing.T) {
	r := New(owner)
	tok := token.NewMemory("LINK", custody)
	require.NoError(t, r.Register(owner, link, tok))

	tests := []struct {
		name    string
		caller  common.Address
		symbol  types.Symbol
		token   types.Token
		wantErr error
	}{
		{"duplicate", owner, link, token.NewMemory("LINK2", custody), types.ErrAlreadyRegistered},
		{"native", owner, types.ETH, tok, types.ErrAlreadyRegistered},
		{"zero symbol", owner, types.Symbol{}, tok, types.ErrInvalidSymbol},
		{"stranger before duplicate", stranger, link, tok, types.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.caller, tt.symbol, tt.token)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	err := r.Register(owner, types.MustSymbol("USDC"), nil)
	require.ErrorIs(t, err, types.ErrInvalidToken)
	assert.Equal(t, "invalid_token", types.Code(err))
	assert.Equal(t, 1, r.Count())
}

func TestTradable(t *testing.T) {
	r := New(owner)
	require.NoError(t, r.Register(owner, link, token.NewMemory("LINK", custody)))

	assert.True(t, r.IsTradable(types.ETH))
	assert.False(t, r.IsRegistered(types.ETH))
	assert.True(t, r.IsTradable(link))
	assert.False(t, r.IsTradable(types.MustSymbol("DOGE")))

	_, err := r.Resolve(types.MustSymbol("DOGE"))
	require.ErrorIs(t, err, types.ErrUnknownToken)
}

func TestListSorted(t *testing.T) {
	r := New(owner)
	for _, s := range []string{"USDC", "AAVE", "LINK"} {
		require.NoError(t, r.Register(owner, types.MustSymbol(s), token.NewMemory(s, custody)))
	}
	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "AAVE", list[0].Symbol.String())
	assert.Equal(t, "LINK", list[1].Symbol.String())
	assert.Equal(t, "USDC", list[2].Symbol.String())
}
