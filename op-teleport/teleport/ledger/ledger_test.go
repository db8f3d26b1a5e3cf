package ledger

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/mantlenetworkio/teleport/op-service/testlog"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/store"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

var (
	owner = common.Address{0xaa}
	alice = common.Address{0x01}
	bob   = common.Address{0x02}
)

func TestTokenMintBurn(t *testing.T) {
	tok := NewToken(testlog.Logger(t, log.LevelDebug), "TKN", owner)

	require.ErrorIs(t, tok.Mint(alice, alice, uint256.NewInt(1)), types.ErrNotAuthorized)
	require.NoError(t, tok.Mint(owner, alice, uint256.NewInt(100)))
	require.Equal(t, uint64(100), tok.TotalSupply().Uint64())

	require.NoError(t, tok.Burn(alice, alice, uint256.NewInt(40)))
	require.Equal(t, uint64(60), tok.BalanceOf(alice).Uint64())
	require.Equal(t, uint64(60), tok.TotalSupply().Uint64())

	require.ErrorIs(t, tok.Burn(alice, alice, uint256.NewInt(61)), types.ErrInsufficientBalance)
}

func TestTokenAllowance(t *testing.T) {
	tok := NewToken(testlog.Logger(t, log.LevelDebug), "TKN", owner)
	require.NoError(t, tok.Mint(owner, alice, uint256.NewInt(100)))

	// balance is checked before allowance
	require.ErrorIs(t, tok.Burn(bob, alice, uint256.NewInt(101)), types.ErrInsufficientBalance)
	require.ErrorIs(t, tok.Burn(bob, alice, uint256.NewInt(10)), types.ErrInsufficientAllowance)

	require.NoError(t, tok.Approve(alice, bob, uint256.NewInt(30)))
	require.NoError(t, tok.Burn(bob, alice, uint256.NewInt(10)))
	require.Equal(t, uint64(20), tok.Allowance(alice, bob).Uint64())

	require.ErrorIs(t, tok.TransferFrom(bob, alice, bob, uint256.NewInt(21)), types.ErrInsufficientAllowance)
	require.Equal(t, uint64(90), tok.BalanceOf(alice).Uint64(), "failed transfer leaves no trace")

	require.NoError(t, tok.Approve(alice, bob, MaxAllowance))
	require.NoError(t, tok.TransferFrom(bob, alice, bob, uint256.NewInt(50)))
	require.Equal(t, MaxAllowance, tok.Allowance(alice, bob))
	require.Equal(t, uint64(50), tok.BalanceOf(bob).Uint64())
}

func TestEscrowApprove(t *testing.T) {
	tok := NewToken(testlog.Logger(t, log.LevelDebug), "TKN", owner)
	escrow := NewEscrow(common.Address{0xee}, owner)
	require.NoError(t, tok.Mint(owner, escrow.Address(), uint256.NewInt(100)))

	require.ErrorIs(t, escrow.Approve(alice, tok, alice, MaxAllowance), types.ErrNotAuthorized)
	require.NoError(t, escrow.Approve(owner, tok, bob, MaxAllowance))
	require.NoError(t, tok.TransferFrom(bob, escrow.Address(), alice, uint256.NewInt(70)))
	require.Equal(t, uint64(30), escrow.Balance(tok).Uint64())
}

func TestTokenReload(t *testing.T) {
	ctx := context.Background()
	logger := testlog.Logger(t, log.LevelDebug)
	st := store.NewMemory()
	table := st.Table("token").Sub("L1")

	tok, err := LoadToken(ctx, logger, "TKN", owner, table)
	require.NoError(t, err)
	require.NoError(t, tok.Mint(owner, alice, uint256.NewInt(100)))
	require.NoError(t, tok.Approve(alice, bob, uint256.NewInt(30)))
	require.NoError(t, tok.TransferFrom(bob, alice, bob, uint256.NewInt(10)))
	require.NoError(t, tok.Burn(bob, bob, uint256.NewInt(4)))
	// rejected changes are not persisted either
	require.ErrorIs(t, tok.TransferFrom(bob, alice, bob, uint256.NewInt(21)), types.ErrInsufficientAllowance)

	reloaded, err := LoadToken(ctx, logger, "TKN", owner, table)
	require.NoError(t, err)
	require.Equal(t, uint64(96), reloaded.TotalSupply().Uint64())
	require.Equal(t, uint64(90), reloaded.BalanceOf(alice).Uint64())
	require.Equal(t, uint64(6), reloaded.BalanceOf(bob).Uint64())
	require.Equal(t, uint64(20), reloaded.Allowance(alice, bob).Uint64())

	// other domains do not share balances
	other, err := LoadToken(ctx, logger, "TKN", owner, st.Table("token").Sub("L2"))
	require.NoError(t, err)
	require.True(t, other.TotalSupply().IsZero())
}

func TestLoadTokenRejectsUnknownKey(t *testing.T) {
	ctx := context.Background()
	table := store.NewMemory().Table("token")
	require.NoError(t, table.Put(ctx, "nonce", []byte{1}))
	_, err := LoadToken(ctx, testlog.Logger(t, log.LevelDebug), "TKN", owner, table)
	require.ErrorContains(t, err, "invalid TKN token key")
}
