package debt

import (
	"context"
	"sync"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/mantlenetworkio/teleport/op-teleport/teleport/store"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

var (
	domA = types.MustDomain("L1")
	domB = types.MustDomain("L2-B")
)

func newLedger(t *testing.T, s *store.Store) *Ledger {
	l, err := Load(context.Background(), s.Table("debt"))
	require.NoError(t, err)
	return l
}

func TestLedgerAddTake(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, store.NewMemory())

	_, err := l.Take(ctx, domA)
	require.ErrorIs(t, err, types.ErrNothingToFlush)

	_, err = l.Add(ctx, domA, uint256.NewInt(100))
	require.NoError(t, err)
	total, err := l.Add(ctx, domA, uint256.NewInt(50))
	require.NoError(t, err)
	require.Equal(t, uint64(150), total.Uint64())
	require.True(t, l.Get(domB).IsZero())

	taken, err := l.Take(ctx, domA)
	require.NoError(t, err)
	require.Equal(t, uint64(150), taken.Uint64())
	require.True(t, l.Get(domA).IsZero())
	require.Empty(t, l.Snapshot())
}

func TestLedgerNeverNegative(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, store.NewMemory())
	_, err := l.Add(ctx, domA, uint256.NewInt(10))
	require.NoError(t, err)

	_, err = l.Sub(ctx, domA, uint256.NewInt(11))
	require.ErrorIs(t, err, types.ErrDebtUnderflow)
	require.Equal(t, uint64(10), l.Get(domA).Uint64())

	taken, err := l.SubUpTo(ctx, domA, uint256.NewInt(25))
	require.NoError(t, err)
	require.Equal(t, uint64(10), taken.Uint64())
	require.True(t, l.Get(domA).IsZero())
}

func TestLedgerConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, store.NewMemory())
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Add(ctx, domA, uint256.NewInt(3))
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, uint64(300), l.Get(domA).Uint64())
}

func TestLedgerReload(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	l := newLedger(t, s)
	_, err := l.Add(ctx, domB, uint256.NewInt(77))
	require.NoError(t, err)

	reloaded := newLedger(t, s)
	require.Equal(t, uint64(77), reloaded.Get(domB).Uint64())
}
