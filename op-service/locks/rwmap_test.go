package locks

import (
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRWMap(t *testing.T) {
	m := &RWMap[uint64, int64]{}

	v, ok := m.Get(123)
	require.False(t, ok)
	require.Equal(t, int64(0), v)

	m.Set(123, 42)
	v, ok = m.Get(123)
	require.True(t, ok)
	require.Equal(t, int64(42), v)

	m.Set(10, 100)
	got := make(map[uint64]int64)
	m.Range(func(key uint64, value int64) bool {
		got[key] = value
		return true
	})
	require.Equal(t, map[uint64]int64{10: 100, 123: 42}, got)

	clear(got)
	m.Range(func(key uint64, value int64) bool {
		got[key] = value
		return false
	})
	require.Len(t, got, 1, "stop early")

	require.True(t, m.Has(10))
	m.Delete(10)
	require.False(t, m.Has(10))
	m.Delete(132983213)

	require.False(t, m.CreateIfMissing(123, func() int64 {
		t.Fatal("should not replace existing value")
		return 0
	}))
	require.True(t, m.CreateIfMissing(10002, func() int64 { return 7 }))

	keys := m.Keys()
	slices.Sort(keys)
	require.Equal(t, []uint64{123, 10002}, keys)
	require.Equal(t, 2, m.Len())
}

func TestRWMapUpdate(t *testing.T) {
	m := &RWMap[string, int]{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Update("counter", func(cur int, ok bool) int {
				return cur + 1
			})
		}()
	}
	wg.Wait()
	v, ok := m.Get("counter")
	require.True(t, ok)
	require.Equal(t, 50, v)
}
