package bufpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetRelease(t *testing.T) {
	p := New()

	h := p.Get(64)
	require.Equal(t, 64, h.Len())
	require.Equal(t, int64(1), p.Outstanding())

	require.True(t, h.Release())
	require.Equal(t, int64(0), p.Outstanding())
	require.Nil(t, h.Bytes())
	require.Equal(t, 0, h.Len())
}

func TestDoubleRelease(t *testing.T) {
	p := New()
	h := p.Get(16)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.Release() {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, wins)
	require.Equal(t, int64(0), p.Outstanding())
}

func TestNilHandle(t *testing.T) {
	var h *Handle
	require.False(t, h.Release())
	require.Nil(t, h.Bytes())
}

func TestReuseGrows(t *testing.T) {
	p := New()
	h := p.Get(4)
	h.Release()

	h = p.Get(1024)
	require.Equal(t, 1024, h.Len())
	h.Release()
}
