package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFor(t *testing.T) {
	cfg := DefaultConfig()

	var counter int64
	n := 1000

	For(n, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, cfg)

	if counter != int64(n) {
		t.Errorf("Expected %d, got %d", n, counter)
	}
}

func TestFor_EveryIndexOnce(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 7, MinChunkSize: 3}
	n := 501
	hits := make([]int32, n)

	For(n, func(i int) {
		atomic.AddInt32(&hits[i], 1)
	}, cfg)

	for i, h := range hits {
		if h != 1 {
			t.Fatalf("index %d visited %d times", i, h)
		}
	}
}

func TestFor_Sequential(t *testing.T) {
	var order []int
	For(100, func(i int) {
		order = append(order, i)
	}, Sequential())

	require.Len(t, order, 100)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestFor_SmallChunk(t *testing.T) {
	// Test that small work units fall back to sequential.
	cfg := DefaultConfig()

	var counter int64
	n := cfg.MinChunkSize - 1

	For(n, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, cfg)

	if counter != int64(n) {
		t.Errorf("Expected %d, got %d", n, counter)
	}
}

func TestGroup(t *testing.T) {
	var counter int64
	err := Group(context.Background(), 40, func(_ context.Context, _ int) error {
		atomic.AddInt64(&counter, 1)
		return nil
	}, Config{Enabled: true, NumWorkers: 4})

	require.NoError(t, err)
	assert.Equal(t, int64(40), counter)
}

func TestGroup_FirstErrorWins(t *testing.T) {
	boom := errors.New("boom")
	err := Group(context.Background(), 10, func(_ context.Context, i int) error {
		if i == 3 {
			return boom
		}
		return nil
	}, Sequential())

	assert.ErrorIs(t, err, boom)
}

func TestGroup_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var counter int64
	err := Group(ctx, 10, func(_ context.Context, _ int) error {
		atomic.AddInt64(&counter, 1)
		return nil
	}, DefaultConfig())

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, counter)
}

func BenchmarkFor(b *testing.B) {
	cfg := DefaultConfig()
	n := 10000

	b.Run("parallel", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			var sum int64
			For(n, func(i int) {
				atomic.AddInt64(&sum, int64(i))
			}, cfg)
		}
	})

	b.Run("sequential", func(b *testing.B) {
		cfgSeq := cfg
		cfgSeq.Enabled = false
		for i := 0; i < b.N; i++ {
			var sum int64
			For(n, func(i int) {
				atomic.AddInt64(&sum, int64(i))
			}, cfgSeq)
		}
	})
}
