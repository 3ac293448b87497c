package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFor_VisitsEachIndexOnce(t *testing.T) {
	for _, cfg := range []Config{
		{Workers: 4, MinRows: 8},
		{Workers: 3, MinRows: 1},
		{Workers: 64, MinRows: 0},
		Sequential(),
	} {
		seen := make([]int32, 1000)
		For(len(seen), func(i int) {
			atomic.AddInt32(&seen[i], 1)
		}, cfg)
		for i, v := range seen {
			assert.Equal(t, int32(1), v, "%+v: index %d visited %d times", cfg, i, v)
		}
	}
}

func TestFor_SequentialKeepsOrder(t *testing.T) {
	var order []int
	For(5, func(i int) {
		order = append(order, i)
	}, Sequential())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)

	// Below MinRows the range is not split either.
	order = order[:0]
	For(5, func(i int) {
		order = append(order, i)
	}, Config{Workers: 8, MinRows: 6})
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestFor_Empty(t *testing.T) {
	called := false
	For(0, func(int) { called = true }, DefaultConfig())
	assert.False(t, called)
}

func TestConfig_Share(t *testing.T) {
	assert.Equal(t, 100, Config{Workers: 4, MinRows: 200}.share(100))
	assert.Equal(t, 25, Config{Workers: 4, MinRows: 10}.share(100))
	assert.Equal(t, 40, Config{Workers: 4, MinRows: 40}.share(100))
	assert.Equal(t, 7, Sequential().share(7))
}

func TestForBatch(t *testing.T) {
	cfg := Config{Workers: 3, MinRows: 2}
	batch, rows := 4, 5

	var hits [4][5]int32
	ForBatch(batch, rows, func(b, r int) {
		atomic.AddInt32(&hits[b][r], 1)
	}, cfg)

	for b := range batch {
		for r := range rows {
			assert.Equal(t, int32(1), hits[b][r], "cell [%d][%d]", b, r)
		}
	}
}

func BenchmarkFor(b *testing.B) {
	const n = 10000
	for name, cfg := range map[string]Config{"parallel": DefaultConfig(), "sequential": Sequential()} {
		b.Run(name, func(b *testing.B) {
			for b.Loop() {
				var sum int64
				For(n, func(i int) {
					atomic.AddInt64(&sum, int64(i))
				}, cfg)
			}
		})
	}
}
