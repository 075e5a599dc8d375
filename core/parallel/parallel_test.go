package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/scigbm/pkg/errors"
)

func TestParallelizeCoversAllItems(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		items   int
	}{
		{"single worker", 1, 10},
		{"more workers than items", 16, 3},
		{"uneven chunks", 3, 100},
		{"cpu default", 0, 1000},
		{"empty", 4, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen := make([]int32, tt.items)
			Parallelize(tt.workers, tt.items, func(start, end int) {
				for i := start; i < end; i++ {
					atomic.AddInt32(&seen[i], 1)
				}
			})
			for i, c := range seen {
				assert.Equal(t, int32(1), c, "item %d", i)
			}
		})
	}
}

func TestParallelizeWithThreshold(t *testing.T) {
	var calls int32
	ParallelizeWithThreshold(8, 10, 100, func(start, end int) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, 0, start)
		assert.Equal(t, 10, end)
	})
	assert.Equal(t, int32(1), calls)
}

func TestForEach(t *testing.T) {
	var sum int64
	err := ForEach(4, 100, func(i int) error {
		atomic.AddInt64(&sum, int64(i))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4950), sum)

	err = ForEach(4, 50, func(i int) error {
		if i == 17 {
			return errors.NewEngineError("ForEach", "failed item", nil)
		}
		return nil
	})
	assert.True(t, errors.IsEngine(err))

	err = ForEach(1, 5, func(i int) error {
		if i == 2 {
			return errors.New("stop")
		}
		return nil
	})
	assert.EqualError(t, err, "stop")
}
