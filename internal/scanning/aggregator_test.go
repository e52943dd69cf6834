package scanning

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregatorRecordIsIdempotent(t *testing.T) {
	agg := NewAggregator()

	assert.True(t, agg.Record(80))
	assert.False(t, agg.Record(80))
	assert.False(t, agg.Record(80))
	assert.True(t, agg.Record(22))

	assert.Equal(t, 2, agg.Len())
	assert.Equal(t, []uint16{22, 80}, agg.Snapshot())
}

func TestAggregatorSnapshotIsSortedCopy(t *testing.T) {
	agg := NewAggregator()
	for _, port := range []uint16{443, 22, 8080, 80} {
		agg.Record(port)
	}

	snap := agg.Snapshot()
	assert.Equal(t, []uint16{22, 80, 443, 8080}, snap)

	snap[0] = 1
	assert.Equal(t, []uint16{22, 80, 443, 8080}, agg.Snapshot(), "snapshot must not alias internal state")
}

func TestAggregatorEmpty(t *testing.T) {
	agg := NewAggregator()
	assert.Equal(t, 0, agg.Len())
	assert.NotNil(t, agg.Snapshot())
	assert.Empty(t, agg.Snapshot())
}

func TestAggregatorConcurrentRecord(t *testing.T) {
	agg := NewAggregator()

	const writers = 8
	var wg sync.WaitGroup
	newCount := make([]int, writers)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for port := 1; port <= 500; port++ {
				if agg.Record(uint16(port)) {
					newCount[w]++
				}
				_ = agg.Len()
			}
		}(w)
	}

	// Readers run alongside writers.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = agg.Snapshot()
		}
	}()

	wg.Wait()

	total := 0
	for _, n := range newCount {
		total += n
	}
	assert.Equal(t, 500, total, "each port is reported new exactly once")
	assert.Equal(t, 500, agg.Len())
}
