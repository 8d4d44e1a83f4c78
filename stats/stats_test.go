package stats

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForSchemeSharesOneRecord(t *testing.T) {
	reg := NewRegistry()

	a := reg.ForScheme("mem")
	b := reg.ForScheme("mem")
	require.Same(t, a, b)

	a.AddBytesRead(10)
	assert.Equal(t, int64(10), b.BytesRead())

	other := reg.ForScheme("file")
	assert.NotSame(t, a, other)
	assert.Equal(t, int64(0), other.BytesRead())
}

func TestConcurrentIncrements(t *testing.T) {
	reg := NewRegistry()

	const goroutines = 16
	const perGoroutine = 1000

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := reg.ForScheme("mem")
			for j := 0; j < perGoroutine; j++ {
				c.AddBytesRead(1)
				c.AddBytesWritten(2)
				c.IncReadOps()
				c.IncWriteOps()
			}
		}()
	}
	wg.Wait()

	c := reg.ForScheme("mem")
	assert.Equal(t, int64(goroutines*perGoroutine), c.BytesRead())
	assert.Equal(t, int64(2*goroutines*perGoroutine), c.BytesWritten())
	assert.Equal(t, int64(goroutines*perGoroutine), c.ReadOps())
	assert.Equal(t, int64(goroutines*perGoroutine), c.WriteOps())
}

func TestReadOpsIncludesLargeReads(t *testing.T) {
	reg := NewRegistry()
	c := reg.ForScheme("s3")

	c.IncReadOps()
	c.IncReadOps()
	c.AddLargeReadOps(3)

	assert.Equal(t, int64(5), c.ReadOps())
	assert.Equal(t, int64(3), c.LargeReadOps())
}

// ResetAll clears byte counters but leaves op counters running.
func TestResetAllZeroesOnlyByteCounters(t *testing.T) {
	reg := NewRegistry()

	mem := reg.ForScheme("mem")
	file := reg.ForScheme("file")
	for _, c := range []*Counters{mem, file} {
		c.AddBytesRead(100)
		c.AddBytesWritten(200)
		c.IncReadOps()
		c.IncWriteOps()
	}

	reg.ResetAll()

	for _, c := range []*Counters{mem, file} {
		assert.Equal(t, int64(0), c.BytesRead())
		assert.Equal(t, int64(0), c.BytesWritten())
		assert.Equal(t, int64(1), c.ReadOps())
		assert.Equal(t, int64(1), c.WriteOps())
	}
}

func TestSnapshotOrdering(t *testing.T) {
	reg := NewRegistry()
	reg.ForScheme("s3").AddBytesRead(1)
	reg.ForScheme("file").AddBytesRead(2)
	reg.ForScheme("mem").AddBytesRead(3)

	snaps := reg.Snapshot()
	require.Len(t, snaps, 3)
	assert.Equal(t, "file", snaps[0].Scheme)
	assert.Equal(t, "mem", snaps[1].Scheme)
	assert.Equal(t, "s3", snaps[2].Scheme)
}
