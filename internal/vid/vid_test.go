package vid

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveStableAcrossRepeatedCalls(t *testing.T) {
	r := New()

	a := r.Resolve("id_tag", "TAG1")
	b := r.Resolve("id_tag", "TAG1")
	require.Equal(t, a, b)
	assert.Regexp(t, `^VID:[0-9A-F]{10}$`, a)
}

func TestResolveAdoptsVerbatimVID(t *testing.T) {
	r := New()

	got := r.Resolve("vid", "VID:000000002A")
	assert.Equal(t, "VID:000000002A", got)

	// Re-resolving the same pair returns the same VID, no new counter spent.
	again := r.Resolve("vid", "VID:000000002A")
	assert.Equal(t, got, again)
}

func TestDistinctSourcesAllocateDistinctVIDs(t *testing.T) {
	r := New()

	a := r.Resolve("id_tag", "TAG1")
	b := r.Resolve("mac", "AA:BB:CC:DD:EE:FF")
	assert.NotEqual(t, a, b)
}

func TestMergeRepointsAllPairs(t *testing.T) {
	r := New()

	temp := r.Resolve("temp", "temp:CP_A:1:xyz")
	mac := r.Resolve("mac", "AA:BB:CC:DD:EE:FF")
	permanent := r.Resolve("id_tag", "TAG1")

	r.Merge(temp, permanent)
	r.Merge(mac, permanent)

	assert.Equal(t, permanent, r.Resolve("temp", "temp:CP_A:1:xyz"))
	assert.Equal(t, permanent, r.Resolve("mac", "AA:BB:CC:DD:EE:FF"))
}

func TestMergeIsANoOpWhenEqual(t *testing.T) {
	r := New()
	a := r.Resolve("id_tag", "TAG1")
	r.Merge(a, a)
	assert.Equal(t, a, r.Resolve("id_tag", "TAG1"))
}

func TestMergeIsIdempotent(t *testing.T) {
	r := New()
	temp := r.Resolve("temp", "temp:x")
	permanent := r.Resolve("id_tag", "TAG1")

	r.Merge(temp, permanent)
	r.Merge(temp, permanent) // merging an already-merged temp is a no-op

	assert.Equal(t, permanent, r.Resolve("temp", "temp:x"))
}

func TestTransitiveMergeFollowsChain(t *testing.T) {
	r := New()
	a := r.Resolve("a", "1")
	b := r.Resolve("b", "2")
	c := r.Resolve("c", "3")

	r.Merge(a, b)
	r.Merge(b, c)

	assert.Equal(t, c, r.Resolve("a", "1"))
	assert.Equal(t, c, r.Resolve("b", "2"))
}

func TestConcurrentResolveIsAtomic(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	results := make([]string, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Resolve("id_tag", "SHARED")
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, results[0], got)
	}
}
