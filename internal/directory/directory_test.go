package directory

import (
	"sync"
	"testing"

	"github.com/anacrolix/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListOrderedByName(t *testing.T) {
	d := New(log.Default)
	d.Upsert(Device{ID: "chromecast-1", Name: "Bedroom", Type: Chromecast, Address: "10.0.0.5", Port: 8009})
	d.Upsert(Device{ID: "dlna-1", Name: "Attic TV", Type: DLNA, Address: "http://10.0.0.9:52235/", Port: 52235})

	got := d.List()
	require.Len(t, got, 2)
	assert.Equal(t, "Attic TV", got[0].Name)
	assert.Equal(t, "Bedroom", got[1].Name)
}

func TestUpsertIdempotent(t *testing.T) {
	d := New(log.Default)
	dev := Device{ID: "dlna-1", Name: "Attic TV", Type: DLNA}
	d.Upsert(dev)
	dev.Name = "Attic TV 2"
	d.Upsert(dev)

	assert.Equal(t, 1, d.Count())
	got, ok := d.Get("dlna-1")
	require.True(t, ok)
	assert.Equal(t, "Attic TV 2", got.Name)
}

func TestClearRemovesAll(t *testing.T) {
	d := New(log.Default)
	d.Upsert(Device{ID: "a", Name: "A"})
	d.Clear()
	assert.Equal(t, 0, d.Count())
	_, ok := d.Get("a")
	assert.False(t, ok)
}

// TestConcurrentUpsertList exercises the linearizability property: any
// list() call must reflect some consistent prefix of upserts, never a
// torn write.
func TestConcurrentUpsertList(t *testing.T) {
	d := New(log.Default)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d.Upsert(Device{ID: string(rune('a' + i%26)), Name: string(rune('a' + i%26))})
		}(i)
	}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.List()
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, d.Count(), 26)
}
